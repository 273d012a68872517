package models

import (
	"time"

	"github.com/orderbridge/backend/internal/domain/ingestion"
)

// DeliveryRecordModel is the persistence model for the delivery ledger.
// One row per (source_id, order_id); rows are never deleted by the core.
type DeliveryRecordModel struct {
	SourceID      string                   `gorm:"type:varchar(100);primaryKey"`
	OrderID       string                   `gorm:"type:varchar(64);primaryKey"`
	Status        ingestion.DeliveryStatus `gorm:"type:varchar(20);not null;index:idx_delivery_records_status"`
	AttemptCount  int                      `gorm:"not null;default:0"`
	LastAttemptAt *time.Time
	NextAttemptAt *time.Time `gorm:"index:idx_delivery_records_next_attempt"`
	ClaimedAt     *time.Time
	ERPReference  string    `gorm:"type:varchar(100);column:erp_reference"`
	LastError     string    `gorm:"type:text"`
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (DeliveryRecordModel) TableName() string {
	return "delivery_records"
}

// ToDomain converts the persistence model to a domain DeliveryRecord
func (m *DeliveryRecordModel) ToDomain() *ingestion.DeliveryRecord {
	return &ingestion.DeliveryRecord{
		SourceID:      m.SourceID,
		OrderID:       m.OrderID,
		Status:        m.Status,
		AttemptCount:  m.AttemptCount,
		LastAttemptAt: m.LastAttemptAt,
		NextAttemptAt: m.NextAttemptAt,
		ClaimedAt:     m.ClaimedAt,
		ERPReference:  m.ERPReference,
		LastError:     m.LastError,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

// SourceCursorModel persists REST pagination cursors across restarts
type SourceCursorModel struct {
	SourceID  string    `gorm:"type:varchar(100);primaryKey"`
	Cursor    string    `gorm:"type:text;not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (SourceCursorModel) TableName() string {
	return "source_cursors"
}
