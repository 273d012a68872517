package persistence

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/orderbridge/backend/internal/domain/ingestion"
	"github.com/orderbridge/backend/internal/infrastructure/persistence/models"
)

// GormCursorStore persists REST pagination cursors, implementing CursorStore
type GormCursorStore struct {
	db *gorm.DB
}

// NewGormCursorStore creates a cursor store backed by the given database
func NewGormCursorStore(db *gorm.DB) *GormCursorStore {
	return &GormCursorStore{db: db}
}

// Load returns the stored cursor for a source
func (s *GormCursorStore) Load(ctx context.Context, sourceID string) (string, error) {
	var model models.SourceCursorModel
	if err := s.db.WithContext(ctx).
		Where("source_id = ?", sourceID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ingestion.ErrCursorNotFound
		}
		return "", err
	}
	return model.Cursor, nil
}

// Save stores the cursor for a source, replacing any previous value
func (s *GormCursorStore) Save(ctx context.Context, sourceID, cursor string) error {
	model := models.SourceCursorModel{SourceID: sourceID, Cursor: cursor}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"cursor", "updated_at"}),
	}).Create(&model).Error
}
