package persistence

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/orderbridge/backend/internal/domain/ingestion"
	"github.com/orderbridge/backend/internal/domain/shared"
	"github.com/orderbridge/backend/internal/infrastructure/persistence/models"
)

// defaultStaleClaimAfter is the claim staleness window when none is configured
const defaultStaleClaimAfter = 10 * time.Minute

// GormDeduplicationLedger implements the DeduplicationLedger using GORM.
//
// Claim is built from two single-statement compare-and-sets so that two
// concurrent claimers of the same (source_id, order_id) can never both win:
// an INSERT .. ON CONFLICT DO NOTHING creates the row already claimed, and a
// conditional UPDATE takes over rows that are eligible again (pending, failed
// and due, or claimed past the staleness window). Either exactly one
// statement affects a row, or the final read-only classification explains
// why the claim lost.
type GormDeduplicationLedger struct {
	db              *gorm.DB
	staleClaimAfter time.Duration

	// now is swapped in tests to steer the staleness window
	now func() time.Time
}

// NewGormDeduplicationLedger creates a ledger backed by the given database
func NewGormDeduplicationLedger(db *gorm.DB, staleClaimAfter time.Duration) *GormDeduplicationLedger {
	if staleClaimAfter <= 0 {
		staleClaimAfter = defaultStaleClaimAfter
	}
	return &GormDeduplicationLedger{
		db:              db,
		staleClaimAfter: staleClaimAfter,
		now:             time.Now,
	}
}

// Claim atomically reserves the right to attempt delivery of one order
func (r *GormDeduplicationLedger) Claim(ctx context.Context, sourceID, orderID string) (ingestion.ClaimResult, error) {
	now := r.now()

	// First writer creates the row already claimed
	model := &models.DeliveryRecordModel{
		SourceID:      sourceID,
		OrderID:       orderID,
		Status:        ingestion.DeliveryStatusClaimed,
		AttemptCount:  1,
		LastAttemptAt: &now,
		ClaimedAt:     &now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source_id"}, {Name: "order_id"}},
		DoNothing: true,
	}).Create(model)
	if res.Error != nil {
		return "", res.Error
	}
	if res.RowsAffected == 1 {
		return ingestion.ClaimResultClaimed, nil
	}

	// Row exists: take over only if it is eligible again
	staleBefore := now.Add(-r.staleClaimAfter)
	res = r.db.WithContext(ctx).Model(&models.DeliveryRecordModel{}).
		Where("source_id = ? AND order_id = ?", sourceID, orderID).
		Where(
			r.db.Where("status = ?", ingestion.DeliveryStatusPending).
				Or("status = ? AND next_attempt_at <= ?", ingestion.DeliveryStatusFailed, now).
				Or("status = ? AND claimed_at <= ?", ingestion.DeliveryStatusClaimed, staleBefore),
		).
		Updates(map[string]interface{}{
			"status":          ingestion.DeliveryStatusClaimed,
			"attempt_count":   gorm.Expr("attempt_count + 1"),
			"last_attempt_at": now,
			"claimed_at":      now,
			"next_attempt_at": nil,
			"updated_at":      now,
		})
	if res.Error != nil {
		return "", res.Error
	}
	if res.RowsAffected == 1 {
		return ingestion.ClaimResultClaimed, nil
	}

	// The claim lost; classify from the row's current state
	record, err := r.Get(ctx, sourceID, orderID)
	if err != nil {
		if errors.Is(err, ingestion.ErrRecordNotFound) {
			// Row vanished between statements; records are never deleted by
			// the core, so surface this as a conflict rather than retrying.
			return "", shared.ErrConcurrencyConflict
		}
		return "", err
	}
	switch record.Status {
	case ingestion.DeliveryStatusDelivered:
		return ingestion.ClaimResultAlreadyDelivered, nil
	case ingestion.DeliveryStatusDeadLettered:
		return ingestion.ClaimResultDeadLettered, nil
	default:
		return ingestion.ClaimResultAlreadyInFlight, nil
	}
}

// MarkDelivered finalizes a claimed record after ERP acceptance
func (r *GormDeduplicationLedger) MarkDelivered(ctx context.Context, sourceID, orderID, erpReference string) error {
	return r.transition(ctx, sourceID, orderID,
		[]ingestion.DeliveryStatus{ingestion.DeliveryStatusClaimed},
		map[string]interface{}{
			"status":          ingestion.DeliveryStatusDelivered,
			"erp_reference":   erpReference,
			"last_error":      "",
			"next_attempt_at": nil,
			"claimed_at":      nil,
			"updated_at":      r.now(),
		})
}

// MarkFailed records a retryable failure and its next-eligible time
func (r *GormDeduplicationLedger) MarkFailed(ctx context.Context, sourceID, orderID, attemptError string, nextAttemptAt time.Time) error {
	return r.transition(ctx, sourceID, orderID,
		[]ingestion.DeliveryStatus{ingestion.DeliveryStatusClaimed},
		map[string]interface{}{
			"status":          ingestion.DeliveryStatusFailed,
			"last_error":      attemptError,
			"next_attempt_at": nextAttemptAt,
			"claimed_at":      nil,
			"updated_at":      r.now(),
		})
}

// MarkDeadLettered terminally fails the record
func (r *GormDeduplicationLedger) MarkDeadLettered(ctx context.Context, sourceID, orderID, reason string) error {
	return r.transition(ctx, sourceID, orderID,
		[]ingestion.DeliveryStatus{
			ingestion.DeliveryStatusPending,
			ingestion.DeliveryStatusClaimed,
			ingestion.DeliveryStatusFailed,
		},
		map[string]interface{}{
			"status":          ingestion.DeliveryStatusDeadLettered,
			"last_error":      reason,
			"next_attempt_at": nil,
			"claimed_at":      nil,
			"updated_at":      r.now(),
		})
}

// Release returns a claimed record to immediate retryability
func (r *GormDeduplicationLedger) Release(ctx context.Context, sourceID, orderID string) error {
	return r.transition(ctx, sourceID, orderID,
		[]ingestion.DeliveryStatus{ingestion.DeliveryStatusClaimed},
		map[string]interface{}{
			"status":          ingestion.DeliveryStatusPending,
			"next_attempt_at": nil,
			"claimed_at":      nil,
			"updated_at":      r.now(),
		})
}

// Get returns the record for (sourceID, orderID)
func (r *GormDeduplicationLedger) Get(ctx context.Context, sourceID, orderID string) (*ingestion.DeliveryRecord, error) {
	var model models.DeliveryRecordModel
	if err := r.db.WithContext(ctx).
		Where("source_id = ? AND order_id = ?", sourceID, orderID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ingestion.ErrRecordNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// CountByStatus returns per-status record counts for a source
func (r *GormDeduplicationLedger) CountByStatus(ctx context.Context, sourceID string) (map[ingestion.DeliveryStatus]int64, error) {
	var rows []struct {
		Status ingestion.DeliveryStatus
		Count  int64
	}
	if err := r.db.WithContext(ctx).Model(&models.DeliveryRecordModel{}).
		Select("status, count(*) as count").
		Where("source_id = ?", sourceID).
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	counts := make(map[ingestion.DeliveryStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// transition performs a single-statement compare-and-set from one of the
// allowed statuses. Zero affected rows means either the record is missing or
// another writer moved it first.
func (r *GormDeduplicationLedger) transition(ctx context.Context, sourceID, orderID string, from []ingestion.DeliveryStatus, updates map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&models.DeliveryRecordModel{}).
		Where("source_id = ? AND order_id = ? AND status IN ?", sourceID, orderID, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := r.Get(ctx, sourceID, orderID); err != nil {
			return err
		}
		return shared.ErrConcurrencyConflict
	}
	return nil
}
