package ingestion

import (
	"context"
	"time"
)

// ---------------------------------------------------------------------------
// Delivery Record
// ---------------------------------------------------------------------------

// DeliveryStatus represents the lifecycle state of a delivery record
type DeliveryStatus string

const (
	// DeliveryStatusPending indicates the order was seen but never claimed
	DeliveryStatusPending DeliveryStatus = "PENDING"
	// DeliveryStatusClaimed indicates a delivery attempt is in flight
	DeliveryStatusClaimed DeliveryStatus = "CLAIMED"
	// DeliveryStatusDelivered indicates the ERP accepted the order
	DeliveryStatusDelivered DeliveryStatus = "DELIVERED"
	// DeliveryStatusFailed indicates a retryable failure awaiting its next attempt
	DeliveryStatusFailed DeliveryStatus = "FAILED"
	// DeliveryStatusDeadLettered is terminal failure requiring operator intervention
	DeliveryStatusDeadLettered DeliveryStatus = "DEAD_LETTERED"
)

// IsValid returns true if the status is valid
func (s DeliveryStatus) IsValid() bool {
	switch s {
	case DeliveryStatusPending, DeliveryStatusClaimed, DeliveryStatusDelivered,
		DeliveryStatusFailed, DeliveryStatusDeadLettered:
		return true
	default:
		return false
	}
}

// IsTerminal returns true for states with no further automatic transitions
func (s DeliveryStatus) IsTerminal() bool {
	return s == DeliveryStatusDelivered || s == DeliveryStatusDeadLettered
}

// String returns the string representation of DeliveryStatus
func (s DeliveryStatus) String() string {
	return string(s)
}

// DeliveryRecord is the durable anchor for idempotency: one row per
// (source_id, order_id) once a delivery attempt is made. It outlives a single
// process run and is consulted before every delivery attempt. Records are
// never deleted by the core.
type DeliveryRecord struct {
	SourceID      string
	OrderID       string
	Status        DeliveryStatus
	AttemptCount  int
	LastAttemptAt *time.Time
	// NextAttemptAt is the computed next-eligible-time for FAILED records,
	// making retry state durable and inspectable across restarts
	NextAttemptAt *time.Time
	// ClaimedAt anchors the staleness window for crash recovery
	ClaimedAt    *time.Time
	ERPReference string
	LastError    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ---------------------------------------------------------------------------
// Claim Results
// ---------------------------------------------------------------------------

// ClaimResult is the outcome of an atomic ledger claim
type ClaimResult string

const (
	// ClaimResultClaimed means the caller owns the delivery attempt
	ClaimResultClaimed ClaimResult = "CLAIMED"
	// ClaimResultAlreadyDelivered means the order was delivered before;
	// acknowledge at the source without re-delivery
	ClaimResultAlreadyDelivered ClaimResult = "ALREADY_DELIVERED"
	// ClaimResultAlreadyInFlight means another attempt is presumed active
	// (or a failed record is not yet due); skip the order this cycle
	ClaimResultAlreadyInFlight ClaimResult = "ALREADY_IN_FLIGHT"
	// ClaimResultDeadLettered means the order failed terminally; it is
	// acknowledged at the source but never re-delivered automatically
	ClaimResultDeadLettered ClaimResult = "DEAD_LETTERED"
)

// ---------------------------------------------------------------------------
// DeduplicationLedger Port
// ---------------------------------------------------------------------------

// DeduplicationLedger is the authoritative record of which source-identified
// orders have been delivered, and the atomic claim gate preventing two
// concurrent attempts from double-posting to the ERP.
//
// All mutations are atomic compare-and-set on (source_id, order_id), never a
// read-then-write performed as two operations. A CLAIMED entry older than the
// configured staleness threshold is eligible to be reclaimed by a later cycle
// (covers crash-without-cleanup).
type DeduplicationLedger interface {
	// Claim atomically reserves the right to attempt delivery now.
	// Only ClaimResultClaimed proceeds to delivery.
	Claim(ctx context.Context, sourceID, orderID string) (ClaimResult, error)

	// MarkDelivered finalizes a claimed record after ERP acceptance
	// (or a confirmed-duplicate response)
	MarkDelivered(ctx context.Context, sourceID, orderID, erpReference string) error

	// MarkFailed records a retryable failure and its next-eligible time
	MarkFailed(ctx context.Context, sourceID, orderID, attemptError string, nextAttemptAt time.Time) error

	// MarkDeadLettered terminally fails the record
	MarkDeadLettered(ctx context.Context, sourceID, orderID, reason string) error

	// Release returns a claimed record to immediate retryability.
	// Used on cancellation so recovery never waits for the staleness window.
	Release(ctx context.Context, sourceID, orderID string) error

	// Get returns the record for (sourceID, orderID), or ErrRecordNotFound
	Get(ctx context.Context, sourceID, orderID string) (*DeliveryRecord, error)

	// CountByStatus returns per-status record counts for a source,
	// consumed by the monitoring snapshot
	CountByStatus(ctx context.Context, sourceID string) (map[DeliveryStatus]int64, error)
}
