package ingestion

import (
	"context"

	"github.com/orderbridge/backend/internal/domain/order"
)

// ---------------------------------------------------------------------------
// Delivery Outcomes
// ---------------------------------------------------------------------------

// OutcomeCode classifies the ERP's response to a submission
type OutcomeCode string

const (
	// OutcomeAccepted means the ERP created the order
	OutcomeAccepted OutcomeCode = "ACCEPTED"
	// OutcomeDuplicate means the ERP recognized the natural key as already
	// submitted. Treated identically to Accepted for the ledger: idempotency
	// is defense in depth across the ledger and the ERP's own dedup.
	OutcomeDuplicate OutcomeCode = "DUPLICATE"
	// OutcomeRejectedPermanently means a business-rule rejection; dead-letter
	OutcomeRejectedPermanently OutcomeCode = "REJECTED_PERMANENTLY"
	// OutcomeTransientFailure means a timeout or 5xx; retry later
	OutcomeTransientFailure OutcomeCode = "TRANSIENT_FAILURE"
)

// IsSuccess returns true when the ledger should converge to Delivered
func (c OutcomeCode) IsSuccess() bool {
	return c == OutcomeAccepted || c == OutcomeDuplicate
}

// DeliveryOutcome is the interpreted result of one ERP submission
type DeliveryOutcome struct {
	Code OutcomeCode
	// ERPReference is the ERP-assigned id, set on Accepted and Duplicate
	ERPReference string
	// Reason carries the rejection or failure detail
	Reason string
}

// ---------------------------------------------------------------------------
// DeliveryClient Port
// ---------------------------------------------------------------------------

// DeliveryClient abstracts the ERP submission call.
// Transport-level failures are classified into the outcome, not returned as
// errors; a non-nil error means the submission could not be attempted at all
// (configuration or authentication problems).
type DeliveryClient interface {
	// Deliver submits a canonical order to the ERP and interprets the result
	Deliver(ctx context.Context, o *order.Order) (DeliveryOutcome, error)
}
