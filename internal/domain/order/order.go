package order

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/orderbridge/backend/internal/domain/shared"
	"github.com/orderbridge/backend/internal/domain/shared/valueobject"
)

// ---------------------------------------------------------------------------
// Order Status
// ---------------------------------------------------------------------------

// Status represents the lifecycle status of a canonical order
type Status string

const (
	// StatusNew indicates the order was normalized but not yet submitted
	StatusNew Status = "NEW"
	// StatusProcessing indicates a delivery attempt is in progress
	StatusProcessing Status = "PROCESSING"
	// StatusCompleted indicates the ERP accepted the order
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates delivery failed terminally
	StatusFailed Status = "FAILED"
)

// IsValid returns true if the status is valid
func (s Status) IsValid() bool {
	switch s {
	case StatusNew, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// String returns the string representation of Status
func (s Status) String() string {
	return string(s)
}

// ---------------------------------------------------------------------------
// Customer
// ---------------------------------------------------------------------------

// Customer holds the buyer identity attached to an order.
// Phone is normalized to E.164 by the normalizer, or empty when the source
// value could not be normalized.
type Customer struct {
	Name    string
	Address valueobject.Address
	Phone   string
	Email   string
}

// ---------------------------------------------------------------------------
// ShippingInfo
// ---------------------------------------------------------------------------

// ShippingInfo carries optional shipping details when the wire format
// provides them.
type ShippingInfo struct {
	Carrier              string
	Method               string
	Cost                 valueobject.Money
	EstimatedShippingDay *time.Time
}

// EstimateShippingDate returns the date that is the given number of working
// days (Mon-Fri) from now.
func EstimateShippingDate(now time.Time, workingDays int) (time.Time, error) {
	if workingDays < 0 {
		return time.Time{}, fmt.Errorf("working days must be non-negative, got %d", workingDays)
	}
	d := now
	for workingDays > 0 {
		d = d.AddDate(0, 0, 1)
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			workingDays--
		}
	}
	return d, nil
}

// ---------------------------------------------------------------------------
// OrderLine
// ---------------------------------------------------------------------------

// Line represents a line item within an order
type Line struct {
	// LineID is an internal identifier assigned at normalization
	LineID uuid.UUID
	// SKU is the product identifier as named by the partner
	SKU string
	// Description is the free-text item description
	Description string
	// Quantity is the ordered quantity (positive)
	Quantity int64
	// UnitPrice is the per-unit price (non-negative)
	UnitPrice valueobject.Money
}

// Total returns the line total (quantity * unit price)
func (l Line) Total() valueobject.Money {
	return l.UnitPrice.MultiplyByInt(l.Quantity)
}

// NewLine creates a line item with a fresh line ID
func NewLine(sku, description string, quantity int64, unitPrice valueobject.Money) (Line, error) {
	if sku == "" {
		return Line{}, fmt.Errorf("line SKU is required")
	}
	if quantity <= 0 {
		return Line{}, fmt.Errorf("line quantity must be positive, got %d", quantity)
	}
	if unitPrice.IsNegative() {
		return Line{}, fmt.Errorf("line unit price cannot be negative")
	}
	return Line{
		LineID:      uuid.New(),
		SKU:         sku,
		Description: description,
		Quantity:    quantity,
		UnitPrice:   unitPrice,
	}, nil
}

// ---------------------------------------------------------------------------
// Order (Aggregate Root)
// ---------------------------------------------------------------------------

// Order is the canonical order entity produced by normalization.
// (SourceID, OrderID) is globally unique; Lines is never empty.
// Orders are transient per cycle - only the delivery record persists.
type Order struct {
	// OrderID is the natural key assigned by the originating partner
	OrderID string
	// SourceID identifies the channel/partner that produced the order
	SourceID string
	// ReceivedAt is the ingestion timestamp
	ReceivedAt time.Time
	// OrderDate is the business date carried by the source document
	OrderDate time.Time
	// Customer is the buyer identity
	Customer Customer
	// Lines is the ordered sequence of line items (non-empty)
	Lines []Line
	// Shipping is optional shipping information from the source
	Shipping *ShippingInfo
	// Status is the lifecycle state
	Status Status
	// RawReference is an opaque pointer to the original file/message for audit
	RawReference string
	// ERPReference is the ERP-assigned id once acknowledged
	ERPReference string
}

// TotalAmount returns the sum of all line totals plus shipping cost
func (o *Order) TotalAmount() (valueobject.Money, error) {
	currency := valueobject.DefaultCurrency
	if len(o.Lines) > 0 {
		currency = o.Lines[0].UnitPrice.Currency()
	}
	total := valueobject.Zero(currency)
	var err error
	for _, line := range o.Lines {
		total, err = total.Add(line.Total())
		if err != nil {
			return valueobject.Money{}, err
		}
	}
	if o.Shipping != nil && !o.Shipping.Cost.IsZero() {
		total, err = total.Add(o.Shipping.Cost)
		if err != nil {
			return valueobject.Money{}, err
		}
	}
	return total, nil
}

// NaturalKey returns the globally unique (source_id, order_id) key string
func (o *Order) NaturalKey() string {
	return o.SourceID + "/" + o.OrderID
}

// MarkProcessing transitions the order to PROCESSING.
// Only a NEW order with at least one line can be processed.
func (o *Order) MarkProcessing() error {
	if o.Status != StatusNew {
		return fmt.Errorf("%w: order cannot be processed from status %s", shared.ErrInvalidState, o.Status)
	}
	if len(o.Lines) == 0 {
		return fmt.Errorf("%w: order cannot be processed without lines", shared.ErrInvalidState)
	}
	o.Status = StatusProcessing
	return nil
}

// MarkCompleted transitions the order to COMPLETED
func (o *Order) MarkCompleted() error {
	if o.Status != StatusProcessing && o.Status != StatusNew {
		return fmt.Errorf("%w: order cannot be completed from status %s", shared.ErrInvalidState, o.Status)
	}
	o.Status = StatusCompleted
	return nil
}

// MarkFailed transitions the order to FAILED regardless of current status
func (o *Order) MarkFailed() {
	o.Status = StatusFailed
}

// AssignERPReference records the ERP-assigned identifier
func (o *Order) AssignERPReference(ref string) error {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return fmt.Errorf("%w: ERP reference cannot be empty", shared.ErrInvalidInput)
	}
	o.ERPReference = ref
	return nil
}

// LineTotalTolerance is the rounding tolerance for line total consistency
// checks (half a cent).
var LineTotalTolerance = decimal.NewFromFloat(0.005)
