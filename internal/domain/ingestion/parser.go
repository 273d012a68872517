package ingestion

import (
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Intermediate Records
// ---------------------------------------------------------------------------

// RecordLine is one unvalidated line item extracted by a parser.
// Numeric sanity (positive quantity, non-negative price, total consistency)
// is checked by the normalizer, not the parser.
type RecordLine struct {
	SKU         string
	Description string
	Quantity    int64
	UnitPrice   decimal.Decimal
	// LineTotal is the extended amount as stated on the wire, when present.
	// The normalizer checks it against Quantity*UnitPrice within tolerance.
	LineTotal *decimal.Decimal
}

// OrderRecord is the structured but unvalidated representation of one order
// extracted from a raw payload.
type OrderRecord struct {
	// ExternalID is the partner-assigned natural key
	ExternalID string
	// OrderDate is the business date string as it appeared on the wire
	// (YYYYMMDD for EDI, RFC 3339 date for JSON); empty when absent
	OrderDate string
	// Currency is the 3-letter currency code; empty means source default
	Currency string

	BuyerName     string
	Phone         string
	Email         string
	Street1       string
	Street2       string
	City          string
	StateProvince string
	PostalCode    string
	Country       string

	// Shipping details, present only when the wire format carries them
	ShippingCarrier string
	ShippingMethod  string
	ShippingCost    decimal.Decimal

	Lines []RecordLine
}

// ParsedRecord pairs one extracted record with its record-scoped parse error.
// Exactly one of Record and Err is meaningful.
type ParsedRecord struct {
	Record *OrderRecord
	// Err is a *MalformedMessageError when the record failed to parse
	Err error
}

// ---------------------------------------------------------------------------
// MessageParser Port
// ---------------------------------------------------------------------------

// MessageParser converts a raw payload into a sequence of order records.
// A batch partially succeeds: a malformed record yields a ParsedRecord with
// Err set while valid records in the same batch proceed. The returned error
// is non-nil only when the payload as a whole is unreadable.
type MessageParser interface {
	// Format returns the wire format this parser handles
	Format() WireFormat

	// Parse extracts order records from raw bytes
	Parse(raw []byte) ([]ParsedRecord, error)
}
