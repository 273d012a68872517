package parser

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/orderbridge/backend/internal/domain/ingestion"
)

// ---------------------------------------------------------------------------
// Wire DTOs
// ---------------------------------------------------------------------------

type jsonOrderEnvelope struct {
	Orders []jsonOrder `json:"orders"`
}

type jsonOrder struct {
	OrderID   string        `json:"order_id"`
	OrderDate string        `json:"order_date"`
	Currency  string        `json:"currency" validate:"omitempty,len=3,alpha"`
	Customer  jsonCustomer  `json:"customer"`
	Shipping  *jsonShipping `json:"shipping"`
	Lines     []jsonLine    `json:"lines" validate:"dive"`
}

type jsonCustomer struct {
	Name    string      `json:"name"`
	Phone   string      `json:"phone"`
	Email   string      `json:"email" validate:"omitempty,email"`
	Address jsonAddress `json:"address"`
}

type jsonAddress struct {
	Street1       string `json:"street1"`
	Street2       string `json:"street2"`
	City          string `json:"city"`
	StateProvince string `json:"state_province"`
	PostalCode    string `json:"postal_code"`
	Country       string `json:"country"`
}

type jsonShipping struct {
	Carrier string          `json:"carrier"`
	Method  string          `json:"method"`
	Cost    decimal.Decimal `json:"cost"`
}

type jsonLine struct {
	SKU         string           `json:"sku"`
	Description string           `json:"description"`
	Quantity    int64            `json:"quantity"`
	UnitPrice   decimal.Decimal  `json:"unit_price"`
	LineTotal   *decimal.Decimal `json:"line_total"`
}

// ---------------------------------------------------------------------------
// JSONParser
// ---------------------------------------------------------------------------

// JSONParser converts partner JSON payloads into order records. It accepts
// either an {"orders": [...]} envelope, a bare array, or a single order
// object, since partners differ on whether list calls return full payloads
// or per-order detail bodies.
//
// Structural problems in one order (bad field types, malformed currency or
// email) fail that record only; semantic checks such as positive quantities
// belong to normalization.
type JSONParser struct {
	validate *validator.Validate
}

// NewJSONParser creates a JSON parser
func NewJSONParser() *JSONParser {
	return &JSONParser{validate: validator.New()}
}

// Format returns the wire format this parser handles
func (p *JSONParser) Format() ingestion.WireFormat {
	return ingestion.WireFormatJSON
}

// Parse extracts order records from a partner JSON body
func (p *JSONParser) Parse(raw []byte) ([]ingestion.ParsedRecord, error) {
	wireOrders, err := decodeOrders(raw)
	if err != nil {
		return nil, &ingestion.MalformedMessageError{Reference: "document", Reason: err.Error()}
	}
	if len(wireOrders) == 0 {
		return nil, &ingestion.MalformedMessageError{Reference: "document", Reason: "payload contains no orders"}
	}

	records := make([]ingestion.ParsedRecord, 0, len(wireOrders))
	for i, wire := range wireOrders {
		if err := p.validate.Struct(wire); err != nil {
			records = append(records, ingestion.ParsedRecord{Err: &ingestion.MalformedMessageError{
				Reference: recordReference(wire.OrderID, i),
				Reason:    fmt.Sprintf("structural validation failed: %v", err),
			}})
			continue
		}
		records = append(records, ingestion.ParsedRecord{Record: toOrderRecord(wire)})
	}
	return records, nil
}

// decodeOrders tolerates the three payload shapes partners actually send
func decodeOrders(raw []byte) ([]jsonOrder, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty JSON payload")
	}

	if trimmed[0] == '[' {
		var orders []jsonOrder
		if err := json.Unmarshal(trimmed, &orders); err != nil {
			return nil, fmt.Errorf("unreadable JSON array: %w", err)
		}
		return orders, nil
	}

	var envelope jsonOrderEnvelope
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, fmt.Errorf("unreadable JSON object: %w", err)
	}
	if envelope.Orders != nil {
		return envelope.Orders, nil
	}

	var single jsonOrder
	if err := json.Unmarshal(trimmed, &single); err != nil {
		return nil, fmt.Errorf("unreadable JSON order: %w", err)
	}
	return []jsonOrder{single}, nil
}

func toOrderRecord(wire jsonOrder) *ingestion.OrderRecord {
	rec := &ingestion.OrderRecord{
		ExternalID:    wire.OrderID,
		OrderDate:     wire.OrderDate,
		Currency:      wire.Currency,
		BuyerName:     wire.Customer.Name,
		Phone:         wire.Customer.Phone,
		Email:         wire.Customer.Email,
		Street1:       wire.Customer.Address.Street1,
		Street2:       wire.Customer.Address.Street2,
		City:          wire.Customer.Address.City,
		StateProvince: wire.Customer.Address.StateProvince,
		PostalCode:    wire.Customer.Address.PostalCode,
		Country:       wire.Customer.Address.Country,
	}
	if wire.Shipping != nil {
		rec.ShippingCarrier = wire.Shipping.Carrier
		rec.ShippingMethod = wire.Shipping.Method
		rec.ShippingCost = wire.Shipping.Cost
	}
	for _, l := range wire.Lines {
		rec.Lines = append(rec.Lines, ingestion.RecordLine{
			SKU:         l.SKU,
			Description: l.Description,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			LineTotal:   l.LineTotal,
		})
	}
	return rec
}

// recordReference names a failing record by order id when present
func recordReference(orderID string, index int) string {
	if orderID != "" {
		return orderID
	}
	return fmt.Sprintf("order %d", index)
}

// ForFormat returns the parser for a wire format
func ForFormat(format ingestion.WireFormat) (ingestion.MessageParser, error) {
	switch format {
	case ingestion.WireFormatEDI:
		return NewEDIParser(), nil
	case ingestion.WireFormatJSON:
		return NewJSONParser(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ingestion.ErrUnsupportedWireKind, format)
	}
}
