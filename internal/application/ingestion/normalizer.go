package ingestion

import (
	"fmt"
	"strings"
	"time"

	"github.com/nyaruka/phonenumbers"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/orderbridge/backend/internal/domain/ingestion"
	"github.com/orderbridge/backend/internal/domain/order"
	"github.com/orderbridge/backend/internal/domain/shared/valueobject"
)

// maxNaturalKeyLength bounds the partner-assigned order id
const maxNaturalKeyLength = 64

// NormalizerConfig holds normalization settings
type NormalizerConfig struct {
	// DefaultCurrency applies when the wire record carries no currency
	DefaultCurrency valueobject.Currency
	// DefaultPhoneRegion is the ISO 3166-1 region used to interpret
	// national-format phone numbers, e.g. "DE"
	DefaultPhoneRegion string
	// ShippingLeadDays is the working-day lead time used to estimate the
	// shipping date for orders that carry shipping details
	ShippingLeadDays int
}

// DefaultNormalizerConfig returns the default normalizer configuration
func DefaultNormalizerConfig() NormalizerConfig {
	return NormalizerConfig{
		DefaultCurrency:    valueobject.DefaultCurrency,
		DefaultPhoneRegion: "DE",
		ShippingLeadDays:   3,
	}
}

// OrderNormalizer maps parser output into canonical orders, applying the
// validation rules in a fixed sequence. The first failing rule wins and is
// reported as a ValidationError naming the failing field. A validation
// failure is non-retryable: the source data itself is defective.
type OrderNormalizer struct {
	config NormalizerConfig
	logger *zap.Logger
}

// NewOrderNormalizer creates a normalizer
func NewOrderNormalizer(config NormalizerConfig, logger *zap.Logger) *OrderNormalizer {
	if config.DefaultCurrency == "" {
		config.DefaultCurrency = valueobject.DefaultCurrency
	}
	if config.DefaultPhoneRegion == "" {
		config.DefaultPhoneRegion = "DE"
	}
	if config.ShippingLeadDays <= 0 {
		config.ShippingLeadDays = DefaultNormalizerConfig().ShippingLeadDays
	}
	return &OrderNormalizer{config: config, logger: logger}
}

// Normalize converts a structured record into a canonical order.
// Rules, in order:
//  1. natural key present and well-formed
//  2. at least one line item
//  3. quantities positive, prices non-negative, line totals within tolerance
//  4. phone normalizable to E.164 (non-fatal: cleared with a warning)
//  5. required customer address fields present
func (n *OrderNormalizer) Normalize(sourceID string, rec *ingestion.OrderRecord, receivedAt time.Time, rawReference string) (*order.Order, error) {
	// Rule 1: natural key
	externalID := strings.TrimSpace(rec.ExternalID)
	if externalID == "" {
		return nil, ingestion.NewValidationError("order_id", "natural key is missing")
	}
	if len(externalID) > maxNaturalKeyLength {
		return nil, ingestion.NewValidationError("order_id", fmt.Sprintf("natural key exceeds %d characters", maxNaturalKeyLength))
	}
	if strings.ContainsAny(externalID, " \t\r\n") {
		return nil, ingestion.NewValidationError("order_id", "natural key contains whitespace")
	}

	// Rule 2: at least one line
	if len(rec.Lines) == 0 {
		return nil, ingestion.NewValidationError("lines", "order has no line items")
	}

	// Rule 3: numeric sanity per line
	currency := n.resolveCurrency(rec.Currency)
	lines := make([]order.Line, 0, len(rec.Lines))
	for i, rl := range rec.Lines {
		if strings.TrimSpace(rl.SKU) == "" {
			return nil, ingestion.NewValidationError(lineField(i, "sku"), "SKU is missing")
		}
		if rl.Quantity <= 0 {
			return nil, ingestion.NewValidationError(lineField(i, "quantity"), fmt.Sprintf("quantity must be positive, got %d", rl.Quantity))
		}
		unitPrice, err := valueobject.NewNonNegativeMoney(rl.UnitPrice, currency)
		if err != nil {
			return nil, ingestion.NewValidationError(lineField(i, "unit_price"), "unit price cannot be negative")
		}
		if rl.LineTotal != nil {
			stated, err := valueobject.NewMoney(*rl.LineTotal, currency)
			if err != nil {
				return nil, ingestion.NewValidationError(lineField(i, "line_total"), err.Error())
			}
			derived := unitPrice.MultiplyByInt(rl.Quantity)
			ok, err := derived.WithinTolerance(stated, order.LineTotalTolerance)
			if err != nil || !ok {
				return nil, ingestion.NewValidationError(lineField(i, "line_total"),
					fmt.Sprintf("stated total %s does not match %s within tolerance", stated.StringFixed(2), derived.StringFixed(2)))
			}
		}

		line, err := order.NewLine(cleanText(rl.SKU), cleanText(rl.Description), rl.Quantity, unitPrice)
		if err != nil {
			return nil, ingestion.NewValidationError(lineField(i, "line"), err.Error())
		}
		lines = append(lines, line)
	}

	// Rule 4: phone normalization, non-fatal
	phone := n.normalizePhone(sourceID, externalID, rec.Phone)

	// Rule 5: required address fields
	name := cleanText(rec.BuyerName)
	if name == "" {
		return nil, ingestion.NewValidationError("customer.name", "buyer name is missing")
	}
	addr, err := buildAddress(name, rec)
	if err != nil {
		return nil, err
	}

	o := &order.Order{
		OrderID:      externalID,
		SourceID:     sourceID,
		ReceivedAt:   receivedAt,
		OrderDate:    n.resolveOrderDate(rec.OrderDate, receivedAt),
		Customer:     order.Customer{Name: name, Address: addr, Phone: phone, Email: strings.TrimSpace(rec.Email)},
		Lines:        lines,
		Status:       order.StatusNew,
		RawReference: rawReference,
	}

	if rec.ShippingCarrier != "" || !rec.ShippingCost.IsZero() {
		cost, err := valueobject.NewNonNegativeMoney(rec.ShippingCost, currency)
		if err != nil {
			return nil, ingestion.NewValidationError("shipping.cost", "shipping cost cannot be negative")
		}
		o.Shipping = &order.ShippingInfo{
			Carrier: cleanText(rec.ShippingCarrier),
			Method:  cleanText(rec.ShippingMethod),
			Cost:    cost,
		}
		if est, err := order.EstimateShippingDate(receivedAt, n.config.ShippingLeadDays); err == nil {
			o.Shipping.EstimatedShippingDay = &est
		}
	}

	return o, nil
}

// resolveCurrency falls back to the configured default for empty or malformed
// currency codes
func (n *OrderNormalizer) resolveCurrency(code string) valueobject.Currency {
	c := valueobject.Currency(strings.ToUpper(strings.TrimSpace(code)))
	if !c.IsValid() {
		return n.config.DefaultCurrency
	}
	return c
}

// normalizePhone returns the E.164 form of the source phone number, or empty
// when it cannot be normalized. Invalid phones are cleared with a warning,
// never a rejection.
func (n *OrderNormalizer) normalizePhone(sourceID, externalID, phone string) string {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return ""
	}
	parsed, err := phonenumbers.Parse(phone, n.config.DefaultPhoneRegion)
	if err != nil || !phonenumbers.IsValidNumber(parsed) {
		n.logger.Warn("Clearing phone number that could not be normalized to E.164",
			zap.String("source_id", sourceID),
			zap.String("order_id", externalID),
			zap.String("phone", phone),
		)
		return ""
	}
	return phonenumbers.Format(parsed, phonenumbers.E164)
}

// resolveOrderDate parses the wire order date, falling back to the ingestion
// timestamp when absent or unparseable
func (n *OrderNormalizer) resolveOrderDate(raw string, receivedAt time.Time) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return receivedAt
	}
	for _, layout := range []string{"20060102", "2006-01-02", time.RFC3339} {
		if d, err := time.Parse(layout, raw); err == nil {
			return d
		}
	}
	n.logger.Warn("Falling back to ingestion time for unparseable order date", zap.String("order_date", raw))
	return receivedAt
}

// buildAddress maps record address fields onto the Address value object,
// reporting the first missing required field
func buildAddress(recipient string, rec *ingestion.OrderRecord) (valueobject.Address, error) {
	street1 := cleanText(rec.Street1)
	city := cleanText(rec.City)
	postalCode := cleanText(rec.PostalCode)
	country := cleanText(rec.Country)

	switch {
	case street1 == "":
		return valueobject.Address{}, ingestion.NewValidationError("customer.street1", "street is missing")
	case city == "":
		return valueobject.Address{}, ingestion.NewValidationError("customer.city", "city is missing")
	case postalCode == "":
		return valueobject.Address{}, ingestion.NewValidationError("customer.postal_code", "postal code is missing")
	case country == "":
		return valueobject.Address{}, ingestion.NewValidationError("customer.country", "country is missing")
	}

	addr, err := valueobject.NewAddress(recipient, street1, city, postalCode, country,
		valueobject.WithStreet2(cleanText(rec.Street2)),
		valueobject.WithStateProvince(cleanText(rec.StateProvince)),
	)
	if err != nil {
		return valueobject.Address{}, ingestion.NewValidationError("customer.address", err.Error())
	}
	return addr, nil
}

// cleanText applies NFKC normalization and collapses internal whitespace
func cleanText(s string) string {
	s = norm.NFKC.String(s)
	return strings.Join(strings.Fields(s), " ")
}

// lineField names a per-line validation field, e.g. "lines[1].quantity"
func lineField(index int, field string) string {
	return fmt.Sprintf("lines[%d].%s", index, field)
}
