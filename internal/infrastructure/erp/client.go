package erp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/orderbridge/backend/internal/domain/ingestion"
	"github.com/orderbridge/backend/internal/domain/order"
)

// maxResponseSize is the maximum allowed ERP response size (1MB)
const maxResponseSize = 1 * 1024 * 1024

// Config holds the ERP endpoint settings
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// RequestsPerSecond caps the submission rate against the ERP's quota;
	// zero means no cap
	RequestsPerSecond float64
	Burst             int
}

// Client submits canonical orders to the ERP order-creation endpoint and
// classifies responses into delivery outcomes. Transport failures and 5xx
// responses are transient; a 409 means the ERP already holds the natural key
// and counts as success; other 4xx responses are business rejections, except
// auth failures, which abort the cycle as configuration errors.
type Client struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewClient creates an ERP delivery client
func NewClient(config Config, logger *zap.Logger) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("erp: base URL is empty")
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if config.RequestsPerSecond > 0 {
		burst := config.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), burst)
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    limiter,
		logger:     logger,
	}, nil
}

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

type submitOrderRequest struct {
	SourceID   string            `json:"source_id"`
	OrderID    string            `json:"order_id"`
	OrderDate  string            `json:"order_date"`
	Customer   submitCustomer    `json:"customer"`
	Lines      []submitOrderLine `json:"lines"`
	Shipping   *submitShipping   `json:"shipping,omitempty"`
	ReceivedAt time.Time         `json:"received_at"`
}

type submitCustomer struct {
	Name          string `json:"name"`
	Phone         string `json:"phone,omitempty"`
	Email         string `json:"email,omitempty"`
	Street1       string `json:"street1"`
	Street2       string `json:"street2,omitempty"`
	City          string `json:"city"`
	StateProvince string `json:"state_province,omitempty"`
	PostalCode    string `json:"postal_code"`
	Country       string `json:"country"`
}

type submitOrderLine struct {
	SKU         string `json:"sku"`
	Description string `json:"description,omitempty"`
	Quantity    int64  `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	Currency    string `json:"currency"`
}

type submitShipping struct {
	Carrier string `json:"carrier"`
	Method  string `json:"method,omitempty"`
	Cost    string `json:"cost"`
}

type submitOrderResponse struct {
	Reference string `json:"reference"`
	Message   string `json:"message"`
}

// ---------------------------------------------------------------------------
// Delivery
// ---------------------------------------------------------------------------

// Deliver submits one canonical order, honoring the configured rate cap
func (c *Client) Deliver(ctx context.Context, o *order.Order) (ingestion.DeliveryOutcome, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return ingestion.DeliveryOutcome{}, err
	}

	body, err := json.Marshal(toSubmitRequest(o))
	if err != nil {
		return ingestion.DeliveryOutcome{}, fmt.Errorf("erp: failed to encode order: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return ingestion.DeliveryOutcome{}, fmt.Errorf("erp: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ingestion.DeliveryOutcome{
			Code:   ingestion.OutcomeTransientFailure,
			Reason: fmt.Sprintf("request failed: %v", err),
		}, nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return ingestion.DeliveryOutcome{
			Code:   ingestion.OutcomeTransientFailure,
			Reason: fmt.Sprintf("failed to read response: %v", err),
		}, nil
	}

	return c.classify(o, resp.StatusCode, respBody)
}

func (c *Client) classify(o *order.Order, status int, body []byte) (ingestion.DeliveryOutcome, error) {
	var parsed submitOrderResponse
	_ = json.Unmarshal(body, &parsed)

	switch {
	case status >= 200 && status < 300:
		return ingestion.DeliveryOutcome{
			Code:         ingestion.OutcomeAccepted,
			ERPReference: parsed.Reference,
		}, nil

	case status == http.StatusConflict:
		// The ERP already holds this natural key; idempotent success
		c.logger.Info("ERP reported duplicate order",
			zap.String("source_id", o.SourceID),
			zap.String("order_id", o.OrderID),
		)
		return ingestion.DeliveryOutcome{
			Code:         ingestion.OutcomeDuplicate,
			ERPReference: parsed.Reference,
			Reason:       parsed.Message,
		}, nil

	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ingestion.DeliveryOutcome{}, &ingestion.FatalConfigurationError{
			SourceID: o.SourceID,
			Reason:   fmt.Sprintf("ERP rejected credentials: HTTP %d", status),
		}

	case status == http.StatusTooManyRequests || status >= 500:
		return ingestion.DeliveryOutcome{
			Code:   ingestion.OutcomeTransientFailure,
			Reason: fmt.Sprintf("HTTP %d: %s", status, parsed.Message),
		}, nil

	default:
		return ingestion.DeliveryOutcome{
			Code:   ingestion.OutcomeRejectedPermanently,
			Reason: fmt.Sprintf("HTTP %d: %s", status, parsed.Message),
		}, nil
	}
}

func toSubmitRequest(o *order.Order) submitOrderRequest {
	req := submitOrderRequest{
		SourceID:   o.SourceID,
		OrderID:    o.OrderID,
		OrderDate:  o.OrderDate.Format("2006-01-02"),
		ReceivedAt: o.ReceivedAt,
		Customer: submitCustomer{
			Name:          o.Customer.Name,
			Phone:         o.Customer.Phone,
			Email:         o.Customer.Email,
			Street1:       o.Customer.Address.Street1(),
			Street2:       o.Customer.Address.Street2(),
			City:          o.Customer.Address.City(),
			StateProvince: o.Customer.Address.StateProvince(),
			PostalCode:    o.Customer.Address.PostalCode(),
			Country:       o.Customer.Address.Country(),
		},
	}
	for _, line := range o.Lines {
		req.Lines = append(req.Lines, submitOrderLine{
			SKU:         line.SKU,
			Description: line.Description,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice.StringFixed(2),
			Currency:    line.UnitPrice.Currency().String(),
		})
	}
	if o.Shipping != nil {
		req.Shipping = &submitShipping{
			Carrier: o.Shipping.Carrier,
			Method:  o.Shipping.Method,
			Cost:    o.Shipping.Cost.StringFixed(2),
		}
	}
	return req
}
