package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/orderbridge/backend/internal/domain/ingestion"
)

// maxResponseSize is the maximum allowed partner response size (10MB)
const maxResponseSize = 10 * 1024 * 1024

// defaultPageSize applies when the source descriptor leaves PageSize unset
const defaultPageSize = 50

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

// restListResponse is the partner "list new orders" response. Payload carries
// the full order body when the partner returns payloads inline; detail-style
// partners leave it empty and Fetch retrieves the body per order.
type restListResponse struct {
	Orders []restListEntry `json:"orders"`
	// NextCursor is persisted only once every order of this page is acknowledged
	NextCursor string `json:"next_cursor"`
}

type restListEntry struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// ---------------------------------------------------------------------------
// RESTConnector
// ---------------------------------------------------------------------------

// RESTConnector polls a partner REST endpoint for new orders. Pagination
// advances through an opaque cursor persisted in the CursorStore; the cursor
// for a page moves forward only after every handle of that page has been
// acknowledged, so a crash mid-page re-lists the page and the ledger absorbs
// the duplicates.
type RESTConnector struct {
	desc       ingestion.SourceDescriptor
	cursors    ingestion.CursorStore
	httpClient *http.Client
	logger     *zap.Logger

	mu         sync.Mutex
	nextCursor string
	pending    map[string]struct{}
}

// NewRESTConnector creates a connector for a REST source descriptor
func NewRESTConnector(desc ingestion.SourceDescriptor, cursors ingestion.CursorStore, logger *zap.Logger) (*RESTConnector, error) {
	if desc.Kind != ingestion.SourceKindREST {
		return nil, fmt.Errorf("connector: descriptor %s is not a REST source", desc.ID)
	}
	if desc.REST.BaseURL == "" {
		return nil, &ingestion.FatalConfigurationError{SourceID: desc.ID, Reason: "REST base URL is empty"}
	}
	if desc.REST.Token == "" {
		return nil, &ingestion.FatalConfigurationError{SourceID: desc.ID, Reason: "REST bearer token is empty"}
	}
	return &RESTConnector{
		desc:       desc,
		cursors:    cursors,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		pending:    make(map[string]struct{}),
	}, nil
}

// SourceID returns the source this connector serves
func (c *RESTConnector) SourceID() string {
	return c.desc.ID
}

// ListAvailable lists new orders from the partner, resuming from the
// persisted cursor
func (c *RESTConnector) ListAvailable(ctx context.Context) ([]ingestion.MessageHandle, error) {
	cursor, err := c.cursors.Load(ctx, c.desc.ID)
	if err != nil && !errors.Is(err, ingestion.ErrCursorNotFound) {
		return nil, ingestion.NewTransientSourceError(c.desc.ID, "load cursor", err)
	}

	listURL, err := c.buildListURL(cursor)
	if err != nil {
		return nil, &ingestion.FatalConfigurationError{SourceID: c.desc.ID, Reason: err.Error()}
	}

	body, err := c.doGet(ctx, listURL, "list")
	if err != nil {
		return nil, err
	}

	var resp restListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: unreadable list response from %s: %v", ingestion.ErrSourceMalformed, c.desc.ID, err)
	}

	handles := make([]ingestion.MessageHandle, 0, len(resp.Orders))
	c.mu.Lock()
	c.nextCursor = resp.NextCursor
	c.pending = make(map[string]struct{}, len(resp.Orders))
	for _, entry := range resp.Orders {
		c.pending[entry.ID] = struct{}{}
	}
	c.mu.Unlock()

	for _, entry := range resp.Orders {
		handles = append(handles, ingestion.MessageHandle{
			ID:      entry.ID,
			Origin:  c.orderURL(entry.ID),
			Payload: entry.Payload,
		})
	}
	return handles, nil
}

// Fetch returns the handle's payload, hitting the partner detail endpoint
// only when the list call did not already carry the body
func (c *RESTConnector) Fetch(ctx context.Context, handle ingestion.MessageHandle) (*ingestion.RawMessage, error) {
	if len(handle.Payload) > 0 {
		return &ingestion.RawMessage{Handle: handle, Body: handle.Payload, ReceivedAt: time.Now()}, nil
	}

	body, err := c.doGet(ctx, c.orderURL(handle.ID), "fetch")
	if err != nil {
		return nil, err
	}
	return &ingestion.RawMessage{Handle: handle, Body: body, ReceivedAt: time.Now()}, nil
}

// Acknowledge marks the order consumed at the partner when supported, and
// advances the persisted cursor once the whole page has been acknowledged
func (c *RESTConnector) Acknowledge(ctx context.Context, handle ingestion.MessageHandle) error {
	if c.desc.REST.MarkConsumed {
		if err := c.markConsumed(ctx, handle.ID); err != nil {
			return err
		}
	}

	c.mu.Lock()
	delete(c.pending, handle.ID)
	done := len(c.pending) == 0
	cursor := c.nextCursor
	c.mu.Unlock()

	if done && cursor != "" {
		if err := c.cursors.Save(ctx, c.desc.ID, cursor); err != nil {
			return ingestion.NewTransientSourceError(c.desc.ID, "save cursor", err)
		}
		c.logger.Debug("Advanced partner cursor",
			zap.String("source_id", c.desc.ID),
			zap.String("cursor", cursor),
		)
	}
	return nil
}

// Close releases idle partner connections
func (c *RESTConnector) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// ---------------------------------------------------------------------------
// HTTP plumbing
// ---------------------------------------------------------------------------

func (c *RESTConnector) buildListURL(cursor string) (string, error) {
	u, err := url.Parse(c.desc.REST.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %v", c.desc.REST.BaseURL, err)
	}
	u = u.JoinPath("orders")

	pageSize := c.desc.REST.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	q := u.Query()
	q.Set("limit", strconv.Itoa(pageSize))
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *RESTConnector) orderURL(id string) string {
	u, err := url.Parse(c.desc.REST.BaseURL)
	if err != nil {
		return c.desc.REST.BaseURL + "/orders/" + id
	}
	return u.JoinPath("orders", id).String()
}

func (c *RESTConnector) markConsumed(ctx context.Context, id string) error {
	u, err := url.Parse(c.desc.REST.BaseURL)
	if err != nil {
		return &ingestion.FatalConfigurationError{SourceID: c.desc.ID, Reason: err.Error()}
	}
	ackURL := u.JoinPath("orders", id, "ack").String()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ackURL, nil)
	if err != nil {
		return fmt.Errorf("connector: failed to create ack request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.desc.REST.Token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ingestion.NewTransientSourceError(c.desc.ID, "acknowledge", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))

	return c.classifyStatus(resp.StatusCode, "acknowledge")
}

func (c *RESTConnector) doGet(ctx context.Context, rawURL, op string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("connector: failed to create %s request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.desc.REST.Token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, ingestion.NewTransientSourceError(c.desc.ID, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, ingestion.NewTransientSourceError(c.desc.ID, op, err)
	}

	if err := c.classifyStatus(resp.StatusCode, op); err != nil {
		return nil, err
	}
	return body, nil
}

// classifyStatus maps partner HTTP statuses onto the error taxonomy:
// auth failures are fatal for the cycle, server-side and throttling failures
// are transient, and any other 4xx is a malformed-source error that does not
// retry within the cycle.
func (c *RESTConnector) classifyStatus(status int, op string) error {
	switch {
	case status < 400:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &ingestion.FatalConfigurationError{
			SourceID: c.desc.ID,
			Reason:   fmt.Sprintf("partner rejected credentials during %s: HTTP %d", op, status),
		}
	case status == http.StatusTooManyRequests || status >= 500:
		return ingestion.NewTransientSourceError(c.desc.ID, op, fmt.Errorf("HTTP %d", status))
	default:
		return fmt.Errorf("%w: HTTP %d during %s on %s", ingestion.ErrSourceMalformed, status, op, c.desc.ID)
	}
}
