package ingestion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/orderbridge/backend/internal/domain/ingestion"
	"github.com/orderbridge/backend/internal/domain/order"
	"github.com/orderbridge/backend/internal/infrastructure/parser"
)

// ---------------------------------------------------------------------------
// Test Doubles
// ---------------------------------------------------------------------------

type fakeConnector struct {
	id       string
	handles  []ingestion.MessageHandle
	payloads map[string][]byte
	acked    []string
	ackErr   error
}

func (c *fakeConnector) SourceID() string { return c.id }

func (c *fakeConnector) ListAvailable(context.Context) ([]ingestion.MessageHandle, error) {
	out := make([]ingestion.MessageHandle, len(c.handles))
	copy(out, c.handles)
	return out, nil
}

func (c *fakeConnector) Fetch(_ context.Context, h ingestion.MessageHandle) (*ingestion.RawMessage, error) {
	body, ok := c.payloads[h.ID]
	if !ok {
		return nil, ingestion.NewTransientSourceError(c.id, "fetch", errors.New("no such message"))
	}
	return &ingestion.RawMessage{Handle: h, Body: body, ReceivedAt: time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)}, nil
}

func (c *fakeConnector) Acknowledge(_ context.Context, h ingestion.MessageHandle) error {
	if c.ackErr != nil {
		return c.ackErr
	}
	c.acked = append(c.acked, h.ID)
	for i, held := range c.handles {
		if held.ID == h.ID {
			c.handles = append(c.handles[:i], c.handles[i+1:]...)
			break
		}
	}
	return nil
}

func (c *fakeConnector) Close() error { return nil }

// memLedger mirrors the persistence ledger's claim semantics in memory
type memLedger struct {
	mu         sync.Mutex
	records    map[string]*ingestion.DeliveryRecord
	now        func() time.Time
	staleAfter time.Duration
}

func newMemLedger() *memLedger {
	return &memLedger{
		records:    make(map[string]*ingestion.DeliveryRecord),
		now:        func() time.Time { return time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC) },
		staleAfter: 10 * time.Minute,
	}
}

func (l *memLedger) key(sourceID, orderID string) string { return sourceID + "/" + orderID }

func (l *memLedger) Claim(_ context.Context, sourceID, orderID string) (ingestion.ClaimResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	rec, ok := l.records[l.key(sourceID, orderID)]
	if !ok {
		l.records[l.key(sourceID, orderID)] = &ingestion.DeliveryRecord{
			SourceID: sourceID, OrderID: orderID,
			Status: ingestion.DeliveryStatusClaimed, AttemptCount: 1,
			ClaimedAt: &now, LastAttemptAt: &now,
		}
		return ingestion.ClaimResultClaimed, nil
	}

	switch rec.Status {
	case ingestion.DeliveryStatusDelivered:
		return ingestion.ClaimResultAlreadyDelivered, nil
	case ingestion.DeliveryStatusDeadLettered:
		return ingestion.ClaimResultDeadLettered, nil
	case ingestion.DeliveryStatusPending:
	case ingestion.DeliveryStatusFailed:
		if rec.NextAttemptAt != nil && rec.NextAttemptAt.After(now) {
			return ingestion.ClaimResultAlreadyInFlight, nil
		}
	case ingestion.DeliveryStatusClaimed:
		if rec.ClaimedAt == nil || now.Sub(*rec.ClaimedAt) < l.staleAfter {
			return ingestion.ClaimResultAlreadyInFlight, nil
		}
	}

	rec.Status = ingestion.DeliveryStatusClaimed
	rec.AttemptCount++
	rec.ClaimedAt = &now
	rec.LastAttemptAt = &now
	return ingestion.ClaimResultClaimed, nil
}

func (l *memLedger) MarkDelivered(_ context.Context, sourceID, orderID, erpReference string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[l.key(sourceID, orderID)]
	if !ok {
		return ingestion.ErrRecordNotFound
	}
	rec.Status = ingestion.DeliveryStatusDelivered
	rec.ERPReference = erpReference
	return nil
}

func (l *memLedger) MarkFailed(_ context.Context, sourceID, orderID, attemptError string, nextAttemptAt time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[l.key(sourceID, orderID)]
	if !ok {
		return ingestion.ErrRecordNotFound
	}
	rec.Status = ingestion.DeliveryStatusFailed
	rec.LastError = attemptError
	rec.NextAttemptAt = &nextAttemptAt
	return nil
}

func (l *memLedger) MarkDeadLettered(_ context.Context, sourceID, orderID, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[l.key(sourceID, orderID)]
	if !ok {
		return ingestion.ErrRecordNotFound
	}
	rec.Status = ingestion.DeliveryStatusDeadLettered
	rec.LastError = reason
	return nil
}

func (l *memLedger) Release(_ context.Context, sourceID, orderID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[l.key(sourceID, orderID)]
	if !ok {
		return ingestion.ErrRecordNotFound
	}
	rec.Status = ingestion.DeliveryStatusPending
	rec.ClaimedAt = nil
	return nil
}

func (l *memLedger) Get(_ context.Context, sourceID, orderID string) (*ingestion.DeliveryRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[l.key(sourceID, orderID)]
	if !ok {
		return nil, ingestion.ErrRecordNotFound
	}
	cp := *rec
	return &cp, nil
}

func (l *memLedger) CountByStatus(_ context.Context, sourceID string) (map[ingestion.DeliveryStatus]int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	counts := make(map[ingestion.DeliveryStatus]int64)
	for _, rec := range l.records {
		if rec.SourceID == sourceID {
			counts[rec.Status]++
		}
	}
	return counts, nil
}

// fakeDelivery replays scripted outcomes per order id; unscripted orders are
// accepted with a derived ERP reference
type fakeDelivery struct {
	mu        sync.Mutex
	scripted  map[string][]ingestion.DeliveryOutcome
	err       error
	delivered []string
}

func (d *fakeDelivery) Deliver(_ context.Context, o *order.Order) (ingestion.DeliveryOutcome, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return ingestion.DeliveryOutcome{}, d.err
	}
	d.delivered = append(d.delivered, o.OrderID)
	if queue := d.scripted[o.OrderID]; len(queue) > 0 {
		next := queue[0]
		d.scripted[o.OrderID] = queue[1:]
		return next, nil
	}
	return ingestion.DeliveryOutcome{Code: ingestion.OutcomeAccepted, ERPReference: "ERP-" + o.OrderID}, nil
}

type fakeParser struct {
	format ingestion.WireFormat
	parse  func(raw []byte) ([]ingestion.ParsedRecord, error)
}

func (p *fakeParser) Format() ingestion.WireFormat { return p.format }
func (p *fakeParser) Parse(raw []byte) ([]ingestion.ParsedRecord, error) {
	return p.parse(raw)
}

type memArchive struct {
	mu     sync.Mutex
	stored map[string][]byte
}

func (a *memArchive) Store(_ context.Context, sourceID, name string, body []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stored == nil {
		a.stored = make(map[string][]byte)
	}
	a.stored[sourceID+"/"+name] = body
	return "mem://" + sourceID + "/" + name, nil
}

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

func validRecordWithID(id string) *ingestion.OrderRecord {
	return &ingestion.OrderRecord{
		ExternalID: id,
		OrderDate:  "2026-01-04",
		Currency:   "EUR",
		BuyerName:  "Jane Smith",
		Email:      "jane@example.com",
		Street1:    "Unter den Linden 5",
		City:       "Berlin",
		PostalCode: "10117",
		Country:    "DE",
		Lines: []ingestion.RecordLine{
			{SKU: "SKU-1", Description: "Widget", Quantity: 2, UnitPrice: decimal.RequireFromString("2.50")},
		},
	}
}

func singleRecordParser(rec *ingestion.OrderRecord) *fakeParser {
	return &fakeParser{
		format: ingestion.WireFormatJSON,
		parse: func([]byte) ([]ingestion.ParsedRecord, error) {
			return []ingestion.ParsedRecord{{Record: rec}}, nil
		},
	}
}

func newTestPipeline(t *testing.T, connector ingestion.SourceConnector, msgParser ingestion.MessageParser, ledger ingestion.DeduplicationLedger, delivery ingestion.DeliveryClient, config PipelineConfig) *Pipeline {
	t.Helper()
	desc := ingestion.SourceDescriptor{ID: connector.SourceID(), Kind: ingestion.SourceKindREST, Format: msgParser.Format()}
	normalizer := NewOrderNormalizer(DefaultNormalizerConfig(), zap.NewNop())
	p := NewPipeline(desc, connector, msgParser, normalizer, ledger, delivery, &memArchive{}, config, zap.NewNop())
	if ml, ok := ledger.(*memLedger); ok {
		p.now = func() time.Time { return ml.now() }
	}
	return p
}

// ---------------------------------------------------------------------------
// Cycle Tests
// ---------------------------------------------------------------------------

func TestPipeline_EDIFileWithOneInvalidOrder(t *testing.T) {
	// Two purchase orders in one file; the second is missing its quantity.
	// The valid order must be delivered, the invalid one dead-lettered with
	// the failing field named, and the file acknowledged afterwards.
	doc := `ST*850*0001~
BEG*00*NE*PO-1001**20260105~
N1*ST*Jane Smith~
N3*Unter den Linden 5~
N4*Berlin**10117*DE~
PO1**3*EA*2.50**VP*SKU-1~
SE*7*0001~
ST*850*0002~
BEG*00*NE*PO-1002**20260105~
N1*ST*John Doe~
N3*Marienplatz 1~
N4*Munich**80331*DE~
PO1***EA*4.00**VP*SKU-2~
SE*7*0002~
`
	connector := &fakeConnector{
		id:       "acme-sftp",
		handles:  []ingestion.MessageHandle{{ID: "PO_20260105.edi", Origin: "sftp://partner/outbound/PO_20260105.edi"}},
		payloads: map[string][]byte{"PO_20260105.edi": []byte(doc)},
	}
	ledger := newMemLedger()
	delivery := &fakeDelivery{}
	p := newTestPipeline(t, connector, parser.NewEDIParser(), ledger, delivery, DefaultPipelineConfig())

	report, err := p.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Delivered)
	assert.Equal(t, 1, report.DeadLettered)
	assert.Equal(t, 1, report.Acknowledged)
	assert.Equal(t, []string{"PO-1001"}, delivery.delivered)
	assert.Equal(t, []string{"PO_20260105.edi"}, connector.acked)

	good, err := ledger.Get(context.Background(), "acme-sftp", "PO-1001")
	require.NoError(t, err)
	assert.Equal(t, ingestion.DeliveryStatusDelivered, good.Status)
	assert.Equal(t, "ERP-PO-1001", good.ERPReference)

	bad, err := ledger.Get(context.Background(), "acme-sftp", "PO-1002")
	require.NoError(t, err)
	assert.Equal(t, ingestion.DeliveryStatusDeadLettered, bad.Status)
	assert.Contains(t, bad.LastError, "quantity")
}

func TestPipeline_DuplicatePollDeliversOnce(t *testing.T) {
	// A REST partner returns the same order in two consecutive polls. Only
	// the first cycle delivers; the second sees AlreadyDelivered.
	handle := ingestion.MessageHandle{ID: "ord-77", Origin: "https://partner/orders/ord-77"}
	connector := &fakeConnector{
		id:       "acme-rest",
		handles:  []ingestion.MessageHandle{handle},
		payloads: map[string][]byte{"ord-77": []byte(`{}`)},
	}
	ledger := newMemLedger()
	delivery := &fakeDelivery{}
	p := newTestPipeline(t, connector, singleRecordParser(validRecordWithID("ord-77")), ledger, delivery, DefaultPipelineConfig())

	first, err := p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Delivered)

	// The partner has not registered the ack yet and lists the order again
	connector.handles = []ingestion.MessageHandle{handle}
	second, err := p.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, second.Delivered)
	assert.Equal(t, 1, second.Duplicates)
	assert.Equal(t, 1, second.Acknowledged)
	assert.Equal(t, []string{"ord-77"}, delivery.delivered)
}

func TestPipeline_TransientFailureSchedulesRetry(t *testing.T) {
	connector := &fakeConnector{
		id:       "acme-rest",
		handles:  []ingestion.MessageHandle{{ID: "ord-1"}},
		payloads: map[string][]byte{"ord-1": []byte(`{}`)},
	}
	ledger := newMemLedger()
	delivery := &fakeDelivery{scripted: map[string][]ingestion.DeliveryOutcome{
		"ord-1": {{Code: ingestion.OutcomeTransientFailure, Reason: "erp returned 503"}},
	}}
	config := DefaultPipelineConfig()
	p := newTestPipeline(t, connector, singleRecordParser(validRecordWithID("ord-1")), ledger, delivery, config)

	report, err := p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Retrying)
	assert.Empty(t, connector.acked, "message with a retrying record must not be acknowledged")

	rec, err := ledger.Get(context.Background(), "acme-rest", "ord-1")
	require.NoError(t, err)
	assert.Equal(t, ingestion.DeliveryStatusFailed, rec.Status)
	require.NotNil(t, rec.NextAttemptAt)
	assert.Equal(t, ledger.now().Add(config.RetryBackoffBase), *rec.NextAttemptAt)

	// Before the backoff elapses the record is skipped, not re-delivered
	early, err := p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, early.Skipped)
	assert.Len(t, delivery.delivered, 1)

	// Once due, the retry succeeds and the message is acknowledged
	due := ledger.now().Add(config.RetryBackoffBase + time.Second)
	ledger.now = func() time.Time { return due }
	late, err := p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, late.Delivered)
	assert.Equal(t, []string{"ord-1"}, connector.acked)
}

func TestPipeline_RetriesExhaustedDeadLetters(t *testing.T) {
	connector := &fakeConnector{
		id:       "acme-rest",
		handles:  []ingestion.MessageHandle{{ID: "ord-9"}},
		payloads: map[string][]byte{"ord-9": []byte(`{}`)},
	}
	ledger := newMemLedger()
	delivery := &fakeDelivery{scripted: map[string][]ingestion.DeliveryOutcome{
		"ord-9": {
			{Code: ingestion.OutcomeTransientFailure, Reason: "timeout"},
			{Code: ingestion.OutcomeTransientFailure, Reason: "timeout"},
		},
	}}
	config := DefaultPipelineConfig()
	config.MaxDeliveryAttempts = 2
	p := newTestPipeline(t, connector, singleRecordParser(validRecordWithID("ord-9")), ledger, delivery, config)

	report, err := p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Retrying)

	due := ledger.now().Add(time.Hour)
	ledger.now = func() time.Time { return due }
	report, err = p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.DeadLettered)
	assert.Equal(t, 1, report.Acknowledged)

	rec, err := ledger.Get(context.Background(), "acme-rest", "ord-9")
	require.NoError(t, err)
	assert.Equal(t, ingestion.DeliveryStatusDeadLettered, rec.Status)
	assert.Contains(t, rec.LastError, "retries exhausted after 2 attempts")
}

func TestPipeline_PermanentRejectionDeadLetters(t *testing.T) {
	connector := &fakeConnector{
		id:       "acme-rest",
		handles:  []ingestion.MessageHandle{{ID: "ord-4"}},
		payloads: map[string][]byte{"ord-4": []byte(`{}`)},
	}
	ledger := newMemLedger()
	delivery := &fakeDelivery{scripted: map[string][]ingestion.DeliveryOutcome{
		"ord-4": {{Code: ingestion.OutcomeRejectedPermanently, Reason: "unknown SKU"}},
	}}
	p := newTestPipeline(t, connector, singleRecordParser(validRecordWithID("ord-4")), ledger, delivery, DefaultPipelineConfig())

	report, err := p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.DeadLettered)
	assert.Equal(t, 1, report.Acknowledged)

	rec, err := ledger.Get(context.Background(), "acme-rest", "ord-4")
	require.NoError(t, err)
	assert.Equal(t, ingestion.DeliveryStatusDeadLettered, rec.Status)
	assert.Equal(t, "unknown SKU", rec.LastError)
}

func TestPipeline_UnreadablePayloadQuarantined(t *testing.T) {
	connector := &fakeConnector{
		id:       "acme-sftp",
		handles:  []ingestion.MessageHandle{{ID: "garbage.edi"}},
		payloads: map[string][]byte{"garbage.edi": []byte("GS*PO*ACME~GE*1*1~")},
	}
	ledger := newMemLedger()
	delivery := &fakeDelivery{}
	p := newTestPipeline(t, connector, parser.NewEDIParser(), ledger, delivery, DefaultPipelineConfig())

	report, err := p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.DeadLettered)
	assert.Equal(t, 1, report.Acknowledged)
	assert.Empty(t, delivery.delivered)

	rec, err := ledger.Get(context.Background(), "acme-sftp", "!payload/garbage.edi")
	require.NoError(t, err)
	assert.Equal(t, ingestion.DeliveryStatusDeadLettered, rec.Status)

	// A later poll of the same unreadable payload stays quiet
	connector.handles = []ingestion.MessageHandle{{ID: "garbage.edi"}}
	report, err = p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.DeadLettered)
	assert.Equal(t, 1, report.Acknowledged)
}

func TestPipeline_DeliveryErrorReleasesClaim(t *testing.T) {
	connector := &fakeConnector{
		id:       "acme-rest",
		handles:  []ingestion.MessageHandle{{ID: "ord-5"}},
		payloads: map[string][]byte{"ord-5": []byte(`{}`)},
	}
	ledger := newMemLedger()
	delivery := &fakeDelivery{err: &ingestion.FatalConfigurationError{SourceID: "acme-rest", Reason: "ERP rejected credentials"}}
	p := newTestPipeline(t, connector, singleRecordParser(validRecordWithID("ord-5")), ledger, delivery, DefaultPipelineConfig())

	_, err := p.RunCycle(context.Background())
	require.Error(t, err)
	assert.True(t, ingestion.IsFatalConfiguration(err))
	assert.Empty(t, connector.acked)

	rec, err := ledger.Get(context.Background(), "acme-rest", "ord-5")
	require.NoError(t, err)
	assert.Equal(t, ingestion.DeliveryStatusPending, rec.Status, "claim must be released for immediate retryability")
}

func TestPipeline_InFlightRecordDefersAcknowledge(t *testing.T) {
	connector := &fakeConnector{
		id:       "acme-rest",
		handles:  []ingestion.MessageHandle{{ID: "ord-6"}},
		payloads: map[string][]byte{"ord-6": []byte(`{}`)},
	}
	ledger := newMemLedger()
	_, err := ledger.Claim(context.Background(), "acme-rest", "ord-6")
	require.NoError(t, err)

	delivery := &fakeDelivery{}
	p := newTestPipeline(t, connector, singleRecordParser(validRecordWithID("ord-6")), ledger, delivery, DefaultPipelineConfig())

	report, err := p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Empty(t, connector.acked)
	assert.Empty(t, delivery.delivered)
}

func TestPipeline_CrashedClaimReclaimedAndConvergesOnDuplicate(t *testing.T) {
	// A previous run claimed the order and the ERP accepted it, but the
	// process died before the ledger recorded the delivery. The record is
	// stuck CLAIMED and the message is still at the source. Once the claim
	// goes stale a later cycle must take it over, resubmit, take the ERP's
	// duplicate answer as proof of delivery, and acknowledge the message.
	handle := ingestion.MessageHandle{ID: "ord-42", Origin: "https://partner/orders/ord-42"}
	connector := &fakeConnector{
		id:       "acme-rest",
		handles:  []ingestion.MessageHandle{handle},
		payloads: map[string][]byte{"ord-42": []byte(`{}`)},
	}
	ledger := newMemLedger()
	_, err := ledger.Claim(context.Background(), "acme-rest", "ord-42")
	require.NoError(t, err)

	delivery := &fakeDelivery{scripted: map[string][]ingestion.DeliveryOutcome{
		"ord-42": {{Code: ingestion.OutcomeDuplicate, ERPReference: "ERP-ord-42"}},
	}}
	p := newTestPipeline(t, connector, singleRecordParser(validRecordWithID("ord-42")), ledger, delivery, DefaultPipelineConfig())

	// Inside the staleness window the claim is honored and nothing happens
	report, err := p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Empty(t, delivery.delivered)

	// Past the window the claim is presumed crashed and taken over
	later := ledger.now().Add(11 * time.Minute)
	ledger.now = func() time.Time { return later }
	report, err = p.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, report.Delivered)
	assert.Equal(t, 1, report.Duplicates)
	assert.Equal(t, 1, report.Acknowledged)
	assert.Equal(t, []string{"ord-42"}, delivery.delivered, "resubmitted exactly once")
	assert.Equal(t, []string{"ord-42"}, connector.acked)

	rec, err := ledger.Get(context.Background(), "acme-rest", "ord-42")
	require.NoError(t, err)
	assert.Equal(t, ingestion.DeliveryStatusDelivered, rec.Status)
	assert.Equal(t, "ERP-ord-42", rec.ERPReference)
	assert.Equal(t, 2, rec.AttemptCount)
}

func TestPipeline_ValidationFailureUsesNaturalKey(t *testing.T) {
	rec := validRecordWithID("ord-8")
	rec.Lines = nil
	connector := &fakeConnector{
		id:       "acme-rest",
		handles:  []ingestion.MessageHandle{{ID: "ord-8"}},
		payloads: map[string][]byte{"ord-8": []byte(`{}`)},
	}
	ledger := newMemLedger()
	p := newTestPipeline(t, connector, singleRecordParser(rec), ledger, &fakeDelivery{}, DefaultPipelineConfig())

	report, err := p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.DeadLettered)

	dead, err := ledger.Get(context.Background(), "acme-rest", "ord-8")
	require.NoError(t, err)
	assert.Equal(t, ingestion.DeliveryStatusDeadLettered, dead.Status)
	assert.Contains(t, dead.LastError, "lines")
}

func TestPipeline_Backoff(t *testing.T) {
	config := DefaultPipelineConfig()
	config.RetryBackoffBase = 30 * time.Second
	config.RetryBackoffCap = 30 * time.Minute
	p := &Pipeline{config: config}

	assert.Equal(t, 30*time.Second, p.backoff(1))
	assert.Equal(t, time.Minute, p.backoff(2))
	assert.Equal(t, 8*time.Minute, p.backoff(5))
	assert.Equal(t, 30*time.Minute, p.backoff(7))
	assert.Equal(t, 30*time.Minute, p.backoff(50))
}
