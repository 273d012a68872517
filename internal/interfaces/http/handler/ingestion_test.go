package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appingestion "github.com/orderbridge/backend/internal/application/ingestion"
	"github.com/orderbridge/backend/internal/domain/ingestion"
	"github.com/orderbridge/backend/internal/infrastructure/scheduler"
)

// ---------------------------------------------------------------------------
// Test Doubles
// ---------------------------------------------------------------------------

// stubLedger serves canned records and counts
type stubLedger struct {
	records map[string]*ingestion.DeliveryRecord
	counts  map[string]map[ingestion.DeliveryStatus]int64
}

func (l *stubLedger) Claim(context.Context, string, string) (ingestion.ClaimResult, error) {
	return ingestion.ClaimResultClaimed, nil
}
func (l *stubLedger) MarkDelivered(context.Context, string, string, string) error { return nil }
func (l *stubLedger) MarkFailed(context.Context, string, string, string, time.Time) error {
	return nil
}
func (l *stubLedger) MarkDeadLettered(context.Context, string, string, string) error { return nil }
func (l *stubLedger) Release(context.Context, string, string) error                  { return nil }

func (l *stubLedger) Get(_ context.Context, sourceID, orderID string) (*ingestion.DeliveryRecord, error) {
	rec, ok := l.records[sourceID+"/"+orderID]
	if !ok {
		return nil, ingestion.ErrRecordNotFound
	}
	return rec, nil
}

func (l *stubLedger) CountByStatus(_ context.Context, sourceID string) (map[ingestion.DeliveryStatus]int64, error) {
	return l.counts[sourceID], nil
}

type stubRunner struct {
	id   string
	runs int
}

func (r *stubRunner) SourceID() string { return r.id }
func (r *stubRunner) RunCycle(context.Context) (appingestion.CycleReport, error) {
	r.runs++
	return appingestion.CycleReport{SourceID: r.id}, nil
}

func newTestRouter(t *testing.T, h *IngestionHandler) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	api := engine.Group("/api/v1")
	h.RegisterRoutes(api)
	return engine
}

// ---------------------------------------------------------------------------
// Source Listing
// ---------------------------------------------------------------------------

func TestIngestionHandler_ListSources(t *testing.T) {
	sched, err := scheduler.NewPollScheduler(scheduler.DefaultPollSchedulerConfig(), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, sched.Register(&stubRunner{id: "acme-sftp"}, time.Hour))

	ledger := &stubLedger{counts: map[string]map[ingestion.DeliveryStatus]int64{
		"acme-sftp": {
			ingestion.DeliveryStatusDelivered:    3,
			ingestion.DeliveryStatusDeadLettered: 1,
		},
	}}

	engine := newTestRouter(t, NewIngestionHandler(sched, ledger, zap.NewNop()))
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/v1/sources", nil)
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Success bool `json:"success"`
		Data    []struct {
			SourceID string           `json:"source_id"`
			Records  map[string]int64 `json:"records"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.True(t, body.Success)
	require.Len(t, body.Data, 1)
	assert.Equal(t, "acme-sftp", body.Data[0].SourceID)
	assert.Equal(t, int64(3), body.Data[0].Records["DELIVERED"])
	assert.Equal(t, int64(1), body.Data[0].Records["DEAD_LETTERED"])
}

// ---------------------------------------------------------------------------
// Manual Trigger
// ---------------------------------------------------------------------------

func TestIngestionHandler_TriggerSource(t *testing.T) {
	sched, err := scheduler.NewPollScheduler(scheduler.DefaultPollSchedulerConfig(), zap.NewNop())
	require.NoError(t, err)
	runner := &stubRunner{id: "acme-rest"}
	require.NoError(t, sched.Register(runner, time.Hour))

	engine := newTestRouter(t, NewIngestionHandler(sched, &stubLedger{}, zap.NewNop()))

	// Not running yet
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/api/v1/sources/acme-rest/trigger", nil)
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	require.NoError(t, sched.Start(context.Background()))
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sched.Stop(stopCtx)
	}()
	time.Sleep(50 * time.Millisecond) // let the immediate cycle finish

	// Unknown source
	w = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodPost, "/api/v1/sources/nope/trigger", nil)
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Successful trigger
	before := runner.runs
	w = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodPost, "/api/v1/sources/acme-rest/trigger", nil)
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, before+1, runner.runs)
}

// ---------------------------------------------------------------------------
// Record Lookup
// ---------------------------------------------------------------------------

func TestIngestionHandler_GetRecord(t *testing.T) {
	sched, err := scheduler.NewPollScheduler(scheduler.DefaultPollSchedulerConfig(), zap.NewNop())
	require.NoError(t, err)

	now := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	ledger := &stubLedger{records: map[string]*ingestion.DeliveryRecord{
		"acme-sftp/PO-1001": {
			SourceID:     "acme-sftp",
			OrderID:      "PO-1001",
			Status:       ingestion.DeliveryStatusDelivered,
			AttemptCount: 1,
			ERPReference: "ERP-42",
			CreatedAt:    now,
			UpdatedAt:    now,
		},
	}}

	engine := newTestRouter(t, NewIngestionHandler(sched, ledger, zap.NewNop()))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/v1/sources/acme-sftp/records/PO-1001", nil)
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data DeliveryRecordResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "DELIVERED", body.Data.Status)
	assert.Equal(t, "ERP-42", body.Data.ERPReference)
	assert.Equal(t, 1, body.Data.AttemptCount)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodGet, "/api/v1/sources/acme-sftp/records/PO-9999", nil)
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
