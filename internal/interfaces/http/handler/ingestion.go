package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/orderbridge/backend/internal/domain/ingestion"
	"github.com/orderbridge/backend/internal/infrastructure/scheduler"
	"github.com/orderbridge/backend/internal/interfaces/http/dto"
)

// IngestionHandler serves the source monitoring and control endpoints
type IngestionHandler struct {
	scheduler *scheduler.PollScheduler
	ledger    ingestion.DeduplicationLedger
	logger    *zap.Logger
}

// NewIngestionHandler creates an IngestionHandler
func NewIngestionHandler(sched *scheduler.PollScheduler, ledger ingestion.DeduplicationLedger, logger *zap.Logger) *IngestionHandler {
	return &IngestionHandler{
		scheduler: sched,
		ledger:    ledger,
		logger:    logger,
	}
}

// SourceStatusResponse is one source's polling and ledger state
type SourceStatusResponse struct {
	scheduler.SourceStatus
	// Records is the per-status delivery record count for the source
	Records map[string]int64 `json:"records"`
}

// ListSources returns the monitoring snapshot: per source, the polling state
// of the scheduler and the per-status record counts from the ledger
func (h *IngestionHandler) ListSources(c *gin.Context) {
	snapshot := h.scheduler.Snapshot()
	out := make([]SourceStatusResponse, 0, len(snapshot))

	for _, status := range snapshot {
		entry := SourceStatusResponse{SourceStatus: status, Records: map[string]int64{}}
		counts, err := h.ledger.CountByStatus(c.Request.Context(), status.SourceID)
		if err != nil {
			h.logger.Error("Failed to count delivery records",
				zap.String("source_id", status.SourceID),
				zap.Error(err),
			)
			c.JSON(http.StatusInternalServerError,
				dto.NewErrorResponse(dto.ErrCodeInternal, "failed to read the delivery ledger"))
			return
		}
		for s, n := range counts {
			entry.Records[s.String()] = n
		}
		out = append(out, entry)
	}

	c.JSON(http.StatusOK, dto.NewSuccessResponse(out))
}

// TriggerSource runs one ingestion cycle for a source immediately
func (h *IngestionHandler) TriggerSource(c *gin.Context) {
	sourceID := c.Param("id")

	err := h.scheduler.TriggerNow(c.Request.Context(), sourceID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, dto.NewSuccessResponse(gin.H{"source_id": sourceID, "triggered": true}))
	case errors.Is(err, scheduler.ErrSourceNotRegistered):
		c.JSON(http.StatusNotFound, dto.NewErrorResponse(dto.ErrCodeNotFound, "unknown source: "+sourceID))
	case errors.Is(err, scheduler.ErrCycleInProgress):
		c.JSON(http.StatusConflict, dto.NewErrorResponse(dto.ErrCodeCycleInProgress, "a cycle for this source is already running"))
	case errors.Is(err, scheduler.ErrSchedulerNotRunning):
		c.JSON(http.StatusServiceUnavailable, dto.NewErrorResponse(dto.ErrCodeSchedulerUnavailable, "the poll scheduler is not running"))
	default:
		h.logger.Error("Manual cycle trigger failed", zap.String("source_id", sourceID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse(dto.ErrCodeInternal, "cycle failed: "+err.Error()))
	}
}

// DeliveryRecordResponse is the API view of one delivery ledger record
type DeliveryRecordResponse struct {
	SourceID      string     `json:"source_id"`
	OrderID       string     `json:"order_id"`
	Status        string     `json:"status"`
	AttemptCount  int        `json:"attempt_count"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	ERPReference  string     `json:"erp_reference,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// GetRecord returns the delivery ledger record for one (source, order) pair
func (h *IngestionHandler) GetRecord(c *gin.Context) {
	sourceID := c.Param("id")
	orderID := c.Param("order_id")

	record, err := h.ledger.Get(c.Request.Context(), sourceID, orderID)
	if err != nil {
		if errors.Is(err, ingestion.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, dto.NewErrorResponse(dto.ErrCodeNotFound, "no delivery record for this order"))
			return
		}
		h.logger.Error("Failed to load delivery record",
			zap.String("source_id", sourceID),
			zap.String("order_id", orderID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse(dto.ErrCodeInternal, "failed to read the delivery ledger"))
		return
	}

	c.JSON(http.StatusOK, dto.NewSuccessResponse(DeliveryRecordResponse{
		SourceID:      record.SourceID,
		OrderID:       record.OrderID,
		Status:        record.Status.String(),
		AttemptCount:  record.AttemptCount,
		LastAttemptAt: record.LastAttemptAt,
		NextAttemptAt: record.NextAttemptAt,
		ERPReference:  record.ERPReference,
		LastError:     record.LastError,
		CreatedAt:     record.CreatedAt,
		UpdatedAt:     record.UpdatedAt,
	}))
}

// RegisterRoutes registers the ingestion endpoints on the API group
func (h *IngestionHandler) RegisterRoutes(rg *gin.RouterGroup) {
	sources := rg.Group("/sources")
	sources.GET("", h.ListSources)
	sources.POST("/:id/trigger", h.TriggerSource)
	sources.GET("/:id/records/:order_id", h.GetRecord)
}
