package ingestion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/orderbridge/backend/internal/domain/ingestion"
	"github.com/orderbridge/backend/internal/domain/order"
)

// ---------------------------------------------------------------------------
// Pipeline Configuration
// ---------------------------------------------------------------------------

// PipelineConfig holds per-source processing settings
type PipelineConfig struct {
	// MaxDeliveryAttempts before a record is dead-lettered
	MaxDeliveryAttempts int
	// RetryBackoffBase is the first retry delay; doubles per attempt
	RetryBackoffBase time.Duration
	// RetryBackoffCap bounds the exponential backoff
	RetryBackoffCap time.Duration
}

// DefaultPipelineConfig returns default pipeline settings
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		MaxDeliveryAttempts: 8,
		RetryBackoffBase:    30 * time.Second,
		RetryBackoffCap:     30 * time.Minute,
	}
}

// CycleReport summarizes one poll cycle of one source
type CycleReport struct {
	SourceID     string
	StartedAt    time.Time
	Duration     time.Duration
	Messages     int
	Records      int
	Delivered    int
	Duplicates   int
	Retrying     int
	DeadLettered int
	Skipped      int
	Acknowledged int
}

// ---------------------------------------------------------------------------
// Pipeline
// ---------------------------------------------------------------------------

// Pipeline runs the fetch-parse-normalize-claim-deliver-acknowledge cycle for
// one source. Cycles for a single source never overlap; the scheduler
// guarantees serialization, so the pipeline itself holds no locks.
//
// Acknowledgment policy: a message is acknowledged at its source only when
// every record extracted from it is terminal in the ledger (delivered or
// dead-lettered). Anything less leaves the message in place so the next cycle
// retries, and the ledger absorbs the resulting duplicates.
type Pipeline struct {
	desc       ingestion.SourceDescriptor
	connector  ingestion.SourceConnector
	parser     ingestion.MessageParser
	normalizer *OrderNormalizer
	ledger     ingestion.DeduplicationLedger
	delivery   ingestion.DeliveryClient
	// archive is optional; nil disables raw payload archiving
	archive ingestion.RawArchive
	config  PipelineConfig
	logger  *zap.Logger

	now func() time.Time
}

// NewPipeline wires one source's processing cycle
func NewPipeline(
	desc ingestion.SourceDescriptor,
	connector ingestion.SourceConnector,
	parser ingestion.MessageParser,
	normalizer *OrderNormalizer,
	ledger ingestion.DeduplicationLedger,
	delivery ingestion.DeliveryClient,
	archive ingestion.RawArchive,
	config PipelineConfig,
	logger *zap.Logger,
) *Pipeline {
	if config.MaxDeliveryAttempts <= 0 {
		config.MaxDeliveryAttempts = DefaultPipelineConfig().MaxDeliveryAttempts
	}
	if config.RetryBackoffBase <= 0 {
		config.RetryBackoffBase = DefaultPipelineConfig().RetryBackoffBase
	}
	if config.RetryBackoffCap < config.RetryBackoffBase {
		config.RetryBackoffCap = DefaultPipelineConfig().RetryBackoffCap
	}
	return &Pipeline{
		desc:       desc,
		connector:  connector,
		parser:     parser,
		normalizer: normalizer,
		ledger:     ledger,
		delivery:   delivery,
		archive:    archive,
		config:     config,
		logger:     logger.With(zap.String("source_id", desc.ID)),
		now:        time.Now,
	}
}

// SourceID returns the source this pipeline serves
func (p *Pipeline) SourceID() string {
	return p.desc.ID
}

// RunCycle executes one poll cycle. A transient source failure aborts the
// cycle and returns the partial report; unacknowledged source state is picked
// up by the next cycle.
func (p *Pipeline) RunCycle(ctx context.Context) (CycleReport, error) {
	report := CycleReport{SourceID: p.desc.ID, StartedAt: p.now()}
	defer func() { report.Duration = time.Since(report.StartedAt) }()

	handles, err := p.connector.ListAvailable(ctx)
	if err != nil {
		return report, err
	}
	report.Messages = len(handles)
	if len(handles) == 0 {
		return report, nil
	}

	p.logger.Info("Starting ingestion cycle", zap.Int("messages", len(handles)))

	// Messages are processed in arrival order; a cycle-scoped failure stops
	// the walk so later messages never overtake an earlier one.
	for _, handle := range handles {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := p.processMessage(ctx, handle, &report); err != nil {
			return report, err
		}
	}

	p.logger.Info("Ingestion cycle finished",
		zap.Int("messages", report.Messages),
		zap.Int("records", report.Records),
		zap.Int("delivered", report.Delivered),
		zap.Int("duplicates", report.Duplicates),
		zap.Int("retrying", report.Retrying),
		zap.Int("dead_lettered", report.DeadLettered),
		zap.Int("acknowledged", report.Acknowledged),
	)
	return report, nil
}

// processMessage handles one message end to end. Only cycle-scoped errors
// (transient source, fatal configuration, cancellation) are returned;
// record-scoped failures are absorbed into the ledger.
func (p *Pipeline) processMessage(ctx context.Context, handle ingestion.MessageHandle, report *CycleReport) error {
	raw, err := p.connector.Fetch(ctx, handle)
	if err != nil {
		return err
	}

	rawReference := p.archiveRaw(ctx, handle, raw)

	records, err := p.parser.Parse(raw.Body)
	if err != nil {
		// The payload as a whole is unreadable. Dead-letter it under a
		// synthetic key so the message can be acknowledged and does not
		// poison every subsequent cycle.
		return p.quarantineMessage(ctx, handle, err, report)
	}
	report.Records += len(records)

	terminal := true
	for i, parsed := range records {
		outcome, err := p.processRecord(ctx, handle, i, parsed, raw.ReceivedAt, rawReference)
		if err != nil {
			return err
		}
		switch outcome {
		case recordDelivered:
			report.Delivered++
		case recordDuplicate:
			report.Duplicates++
		case recordRetrying:
			report.Retrying++
			terminal = false
		case recordDeadLettered:
			report.DeadLettered++
		case recordSkipped:
			report.Skipped++
			terminal = false
		}
	}

	if terminal {
		if err := p.acknowledge(ctx, handle); err != nil {
			// Leave the message for the next cycle; the ledger prevents
			// re-delivery of its records.
			p.logger.Warn("Failed to acknowledge message", zap.String("message", handle.ID), zap.Error(err))
			return nil
		}
		report.Acknowledged++
	}
	return nil
}

// recordOutcome classifies what happened to one record within a cycle
type recordOutcome int

const (
	recordDelivered recordOutcome = iota
	recordDuplicate
	recordRetrying
	recordDeadLettered
	recordSkipped
)

// processRecord takes one parsed record through normalize-claim-deliver
func (p *Pipeline) processRecord(ctx context.Context, handle ingestion.MessageHandle, index int, parsed ingestion.ParsedRecord, receivedAt time.Time, rawReference string) (recordOutcome, error) {
	if parsed.Err != nil {
		return p.deadLetterRecord(ctx, syntheticKey(handle, index), parsed.Err.Error())
	}

	orderID := strings.TrimSpace(parsed.Record.ExternalID)

	o, err := p.normalizer.Normalize(p.desc.ID, parsed.Record, receivedAt, rawReference)
	if err != nil {
		if ingestion.IsValidation(err) {
			key := orderID
			if key == "" {
				key = syntheticKey(handle, index)
			}
			p.logger.Warn("Record failed validation",
				zap.String("order_id", key),
				zap.Error(err),
			)
			return p.deadLetterRecord(ctx, key, err.Error())
		}
		return recordSkipped, err
	}

	result, err := p.ledger.Claim(ctx, p.desc.ID, o.OrderID)
	if err != nil {
		return recordSkipped, err
	}
	switch result {
	case ingestion.ClaimResultAlreadyDelivered, ingestion.ClaimResultDeadLettered:
		// Already terminal from an earlier cycle; nothing new happens
		return recordDuplicate, nil
	case ingestion.ClaimResultAlreadyInFlight:
		return recordSkipped, nil
	}

	return p.deliver(ctx, o)
}

// deliver submits one claimed order and settles the ledger from the outcome
func (p *Pipeline) deliver(ctx context.Context, o *order.Order) (recordOutcome, error) {
	if err := o.MarkProcessing(); err != nil {
		// A claimed order that cannot enter processing is defective
		if dlErr := p.ledger.MarkDeadLettered(ctx, p.desc.ID, o.OrderID, err.Error()); dlErr != nil {
			return recordSkipped, dlErr
		}
		return recordDeadLettered, nil
	}

	outcome, err := p.delivery.Deliver(ctx, o)
	if err != nil {
		// The submission could not be attempted; release the claim so the
		// next cycle retries immediately instead of waiting out staleness.
		if relErr := p.ledger.Release(ctx, p.desc.ID, o.OrderID); relErr != nil {
			p.logger.Error("Failed to release claim", zap.String("order_id", o.OrderID), zap.Error(relErr))
		}
		return recordSkipped, err
	}

	switch outcome.Code {
	case ingestion.OutcomeAccepted, ingestion.OutcomeDuplicate:
		if err := p.ledger.MarkDelivered(ctx, p.desc.ID, o.OrderID, outcome.ERPReference); err != nil {
			return recordSkipped, err
		}
		if outcome.ERPReference != "" {
			_ = o.AssignERPReference(outcome.ERPReference)
		}
		_ = o.MarkCompleted()
		if outcome.Code == ingestion.OutcomeDuplicate {
			return recordDuplicate, nil
		}
		p.logger.Info("Order delivered",
			zap.String("order_id", o.OrderID),
			zap.String("erp_reference", outcome.ERPReference),
		)
		return recordDelivered, nil

	case ingestion.OutcomeRejectedPermanently:
		o.MarkFailed()
		p.logger.Warn("Order rejected by ERP",
			zap.String("order_id", o.OrderID),
			zap.String("reason", outcome.Reason),
		)
		if err := p.ledger.MarkDeadLettered(ctx, p.desc.ID, o.OrderID, outcome.Reason); err != nil {
			return recordSkipped, err
		}
		return recordDeadLettered, nil

	default: // transient failure
		o.MarkFailed()
		return p.settleTransientFailure(ctx, o.OrderID, outcome.Reason)
	}
}

// settleTransientFailure either schedules a retry with exponential backoff or
// dead-letters the record once its attempts are exhausted
func (p *Pipeline) settleTransientFailure(ctx context.Context, orderID, reason string) (recordOutcome, error) {
	record, err := p.ledger.Get(ctx, p.desc.ID, orderID)
	if err != nil {
		return recordSkipped, err
	}

	if record.AttemptCount >= p.config.MaxDeliveryAttempts {
		exhausted := fmt.Sprintf("retries exhausted after %d attempts: %s", record.AttemptCount, reason)
		p.logger.Error("Order dead-lettered",
			zap.String("order_id", orderID),
			zap.Int("attempts", record.AttemptCount),
			zap.String("reason", reason),
		)
		if err := p.ledger.MarkDeadLettered(ctx, p.desc.ID, orderID, exhausted); err != nil {
			return recordSkipped, err
		}
		return recordDeadLettered, nil
	}

	nextAttemptAt := p.now().Add(p.backoff(record.AttemptCount))
	p.logger.Warn("Delivery failed, retry scheduled",
		zap.String("order_id", orderID),
		zap.Int("attempt", record.AttemptCount),
		zap.Time("next_attempt_at", nextAttemptAt),
		zap.String("reason", reason),
	)
	if err := p.ledger.MarkFailed(ctx, p.desc.ID, orderID, reason, nextAttemptAt); err != nil {
		return recordSkipped, err
	}
	return recordRetrying, nil
}

// backoff returns the delay before the given attempt's retry:
// base * 2^(attempt-1), capped
func (p *Pipeline) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.config.RetryBackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.config.RetryBackoffCap {
			return p.config.RetryBackoffCap
		}
	}
	if delay > p.config.RetryBackoffCap {
		delay = p.config.RetryBackoffCap
	}
	return delay
}

// deadLetterRecord claims and terminally fails a record that can never be
// delivered (parse or validation failure). The claim keeps the dead-letter
// idempotent across cycles: a record already terminal is left untouched.
func (p *Pipeline) deadLetterRecord(ctx context.Context, orderID, reason string) (recordOutcome, error) {
	result, err := p.ledger.Claim(ctx, p.desc.ID, orderID)
	if err != nil {
		return recordSkipped, err
	}
	switch result {
	case ingestion.ClaimResultAlreadyDelivered, ingestion.ClaimResultDeadLettered:
		return recordDuplicate, nil
	case ingestion.ClaimResultAlreadyInFlight:
		return recordSkipped, nil
	}
	if err := p.ledger.MarkDeadLettered(ctx, p.desc.ID, orderID, reason); err != nil {
		return recordSkipped, err
	}
	return recordDeadLettered, nil
}

// quarantineMessage dead-letters an unreadable payload under a synthetic key
// and acknowledges it so the cycle is not stuck forever
func (p *Pipeline) quarantineMessage(ctx context.Context, handle ingestion.MessageHandle, parseErr error, report *CycleReport) error {
	p.logger.Error("Unreadable payload quarantined",
		zap.String("message", handle.ID),
		zap.Error(parseErr),
	)
	outcome, err := p.deadLetterRecord(ctx, syntheticKey(handle, -1), parseErr.Error())
	if err != nil {
		return err
	}
	if outcome == recordDeadLettered {
		report.DeadLettered++
	}
	if err := p.acknowledge(ctx, handle); err != nil {
		p.logger.Warn("Failed to acknowledge quarantined message", zap.String("message", handle.ID), zap.Error(err))
		return nil
	}
	report.Acknowledged++
	return nil
}

func (p *Pipeline) acknowledge(ctx context.Context, handle ingestion.MessageHandle) error {
	if err := p.connector.Acknowledge(ctx, handle); err != nil {
		return err
	}
	p.logger.Debug("Message acknowledged", zap.String("message", handle.ID))
	return nil
}

// archiveRaw stores the payload for audit; archive failures degrade to the
// handle origin so ingestion never stalls on the audit path
func (p *Pipeline) archiveRaw(ctx context.Context, handle ingestion.MessageHandle, raw *ingestion.RawMessage) string {
	if p.archive == nil {
		return handle.Origin
	}
	ref, err := p.archive.Store(ctx, p.desc.ID, handle.ID, raw.Body)
	if err != nil {
		p.logger.Warn("Failed to archive raw payload", zap.String("message", handle.ID), zap.Error(err))
		return handle.Origin
	}
	return ref
}

// syntheticKey names a record that carries no usable natural key. The key is
// deterministic per (message, position) so re-polling the same message maps
// onto the same ledger row.
func syntheticKey(handle ingestion.MessageHandle, index int) string {
	if index < 0 {
		return "!payload/" + handle.ID
	}
	return fmt.Sprintf("!record/%s#%d", handle.ID, index)
}
