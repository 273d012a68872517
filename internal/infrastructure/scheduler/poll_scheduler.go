package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	appingestion "github.com/orderbridge/backend/internal/application/ingestion"
	"github.com/orderbridge/backend/internal/domain/ingestion"
)

// ---------------------------------------------------------------------------
// Cycle Runner
// ---------------------------------------------------------------------------

// CycleRunner executes one poll cycle for one source
type CycleRunner interface {
	SourceID() string
	RunCycle(ctx context.Context) (appingestion.CycleReport, error)
}

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// PollSchedulerConfig holds poll scheduler configuration
type PollSchedulerConfig struct {
	Enabled bool
	// MaxConcurrentSources bounds how many source cycles run at once
	MaxConcurrentSources int
	// CycleTimeout bounds a single cycle's execution
	CycleTimeout time.Duration
}

// DefaultPollSchedulerConfig returns default poll scheduler configuration
func DefaultPollSchedulerConfig() PollSchedulerConfig {
	return PollSchedulerConfig{
		Enabled:              true,
		MaxConcurrentSources: 4,
		CycleTimeout:         10 * time.Minute,
	}
}

// Validate checks the configuration
func (c PollSchedulerConfig) Validate() error {
	if c.MaxConcurrentSources < 1 {
		return fmt.Errorf("%w: max_concurrent_sources must be at least 1", ErrInvalidConfig)
	}
	if c.CycleTimeout <= 0 {
		return fmt.Errorf("%w: cycle_timeout must be positive", ErrInvalidConfig)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Source Status
// ---------------------------------------------------------------------------

// SourceStatus is a point-in-time view of one source's polling state
type SourceStatus struct {
	SourceID     string                    `json:"source_id"`
	PollInterval time.Duration             `json:"poll_interval"`
	InFlight     bool                      `json:"in_flight"`
	Disabled     bool                      `json:"disabled"`
	CyclesTotal  int64                     `json:"cycles_total"`
	CyclesFailed int64                     `json:"cycles_failed"`
	LastCycleAt  time.Time                 `json:"last_cycle_at"`
	LastError    string                    `json:"last_error,omitempty"`
	LastReport   *appingestion.CycleReport `json:"last_report,omitempty"`
}

// sourceState tracks one registered source
type sourceState struct {
	runner   CycleRunner
	interval time.Duration

	mu           sync.Mutex
	inFlight     bool
	disabled     bool
	cyclesTotal  int64
	cyclesFailed int64
	lastCycleAt  time.Time
	lastError    string
	lastReport   *appingestion.CycleReport
}

// ---------------------------------------------------------------------------
// Poll Scheduler
// ---------------------------------------------------------------------------

// PollScheduler drives all registered sources: one polling loop per source at
// its configured interval, total concurrency bounded by a semaphore. A single
// source's cycles never overlap (each source has exactly one loop goroutine).
//
// A fatal configuration error reported by a cycle disables the source until
// restart; transient cycle failures are logged and retried on the next tick.
type PollScheduler struct {
	config PollSchedulerConfig
	logger *zap.Logger

	sem     chan struct{}
	sources map[string]*sourceState
	// order preserves registration order for stable snapshots
	order []string

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewPollScheduler creates a poll scheduler
func NewPollScheduler(config PollSchedulerConfig, logger *zap.Logger) (*PollScheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &PollScheduler{
		config:  config,
		logger:  logger,
		sem:     make(chan struct{}, config.MaxConcurrentSources),
		sources: make(map[string]*sourceState),
	}, nil
}

// Register adds a source before the scheduler starts
func (s *PollScheduler) Register(runner CycleRunner, pollInterval time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return ErrSchedulerRunning
	}
	id := runner.SourceID()
	if _, exists := s.sources[id]; exists {
		return fmt.Errorf("%w: %s", ErrSourceAlreadyRegistered, id)
	}
	if pollInterval <= 0 {
		return fmt.Errorf("%w: poll interval must be positive for source %s", ErrInvalidConfig, id)
	}
	s.sources[id] = &sourceState{runner: runner, interval: pollInterval}
	s.order = append(s.order, id)
	return nil
}

// Start launches one polling loop per registered source
func (s *PollScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for _, id := range s.order {
		st := s.sources[id]
		s.wg.Add(1)
		go s.pollLoop(ctx, st)
	}

	s.logger.Info("Poll scheduler started",
		zap.Int("sources", len(s.sources)),
		zap.Int("max_concurrent", s.config.MaxConcurrentSources),
		zap.Duration("cycle_timeout", s.config.CycleTimeout),
	)
	return nil
}

// Stop gracefully stops the scheduler, waiting for in-flight cycles
func (s *PollScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Poll scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Poll scheduler stop timed out")
		return ctx.Err()
	}
}

// TriggerNow runs one cycle for a source immediately, outside its schedule.
// The in-flight claim inside runCycle keeps a manual cycle from ever
// overlapping a scheduled one; if the source is mid-cycle the trigger is
// refused with ErrCycleInProgress.
func (s *PollScheduler) TriggerNow(ctx context.Context, sourceID string) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	st, ok := s.sources[sourceID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSourceNotRegistered, sourceID)
	}

	return s.runCycle(ctx, st)
}

// Snapshot returns the polling status of every source in registration order
func (s *PollScheduler) Snapshot() []SourceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]SourceStatus, 0, len(s.order))
	for _, id := range s.order {
		st := s.sources[id]
		st.mu.Lock()
		status := SourceStatus{
			SourceID:     id,
			PollInterval: st.interval,
			InFlight:     st.inFlight,
			Disabled:     st.disabled,
			CyclesTotal:  st.cyclesTotal,
			CyclesFailed: st.cyclesFailed,
			LastCycleAt:  st.lastCycleAt,
			LastError:    st.lastError,
		}
		if st.lastReport != nil {
			report := *st.lastReport
			status.LastReport = &report
		}
		st.mu.Unlock()
		out = append(out, status)
	}
	return out
}

// pollLoop runs cycles for one source at its interval until shutdown
func (s *PollScheduler) pollLoop(ctx context.Context, st *sourceState) {
	defer s.wg.Done()

	logger := s.logger.With(zap.String("source_id", st.runner.SourceID()))
	logger.Debug("Polling loop started", zap.Duration("interval", st.interval))

	// First cycle runs immediately so a restart drains backlog without
	// waiting out the interval
	if err := s.runCycle(ctx, st); s.isFatal(err, st, logger) {
		return
	}

	ticker := time.NewTicker(st.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Polling loop stopping")
			return
		case <-ticker.C:
			if err := s.runCycle(ctx, st); s.isFatal(err, st, logger) {
				return
			}
		}
	}
}

// isFatal disables the source on configuration errors that re-polling
// cannot fix
func (s *PollScheduler) isFatal(err error, st *sourceState, logger *zap.Logger) bool {
	if err == nil || !ingestion.IsFatalConfiguration(err) {
		return false
	}
	st.mu.Lock()
	st.disabled = true
	st.mu.Unlock()
	logger.Error("Source disabled until restart", zap.Error(err))
	return true
}

// runCycle executes one bounded cycle under the concurrency semaphore.
// The in-flight flag is claimed atomically before anything else runs, so a
// manual trigger and a scheduled tick can never cycle the same source
// concurrently: the loser returns ErrCycleInProgress without touching the
// source's stats.
func (s *PollScheduler) runCycle(ctx context.Context, st *sourceState) error {
	st.mu.Lock()
	if st.inFlight {
		st.mu.Unlock()
		return ErrCycleInProgress
	}
	st.inFlight = true
	st.mu.Unlock()
	defer func() {
		st.mu.Lock()
		st.inFlight = false
		st.mu.Unlock()
	}()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.sem }()

	cycleCtx, cancel := context.WithTimeout(ctx, s.config.CycleTimeout)
	report, err := st.runner.RunCycle(cycleCtx)
	cancel()

	st.mu.Lock()
	st.cyclesTotal++
	st.lastCycleAt = time.Now()
	st.lastReport = &report
	if err != nil {
		st.cyclesFailed++
		st.lastError = err.Error()
	} else {
		st.lastError = ""
	}
	st.mu.Unlock()

	if err != nil && ctx.Err() == nil && !ingestion.IsFatalConfiguration(err) {
		s.logger.Warn("Ingestion cycle failed",
			zap.String("source_id", st.runner.SourceID()),
			zap.Error(err),
		)
	}
	return err
}
