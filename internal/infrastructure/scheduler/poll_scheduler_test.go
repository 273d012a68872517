package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appingestion "github.com/orderbridge/backend/internal/application/ingestion"
	"github.com/orderbridge/backend/internal/domain/ingestion"
)

// ---------------------------------------------------------------------------
// Test Helpers
// ---------------------------------------------------------------------------

func newTestLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

// mockRunner implements CycleRunner for testing
type mockRunner struct {
	id       string
	runFunc  func(ctx context.Context) (appingestion.CycleReport, error)
	runCount int32
}

func (m *mockRunner) SourceID() string { return m.id }

func (m *mockRunner) RunCycle(ctx context.Context) (appingestion.CycleReport, error) {
	atomic.AddInt32(&m.runCount, 1)
	if m.runFunc != nil {
		return m.runFunc(ctx)
	}
	return appingestion.CycleReport{SourceID: m.id, Delivered: 1}, nil
}

func (m *mockRunner) runs() int32 { return atomic.LoadInt32(&m.runCount) }

// ---------------------------------------------------------------------------
// Configuration Tests
// ---------------------------------------------------------------------------

func TestPollSchedulerConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  PollSchedulerConfig
		wantErr bool
	}{
		{
			name:    "valid default config",
			config:  DefaultPollSchedulerConfig(),
			wantErr: false,
		},
		{
			name:    "invalid max concurrent sources",
			config:  PollSchedulerConfig{MaxConcurrentSources: 0, CycleTimeout: time.Minute},
			wantErr: true,
		},
		{
			name:    "invalid cycle timeout",
			config:  PollSchedulerConfig{MaxConcurrentSources: 2, CycleTimeout: 0},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewPollScheduler_InvalidConfig(t *testing.T) {
	s, err := NewPollScheduler(PollSchedulerConfig{}, newTestLogger())
	assert.Error(t, err)
	assert.Nil(t, s)
}

// ---------------------------------------------------------------------------
// Registration Tests
// ---------------------------------------------------------------------------

func TestPollScheduler_Register(t *testing.T) {
	s, err := NewPollScheduler(DefaultPollSchedulerConfig(), newTestLogger())
	require.NoError(t, err)

	require.NoError(t, s.Register(&mockRunner{id: "acme-sftp"}, time.Minute))

	err = s.Register(&mockRunner{id: "acme-sftp"}, time.Minute)
	assert.ErrorIs(t, err, ErrSourceAlreadyRegistered)

	err = s.Register(&mockRunner{id: "acme-rest"}, 0)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestPollScheduler_RegisterAfterStart(t *testing.T) {
	s, err := NewPollScheduler(DefaultPollSchedulerConfig(), newTestLogger())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	defer stopScheduler(t, s)

	err = s.Register(&mockRunner{id: "late"}, time.Minute)
	assert.ErrorIs(t, err, ErrSchedulerRunning)
}

// ---------------------------------------------------------------------------
// Lifecycle Tests
// ---------------------------------------------------------------------------

func stopScheduler(t *testing.T, s *PollScheduler) {
	t.Helper()
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(stopCtx))
}

func TestPollScheduler_StartStop(t *testing.T) {
	s, err := NewPollScheduler(DefaultPollSchedulerConfig(), newTestLogger())
	require.NoError(t, err)
	require.NoError(t, s.Register(&mockRunner{id: "acme-sftp"}, time.Minute))

	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	// Start again is idempotent
	require.NoError(t, s.Start(ctx))

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(stopCtx))
	// Stop again is idempotent
	require.NoError(t, s.Stop(stopCtx))
}

func TestPollScheduler_RunsImmediatelyThenOnInterval(t *testing.T) {
	s, err := NewPollScheduler(DefaultPollSchedulerConfig(), newTestLogger())
	require.NoError(t, err)

	runner := &mockRunner{id: "acme-rest"}
	require.NoError(t, s.Register(runner, 20*time.Millisecond))

	require.NoError(t, s.Start(context.Background()))
	time.Sleep(100 * time.Millisecond)
	stopScheduler(t, s)

	// One immediate cycle plus at least one tick
	assert.GreaterOrEqual(t, runner.runs(), int32(2))
}

func TestPollScheduler_TransientFailureKeepsPolling(t *testing.T) {
	s, err := NewPollScheduler(DefaultPollSchedulerConfig(), newTestLogger())
	require.NoError(t, err)

	runner := &mockRunner{
		id: "acme-rest",
		runFunc: func(context.Context) (appingestion.CycleReport, error) {
			return appingestion.CycleReport{}, ingestion.NewTransientSourceError("acme-rest", "list", errors.New("connection reset"))
		},
	}
	require.NoError(t, s.Register(runner, 20*time.Millisecond))

	require.NoError(t, s.Start(context.Background()))
	time.Sleep(100 * time.Millisecond)
	stopScheduler(t, s)

	assert.GreaterOrEqual(t, runner.runs(), int32(2), "transient failures must not stop the loop")

	status := s.Snapshot()
	require.Len(t, status, 1)
	assert.False(t, status[0].Disabled)
	assert.Contains(t, status[0].LastError, "connection reset")
	assert.Greater(t, status[0].CyclesFailed, int64(0))
}

func TestPollScheduler_FatalConfigurationDisablesSource(t *testing.T) {
	s, err := NewPollScheduler(DefaultPollSchedulerConfig(), newTestLogger())
	require.NoError(t, err)

	runner := &mockRunner{
		id: "acme-rest",
		runFunc: func(context.Context) (appingestion.CycleReport, error) {
			return appingestion.CycleReport{}, &ingestion.FatalConfigurationError{SourceID: "acme-rest", Reason: "bad credentials"}
		},
	}
	healthy := &mockRunner{id: "acme-sftp"}
	require.NoError(t, s.Register(runner, 10*time.Millisecond))
	require.NoError(t, s.Register(healthy, 10*time.Millisecond))

	require.NoError(t, s.Start(context.Background()))
	time.Sleep(100 * time.Millisecond)
	stopScheduler(t, s)

	assert.Equal(t, int32(1), runner.runs(), "a fatally misconfigured source must not be re-polled")
	assert.GreaterOrEqual(t, healthy.runs(), int32(2), "other sources keep polling")

	for _, status := range s.Snapshot() {
		if status.SourceID == "acme-rest" {
			assert.True(t, status.Disabled)
		} else {
			assert.False(t, status.Disabled)
		}
	}
}

// ---------------------------------------------------------------------------
// Trigger and Snapshot Tests
// ---------------------------------------------------------------------------

func TestPollScheduler_TriggerNow(t *testing.T) {
	s, err := NewPollScheduler(DefaultPollSchedulerConfig(), newTestLogger())
	require.NoError(t, err)

	runner := &mockRunner{id: "acme-rest"}
	require.NoError(t, s.Register(runner, time.Hour))

	ctx := context.Background()
	err = s.TriggerNow(ctx, "acme-rest")
	assert.ErrorIs(t, err, ErrSchedulerNotRunning)

	require.NoError(t, s.Start(ctx))
	defer stopScheduler(t, s)
	time.Sleep(50 * time.Millisecond) // let the immediate cycle finish

	before := runner.runs()
	require.NoError(t, s.TriggerNow(ctx, "acme-rest"))
	assert.Equal(t, before+1, runner.runs())

	err = s.TriggerNow(ctx, "nope")
	assert.ErrorIs(t, err, ErrSourceNotRegistered)
}

func TestPollScheduler_TriggerNowNeverOverlapsScheduledCycle(t *testing.T) {
	s, err := NewPollScheduler(DefaultPollSchedulerConfig(), newTestLogger())
	require.NoError(t, err)

	var inFlight, maxInFlight int32
	runner := &mockRunner{
		id: "acme-rest",
		runFunc: func(context.Context) (appingestion.CycleReport, error) {
			cur := atomic.AddInt32(&inFlight, 1)
			for {
				prev := atomic.LoadInt32(&maxInFlight)
				if cur <= prev || atomic.CompareAndSwapInt32(&maxInFlight, prev, cur) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			return appingestion.CycleReport{SourceID: "acme-rest"}, nil
		},
	}
	require.NoError(t, s.Register(runner, 10*time.Millisecond))

	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	// Hammer manual triggers while the loop is cycling on its own
	var refused int32
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if err := s.TriggerNow(ctx, "acme-rest"); errors.Is(err, ErrCycleInProgress) {
					atomic.AddInt32(&refused, 1)
				}
				time.Sleep(2 * time.Millisecond)
			}
		}()
	}
	wg.Wait()
	stopScheduler(t, s)

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInFlight), "cycles for one source must never overlap")
	assert.Greater(t, runner.runs(), int32(1))
	assert.Greater(t, atomic.LoadInt32(&refused), int32(0), "triggers during a cycle are refused, not queued")
}

func TestPollScheduler_Snapshot(t *testing.T) {
	s, err := NewPollScheduler(DefaultPollSchedulerConfig(), newTestLogger())
	require.NoError(t, err)

	require.NoError(t, s.Register(&mockRunner{id: "acme-sftp"}, time.Hour))
	require.NoError(t, s.Register(&mockRunner{id: "acme-rest"}, time.Hour))

	require.NoError(t, s.Start(context.Background()))
	time.Sleep(50 * time.Millisecond)
	stopScheduler(t, s)

	status := s.Snapshot()
	require.Len(t, status, 2)
	assert.Equal(t, "acme-sftp", status[0].SourceID)
	assert.Equal(t, "acme-rest", status[1].SourceID)

	for _, st := range status {
		assert.Equal(t, int64(1), st.CyclesTotal)
		require.NotNil(t, st.LastReport)
		assert.Equal(t, 1, st.LastReport.Delivered)
		assert.False(t, st.LastCycleAt.IsZero())
	}
}
