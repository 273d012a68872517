package scheduler

import "errors"

var (
	// ErrSchedulerNotRunning is returned when an operation requires a started scheduler
	ErrSchedulerNotRunning = errors.New("scheduler: not running")
	// ErrSchedulerRunning is returned when sources are registered after Start
	ErrSchedulerRunning = errors.New("scheduler: already running")
	// ErrInvalidConfig is returned for invalid scheduler configuration
	ErrInvalidConfig = errors.New("scheduler: invalid configuration")
	// ErrSourceAlreadyRegistered is returned for duplicate source registration
	ErrSourceAlreadyRegistered = errors.New("scheduler: source already registered")
	// ErrSourceNotRegistered is returned when a source id is unknown
	ErrSourceNotRegistered = errors.New("scheduler: source not registered")
	// ErrCycleInProgress is returned when a manual trigger overlaps a running cycle
	ErrCycleInProgress = errors.New("scheduler: cycle already in progress")
)
