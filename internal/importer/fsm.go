package importer

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrInvalidTransition = fmt.Errorf("invalid state transition")
)

// Status is the lifecycle state of an ingestion job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusCounting   Status = "counting"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type FSM struct {
	mu          sync.Mutex
	Transitions map[Status]map[Status]struct{}

	current Status
	logger  *zap.Logger
}

type FSMOption func(*FSM)

func FSMWithLogger(logger *zap.Logger) FSMOption {
	return func(f *FSM) {
		f.logger = logger
	}
}

func FSMWithInitialStatus(status Status) FSMOption {
	return func(f *FSM) {
		f.current = status
	}
}

func NewFSM(opts ...FSMOption) *FSM {
	f := &FSM{
		current: StatusPending,
		logger:  zap.NewNop(),

		Transitions: map[Status]map[Status]struct{}{
			StatusPending: {
				StatusCounting: {},
				StatusFailed:   {}, // Initialization error before the first pass
			},
			StatusCounting: {
				StatusProcessing: {},
				StatusFailed:     {},
			},
			StatusProcessing: {
				StatusCompleted: {},
				StatusFailed:    {},
			},
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *FSM) Current() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *FSM) canTransition(to Status) bool {
	if _, ok := f.Transitions[f.current][to]; ok {
		return true
	}
	return false
}

func (f *FSM) Transition(to Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.canTransition(to) {
		f.logger.Error("Invalid state transition",
			zap.String("from", string(f.current)),
			zap.String("to", string(to)),
		)
		return ErrInvalidTransition
	}
	previous := f.current
	f.current = to

	f.logger.Info("State transitioned",
		zap.String("state", string(f.current)),
		zap.String("from", string(previous)),
	)
	return nil
}
