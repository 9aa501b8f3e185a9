package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/turbolytics/stockroom/internal/objectstore"
	"github.com/turbolytics/stockroom/internal/source"
)

var (
	ErrQueueFull   = errors.New("import queue full")
	ErrJobFinished = errors.New("job already finished")
)

const defaultQueueSize = 64

// OpenerFactory builds the byte-stream opener for a source URI. Injected so
// the service stays independent of which schemes are configured.
type OpenerFactory func(uri string) (objectstore.Opener, error)

type ServiceOption func(*Service)

func ServiceWithLogger(logger *zap.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

func ServiceWithJobStore(store JobStore) ServiceOption {
	return func(s *Service) {
		s.store = store
	}
}

func ServiceWithCatalog(cat Catalog) ServiceOption {
	return func(s *Service) {
		s.catalog = cat
	}
}

func ServiceWithBroker(broker *Broker) ServiceOption {
	return func(s *Service) {
		s.broker = broker
	}
}

func ServiceWithWorkers(n int) ServiceOption {
	return func(s *Service) {
		s.workers = n
	}
}

func ServiceWithBatchSize(n int) ServiceOption {
	return func(s *Service) {
		s.batchSize = n
	}
}

func ServiceWithOpenerFactory(f OpenerFactory) ServiceOption {
	return func(s *Service) {
		s.openerFactory = f
	}
}

func ServiceWithTerminalHook(hook TerminalHook) ServiceOption {
	return func(s *Service) {
		s.terminalHook = hook
	}
}

// Service accepts ingestion jobs and runs them on a fixed pool of workers.
// Each job is owned by exactly one worker for its entire lifetime.
type Service struct {
	logger        *zap.Logger
	store         JobStore
	catalog       Catalog
	broker        *Broker
	workers       int
	batchSize     int
	openerFactory OpenerFactory
	terminalHook  TerminalHook

	queue chan uuid.UUID

	mu      sync.Mutex
	running map[uuid.UUID]*Controller

	wg sync.WaitGroup
}

func NewService(opts ...ServiceOption) *Service {
	s := &Service{
		logger:  zap.NewNop(),
		workers: 4,
		queue:   make(chan uuid.UUID, defaultQueueSize),
		running: make(map[uuid.UUID]*Controller),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.broker == nil {
		s.broker = NewBroker()
	}
	if s.openerFactory == nil {
		s.openerFactory = func(uri string) (objectstore.Opener, error) {
			return objectstore.NewOpener(uri)
		}
	}
	return s
}

func (s *Service) Broker() *Broker {
	return s.broker
}

// Start launches the worker pool. Workers exit when ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}
	s.logger.Info("import workers started", zap.Int("workers", s.workers))
}

// Wait blocks until all workers have exited.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) worker(ctx context.Context, id int) {
	defer s.wg.Done()

	logger := s.logger.Named(fmt.Sprintf("worker-%d", id))
	for {
		select {
		case <-ctx.Done():
			return
		case jobID := <-s.queue:
			s.runJob(ctx, logger, jobID)
		}
	}
}

func (s *Service) runJob(ctx context.Context, logger *zap.Logger, jobID uuid.UUID) {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		logger.Error("loading queued job", zap.String("job_id", jobID.String()), zap.Error(err))
		return
	}
	// cancelled while still queued
	if job.Status.Terminal() {
		return
	}

	controller := NewController(
		WithLogger(logger),
		WithJob(job),
		WithJobStore(s.store),
		WithCatalog(s.catalog),
		WithBroker(s.broker),
		WithBatchSize(s.batchSize),
		WithTerminalHook(s.terminalHook),
		WithOpener(s.opener(job)),
	)

	s.mu.Lock()
	s.running[jobID] = controller
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, jobID)
		s.mu.Unlock()
	}()

	// Run handles its own terminal bookkeeping; the error is already
	// recorded on the job.
	_ = controller.Run(ctx)
}

type openerFunc func(ctx context.Context) (io.ReadCloser, error)

func (f openerFunc) Open(ctx context.Context) (io.ReadCloser, error) {
	return f(ctx)
}

// opener defers URI resolution to job start so an unreachable scheme fails
// the job rather than the submit call.
func (s *Service) opener(job *Job) objectstore.Opener {
	return openerFunc(func(ctx context.Context) (io.ReadCloser, error) {
		o, err := s.openerFactory(job.SourceURI)
		if err != nil {
			return nil, err
		}
		return o.Open(ctx)
	})
}

// Submit accepts a new ingestion job and queues it for a worker.
func (s *Service) Submit(ctx context.Context, sourceURI string, format source.Format) (uuid.UUID, error) {
	if _, err := source.ParseFormat(string(format)); err != nil {
		return uuid.Nil, err
	}

	job := NewJob(sourceURI, format)
	if err := s.store.Create(ctx, job); err != nil {
		return uuid.Nil, fmt.Errorf("persisting job: %w", err)
	}

	select {
	case s.queue <- job.ID:
	default:
		job.Status = StatusFailed
		job.ErrorSummary = ErrQueueFull.Error()
		if err := s.store.Update(ctx, job); err != nil {
			s.logger.Error("persisting rejected job", zap.Error(err))
		}
		return uuid.Nil, ErrQueueFull
	}

	s.logger.Info("job submitted",
		zap.String("job_id", job.ID.String()),
		zap.String("source_uri", sourceURI),
	)
	return job.ID, nil
}

// Cancel requests cooperative cancellation. A running job stops before its
// next batch; a queued job fails before it starts.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	controller, ok := s.running[id]
	s.mu.Unlock()

	if ok {
		controller.RequestCancel()
		return nil
	}

	job, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return ErrJobFinished
	}

	job.Status = StatusFailed
	job.ErrorSummary = ErrCancelled.Error()
	if err := s.store.Update(ctx, job); err != nil {
		return err
	}
	s.broker.Publish(job.ID, job.Progress())
	return nil
}

// Get returns a snapshot of the job.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	return s.store.Get(ctx, id)
}

// List returns recent jobs, newest first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]Job, error) {
	return s.store.List(ctx, limit, offset)
}
