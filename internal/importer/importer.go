package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/turbolytics/stockroom/internal/objectstore"
	"github.com/turbolytics/stockroom/internal/product"
	"github.com/turbolytics/stockroom/internal/source"
)

var ErrCancelled = errors.New("import cancelled")

const (
	// DefaultBatchSize applies when the total is unknown and no explicit
	// size is configured. Batch size trades progress granularity for
	// throughput, it is not a correctness parameter.
	DefaultBatchSize = 2000

	minBatchSize = 500
	maxBatchSize = 5000
)

// adaptiveBatchSize aims for roughly one progress update per percent of the
// file, clamped to keep bulk statements reasonable.
func adaptiveBatchSize(total int) int {
	if total <= 0 {
		return DefaultBatchSize
	}
	n := total / 100
	if n < minBatchSize {
		n = minBatchSize
	}
	if n > maxBatchSize {
		n = maxBatchSize
	}
	return n
}

// TerminalHook runs after a job reaches Completed or Failed, once per job.
// Webhook dispatch hangs off this; failures there never touch the job.
type TerminalHook func(ctx context.Context, job Job)

type ControllerOption func(*Controller)

func WithLogger(logger *zap.Logger) ControllerOption {
	return func(c *Controller) {
		c.logger = logger
	}
}

func WithJob(job *Job) ControllerOption {
	return func(c *Controller) {
		c.job = job
	}
}

func WithJobStore(store JobStore) ControllerOption {
	return func(c *Controller) {
		c.store = store
	}
}

func WithCatalog(cat Catalog) ControllerOption {
	return func(c *Controller) {
		c.catalog = cat
	}
}

func WithOpener(opener objectstore.Opener) ControllerOption {
	return func(c *Controller) {
		c.opener = opener
	}
}

func WithBroker(broker *Broker) ControllerOption {
	return func(c *Controller) {
		c.broker = broker
	}
}

func WithBatchSize(n int) ControllerOption {
	return func(c *Controller) {
		c.batchSize = n
	}
}

func WithTerminalHook(hook TerminalHook) ControllerOption {
	return func(c *Controller) {
		c.terminalHook = hook
	}
}

// Controller drives one ingestion job end-to-end: the counting pass, the
// batched processing pass, state transitions and progress publication. A
// controller is owned by exactly one worker for the job's whole lifetime.
type Controller struct {
	job     *Job
	store   JobStore
	catalog Catalog
	opener  objectstore.Opener
	broker  *Broker
	fsm     *FSM

	batchSize    int
	terminalHook TerminalHook
	logger       *zap.Logger

	cancelRequested atomic.Bool
}

func NewController(opts ...ControllerOption) *Controller {
	c := &Controller{
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.broker == nil {
		c.broker = NewBroker()
	}
	c.fsm = NewFSM(
		FSMWithInitialStatus(c.job.Status),
		FSMWithLogger(c.logger.Named("fsm")),
	)
	return c
}

// RequestCancel asks the controller to stop before its next batch.
// Cancellation is cooperative; the in-flight batch still commits.
func (c *Controller) RequestCancel() {
	c.cancelRequested.Store(true)
}

// Run executes the job. The returned error is the fatal cause for Failed
// jobs and nil for Completed ones; the job record carries the same outcome.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info("starting import",
		zap.String("job_id", c.job.ID.String()),
		zap.String("source_uri", c.job.SourceURI),
		zap.String("format", string(c.job.Format)),
	)

	if err := c.transition(ctx, StatusCounting); err != nil {
		return c.fail(ctx, err)
	}

	total, err := c.countPass(ctx)
	if err != nil {
		return c.fail(ctx, fmt.Errorf("counting source rows: %w", err))
	}
	c.job.TotalRecords = &total

	c.logger.Info("counting pass finished",
		zap.String("job_id", c.job.ID.String()),
		zap.Int("total_records", total),
	)

	if err := c.transition(ctx, StatusProcessing); err != nil {
		return c.fail(ctx, err)
	}

	if total > 0 {
		if err := c.processPass(ctx); err != nil {
			return c.fail(ctx, err)
		}
	}

	return c.complete(ctx)
}

// countPass opens the first streaming pass and counts data rows without
// decoding beyond row boundaries.
func (c *Controller) countPass(ctx context.Context) (int, error) {
	reader, err := c.openReader(ctx)
	if err != nil {
		return 0, err
	}
	defer reader.Close()

	// header row is not a data row
	count := -1
	for {
		if _, err := reader.Next(); err != nil {
			if err == io.EOF {
				break
			}
			return 0, err
		}
		count++
	}
	if count < 0 {
		count = 0
	}
	return count, nil
}

// processPass reopens the source and applies it in batches. Row-level
// decode failures are sampled and skipped; reader and storage failures
// abort the job.
func (c *Controller) processPass(ctx context.Context) error {
	reader, err := c.openReader(ctx)
	if err != nil {
		return err
	}
	defer reader.Close()

	header, err := reader.Next()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading header row: %w", err)
	}

	codec, err := product.NewCodec(header)
	if err != nil {
		return err
	}

	batchSize := c.batchSize
	if batchSize <= 0 {
		batchSize = adaptiveBatchSize(*c.job.TotalRecords)
	}

	batch := make([]product.Product, 0, batchSize)
	done := false
	for !done {
		if err := c.checkCancelled(ctx); err != nil {
			return err
		}

		batch = batch[:0]
		rowsRead := 0
		for rowsRead < batchSize {
			row, err := reader.Next()
			if err == io.EOF {
				done = true
				break
			}
			if err != nil {
				return fmt.Errorf("reading source row: %w", err)
			}
			rowsRead++

			p, err := codec.Decode(row)
			if err != nil {
				c.job.SampleError(err.Error())
				continue
			}
			batch = append(batch, p)
		}

		if rowsRead == 0 {
			continue
		}
		if err := c.commitBatch(ctx, batch, rowsRead); err != nil {
			return err
		}
	}

	return nil
}

func (c *Controller) commitBatch(ctx context.Context, batch []product.Product, rowsRead int) error {
	result, err := c.catalog.UpsertBatch(ctx, Dedup(batch))
	if err != nil {
		return fmt.Errorf("upserting batch: %w", err)
	}

	c.job.ProcessedRecords += rowsRead
	c.job.CreatedCount += result.Created
	c.job.UpdatedCount += result.Updated

	if err := c.store.Update(ctx, c.job); err != nil {
		if errors.Is(err, ErrJobFinished) {
			return fmt.Errorf("%w: job already terminal", ErrCancelled)
		}
		return fmt.Errorf("persisting job progress: %w", err)
	}

	c.broker.Publish(c.job.ID, c.job.Progress())
	return nil
}

func (c *Controller) checkCancelled(ctx context.Context) error {
	if c.cancelRequested.Load() {
		return ErrCancelled
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %s", ErrCancelled, err)
	}
	return nil
}

func (c *Controller) openReader(ctx context.Context) (source.RowReader, error) {
	rc, err := c.opener.Open(ctx)
	if err != nil {
		return nil, err
	}
	return source.NewRowReader(c.job.Format, rc)
}

func (c *Controller) transition(ctx context.Context, to Status) error {
	if err := c.fsm.Transition(to); err != nil {
		return err
	}
	c.job.Status = to

	// A cancel that lands before the worker registers marks the row
	// terminal in the store; the guarded update surfaces it here.
	if err := c.store.Update(ctx, c.job); err != nil {
		if errors.Is(err, ErrJobFinished) {
			return fmt.Errorf("%w: job already terminal", ErrCancelled)
		}
		return err
	}

	// a zero-row job publishes its single 100% snapshot with the terminal
	// event instead of on entering Processing
	if to == StatusProcessing && c.job.TotalRecords != nil && *c.job.TotalRecords == 0 {
		return nil
	}

	c.broker.Publish(c.job.ID, c.job.Progress())
	return nil
}

func (c *Controller) complete(ctx context.Context) error {
	if err := c.fsm.Transition(StatusCompleted); err != nil {
		return c.fail(ctx, err)
	}
	c.job.Status = StatusCompleted

	if err := c.store.Update(ctx, c.job); err != nil {
		if errors.Is(err, ErrJobFinished) {
			// The persisted outcome and its terminal event stand.
			return fmt.Errorf("%w: job already terminal", ErrCancelled)
		}
		c.logger.Error("persisting completed job", zap.Error(err))
	}

	c.logger.Info("import completed",
		zap.String("job_id", c.job.ID.String()),
		zap.Int("processed", c.job.ProcessedRecords),
		zap.Int("created", c.job.CreatedCount),
		zap.Int("updated", c.job.UpdatedCount),
		zap.Int("errors", c.job.ErrorCount),
	)

	c.broker.Publish(c.job.ID, c.job.Progress())

	if c.terminalHook != nil {
		c.terminalHook(ctx, *c.job)
	}
	return nil
}

// fail moves the job to Failed with cause as its error summary. Batches
// committed before the failure stay applied; counters already reflect only
// committed batches.
func (c *Controller) fail(ctx context.Context, cause error) error {
	c.job.ErrorSummary = cause.Error()

	if err := c.fsm.Transition(StatusFailed); err != nil {
		c.logger.Error("transitioning to failed", zap.Error(err))
	}
	c.job.Status = StatusFailed

	if err := c.store.Update(ctx, c.job); err != nil {
		if errors.Is(err, ErrJobFinished) {
			// The store already holds a terminal record and its terminal
			// event was published; do not announce a second one.
			return cause
		}
		c.logger.Error("persisting failed job", zap.Error(err))
	}

	c.logger.Error("import failed",
		zap.String("job_id", c.job.ID.String()),
		zap.Error(cause),
	)

	c.broker.Publish(c.job.ID, c.job.Progress())

	if c.terminalHook != nil {
		c.terminalHook(ctx, *c.job)
	}
	return cause
}
