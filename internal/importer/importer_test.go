package importer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turbolytics/stockroom/internal/catalog"
	"github.com/turbolytics/stockroom/internal/objectstore"
	"github.com/turbolytics/stockroom/internal/product"
	"github.com/turbolytics/stockroom/internal/source"
)

type fakeCatalog struct {
	mu       sync.Mutex
	products map[string]product.Product

	// failOnBatch fails the nth UpsertBatch call (1-based); 0 never fails.
	failOnBatch int
	batches     int
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{products: make(map[string]product.Product)}
}

func (f *fakeCatalog) UpsertBatch(ctx context.Context, products []product.Product) (catalog.UpsertResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.batches++
	if f.failOnBatch > 0 && f.batches == f.failOnBatch {
		return catalog.UpsertResult{}, errors.New("storage unavailable")
	}

	var result catalog.UpsertResult
	for _, p := range products {
		if _, ok := f.products[p.SKU]; ok {
			result.Updated++
		} else {
			result.Created++
		}
		f.products[p.SKU] = p
	}
	return result, nil
}

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "products.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func newTestController(t *testing.T, job *Job, cat Catalog, opts ...ControllerOption) (*Controller, *MemoryJobStore, *Broker) {
	t.Helper()

	store := NewMemoryJobStore()
	require.NoError(t, store.Create(context.Background(), job))

	broker := NewBroker()

	opener, err := objectstore.NewOpener(job.SourceURI)
	require.NoError(t, err)

	all := append([]ControllerOption{
		WithJob(job),
		WithJobStore(store),
		WithCatalog(cat),
		WithOpener(opener),
		WithBroker(broker),
	}, opts...)

	return NewController(all...), store, broker
}

func TestControllerRun(t *testing.T) {
	ctx := context.Background()

	t.Run("well-formed file completes with matching counters", func(t *testing.T) {
		path := writeCSV(t, "sku,name,description\na1,X,\nb2,Y,\nc3,Z,\n")
		job := NewJob(path, source.FormatCSV)
		cat := newFakeCatalog()

		controller, store, _ := newTestController(t, job, cat)
		require.NoError(t, controller.Run(ctx))

		got, err := store.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, got.Status)
		require.NotNil(t, got.TotalRecords)
		assert.Equal(t, 3, *got.TotalRecords)
		assert.Equal(t, 3, got.ProcessedRecords)
		assert.Equal(t, 3, got.CreatedCount+got.UpdatedCount)
		assert.Equal(t, 0, got.ErrorCount)
	})

	t.Run("case-insensitive dedup keeps the later row", func(t *testing.T) {
		path := writeCSV(t, "sku,name\nA1,X\na1,Y\nB2,Z\n")
		job := NewJob(path, source.FormatCSV)
		cat := newFakeCatalog()

		controller, store, _ := newTestController(t, job, cat)
		require.NoError(t, controller.Run(ctx))

		assert.Len(t, cat.products, 2)
		assert.Equal(t, "Y", cat.products["a1"].Name)
		assert.Equal(t, "Z", cat.products["b2"].Name)

		got, err := store.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.CreatedCount)
		assert.Equal(t, 0, got.UpdatedCount)
	})

	t.Run("rerunning the same file is idempotent", func(t *testing.T) {
		path := writeCSV(t, "sku,name\na1,X\nb2,Y\n")
		cat := newFakeCatalog()

		first := NewJob(path, source.FormatCSV)
		controller, store, _ := newTestController(t, first, cat)
		require.NoError(t, controller.Run(ctx))

		second := NewJob(path, source.FormatCSV)
		require.NoError(t, store.Create(ctx, second))
		opener, err := objectstore.NewOpener(path)
		require.NoError(t, err)
		rerun := NewController(
			WithJob(second),
			WithJobStore(store),
			WithCatalog(cat),
			WithOpener(opener),
		)
		require.NoError(t, rerun.Run(ctx))

		got, err := store.Get(ctx, second.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, got.CreatedCount)
		assert.Equal(t, 2, got.UpdatedCount)
		assert.Len(t, cat.products, 2)
	})

	t.Run("header-only file completes at 100 percent", func(t *testing.T) {
		path := writeCSV(t, "sku,name\n")
		job := NewJob(path, source.FormatCSV)

		controller, store, broker := newTestController(t, job, newFakeCatalog())
		ch, cancel := broker.Subscribe(job.ID)
		defer cancel()

		require.NoError(t, controller.Run(ctx))

		got, err := store.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, got.Status)
		require.NotNil(t, got.TotalRecords)
		assert.Equal(t, 0, *got.TotalRecords)

		var hundreds int
		for p := range ch {
			if p.Percent == 100 {
				hundreds++
				assert.True(t, p.Terminal)
			}
		}
		assert.Equal(t, 1, hundreds)
	})

	t.Run("malformed rows are sampled and skipped", func(t *testing.T) {
		path := writeCSV(t, "sku,name\na1,X\n,missing-sku\nb2,\nc3,Z\n")
		job := NewJob(path, source.FormatCSV)
		cat := newFakeCatalog()

		controller, store, _ := newTestController(t, job, cat)
		require.NoError(t, controller.Run(ctx))

		got, err := store.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, got.Status)
		assert.Equal(t, 4, got.ProcessedRecords)
		assert.Equal(t, 2, got.ErrorCount)
		assert.Len(t, got.ErrorSample, 2)
		assert.Equal(t, 2, got.CreatedCount)
		assert.Empty(t, got.ErrorSummary)
	})

	t.Run("storage failure on batch K keeps earlier batches", func(t *testing.T) {
		path := writeCSV(t, "sku,name\na1,X\nb2,Y\nc3,Z\n")
		job := NewJob(path, source.FormatCSV)
		cat := newFakeCatalog()
		cat.failOnBatch = 2

		controller, store, _ := newTestController(t, job, cat, WithBatchSize(1))
		err := controller.Run(ctx)
		require.Error(t, err)

		got, err := store.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, got.Status)
		assert.Contains(t, got.ErrorSummary, "storage unavailable")
		// counters reflect only the committed batch
		assert.Equal(t, 1, got.ProcessedRecords)
		assert.Equal(t, 1, got.CreatedCount)
		assert.Len(t, cat.products, 1)
		assert.Contains(t, cat.products, "a1")
	})

	t.Run("cancellation stops before the next batch", func(t *testing.T) {
		path := writeCSV(t, "sku,name\na1,X\nb2,Y\n")
		job := NewJob(path, source.FormatCSV)
		cat := newFakeCatalog()

		controller, store, _ := newTestController(t, job, cat, WithBatchSize(1))
		controller.RequestCancel()

		err := controller.Run(ctx)
		assert.ErrorIs(t, err, ErrCancelled)

		got, err := store.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, got.Status)
		assert.Contains(t, got.ErrorSummary, "cancelled")
		assert.Empty(t, cat.products)
	})

	t.Run("cancel racing job start does not revive the job", func(t *testing.T) {
		path := writeCSV(t, "sku,name\na1,X\nb2,Y\n")
		job := NewJob(path, source.FormatCSV)
		cat := newFakeCatalog()

		var hookCalls int
		controller, store, _ := newTestController(t, job, cat,
			WithTerminalHook(func(ctx context.Context, j Job) {
				hookCalls++
			}),
		)

		// A cancel lands after the worker loads the job but before its
		// first transition, the way Service.Cancel records one for a job
		// it does not find running.
		cancelled, err := store.Get(ctx, job.ID)
		require.NoError(t, err)
		cancelled.Status = StatusFailed
		cancelled.ErrorSummary = ErrCancelled.Error()
		require.NoError(t, store.Update(ctx, cancelled))

		err = controller.Run(ctx)
		assert.ErrorIs(t, err, ErrCancelled)

		got, err := store.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, got.Status)
		assert.Equal(t, ErrCancelled.Error(), got.ErrorSummary)
		assert.Empty(t, cat.products)
		assert.Equal(t, 0, hookCalls)
	})

	t.Run("unreadable source fails the job", func(t *testing.T) {
		job := NewJob(filepath.Join(t.TempDir(), "missing.csv"), source.FormatCSV)

		controller, store, _ := newTestController(t, job, newFakeCatalog())
		require.Error(t, controller.Run(ctx))

		got, err := store.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, got.Status)
		assert.NotEmpty(t, got.ErrorSummary)
	})

	t.Run("progress is monotonic and terminal is observed", func(t *testing.T) {
		var content = "sku,name\n"
		for i := 0; i < 10; i++ {
			content += fmt.Sprintf("sku-%d,Product %d\n", i, i)
		}
		path := writeCSV(t, content)
		job := NewJob(path, source.FormatCSV)

		controller, _, broker := newTestController(t, job, newFakeCatalog(), WithBatchSize(3))
		ch, cancel := broker.Subscribe(job.ID)
		defer cancel()

		require.NoError(t, controller.Run(ctx))

		last := float64(-1)
		sawTerminal := false
		for p := range ch {
			assert.GreaterOrEqual(t, p.Percent, last)
			last = p.Percent
			sawTerminal = sawTerminal || p.Terminal
		}
		assert.True(t, sawTerminal)
		assert.Equal(t, float64(100), last)
	})

	t.Run("terminal hook fires once with final counters", func(t *testing.T) {
		path := writeCSV(t, "sku,name\na1,X\n")
		job := NewJob(path, source.FormatCSV)

		var calls []Job
		controller, _, _ := newTestController(t, job, newFakeCatalog(),
			WithTerminalHook(func(ctx context.Context, j Job) {
				calls = append(calls, j)
			}),
		)
		require.NoError(t, controller.Run(ctx))

		require.Len(t, calls, 1)
		assert.Equal(t, StatusCompleted, calls[0].Status)
		assert.Equal(t, 1, calls[0].CreatedCount)
	})
}

func TestAdaptiveBatchSize(t *testing.T) {
	assert.Equal(t, DefaultBatchSize, adaptiveBatchSize(0))
	assert.Equal(t, minBatchSize, adaptiveBatchSize(100))
	assert.Equal(t, 1000, adaptiveBatchSize(100_000))
	assert.Equal(t, maxBatchSize, adaptiveBatchSize(10_000_000))
}
