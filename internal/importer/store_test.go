package importer

import (
	"context"
	"database/sql"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turbolytics/stockroom/internal/source"
	"github.com/turbolytics/stockroom/internal/storage"
)

func newSQLJobStore(t *testing.T) *SQLJobStore {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, storage.Migrate(db, storage.DialectSQLite))
	return NewSQLJobStore(db, storage.DialectSQLite)
}

func TestSQLJobStore(t *testing.T) {
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		store := newSQLJobStore(t)

		job := NewJob("s3://bucket/products.csv", source.FormatCSV)
		require.NoError(t, store.Create(ctx, job))

		total := 100
		job.Status = StatusProcessing
		job.TotalRecords = &total
		job.ProcessedRecords = 40
		job.CreatedCount = 30
		job.UpdatedCount = 8
		job.SampleError("row missing required field name")
		require.NoError(t, store.Update(ctx, job))

		got, err := store.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, job.SourceURI, got.SourceURI)
		assert.Equal(t, StatusProcessing, got.Status)
		require.NotNil(t, got.TotalRecords)
		assert.Equal(t, 100, *got.TotalRecords)
		assert.Equal(t, 40, got.ProcessedRecords)
		assert.Equal(t, 1, got.ErrorCount)
		assert.Equal(t, []string{"row missing required field name"}, got.ErrorSample)
	})

	t.Run("get missing job", func(t *testing.T) {
		store := newSQLJobStore(t)
		_, err := store.Get(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrJobNotFound)
	})

	t.Run("update missing job", func(t *testing.T) {
		store := newSQLJobStore(t)
		job := NewJob("products.csv", source.FormatCSV)
		assert.ErrorIs(t, store.Update(ctx, job), ErrJobNotFound)
	})

	t.Run("terminal row stays terminal", func(t *testing.T) {
		store := newSQLJobStore(t)

		job := NewJob("products.csv", source.FormatCSV)
		require.NoError(t, store.Create(ctx, job))

		job.Status = StatusFailed
		job.ErrorSummary = ErrCancelled.Error()
		require.NoError(t, store.Update(ctx, job))

		job.Status = StatusCounting
		job.ErrorSummary = ""
		assert.ErrorIs(t, store.Update(ctx, job), ErrJobFinished)

		got, err := store.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, got.Status)
		assert.Equal(t, ErrCancelled.Error(), got.ErrorSummary)
	})

	t.Run("list newest first", func(t *testing.T) {
		store := newSQLJobStore(t)

		first := NewJob("a.csv", source.FormatCSV)
		require.NoError(t, store.Create(ctx, first))
		second := NewJob("b.csv", source.FormatCSV)
		second.CreatedAt = second.CreatedAt.Add(1)
		require.NoError(t, store.Create(ctx, second))

		jobs, err := store.List(ctx, 10, 0)
		require.NoError(t, err)
		require.Len(t, jobs, 2)
		assert.Equal(t, "b.csv", jobs[0].SourceURI)

		jobs, err = store.List(ctx, 1, 1)
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, "a.csv", jobs[0].SourceURI)
	})
}

func TestMemoryJobStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryJobStore()

	job := NewJob("products.csv", source.FormatCSV)
	require.NoError(t, store.Create(ctx, job))

	// mutations after Create are not visible until Update
	job.ProcessedRecords = 10
	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.ProcessedRecords)

	require.NoError(t, store.Update(ctx, job))
	got, err = store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.ProcessedRecords)

	_, err = store.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrJobNotFound)

	job.Status = StatusFailed
	require.NoError(t, store.Update(ctx, job))
	job.Status = StatusProcessing
	assert.ErrorIs(t, store.Update(ctx, job), ErrJobFinished)
}
