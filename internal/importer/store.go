package importer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/turbolytics/stockroom/internal/source"
	"github.com/turbolytics/stockroom/internal/storage"
)

var ErrJobNotFound = errors.New("job not found")

// JobStore persists ingestion jobs: the externally visible upload history.
type JobStore interface {
	Create(ctx context.Context, job *Job) error
	Update(ctx context.Context, job *Job) error
	Get(ctx context.Context, id uuid.UUID) (*Job, error)
	List(ctx context.Context, limit, offset int) ([]Job, error)
}

// SQLJobStore keeps jobs in the shared SQL store.
type SQLJobStore struct {
	db      *sql.DB
	dialect storage.Dialect
}

func NewSQLJobStore(db *sql.DB, dialect storage.Dialect) *SQLJobStore {
	return &SQLJobStore{db: db, dialect: dialect}
}

func (s *SQLJobStore) Create(ctx context.Context, job *Job) error {
	sample, err := json.Marshal(job.ErrorSample)
	if err != nil {
		return err
	}

	query := s.dialect.Rebind(`
		INSERT INTO import_jobs (
			id, source_uri, format, status, total_records, processed_records,
			created_count, updated_count, error_count, error_sample,
			error_summary, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err = s.db.ExecContext(ctx, query,
		job.ID.String(), job.SourceURI, string(job.Format), string(job.Status),
		nullableInt(job.TotalRecords), job.ProcessedRecords,
		job.CreatedCount, job.UpdatedCount, job.ErrorCount, string(sample),
		nullableString(job.ErrorSummary), job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting job: %w", err)
	}
	return nil
}

// Update persists the job. A row that is already Completed or Failed never
// changes again; updates against it return ErrJobFinished so a worker racing
// a cancel cannot revive the job.
func (s *SQLJobStore) Update(ctx context.Context, job *Job) error {
	sample, err := json.Marshal(job.ErrorSample)
	if err != nil {
		return err
	}

	job.UpdatedAt = time.Now().UTC()

	query := s.dialect.Rebind(`
		UPDATE import_jobs SET
			status = ?, total_records = ?, processed_records = ?,
			created_count = ?, updated_count = ?, error_count = ?,
			error_sample = ?, error_summary = ?, updated_at = ?
		WHERE id = ? AND status NOT IN (?, ?)`)

	res, err := s.db.ExecContext(ctx, query,
		string(job.Status), nullableInt(job.TotalRecords), job.ProcessedRecords,
		job.CreatedCount, job.UpdatedCount, job.ErrorCount,
		string(sample), nullableString(job.ErrorSummary), job.UpdatedAt,
		job.ID.String(), string(StatusCompleted), string(StatusFailed),
	)
	if err != nil {
		return fmt.Errorf("updating job: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.Get(ctx, job.ID); err != nil {
			return err
		}
		return ErrJobFinished
	}
	return nil
}

func (s *SQLJobStore) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	query := s.dialect.Rebind(`
		SELECT id, source_uri, format, status, total_records,
			processed_records, created_count, updated_count, error_count,
			error_sample, error_summary, created_at, updated_at
		FROM import_jobs WHERE id = ?`)

	job, err := scanJob(s.db.QueryRowContext(ctx, query, id.String()))
	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	return job, err
}

func (s *SQLJobStore) List(ctx context.Context, limit, offset int) ([]Job, error) {
	if limit <= 0 {
		limit = 20
	}

	query := s.dialect.Rebind(`
		SELECT id, source_uri, format, status, total_records,
			processed_records, created_count, updated_count, error_count,
			error_sample, error_summary, created_at, updated_at
		FROM import_jobs ORDER BY created_at DESC LIMIT ? OFFSET ?`)

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		job     Job
		id      string
		format  string
		status  string
		total   sql.NullInt64
		sample  string
		summary sql.NullString
	)

	err := row.Scan(
		&id, &job.SourceURI, &format, &status, &total,
		&job.ProcessedRecords, &job.CreatedCount, &job.UpdatedCount,
		&job.ErrorCount, &sample, &summary, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parsing job id %q: %w", id, err)
	}
	job.Format = source.Format(format)
	job.Status = Status(status)
	if total.Valid {
		n := int(total.Int64)
		job.TotalRecords = &n
	}
	if summary.Valid {
		job.ErrorSummary = summary.String
	}
	if err := json.Unmarshal([]byte(sample), &job.ErrorSample); err != nil {
		return nil, fmt.Errorf("parsing error sample: %w", err)
	}

	return &job, nil
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// MemoryJobStore is an in-process store used by tests and one-shot imports.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]Job
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[uuid.UUID]Job)}
}

func (s *MemoryJobStore) Create(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryJobStore) Update(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.jobs[job.ID]
	if !ok {
		return ErrJobNotFound
	}
	if existing.Status.Terminal() {
		return ErrJobFinished
	}
	job.UpdatedAt = time.Now().UTC()
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryJobStore) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	out := cloneJob(&job)
	return &out, nil
}

func (s *MemoryJobStore) List(ctx context.Context, limit, offset int) ([]Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}

	jobs := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})

	if offset >= len(jobs) {
		return nil, nil
	}
	jobs = jobs[offset:]
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func cloneJob(job *Job) Job {
	out := *job
	out.TotalRecords = nil
	if job.TotalRecords != nil {
		n := *job.TotalRecords
		out.TotalRecords = &n
	}
	out.ErrorSample = append([]string(nil), job.ErrorSample...)
	return out
}
