package importer

import (
	"time"

	"github.com/google/uuid"

	"github.com/turbolytics/stockroom/internal/source"
)

// DefaultErrorSampleLimit caps how many row-level error messages a job keeps.
const DefaultErrorSampleLimit = 50

// errorSampleEllipsis marks that more errors occurred than were sampled.
const errorSampleEllipsis = "..."

// Job is one end-to-end ingestion run against one source file. It is owned
// by the worker processing it; everyone else reads copies through the store.
type Job struct {
	ID        uuid.UUID     `json:"id"`
	SourceURI string        `json:"source_uri"`
	Format    source.Format `json:"format"`
	Status    Status        `json:"status"`

	// TotalRecords is nil until the counting pass finishes.
	TotalRecords     *int `json:"total_records"`
	ProcessedRecords int  `json:"processed_records"`
	CreatedCount     int  `json:"created_count"`
	UpdatedCount     int  `json:"updated_count"`
	ErrorCount       int  `json:"error_count"`

	// ErrorSample holds up to sampleLimit row-level error messages; an
	// ellipsis entry marks truncation. ErrorSummary is only set on Failed
	// jobs and describes the fatal error, not the row-level ones.
	ErrorSample  []string `json:"error_sample,omitempty"`
	ErrorSummary string   `json:"error_summary,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	sampleLimit int
}

func NewJob(sourceURI string, format source.Format) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:          uuid.New(),
		SourceURI:   sourceURI,
		Format:      format,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		sampleLimit: DefaultErrorSampleLimit,
	}
}

// SampleError counts a row-level error and keeps the message if the sample
// is not full yet.
func (j *Job) SampleError(msg string) {
	j.ErrorCount++

	limit := j.sampleLimit
	if limit <= 0 {
		limit = DefaultErrorSampleLimit
	}

	switch {
	case len(j.ErrorSample) < limit:
		j.ErrorSample = append(j.ErrorSample, msg)
	case len(j.ErrorSample) == limit:
		j.ErrorSample = append(j.ErrorSample, errorSampleEllipsis)
	}
}

// Percent derives the progress percentage. A job with zero data rows is 100%
// as soon as processing starts.
func (j *Job) Percent() float64 {
	if j.Status == StatusCompleted {
		return 100
	}
	if j.TotalRecords == nil {
		return 0
	}
	if *j.TotalRecords == 0 {
		if j.Status == StatusProcessing {
			return 100
		}
		return 0
	}
	return float64(j.ProcessedRecords) / float64(*j.TotalRecords) * 100
}

// Progress builds the snapshot published to subscribers.
func (j *Job) Progress() Progress {
	return Progress{
		JobID:            j.ID,
		Status:           j.Status,
		TotalRecords:     j.TotalRecords,
		ProcessedRecords: j.ProcessedRecords,
		CreatedCount:     j.CreatedCount,
		UpdatedCount:     j.UpdatedCount,
		ErrorCount:       j.ErrorCount,
		Percent:          j.Percent(),
		Terminal:         j.Status.Terminal(),
		At:               time.Now().UTC(),
	}
}
