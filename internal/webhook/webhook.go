package webhook

import (
	"time"

	"github.com/google/uuid"
)

// EventKind tags the terminal events subscriptions can register for.
type EventKind string

const (
	EventIngestionCompleted  EventKind = "ingestion.completed"
	EventIngestionFailed     EventKind = "ingestion.failed"
	EventBulkDeleteCompleted EventKind = "bulk_delete.completed"
)

// Subscription is one configured webhook endpoint. Subscriptions are managed
// by an external surface; the dispatcher only reads them and records
// delivery outcomes.
type Subscription struct {
	ID     uuid.UUID `json:"id"`
	URL    string    `json:"url"`
	Kind   EventKind `json:"event_kind"`
	Secret string    `json:"-"`
	Active bool      `json:"active"`

	// MaxAttempts caps retries per dispatch; 0 falls back to the
	// dispatcher default.
	MaxAttempts int `json:"max_attempts"`

	LastStatusCode  *int       `json:"last_status_code,omitempty"`
	LastLatencyMs   *int64     `json:"last_latency_ms,omitempty"`
	LastDeliveredAt *time.Time `json:"last_delivered_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Payload is the body POSTed to subscribed endpoints.
type Payload struct {
	Event        EventKind `json:"event"`
	JobID        string    `json:"job_id,omitempty"`
	TotalRecords *int      `json:"total_records,omitempty"`
	Processed    int       `json:"processed_records"`
	Created      int       `json:"created_count"`
	Updated      int       `json:"updated_count"`
	Errors       int       `json:"error_count"`
	ErrorSummary string    `json:"error_summary,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// DeliveryAttempt records one outbound call, success or failure.
// Attempts are append-only.
type DeliveryAttempt struct {
	ID             uuid.UUID `json:"id"`
	SubscriptionID uuid.UUID `json:"subscription_id"`
	JobID          string    `json:"job_id,omitempty"`
	Kind           EventKind `json:"event_kind"`
	Attempt        int       `json:"attempt"`

	// StatusCode is nil when the call failed before an HTTP response.
	StatusCode     *int   `json:"status_code,omitempty"`
	TransportError string `json:"transport_error,omitempty"`

	LatencyMs   int64     `json:"latency_ms"`
	Payload     string    `json:"payload"`
	AttemptedAt time.Time `json:"attempted_at"`
}

// Success reports whether the attempt got a 2xx response.
func (a DeliveryAttempt) Success() bool {
	return a.StatusCode != nil && *a.StatusCode >= 200 && *a.StatusCode < 300
}
