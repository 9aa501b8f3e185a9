package webhook

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/turbolytics/stockroom/internal/storage"
)

var ErrSubscriptionNotFound = errors.New("subscription not found")

// Store reads subscriptions and appends delivery records.
type Store interface {
	ActiveByKind(ctx context.Context, kind EventKind) ([]Subscription, error)
	Get(ctx context.Context, id uuid.UUID) (*Subscription, error)
	RecordAttempt(ctx context.Context, attempt DeliveryAttempt) error
	UpdateDeliveryStatus(ctx context.Context, id uuid.UUID, statusCode *int, latency time.Duration, at time.Time) error
	AttemptsBySubscription(ctx context.Context, id uuid.UUID) ([]DeliveryAttempt, error)
}

type SQLStore struct {
	db      *sql.DB
	dialect storage.Dialect
}

func NewSQLStore(db *sql.DB, dialect storage.Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

const subscriptionColumns = `
	id, url, event_kind, secret, active, max_attempts,
	last_status_code, last_latency_ms, last_delivered_at, created_at`

func (s *SQLStore) ActiveByKind(ctx context.Context, kind EventKind) ([]Subscription, error) {
	query := s.dialect.Rebind(fmt.Sprintf(`
		SELECT %s FROM webhook_subscriptions
		WHERE event_kind = ? AND active`, subscriptionColumns))

	rows, err := s.db.QueryContext(ctx, query, string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

func (s *SQLStore) Get(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	query := s.dialect.Rebind(fmt.Sprintf(`
		SELECT %s FROM webhook_subscriptions WHERE id = ?`, subscriptionColumns))

	sub, err := scanSubscription(s.db.QueryRowContext(ctx, query, id.String()))
	if err == sql.ErrNoRows {
		return nil, ErrSubscriptionNotFound
	}
	return sub, err
}

// Create exists for the management surface and fixtures; the dispatcher
// itself never creates subscriptions.
func (s *SQLStore) Create(ctx context.Context, sub *Subscription) error {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}

	query := s.dialect.Rebind(`
		INSERT INTO webhook_subscriptions (
			id, url, event_kind, secret, active, max_attempts, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.db.ExecContext(ctx, query,
		sub.ID.String(), sub.URL, string(sub.Kind), sub.Secret,
		sub.Active, sub.MaxAttempts, sub.CreatedAt,
	)
	return err
}

func (s *SQLStore) RecordAttempt(ctx context.Context, attempt DeliveryAttempt) error {
	query := s.dialect.Rebind(`
		INSERT INTO webhook_delivery_attempts (
			id, subscription_id, job_id, event_kind, attempt, status_code,
			transport_error, latency_ms, payload, attempted_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	var code any
	if attempt.StatusCode != nil {
		code = *attempt.StatusCode
	}

	_, err := s.db.ExecContext(ctx, query,
		attempt.ID.String(), attempt.SubscriptionID.String(), attempt.JobID,
		string(attempt.Kind), attempt.Attempt, code,
		attempt.TransportError, attempt.LatencyMs, attempt.Payload,
		attempt.AttemptedAt,
	)
	return err
}

func (s *SQLStore) UpdateDeliveryStatus(ctx context.Context, id uuid.UUID, statusCode *int, latency time.Duration, at time.Time) error {
	query := s.dialect.Rebind(`
		UPDATE webhook_subscriptions SET
			last_status_code = ?, last_latency_ms = ?, last_delivered_at = ?
		WHERE id = ?`)

	var code any
	if statusCode != nil {
		code = *statusCode
	}

	_, err := s.db.ExecContext(ctx, query, code, latency.Milliseconds(), at, id.String())
	return err
}

func (s *SQLStore) AttemptsBySubscription(ctx context.Context, id uuid.UUID) ([]DeliveryAttempt, error) {
	query := s.dialect.Rebind(`
		SELECT id, subscription_id, job_id, event_kind, attempt, status_code,
			transport_error, latency_ms, payload, attempted_at
		FROM webhook_delivery_attempts
		WHERE subscription_id = ?
		ORDER BY attempted_at, attempt`)

	rows, err := s.db.QueryContext(ctx, query, id.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []DeliveryAttempt
	for rows.Next() {
		var (
			a       DeliveryAttempt
			id      string
			subID   string
			kind    string
			code    sql.NullInt64
			moment  time.Time
			transep sql.NullString
		)
		err := rows.Scan(&id, &subID, &a.JobID, &kind, &a.Attempt, &code,
			&transep, &a.LatencyMs, &a.Payload, &moment)
		if err != nil {
			return nil, err
		}
		a.ID, err = uuid.Parse(id)
		if err != nil {
			return nil, err
		}
		a.SubscriptionID, err = uuid.Parse(subID)
		if err != nil {
			return nil, err
		}
		a.Kind = EventKind(kind)
		if code.Valid {
			n := int(code.Int64)
			a.StatusCode = &n
		}
		if transep.Valid {
			a.TransportError = transep.String
		}
		a.AttemptedAt = moment
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

type subscriptionScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row subscriptionScanner) (*Subscription, error) {
	var (
		sub     Subscription
		id      string
		kind    string
		code    sql.NullInt64
		latency sql.NullInt64
		at      sql.NullTime
	)

	err := row.Scan(&id, &sub.URL, &kind, &sub.Secret, &sub.Active,
		&sub.MaxAttempts, &code, &latency, &at, &sub.CreatedAt)
	if err != nil {
		return nil, err
	}

	sub.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, err
	}
	sub.Kind = EventKind(kind)
	if code.Valid {
		n := int(code.Int64)
		sub.LastStatusCode = &n
	}
	if latency.Valid {
		n := latency.Int64
		sub.LastLatencyMs = &n
	}
	if at.Valid {
		t := at.Time
		sub.LastDeliveredAt = &t
	}
	return &sub, nil
}

// MemoryStore backs tests and embedded use.
type MemoryStore struct {
	mu       sync.Mutex
	subs     map[uuid.UUID]Subscription
	attempts []DeliveryAttempt
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subs: make(map[uuid.UUID]Subscription)}
}

func (s *MemoryStore) Add(sub Subscription) Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	s.subs[sub.ID] = sub
	return sub
}

func (s *MemoryStore) ActiveByKind(ctx context.Context, kind EventKind) ([]Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var subs []Subscription
	for _, sub := range s.subs {
		if sub.Active && sub.Kind == kind {
			subs = append(subs, sub)
		}
	}
	return subs, nil
}

func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return &sub, nil
}

func (s *MemoryStore) RecordAttempt(ctx context.Context, attempt DeliveryAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, attempt)
	return nil
}

func (s *MemoryStore) UpdateDeliveryStatus(ctx context.Context, id uuid.UUID, statusCode *int, latency time.Duration, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[id]
	if !ok {
		return ErrSubscriptionNotFound
	}
	sub.LastStatusCode = statusCode
	ms := latency.Milliseconds()
	sub.LastLatencyMs = &ms
	sub.LastDeliveredAt = &at
	s.subs[id] = sub
	return nil
}

func (s *MemoryStore) AttemptsBySubscription(ctx context.Context, id uuid.UUID) ([]DeliveryAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var attempts []DeliveryAttempt
	for _, a := range s.attempts {
		if a.SubscriptionID == id {
			attempts = append(attempts, a)
		}
	}
	return attempts, nil
}
