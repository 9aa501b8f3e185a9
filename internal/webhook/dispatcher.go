package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultMaxAttempts = 3
	DefaultTimeout     = 10 * time.Second
	DefaultBackoff     = 1 * time.Second

	signatureHeader = "X-Stockroom-Signature"
	eventHeader     = "X-Stockroom-Event"
)

type DispatcherOption func(*Dispatcher)

func DispatcherWithLogger(l *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

func DispatcherWithClient(c *http.Client) DispatcherOption {
	return func(d *Dispatcher) {
		d.client = c
	}
}

func DispatcherWithMaxAttempts(n int) DispatcherOption {
	return func(d *Dispatcher) {
		d.maxAttempts = n
	}
}

func DispatcherWithBackoff(b time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.backoff = b
	}
}

// Dispatcher delivers terminal events to every active subscription for the
// event's kind. Delivery failures never influence the state of the job that
// produced the event.
type Dispatcher struct {
	store       Store
	client      *http.Client
	maxAttempts int
	backoff     time.Duration
	logger      *zap.Logger
}

func NewDispatcher(store Store, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		store:       store,
		maxAttempts: DefaultMaxAttempts,
		backoff:     DefaultBackoff,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.client == nil {
		d.client = &http.Client{Timeout: DefaultTimeout}
	}
	return d
}

// Dispatch fans the payload out to every active subscription for its event
// kind. Each subscription is retried independently; one endpoint failing
// does not stop delivery to the others.
func (d *Dispatcher) Dispatch(ctx context.Context, payload Payload) {
	subs, err := d.store.ActiveByKind(ctx, payload.Event)
	if err != nil {
		d.logger.Error("loading subscriptions", zap.Error(err),
			zap.String("event", string(payload.Event)))
		return
	}

	for _, sub := range subs {
		d.deliver(ctx, sub, payload)
	}
}

// Test performs a single delivery cycle against one subscription and returns
// the attempts made, regardless of the subscription's active flag.
func (d *Dispatcher) Test(ctx context.Context, id uuid.UUID) ([]DeliveryAttempt, error) {
	sub, err := d.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	payload := Payload{
		Event:     sub.Kind,
		Timestamp: time.Now().UTC(),
	}
	return d.deliver(ctx, *sub, payload), nil
}

func (d *Dispatcher) deliver(ctx context.Context, sub Subscription, payload Payload) []DeliveryAttempt {
	body, err := json.Marshal(payload)
	if err != nil {
		d.logger.Error("marshaling payload", zap.Error(err))
		return nil
	}

	max := sub.MaxAttempts
	if max <= 0 {
		max = d.maxAttempts
	}

	var attempts []DeliveryAttempt
	for i := 1; i <= max; i++ {
		if i > 1 {
			select {
			case <-ctx.Done():
				return attempts
			case <-time.After(d.backoff * time.Duration(i-1)):
			}
		}

		attempt := d.post(ctx, sub, payload, body, i)
		attempts = append(attempts, attempt)

		if err := d.store.RecordAttempt(ctx, attempt); err != nil {
			d.logger.Error("recording delivery attempt", zap.Error(err),
				zap.String("subscription_id", sub.ID.String()))
		}

		err := d.store.UpdateDeliveryStatus(ctx, sub.ID, attempt.StatusCode,
			time.Duration(attempt.LatencyMs)*time.Millisecond, attempt.AttemptedAt)
		if err != nil {
			d.logger.Error("updating delivery status", zap.Error(err),
				zap.String("subscription_id", sub.ID.String()))
		}

		if attempt.Success() {
			d.logger.Info("webhook delivered",
				zap.String("subscription_id", sub.ID.String()),
				zap.String("event", string(payload.Event)),
				zap.Int("attempt", i),
			)
			return attempts
		}

		d.logger.Warn("webhook delivery failed",
			zap.String("subscription_id", sub.ID.String()),
			zap.String("event", string(payload.Event)),
			zap.Int("attempt", i),
			zap.String("transport_error", attempt.TransportError),
		)
	}
	return attempts
}

func (d *Dispatcher) post(ctx context.Context, sub Subscription, payload Payload, body []byte, attemptNum int) DeliveryAttempt {
	attempt := DeliveryAttempt{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		JobID:          payload.JobID,
		Kind:           payload.Event,
		Attempt:        attemptNum,
		Payload:        string(body),
		AttemptedAt:    time.Now().UTC(),
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		attempt.TransportError = err.Error()
		return attempt
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(eventHeader, string(payload.Event))
	if sub.Secret != "" {
		req.Header.Set(signatureHeader, sign(sub.Secret, body))
	}

	start := time.Now()
	resp, err := d.client.Do(req)
	attempt.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		attempt.TransportError = err.Error()
		return attempt
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	code := resp.StatusCode
	attempt.StatusCode = &code
	return attempt
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
