package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(store Store) *Dispatcher {
	return NewDispatcher(
		store,
		DispatcherWithBackoff(time.Millisecond),
	)
}

func TestDispatcher_Dispatch(t *testing.T) {
	t.Run("retries until success", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		store := NewMemoryStore()
		sub := store.Add(Subscription{
			URL:    srv.URL,
			Kind:   EventIngestionCompleted,
			Active: true,
		})

		d := newTestDispatcher(store)
		d.Dispatch(context.Background(), Payload{
			Event: EventIngestionCompleted,
			JobID: "job-1",
		})

		assert.Equal(t, int32(3), calls.Load())

		attempts, err := store.AttemptsBySubscription(context.Background(), sub.ID)
		require.NoError(t, err)
		require.Len(t, attempts, 3)
		assert.False(t, attempts[0].Success())
		assert.False(t, attempts[1].Success())
		assert.True(t, attempts[2].Success())
		for i, a := range attempts {
			assert.Equal(t, i+1, a.Attempt)
			assert.Equal(t, "job-1", a.JobID)
		}
	})

	t.Run("stops at attempt ceiling", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		store := NewMemoryStore()
		sub := store.Add(Subscription{
			URL:         srv.URL,
			Kind:        EventIngestionFailed,
			Active:      true,
			MaxAttempts: 2,
		})

		d := newTestDispatcher(store)
		d.Dispatch(context.Background(), Payload{Event: EventIngestionFailed})

		assert.Equal(t, int32(2), calls.Load())

		attempts, err := store.AttemptsBySubscription(context.Background(), sub.ID)
		require.NoError(t, err)
		require.Len(t, attempts, 2)
		for _, a := range attempts {
			assert.False(t, a.Success())
		}
	})

	t.Run("unreachable endpoint records transport errors", func(t *testing.T) {
		store := NewMemoryStore()
		sub := store.Add(Subscription{
			URL:    "http://127.0.0.1:1",
			Kind:   EventIngestionCompleted,
			Active: true,
		})

		d := newTestDispatcher(store)
		d.Dispatch(context.Background(), Payload{Event: EventIngestionCompleted})

		attempts, err := store.AttemptsBySubscription(context.Background(), sub.ID)
		require.NoError(t, err)
		require.Len(t, attempts, DefaultMaxAttempts)
		for _, a := range attempts {
			assert.Nil(t, a.StatusCode)
			assert.NotEmpty(t, a.TransportError)
		}
	})

	t.Run("fans out and skips inactive and other kinds", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		store := NewMemoryStore()
		store.Add(Subscription{URL: srv.URL, Kind: EventIngestionCompleted, Active: true})
		store.Add(Subscription{URL: srv.URL, Kind: EventIngestionCompleted, Active: true})
		store.Add(Subscription{URL: srv.URL, Kind: EventIngestionCompleted, Active: false})
		store.Add(Subscription{URL: srv.URL, Kind: EventIngestionFailed, Active: true})

		d := newTestDispatcher(store)
		d.Dispatch(context.Background(), Payload{Event: EventIngestionCompleted})

		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("signs requests when a secret is set", func(t *testing.T) {
		var gotSignature, gotEvent string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotSignature = r.Header.Get("X-Stockroom-Signature")
			gotEvent = r.Header.Get("X-Stockroom-Event")
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		store := NewMemoryStore()
		store.Add(Subscription{
			URL:    srv.URL,
			Kind:   EventIngestionCompleted,
			Active: true,
			Secret: "hunter2",
		})

		d := newTestDispatcher(store)
		d.Dispatch(context.Background(), Payload{Event: EventIngestionCompleted})

		assert.Contains(t, gotSignature, "sha256=")
		assert.Equal(t, string(EventIngestionCompleted), gotEvent)
	})

	t.Run("updates last delivery status on the subscription", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))
		defer srv.Close()

		store := NewMemoryStore()
		sub := store.Add(Subscription{
			URL:    srv.URL,
			Kind:   EventBulkDeleteCompleted,
			Active: true,
		})

		d := newTestDispatcher(store)
		d.Dispatch(context.Background(), Payload{Event: EventBulkDeleteCompleted})

		got, err := store.Get(context.Background(), sub.ID)
		require.NoError(t, err)
		require.NotNil(t, got.LastStatusCode)
		assert.Equal(t, http.StatusNoContent, *got.LastStatusCode)
		assert.NotNil(t, got.LastDeliveredAt)
	})
}

func TestDispatcher_Test(t *testing.T) {
	t.Run("delivers once to the named subscription", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		store := NewMemoryStore()
		sub := store.Add(Subscription{
			URL:    srv.URL,
			Kind:   EventIngestionCompleted,
			Active: false,
		})

		d := newTestDispatcher(store)
		attempts, err := d.Test(context.Background(), sub.ID)
		require.NoError(t, err)
		require.Len(t, attempts, 1)
		assert.True(t, attempts[0].Success())
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("unknown subscription", func(t *testing.T) {
		d := newTestDispatcher(NewMemoryStore())
		_, err := d.Test(context.Background(), uuid.New())
		assert.ErrorIs(t, err, ErrSubscriptionNotFound)
	})
}
