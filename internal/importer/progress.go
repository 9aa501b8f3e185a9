package importer

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Progress is one point-in-time view of a running job, published after each
// batch commit and on every state transition.
type Progress struct {
	JobID            uuid.UUID `json:"job_id"`
	Status           Status    `json:"status"`
	TotalRecords     *int      `json:"total_records"`
	ProcessedRecords int       `json:"processed_records"`
	CreatedCount     int       `json:"created_count"`
	UpdatedCount     int       `json:"updated_count"`
	ErrorCount       int       `json:"error_count"`
	Percent          float64   `json:"percent"`
	Terminal         bool      `json:"terminal"`
	At               time.Time `json:"at"`
}

// DefaultSubscriberBuffer bounds how many unread snapshots a subscriber may
// lag behind before old ones are dropped.
const DefaultSubscriberBuffer = 16

type subscriber struct {
	ch chan Progress
}

type BrokerOption func(*Broker)

func BrokerWithLogger(logger *zap.Logger) BrokerOption {
	return func(b *Broker) {
		b.logger = logger
	}
}

func BrokerWithBufferSize(n int) BrokerOption {
	return func(b *Broker) {
		b.buffer = n
	}
}

// Broker fans progress snapshots out to per-job subscribers. Publishing
// never blocks: when a subscriber's buffer is full the oldest unread
// snapshot is dropped. Terminal events are never dropped; after one is
// delivered the subscription channel is closed.
type Broker struct {
	mu     sync.Mutex
	subs   map[uuid.UUID]map[*subscriber]struct{}
	buffer int
	logger *zap.Logger
}

func NewBroker(opts ...BrokerOption) *Broker {
	b := &Broker{
		subs:   make(map[uuid.UUID]map[*subscriber]struct{}),
		buffer: DefaultSubscriberBuffer,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe returns a channel of snapshots for one job and a cancel
// function. The channel is closed after the terminal event or on cancel.
func (b *Broker) Subscribe(jobID uuid.UUID) (<-chan Progress, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{ch: make(chan Progress, b.buffer)}

	if b.subs[jobID] == nil {
		b.subs[jobID] = make(map[*subscriber]struct{})
	}
	b.subs[jobID][sub] = struct{}{}

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if set, ok := b.subs[jobID]; ok {
			if _, ok := set[sub]; ok {
				delete(set, sub)
				close(sub.ch)
			}
		}
	}

	return sub.ch, cancel
}

// Publish delivers a snapshot to every subscriber of the job. Snapshots for
// one job must be published in non-decreasing percentage order; dropping the
// oldest unread one preserves that ordering for subscribers.
func (b *Broker) Publish(jobID uuid.UUID, p Progress) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set := b.subs[jobID]
	for sub := range set {
		b.send(sub, p)
		if p.Terminal {
			close(sub.ch)
		}
	}

	if p.Terminal {
		delete(b.subs, jobID)
	}
}

// send is called with b.mu held, making this goroutine the only sender on
// the channel: draining one slot guarantees the following send succeeds.
func (b *Broker) send(sub *subscriber, p Progress) {
	for {
		select {
		case sub.ch <- p:
			return
		default:
		}

		select {
		case <-sub.ch:
			b.logger.Debug("dropped unread progress snapshot",
				zap.String("job_id", p.JobID.String()))
		default:
		}
	}
}
