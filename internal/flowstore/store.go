// Package flowstore implements the flow store (spec §4.3 / C3): a bounded
// map from flow id to flow, with FIFO eviction and a broadcast subscription
// stream. Slow subscribers have events dropped for them rather than
// blocking publishers (spec §5 "Backpressure").
package flowstore

import (
	"container/list"
	"sync"

	"github.com/laplaque/mitmcore/internal/flow"
)

// Sink optionally mirrors every appended flow somewhere durable (e.g. the
// optional BoltSink). Record must not block the caller for long; the store
// invokes it synchronously under no lock, immediately after an append.
type Sink interface {
	Record(f *flow.Flow)
}

// Store is a bounded, concurrency-safe flow ledger with broadcast.
type Store struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // of flow.ID, oldest at Front
	flows    map[flow.ID]*flow.Flow

	subs      map[int]*Subscription
	nextSubID int
	queueSize int

	closed bool
	sink   Sink
}

// New creates a Store bounded to capacity entries, with each subscriber
// getting a queue of queueSize buffered events.
func New(capacity, queueSize int) *Store {
	if capacity <= 0 {
		capacity = 10_000
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Store{
		capacity:  capacity,
		order:     list.New(),
		flows:     make(map[flow.ID]*flow.Flow),
		subs:      make(map[int]*Subscription),
		queueSize: queueSize,
	}
}

// SetSink attaches an optional durable mirror. Must be called before any
// Append (not safe to change concurrently with appends).
func (s *Store) SetSink(sink Sink) { s.sink = sink }

// Append inserts f, evicting the oldest entry if over capacity, then
// publishes f to every current subscriber.
func (s *Store) Append(f *flow.Flow) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if _, exists := s.flows[f.ID]; !exists {
		s.order.PushBack(f.ID)
	}
	s.flows[f.ID] = f
	for s.order.Len() > s.capacity {
		oldest := s.order.Front()
		s.order.Remove(oldest)
		delete(s.flows, oldest.Value.(flow.ID))
	}
	subs := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.publish(f)
	}
	if s.sink != nil {
		s.sink.Record(f)
	}
}

// Get returns the flow with the given id, if present.
func (s *Store) Get(id flow.ID) (*flow.Flow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.flows[id]
	return f, ok
}

// Len returns the current number of stored flows.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.flows)
}

// Subscribe returns a Subscription that observes every flow appended after
// this call (no backlog is delivered).
func (s *Store) Subscribe() *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	sub := &Subscription{
		id:    id,
		ch:    make(chan *flow.Flow, s.queueSize),
		store: s,
	}
	s.subs[id] = sub
	return sub
}

// Close shuts down the store: pending subscriptions' channels are closed and
// no further appends are accepted.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	subs := s.subs
	s.subs = make(map[int]*Subscription)
	s.mu.Unlock()
	for _, sub := range subs {
		close(sub.ch)
	}
}

func (s *Store) unsubscribe(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(sub.ch)
	}
}

// Subscription is a lazy stream of flows appended after Subscribe was
// called; finite only once the store is closed.
type Subscription struct {
	id      int
	ch      chan *flow.Flow
	dropped int64
	mu      sync.Mutex
	store   *Store
}

func (sub *Subscription) publish(f *flow.Flow) {
	select {
	case sub.ch <- f:
	default:
		sub.mu.Lock()
		sub.dropped++
		sub.mu.Unlock()
	}
}

// C returns the channel of delivered flows. It is closed when the
// subscription is closed or the store is closed.
func (sub *Subscription) C() <-chan *flow.Flow { return sub.ch }

// Dropped returns how many flows were dropped for this subscriber because
// its queue was full (spec §5 "Backpressure").
func (sub *Subscription) Dropped() int64 {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.dropped
}

// Close ends this subscription.
func (sub *Subscription) Close() { sub.store.unsubscribe(sub.id) }
