// Package eventbus implements the in-process topic-based broadcaster of
// spec.md §4.6: Topics `run.<id>.log`, `run.<id>.state`,
// `project.<id>.feature`, and `session.<id>.redesign` carry at-least-once
// delivery to subscribers active at publish time, preserve per-topic
// ordering, and let a late subscriber replay a bounded tail buffer.
//
// Adapted from the teacher's internal/transparency.GlassBoxEventBus:
// same "per-event sequence number, subscriber channel, drop-don't-block"
// shape, regrown from one global unordered bus into many independently
// ordered topics, with the tail buffer promoted from an in-memory ring
// to durable storage (internal/runlog) so replay survives a process
// restart.
package eventbus

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Event is one published envelope on a topic.
type Event struct {
	Topic     string
	Seq       int64
	Payload   json.RawMessage
	CreatedAt time.Time
}

// TailStore persists and replays a topic's recent events. Implemented by
// internal/runlog.Store; kept as an interface here so the bus can be
// tested without a real database.
type TailStore interface {
	AppendEvent(topic string, seq int64, payload []byte) error
	TailEvents(topic string) ([]TailEvent, error)
}

// TailEvent is the subset of runlog.EventRecord the bus needs to replay.
type TailEvent struct {
	Seq       int64
	Payload   []byte
	CreatedAt time.Time
}

// QueueSize bounds how many undelivered events a subscriber channel can
// hold before the bus disconnects it, per spec.md §5's "ordering is
// preserved per topic" guarantee — a slow subscriber is dropped rather
// than silently skipped, so it never observes a gap.
const QueueSize = 64

type topicState struct {
	seq     int64
	nextSub uint64
	subs    map[uint64]chan Event
}

// Bus is the Event Bus. Safe for concurrent use.
type Bus struct {
	mu     sync.Mutex
	topics map[string]*topicState
	store  TailStore
}

// New creates a Bus backed by store for tail-buffer persistence. store
// may be nil, in which case late subscribers replay nothing.
func New(store TailStore) *Bus {
	return &Bus{topics: make(map[string]*topicState), store: store}
}

// Publish marshals payload to JSON, assigns the next per-topic sequence
// number, persists it to the tail store, and fans it out to every
// subscriber currently attached to topic. A subscriber whose channel is
// full is disconnected (its channel closed and removed) rather than
// having the event dropped, so every surviving subscriber sees every
// event for the topic in order.
func (b *Bus) Publish(topic string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("eventbus: marshal payload for topic %q: %w", topic, err)
	}

	b.mu.Lock()
	ts := b.topicStateLocked(topic)
	ts.seq++
	ev := Event{Topic: topic, Seq: ts.seq, Payload: raw, CreatedAt: time.Now().UTC()}

	if b.store != nil {
		if err := b.store.AppendEvent(topic, ev.Seq, raw); err != nil {
			b.mu.Unlock()
			return Event{}, fmt.Errorf("eventbus: persisting event: %w", err)
		}
	}

	var stale []uint64
	for id, ch := range ts.subs {
		select {
		case ch <- ev:
		default:
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		close(ts.subs[id])
		delete(ts.subs, id)
	}
	b.mu.Unlock()

	return ev, nil
}

func (b *Bus) topicStateLocked(topic string) *topicState {
	ts, ok := b.topics[topic]
	if !ok {
		ts = &topicState{subs: make(map[uint64]chan Event)}
		b.topics[topic] = ts
	}
	return ts
}

// Subscription is a live attachment to a topic.
type Subscription struct {
	C      <-chan Event
	Replay []Event
	bus    *Bus
	topic  string
	id     uint64
}

// Unsubscribe detaches from the topic and closes the channel. Safe to
// call more than once.
func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	ts, ok := s.bus.topics[s.topic]
	if !ok {
		return
	}
	if ch, ok := ts.subs[s.id]; ok {
		close(ch)
		delete(ts.subs, s.id)
	}
}

// Subscribe attaches to topic and returns a Subscription carrying any
// replayable tail-buffer events (oldest first) alongside the live
// channel for events published from this point on.
func (b *Bus) Subscribe(topic string) (*Subscription, error) {
	var replay []Event
	if b.store != nil {
		tail, err := b.store.TailEvents(topic)
		if err != nil {
			return nil, fmt.Errorf("eventbus: replaying tail for topic %q: %w", topic, err)
		}
		replay = make([]Event, len(tail))
		for i, te := range tail {
			replay[i] = Event{Topic: topic, Seq: te.Seq, Payload: te.Payload, CreatedAt: te.CreatedAt}
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	ts := b.topicStateLocked(topic)
	ts.nextSub++
	id := ts.nextSub
	ch := make(chan Event, QueueSize)
	ts.subs[id] = ch

	return &Subscription{C: ch, Replay: replay, bus: b, topic: topic, id: id}, nil
}

// SubscriberCount returns how many live subscribers a topic currently
// has, for diagnostics and tests.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	ts, ok := b.topics[topic]
	if !ok {
		return 0
	}
	return len(ts.subs)
}

// Close detaches and closes every subscriber across every topic.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ts := range b.topics {
		for id, ch := range ts.subs {
			close(ch)
			delete(ts.subs, id)
		}
	}
}
