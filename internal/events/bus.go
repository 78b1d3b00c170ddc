// Package events broadcasts task and session state changes to observers.
//
// Delivery is at-most-once and best effort: a slow subscriber whose buffer is
// full misses events and is expected to re-fetch current state.
package events

import (
	"sync"
	"time"
)

// Type names an event.
type Type string

const (
	TaskCreated   Type = "task-created"
	TaskUpdated   Type = "task-updated"
	TaskMoved     Type = "task-moved"
	TaskCompleted Type = "task-completed"
	TaskArchived  Type = "task-archived"

	SessionStarted   Type = "session-started"
	SessionProgress  Type = "session-progress"
	SessionCompleted Type = "session-completed"
	SessionFailed    Type = "session-failed"

	PlanReady    Type = "plan-ready"
	PlanApproved Type = "plan-approved"
)

// Event is a named state-change tuple.
type Event struct {
	Type      Type           `json:"type"`
	TaskID    string         `json:"taskId"`
	SessionID string         `json:"sessionId,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Publisher accepts events for delivery.
type Publisher interface {
	Publish(Event)
}

// Subscriber receives events.
type Subscriber func(Event)

// Nop discards every event.
var Nop Publisher = nopPublisher{}

type nopPublisher struct{}

func (nopPublisher) Publish(Event) {}

// drainTimeout bounds how long Unsubscribe and Close wait for a subscriber
// to handle the events already queued for it.
const drainTimeout = 2 * time.Second

type subscription struct {
	ch    chan Event
	done  chan struct{} // closed once ch is drained
	types map[Type]bool // nil means all types
}

func (s *subscription) wait(deadline <-chan time.Time) {
	select {
	case <-s.done:
	case <-deadline:
	}
}

func (s *subscription) wants(t Type) bool {
	return s.types == nil || s.types[t]
}

// Bus is a non-blocking publish/subscribe hub. Each subscriber gets its own
// buffered channel and goroutine.
type Bus struct {
	mu         sync.RWMutex
	subs       []*subscription
	bufferSize int
	closed     bool
}

// NewBus creates a bus with the given per-subscriber buffer size.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Bus{bufferSize: bufferSize}
}

// Subscribe registers fn for the given types (all types when none are given).
// fn runs on a dedicated goroutine; panics are recovered. The returned func
// unsubscribes, waits for queued events to be handled and is safe to call
// more than once.
func (b *Bus) Subscribe(fn Subscriber, types ...Type) func() {
	sub := &subscription{ch: make(chan Event, b.bufferSize), done: make(chan struct{})}
	if len(types) > 0 {
		sub.types = make(map[Type]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return func() {}
	}
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	go func() {
		defer close(sub.done)
		for event := range sub.ch {
			func() {
				defer func() { _ = recover() }()
				fn(event)
			}()
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			for i, s := range b.subs {
				if s == sub {
					b.subs = append(b.subs[:i], b.subs[i+1:]...)
					close(sub.ch)
					break
				}
			}
			b.mu.Unlock()
			sub.wait(time.After(drainTimeout))
		})
	}
}

// Publish delivers the event to every interested subscriber without blocking.
// A zero Timestamp is set to now.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if !sub.wants(e.Type) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			// Subscriber is behind; drop.
		}
	}
}

// Close closes every subscription and waits for queued events to be handled.
// Later Publish calls are no-ops and later Subscribe calls return immediately.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.subs
	for _, sub := range subs {
		close(sub.ch)
	}
	b.subs = nil
	b.closed = true
	b.mu.Unlock()

	deadline := time.After(drainTimeout)
	for _, sub := range subs {
		sub.wait(deadline)
	}
}
