// Package events fans execution and attempt events out to long-lived
// subscribers. Publishing never blocks: each subscriber owns a bounded
// channel, and a subscriber that cannot keep up has events dropped and
// counted rather than stalling the pipeline.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/IGLOU-EU/go-wildcard/v2"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
)

// Event kinds published by the request pipeline.
const (
	KindExec             = "exec"
	KindAttemptBlocked   = "attempt.blocked"
	KindAttemptUnconfirm = "attempt.unconfirmed"
	KindAttemptRateLimit = "attempt.ratelimited"
)

const previewChars = 120

// Event is one entry in the live feed.
type Event struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Kind       string    `json:"kind"`
	Level      string    `json:"level"`
	DurationMs int64     `json:"durationMs"`
	Blocked    bool      `json:"blocked"`
	Truncated  bool      `json:"truncated"`
	TimedOut   bool      `json:"timedOut"`
	ExitCode   *int      `json:"exitCode,omitempty"`
	Preview    string    `json:"preview"`
	Confirmed  bool      `json:"confirmed"`
	ToolName   string    `json:"toolName,omitempty"`
}

// Preview renders the first ~120 characters of a command for event feeds.
func Preview(command string) string {
	if len(command) <= previewChars {
		return command
	}
	return command[:previewChars]
}

// Subscription is one registered listener. Events arrive on C in global
// publish order until Close is called.
type Subscription struct {
	C      <-chan Event
	ch     chan Event
	filter string
	stream *Stream
	id     uint64

	dropped atomic.Uint64
}

// Dropped reports how many events this subscriber missed.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.stream.unsubscribe(s)
}

// Stream is the process-wide event fan-out.
type Stream struct {
	mu      sync.Mutex
	subs    map[uint64]*Subscription
	nextID  uint64
	dropped atomic.Uint64
}

// NewStream creates an empty fan-out.
func NewStream() *Stream {
	return &Stream{subs: make(map[uint64]*Subscription)}
}

// Subscribe registers a listener with the given channel capacity. filter
// is a wildcard expression over event kinds ("*" or "" receives all,
// "attempt.*" only attempts).
func (s *Stream) Subscribe(buffer int, filter string) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	sub := &Subscription{
		ch:     make(chan Event, buffer),
		filter: filter,
		stream: s,
		id:     s.nextID,
	}
	sub.C = sub.ch
	s.subs[sub.id] = sub
	return sub
}

func (s *Stream) unsubscribe(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[sub.id]; ok {
		delete(s.subs, sub.id)
		close(sub.ch)
	}
}

// Publish assigns the event an ID and timestamp if unset and delivers it
// to every matching subscriber. Delivery is non-blocking; the mutex keeps
// the global order identical for all subscribers.
func (s *Stream) Publish(ev Event) Event {
	if ev.ID == "" {
		ev.ID = ulid.Make().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	ev.Preview = Preview(ev.Preview)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range s.subs {
		if sub.filter != "" && sub.filter != "*" && !wildcard.Match(sub.filter, ev.Kind) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			sub.dropped.Add(1)
			s.dropped.Add(1)
			log.Debug().Str("kind", ev.Kind).Msg("Dropped event for slow subscriber")
		}
	}
	return ev
}

// TotalDropped reports how many deliveries were dropped across all
// subscribers since the stream was created.
func (s *Stream) TotalDropped() uint64 {
	return s.dropped.Load()
}

// SubscriberCount returns the number of active subscriptions.
func (s *Stream) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
