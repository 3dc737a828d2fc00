// Package joblog is the ordered, append-only log that run outcomes are
// reported to. Display surfaces read a snapshot or subscribe to updates.
package joblog

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/healthsynth/internal/logger"
)

// DefaultBuffer is the subscriber channel size used when none is given.
const DefaultBuffer = 256

// Entry is one log line. Seq increases by one per append and is never
// reused, even across Clear.
type Entry struct {
	Seq     uint64    `json:"seq"`
	Time    time.Time `json:"time"`
	Line    string    `json:"line"`
	Cleared bool      `json:"cleared,omitempty"`
}

type subscriber struct {
	ch   chan Entry
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

// Sink serializes appends from concurrent jobs. Entries keep the order in
// which Append calls acquired the sink, i.e. job completion order.
type Sink struct {
	mu      sync.Mutex
	entries []Entry
	seq     uint64
	subs    map[*subscriber]struct{}
	log     logger.Logger
	now     func() time.Time
}

type Option func(*Sink)

// WithLogger mirrors every line to log.
func WithLogger(log logger.Logger) Option {
	return func(s *Sink) { s.log = log }
}

// WithClock overrides the entry timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Sink) { s.now = now }
}

func New(opts ...Option) *Sink {
	s := &Sink{
		subs: make(map[*subscriber]struct{}),
		log:  logger.Component("joblog"),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append adds line and delivers it to subscribers.
func (s *Sink) Append(line string) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	e := Entry{Seq: s.seq, Time: s.now(), Line: line}
	s.entries = append(s.entries, e)
	s.publish(e)

	s.log.Info().Uint64("seq", e.Seq).Msg(line)
	return e
}

func (s *Sink) Appendf(format string, args ...any) Entry {
	return s.Append(fmt.Sprintf(format, args...))
}

// Clear drops every entry. Subscribers receive a Cleared marker.
func (s *Sink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = nil
	s.publish(Entry{Seq: s.seq, Time: s.now(), Cleared: true})
}

func (s *Sink) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *Sink) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Line
	}
	return out
}

func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// String renders the log as newline-terminated lines.
func (s *Sink) String() string {
	var b strings.Builder
	for _, line := range s.Lines() {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// Subscribe returns a channel that receives every entry appended after the
// call, in order. A subscriber that falls buffer entries behind is closed
// rather than stalling appends; it can resync from Entries. The returned
// cancel function is safe to call more than once.
func (s *Sink) Subscribe(buffer int) (<-chan Entry, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	sub := &subscriber{ch: make(chan Entry, buffer)}

	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	return sub.ch, s.unsubscribe(sub)
}

// Follow is Subscribe plus a snapshot of the entries appended before it,
// taken atomically so no entry is missed or seen twice.
func (s *Sink) Follow(buffer int) ([]Entry, <-chan Entry, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	sub := &subscriber{ch: make(chan Entry, buffer)}

	s.mu.Lock()
	backlog := make([]Entry, len(s.entries))
	copy(backlog, s.entries)
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	return backlog, sub.ch, s.unsubscribe(sub)
}

func (s *Sink) unsubscribe(sub *subscriber) func() {
	return func() {
		s.mu.Lock()
		delete(s.subs, sub)
		s.mu.Unlock()
		sub.close()
	}
}

// publish must be called with s.mu held.
func (s *Sink) publish(e Entry) {
	for sub := range s.subs {
		select {
		case sub.ch <- e:
		default:
			delete(s.subs, sub)
			sub.close()
			s.log.Warn().Uint64("seq", e.Seq).Msg("Dropped slow log subscriber")
		}
	}
}
