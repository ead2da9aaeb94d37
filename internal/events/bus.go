package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Sink receives every published event. Deliver must not block for long.
type Sink interface {
	Deliver(ev Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ev Event)

// Deliver calls f.
func (f SinkFunc) Deliver(ev Event) { f(ev) }

// Publisher is the producer side of a Bus.
type Publisher interface {
	Publish(ev Event)
}

// Logger is the logging surface used by the bus.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Bus fans events out to sinks and subscribers. A nil *Bus discards events.
type Bus struct {
	mu      sync.RWMutex
	sinks   []Sink
	subs    map[int]chan Event
	nextID  int
	dropped atomic.Uint64
	logger  Logger
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event), logger: noopLogger{}}
}

// SetLogger sets the logger used to report sink panics.
func (b *Bus) SetLogger(logger Logger) {
	b.mu.Lock()
	b.logger = logger
	b.mu.Unlock()
}

// AddSink registers a sink for all future events.
func (b *Bus) AddSink(s Sink) {
	b.mu.Lock()
	b.sinks = append(b.sinks, s)
	b.mu.Unlock()
}

// Subscribe returns a channel of future events and a function that
// unsubscribes and closes it.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish stamps ev and delivers it.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, s := range b.sinks {
		b.deliver(s, ev)
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *Bus) deliver(s Sink, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("event sink panicked", "kind", ev.Kind, "panic", r)
		}
	}()
	s.Deliver(ev)
}

// Dropped returns how many events subscribers missed because their
// channel was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
