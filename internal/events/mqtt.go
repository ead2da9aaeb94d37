package events

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/macroforge-core/internal/infrastructure/mqtt"
)

// mqttSinkBuffer is how many events may wait for the broker.
const mqttSinkBuffer = 256

// MQTTPublisher is the subset of *mqtt.Client used by MQTTSink.
type MQTTPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// MQTTSink publishes each event as JSON on macroforge/status/{kind}/{subject}.
// Deliver only queues the event; a single goroutine publishes in order,
// so a slow or disconnected broker never stalls Bus.Publish. Events that
// arrive while the queue is full are dropped and counted.
type MQTTSink struct {
	client MQTTPublisher
	qos    byte
	topics mqtt.Topics
	logger Logger

	mu      sync.RWMutex
	closed  bool
	queue   chan Event
	done    chan struct{}
	dropped atomic.Uint64
}

// NewMQTTSink builds a sink publishing at qos and starts its publisher
// goroutine.
//
// Parameters:
//   - client: the connected broker client, normally *mqtt.Client
//   - qos: MQTT quality of service for every status message
//   - logger: may be nil
//
// Returns:
//   - *MQTTSink: ready for Bus.AddSink; call Close before closing client
func NewMQTTSink(client MQTTPublisher, qos byte, logger Logger) *MQTTSink {
	if logger == nil {
		logger = noopLogger{}
	}
	s := &MQTTSink{
		client: client,
		qos:    qos,
		logger: logger,
		queue:  make(chan Event, mqttSinkBuffer),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// Deliver implements Sink. It never blocks.
func (s *MQTTSink) Deliver(ev Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- ev:
	default:
		if n := s.dropped.Add(1); n == 1 || n%100 == 0 {
			s.logger.Warn("MQTT status queue full, dropping events", "kind", ev.Kind, "dropped", n)
		}
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (s *MQTTSink) Dropped() uint64 {
	return s.dropped.Load()
}

// Close stops accepting events and waits until the queued ones have been
// handed to the client or ctx ends.
func (s *MQTTSink) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *MQTTSink) run() {
	defer close(s.done)
	for ev := range s.queue {
		s.publish(ev)
	}
}

func (s *MQTTSink) publish(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.Warn("encoding status event", "kind", ev.Kind, "error", err)
		return
	}

	topic := s.topics.Status(ev.Kind.Topic(), ev.Subject)
	// Background and queue topics are stable per subject; keep the last state.
	retained := ev.Kind != KindRun
	if err := s.client.Publish(topic, payload, s.qos, retained); err != nil {
		s.logger.Warn("publishing status event", "topic", topic, "error", err)
	}
}
