// Package messaging implements the in-process domain event bus.
// Events travel as JSON envelopes over a watermill gochannel pub/sub, so a
// broker-backed publisher can replace it without touching producers.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/learnpath/learnpath/internal/domain/shared"
	"github.com/learnpath/learnpath/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrEventBusClosed is returned when operating on a closed event bus.
	ErrEventBusClosed = errors.New("event bus is closed")

	// ErrNilHandler is returned when subscribing a nil handler.
	ErrNilHandler = errors.New("handler cannot be nil")

	// ErrNilEvent is returned when publishing a nil event.
	ErrNilEvent = errors.New("event cannot be nil")
)

// ══════════════════════════════════════════════════════════════════════════════
// EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// DefaultTopic is the topic every domain event is published on.
const DefaultTopic = "learnpath.events"

// Config contains configuration for EventBus.
type Config struct {
	// Topic is the pub/sub topic (default DefaultTopic).
	Topic string

	// Synchronous makes Publish wait until every subscriber has handled the event.
	// Handlers must not publish on the same bus when this is set.
	Synchronous bool

	// BufferSize is the per-subscriber channel buffer.
	BufferSize int64

	// Logger for structured logging.
	Logger *slog.Logger
}

// DefaultConfig returns an asynchronous bus.
func DefaultConfig() Config {
	return Config{
		Topic:      DefaultTopic,
		BufferSize: 64,
	}
}

// EventBus implements shared.EventBus on watermill's gochannel pub/sub.
// Subscribers receive shared.EventEnvelope values.
type EventBus struct {
	pubSub  *gochannel.GoChannel
	topic   string
	logger  *slog.Logger
	metrics *Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

var _ shared.EventBus = (*EventBus)(nil)

// NewEventBus creates a new event bus.
func NewEventBus(config Config) *EventBus {
	log := logger.OrDefault(config.Logger).With(logger.Component("event-bus"))
	if config.Topic == "" {
		config.Topic = DefaultTopic
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 64
	}

	pubSub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            config.BufferSize,
		BlockPublishUntilSubscriberAck: config.Synchronous,
	}, watermill.NewSlogLogger(log))

	ctx, cancel := context.WithCancel(context.Background())
	return &EventBus{
		pubSub:  pubSub,
		topic:   config.Topic,
		logger:  log,
		metrics: NewMetrics(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Subscribe registers a handler for a specific event type.
func (b *EventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.subscribe(eventType, handler)
}

// SubscribeAll registers a handler for all events.
func (b *EventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.subscribe("", handler)
}

func (b *EventBus) subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	if handler == nil {
		return ErrNilHandler
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrEventBusClosed
	}

	messages, err := b.pubSub.Subscribe(b.ctx, b.topic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", b.topic, err)
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for msg := range messages {
			b.handle(msg, eventType, handler)
		}
	}()

	b.logger.Debug("subscribed handler", slog.String("event_type", string(eventType)))
	return nil
}

// handle always acks: a failed handler is logged, not redelivered.
func (b *EventBus) handle(msg *message.Message, eventType shared.EventType, handler shared.EventHandler) {
	defer msg.Ack()

	if eventType != "" && msg.Metadata.Get("event_type") != string(eventType) {
		return
	}

	var env shared.EventEnvelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		b.logger.Error("drop undecodable event", slog.String("message_id", msg.UUID), logger.Err(err))
		return
	}

	start := time.Now()
	err := b.invoke(handler, env)
	b.metrics.RecordHandlerExecution(env.Type, time.Since(start), err == nil)
	if err != nil {
		b.logger.Error("event handler error",
			slog.String("event_type", string(env.Type)),
			logger.Scope(env.AggregateId),
			logger.Latency(time.Since(start)),
			logger.Err(err))
	}
}

func (b *EventBus) invoke(handler shared.EventHandler, env shared.EventEnvelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panic",
				slog.String("event_type", string(env.Type)),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(env)
}

// Publish sends an event to all subscribers.
func (b *EventBus) Publish(event shared.Event) error {
	if event == nil {
		return ErrNilEvent
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrEventBusClosed
	}

	id := watermill.NewUUID()
	env, err := shared.NewEventEnvelope(id, event)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", event.EventType(), err)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.EventType(), err)
	}

	msg := message.NewMessage(id, data)
	msg.Metadata.Set("event_type", string(env.Type))
	msg.Metadata.Set("aggregate_id", env.AggregateId)
	msg.Metadata.Set("timestamp", env.Timestamp.UTC().Format(time.RFC3339Nano))
	if env.CorrelationID != "" {
		middleware.SetCorrelationID(env.CorrelationID, msg)
	}

	if err := b.pubSub.Publish(b.topic, msg); err != nil {
		return fmt.Errorf("publish event %s: %w", env.Type, err)
	}
	b.metrics.RecordPublish(env.Type)
	return nil
}

// Close stops all subscribers after they finish their current event.
func (b *EventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	err := b.pubSub.Close()
	b.wg.Wait()

	b.logger.Debug("event bus closed")
	return err
}

// Metrics returns the bus counters.
func (b *EventBus) Metrics() *Metrics {
	return b.metrics
}

// ══════════════════════════════════════════════════════════════════════════════
// METRICS
// ══════════════════════════════════════════════════════════════════════════════

// Metrics counts published events and handler outcomes per event type.
type Metrics struct {
	mu              sync.Mutex
	published       map[shared.EventType]int64
	handled         map[shared.EventType]int64
	failed          map[shared.EventType]int64
	handlerDuration time.Duration
}

// NewMetrics creates empty counters.
func NewMetrics() *Metrics {
	return &Metrics{
		published: make(map[shared.EventType]int64),
		handled:   make(map[shared.EventType]int64),
		failed:    make(map[shared.EventType]int64),
	}
}

// RecordPublish counts a published event.
func (m *Metrics) RecordPublish(eventType shared.EventType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published[eventType]++
}

// RecordHandlerExecution counts a handler run.
func (m *Metrics) RecordHandlerExecution(eventType shared.EventType, d time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handled[eventType]++
	if !success {
		m.failed[eventType]++
	}
	m.handlerDuration += d
}

// MetricsSnapshot is a copy of the counters.
type MetricsSnapshot struct {
	Published map[shared.EventType]int64
	Handled   map[shared.EventType]int64
	Failed    map[shared.EventType]int64

	// HandlerTime is the total time spent in handlers.
	HandlerTime time.Duration
}

// Snapshot returns a copy of the counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := func(src map[shared.EventType]int64) map[shared.EventType]int64 {
		out := make(map[shared.EventType]int64, len(src))
		for k, v := range src {
			out[k] = v
		}
		return out
	}
	return MetricsSnapshot{
		Published:   cp(m.published),
		Handled:     cp(m.handled),
		Failed:      cp(m.failed),
		HandlerTime: m.handlerDuration,
	}
}
