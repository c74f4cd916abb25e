// Package event provides the in-process event bus. Events travel through a
// watermill gochannel pub/sub as JSON messages on a single topic. Events
// published while nobody is subscribed are dropped.
package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// Topic is the watermill topic every event is published on.
const Topic = "minicode.events"

const typeMetadataKey = "type"

// ErrClosed is returned when publishing or subscribing on a closed bus.
var ErrClosed = errors.New("event bus closed")

// Event is one published event. Data holds the JSON-encoded payload; use
// Decode to read it back.
type Event struct {
	ID   string          `json:"id"`
	Type EventType       `json:"type"`
	Time time.Time       `json:"time"`
	Data json.RawMessage `json:"data"`
}

// Subscriber receives events on the subscription's own goroutine.
type Subscriber func(event Event)

// Bus is the event bus.
type Bus struct {
	pubsub *gochannel.GoChannel
	logger zerolog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewBus creates a bus. Watermill's internal logs go to logger at debug
// level and below.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 100},
			newWatermillLogger(logger),
		),
		logger: logger,
	}
}

// Publish encodes data and publishes it as an event of type t.
func (b *Bus) Publish(t EventType, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", t, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	msg := message.NewMessage(ulid.Make().String(), payload)
	msg.Metadata.Set(typeMetadataKey, string(t))
	msg.Metadata.Set("time", time.Now().UTC().Format(time.RFC3339Nano))
	return b.pubsub.Publish(Topic, msg)
}

// Subscribe calls fn for every event whose type is in types, or for every
// event when types is empty. The returned function cancels the
// subscription and waits for fn to return.
func (b *Bus) Subscribe(fn Subscriber, types ...EventType) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	ctx, cancel := context.WithCancel(context.Background())
	messages, err := b.pubsub.Subscribe(ctx, Topic)
	if err != nil {
		cancel()
		return nil, err
	}

	filter := make(map[EventType]bool, len(types))
	for _, t := range types {
		filter[t] = true
	}

	done := make(chan struct{})
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer close(done)
		for msg := range messages {
			ev := decodeMessage(msg)
			msg.Ack()
			if len(filter) > 0 && !filter[ev.Type] {
				continue
			}
			b.deliver(fn, ev)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}, nil
}

func (b *Bus) deliver(fn Subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().Str("event", string(ev.Type)).Interface("panic", r).Msg("subscriber panicked")
		}
	}()
	fn(ev)
}

func decodeMessage(msg *message.Message) Event {
	ev := Event{
		ID:   msg.UUID,
		Type: EventType(msg.Metadata.Get(typeMetadataKey)),
		Data: json.RawMessage(msg.Payload),
	}
	if ts, err := time.Parse(time.RFC3339Nano, msg.Metadata.Get("time")); err == nil {
		ev.Time = ts
	}
	return ev
}

// Close shuts the bus down and waits for every subscriber to drain.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	err := b.pubsub.Close()
	b.wg.Wait()
	return err
}

// Decode unmarshals the payload of ev into T.
func Decode[T any](ev Event) (T, error) {
	var out T
	if err := json.Unmarshal(ev.Data, &out); err != nil {
		return out, fmt.Errorf("decode %s event: %w", ev.Type, err)
	}
	return out, nil
}

// watermillLogger routes watermill logs through zerolog.
type watermillLogger struct {
	logger zerolog.Logger
}

func newWatermillLogger(logger zerolog.Logger) watermill.LoggerAdapter {
	return watermillLogger{logger: logger.With().Str("component", "watermill").Logger()}
}

func (l watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.logger.Error().Err(err).Fields(map[string]any(fields)).Msg(msg)
}

func (l watermillLogger) Info(msg string, fields watermill.LogFields) {
	l.logger.Debug().Fields(map[string]any(fields)).Msg(msg)
}

func (l watermillLogger) Debug(msg string, fields watermill.LogFields) {
	l.logger.Debug().Fields(map[string]any(fields)).Msg(msg)
}

func (l watermillLogger) Trace(msg string, fields watermill.LogFields) {
	l.logger.Trace().Fields(map[string]any(fields)).Msg(msg)
}

func (l watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return watermillLogger{logger: l.logger.With().Fields(map[string]any(fields)).Logger()}
}
