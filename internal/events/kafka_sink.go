package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/vmihailenco/msgpack/v5"
)

// MessageWriter is the part of *kafka.Writer the sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter constructs a kafka.Writer for the event topic.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	return kafka.NewWriter(kafka.WriterConfig{
		Brokers:      brokers,
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		Dialer:       dialer,
		BatchTimeout: 200 * time.Millisecond,
		RequiredAcks: int(kafka.RequireOne),
	})
}

// KafkaSink forwards bus events to Kafka as msgpack-encoded messages keyed by
// user id, so one user's events stay ordered within a partition.
// Publishing never blocks the emitter: when the buffer is full the event is
// dropped and counted.
type KafkaSink struct {
	writer  MessageWriter
	queue   chan *Event
	dropped uint64
	mu      sync.Mutex
	subID   SubscriptionID
	bus     *Bus
	done    chan struct{}
	log     zerolog.Logger
}

// NewKafkaSink creates a sink with the given buffer size.
func NewKafkaSink(writer MessageWriter, buffer int, log zerolog.Logger) *KafkaSink {
	if buffer <= 0 {
		buffer = 256
	}
	return &KafkaSink{
		writer: writer,
		queue:  make(chan *Event, buffer),
		done:   make(chan struct{}),
		log:    log.With().Str("component", "kafka_sink").Logger(),
	}
}

// Start subscribes the sink to bus and runs the publish loop until Stop.
func (s *KafkaSink) Start(bus *Bus) {
	s.bus = bus
	s.subID = bus.SubscribeAll(s.enqueue)
	go s.run()
	s.log.Info().Msg("Kafka event sink started")
}

// Stop unsubscribes, drains the buffer and closes the writer.
func (s *KafkaSink) Stop() error {
	if s.bus == nil {
		return s.writer.Close()
	}
	s.bus.Unsubscribe(s.subID)
	close(s.queue)
	<-s.done
	return s.writer.Close()
}

// Dropped returns the number of events dropped because the buffer was full.
func (s *KafkaSink) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *KafkaSink) enqueue(event *Event) {
	select {
	case s.queue <- event:
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		s.log.Warn().Str("event_type", string(event.Type)).Msg("Kafka sink buffer full, dropping event")
	}
}

func (s *KafkaSink) run() {
	defer close(s.done)
	for event := range s.queue {
		msg, err := EncodeMessage(event)
		if err != nil {
			s.log.Error().Err(err).Str("event_type", string(event.Type)).Msg("Failed to encode event")
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = s.writer.WriteMessages(ctx, msg)
		cancel()
		if err != nil {
			s.log.Error().Err(err).Str("event_type", string(event.Type)).Msg("Failed to publish event")
		}
	}
}

// EncodeMessage builds the Kafka message for an event.
func EncodeMessage(event *Event) (kafka.Message, error) {
	value, err := msgpack.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to encode event %s: %w", event.Type, err)
	}

	key := string(event.Type)
	if userID, ok := event.Data["user_id"].(string); ok && userID != "" {
		key = userID
	}

	return kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}, nil
}

// DecodeMessage is the inverse of EncodeMessage.
func DecodeMessage(msg kafka.Message) (*Event, error) {
	var event Event
	if err := msgpack.Unmarshal(msg.Value, &event); err != nil {
		return nil, fmt.Errorf("failed to decode event: %w", err)
	}
	return &event, nil
}
