// Package events publishes purchase and stock notifications to Kafka.
package events

import (
	"context"
	"fmt"
	"time"

	otelkafka "github.com/Trendyol/otel-kafka-konsumer"
	jsoniter "github.com/json-iterator/go"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lolgoatvowsly-cell/cookie/internal/domain"
)

const (
	DefaultTopic = "fulfillment-events"

	eventTypeHeader = "event-type"
	batchTimeout    = 10 * time.Millisecond
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Producer interface {
	WriteMessage(ctx context.Context, msg kafkago.Message) error
	Close() error
}

// NewKafkaProducer builds a traced writer for topic. Trace context travels in
// the message headers.
func NewKafkaProducer(broker, topic, clientID string, tp trace.TracerProvider) (Producer, error) {
	if topic == "" {
		topic = DefaultTopic
	}
	baseWriter := &kafkago.Writer{
		Addr:                   kafkago.TCP(broker),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		BatchTimeout:           batchTimeout,
		RequiredAcks:           kafkago.RequireOne,
		AllowAutoTopicCreation: true,
	}

	writer, err := otelkafka.NewWriter(baseWriter,
		otelkafka.WithTracerProvider(tp),
		otelkafka.WithPropagator(propagation.TraceContext{}),
		otelkafka.WithAttributes(
			[]attribute.KeyValue{
				semconv.MessagingDestinationNameKey.String(topic),
				attribute.String("messaging.kafka.client_id", clientID),
			},
		),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka writer: %w", err)
	}
	return writer, nil
}

// KafkaPublisher encodes events as JSON keyed by Event.Key, so every event of
// one order or intent lands on the same partition.
type KafkaPublisher struct {
	producer Producer
	logger   *zap.Logger
}

func NewKafkaPublisher(producer Producer, logger *zap.Logger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaPublisher{producer: producer, logger: logger}
}

func (p *KafkaPublisher) Publish(ctx context.Context, evt domain.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", evt.Type, err)
	}

	msg := kafkago.Message{
		Key:   []byte(evt.Key),
		Value: payload,
		Headers: []kafkago.Header{
			{Key: eventTypeHeader, Value: []byte(evt.Type)},
		},
	}
	if err := p.producer.WriteMessage(ctx, msg); err != nil {
		return fmt.Errorf("publish %s event: %w", evt.Type, err)
	}

	p.logger.Debug("event published", zap.String("event_type", string(evt.Type)), zap.String("key", evt.Key))
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// Noop drops every event. Used when no broker is configured.
type Noop struct {
	logger *zap.Logger
}

func NewNoop(logger *zap.Logger) Noop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Noop{logger: logger}
}

func (n Noop) Publish(_ context.Context, evt domain.Event) error {
	if n.logger != nil {
		n.logger.Debug("event dropped, no broker configured", zap.String("event_type", string(evt.Type)))
	}
	return nil
}

func (Noop) Close() error { return nil }
