// Package events publishes committed document transitions to downstream
// consumers: a Kafka topic and correlated Zeebe messages.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"

	"rental-docflow/internal/common/logger"
	"rental-docflow/internal/common/metrics"
	"rental-docflow/internal/models"
)

type Publisher interface {
	Publish(ctx context.Context, event models.DocumentEvent) error
}

// Producer is the subset of *kgo.Client used for publishing.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// KafkaPublisher writes one record per event keyed by document id, so a
// document's events stay ordered within a partition.
type KafkaPublisher struct {
	producer Producer
	topic    string
	logger   logger.Logger
}

func NewKafkaPublisher(cfg KafkaConfig, log logger.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("kafka publisher needs brokers and a topic")
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.Lz4Compression(), kgo.NoCompression()),
		kgo.RecordRetries(5),
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return NewKafkaPublisherWithProducer(client, cfg.Topic, log), nil
}

func NewKafkaPublisherWithProducer(p Producer, topic string, log logger.Logger) *KafkaPublisher {
	return &KafkaPublisher{producer: p, topic: topic, logger: logger.ForComponent(log, "events.kafka")}
}

func (k *KafkaPublisher) Publish(ctx context.Context, event models.DocumentEvent) error {
	event = stamp(event)
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	record := &kgo.Record{
		Topic: k.topic,
		Key:   []byte(event.DocumentID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "event-type", Value: []byte(event.Type)},
			{Key: "event-id", Value: []byte(event.ID)},
		},
		Timestamp: event.OccurredAt,
	}
	if err := k.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce %s: %w", event.Type, err)
	}

	k.logger.Debug("event published", map[string]interface{}{
		"eventId":    event.ID,
		"type":       event.Type,
		"documentId": event.DocumentID,
	})
	return nil
}

func (k *KafkaPublisher) Close() {
	k.producer.Close()
}

// MessagePublisher is implemented by camunda.Client.
type MessagePublisher interface {
	PublishMessage(ctx context.Context, name, correlationKey, messageID string, vars map[string]interface{}) error
}

// ZeebePublisher turns events into messages correlated by document id, so a
// running BPMN instance for the document can wait on them.
type ZeebePublisher struct {
	client MessagePublisher
}

func NewZeebePublisher(client MessagePublisher) *ZeebePublisher {
	return &ZeebePublisher{client: client}
}

func (z *ZeebePublisher) Publish(ctx context.Context, event models.DocumentEvent) error {
	event = stamp(event)
	vars := map[string]interface{}{
		"eventType":  string(event.Type),
		"documentId": event.DocumentID,
		"occurredAt": event.OccurredAt.Format(time.RFC3339),
	}
	if event.StepID != "" {
		vars["stepId"] = event.StepID
	}
	if event.Status != "" {
		vars["status"] = event.Status
	}
	if event.ActorID != "" {
		vars["actorId"] = event.ActorID
	}
	if len(event.Data) > 0 {
		vars["eventData"] = event.Data
	}
	return z.client.PublishMessage(ctx, MessageName(event.Type), event.DocumentID, event.ID, vars)
}

// MessageName is the BPMN message name for an event type.
func MessageName(t models.EventType) string {
	return "docflow." + string(t)
}

type namedPublisher struct {
	name string
	pub  Publisher
}

// Fanout publishes to every sink. A failing sink does not stop the others;
// the failures are counted and returned joined.
type Fanout struct {
	sinks  []namedPublisher
	logger logger.Logger
}

func NewFanout(log logger.Logger) *Fanout {
	return &Fanout{logger: logger.ForComponent(log, "events")}
}

// Add registers a sink under name, used in metrics and logs.
func (f *Fanout) Add(name string, p Publisher) *Fanout {
	if p != nil {
		f.sinks = append(f.sinks, namedPublisher{name: name, pub: p})
	}
	return f
}

func (f *Fanout) Len() int {
	return len(f.sinks)
}

func (f *Fanout) Publish(ctx context.Context, event models.DocumentEvent) error {
	event = stamp(event)
	var errs []error
	for _, s := range f.sinks {
		if err := s.pub.Publish(ctx, event); err != nil {
			metrics.EventPublishFailures.WithLabelValues(s.name).Inc()
			f.logger.Error("event publish failed", map[string]interface{}{
				"sink":       s.name,
				"eventId":    event.ID,
				"type":       event.Type,
				"documentId": event.DocumentID,
				"error":      err,
			})
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

// stamp fills the id and time so every sink sees the same values.
func stamp(event models.DocumentEvent) models.DocumentEvent {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	return event
}
