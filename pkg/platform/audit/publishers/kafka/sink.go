// Package kafka streams audit events to a Kafka-compatible broker.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "bansync/pkg/platform/audit"
)

// Payload is the JSON record value. Field names are stable for consumers.
type Payload struct {
	ID          string `json:"id"`
	Category    string `json:"category"`
	Timestamp   string `json:"timestamp"`
	Action      string `json:"action"`
	ActorID     string `json:"actor_id,omitempty"`
	Subject     string `json:"subject,omitempty"`
	CommunityID string `json:"community_id,omitempty"`
	Decision    string `json:"decision,omitempty"`
	Reason      string `json:"reason,omitempty"`
	RunID       string `json:"run_id,omitempty"`
}

// Sink implements audit.Store by producing one record per event. Records are
// keyed by community so a consumer sees each community's events in order.
type Sink struct {
	client *kgo.Client
	topic  string
}

// New connects to brokers and produces to topic.
func New(brokers []string, topic string) (*Sink, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerLinger(5*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Sink{client: client, topic: topic}, nil
}

// Append produces the event synchronously.
func (s *Sink) Append(ctx context.Context, event audit.Event) error {
	value, err := json.Marshal(toPayload(uuid.New(), event))
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}
	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(event.CommunityID),
		Value: value,
	}
	if err := s.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce audit event: %w", err)
	}
	return nil
}

// EnsureTopic creates the topic with broker-default partitioning when it does
// not exist yet.
func (s *Sink) EnsureTopic(ctx context.Context) error {
	_, err := kadm.NewClient(s.client).CreateTopic(ctx, -1, -1, nil, s.topic)
	if err != nil && !errors.Is(err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("create audit topic %s: %w", s.topic, err)
	}
	return nil
}

// Close flushes and releases the client.
func (s *Sink) Close() {
	s.client.Close()
}

func toPayload(id uuid.UUID, event audit.Event) Payload {
	category := event.Category
	if category == "" {
		category = audit.AuditEvent(event.Action).Category()
	}
	return Payload{
		ID:          id.String(),
		Category:    string(category),
		Timestamp:   event.Timestamp.UTC().Format(time.RFC3339Nano),
		Action:      event.Action,
		ActorID:     event.ActorID,
		Subject:     event.Subject,
		CommunityID: event.CommunityID,
		Decision:    event.Decision,
		Reason:      event.Reason,
		RunID:       event.RunID,
	}
}
