package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	audit "webkart/pkg/platform/audit"
	"webkart/pkg/platform/outbox"
)

// DefaultTopic receives audit events relayed from the outbox.
const DefaultTopic = "webkart.audit"

// OutboxAppender is satisfied by outbox.PostgresStore and outbox.InMemoryStore.
type OutboxAppender interface {
	Append(ctx context.Context, entry outbox.Entry) error
}

// Store implements audit.Store using the transactional outbox pattern.
// Events are written to the outbox table and published to Kafka by the
// outbox relay; Kafka is the source of truth for audit events.
type Store struct {
	outbox OutboxAppender
	topic  string
}

// New creates an audit store that writes to the outbox under topic
// (DefaultTopic when empty).
func New(appender OutboxAppender, topic string) *Store {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Store{outbox: appender, topic: topic}
}

// outboxPayload is the JSON structure published to Kafka.
type outboxPayload struct {
	ID        string `json:"id"`
	Category  string `json:"category"`
	Timestamp string `json:"timestamp"`
	SessionID string `json:"session_id,omitempty"`
	Subject   string `json:"subject,omitempty"`
	Action    string `json:"action"`
	Step      string `json:"step,omitempty"`
	Reason    string `json:"reason,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	ClientIP  string `json:"client_ip,omitempty"`
}

// Append writes an audit event to the outbox.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	eventID := uuid.New()

	// The category map is the source of truth, not the caller.
	category := audit.AuditEvent(event.Action).Category()

	payload, err := json.Marshal(outboxPayload{
		ID:        eventID.String(),
		Category:  string(category),
		Timestamp: event.Timestamp.Format(time.RFC3339Nano),
		SessionID: event.SessionID,
		Subject:   event.Subject,
		Action:    event.Action,
		Step:      event.Step,
		Reason:    event.Reason,
		RequestID: event.RequestID,
		ClientIP:  event.ClientIP,
	})
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	aggregateType := "audit"
	aggregateID := eventID.String()
	if event.SessionID != "" {
		aggregateType = "verification_session"
		aggregateID = event.SessionID
	}

	return s.outbox.Append(ctx, outbox.Entry{
		ID:            eventID,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     event.Action,
		Topic:         s.topic,
		Payload:       payload,
		CreatedAt:     event.Timestamp,
	})
}
