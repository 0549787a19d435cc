package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"webkart/internal/platform/kafka/consumer"
	audit "webkart/pkg/platform/audit"
)

// Record is an audit event as archived for long-term retention.
type Record struct {
	ID         uuid.UUID
	Category   audit.EventCategory
	Action     string
	SessionID  string
	Subject    string
	Step       string
	Reason     string
	RequestID  string
	OccurredAt time.Time
}

// ArchiveStore persists records. Appending an id twice must be a no-op, since
// delivery is at-least-once.
type ArchiveStore interface {
	Archive(ctx context.Context, record Record) error
}

// ArchiveHandler writes audit events relayed through Kafka to the archive.
type ArchiveHandler struct {
	store  ArchiveStore
	logger *slog.Logger
}

func NewArchiveHandler(store ArchiveStore, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{store: store, logger: logger}
}

// payload mirrors the JSON written by the outbox-backed audit store.
type payload struct {
	ID        string `json:"id"`
	Category  string `json:"category"`
	Timestamp string `json:"timestamp"`
	SessionID string `json:"session_id"`
	Subject   string `json:"subject"`
	Action    string `json:"action"`
	Step      string `json:"step"`
	Reason    string `json:"reason"`
	RequestID string `json:"request_id"`
}

// Handle archives one event. Malformed messages are logged and committed so
// they cannot block the partition.
func (h *ArchiveHandler) Handle(ctx context.Context, msg *consumer.Message) error {
	var p payload
	if err := json.Unmarshal(msg.Value, &p); err != nil {
		h.logger.ErrorContext(ctx, "failed to unmarshal audit payload",
			"offset", msg.Offset,
			"error", err,
		)
		return nil
	}

	eventID, err := uuid.Parse(p.ID)
	if err != nil {
		h.logger.ErrorContext(ctx, "audit event has invalid id",
			"offset", msg.Offset,
			"id", p.ID,
		)
		return nil
	}
	if p.Action == "" {
		h.logger.ErrorContext(ctx, "audit event missing action", "event_id", eventID)
		return nil
	}

	occurred, err := time.Parse(time.RFC3339Nano, p.Timestamp)
	if err != nil {
		occurred = msg.Timestamp
	}

	record := Record{
		ID:         eventID,
		Category:   audit.AuditEvent(p.Action).Category(),
		Action:     p.Action,
		SessionID:  p.SessionID,
		Subject:    p.Subject,
		Step:       p.Step,
		Reason:     p.Reason,
		RequestID:  p.RequestID,
		OccurredAt: occurred,
	}
	if err := h.store.Archive(ctx, record); err != nil {
		return fmt.Errorf("archive audit event %s: %w", eventID, err)
	}

	h.logger.DebugContext(ctx, "archived audit event",
		"event_id", eventID,
		"action", record.Action,
	)
	return nil
}
