package worker

import (
	"context"
	"log/slog"

	audit "webkart/pkg/platform/audit"
)

// Worker drains audit events from a channel into a store until the channel
// is closed. Append failures are logged and the event dropped; audit writes
// never block the workflow.
type Worker struct {
	store  audit.Store
	inbox  <-chan audit.Event
	logger *slog.Logger
}

func NewWorker(store audit.Store, inbox <-chan audit.Event, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{store: store, inbox: inbox, logger: logger}
}

// Run returns once inbox is closed and drained.
func (w *Worker) Run(ctx context.Context) {
	for event := range w.inbox {
		if err := w.store.Append(ctx, event); err != nil {
			w.logger.ErrorContext(ctx, "failed to persist audit event",
				"action", event.Action,
				"session_id", event.SessionID,
				"error", err,
			)
		}
	}
}
