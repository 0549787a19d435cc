package service

//go:generate mockgen -source=ports.go -destination=../mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"webkart/internal/directory"
	"webkart/internal/verification/models"
	id "webkart/pkg/domain"
	"webkart/pkg/platform/audit"
)

// Store persists sessions. Update is an optimistic commit: it fails with
// sentinel.ErrConflict when the stored Version differs from session.Version
// and bumps session.Version on success.
type Store interface {
	Create(ctx context.Context, session *models.Session) error
	Get(ctx context.Context, sessionID id.SessionID) (*models.Session, error)
	Update(ctx context.Context, session *models.Session) error
	DeleteIdle(ctx context.Context, cutoff time.Time) (int, error)
}

// Notifier delivers OTP messages to a phone.
type Notifier interface {
	Send(ctx context.Context, phone id.PhoneNumber, message string) error
}

// BusinessDirectory confirms that a business exists.
type BusinessDirectory interface {
	Lookup(ctx context.Context, query directory.Query) (directory.Result, error)
}

// PhotoStore keeps storefront photos and returns an opaque reference.
type PhotoStore interface {
	Store(ctx context.Context, sessionID id.SessionID, data []byte, contentType string) (string, error)
}

// AuditPublisher records workflow events.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}
