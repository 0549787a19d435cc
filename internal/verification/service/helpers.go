package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"webkart/internal/verification/models"
	id "webkart/pkg/domain"
	dErrors "webkart/pkg/domain-errors"
	"webkart/pkg/platform/audit"
	"webkart/pkg/platform/sentinel"
	"webkart/pkg/requestcontext"
)

func trimSpace(s string) string { return strings.TrimSpace(s) }

// translateStoreErr maps store sentinels to domain errors.
func translateStoreErr(err error, action string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "verification session not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.New(dErrors.CodeConflict, "verification session was modified concurrently, retry")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to "+action)
	}
}

func outOfOrder(operation string, step models.Step) error {
	return dErrors.New(dErrors.CodeOutOfOrder, fmt.Sprintf("cannot %s while session is %s", operation, step))
}

func (s *Service) load(ctx context.Context, sessionID id.SessionID) (*models.Session, error) {
	session, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, translateStoreErr(err, "load verification session")
	}
	return session, nil
}

// snapshot reads a session under its gate slot and releases the slot before
// returning.
func (s *Service) snapshot(ctx context.Context, sessionID id.SessionID) (*models.Session, error) {
	release, err := s.gate.acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()
	return s.load(ctx, sessionID)
}

// reload re-reads a session after a collaborator call. The caller must hold
// the gate slot. done reports that another request already advanced the
// session past to; the returned session is then the current state. A session
// modified in any other way since snapshot was read is a Conflict.
func (s *Service) reload(ctx context.Context, snapshot *models.Session, operation string, from, to models.Step) (*models.Session, bool, error) {
	current, err := s.load(ctx, snapshot.ID)
	if err != nil {
		return nil, false, err
	}
	switch current.Step.Attempt(from, to) {
	case models.AlreadyDone:
		return current, true, nil
	case models.OutOfOrder:
		return nil, false, outOfOrder(operation, current.Step)
	}
	if current.Version != snapshot.Version {
		return nil, false, dErrors.New(dErrors.CodeConflict, "verification session was modified concurrently, retry")
	}
	return current, false, nil
}

func (s *Service) commit(ctx context.Context, session *models.Session) error {
	return translateStoreErr(s.store.Update(ctx, session), "save verification session")
}

func (s *Service) emit(ctx context.Context, action audit.AuditEvent, session *models.Session, reason string) {
	if s.auditor == nil {
		return
	}
	event := audit.Event{
		Action: string(action),
		Reason: reason,
	}
	if session != nil {
		event.SessionID = session.ID.String()
		event.Subject = session.Business.Name
		event.Step = string(session.Step)
	}
	if err := s.auditor.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to emit audit event",
			"action", action,
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	}
}
