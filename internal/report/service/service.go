// Package service implements the report registry: durable, append-only
// acceptance of fraud and abuse reports, handed to moderation through the
// outbox.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"webkart/internal/report/metrics"
	"webkart/internal/report/models"
	id "webkart/pkg/domain"
	dErrors "webkart/pkg/domain-errors"
	"webkart/pkg/platform/audit"
	"webkart/pkg/platform/outbox"
	"webkart/pkg/requestcontext"
)

const (
	// DefaultTopic receives reports for moderation.
	DefaultTopic = "webkart.reports"

	MaxReasonRunes      = 2000
	MaxBusinessRefRunes = 256

	eventReportSubmitted = "report.submitted"
)

// Store persists a report together with its moderation outbox entry. Both
// must be durable when Save returns nil.
type Store interface {
	Save(ctx context.Context, report *models.Report, entry outbox.Entry) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service accepts reports.
type Service struct {
	store   Store
	topic   string
	logger  *slog.Logger
	metrics *metrics.Metrics
	auditor AuditPublisher
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) {
		s.auditor = p
	}
}

// WithTopic overrides the moderation topic.
func WithTopic(topic string) Option {
	return func(s *Service) {
		if topic != "" {
			s.topic = topic
		}
	}
}

func New(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("report store is required")
	}
	s := &Service{
		store:  store,
		topic:  DefaultTopic,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// moderationPayload is the message published for moderators.
type moderationPayload struct {
	ReportID    string    `json:"report_id"`
	BusinessRef string    `json:"business_ref"`
	Reason      string    `json:"reason"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Submit records a report and returns its id once it is durable. Moderation
// happens later and never rejects a well-formed report.
func (s *Service) Submit(ctx context.Context, businessRef, reason string) (id.ReportID, error) {
	report, err := newReport(businessRef, reason, requestcontext.Now(ctx))
	if err != nil {
		s.metrics.IncRejected(string(dErrors.CodeOf(err)))
		return id.ReportID{}, err
	}

	payload, err := json.Marshal(moderationPayload{
		ReportID:    report.ID.String(),
		BusinessRef: report.BusinessRef,
		Reason:      report.Reason,
		SubmittedAt: report.SubmittedAt,
	})
	if err != nil {
		return id.ReportID{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode report")
	}
	entry := outbox.Entry{
		ID:            uuid.New(),
		AggregateType: "report",
		AggregateID:   report.ID.String(),
		EventType:     eventReportSubmitted,
		Topic:         s.topic,
		Payload:       payload,
		CreatedAt:     report.SubmittedAt,
	}

	if err := s.store.Save(ctx, report, entry); err != nil {
		s.logger.ErrorContext(ctx, "failed to save report",
			"request_id", requestcontext.RequestID(ctx),
			"report_id", report.ID,
			"error", err,
		)
		return id.ReportID{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record report")
	}

	s.metrics.IncSubmitted()
	if s.auditor != nil {
		if err := s.auditor.Emit(ctx, audit.Event{
			Action:  string(audit.EventReportSubmitted),
			Subject: report.BusinessRef,
		}); err != nil {
			s.logger.WarnContext(ctx, "failed to emit audit event",
				"action", audit.EventReportSubmitted,
				"error", err,
			)
		}
	}
	s.logger.InfoContext(ctx, "report submitted",
		"request_id", requestcontext.RequestID(ctx),
		"report_id", report.ID,
	)
	return report.ID, nil
}

func newReport(businessRef, reason string, now time.Time) (*models.Report, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, dErrors.New(dErrors.CodeEmptyReason, "reason is required")
	}
	businessRef = strings.TrimSpace(businessRef)
	if businessRef == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "business reference is required")
	}
	if utf8.RuneCountInString(businessRef) > MaxBusinessRefRunes {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "business reference is too long")
	}
	if utf8.RuneCountInString(reason) > MaxReasonRunes {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "reason must be at most 2000 characters")
	}
	return &models.Report{
		ID:          id.NewReportID(),
		BusinessRef: businessRef,
		Reason:      reason,
		SubmittedAt: now,
	}, nil
}
