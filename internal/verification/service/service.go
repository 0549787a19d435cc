// Package service implements the verification workflow:
//
//	created -> phone_verified -> business_verified -> photo_uploaded -> complete
//
// Transitions on one session are serialized by an in-process gate and
// committed with an optimistic version check, so concurrent requests (or
// replicas sharing a Redis store) never double-advance a session. The gate is
// held only to read or commit: calls to the notifier, directory and photo
// store run with it released, and their result is committed after the
// session is reloaded and found unchanged.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"webkart/internal/directory"
	"webkart/internal/naming"
	"webkart/internal/otp"
	"webkart/internal/photo"
	"webkart/internal/verification/metrics"
	"webkart/internal/verification/models"
	id "webkart/pkg/domain"
	dErrors "webkart/pkg/domain-errors"
	"webkart/pkg/platform/audit"
	"webkart/pkg/requestcontext"
)

const tracerName = "webkart/internal/verification/service"

// Service owns verification sessions.
type Service struct {
	store     Store
	issuer    *otp.Issuer
	directory BusinessDirectory
	photos    PhotoStore
	deriver   *naming.Deriver
	gate      *sessionGate

	logger        *slog.Logger
	metrics       *metrics.Metrics
	auditor       AuditPublisher
	tracer        trace.Tracer
	otpOptions    []otp.Option
	photoMaxBytes int
	gateWait      time.Duration
}

// Option configures a Service.
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

// WithOTPOptions configures the embedded OTP issuer.
func WithOTPOptions(opts ...otp.Option) Option {
	return func(s *Service) {
		s.otpOptions = append(s.otpOptions, opts...)
	}
}

func WithPhotoMaxBytes(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.photoMaxBytes = n
		}
	}
}

// WithGateWait bounds how long a request waits for another in-flight
// transition on the same session.
func WithGateWait(d time.Duration) Option {
	return func(s *Service) {
		s.gateWait = d
	}
}

func WithDeriver(d *naming.Deriver) Option {
	return func(s *Service) {
		if d != nil {
			s.deriver = d
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// New creates the verification service.
func New(store Store, notifier Notifier, dir BusinessDirectory, photos PhotoStore, opts ...Option) (*Service, error) {
	switch {
	case store == nil:
		return nil, errors.New("session store is required")
	case notifier == nil:
		return nil, errors.New("notifier is required")
	case dir == nil:
		return nil, errors.New("business directory is required")
	case photos == nil:
		return nil, errors.New("photo store is required")
	}
	s := &Service{
		store:         store,
		directory:     dir,
		photos:        photos,
		deriver:       naming.NewDeriver(0),
		logger:        slog.Default(),
		tracer:        otel.Tracer(tracerName),
		photoMaxBytes: photo.DefaultMaxBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.gate = newSessionGate(s.gateWait)
	s.issuer = otp.New(notifier, append([]otp.Option{otp.WithLogger(s.logger)}, s.otpOptions...)...)
	return s, nil
}

// CreateSession opens a session at StepCreated.
func (s *Service) CreateSession(ctx context.Context, req CreateSessionRequest) (*models.Session, error) {
	business, err := req.business()
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	session := &models.Session{
		ID:          id.NewSessionID(),
		Business:    business,
		Step:        models.StepCreated,
		CreatedAt:   now,
		LastUpdated: now,
	}
	if err := s.store.Create(ctx, session); err != nil {
		return nil, translateStoreErr(err, "create verification session")
	}

	s.metrics.IncSessionsCreated()
	s.emit(ctx, audit.EventSessionCreated, session, "")
	s.logger.InfoContext(ctx, "verification session created",
		"request_id", requestcontext.RequestID(ctx),
		"session_id", session.ID,
		"phone", business.Phone.Masked(),
	)
	return session, nil
}

// GetSession returns the current state of a session.
func (s *Service) GetSession(ctx context.Context, sessionID id.SessionID) (*models.Session, error) {
	return s.load(ctx, sessionID)
}

// UpdateBusiness amends business details. It is allowed until the directory
// check has passed, so a NoMatch can be fixed and retried.
func (s *Service) UpdateBusiness(ctx context.Context, sessionID id.SessionID, req UpdateBusinessRequest) (*models.Session, error) {
	release, err := s.gate.acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	session, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Step.Rank() >= models.StepBusinessVerified.Rank() {
		return nil, dErrors.New(dErrors.CodeConflict, "business details are locked once the directory check has passed")
	}

	business, changed, err := req.apply(session.Business)
	if err != nil {
		return nil, err
	}
	if !changed {
		return session, nil
	}
	session.Business = business
	session.LastUpdated = requestcontext.Now(ctx)
	if err := s.commit(ctx, session); err != nil {
		return nil, err
	}
	s.emit(ctx, audit.EventBusinessUpdated, session, "")
	return session, nil
}

// IssueOTP issues a new code, replacing any previous one, and sends it to the
// business phone. The new record is committed before delivery, so a
// DeliveryFailed error still leaves a valid code behind for a resend. Once the
// phone is verified this is a no-op.
func (s *Service) IssueOTP(ctx context.Context, sessionID id.SessionID) (*IssueResult, error) {
	const op = "issue_otp"
	session, code, err := s.storeOTP(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		s.metrics.IncTransition(op, "noop")
		return &IssueResult{AlreadyVerified: true}, nil
	}
	s.emit(ctx, audit.EventOTPIssued, session, "")

	result := &IssueResult{ExpiresAt: session.OTP.ExpiresAt, AttemptsRemaining: session.OTP.AttemptsRemaining}
	err = s.call(ctx, "notifier", sessionID, func(ctx context.Context) error {
		return s.issuer.Deliver(ctx, session.Business.Phone, code)
	})
	if err != nil {
		s.metrics.IncTransition(op, "failed")
		s.emit(ctx, audit.EventOTPDeliveryFailed, session, "")
		return result, err
	}
	s.metrics.IncTransition(op, "advanced")
	return result, nil
}

// storeOTP commits a fresh code on a session at StepCreated and returns it
// with the plaintext. The session is nil once the phone is verified.
func (s *Service) storeOTP(ctx context.Context, sessionID id.SessionID) (*models.Session, string, error) {
	release, err := s.gate.acquire(ctx, sessionID)
	if err != nil {
		return nil, "", err
	}
	defer release()

	session, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, "", err
	}
	if session.Step != models.StepCreated {
		return nil, "", nil
	}

	now := requestcontext.Now(ctx)
	record, code, err := s.issuer.Issue(now)
	if err != nil {
		return nil, "", err
	}
	session.OTP = record
	session.LastUpdated = now
	if err := s.commit(ctx, session); err != nil {
		return nil, "", err
	}
	return session, code, nil
}

// SubmitOTP validates a code. Accepted advances the session to
// StepPhoneVerified; submitting again afterwards reports AlreadyVerified
// without touching the session.
func (s *Service) SubmitOTP(ctx context.Context, sessionID id.SessionID, code string) (*SubmitResult, error) {
	const op = "submit_otp"
	release, err := s.gate.acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	session, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Step != models.StepCreated {
		s.metrics.IncTransition(op, "noop")
		return &SubmitResult{Outcome: OutcomeAlreadyVerified, Step: session.Step}, nil
	}

	now := requestcontext.Now(ctx)
	verdict := s.issuer.Validate(session.OTP, code, now)
	s.metrics.IncOTPVerdict(verdict.String())

	if verdict.Accepted {
		session.OTP = nil
		session.Step = models.StepPhoneVerified
		session.LastUpdated = now
		if err := s.commit(ctx, session); err != nil {
			return nil, err
		}
		s.metrics.IncTransition(op, "advanced")
		s.emit(ctx, audit.EventOTPAccepted, session, "")
		return &SubmitResult{Outcome: OutcomeAccepted, Step: session.Step}, nil
	}

	if verdict.Reason == otp.ReasonMismatch {
		session.LastUpdated = now
		if err := s.commit(ctx, session); err != nil {
			return nil, err
		}
	}
	result := &SubmitResult{Outcome: OutcomeRejected, Reason: verdict.Reason, Step: session.Step}
	if session.OTP != nil {
		result.AttemptsRemaining = session.OTP.AttemptsRemaining
	}
	s.metrics.IncTransition(op, "rejected")
	s.emit(ctx, audit.EventOTPRejected, session, string(verdict.Reason))
	return result, nil
}

// VerifyBusiness looks the business up in the directory. NoMatch leaves the
// session unchanged and is retryable. Details amended while the lookup is in
// flight fail the commit with Conflict.
func (s *Service) VerifyBusiness(ctx context.Context, sessionID id.SessionID) (*models.Session, error) {
	const op = "verify_business"
	session, err := s.snapshot(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	switch session.Step.Attempt(models.StepPhoneVerified, models.StepBusinessVerified) {
	case models.AlreadyDone:
		s.metrics.IncTransition(op, "noop")
		return session, nil
	case models.OutOfOrder:
		s.metrics.IncTransition(op, "out_of_order")
		return nil, outOfOrder("verify business", session.Step)
	}

	var result directory.Result
	err = s.call(ctx, "directory", sessionID, func(ctx context.Context) error {
		var lookupErr error
		result, lookupErr = s.directory.Lookup(ctx, directory.Query{
			Name:     session.Business.Name,
			Location: session.Business.Location,
			Phone:    session.Business.Phone.String(),
		})
		return lookupErr
	})
	if err != nil {
		s.metrics.IncTransition(op, "failed")
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "business directory unavailable, retry later")
	}

	release, err := s.gate.acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	current, done, err := s.reload(ctx, session, "verify business", models.StepPhoneVerified, models.StepBusinessVerified)
	if err != nil || done {
		if done {
			s.metrics.IncTransition(op, "noop")
		}
		return current, err
	}
	if !result.Matched {
		s.metrics.IncTransition(op, "no_match")
		s.emit(ctx, audit.EventBusinessNoMatch, current, "")
		return nil, dErrors.New(dErrors.CodeNoMatch, "business not found in directory, amend details and retry")
	}

	current.DirectoryMatched = true
	current.DirectoryRef = result.Source + ":" + result.Reference
	current.Step = models.StepBusinessVerified
	current.LastUpdated = requestcontext.Now(ctx)
	if err := s.commit(ctx, current); err != nil {
		return nil, err
	}
	s.metrics.IncTransition(op, "advanced")
	s.emit(ctx, audit.EventBusinessMatched, current, result.Source)
	return current, nil
}

// UploadPhoto stores the storefront photo. A store failure leaves the session
// unchanged and is retryable.
func (s *Service) UploadPhoto(ctx context.Context, sessionID id.SessionID, data []byte) (*models.Session, error) {
	const op = "upload_photo"
	contentType, err := photo.Inspect(data, s.photoMaxBytes)
	if err != nil {
		return nil, err
	}

	session, err := s.snapshot(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	switch session.Step.Attempt(models.StepBusinessVerified, models.StepPhotoUploaded) {
	case models.AlreadyDone:
		s.metrics.IncTransition(op, "noop")
		return session, nil
	case models.OutOfOrder:
		s.metrics.IncTransition(op, "out_of_order")
		return nil, outOfOrder("upload photo", session.Step)
	}

	var ref string
	err = s.call(ctx, "photo_store", sessionID, func(ctx context.Context) error {
		var storeErr error
		ref, storeErr = s.photos.Store(ctx, sessionID, data, contentType)
		return storeErr
	})
	if err != nil {
		s.metrics.IncTransition(op, "failed")
		return nil, dErrors.Wrap(err, dErrors.CodeStoreFailed, "storefront photo could not be stored, retry")
	}

	release, err := s.gate.acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	current, done, err := s.reload(ctx, session, "upload photo", models.StepBusinessVerified, models.StepPhotoUploaded)
	if err != nil || done {
		if done {
			s.metrics.IncTransition(op, "noop")
		}
		return current, err
	}

	current.PhotoRef = ref
	current.Step = models.StepPhotoUploaded
	current.LastUpdated = requestcontext.Now(ctx)
	if err := s.commit(ctx, current); err != nil {
		return nil, err
	}
	s.metrics.IncTransition(op, "advanced")
	s.emit(ctx, audit.EventPhotoStored, current, "")
	return current, nil
}

// CompleteVerification marks the session verified and returns the "verified
// since" time. Repeating it returns the original time.
func (s *Service) CompleteVerification(ctx context.Context, sessionID id.SessionID) (time.Time, error) {
	const op = "complete"
	release, err := s.gate.acquire(ctx, sessionID)
	if err != nil {
		return time.Time{}, err
	}
	defer release()

	session, err := s.load(ctx, sessionID)
	if err != nil {
		return time.Time{}, err
	}
	switch session.Step.Attempt(models.StepPhotoUploaded, models.StepComplete) {
	case models.AlreadyDone:
		s.metrics.IncTransition(op, "noop")
		return verifiedSince(session), nil
	case models.OutOfOrder:
		s.metrics.IncTransition(op, "out_of_order")
		return time.Time{}, outOfOrder("complete verification", session.Step)
	}

	now := requestcontext.Now(ctx)
	session.Step = models.StepComplete
	session.LastUpdated = now
	session.VerifiedAt = &now
	if err := s.commit(ctx, session); err != nil {
		return time.Time{}, err
	}
	s.metrics.IncTransition(op, "advanced")
	s.emit(ctx, audit.EventVerificationCompleted, session, "")
	s.logger.InfoContext(ctx, "business verified",
		"request_id", requestcontext.RequestID(ctx),
		"session_id", sessionID,
	)
	return now, nil
}

// Listing returns the public landing-page record of a complete session.
func (s *Service) Listing(ctx context.Context, sessionID id.SessionID) (*models.Listing, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Step != models.StepComplete {
		return nil, dErrors.New(dErrors.CodeNotFound, "listing is not published until verification is complete")
	}
	candidate, err := s.deriver.Derive(session.Business.Name, session.Business.Language)
	if err != nil {
		return nil, err
	}
	return &models.Listing{
		SessionID:     session.ID,
		BusinessName:  session.Business.Name,
		Domain:        candidate,
		Language:      session.Business.Language,
		Location:      session.Business.Location,
		Contact:       session.Business.Contact,
		VerifiedSince: verifiedSince(session),
	}, nil
}

// PurgeIdle deletes unfinished sessions not updated within ttl.
func (s *Service) PurgeIdle(ctx context.Context, ttl time.Duration) (int, error) {
	if ttl <= 0 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "idle ttl must be positive")
	}
	cutoff := requestcontext.Now(ctx).Add(-ttl)
	purged, err := s.store.DeleteIdle(ctx, cutoff)
	if err != nil {
		return purged, dErrors.Wrap(err, dErrors.CodeInternal, "failed to purge idle sessions")
	}
	s.metrics.AddPurged(purged)
	if purged > 0 {
		s.emit(ctx, audit.EventSessionsPurged, nil, strconv.Itoa(purged))
	}
	return purged, nil
}

func verifiedSince(session *models.Session) time.Time {
	if session.VerifiedAt != nil {
		return *session.VerifiedAt
	}
	return session.LastUpdated
}

// call runs a collaborator call inside a span and records its latency.
func (s *Service) call(ctx context.Context, collaborator string, sessionID id.SessionID, fn func(context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, collaborator,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("webkart.session_id", sessionID.String())),
	)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	s.metrics.ObserveCollaborator(collaborator, start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.WarnContext(ctx, "collaborator call failed",
			"collaborator", collaborator,
			"request_id", requestcontext.RequestID(ctx),
			"session_id", sessionID,
			"error", err,
		)
	}
	return err
}
