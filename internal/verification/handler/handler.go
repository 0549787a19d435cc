// Package handler exposes the verification workflow over HTTP.
package handler

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"webkart/internal/photo"
	"webkart/internal/verification/models"
	"webkart/internal/verification/service"
	id "webkart/pkg/domain"
	dErrors "webkart/pkg/domain-errors"
	"webkart/pkg/platform/httputil"
	"webkart/pkg/requestcontext"
)

// Service defines the verification operations the handler needs.
type Service interface {
	CreateSession(ctx context.Context, req service.CreateSessionRequest) (*models.Session, error)
	GetSession(ctx context.Context, sessionID id.SessionID) (*models.Session, error)
	UpdateBusiness(ctx context.Context, sessionID id.SessionID, req service.UpdateBusinessRequest) (*models.Session, error)
	IssueOTP(ctx context.Context, sessionID id.SessionID) (*service.IssueResult, error)
	SubmitOTP(ctx context.Context, sessionID id.SessionID, code string) (*service.SubmitResult, error)
	VerifyBusiness(ctx context.Context, sessionID id.SessionID) (*models.Session, error)
	UploadPhoto(ctx context.Context, sessionID id.SessionID, data []byte) (*models.Session, error)
	CompleteVerification(ctx context.Context, sessionID id.SessionID) (time.Time, error)
	Listing(ctx context.Context, sessionID id.SessionID) (*models.Listing, error)
}

// Handler wires verification endpoints to the verification service.
type Handler struct {
	service       Service
	logger        *slog.Logger
	photoMaxBytes int
	createLimit   func(http.Handler) http.Handler
	issueLimit    func(http.Handler) http.Handler
}

type Option func(*Handler)

// WithCreateLimit wraps POST /verifications.
func WithCreateLimit(mw func(http.Handler) http.Handler) Option {
	return func(h *Handler) {
		if mw != nil {
			h.createLimit = mw
		}
	}
}

// WithIssueOTPLimit wraps POST /verifications/{id}/otp, the endpoint that
// sends an SMS.
func WithIssueOTPLimit(mw func(http.Handler) http.Handler) Option {
	return func(h *Handler) {
		if mw != nil {
			h.issueLimit = mw
		}
	}
}

// New constructs a verification handler. photoMaxBytes bounds the raw upload
// body; zero uses photo.DefaultMaxBytes.
func New(service Service, logger *slog.Logger, photoMaxBytes int, opts ...Option) *Handler {
	if photoMaxBytes <= 0 {
		photoMaxBytes = photo.DefaultMaxBytes
	}
	h := &Handler{
		service:       service,
		logger:        logger,
		photoMaxBytes: photoMaxBytes,
		createLimit:   passThrough,
		issueLimit:    passThrough,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func passThrough(next http.Handler) http.Handler { return next }

// Register mounts verification endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/verifications", func(r chi.Router) {
		r.With(h.createLimit).Post("/", h.HandleCreate)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.HandleGet)
			r.Patch("/business", h.HandleUpdateBusiness)
			r.With(h.issueLimit).Post("/otp", h.HandleIssueOTP)
			r.Post("/otp/verify", h.HandleSubmitOTP)
			r.Post("/business/verify", h.HandleVerifyBusiness)
			r.Post("/photo", h.HandleUploadPhoto)
			r.Post("/complete", h.HandleComplete)
			r.Get("/listing", h.HandleListing)
		})
	})
}

// HandleCreate handles POST /verifications.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[CreateSessionRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	session, err := h.service.CreateSession(ctx, req.toService())
	if err != nil {
		h.fail(ctx, w, "create verification session", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, FromSession(session))
}

// HandleGet handles GET /verifications/{id}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	session, err := h.service.GetSession(ctx, sessionID)
	if err != nil {
		h.fail(ctx, w, "get verification session", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromSession(session))
}

// HandleUpdateBusiness handles PATCH /verifications/{id}/business.
func (h *Handler) HandleUpdateBusiness(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[UpdateBusinessRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	session, err := h.service.UpdateBusiness(ctx, sessionID, req.toService())
	if err != nil {
		h.fail(ctx, w, "update business details", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromSession(session))
}

// HandleIssueOTP handles POST /verifications/{id}/otp. A delivery failure is
// reported as an error even though a code was issued; the client resends.
func (h *Handler) HandleIssueOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	result, err := h.service.IssueOTP(ctx, sessionID)
	if err != nil {
		h.fail(ctx, w, "issue otp", err)
		return
	}
	status := http.StatusAccepted
	if result.AlreadyVerified {
		status = http.StatusOK
	}
	httputil.WriteJSON(w, status, FromIssueResult(result))
}

// HandleSubmitOTP handles POST /verifications/{id}/otp/verify.
func (h *Handler) HandleSubmitOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[SubmitOTPRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	result, err := h.service.SubmitOTP(ctx, sessionID, req.Code)
	if err != nil {
		h.fail(ctx, w, "submit otp", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromSubmitResult(result))
}

// HandleVerifyBusiness handles POST /verifications/{id}/business/verify.
func (h *Handler) HandleVerifyBusiness(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	session, err := h.service.VerifyBusiness(ctx, sessionID)
	if err != nil {
		h.fail(ctx, w, "verify business", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromSession(session))
}

// HandleUploadPhoto handles POST /verifications/{id}/photo with the raw image
// as the body.
func (h *Handler) HandleUploadPhoto(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, int64(h.photoMaxBytes)))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteError(w, dErrors.New(dErrors.CodePayloadTooLarge, "photo is too large"))
			return
		}
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "failed to read photo"))
		return
	}
	session, err := h.service.UploadPhoto(ctx, sessionID, data)
	if err != nil {
		h.fail(ctx, w, "upload photo", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromSession(session))
}

// HandleComplete handles POST /verifications/{id}/complete.
func (h *Handler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	since, err := h.service.CompleteVerification(ctx, sessionID)
	if err != nil {
		h.fail(ctx, w, "complete verification", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &CompleteResponse{VerifiedSince: since})
}

// HandleListing handles GET /verifications/{id}/listing.
func (h *Handler) HandleListing(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	listing, err := h.service.Listing(ctx, sessionID)
	if err != nil {
		h.fail(ctx, w, "get listing", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromListing(listing))
}

func (h *Handler) sessionID(w http.ResponseWriter, r *http.Request) (id.SessionID, bool) {
	sessionID, err := id.ParseSessionID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.SessionID{}, false
	}
	return sessionID, true
}

// fail logs and writes err. Client errors are logged at warn level.
func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, action string, err error) {
	level := slog.LevelWarn
	if httputil.StatusFor(dErrors.CodeOf(err)) >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, "failed to "+action,
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
	httputil.WriteError(w, err)
}
