// Package handler exposes report submission over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	id "webkart/pkg/domain"
	dErrors "webkart/pkg/domain-errors"
	"webkart/pkg/platform/httputil"
	"webkart/pkg/requestcontext"
)

// Service defines the report operations the handler needs.
type Service interface {
	Submit(ctx context.Context, businessRef, reason string) (id.ReportID, error)
}

type Handler struct {
	service     Service
	logger      *slog.Logger
	submitLimit func(http.Handler) http.Handler
}

type Option func(*Handler)

// WithSubmitLimit wraps POST /reports.
func WithSubmitLimit(mw func(http.Handler) http.Handler) Option {
	return func(h *Handler) {
		if mw != nil {
			h.submitLimit = mw
		}
	}
}

func New(service Service, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		service:     service,
		logger:      logger,
		submitLimit: func(next http.Handler) http.Handler { return next },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts report endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.With(h.submitLimit).Post("/reports", h.HandleSubmit)
}

// SubmitRequest is the HTTP request body for POST /reports. Field rules live
// in the service so that a blank reason is reported as empty_reason.
type SubmitRequest struct {
	BusinessRef string `json:"business_ref"`
	Reason      string `json:"reason"`
}

// SubmitResponse acknowledges a durable report.
type SubmitResponse struct {
	ID          string    `json:"id"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// HandleSubmit handles POST /reports.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[SubmitRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	reportID, err := h.service.Submit(ctx, req.BusinessRef, req.Reason)
	if err != nil {
		if dErrors.CodeOf(err) == dErrors.CodeInternal {
			h.logger.ErrorContext(ctx, "failed to submit report",
				"request_id", requestID,
				"error", err,
			)
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, &SubmitResponse{
		ID:          reportID.String(),
		SubmittedAt: requestcontext.Now(ctx),
	})
}
