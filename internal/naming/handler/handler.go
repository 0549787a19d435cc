// Package handler exposes domain derivation over HTTP.
package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"golang.org/x/net/idna"

	"webkart/internal/naming"
	dErrors "webkart/pkg/domain-errors"
	"webkart/pkg/platform/httputil"
	"webkart/pkg/requestcontext"
)

const maxNameRunes = 200

// Deriver derives a domain candidate from a business name.
type Deriver interface {
	Derive(name string, language naming.Language) (naming.DomainCandidate, error)
}

// Handler serves the naming endpoints.
type Handler struct {
	deriver Deriver
	logger  *slog.Logger
}

func New(deriver Deriver, logger *slog.Logger) *Handler {
	return &Handler{deriver: deriver, logger: logger}
}

// Register mounts naming endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/domains/derive", h.HandleDerive)
	r.Get("/domains/languages", h.HandleLanguages)
}

// DeriveRequest is the HTTP request body for POST /domains/derive.
type DeriveRequest struct {
	Name     string `json:"name"`
	Language string `json:"language"`
}

func (r *DeriveRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if strings.TrimSpace(r.Name) == "" {
		return dErrors.New(dErrors.CodeValidation, "name is required")
	}
	if utf8.RuneCountInString(r.Name) > maxNameRunes {
		return dErrors.New(dErrors.CodeValidation, "name is too long")
	}
	return nil
}

// DeriveResponse is the HTTP response for POST /domains/derive.
type DeriveResponse struct {
	Label string `json:"label"`
	TLD   string `json:"tld"`
	Full  string `json:"full"`
	ASCII string `json:"ascii"`
}

// LanguageResponse describes one supported language.
type LanguageResponse struct {
	Code       string `json:"code"`
	NativeName string `json:"native_name"`
	TLD        string `json:"tld"`
	TLDASCII   string `json:"tld_ascii"`
}

// LanguagesResponse is the HTTP response for GET /domains/languages.
type LanguagesResponse struct {
	Languages  []LanguageResponse `json:"languages"`
	DefaultTLD string             `json:"default_tld"`
}

// HandleDerive handles POST /domains/derive. Unknown languages fall back to
// the default TLD rather than failing.
func (h *Handler) HandleDerive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[DeriveRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	language, _ := naming.ParseLanguage(req.Language)
	candidate, err := h.deriver.Derive(req.Name, language)
	if err != nil {
		h.logger.WarnContext(ctx, "domain derivation failed",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &DeriveResponse{
		Label: candidate.Label,
		TLD:   candidate.TLD,
		Full:  candidate.Full,
		ASCII: candidate.ASCII,
	})
}

// HandleLanguages handles GET /domains/languages.
func (h *Handler) HandleLanguages(w http.ResponseWriter, _ *http.Request) {
	resp := &LanguagesResponse{DefaultTLD: naming.DefaultTLD}
	for _, l := range naming.Languages() {
		ascii, err := idna.Punycode.ToASCII(l.TLD())
		if err != nil {
			ascii = ""
		}
		resp.Languages = append(resp.Languages, LanguageResponse{
			Code:       string(l),
			NativeName: l.NativeName(),
			TLD:        l.TLD(),
			TLDASCII:   ascii,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}
