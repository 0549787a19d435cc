package handler

import (
	"strings"

	"webkart/internal/verification/service"
	dErrors "webkart/pkg/domain-errors"
)

// CreateSessionRequest is the HTTP request body for POST /verifications.
type CreateSessionRequest struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Language string `json:"language"`
	Location string `json:"location"`
	Contact  string `json:"contact"`
}

// Validate implements httputil.Validatable. Field rules live in the service;
// this only rejects obviously absent input.
func (r *CreateSessionRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if strings.TrimSpace(r.Name) == "" {
		return dErrors.New(dErrors.CodeValidation, "name is required")
	}
	if strings.TrimSpace(r.Phone) == "" {
		return dErrors.New(dErrors.CodeValidation, "phone is required")
	}
	return nil
}

func (r *CreateSessionRequest) toService() service.CreateSessionRequest {
	return service.CreateSessionRequest{
		Name:     r.Name,
		Phone:    r.Phone,
		Language: r.Language,
		Location: r.Location,
		Contact:  r.Contact,
	}
}

// UpdateBusinessRequest is the HTTP request body for
// PATCH /verifications/{id}/business. Omitted fields are left unchanged.
type UpdateBusinessRequest struct {
	Name     *string `json:"name"`
	Language *string `json:"language"`
	Location *string `json:"location"`
	Contact  *string `json:"contact"`
}

func (r *UpdateBusinessRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if r.Name == nil && r.Language == nil && r.Location == nil && r.Contact == nil {
		return dErrors.New(dErrors.CodeValidation, "at least one field must be provided")
	}
	return nil
}

func (r *UpdateBusinessRequest) toService() service.UpdateBusinessRequest {
	return service.UpdateBusinessRequest{
		Name:     r.Name,
		Language: r.Language,
		Location: r.Location,
		Contact:  r.Contact,
	}
}

// SubmitOTPRequest is the HTTP request body for
// POST /verifications/{id}/otp/verify.
type SubmitOTPRequest struct {
	Code string `json:"code"`
}

func (r *SubmitOTPRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Code = strings.TrimSpace(r.Code)
	if r.Code == "" {
		return dErrors.New(dErrors.CodeValidation, "code is required")
	}
	if len(r.Code) > 16 {
		return dErrors.New(dErrors.CodeValidation, "code must be at most 16 characters")
	}
	return nil
}
