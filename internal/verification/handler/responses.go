package handler

import (
	"time"

	"webkart/internal/naming"
	"webkart/internal/verification/models"
	"webkart/internal/verification/service"
)

// SessionResponse is the HTTP view of a verification session. The OTP hash
// and storage references are never exposed.
type SessionResponse struct {
	ID               string           `json:"id"`
	Step             string           `json:"step"`
	Business         BusinessResponse `json:"business"`
	OTP              *OTPResponse     `json:"otp,omitempty"`
	DirectoryMatched bool             `json:"directory_matched"`
	PhotoUploaded    bool             `json:"photo_uploaded"`
	CreatedAt        time.Time        `json:"created_at"`
	LastUpdated      time.Time        `json:"last_updated"`
	VerifiedAt       *time.Time       `json:"verified_at,omitempty"`
}

// BusinessResponse carries business details with the phone masked.
type BusinessResponse struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Language string `json:"language,omitempty"`
	Location string `json:"location,omitempty"`
	Contact  string `json:"contact"`
}

type OTPResponse struct {
	ExpiresAt         time.Time `json:"expires_at"`
	AttemptsRemaining int       `json:"attempts_remaining"`
}

// FromSession converts a session to its HTTP response.
func FromSession(session *models.Session) *SessionResponse {
	resp := &SessionResponse{
		ID:   session.ID.String(),
		Step: string(session.Step),
		Business: BusinessResponse{
			Name:     session.Business.Name,
			Phone:    session.Business.Phone.Masked(),
			Language: string(session.Business.Language),
			Location: session.Business.Location,
			Contact:  session.Business.Contact.String(),
		},
		DirectoryMatched: session.DirectoryMatched,
		PhotoUploaded:    session.PhotoRef != "",
		CreatedAt:        session.CreatedAt,
		LastUpdated:      session.LastUpdated,
		VerifiedAt:       session.VerifiedAt,
	}
	if session.OTP != nil {
		resp.OTP = &OTPResponse{
			ExpiresAt:         session.OTP.ExpiresAt,
			AttemptsRemaining: session.OTP.AttemptsRemaining,
		}
	}
	return resp
}

// IssueOTPResponse is the HTTP response for POST /verifications/{id}/otp.
type IssueOTPResponse struct {
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	AttemptsRemaining int        `json:"attempts_remaining"`
	AlreadyVerified   bool       `json:"already_verified"`
}

func FromIssueResult(result *service.IssueResult) *IssueOTPResponse {
	resp := &IssueOTPResponse{
		AttemptsRemaining: result.AttemptsRemaining,
		AlreadyVerified:   result.AlreadyVerified,
	}
	if !result.ExpiresAt.IsZero() {
		expiresAt := result.ExpiresAt
		resp.ExpiresAt = &expiresAt
	}
	return resp
}

// SubmitOTPResponse is the HTTP response for
// POST /verifications/{id}/otp/verify. Rejections are a 200 with a reason.
type SubmitOTPResponse struct {
	Outcome           string `json:"outcome"`
	Reason            string `json:"reason,omitempty"`
	AttemptsRemaining int    `json:"attempts_remaining"`
	Step              string `json:"step"`
}

func FromSubmitResult(result *service.SubmitResult) *SubmitOTPResponse {
	return &SubmitOTPResponse{
		Outcome:           string(result.Outcome),
		Reason:            string(result.Reason),
		AttemptsRemaining: result.AttemptsRemaining,
		Step:              string(result.Step),
	}
}

// CompleteResponse is the HTTP response for
// POST /verifications/{id}/complete.
type CompleteResponse struct {
	VerifiedSince time.Time `json:"verified_since"`
}

// ListingResponse is the public landing-page record.
type ListingResponse struct {
	SessionID     string         `json:"session_id"`
	BusinessName  string         `json:"business_name"`
	Domain        DomainResponse `json:"domain"`
	Language      string         `json:"language,omitempty"`
	Location      string         `json:"location,omitempty"`
	Contact       string         `json:"contact"`
	VerifiedSince time.Time      `json:"verified_since"`
}

// DomainResponse is a derived domain candidate.
type DomainResponse struct {
	Label string `json:"label"`
	TLD   string `json:"tld"`
	Full  string `json:"full"`
	ASCII string `json:"ascii"`
}

// FromCandidate converts a naming.DomainCandidate to its HTTP response.
func FromCandidate(c naming.DomainCandidate) DomainResponse {
	return DomainResponse{Label: c.Label, TLD: c.TLD, Full: c.Full, ASCII: c.ASCII}
}

func FromListing(listing *models.Listing) *ListingResponse {
	return &ListingResponse{
		SessionID:     listing.SessionID.String(),
		BusinessName:  listing.BusinessName,
		Domain:        FromCandidate(listing.Domain),
		Language:      string(listing.Language),
		Location:      listing.Location,
		Contact:       listing.Contact.String(),
		VerifiedSince: listing.VerifiedSince,
	}
}
