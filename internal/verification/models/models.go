package models

import (
	"time"

	"webkart/internal/naming"
	"webkart/internal/otp"
	id "webkart/pkg/domain"
)

// Step is a position in the verification workflow. Steps are strictly
// ordered; see Order.
type Step string

const (
	StepCreated          Step = "created"
	StepPhoneVerified    Step = "phone_verified"
	StepBusinessVerified Step = "business_verified"
	StepPhotoUploaded    Step = "photo_uploaded"
	StepComplete         Step = "complete"
)

// Order lists every step from initial to terminal.
var Order = []Step{StepCreated, StepPhoneVerified, StepBusinessVerified, StepPhotoUploaded, StepComplete}

// Rank is the zero-based position of s in Order, or -1 for unknown steps.
func (s Step) Rank() int {
	for i, step := range Order {
		if step == s {
			return i
		}
	}
	return -1
}

func (s Step) Valid() bool { return s.Rank() >= 0 }

func (s Step) Terminal() bool { return s == StepComplete }

// Disposition is how a transition request relates to the session's step.
type Disposition int

const (
	// Proceed: the session is at the transition's source step.
	Proceed Disposition = iota
	// AlreadyDone: the session has passed the transition's target step.
	AlreadyDone
	// OutOfOrder: an earlier step has not been completed.
	OutOfOrder
)

// Attempt classifies a transition from -> to requested while the session is
// at s. Re-running a passed step is AlreadyDone; skipping ahead is OutOfOrder.
func (s Step) Attempt(from, to Step) Disposition {
	switch {
	case s == from:
		return Proceed
	case s.Rank() >= to.Rank():
		return AlreadyDone
	default:
		return OutOfOrder
	}
}

// Business is the identity and contact details under verification.
type Business struct {
	Name     string          `json:"name"`
	Phone    id.PhoneNumber  `json:"phone"`
	Language naming.Language `json:"language,omitempty"`
	Location string          `json:"location,omitempty"`
	// Contact is the WhatsApp number shown on the listing.
	Contact id.PhoneNumber `json:"contact,omitempty"`
}

// Session is the server-owned verification record. Version increases by one
// on every committed change and backs optimistic concurrency in stores.
type Session struct {
	ID               id.SessionID `json:"id"`
	Business         Business     `json:"business"`
	Step             Step         `json:"step"`
	OTP              *otp.Record  `json:"otp,omitempty"`
	DirectoryMatched bool         `json:"directory_matched"`
	DirectoryRef     string       `json:"directory_ref,omitempty"`
	PhotoRef         string       `json:"photo_ref,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	LastUpdated      time.Time    `json:"last_updated"`
	VerifiedAt       *time.Time   `json:"verified_at,omitempty"`
	Version          int64        `json:"version"`
}

// Clone returns a deep copy so callers never share mutable state with a store.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.OTP != nil {
		rec := *s.OTP
		rec.CodeHash = append([]byte(nil), s.OTP.CodeHash...)
		c.OTP = &rec
	}
	if s.VerifiedAt != nil {
		t := *s.VerifiedAt
		c.VerifiedAt = &t
	}
	return &c
}

// Listing is the public "verified" landing page record.
type Listing struct {
	SessionID     id.SessionID
	BusinessName  string
	Domain        naming.DomainCandidate
	Language      naming.Language
	Location      string
	Contact       id.PhoneNumber
	VerifiedSince time.Time
}
