package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose so stores
// can apply different retention and routing.
type EventCategory string

const (
	// CategoryCompliance covers events that prove a business was verified
	// (or reported). They are kept for the life of the listing.
	CategoryCompliance EventCategory = "compliance"

	// CategoryOperations covers routine workflow activity useful for
	// debugging; these can be sampled or expired early.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	// SessionID is the verification session the event belongs to, if any.
	SessionID string
	Subject   string
	Action    string
	Step      string
	Reason    string
	RequestID string
	ClientIP  string
}

type AuditEvent string

const (
	EventSessionCreated        AuditEvent = "verification_session_created"
	EventBusinessUpdated       AuditEvent = "verification_business_updated"
	EventOTPIssued             AuditEvent = "otp_issued"
	EventOTPDeliveryFailed     AuditEvent = "otp_delivery_failed"
	EventOTPAccepted           AuditEvent = "otp_accepted"
	EventOTPRejected           AuditEvent = "otp_rejected"
	EventBusinessMatched       AuditEvent = "business_directory_matched"
	EventBusinessNoMatch       AuditEvent = "business_directory_no_match"
	EventPhotoStored           AuditEvent = "storefront_photo_stored"
	EventVerificationCompleted AuditEvent = "verification_completed"
	EventSessionsPurged        AuditEvent = "verification_sessions_purged"
	EventReportSubmitted       AuditEvent = "report_submitted"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventOTPAccepted:           CategoryCompliance,
	EventBusinessMatched:       CategoryCompliance,
	EventPhotoStored:           CategoryCompliance,
	EventVerificationCompleted: CategoryCompliance,
	EventReportSubmitted:       CategoryCompliance,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
}
