package models

import (
	"time"

	id "webkart/pkg/domain"
)

// Report is a fraud or abuse report against a business. Reports are
// append-only and reference the business by identity only.
type Report struct {
	ID          id.ReportID `json:"id"`
	BusinessRef string      `json:"business_ref"`
	Reason      string      `json:"reason"`
	SubmittedAt time.Time   `json:"submitted_at"`
}
