package service

import (
	"time"
	"unicode/utf8"

	"webkart/internal/naming"
	"webkart/internal/otp"
	"webkart/internal/verification/models"
	id "webkart/pkg/domain"
	dErrors "webkart/pkg/domain-errors"
)

const (
	maxNameRunes     = 200
	maxLocationRunes = 300
)

// CreateSessionRequest carries the details captured by the business form.
type CreateSessionRequest struct {
	Name     string
	Phone    string
	Language string
	Location string
	// Contact is the WhatsApp number; defaults to Phone.
	Contact string
}

// UpdateBusinessRequest amends business details before directory
// verification. Nil fields are left unchanged.
type UpdateBusinessRequest struct {
	Name     *string
	Language *string
	Location *string
	Contact  *string
}

// IssueResult describes a freshly issued code.
type IssueResult struct {
	ExpiresAt         time.Time
	AttemptsRemaining int
	// AlreadyVerified is set when the phone was verified earlier and no code
	// was issued.
	AlreadyVerified bool
}

// SubmitOutcome is the result class of an OTP submission.
type SubmitOutcome string

const (
	OutcomeAccepted        SubmitOutcome = "accepted"
	OutcomeAlreadyVerified SubmitOutcome = "already_verified"
	OutcomeRejected        SubmitOutcome = "rejected"
)

// SubmitResult is returned by SubmitOTP. Reason is set only for rejections.
type SubmitResult struct {
	Outcome           SubmitOutcome
	Reason            otp.Reason
	AttemptsRemaining int
	Step              models.Step
}

func validateName(raw string) (string, error) {
	name := trimSpace(raw)
	if name == "" {
		return "", dErrors.New(dErrors.CodeValidation, "business name is required")
	}
	if utf8.RuneCountInString(name) > maxNameRunes {
		return "", dErrors.New(dErrors.CodeValidation, "business name is too long")
	}
	if _, err := naming.Normalize(name); err != nil {
		return "", err
	}
	return name, nil
}

func validateLocation(raw string) (string, error) {
	location := trimSpace(raw)
	if utf8.RuneCountInString(location) > maxLocationRunes {
		return "", dErrors.New(dErrors.CodeValidation, "location is too long")
	}
	return location, nil
}

// parseLanguage keeps known languages only; anything else is stored empty and
// resolves to the default TLD.
func parseLanguage(raw string) naming.Language {
	if l, ok := naming.ParseLanguage(raw); ok {
		return l
	}
	return ""
}

func parseContact(raw string, fallback id.PhoneNumber) (id.PhoneNumber, error) {
	if trimSpace(raw) == "" {
		return fallback, nil
	}
	contact, err := id.ParsePhoneNumber(raw)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeValidation, "contact must be a valid WhatsApp number")
	}
	return contact, nil
}

func (r CreateSessionRequest) business() (models.Business, error) {
	name, err := validateName(r.Name)
	if err != nil {
		return models.Business{}, err
	}
	phone, err := id.ParsePhoneNumber(r.Phone)
	if err != nil {
		return models.Business{}, err
	}
	location, err := validateLocation(r.Location)
	if err != nil {
		return models.Business{}, err
	}
	contact, err := parseContact(r.Contact, phone)
	if err != nil {
		return models.Business{}, err
	}
	return models.Business{
		Name:     name,
		Phone:    phone,
		Language: parseLanguage(r.Language),
		Location: location,
		Contact:  contact,
	}, nil
}

// apply returns b with the request's changes and whether anything changed.
func (r UpdateBusinessRequest) apply(b models.Business) (models.Business, bool, error) {
	updated := b
	if r.Name != nil {
		name, err := validateName(*r.Name)
		if err != nil {
			return b, false, err
		}
		updated.Name = name
	}
	if r.Language != nil {
		updated.Language = parseLanguage(*r.Language)
	}
	if r.Location != nil {
		location, err := validateLocation(*r.Location)
		if err != nil {
			return b, false, err
		}
		updated.Location = location
	}
	if r.Contact != nil {
		contact, err := parseContact(*r.Contact, b.Phone)
		if err != nil {
			return b, false, err
		}
		updated.Contact = contact
	}
	return updated, updated != b, nil
}
