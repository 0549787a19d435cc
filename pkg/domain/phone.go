package domain

import (
	"strings"

	dErrors "webkart/pkg/domain-errors"
)

// DefaultCountryCode is prefixed to ten-digit national numbers.
const DefaultCountryCode = "91"

// PhoneNumber is an E.164 number such as "+919876543210".
type PhoneNumber string

// ParsePhoneNumber accepts common human formats (spaces, dashes, brackets,
// leading 0 trunk prefix, 00 international prefix) and returns the E.164 form.
// Bare ten-digit numbers are assumed to be Indian mobile numbers.
func ParsePhoneNumber(raw string) (PhoneNumber, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", dErrors.New(dErrors.CodeValidation, "phone number is required")
	}

	international := false
	switch {
	case strings.HasPrefix(s, "+"):
		international = true
		s = s[1:]
	case strings.HasPrefix(s, "00"):
		international = true
		s = s[2:]
	}

	var digits strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return "", dErrors.New(dErrors.CodeValidation, "phone number contains invalid characters")
		}
	}

	d := digits.String()
	if !international {
		d = strings.TrimPrefix(d, "0")
		if len(d) == 10 {
			d = DefaultCountryCode + d
		}
	}
	if len(d) < 8 || len(d) > 15 || d[0] == '0' {
		return "", dErrors.New(dErrors.CodeValidation, "phone number must have 8 to 15 digits including country code")
	}
	return PhoneNumber("+" + d), nil
}

func (p PhoneNumber) String() string { return string(p) }

// Masked hides all but the last four digits, for logs.
func (p PhoneNumber) Masked() string {
	s := string(p)
	if len(s) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}
