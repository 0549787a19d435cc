// Package otp issues and validates one-time phone verification codes.
//
// Codes are never stored: a Record carries only a bcrypt hash. Expiry is lazy,
// checked against the caller's clock at validation time.
package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"time"

	"golang.org/x/crypto/bcrypt"

	id "webkart/pkg/domain"
	dErrors "webkart/pkg/domain-errors"
)

const (
	DefaultDigits      = 6
	DefaultWindow      = 5 * time.Minute
	DefaultMaxAttempts = 5
)

// Reason explains a rejected submission.
type Reason string

const (
	ReasonNotIssued         Reason = "not_issued"
	ReasonExpired           Reason = "expired"
	ReasonAttemptsExhausted Reason = "attempts_exhausted"
	ReasonMismatch          Reason = "mismatch"
)

// Verdict is the outcome of validating a submitted code.
type Verdict struct {
	Accepted bool
	Reason   Reason
}

func Accepted() Verdict              { return Verdict{Accepted: true} }
func Rejected(reason Reason) Verdict { return Verdict{Reason: reason} }

func (v Verdict) String() string {
	if v.Accepted {
		return "accepted"
	}
	return "rejected:" + string(v.Reason)
}

// Record is the stored state of the most recently issued code for a session.
type Record struct {
	CodeHash          []byte    `json:"code_hash"`
	IssuedAt          time.Time `json:"issued_at"`
	ExpiresAt         time.Time `json:"expires_at"`
	AttemptsRemaining int       `json:"attempts_remaining"`
}

// Notifier delivers a text message to a phone number.
type Notifier interface {
	Send(ctx context.Context, phone id.PhoneNumber, message string) error
}

// Issuer generates, delivers and validates codes.
type Issuer struct {
	notifier    Notifier
	random      io.Reader
	digits      int
	window      time.Duration
	maxAttempts int
	hashCost    int
	logger      *slog.Logger
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithRandomSource replaces crypto/rand. Tests only.
func WithRandomSource(r io.Reader) Option {
	return func(i *Issuer) {
		if r != nil {
			i.random = r
		}
	}
}

func WithWindow(d time.Duration) Option {
	return func(i *Issuer) {
		if d > 0 {
			i.window = d
		}
	}
}

func WithMaxAttempts(n int) Option {
	return func(i *Issuer) {
		if n > 0 {
			i.maxAttempts = n
		}
	}
}

// WithHashCost sets the bcrypt cost. Tests use bcrypt.MinCost.
func WithHashCost(cost int) Option {
	return func(i *Issuer) {
		i.hashCost = cost
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(i *Issuer) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// New creates an Issuer delivering through notifier.
func New(notifier Notifier, opts ...Option) *Issuer {
	i := &Issuer{
		notifier:    notifier,
		random:      rand.Reader,
		digits:      DefaultDigits,
		window:      DefaultWindow,
		maxAttempts: DefaultMaxAttempts,
		hashCost:    bcrypt.DefaultCost,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Window is the validity period of a freshly issued code.
func (i *Issuer) Window() time.Duration { return i.window }

// Issue creates a new record and returns it with the plaintext code. The
// caller replaces any previous record with it, which invalidates the old code.
func (i *Issuer) Issue(now time.Time) (*Record, string, error) {
	code, err := i.randomCode()
	if err != nil {
		return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate code")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), i.hashCost)
	if err != nil {
		return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash code")
	}
	return &Record{
		CodeHash:          hash,
		IssuedAt:          now,
		ExpiresAt:         now.Add(i.window),
		AttemptsRemaining: i.maxAttempts,
	}, code, nil
}

// Deliver sends code to phone. A failure leaves any issued record valid so the
// caller can resend.
func (i *Issuer) Deliver(ctx context.Context, phone id.PhoneNumber, code string) error {
	if err := i.notifier.Send(ctx, phone, i.message(code)); err != nil {
		i.logger.WarnContext(ctx, "otp delivery failed",
			"phone", phone.Masked(),
			"error", err,
		)
		return dErrors.Wrap(err, dErrors.CodeDeliveryFailed, "could not deliver verification code")
	}
	return nil
}

// Validate checks code against rec at now. Checks run in order: not issued,
// expired, attempts exhausted, mismatch. A mismatch decrements
// rec.AttemptsRemaining in place; the caller persists rec.
func (i *Issuer) Validate(rec *Record, code string, now time.Time) Verdict {
	switch {
	case rec == nil:
		return Rejected(ReasonNotIssued)
	case now.After(rec.ExpiresAt):
		return Rejected(ReasonExpired)
	case rec.AttemptsRemaining <= 0:
		return Rejected(ReasonAttemptsExhausted)
	}

	if err := bcrypt.CompareHashAndPassword(rec.CodeHash, []byte(code)); err != nil {
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			i.logger.Error("otp hash compare failed", "error", err)
		}
		rec.AttemptsRemaining--
		return Rejected(ReasonMismatch)
	}
	return Accepted()
}

func (i *Issuer) message(code string) string {
	return fmt.Sprintf("Your WebKart verification code is %s. It expires in %s.", code, validity(i.window))
}

// validity renders a code window in whole minutes when it has no seconds part,
// in seconds otherwise.
func validity(d time.Duration) string {
	if d >= time.Minute && d%time.Minute == 0 {
		return countOf(int(d/time.Minute), "minute")
	}
	return countOf(int(d.Round(time.Second)/time.Second), "second")
}

func countOf(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func (i *Issuer) randomCode() (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(i.digits)), nil)
	n, err := rand.Int(i.random, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", i.digits, n), nil
}
