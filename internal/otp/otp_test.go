package otp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	id "webkart/pkg/domain"
	dErrors "webkart/pkg/domain-errors"
)

type recordingNotifier struct {
	err      error
	phone    id.PhoneNumber
	messages []string
}

func (n *recordingNotifier) Send(_ context.Context, phone id.PhoneNumber, message string) error {
	n.phone = phone
	n.messages = append(n.messages, message)
	return n.err
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

var t0 = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func newTestIssuer(n Notifier) *Issuer {
	return New(n,
		WithRandomSource(rand.New(rand.NewSource(42))),
		WithHashCost(bcrypt.MinCost),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}

func TestIssue(t *testing.T) {
	issuer := newTestIssuer(&recordingNotifier{})

	rec, code, err := issuer.Issue(t0)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^[0-9]{6}$`), code)
	assert.Equal(t, t0, rec.IssuedAt)
	assert.Equal(t, t0.Add(5*time.Minute), rec.ExpiresAt)
	assert.Equal(t, 5, rec.AttemptsRemaining)
	assert.NotContains(t, string(rec.CodeHash), code, "plaintext code must not be stored")

	t.Run("random source failure is internal", func(t *testing.T) {
		broken := New(&recordingNotifier{}, WithRandomSource(failingReader{}), WithHashCost(bcrypt.MinCost))
		_, _, err := broken.Issue(t0)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal))
	})
}

func TestValidate(t *testing.T) {
	issuer := newTestIssuer(&recordingNotifier{})

	t.Run("correct code within window is accepted", func(t *testing.T) {
		rec, code, err := issuer.Issue(t0)
		require.NoError(t, err)
		assert.Equal(t, Accepted(), issuer.Validate(rec, code, t0.Add(time.Minute)))
		assert.Equal(t, 5, rec.AttemptsRemaining)
	})

	t.Run("code is still valid exactly at expiry", func(t *testing.T) {
		rec, code, err := issuer.Issue(t0)
		require.NoError(t, err)
		assert.True(t, issuer.Validate(rec, code, rec.ExpiresAt).Accepted)
	})

	t.Run("correct code after expiry is expired", func(t *testing.T) {
		rec, code, err := issuer.Issue(t0)
		require.NoError(t, err)
		v := issuer.Validate(rec, code, rec.ExpiresAt.Add(time.Nanosecond))
		assert.Equal(t, Rejected(ReasonExpired), v)
	})

	t.Run("missing record is not issued", func(t *testing.T) {
		assert.Equal(t, Rejected(ReasonNotIssued), issuer.Validate(nil, "123456", t0))
	})

	t.Run("reissue invalidates the previous code", func(t *testing.T) {
		_, first, err := issuer.Issue(t0)
		require.NoError(t, err)
		rec, second, err := issuer.Issue(t0.Add(time.Minute))
		require.NoError(t, err)
		require.NotEqual(t, first, second)

		assert.Equal(t, Rejected(ReasonMismatch), issuer.Validate(rec, first, t0.Add(2*time.Minute)))
		assert.True(t, issuer.Validate(rec, second, t0.Add(2*time.Minute)).Accepted)
	})

	t.Run("five mismatches exhaust attempts", func(t *testing.T) {
		rec, code, err := issuer.Issue(t0)
		require.NoError(t, err)
		bad := wrongCode(code)

		for i := 0; i < 5; i++ {
			assert.Equal(t, Rejected(ReasonMismatch), issuer.Validate(rec, bad, t0))
			assert.Equal(t, 4-i, rec.AttemptsRemaining)
		}
		assert.Equal(t, Rejected(ReasonAttemptsExhausted), issuer.Validate(rec, code, t0))
		assert.Equal(t, 0, rec.AttemptsRemaining)
	})

	t.Run("expiry is reported before exhaustion", func(t *testing.T) {
		rec, _, err := issuer.Issue(t0)
		require.NoError(t, err)
		rec.AttemptsRemaining = 0
		assert.Equal(t, Rejected(ReasonExpired), issuer.Validate(rec, "123456", rec.ExpiresAt.Add(time.Second)))
	})
}

func TestDeliver(t *testing.T) {
	phone := id.PhoneNumber("+919876543210")

	t.Run("sends code in message", func(t *testing.T) {
		n := &recordingNotifier{}
		issuer := newTestIssuer(n)
		require.NoError(t, issuer.Deliver(context.Background(), phone, "424242"))
		require.Len(t, n.messages, 1)
		assert.Contains(t, n.messages[0], "424242")
		assert.Contains(t, n.messages[0], "5 minutes")
		assert.Equal(t, phone, n.phone)
	})

	t.Run("message states the window", func(t *testing.T) {
		cases := map[time.Duration]string{
			time.Minute:      "expires in 1 minute.",
			10 * time.Minute: "expires in 10 minutes.",
			90 * time.Second: "expires in 90 seconds.",
			30 * time.Second: "expires in 30 seconds.",
			time.Second:      "expires in 1 second.",
		}
		for window, want := range cases {
			n := &recordingNotifier{}
			issuer := New(n, WithWindow(window))
			require.NoError(t, issuer.Deliver(context.Background(), phone, "424242"))
			require.Len(t, n.messages, 1)
			assert.Contains(t, n.messages[0], want, window.String())
		}
	})

	t.Run("notifier failure is delivery failed", func(t *testing.T) {
		issuer := newTestIssuer(&recordingNotifier{err: errors.New("throttled")})
		err := issuer.Deliver(context.Background(), phone, "424242")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeDeliveryFailed))
	})
}
