package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"
	"golang.org/x/crypto/bcrypt"

	"webkart/internal/directory"
	"webkart/internal/naming"
	"webkart/internal/otp"
	"webkart/internal/verification/metrics"
	"webkart/internal/verification/mocks"
	"webkart/internal/verification/models"
	"webkart/internal/verification/store"
	id "webkart/pkg/domain"
	dErrors "webkart/pkg/domain-errors"
	"webkart/pkg/requestcontext"
)

// =============================================================================
// Verification Service Test Suite
// =============================================================================
// The session store is the real in-memory store so version checks and
// concurrency behave as in production; collaborators are mocks.

var codePattern = regexp.MustCompile(`\d{6}`)

// pngHeader is enough for content sniffing to report image/png.
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type VerificationServiceSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	store     *store.InMemoryStore
	notifier  *mocks.MockNotifier
	directory *mocks.MockBusinessDirectory
	photos    *mocks.MockPhotoStore
	auditor   *mocks.MockAuditPublisher
	metrics   *metrics.Metrics
	service   *Service
	now       time.Time
}

func TestVerificationServiceSuite(t *testing.T) {
	suite.Run(t, new(VerificationServiceSuite))
}

func (s *VerificationServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.store = store.NewInMemoryStore()
	s.notifier = mocks.NewMockNotifier(s.ctrl)
	s.directory = mocks.NewMockBusinessDirectory(s.ctrl)
	s.photos = mocks.NewMockPhotoStore(s.ctrl)
	s.auditor = mocks.NewMockAuditPublisher(s.ctrl)
	s.auditor.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.now = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	svc, err := New(s.store, s.notifier, s.directory, s.photos,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(s.metrics),
		WithAuditPublisher(s.auditor),
		WithOTPOptions(otp.WithHashCost(bcrypt.MinCost)),
	)
	s.Require().NoError(err)
	s.service = svc
}

func (s *VerificationServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *VerificationServiceSuite) ctxAt(t time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), t)
}

func (s *VerificationServiceSuite) ctx() context.Context {
	return s.ctxAt(s.now)
}

func (s *VerificationServiceSuite) createSession() *models.Session {
	session, err := s.service.CreateSession(s.ctx(), CreateSessionRequest{
		Name:     "Sharma Tea Stall",
		Phone:    "98765 43210",
		Language: "hindi",
		Location: "Lajpat Nagar, Delhi",
	})
	s.Require().NoError(err)
	return session
}

// issue issues a code at ctx and returns the plaintext captured from the
// notifier.
func (s *VerificationServiceSuite) issue(ctx context.Context, sessionID id.SessionID) string {
	var code string
	s.notifier.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ id.PhoneNumber, message string) error {
			code = codePattern.FindString(message)
			return nil
		})
	_, err := s.service.IssueOTP(ctx, sessionID)
	s.Require().NoError(err)
	s.Require().Len(code, otp.DefaultDigits)
	return code
}

func (s *VerificationServiceSuite) verifyPhone(sessionID id.SessionID) {
	code := s.issue(s.ctx(), sessionID)
	result, err := s.service.SubmitOTP(s.ctx(), sessionID, code)
	s.Require().NoError(err)
	s.Require().Equal(OutcomeAccepted, result.Outcome)
}

func (s *VerificationServiceSuite) verifyBusiness(sessionID id.SessionID) {
	s.directory.EXPECT().Lookup(gomock.Any(), gomock.Any()).
		Return(directory.Result{Matched: true, Source: "static", Reference: "ref-1"}, nil)
	_, err := s.service.VerifyBusiness(s.ctx(), sessionID)
	s.Require().NoError(err)
}

func (s *VerificationServiceSuite) uploadPhoto(sessionID id.SessionID) {
	s.photos.EXPECT().Store(gomock.Any(), sessionID, pngHeader, "image/png").Return("mem://storefronts/x.png", nil)
	_, err := s.service.UploadPhoto(s.ctx(), sessionID, pngHeader)
	s.Require().NoError(err)
}

func (s *VerificationServiceSuite) get(sessionID id.SessionID) *models.Session {
	session, err := s.service.GetSession(s.ctx(), sessionID)
	s.Require().NoError(err)
	return session
}

func (s *VerificationServiceSuite) TestNew() {
	s.Run("nil store returns error", func() {
		_, err := New(nil, s.notifier, s.directory, s.photos)
		s.ErrorContains(err, "session store is required")
	})

	s.Run("nil notifier returns error", func() {
		_, err := New(s.store, nil, s.directory, s.photos)
		s.ErrorContains(err, "notifier is required")
	})

	s.Run("nil directory returns error", func() {
		_, err := New(s.store, s.notifier, nil, s.photos)
		s.ErrorContains(err, "business directory is required")
	})

	s.Run("nil photo store returns error", func() {
		_, err := New(s.store, s.notifier, s.directory, nil)
		s.ErrorContains(err, "photo store is required")
	})
}

func (s *VerificationServiceSuite) TestCreateSession() {
	s.Run("starts at created with contact defaulted to phone", func() {
		session := s.createSession()
		s.Equal(models.StepCreated, session.Step)
		s.Equal(session.Business.Phone, session.Business.Contact)
		s.Equal(naming.Hindi, session.Business.Language)
		s.Equal(s.now, session.CreatedAt)
		s.Equal(s.now, session.LastUpdated)
		s.Nil(session.OTP)
	})

	s.Run("unknown language resolves to default", func() {
		session, err := s.service.CreateSession(s.ctx(), CreateSessionRequest{
			Name:     "Corner Shop",
			Phone:    "+91 98765 43210",
			Language: "klingon",
		})
		s.Require().NoError(err)
		s.Equal(naming.Language(""), session.Business.Language)
	})

	s.Run("rejects missing name", func() {
		_, err := s.service.CreateSession(s.ctx(), CreateSessionRequest{Phone: "9876543210"})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("rejects name without letters or digits", func() {
		_, err := s.service.CreateSession(s.ctx(), CreateSessionRequest{Name: "!!!", Phone: "9876543210"})
		s.True(dErrors.HasCode(err, dErrors.CodeEmptyLabel))
	})

	s.Run("rejects invalid phone", func() {
		_, err := s.service.CreateSession(s.ctx(), CreateSessionRequest{Name: "Shop", Phone: "12"})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("counts created sessions", func() {
		before := testutil.ToFloat64(s.metrics.SessionsCreated)
		s.createSession()
		s.Equal(before+1, testutil.ToFloat64(s.metrics.SessionsCreated))
	})
}

func (s *VerificationServiceSuite) TestGetSession_NotFound() {
	_, err := s.service.GetSession(s.ctx(), id.NewSessionID())
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *VerificationServiceSuite) TestIssueOTP() {
	s.Run("commits a record with full attempts", func() {
		session := s.createSession()
		s.issue(s.ctx(), session.ID)

		stored := s.get(session.ID)
		s.Require().NotNil(stored.OTP)
		s.Equal(otp.DefaultMaxAttempts, stored.OTP.AttemptsRemaining)
		s.Equal(s.now.Add(otp.DefaultWindow), stored.OTP.ExpiresAt)
	})

	s.Run("delivery failure keeps the record for a resend", func() {
		session := s.createSession()
		s.notifier.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("sms gateway down"))

		result, err := s.service.IssueOTP(s.ctx(), session.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeDeliveryFailed))
		s.Require().NotNil(result)
		s.Equal(otp.DefaultMaxAttempts, result.AttemptsRemaining)
		s.NotNil(s.get(session.ID).OTP)
	})

	s.Run("reissue invalidates the previous code", func() {
		session := s.createSession()
		first := s.issue(s.ctx(), session.ID)
		second := s.issue(s.ctx(), session.ID)
		if first == second {
			return
		}

		result, err := s.service.SubmitOTP(s.ctx(), session.ID, first)
		s.Require().NoError(err)
		s.Equal(OutcomeRejected, result.Outcome)
		s.Equal(otp.ReasonMismatch, result.Reason)

		result, err = s.service.SubmitOTP(s.ctx(), session.ID, second)
		s.Require().NoError(err)
		s.Equal(OutcomeAccepted, result.Outcome)
	})

	s.Run("no-op once the phone is verified", func() {
		session := s.createSession()
		s.verifyPhone(session.ID)
		before := s.get(session.ID)

		result, err := s.service.IssueOTP(s.ctx(), session.ID)
		s.Require().NoError(err)
		s.True(result.AlreadyVerified)
		s.Equal(before, s.get(session.ID))
	})

	s.Run("unknown session", func() {
		_, err := s.service.IssueOTP(s.ctx(), id.NewSessionID())
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *VerificationServiceSuite) TestSubmitOTP() {
	s.Run("accepted advances and clears the record", func() {
		session := s.createSession()
		s.verifyPhone(session.ID)

		stored := s.get(session.ID)
		s.Equal(models.StepPhoneVerified, stored.Step)
		s.Nil(stored.OTP)
	})

	s.Run("not issued", func() {
		session := s.createSession()
		result, err := s.service.SubmitOTP(s.ctx(), session.ID, "123456")
		s.Require().NoError(err)
		s.Equal(otp.ReasonNotIssued, result.Reason)
		s.Equal(models.StepCreated, s.get(session.ID).Step)
	})

	s.Run("mismatch decrements attempts", func() {
		session := s.createSession()
		code := s.issue(s.ctx(), session.ID)
		later := s.now.Add(time.Minute)

		result, err := s.service.SubmitOTP(s.ctxAt(later), session.ID, wrongCode(code))
		s.Require().NoError(err)
		s.Equal(OutcomeRejected, result.Outcome)
		s.Equal(otp.ReasonMismatch, result.Reason)
		s.Equal(otp.DefaultMaxAttempts-1, result.AttemptsRemaining)

		stored := s.get(session.ID)
		s.Equal(otp.DefaultMaxAttempts-1, stored.OTP.AttemptsRemaining)
		s.Equal(later, stored.LastUpdated)
	})

	s.Run("valid exactly at expiry, expired just after", func() {
		session := s.createSession()
		code := s.issue(s.ctx(), session.ID)
		expiry := s.now.Add(otp.DefaultWindow)

		result, err := s.service.SubmitOTP(s.ctxAt(expiry.Add(time.Nanosecond)), session.ID, code)
		s.Require().NoError(err)
		s.Equal(otp.ReasonExpired, result.Reason)

		result, err = s.service.SubmitOTP(s.ctxAt(expiry), session.ID, code)
		s.Require().NoError(err)
		s.Equal(OutcomeAccepted, result.Outcome)
	})

	s.Run("exhausted attempts reject even the right code", func() {
		session := s.createSession()
		code := s.issue(s.ctx(), session.ID)
		for range otp.DefaultMaxAttempts {
			result, err := s.service.SubmitOTP(s.ctx(), session.ID, wrongCode(code))
			s.Require().NoError(err)
			s.Equal(otp.ReasonMismatch, result.Reason)
		}

		result, err := s.service.SubmitOTP(s.ctx(), session.ID, code)
		s.Require().NoError(err)
		s.Equal(otp.ReasonAttemptsExhausted, result.Reason)
		s.Equal(0, result.AttemptsRemaining)

		code = s.issue(s.ctx(), session.ID)
		result, err = s.service.SubmitOTP(s.ctx(), session.ID, code)
		s.Require().NoError(err)
		s.Equal(OutcomeAccepted, result.Outcome)
	})

	s.Run("resubmission after acceptance is already verified", func() {
		session := s.createSession()
		s.verifyPhone(session.ID)
		before := s.get(session.ID)

		result, err := s.service.SubmitOTP(s.ctxAt(s.now.Add(time.Hour)), session.ID, "000000")
		s.Require().NoError(err)
		s.Equal(OutcomeAlreadyVerified, result.Outcome)
		s.Equal(before, s.get(session.ID))
	})
}

func (s *VerificationServiceSuite) TestSubmitOTP_ConcurrentSubmitsAcceptOnce() {
	session := s.createSession()
	code := s.issue(s.ctx(), session.ID)

	const submitters = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = map[SubmitOutcome]int{}
	)
	for range submitters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := s.service.SubmitOTP(s.ctx(), session.ID, code)
			if err != nil {
				return
			}
			mu.Lock()
			outcomes[result.Outcome]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	s.Equal(1, outcomes[OutcomeAccepted])
	s.Equal(submitters-1, outcomes[OutcomeAlreadyVerified])
	s.Equal(0, s.service.gate.size())
}

func (s *VerificationServiceSuite) TestVerifyBusiness() {
	s.Run("out of order before phone verification", func() {
		session := s.createSession()
		before := s.get(session.ID)

		_, err := s.service.VerifyBusiness(s.ctx(), session.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeOutOfOrder))
		s.Equal(before, s.get(session.ID))
	})

	s.Run("match advances and records the reference", func() {
		session := s.createSession()
		s.verifyPhone(session.ID)
		s.directory.EXPECT().Lookup(gomock.Any(), directory.Query{
			Name:     "Sharma Tea Stall",
			Location: "Lajpat Nagar, Delhi",
			Phone:    session.Business.Phone.String(),
		}).Return(directory.Result{Matched: true, Source: "static", Reference: "ref-1"}, nil)

		updated, err := s.service.VerifyBusiness(s.ctx(), session.ID)
		s.Require().NoError(err)
		s.Equal(models.StepBusinessVerified, updated.Step)
		s.True(updated.DirectoryMatched)
		s.Equal("static:ref-1", updated.DirectoryRef)
	})

	s.Run("no match is retryable after amending details", func() {
		session := s.createSession()
		s.verifyPhone(session.ID)
		s.directory.EXPECT().Lookup(gomock.Any(), gomock.Any()).Return(directory.Result{}, nil)

		_, err := s.service.VerifyBusiness(s.ctx(), session.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeNoMatch))
		s.Equal(models.StepPhoneVerified, s.get(session.ID).Step)

		name := "Sharma Chai Corner"
		_, err = s.service.UpdateBusiness(s.ctx(), session.ID, UpdateBusinessRequest{Name: &name})
		s.Require().NoError(err)
		s.verifyBusiness(session.ID)
		s.Equal(models.StepBusinessVerified, s.get(session.ID).Step)
	})

	s.Run("directory failure is unavailable", func() {
		session := s.createSession()
		s.verifyPhone(session.ID)
		s.directory.EXPECT().Lookup(gomock.Any(), gomock.Any()).Return(directory.Result{}, errors.New("timeout"))

		_, err := s.service.VerifyBusiness(s.ctx(), session.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
		s.Equal(models.StepPhoneVerified, s.get(session.ID).Step)
	})

	s.Run("repeat is a no-op", func() {
		session := s.createSession()
		s.verifyPhone(session.ID)
		s.verifyBusiness(session.ID)
		before := s.get(session.ID)

		updated, err := s.service.VerifyBusiness(s.ctxAt(s.now.Add(time.Hour)), session.ID)
		s.Require().NoError(err)
		s.Equal(before.LastUpdated, updated.LastUpdated)
		s.Equal(before, s.get(session.ID))
	})
}

func (s *VerificationServiceSuite) TestUploadPhoto() {
	s.Run("out of order before directory check", func() {
		session := s.createSession()
		s.verifyPhone(session.ID)

		_, err := s.service.UploadPhoto(s.ctx(), session.ID, pngHeader)
		s.True(dErrors.HasCode(err, dErrors.CodeOutOfOrder))
		s.Equal(models.StepPhoneVerified, s.get(session.ID).Step)
	})

	s.Run("rejects non-image data before touching the session", func() {
		_, err := s.service.UploadPhoto(s.ctx(), id.NewSessionID(), []byte("plain text"))
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("store failure is retryable", func() {
		session := s.createSession()
		s.verifyPhone(session.ID)
		s.verifyBusiness(session.ID)
		s.photos.EXPECT().Store(gomock.Any(), session.ID, pngHeader, "image/png").Return("", errors.New("s3 down"))

		_, err := s.service.UploadPhoto(s.ctx(), session.ID, pngHeader)
		s.True(dErrors.HasCode(err, dErrors.CodeStoreFailed))
		s.Equal(models.StepBusinessVerified, s.get(session.ID).Step)

		s.uploadPhoto(session.ID)
		stored := s.get(session.ID)
		s.Equal(models.StepPhotoUploaded, stored.Step)
		s.Equal("mem://storefronts/x.png", stored.PhotoRef)
	})
}

func (s *VerificationServiceSuite) TestCompleteVerification() {
	s.Run("out of order leaves state unchanged", func() {
		session := s.createSession()
		before := s.get(session.ID)

		_, err := s.service.CompleteVerification(s.ctx(), session.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeOutOfOrder))
		s.Equal(before, s.get(session.ID))
	})

	s.Run("completes and repeats with the original time", func() {
		session := s.createSession()
		s.verifyPhone(session.ID)
		s.verifyBusiness(session.ID)
		s.uploadPhoto(session.ID)

		completedAt := s.now.Add(10 * time.Minute)
		since, err := s.service.CompleteVerification(s.ctxAt(completedAt), session.ID)
		s.Require().NoError(err)
		s.Equal(completedAt, since)

		again, err := s.service.CompleteVerification(s.ctxAt(completedAt.Add(time.Hour)), session.ID)
		s.Require().NoError(err)
		s.Equal(completedAt, again)

		stored := s.get(session.ID)
		s.Equal(models.StepComplete, stored.Step)
		s.Equal(completedAt, stored.LastUpdated)
	})
}

func (s *VerificationServiceSuite) TestUpdateBusiness() {
	s.Run("locked after directory verification", func() {
		session := s.createSession()
		s.verifyPhone(session.ID)
		s.verifyBusiness(session.ID)

		name := "Renamed"
		_, err := s.service.UpdateBusiness(s.ctx(), session.ID, UpdateBusinessRequest{Name: &name})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("unchanged details do not touch the session", func() {
		session := s.createSession()
		name := session.Business.Name

		updated, err := s.service.UpdateBusiness(s.ctxAt(s.now.Add(time.Hour)), session.ID, UpdateBusinessRequest{Name: &name})
		s.Require().NoError(err)
		s.Equal(s.now, updated.LastUpdated)
	})

	s.Run("applies changes", func() {
		session := s.createSession()
		language := "tamil"
		contact := "+91 91234 56789"

		updated, err := s.service.UpdateBusiness(s.ctx(), session.ID, UpdateBusinessRequest{Language: &language, Contact: &contact})
		s.Require().NoError(err)
		s.Equal(naming.Tamil, updated.Business.Language)
		s.Equal(id.PhoneNumber("+919123456789"), updated.Business.Contact)
		s.Equal(session.Business.Phone, updated.Business.Phone)
	})
}

func (s *VerificationServiceSuite) TestListing() {
	s.Run("hidden until complete", func() {
		session := s.createSession()
		_, err := s.service.Listing(s.ctx(), session.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("published with derived domain", func() {
		session := s.createSession()
		s.verifyPhone(session.ID)
		s.verifyBusiness(session.ID)
		s.uploadPhoto(session.ID)
		since, err := s.service.CompleteVerification(s.ctx(), session.ID)
		s.Require().NoError(err)

		listing, err := s.service.Listing(s.ctx(), session.ID)
		s.Require().NoError(err)
		s.Equal("Sharma Tea Stall", listing.BusinessName)
		s.Equal("sharmateastall.free."+naming.Hindi.TLD(), listing.Domain.Full)
		s.Equal(since, listing.VerifiedSince)
		s.Equal(session.Business.Phone, listing.Contact)
	})
}

func (s *VerificationServiceSuite) TestPurgeIdle() {
	stale := s.createSession()
	complete := s.createSession()
	s.verifyPhone(complete.ID)
	s.verifyBusiness(complete.ID)
	s.uploadPhoto(complete.ID)
	_, err := s.service.CompleteVerification(s.ctx(), complete.ID)
	s.Require().NoError(err)

	fresh, err := s.service.CreateSession(s.ctxAt(s.now.Add(50*time.Minute)), CreateSessionRequest{
		Name:  "Fresh Fruits",
		Phone: "9876500000",
	})
	s.Require().NoError(err)

	purged, err := s.service.PurgeIdle(s.ctxAt(s.now.Add(time.Hour)), 30*time.Minute)
	s.Require().NoError(err)
	s.Equal(1, purged)

	_, err = s.service.GetSession(s.ctx(), stale.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	s.Equal(models.StepComplete, s.get(complete.ID).Step)
	s.Equal(models.StepCreated, s.get(fresh.ID).Step)
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.SessionsPurged))

	_, err = s.service.PurgeIdle(s.ctx(), 0)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *VerificationServiceSuite) TestGate_WaitTimesOut() {
	svc, err := New(s.store, s.notifier, s.directory, s.photos,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithGateWait(20*time.Millisecond),
	)
	s.Require().NoError(err)
	session := s.createSession()

	release, err := svc.gate.acquire(s.ctx(), session.ID)
	s.Require().NoError(err)
	defer release()

	_, err = svc.VerifyBusiness(s.ctx(), session.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeTimeout))
}

func (s *VerificationServiceSuite) TestCollaboratorCallsRunWithGateReleased() {
	svc, err := New(s.store, s.notifier, s.directory, s.photos,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithAuditPublisher(s.auditor),
		WithOTPOptions(otp.WithHashCost(bcrypt.MinCost)),
		WithGateWait(time.Second),
	)
	s.Require().NoError(err)
	s.service = svc

	s.Run("no-op submit returns while a directory lookup is in flight", func() {
		session := s.createSession()
		s.verifyPhone(session.ID)

		started := make(chan struct{})
		unblock := make(chan struct{})
		s.directory.EXPECT().Lookup(gomock.Any(), gomock.Any()).
			DoAndReturn(func(context.Context, directory.Query) (directory.Result, error) {
				close(started)
				<-unblock
				return directory.Result{Matched: true, Source: "static", Reference: "ref-1"}, nil
			})

		done := make(chan error, 1)
		go func() {
			_, err := s.service.VerifyBusiness(s.ctx(), session.ID)
			done <- err
		}()
		<-started

		begin := time.Now()
		result, err := s.service.SubmitOTP(s.ctx(), session.ID, "000000")
		elapsed := time.Since(begin)
		close(unblock)

		s.Require().NoError(err)
		s.Equal(OutcomeAlreadyVerified, result.Outcome)
		s.Less(elapsed, 500*time.Millisecond)
		s.Require().NoError(<-done)
		s.Equal(models.StepBusinessVerified, s.get(session.ID).Step)
	})

	s.Run("details amended during the lookup fail the commit", func() {
		session := s.createSession()
		s.verifyPhone(session.ID)

		started := make(chan struct{})
		unblock := make(chan struct{})
		s.directory.EXPECT().Lookup(gomock.Any(), gomock.Any()).
			DoAndReturn(func(context.Context, directory.Query) (directory.Result, error) {
				close(started)
				<-unblock
				return directory.Result{Matched: true, Source: "static", Reference: "ref-1"}, nil
			})

		done := make(chan error, 1)
		go func() {
			_, err := s.service.VerifyBusiness(s.ctx(), session.ID)
			done <- err
		}()
		<-started

		name := "Sharma Chai Corner"
		_, err := s.service.UpdateBusiness(s.ctx(), session.ID, UpdateBusinessRequest{Name: &name})
		close(unblock)
		s.Require().NoError(err)

		s.True(dErrors.HasCode(<-done, dErrors.CodeConflict))
		stored := s.get(session.ID)
		s.Equal(models.StepPhoneVerified, stored.Step)
		s.Equal(name, stored.Business.Name)
	})

	s.Run("submit is judged while the code is being delivered", func() {
		session := s.createSession()

		started := make(chan struct{})
		unblock := make(chan struct{})
		s.notifier.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(context.Context, id.PhoneNumber, string) error {
				close(started)
				<-unblock
				return nil
			})

		done := make(chan error, 1)
		go func() {
			_, err := s.service.IssueOTP(s.ctx(), session.ID)
			done <- err
		}()
		<-started

		result, err := s.service.SubmitOTP(s.ctx(), session.ID, "abcdef")
		close(unblock)

		s.Require().NoError(err)
		s.Equal(OutcomeRejected, result.Outcome)
		s.Require().NoError(<-done)
	})

	s.Run("concurrent upload that lost the race is a no-op", func() {
		session := s.createSession()
		s.verifyPhone(session.ID)
		s.verifyBusiness(session.ID)

		started := make(chan struct{})
		unblock := make(chan struct{})
		s.photos.EXPECT().Store(gomock.Any(), session.ID, pngHeader, "image/png").
			DoAndReturn(func(context.Context, id.SessionID, []byte, string) (string, error) {
				close(started)
				<-unblock
				return "mem://storefronts/slow.png", nil
			})

		done := make(chan error, 1)
		go func() {
			_, err := s.service.UploadPhoto(s.ctx(), session.ID, pngHeader)
			done <- err
		}()
		<-started

		s.uploadPhoto(session.ID)
		close(unblock)

		s.Require().NoError(<-done)
		stored := s.get(session.ID)
		s.Equal(models.StepPhotoUploaded, stored.Step)
		s.Equal("mem://storefronts/x.png", stored.PhotoRef)
	})
}

// wrongCode returns a code that differs from code.
func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}
