package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"webkart/internal/directory"
	"webkart/internal/notify"
	"webkart/internal/otp"
	"webkart/internal/photo"
	"webkart/internal/platform/awsconfig"
	"webkart/internal/platform/config"
	ratelimitmetrics "webkart/internal/ratelimit/metrics"
	ratelimit "webkart/internal/ratelimit/middleware"
	verificationservice "webkart/internal/verification/service"
)

func buildNotifier(ctx context.Context, cfg config.Config, log *slog.Logger) (verificationservice.Notifier, error) {
	if cfg.OTP.Notifier != "sns" {
		log.Warn("OTP codes are written to the log; set OTP_NOTIFIER=sns to send SMS")
		return notify.NewLog(log), nil
	}
	awsCfg, err := awsconfig.Load(ctx, cfg.AWS)
	if err != nil {
		return nil, err
	}
	return notify.NewSNS(notify.NewSNSClient(awsCfg, cfg.AWS.Endpoint), cfg.AWS.SNSSenderID), nil
}

func buildPhotoStore(ctx context.Context, cfg config.Config) (verificationservice.PhotoStore, error) {
	if cfg.Photo.Store != "s3" {
		return photo.NewInMemoryStore(), nil
	}
	awsCfg, err := awsconfig.Load(ctx, cfg.AWS)
	if err != nil {
		return nil, err
	}
	return photo.NewS3Store(photo.NewS3Client(awsCfg, cfg.AWS.Endpoint), cfg.AWS.S3Bucket, cfg.AWS.S3Prefix), nil
}

// buildDirectory fans out over the static allowlist and every HTTP source.
func buildDirectory(cfg config.Directory, log *slog.Logger) (verificationservice.BusinessDirectory, error) {
	var sources []directory.Directory
	if cfg.StaticFile != "" {
		static, err := directory.LoadStatic("allowlist", cfg.StaticFile)
		if err != nil {
			return nil, err
		}
		sources = append(sources, static)
	}

	client := &http.Client{Timeout: cfg.Timeout}
	for i, url := range cfg.URLs {
		sources = append(sources, directory.NewHTTP(fmt.Sprintf("http-%d", i+1), url,
			directory.WithHTTPClient(client),
			directory.WithAPIKey(cfg.APIKey),
		))
	}

	if len(sources) == 0 {
		log.Warn("no business directory configured; business verification will not match")
		sources = append(sources, directory.NewStatic("allowlist"))
	}
	return directory.NewFanOut(sources,
		directory.WithSourceTimeout(cfg.Timeout),
		directory.WithLogger(log),
	), nil
}

func otpOptions(cfg config.OTP) []otp.Option {
	return []otp.Option{
		otp.WithWindow(cfg.Window),
		otp.WithMaxAttempts(cfg.MaxAttempts),
	}
}

// routeLimits paces the unauthenticated write routes.
type routeLimits struct {
	createSession func(http.Handler) http.Handler
	issueOTP      func(http.Handler) http.Handler
	submitReport  func(http.Handler) http.Handler
}

func buildRateLimits(cfg config.RateLimit, store ratelimit.BucketStore, reg prometheus.Registerer, log *slog.Logger) routeLimits {
	m := ratelimit.New(store, log,
		ratelimit.WithDisabled(!cfg.Enabled),
		ratelimit.WithMetrics(ratelimitmetrics.New(reg)),
	)
	perIP := func(name string, limit int) ratelimit.Rule {
		return ratelimit.Rule{Name: name, Limit: limit, Window: cfg.Window, Key: ratelimit.ByClientIP}
	}
	return routeLimits{
		createSession: m.Limit(perIP("sessions_ip", cfg.SessionsPerIP)),
		issueOTP: m.Limit(
			ratelimit.Rule{Name: "otp_session", Limit: cfg.OTPPerSession, Window: cfg.Window, Key: ratelimit.ByURLParam("id")},
			perIP("otp_ip", cfg.OTPPerIP),
		),
		submitReport: m.Limit(perIP("reports_ip", cfg.ReportsPerIP)),
	}
}
