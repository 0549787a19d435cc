package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"webkart/internal/naming"
	naminghandler "webkart/internal/naming/handler"
	"webkart/internal/platform/config"
	"webkart/internal/platform/httpserver"
	"webkart/internal/platform/kafka"
	kafkaconsumer "webkart/internal/platform/kafka/consumer"
	"webkart/internal/platform/logger"
	"webkart/internal/platform/metrics"
	"webkart/internal/platform/postgres"
	"webkart/internal/platform/redis"
	ratelimit "webkart/internal/ratelimit/middleware"
	"webkart/internal/ratelimit/store/bucket"
	reporthandler "webkart/internal/report/handler"
	reportmetrics "webkart/internal/report/metrics"
	reportservice "webkart/internal/report/service"
	reportstore "webkart/internal/report/store"
	httptransport "webkart/internal/transport/http"
	verificationhandler "webkart/internal/verification/handler"
	verificationmetrics "webkart/internal/verification/metrics"
	verificationservice "webkart/internal/verification/service"
	verificationstore "webkart/internal/verification/store"
	"webkart/internal/verification/sweeper"
	auditconsumer "webkart/pkg/platform/audit/consumer"
	auditpublisher "webkart/pkg/platform/audit/publisher"
	auditstore "webkart/pkg/platform/audit/store/postgres"
	"webkart/pkg/platform/outbox"
)

const (
	derivationCacheSize = 4096
	auditBufferSize     = 1024
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(os.Stdout, cfg.Server.LogLevel, cfg.Server.LogFormat)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

// outboxStore is the union of what report storage and the relay need.
type outboxStore interface {
	outbox.Source
	Append(ctx context.Context, entry outbox.Entry) error
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	checks := map[string]httptransport.HealthCheck{}

	// Postgres backs reports, the outbox and the audit archive.
	pool, err := postgres.Connect(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	var ob outboxStore
	var reports reportservice.Store
	if pool != nil {
		defer pool.Close()
		if cfg.Postgres.MigrateOnStart {
			if err := postgres.Migrate(ctx, pool, log); err != nil {
				return err
			}
		}
		checks["postgres"] = pool.Ping
		ob = outbox.NewPostgresStore(pool)
		reports = reportstore.NewPostgres(pool)
	} else {
		log.Warn("DATABASE_URL not set, reports and outbox kept in memory")
		mem := outbox.NewInMemoryStore()
		ob = mem
		reports = reportstore.NewInMemoryStore(mem)
	}

	audit := auditpublisher.NewPublisher(
		auditstore.New(ob, cfg.Kafka.AuditTopic),
		auditpublisher.WithAsyncBuffer(auditBufferSize),
		auditpublisher.WithLogger(log),
	)
	defer audit.Close()

	// Redis backs verification sessions.
	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	var (
		sessions verificationservice.Store
		buckets  ratelimit.BucketStore
	)
	if redisClient != nil {
		defer redisClient.Close()
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
		sessions = verificationstore.NewRedis(redisClient)
		buckets = bucket.NewRedisBucketStore(redisClient)
	} else {
		log.Warn("REDIS_URL not set, verification sessions and rate limits kept in memory")
		sessions = verificationstore.NewInMemoryStore()
		buckets = bucket.NewInMemoryBucketStore()
	}
	limits := buildRateLimits(cfg.RateLimit, buckets, reg, log)

	notifier, err := buildNotifier(ctx, cfg, log)
	if err != nil {
		return err
	}
	photos, err := buildPhotoStore(ctx, cfg)
	if err != nil {
		return err
	}
	dir, err := buildDirectory(cfg.Directory, log)
	if err != nil {
		return err
	}

	deriver := naming.NewDeriver(derivationCacheSize)
	verification, err := verificationservice.New(sessions, notifier, dir, photos,
		verificationservice.WithLogger(log),
		verificationservice.WithMetrics(verificationmetrics.New(reg)),
		verificationservice.WithAuditPublisher(audit),
		verificationservice.WithDeriver(deriver),
		verificationservice.WithPhotoMaxBytes(cfg.Photo.MaxBytes),
		verificationservice.WithTracer(otel.Tracer("webkart/verification")),
		verificationservice.WithOTPOptions(otpOptions(cfg.OTP)...),
	)
	if err != nil {
		return fmt.Errorf("build verification service: %w", err)
	}

	reportSvc, err := reportservice.New(reports,
		reportservice.WithLogger(log),
		reportservice.WithMetrics(reportmetrics.New(reg)),
		reportservice.WithAuditPublisher(audit),
		reportservice.WithTopic(cfg.Kafka.ReportTopic),
	)
	if err != nil {
		return fmt.Errorf("build report service: %w", err)
	}

	// Kafka receives relayed outbox entries; without brokers they are logged.
	var publisher outbox.Publisher = outbox.NewLogPublisher(log)
	var producerClient *kgo.Client
	if len(cfg.Kafka.Brokers) > 0 {
		producerClient, err = kafka.NewClient(cfg.Kafka)
		if err != nil {
			return err
		}
		defer producerClient.Close()
		if cfg.Kafka.EnsureTopics {
			if err := kafka.EnsureTopics(ctx, producerClient, 1, cfg.Kafka.AuditTopic, cfg.Kafka.ReportTopic); err != nil {
				return err
			}
		}
		checks["kafka"] = producerClient.Ping
		publisher = kafka.NewProducer(producerClient)
	}
	relay := outbox.NewRelay(ob, publisher,
		outbox.WithInterval(cfg.Kafka.RelayInterval),
		outbox.WithBatchSize(cfg.Kafka.RelayBatch),
		outbox.WithLogger(log),
		outbox.WithMetrics(outbox.NewMetrics(reg)),
	)

	if cfg.Sweeper.Enabled {
		sw, err := sweeper.New(verification, cfg.Sweeper.IdleTTL,
			sweeper.WithSchedule(cfg.Sweeper.Schedule),
			sweeper.WithLogger(log),
		)
		if err != nil {
			return fmt.Errorf("build sweeper: %w", err)
		}
		if err := sw.Start(ctx); err != nil {
			return err
		}
		defer sw.Stop()
	}

	router := httptransport.NewRouter(httptransport.Config{
		Logger:         log,
		RequestTimeout: cfg.Server.RequestTimeout,
		Metrics:        metrics.New(reg),
		Gatherer:       reg,
		Checks:         checks,
		AllowedOrigins: cfg.Server.CORSOrigins,
	},
		verificationhandler.New(verification, log, cfg.Photo.MaxBytes,
			verificationhandler.WithCreateLimit(limits.createSession),
			verificationhandler.WithIssueOTPLimit(limits.issueOTP),
		),
		naminghandler.New(deriver, log),
		reporthandler.New(reportSvc, log, reporthandler.WithSubmitLimit(limits.submitReport)),
	)
	srv := httpserver.New(cfg.Server, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		relay.Run(gctx)
		return nil
	})
	consumer, closeConsumer, err := buildAuditConsumer(cfg.Kafka, pool, log)
	if err != nil {
		return err
	}
	if consumer != nil {
		defer closeConsumer()
		g.Go(func() error { return consumer.Run(gctx) })
	}
	g.Go(func() error {
		return httpserver.Run(gctx, srv, cfg.Server.ShutdownTimeout, log)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// buildAuditConsumer archives relayed audit events. It needs brokers, a
// consumer group and a database; otherwise it returns nil.
func buildAuditConsumer(cfg config.Kafka, pool *pgxpool.Pool, log *slog.Logger) (*kafkaconsumer.Consumer, func(), error) {
	if len(cfg.Brokers) == 0 || cfg.ConsumerGroup == "" || pool == nil {
		return nil, nil, nil
	}
	router := auditconsumer.NewRouter(log, nil)
	router.Register(cfg.AuditTopic, auditconsumer.NewArchiveHandler(auditstore.NewArchive(pool), log))

	client, err := kafka.NewClient(cfg,
		kgo.ConsumerGroup(cfg.ConsumerGroup),
		kgo.ConsumeTopics(router.Topics()...),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, nil, err
	}
	return kafkaconsumer.New(client, router, kafkaconsumer.WithLogger(log)), client.Close, nil
}
