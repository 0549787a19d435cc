// Package config loads process configuration from the environment. An
// optional .env file in the working directory is read first; real environment
// variables win over it.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full process configuration.
type Config struct {
	Server    Server
	Redis     Redis
	Postgres  Postgres
	Kafka     Kafka
	AWS       AWS
	OTP       OTP
	Directory Directory
	Photo     Photo
	Sweeper   Sweeper
	RateLimit RateLimit
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	Environment     string
	LogLevel        string
	LogFormat       string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	// CORSOrigins lists browser origins allowed to call the API.
	CORSOrigins []string
}

// Redis selects the session store. An empty URL keeps sessions in memory.
type Redis struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Postgres holds reports and the outbox. An empty URL keeps both in memory.
type Postgres struct {
	URL            string
	MaxConns       int32
	MigrateOnStart bool
}

// Kafka receives outbox entries. With no brokers the relay only logs them.
type Kafka struct {
	Brokers       []string
	ClientID      string
	AuditTopic    string
	ReportTopic   string
	ConsumerGroup string
	RelayInterval time.Duration
	RelayBatch    int
	EnsureTopics  bool
}

// AWS configures SNS and S3. Endpoint points both at LocalStack when set.
type AWS struct {
	Region      string
	Endpoint    string
	SNSSenderID string
	S3Bucket    string
	S3Prefix    string
}

type OTP struct {
	// Notifier is "log" (development) or "sns".
	Notifier    string
	Window      time.Duration
	MaxAttempts int
}

type Directory struct {
	// URLs are HTTP directory services queried in parallel.
	URLs    []string
	APIKey  string
	Timeout time.Duration
	// StaticFile is a JSON array of allowlisted entries.
	StaticFile string
}

type Photo struct {
	// Store is "memory" or "s3".
	Store    string
	MaxBytes int
}

type Sweeper struct {
	Enabled  bool
	Schedule string
	IdleTTL  time.Duration
}

// RateLimit paces the unauthenticated write endpoints. Counters live in Redis
// when REDIS_URL is set, in memory otherwise. A zero limit disables that rule.
type RateLimit struct {
	Enabled       bool
	Window        time.Duration
	SessionsPerIP int
	OTPPerSession int
	OTPPerIP      int
	ReportsPerIP  int
}

// IsProduction reports whether the process runs in production.
func (s Server) IsProduction() bool {
	return s.Environment == "production"
}

// FromEnv builds the configuration from environment variables.
func FromEnv() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to read .env file", "error", err)
	}

	var p parser
	cfg := Config{
		Server: Server{
			Addr:            p.str("WEBKART_ADDR", ":8080"),
			Environment:     p.str("WEBKART_ENV", "development"),
			LogLevel:        p.str("LOG_LEVEL", "info"),
			LogFormat:       p.str("LOG_FORMAT", ""),
			RequestTimeout:  p.duration("REQUEST_TIMEOUT", 30*time.Second),
			ShutdownTimeout: p.duration("SHUTDOWN_TIMEOUT", 15*time.Second),
			CORSOrigins:     p.list("CORS_ALLOWED_ORIGINS"),
		},
		Redis: Redis{
			URL:          p.str("REDIS_URL", ""),
			PoolSize:     p.integer("REDIS_POOL_SIZE", 10),
			MinIdleConns: p.integer("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  p.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  p.duration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: p.duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Postgres: Postgres{
			URL:            p.str("DATABASE_URL", ""),
			MaxConns:       int32(p.integer("DATABASE_MAX_CONNS", 10)),
			MigrateOnStart: p.boolean("DATABASE_MIGRATE", true),
		},
		Kafka: Kafka{
			Brokers:       p.list("KAFKA_BROKERS"),
			ClientID:      p.str("KAFKA_CLIENT_ID", "webkart"),
			AuditTopic:    p.str("KAFKA_AUDIT_TOPIC", "webkart.audit"),
			ReportTopic:   p.str("KAFKA_REPORT_TOPIC", "webkart.reports"),
			ConsumerGroup: p.str("KAFKA_AUDIT_CONSUMER_GROUP", ""),
			RelayInterval: p.duration("OUTBOX_RELAY_INTERVAL", time.Second),
			RelayBatch:    p.integer("OUTBOX_RELAY_BATCH", 100),
			EnsureTopics:  p.boolean("KAFKA_ENSURE_TOPICS", false),
		},
		AWS: AWS{
			Region:      p.str("AWS_REGION", "ap-south-1"),
			Endpoint:    p.str("AWS_ENDPOINT_URL", ""),
			SNSSenderID: p.str("SNS_SENDER_ID", ""),
			S3Bucket:    p.str("PHOTO_S3_BUCKET", ""),
			S3Prefix:    p.str("PHOTO_S3_PREFIX", "storefronts"),
		},
		OTP: OTP{
			Notifier:    p.str("OTP_NOTIFIER", "log"),
			Window:      p.duration("OTP_WINDOW", 5*time.Minute),
			MaxAttempts: p.integer("OTP_MAX_ATTEMPTS", 5),
		},
		Directory: Directory{
			URLs:       p.list("DIRECTORY_URLS"),
			APIKey:     p.str("DIRECTORY_API_KEY", ""),
			Timeout:    p.duration("DIRECTORY_TIMEOUT", 5*time.Second),
			StaticFile: p.str("DIRECTORY_STATIC_FILE", ""),
		},
		Photo: Photo{
			Store:    p.str("PHOTO_STORE", "memory"),
			MaxBytes: p.integer("PHOTO_MAX_BYTES", 5<<20),
		},
		Sweeper: Sweeper{
			Enabled:  p.boolean("SWEEPER_ENABLED", true),
			Schedule: p.str("SWEEPER_SCHEDULE", "@every 5m"),
			IdleTTL:  p.duration("SESSION_IDLE_TTL", 72*time.Hour),
		},
		RateLimit: RateLimit{
			Enabled:       p.boolean("RATE_LIMIT_ENABLED", true),
			Window:        p.duration("RATE_LIMIT_WINDOW", time.Hour),
			SessionsPerIP: p.integer("RATE_LIMIT_SESSIONS_PER_IP", 10),
			OTPPerSession: p.integer("RATE_LIMIT_OTP_PER_SESSION", 5),
			OTPPerIP:      p.integer("RATE_LIMIT_OTP_PER_IP", 20),
			ReportsPerIP:  p.integer("RATE_LIMIT_REPORTS_PER_IP", 20),
		},
	}
	if cfg.Server.LogFormat == "" {
		cfg.Server.LogFormat = "text"
		if cfg.Server.IsProduction() {
			cfg.Server.LogFormat = "json"
		}
	}

	if err := p.err(); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.OTP.Notifier {
	case "log", "sns":
	default:
		return fmt.Errorf("OTP_NOTIFIER must be log or sns, got %q", c.OTP.Notifier)
	}
	if c.OTP.Notifier == "log" && c.Server.IsProduction() {
		return fmt.Errorf("OTP_NOTIFIER=log is not allowed in production")
	}
	switch c.Photo.Store {
	case "memory":
	case "s3":
		if c.AWS.S3Bucket == "" {
			return fmt.Errorf("PHOTO_S3_BUCKET is required when PHOTO_STORE=s3")
		}
	default:
		return fmt.Errorf("PHOTO_STORE must be memory or s3, got %q", c.Photo.Store)
	}
	if c.Sweeper.IdleTTL <= 0 {
		return fmt.Errorf("SESSION_IDLE_TTL must be positive")
	}
	if c.OTP.Window < time.Second {
		return fmt.Errorf("OTP_WINDOW must be at least 1s")
	}
	if c.RateLimit.Enabled && c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive")
	}
	return nil
}

// parser collects the first malformed variable instead of failing on each.
type parser struct {
	first error
}

func (p *parser) fail(key, raw string, err error) {
	if p.first == nil {
		p.first = fmt.Errorf("invalid %s=%q: %w", key, raw, err)
	}
}

func (p *parser) err() error { return p.first }

func (p *parser) str(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func (p *parser) integer(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(key, raw, err)
		return fallback
	}
	return n
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		p.fail(key, raw, err)
		return fallback
	}
	return d
}

func (p *parser) boolean(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		p.fail(key, raw, err)
		return fallback
	}
	return b
}

func (p *parser) list(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
