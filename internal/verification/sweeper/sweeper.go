// Package sweeper periodically purges verification sessions that were
// abandoned before completion.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs the sweep every five minutes.
const DefaultSchedule = "@every 5m"

// Purger deletes non-complete sessions idle for longer than ttl.
type Purger interface {
	PurgeIdle(ctx context.Context, ttl time.Duration) (int, error)
}

// Sweeper runs Purger on a cron schedule. Overlapping runs are skipped.
type Sweeper struct {
	purger   Purger
	ttl      time.Duration
	schedule string
	timeout  time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

type Option func(*Sweeper)

// WithSchedule sets a cron spec ("@every 1m", "*/10 * * * *").
func WithSchedule(spec string) Option {
	return func(s *Sweeper) {
		if spec != "" {
			s.schedule = spec
		}
	}
}

// WithTimeout bounds a single sweep.
func WithTimeout(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a sweeper that purges sessions idle longer than ttl.
func New(purger Purger, ttl time.Duration, opts ...Option) (*Sweeper, error) {
	if purger == nil {
		return nil, errors.New("purger is required")
	}
	if ttl <= 0 {
		return nil, errors.New("idle ttl must be positive")
	}
	s := &Sweeper{
		purger:   purger,
		ttl:      ttl,
		schedule: DefaultSchedule,
		timeout:  time.Minute,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start schedules the sweep. Runs use ctx as their parent and stop being
// scheduled after Stop.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("sweeper already running")
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(s.schedule, func() { _, _ = s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("invalid sweeper schedule %q: %w", s.schedule, err)
	}
	c.Start()
	s.cron = c
	s.running = true

	s.logger.InfoContext(ctx, "idle session sweeper started",
		"schedule", s.schedule,
		"ttl", s.ttl,
	)
	return nil
}

// Stop unschedules the sweep and waits for a run in progress.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
}

// RunOnce performs a single sweep.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	purged, err := s.purger.PurgeIdle(ctx, s.ttl)
	if err != nil {
		s.logger.ErrorContext(ctx, "idle session sweep failed", "error", err)
		return purged, err
	}
	if purged > 0 {
		s.logger.InfoContext(ctx, "purged idle verification sessions",
			"purged", purged,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return purged, nil
}
