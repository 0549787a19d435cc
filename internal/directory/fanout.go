package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"webkart/pkg/platform/circuit"
)

var errMatched = errors.New("directory matched")

// ErrNoSource is returned when no directory could be asked.
var ErrNoSource = errors.New("no business directory available")

type source struct {
	dir     Directory
	breaker *circuit.Breaker
}

// FanOut asks several directories in parallel. The first match wins and
// cancels the remaining lookups. A clean miss needs at least one directory to
// have answered; when every directory failed or was skipped by its circuit
// breaker, Lookup returns an error.
type FanOut struct {
	sources       []source
	sourceTimeout time.Duration
	logger        *slog.Logger
}

type FanOutOption func(*FanOut)

// WithSourceTimeout bounds each directory call.
func WithSourceTimeout(d time.Duration) FanOutOption {
	return func(f *FanOut) {
		f.sourceTimeout = d
	}
}

func WithLogger(logger *slog.Logger) FanOutOption {
	return func(f *FanOut) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithBreakerOptions configures every per-directory breaker.
func WithBreakerOptions(opts ...circuit.Option) FanOutOption {
	return func(f *FanOut) {
		for i := range f.sources {
			f.sources[i].breaker = circuit.New(f.sources[i].dir.Name(), opts...)
		}
	}
}

// NewFanOut builds a FanOut over dirs, each guarded by its own breaker.
func NewFanOut(dirs []Directory, opts ...FanOutOption) *FanOut {
	f := &FanOut{logger: slog.Default()}
	for _, d := range dirs {
		f.sources = append(f.sources, source{dir: d, breaker: circuit.New(d.Name())})
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *FanOut) Name() string { return "fanout" }

func (f *FanOut) Lookup(ctx context.Context, query Query) (Result, error) {
	g, gctx := errgroup.WithContext(ctx)

	var (
		mu       sync.Mutex
		found    *Result
		failures []error
	)
	fail := func(err error) {
		mu.Lock()
		failures = append(failures, err)
		mu.Unlock()
	}

	for _, src := range f.sources {
		name := src.dir.Name()
		if !src.breaker.Allow() {
			fail(fmt.Errorf("%s: circuit open", name))
			continue
		}
		g.Go(func() error {
			callCtx := gctx
			if f.sourceTimeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(gctx, f.sourceTimeout)
				defer cancel()
			}

			res, err := src.dir.Lookup(callCtx, query)
			if err != nil {
				if gctx.Err() != nil {
					// A sibling matched or the caller gave up.
					return nil
				}
				f.recordFailure(ctx, src)
				fail(fmt.Errorf("%s: %w", name, err))
				return nil
			}
			f.recordSuccess(ctx, src)
			if !res.Matched {
				return nil
			}

			mu.Lock()
			defer mu.Unlock()
			if found == nil {
				if res.Source == "" {
					res.Source = name
				}
				found = &res
			}
			return errMatched
		})
	}
	_ = g.Wait()

	mu.Lock()
	defer mu.Unlock()
	if found != nil {
		return *found, nil
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if len(f.sources) == 0 {
		return Result{}, ErrNoSource
	}
	if len(failures) == len(f.sources) {
		return Result{}, errors.Join(append([]error{ErrNoSource}, failures...)...)
	}
	return Result{Source: f.Name()}, nil
}

func (f *FanOut) recordFailure(ctx context.Context, src source) {
	if _, change := src.breaker.RecordFailure(); change.Opened {
		f.logger.WarnContext(ctx, "business directory circuit opened", "directory", src.dir.Name())
	}
}

func (f *FanOut) recordSuccess(ctx context.Context, src source) {
	if _, change := src.breaker.RecordSuccess(); change.Closed {
		f.logger.InfoContext(ctx, "business directory circuit closed", "directory", src.dir.Name())
	}
}
