package directory

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webkart/pkg/platform/circuit"
)

func TestStaticDirectory(t *testing.T) {
	dir := NewStatic("allowlist",
		Entry{Reference: "gst-1", Name: "Sharma Tea Stall"},
		Entry{Reference: "gst-2", Name: "Corner Shop", Phone: "+919876543210"},
	)
	ctx := context.Background()

	t.Run("matches ignoring case and punctuation", func(t *testing.T) {
		res, err := dir.Lookup(ctx, Query{Name: "  sharma tea-stall! "})
		require.NoError(t, err)
		assert.True(t, res.Matched)
		assert.Equal(t, "gst-1", res.Reference)
		assert.Equal(t, "allowlist", res.Source)
	})

	t.Run("phone must match when listed", func(t *testing.T) {
		res, err := dir.Lookup(ctx, Query{Name: "Corner Shop", Phone: "+919999999999"})
		require.NoError(t, err)
		assert.False(t, res.Matched)

		res, err = dir.Lookup(ctx, Query{Name: "Corner Shop", Phone: "+919876543210"})
		require.NoError(t, err)
		assert.True(t, res.Matched)
	})

	t.Run("unknown business is a clean miss", func(t *testing.T) {
		res, err := dir.Lookup(ctx, Query{Name: "Nowhere"})
		require.NoError(t, err)
		assert.False(t, res.Matched)
	})

	t.Run("unlabelled names are not listed", func(t *testing.T) {
		assert.False(t, dir.Add(Entry{Name: "!!!"}))
	})
}

func TestLoadStatic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directory.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"reference":"gst-9","name":"Ravi Kirana"}]`), 0o600))

	dir, err := LoadStatic("file", path)
	require.NoError(t, err)

	res, err := dir.Lookup(context.Background(), Query{Name: "ravi kirana"})
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Equal(t, "gst-9", res.Reference)

	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o600))
	_, err = LoadStatic("file", path)
	assert.Error(t, err)
}

func TestHTTPDirectory(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/lookup" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var q Query
		if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		switch q.Name {
		case "Sharma Tea Stall":
			_ = json.NewEncoder(w).Encode(lookupResponse{Matched: true, Reference: "udyam-42"})
		case "Broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			_ = json.NewEncoder(w).Encode(lookupResponse{})
		}
	}))
	defer server.Close()

	dir := NewHTTP("udyam", server.URL+"/", WithAPIKey("secret"))
	ctx := context.Background()

	res, err := dir.Lookup(ctx, Query{Name: "Sharma Tea Stall"})
	require.NoError(t, err)
	assert.Equal(t, Result{Matched: true, Source: "udyam", Reference: "udyam-42"}, res)
	assert.Equal(t, "Bearer secret", gotAuth)

	res, err = dir.Lookup(ctx, Query{Name: "Unknown"})
	require.NoError(t, err)
	assert.False(t, res.Matched)

	_, err = dir.Lookup(ctx, Query{Name: "Broken"})
	assert.ErrorContains(t, err, "unexpected status 500")
}

type funcDirectory struct {
	name  string
	calls atomic.Int32
	fn    func(ctx context.Context) (Result, error)
}

func (d *funcDirectory) Name() string { return d.name }

func (d *funcDirectory) Lookup(ctx context.Context, _ Query) (Result, error) {
	d.calls.Add(1)
	return d.fn(ctx)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFanOut(t *testing.T) {
	ctx := context.Background()
	miss := func(context.Context) (Result, error) { return Result{}, nil }
	down := func(context.Context) (Result, error) { return Result{}, errors.New("down") }

	t.Run("first match wins and cancels slow lookups", func(t *testing.T) {
		slow := &funcDirectory{name: "slow", fn: func(ctx context.Context) (Result, error) {
			<-ctx.Done()
			return Result{}, ctx.Err()
		}}
		fast := &funcDirectory{name: "fast", fn: func(context.Context) (Result, error) {
			return Result{Matched: true, Reference: "r-1"}, nil
		}}
		f := NewFanOut([]Directory{slow, fast}, WithLogger(quietLogger()))

		res, err := f.Lookup(ctx, Query{Name: "x"})
		require.NoError(t, err)
		assert.True(t, res.Matched)
		assert.Equal(t, "fast", res.Source)
		assert.Equal(t, "r-1", res.Reference)
	})

	t.Run("miss when at least one directory answered", func(t *testing.T) {
		f := NewFanOut([]Directory{
			&funcDirectory{name: "a", fn: down},
			&funcDirectory{name: "b", fn: miss},
		}, WithLogger(quietLogger()))

		res, err := f.Lookup(ctx, Query{Name: "x"})
		require.NoError(t, err)
		assert.False(t, res.Matched)
	})

	t.Run("error when every directory failed", func(t *testing.T) {
		f := NewFanOut([]Directory{
			&funcDirectory{name: "a", fn: down},
			&funcDirectory{name: "b", fn: down},
		}, WithLogger(quietLogger()))

		_, err := f.Lookup(ctx, Query{Name: "x"})
		assert.ErrorIs(t, err, ErrNoSource)
	})

	t.Run("no directories", func(t *testing.T) {
		_, err := NewFanOut(nil).Lookup(ctx, Query{Name: "x"})
		assert.ErrorIs(t, err, ErrNoSource)
	})

	t.Run("open breaker skips a failing directory", func(t *testing.T) {
		failing := &funcDirectory{name: "failing", fn: down}
		healthy := &funcDirectory{name: "healthy", fn: miss}
		f := NewFanOut([]Directory{failing, healthy},
			WithLogger(quietLogger()),
			WithBreakerOptions(circuit.WithFailureThreshold(2), circuit.WithCooldown(time.Hour)),
		)

		for range 4 {
			_, err := f.Lookup(ctx, Query{Name: "x"})
			require.NoError(t, err)
		}
		assert.Equal(t, int32(2), failing.calls.Load())
		assert.Equal(t, int32(4), healthy.calls.Load())
	})

	t.Run("caller cancellation leaves breakers closed", func(t *testing.T) {
		blocking := &funcDirectory{name: "blocking", fn: func(ctx context.Context) (Result, error) {
			<-ctx.Done()
			return Result{}, ctx.Err()
		}}
		f := NewFanOut([]Directory{blocking},
			WithLogger(quietLogger()),
			WithBreakerOptions(circuit.WithFailureThreshold(2), circuit.WithCooldown(time.Hour)),
		)

		for range 5 {
			callCtx, cancel := context.WithTimeout(ctx, 5*time.Millisecond)
			_, err := f.Lookup(callCtx, Query{Name: "x"})
			cancel()
			assert.ErrorIs(t, err, context.DeadlineExceeded)
		}
		assert.True(t, f.sources[0].breaker.Allow())
		assert.Equal(t, int32(5), blocking.calls.Load())
	})
}
