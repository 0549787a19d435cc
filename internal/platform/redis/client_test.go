package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webkart/internal/platform/config"
)

func TestNew(t *testing.T) {
	ctx := context.Background()

	t.Run("empty URL disables redis", func(t *testing.T) {
		client, err := New(ctx, config.Redis{})
		require.NoError(t, err)
		assert.Nil(t, client)
	})

	t.Run("connects and applies overrides", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client, err := New(ctx, config.Redis{
			URL:         "redis://" + mr.Addr(),
			PoolSize:    3,
			DialTimeout: time.Second,
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = client.Close() })

		assert.Equal(t, 3, client.Options().PoolSize)
		assert.Equal(t, time.Second, client.Options().DialTimeout)
		require.NoError(t, client.Set(ctx, "k", "v", 0).Err())
	})

	t.Run("invalid URL", func(t *testing.T) {
		_, err := New(ctx, config.Redis{URL: "://nope"})
		assert.Error(t, err)
	})
}
