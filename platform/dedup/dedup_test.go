package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisSuppressorWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	s := NewRedisSuppressor(client, time.Minute)
	ctx := context.Background()

	first, err := s.Claim(ctx, "new:+12015550123:abc")
	require.NoError(t, err)
	assert.True(t, first)

	first, err = s.Claim(ctx, "new:+12015550123:abc")
	require.NoError(t, err)
	assert.False(t, first, "replay inside the window must be suppressed")

	mr.FastForward(2 * time.Minute)
	first, err = s.Claim(ctx, "new:+12015550123:abc")
	require.NoError(t, err)
	assert.True(t, first, "claim must expire after the window")

	require.NoError(t, s.Release(ctx, "new:+12015550123:abc"))
	first, err = s.Claim(ctx, "new:+12015550123:abc")
	require.NoError(t, err)
	assert.True(t, first, "released key must be claimable again")
}

func TestRedisSuppressorUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	s := NewRedisSuppressor(client, time.Minute)
	mr.Close()

	_, err := s.Claim(context.Background(), "k")
	require.Error(t, err)
}

func TestMemorySuppressorWindow(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	s := NewMemorySuppressor(10 * time.Minute)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	first, _ := s.Claim(ctx, "k")
	assert.True(t, first)
	first, _ = s.Claim(ctx, "k")
	assert.False(t, first)

	now = now.Add(10 * time.Minute)
	first, _ = s.Claim(ctx, "k")
	assert.True(t, first, "claim must expire at the end of the window")

	require.NoError(t, s.Release(ctx, "k"))
	first, _ = s.Claim(ctx, "k")
	assert.True(t, first)
}
