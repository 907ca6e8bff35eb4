package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reachforge/outreach-core/internal/config"
	"github.com/reachforge/outreach-core/internal/infrastructure/monitoring/logging"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := NewClient(config.RedisConfig{
		Addr:      mr.Addr(),
		KeyPrefix: "outreach:",
	}, logging.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNewClient_ConnectionFailed(t *testing.T) {
	_, err := NewClient(config.RedisConfig{Addr: "localhost:1"}, logging.NewNopLogger())
	assert.Error(t, err)
}

func TestRateCounter_IncrementSent(t *testing.T) {
	client := newTestClient(t)
	counter := NewRateCounter(client, logging.NewNopLogger())
	ctx := context.Background()

	n, err := counter.IncrementSent(ctx, "acct-1", "2026-03-02")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = counter.IncrementSent(ctx, "acct-1", "2026-03-02")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// A different window date starts a fresh counter.
	n, err = counter.IncrementSent(ctx, "acct-1", "2026-03-03")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// Accounts do not share counters.
	n, err = counter.IncrementSent(ctx, "acct-2", "2026-03-02")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRateCounter_MarkRollover_FirstCallerWins(t *testing.T) {
	client := newTestClient(t)
	counter := NewRateCounter(client, logging.NewNopLogger())
	ctx := context.Background()

	first, err := counter.MarkRollover(ctx, "acct-1", "2026-03-03")
	require.NoError(t, err)
	assert.True(t, first)

	repeat, err := counter.MarkRollover(ctx, "acct-1", "2026-03-03")
	require.NoError(t, err)
	assert.False(t, repeat)

	next, err := counter.MarkRollover(ctx, "acct-1", "2026-03-04")
	require.NoError(t, err)
	assert.True(t, next)
}

func TestClient_HealthCheck(t *testing.T) {
	client := newTestClient(t)
	assert.NoError(t, client.HealthCheck(context.Background()))
}
