package redisgate

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGate(t *testing.T) (*WebhookGate, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, 4*24*time.Hour, 2*time.Minute), mr
}

func TestGateLifecycle(t *testing.T) {
	ctx := context.Background()
	gate, _ := newTestGate(t)

	result, err := gate.TryEnter(ctx, "hash-1")
	require.NoError(t, err)
	assert.Equal(t, Entered, result)

	// a concurrent redelivery while processing is held off
	result, err = gate.TryEnter(ctx, "hash-1")
	require.NoError(t, err)
	assert.Equal(t, Processing, result)

	require.NoError(t, gate.MarkProcessed(ctx, "hash-1"))

	// redelivery within the replay window is absorbed
	result, err = gate.TryEnter(ctx, "hash-1")
	require.NoError(t, err)
	assert.Equal(t, AlreadyProcessed, result)

	// a different body is unaffected
	result, err = gate.TryEnter(ctx, "hash-2")
	require.NoError(t, err)
	assert.Equal(t, Entered, result)
}

func TestGateClearAllowsRetry(t *testing.T) {
	ctx := context.Background()
	gate, _ := newTestGate(t)

	result, err := gate.TryEnter(ctx, "hash-1")
	require.NoError(t, err)
	require.Equal(t, Entered, result)

	// processing failed, lock released without a processed marker
	require.NoError(t, gate.Clear(ctx, "hash-1"))

	result, err = gate.TryEnter(ctx, "hash-1")
	require.NoError(t, err)
	assert.Equal(t, Entered, result)
}

func TestGateTTLExpiry(t *testing.T) {
	ctx := context.Background()
	gate, mr := newTestGate(t)

	result, err := gate.TryEnter(ctx, "hash-1")
	require.NoError(t, err)
	require.Equal(t, Entered, result)
	require.NoError(t, gate.MarkProcessed(ctx, "hash-1"))

	// after the replay window the callback may be processed again
	mr.FastForward(4*24*time.Hour + time.Second)

	result, err = gate.TryEnter(ctx, "hash-1")
	require.NoError(t, err)
	assert.Equal(t, Entered, result)
}

func TestGateProcessingLockExpiry(t *testing.T) {
	ctx := context.Background()
	gate, mr := newTestGate(t)

	result, err := gate.TryEnter(ctx, "hash-1")
	require.NoError(t, err)
	require.Equal(t, Entered, result)

	// a crashed worker's lock expires on its own
	mr.FastForward(3 * time.Minute)

	result, err = gate.TryEnter(ctx, "hash-1")
	require.NoError(t, err)
	assert.Equal(t, Entered, result)
}
