package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitConsumesBurstImmediately(t *testing.T) {
	l := New(Config{RequestsPerSecond: 1, Burst: 3})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		start := time.Now()
		require.NoError(t, l.Wait(ctx, "example.com"))
		assert.Less(t, time.Since(start), 10*time.Millisecond)
	}
}

func TestWaitBlocksWhenBucketEmpty(t *testing.T) {
	l := New(Config{RequestsPerSecond: 50, Burst: 1})
	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, "example.com"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "example.com"))
	assert.Greater(t, time.Since(start), time.Millisecond)
}

func TestWaitRespectsCancellation(t *testing.T) {
	l := New(Config{RequestsPerSecond: 0.1, Burst: 1})
	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, "example.com"))

	cctx, cancel := context.WithTimeout(ctx, 5*time.Millisecond)
	defer cancel()
	err := l.Wait(cctx, "example.com")
	assert.Error(t, err)
}

func TestDomainsAreIndependent(t *testing.T) {
	l := New(Config{RequestsPerSecond: 1, Burst: 1})
	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, "a.com"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "b.com"))
	assert.Less(t, time.Since(start), 10*time.Millisecond)
}
