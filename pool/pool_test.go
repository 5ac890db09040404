package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func factory(ctx context.Context) (Page, error) {
	return struct{}{}, nil
}

func TestAcquireCreatesUpToMaxSize(t *testing.T) {
	p := New(Config{MaxSize: 2}, factory, nil, nil)
	ctx := context.Background()

	l1, err := p.Acquire(ctx, time.Second)
	require.NoError(t, err)
	l2, err := p.Acquire(ctx, time.Second)
	require.NoError(t, err)
	assert.NotNil(t, l1)
	assert.NotNil(t, l2)

	_, err = p.Acquire(ctx, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrAcquireTimeout)
}

func TestReleaseReturnsToIdle(t *testing.T) {
	p := New(Config{MaxSize: 1}, factory, nil, nil)
	ctx := context.Background()
	l, err := p.Acquire(ctx, time.Second)
	require.NoError(t, err)
	p.Release(l, false)

	l2, err := p.Acquire(ctx, time.Second)
	require.NoError(t, err)
	assert.Same(t, l, l2)
}

func TestReleaseWithErrorRetires(t *testing.T) {
	var closed []Page
	p := New(Config{MaxSize: 1}, factory, func(pg Page) { closed = append(closed, pg) }, nil)
	ctx := context.Background()
	l, err := p.Acquire(ctx, time.Second)
	require.NoError(t, err)
	p.Release(l, true)

	l2, err := p.Acquire(ctx, time.Second)
	require.NoError(t, err)
	assert.NotSame(t, l, l2, "errored lease must not be reused")
	assert.Len(t, closed, 1)
}

func TestReleaseRetiresAfterMaxReuse(t *testing.T) {
	p := New(Config{MaxSize: 1, MaxReuse: 1}, factory, nil, nil)
	ctx := context.Background()

	l, err := p.Acquire(ctx, time.Second)
	require.NoError(t, err)
	p.Release(l, false) // useCount becomes 1, not yet over MaxReuse

	l2, err := p.Acquire(ctx, time.Second)
	require.NoError(t, err)
	p.Release(l2, false) // useCount becomes 2, exceeds MaxReuse

	l3, err := p.Acquire(ctx, time.Second)
	require.NoError(t, err)
	assert.NotSame(t, l2, l3)
}

func TestStartFillsToMinSize(t *testing.T) {
	p := New(Config{MinSize: 2, MaxSize: 5, IdleScanInterval: time.Hour}, factory, nil, nil)
	require.NoError(t, p.Start(context.Background()))
	assert.Equal(t, 2, p.size())
	p.Stop()
}
