package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPool(t *testing.T) {
	p, err := NewPool("test", GradingPool, GradingPoolConfig(4))
	require.NoError(t, err)
	defer p.Release()

	assert.Equal(t, "test", p.Name())
	assert.Equal(t, GradingPool, p.Type())
	assert.Equal(t, 4, p.Cap())
}

func TestNewPool_InvalidCapacity(t *testing.T) {
	_, err := NewPool("bad", IngestPool, IngestPoolConfig(0))
	assert.Error(t, err)
}

func TestPool_ForEachPreservesIndex(t *testing.T) {
	p, err := NewPool("test", GradingPool, GradingPoolConfig(3))
	require.NoError(t, err)
	defer p.Release()

	out := make([]int, 20)
	errs := p.ForEach(context.Background(), len(out), func(_ context.Context, i int) error {
		time.Sleep(time.Millisecond)
		out[i] = i * i
		if i%5 == 0 {
			return errors.New("boom")
		}
		return nil
	})

	for i := range out {
		assert.Equal(t, i*i, out[i])
		if i%5 == 0 {
			assert.Error(t, errs[i])
		} else {
			assert.NoError(t, errs[i])
		}
	}
}

func TestPool_ForEachBoundsConcurrency(t *testing.T) {
	p, err := NewPool("test", GradingPool, GradingPoolConfig(2))
	require.NoError(t, err)
	defer p.Release()

	var running, peak atomic.Int32
	p.ForEach(context.Background(), 10, func(_ context.Context, _ int) error {
		cur := running.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		return nil
	})

	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestPool_ForEachRecoversPanic(t *testing.T) {
	p, err := NewPool("test", GradingPool, GradingPoolConfig(2))
	require.NoError(t, err)
	defer p.Release()

	errs := p.ForEach(context.Background(), 3, func(_ context.Context, i int) error {
		if i == 1 {
			panic("bad chunk")
		}
		return nil
	})

	assert.NoError(t, errs[0])
	assert.ErrorContains(t, errs[1], "panicked")
	assert.NoError(t, errs[2])
	assert.Equal(t, int64(1), p.Stats().PanicRecovered)
}

func TestPool_ForEachCancelled(t *testing.T) {
	p, err := NewPool("test", GradingPool, GradingPoolConfig(2))
	require.NoError(t, err)
	defer p.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	errs := p.ForEach(ctx, 5, func(_ context.Context, _ int) error {
		calls.Add(1)
		return nil
	})

	assert.Equal(t, int32(0), calls.Load())
	for _, e := range errs {
		assert.ErrorIs(t, e, context.Canceled)
	}
}

func TestPool_ForEachAfterRelease(t *testing.T) {
	p, err := NewPool("test", IngestPool, IngestPoolConfig(2))
	require.NoError(t, err)
	p.Release()

	var calls atomic.Int32
	p.ForEach(context.Background(), 4, func(_ context.Context, _ int) error {
		calls.Add(1)
		return nil
	})
	assert.Equal(t, int32(4), calls.Load())
	assert.ErrorIs(t, p.Submit(func() {}), ErrPoolClosed)
}
