package dispatch

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aescanero/dago-stream-watcher/internal/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSubmitRunsCallbacks(t *testing.T) {
	d := New(Options{PoolSize: 4, QueueSize: 16}, zap.NewNop())

	var count atomic.Int64
	for i := 0; i < 10; i++ {
		require.NoError(t, d.Submit(func(source.Frame) error {
			count.Add(1)
			return nil
		}, source.Frame{Seq: uint64(i)}))
	}
	d.Close()

	assert.Equal(t, int64(10), count.Load())
	stats := d.Stats()
	assert.Equal(t, uint64(10), stats.Submitted)
	assert.Equal(t, uint64(10), stats.Completed)
}

func TestConcurrencyIsBounded(t *testing.T) {
	d := New(Options{PoolSize: 2, QueueSize: 10}, zap.NewNop())

	var running, peak atomic.Int64
	release := make(chan struct{})
	for i := 0; i < 6; i++ {
		require.NoError(t, d.Submit(func(source.Frame) error {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release
			running.Add(-1)
			return nil
		}, source.Frame{}))
	}

	assert.Eventually(t, func() bool { return running.Load() == 2 }, time.Second, 5*time.Millisecond)
	close(release)
	d.Close()

	assert.Equal(t, int64(2), peak.Load())
}

func TestSubmitRejectsWhenSaturated(t *testing.T) {
	d := New(Options{PoolSize: 1, QueueSize: 1}, zap.NewNop())
	defer d.Abort()

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	defer close(release)

	block := func(source.Frame) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	}

	require.NoError(t, d.Submit(block, source.Frame{Seq: 0}))
	<-started
	require.NoError(t, d.Submit(block, source.Frame{Seq: 1}))

	err := d.Submit(block, source.Frame{Seq: 2})
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, uint64(1), d.Stats().Rejected)
}

func TestFailuresAreIsolated(t *testing.T) {
	d := New(Options{PoolSize: 2, QueueSize: 8}, zap.NewNop())

	var ok atomic.Int64
	require.NoError(t, d.Submit(func(source.Frame) error { panic("boom") }, source.Frame{Seq: 1}))
	require.NoError(t, d.Submit(func(source.Frame) error { return errors.New("bad frame") }, source.Frame{Seq: 2}))
	require.NoError(t, d.Submit(func(source.Frame) error {
		ok.Add(1)
		return nil
	}, source.Frame{Seq: 3}))
	d.Close()

	stats := d.Stats()
	assert.Equal(t, uint64(2), stats.Failed)
	assert.Equal(t, uint64(1), stats.Completed)
	assert.Equal(t, int64(1), ok.Load())
}

func TestSafeCallWrapsPanic(t *testing.T) {
	err := safeCall(job{fn: func(source.Frame) error { panic("kaboom") }, frame: source.Frame{Seq: 7}})

	var cbErr *CallbackError
	require.ErrorAs(t, err, &cbErr)
	assert.True(t, cbErr.Panic)
	assert.Equal(t, uint64(7), cbErr.Seq)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestSubmitAfterClose(t *testing.T) {
	d := New(Options{}, zap.NewNop())
	d.Close()
	d.Close()

	err := d.Submit(func(source.Frame) error { return nil }, source.Frame{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestConcurrentSubmitAndClose(t *testing.T) {
	d := New(Options{PoolSize: 3, QueueSize: 3}, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = d.Submit(func(source.Frame) error { return nil }, source.Frame{})
			}
		}()
	}
	d.Close()
	wg.Wait()

	stats := d.Stats()
	assert.Equal(t, stats.Submitted, stats.Completed)
}

func TestAbortDropsQueuedCallbacks(t *testing.T) {
	d := New(Options{PoolSize: 1, QueueSize: 5}, zap.NewNop())

	var ran atomic.Int64
	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, d.Submit(func(source.Frame) error {
		ran.Add(1)
		close(started)
		<-release
		return nil
	}, source.Frame{Seq: 0}))
	<-started

	for i := 1; i <= 5; i++ {
		require.NoError(t, d.Submit(func(source.Frame) error {
			ran.Add(1)
			return nil
		}, source.Frame{Seq: uint64(i)}))
	}

	d.Abort()
	close(release)

	assert.Eventually(t, func() bool {
		stats := d.Stats()
		return stats.Dropped == 5 && stats.Completed == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), ran.Load())

	err := d.Submit(func(source.Frame) error { return nil }, source.Frame{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestQueueSlotsAreReleased(t *testing.T) {
	d := New(Options{PoolSize: 1, QueueSize: 0}, zap.NewNop())
	defer d.Close()

	for i := 0; i < 20; i++ {
		done := make(chan struct{})
		require.Eventually(t, func() bool {
			return d.Submit(func(source.Frame) error {
				close(done)
				return nil
			}, source.Frame{Seq: uint64(i)}) == nil
		}, time.Second, time.Millisecond)
		<-done
	}
	assert.Eventually(t, func() bool { return d.Stats().Completed == 20 }, time.Second, 5*time.Millisecond)
}
