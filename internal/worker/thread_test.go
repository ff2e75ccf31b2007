package worker

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aescanero/dago-stream-watcher/internal/callback"
	"github.com/aescanero/dago-stream-watcher/internal/check"
	"github.com/aescanero/dago-stream-watcher/internal/dispatch"
	"github.com/aescanero/dago-stream-watcher/internal/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func threadDeps() Deps {
	return Deps{Logger: zap.NewNop()}
}

func counting(n *atomic.Int64) func(source.Frame) error {
	return func(source.Frame) error {
		n.Add(1)
		return nil
	}
}

func waitDead(t *testing.T, w Worker) {
	t.Helper()
	select {
	case <-w.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("worker %s still alive", w.Name())
	}
	assert.False(t, w.Alive())
}

// blockingSource blocks every read until released or, if it honours Close, closed
type blockingSource struct {
	honourClose bool
	release     chan struct{}
	closed      chan struct{}
	once        sync.Once
}

func newBlockingSource(honourClose bool) *blockingSource {
	return &blockingSource{
		honourClose: honourClose,
		release:     make(chan struct{}),
		closed:      make(chan struct{}),
	}
}

func (s *blockingSource) IsOpen() bool { return true }

func (s *blockingSource) ReadFrame() (source.Frame, error) {
	closed := s.closed
	if !s.honourClose {
		closed = nil
	}
	select {
	case <-s.release:
		return source.Frame{}, nil
	case <-closed:
		return source.Frame{}, &source.ReadError{Err: source.ErrClosed}
	}
}

func (s *blockingSource) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func openerFor(src source.Source) source.Opener {
	return source.OpenerFunc(func(string, source.Options) (source.Source, error) {
		return src, nil
	})
}

func TestThreadWorkerImageCallbackCount(t *testing.T) {
	var calls atomic.Int64
	w, err := StartThread("cam", Config{
		Descriptor:    "test://pattern?frames=25",
		ImageFunc:     counting(&calls),
		ImageInterval: 10,
	}, threadDeps())
	require.NoError(t, err)

	waitDead(t, w)
	assert.Equal(t, StateStopped, w.State())
	assert.NoError(t, w.Err())
	assert.Equal(t, uint64(25), w.Stats().Frames)

	// frames 0, 10 and 20
	assert.Eventually(t, func() bool { return calls.Load() == 3 }, 2*time.Second, 10*time.Millisecond)
}

func TestThreadWorkerEveryFrame(t *testing.T) {
	var calls atomic.Int64
	w, err := StartThread("cam", Config{
		Descriptor:    "test://pattern?frames=7",
		ImageFunc:     counting(&calls),
		ImageInterval: 1,
	}, threadDeps())
	require.NoError(t, err)

	waitDead(t, w)
	assert.Eventually(t, func() bool { return calls.Load() == 7 }, 2*time.Second, 10*time.Millisecond)
}

func TestThreadWorkerAliveAfterOpen(t *testing.T) {
	w, err := StartThread("cam", Config{Descriptor: "test://pattern?interval=5ms"}, threadDeps())
	require.NoError(t, err)
	defer w.Exit()

	assert.True(t, w.Alive())
	assert.Equal(t, StateRunning, w.State())
	assert.NotEmpty(t, w.ID())
	assert.Equal(t, ModeThread, w.Mode())
}

func TestThreadWorkerOpenFailure(t *testing.T) {
	w, err := StartThread("cam", Config{Descriptor: "test://pattern?fail_open=true"}, threadDeps())
	require.Error(t, err)
	require.NotNil(t, w)

	var openErr *source.OpenError
	assert.ErrorAs(t, err, &openErr)
	assert.False(t, w.Alive())
	assert.Equal(t, StateFailed, w.State())
	assert.Equal(t, err, w.Err())

	// exit on a dead worker is harmless
	w.Exit()
}

func TestThreadWorkerReadFailure(t *testing.T) {
	w, err := StartThread("cam", Config{Descriptor: "test://pattern?fail_after=5"}, threadDeps())
	require.NoError(t, err)

	waitDead(t, w)
	assert.Equal(t, StateFailed, w.State())

	var readErr *source.ReadError
	require.ErrorAs(t, w.Err(), &readErr)
	assert.ErrorIs(t, w.Err(), source.ErrNoData)
	assert.Equal(t, uint64(5), w.Stats().Frames)
}

func TestThreadWorkerExit(t *testing.T) {
	w, err := StartThread("cam", Config{Descriptor: "test://pattern?interval=5ms"}, threadDeps())
	require.NoError(t, err)

	w.Exit()
	waitDead(t, w)
	assert.Equal(t, StateStopped, w.State())
	assert.NoError(t, w.Err())
}

func TestThreadWorkerExitUnblocksRead(t *testing.T) {
	src := newBlockingSource(true)
	deps := threadDeps()
	deps.Opener = openerFor(src)

	w, err := StartThread("cam", Config{Descriptor: "fake://"}, deps)
	require.NoError(t, err)

	w.Exit()
	waitDead(t, w)
	assert.Equal(t, StateStopped, w.State())
}

func TestThreadWorkerExitIsBestEffort(t *testing.T) {
	src := newBlockingSource(false)
	deps := threadDeps()
	deps.Opener = openerFor(src)

	w, err := StartThread("cam", Config{Descriptor: "fake://"}, deps)
	require.NoError(t, err)

	w.Exit()
	time.Sleep(50 * time.Millisecond)
	assert.True(t, w.Alive(), "a read that ignores Close keeps the worker alive")

	close(src.release)
	waitDead(t, w)
	assert.Equal(t, StateStopped, w.State())
}

func TestThreadWorkerCallbackFailuresAreIsolated(t *testing.T) {
	var calls atomic.Int64
	w, err := StartThread("cam", Config{
		Descriptor:    "test://pattern?frames=30",
		ImageInterval: 1,
		ImageFunc: func(frame source.Frame) error {
			calls.Add(1)
			if frame.Seq%2 == 0 {
				panic("bad frame")
			}
			return errors.New("callback error")
		},
	}, threadDeps())
	require.NoError(t, err)

	waitDead(t, w)
	assert.Equal(t, StateStopped, w.State())
	assert.Equal(t, uint64(30), w.Stats().Frames)
	assert.Eventually(t, func() bool { return w.Stats().Dispatch.Failed == 30 }, 2*time.Second, 10*time.Millisecond)
}

func TestThreadWorkerSlowCallbacksDoNotStallIngestion(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	w, err := StartThread("cam", Config{
		Descriptor:    "test://pattern?frames=50",
		ImageInterval: 1,
		PoolSize:      1,
		QueueSize:     1,
		ImageFunc: func(source.Frame) error {
			<-release
			return nil
		},
	}, threadDeps())
	require.NoError(t, err)

	waitDead(t, w)
	stats := w.Stats()
	assert.Equal(t, uint64(50), stats.Frames)
	assert.Equal(t, uint64(50), stats.Dispatch.Submitted+stats.Dispatch.Rejected)
	assert.GreaterOrEqual(t, stats.Dispatch.Rejected, uint64(48))
}

func TestThreadWorkerCheckPolicies(t *testing.T) {
	never := func(source.Frame) bool { return false }

	t.Run("warn keeps running", func(t *testing.T) {
		w, err := StartThread("cam", Config{
			Descriptor:    "test://pattern?frames=25",
			CheckEnabled:  true,
			CheckFunc:     never,
			CheckInterval: 10,
		}, threadDeps())
		require.NoError(t, err)

		waitDead(t, w)
		assert.Equal(t, StateStopped, w.State())
		assert.Equal(t, uint64(3), w.Stats().CheckFailures)
	})

	t.Run("restart fails the worker", func(t *testing.T) {
		w, err := StartThread("cam", Config{
			Descriptor:    "test://pattern?frames=25",
			CheckEnabled:  true,
			CheckFunc:     never,
			CheckInterval: 10,
			OnCheckFail:   check.PolicyRestart,
		}, threadDeps())
		require.NoError(t, err)

		waitDead(t, w)
		assert.Equal(t, StateFailed, w.State())
		assert.ErrorIs(t, w.Err(), check.ErrCheckFailed)
		assert.Equal(t, uint64(0), w.Stats().Frames)
	})

	t.Run("disabled checks never run", func(t *testing.T) {
		var calls atomic.Int64
		w, err := StartThread("cam", Config{
			Descriptor: "test://pattern?frames=25",
			CheckFunc: func(source.Frame) bool {
				calls.Add(1)
				return false
			},
		}, threadDeps())
		require.NoError(t, err)

		waitDead(t, w)
		assert.Equal(t, StateStopped, w.State())
		assert.Zero(t, calls.Load())
	})

	t.Run("panicking check counts as failure", func(t *testing.T) {
		w, err := StartThread("cam", Config{
			Descriptor:    "test://pattern?frames=5",
			CheckEnabled:  true,
			CheckInterval: 1,
			CheckFunc:     func(source.Frame) bool { panic("boom") },
			OnCheckFail:   check.PolicyIgnore,
		}, threadDeps())
		require.NoError(t, err)

		waitDead(t, w)
		assert.Equal(t, StateStopped, w.State())
		assert.Equal(t, uint64(5), w.Stats().CheckFailures)
	})
}

func TestThreadWorkerNamedCallbacks(t *testing.T) {
	var calls atomic.Int64
	catalog := callback.NewCatalog()
	callback.RegisterBuiltins(catalog)
	catalog.RegisterImage("count", func(callback.Env) (dispatch.Func, error) {
		return counting(&calls), nil
	})

	deps := threadDeps()
	deps.Catalog = catalog

	w, err := StartThread("cam", Config{
		Descriptor:    "test://pattern?frames=4",
		ImageCallback: "count",
		ImageInterval: 2,
		CheckCallback: "hamming",
		CheckEnabled:  true,
		CheckInterval: 1,
	}, deps)
	require.NoError(t, err)

	waitDead(t, w)
	assert.Equal(t, StateStopped, w.State())
	assert.Zero(t, w.Stats().CheckFailures)
	assert.Eventually(t, func() bool { return calls.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestThreadWorkerUnknownCallback(t *testing.T) {
	w, err := StartThread("cam", Config{
		Descriptor:    "test://pattern",
		ImageCallback: "missing",
	}, threadDeps())
	assert.Nil(t, w)
	assert.ErrorIs(t, err, callback.ErrUnknownCallback)
}

func TestThreadWorkerNameOverride(t *testing.T) {
	w, err := StartThread("cam", Config{Descriptor: "test://pattern?frames=1", Name: "front-door"}, threadDeps())
	require.NoError(t, err)
	waitDead(t, w)
	assert.Equal(t, "front-door", w.Name())
}
