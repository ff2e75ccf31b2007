package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/aescanero/dago-stream-watcher/internal/callback"
	"github.com/aescanero/dago-stream-watcher/internal/check"
	"github.com/aescanero/dago-stream-watcher/internal/dispatch"
	"github.com/aescanero/dago-stream-watcher/internal/source"
	"go.uber.org/zap"
)

// ingest is the ingestion loop shared by both isolation modes
type ingest struct {
	cfg    Config
	src    *closeOnce
	image  dispatch.Func
	check  check.Func
	pool   *dispatch.Dispatcher
	logger *zap.Logger

	frames        atomic.Uint64
	checkFailures atomic.Uint64
}

// newIngest resolves callbacks and opens the source. The returned error is a
// *source.OpenError when only the open failed.
func newIngest(name string, cfg Config, deps Deps, logger *zap.Logger) (*ingest, error) {
	env := callback.Env{Worker: name, Options: cfg.Options, Logger: logger}

	image := cfg.ImageFunc
	if image == nil {
		fn, err := deps.Catalog.Image(cfg.ImageCallback, env)
		if err != nil {
			return nil, err
		}
		image = fn
	}

	chk := cfg.CheckFunc
	if chk == nil {
		fn, err := deps.Catalog.Check(cfg.CheckCallback, env)
		if err != nil {
			return nil, err
		}
		chk = fn
	}

	src, err := deps.Opener.Open(cfg.Descriptor, source.Options{
		Width:       cfg.FrameWidth,
		Height:      cfg.FrameHeight,
		OpenTimeout: cfg.OpenTimeout,
	})
	if err != nil {
		var openErr *source.OpenError
		if !errors.As(err, &openErr) {
			err = &source.OpenError{Descriptor: cfg.Descriptor, Err: err}
		}
		return nil, err
	}

	return &ingest{
		cfg:    cfg,
		src:    &closeOnce{Source: src},
		image:  image,
		check:  chk,
		pool:   dispatch.New(dispatch.Options{PoolSize: cfg.PoolSize, QueueSize: cfg.QueueSize}, logger),
		logger: logger,
	}, nil
}

// run reads frames until the source closes, a read fails, a check fails under
// the restart policy, or ctx is cancelled. The token is only observed between
// frames.
func (l *ingest) run(ctx context.Context) error {
	imageEvery := uint64(l.cfg.ImageInterval)
	checkEvery := uint64(l.cfg.CheckInterval)

	var counter uint64
	for l.src.IsOpen() {
		if err := ctx.Err(); err != nil {
			return err
		}

		frame, err := l.src.ReadFrame()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			var readErr *source.ReadError
			if !errors.As(err, &readErr) {
				err = &source.ReadError{Seq: counter, Err: err}
			}
			return err
		}

		if counter%imageEvery == 0 {
			// rejections are counted by the dispatcher
			_ = l.pool.Submit(l.image, frame)
		}

		if l.cfg.CheckEnabled && counter%checkEvery == 0 {
			if err := l.runCheck(counter, frame); err != nil {
				return err
			}
		}

		counter++
		l.frames.Store(counter)
	}

	return nil
}

func (l *ingest) runCheck(counter uint64, frame source.Frame) error {
	if safeCheck(l.check, frame, l.logger) {
		return nil
	}

	l.checkFailures.Add(1)
	switch l.cfg.OnCheckFail {
	case check.PolicyIgnore:
	case check.PolicyRestart:
		return fmt.Errorf("%w at frame %d", check.ErrCheckFailed, counter)
	default:
		l.logger.Warn("frame check failed", zap.Uint64("frame", counter))
	}
	return nil
}

// safeCheck treats a panicking predicate as a failed check
func safeCheck(fn check.Func, frame source.Frame, logger *zap.Logger) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("check callback panicked", zap.Any("panic", r), zap.Uint64("seq", frame.Seq))
			ok = false
		}
	}()
	return fn(frame)
}

func (l *ingest) stats() (frames, checkFailures uint64, ds dispatch.Stats) {
	return l.frames.Load(), l.checkFailures.Load(), l.pool.Stats()
}

// closeOnce lets Exit and the loop both close the source
type closeOnce struct {
	source.Source
	once sync.Once
	err  error
}

func (c *closeOnce) Close() error {
	c.once.Do(func() {
		c.err = c.Source.Close()
	})
	return c.err
}
