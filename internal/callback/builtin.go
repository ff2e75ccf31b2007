package callback

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/aescanero/dago-stream-watcher/internal/check"
	"github.com/aescanero/dago-stream-watcher/internal/dispatch"
	"github.com/aescanero/dago-stream-watcher/internal/source"
	"github.com/disintegration/imaging"
	"go.uber.org/zap"
)

// Noop is the image callback used when none is configured
func Noop(source.Frame) error { return nil }

// RegisterBuiltins adds the built-in callbacks to c.
//
// Image callbacks:
//   - noop
//   - log       logs frame metadata at debug level
//   - snapshot  writes a jpeg thumbnail to options.dir (options.width, default 320)
//
// Check callbacks:
//   - always
//   - hamming   options.threshold (default 0.001)
//   - expr      options.expression (CEL)
func RegisterBuiltins(c *Catalog) {
	c.RegisterImage("noop", func(Env) (dispatch.Func, error) {
		return Noop, nil
	})
	c.RegisterImage("log", logFactory)
	c.RegisterImage("snapshot", snapshotFactory)

	c.RegisterCheck("always", func(Env) (check.Func, error) {
		return check.Always, nil
	})
	c.RegisterCheck("hamming", hammingFactory)
	c.RegisterCheck("expr", func(env Env) (check.Func, error) {
		e, err := check.NewExpression(env.Option("expression", ""), env.Logger)
		if err != nil {
			return nil, err
		}
		return e.Check, nil
	})
}

func logFactory(env Env) (dispatch.Func, error) {
	logger := env.Logger.With(zap.String("callback", "log"))
	return func(frame source.Frame) error {
		logger.Debug("frame",
			zap.Uint64("seq", frame.Seq),
			zap.Int("width", frame.Width()),
			zap.Int("height", frame.Height()),
			zap.Time("timestamp", frame.Timestamp),
		)
		return nil
	}, nil
}

func snapshotFactory(env Env) (dispatch.Func, error) {
	dir := env.Option("dir", "")
	if dir == "" {
		return nil, fmt.Errorf("snapshot requires options.dir")
	}
	width, err := strconv.Atoi(env.Option("width", "320"))
	if err != nil || width <= 0 {
		return nil, fmt.Errorf("invalid snapshot width %q", env.Option("width", ""))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot dir: %w", err)
	}

	return func(frame source.Frame) error {
		if frame.Image == nil {
			return source.ErrNoData
		}
		thumb := imaging.Resize(frame.Image, width, 0, imaging.Linear)
		path := filepath.Join(dir, fmt.Sprintf("%s-%08d.jpg", env.Worker, frame.Seq))
		if err := imaging.Save(thumb, path, imaging.JPEGQuality(85)); err != nil {
			return fmt.Errorf("failed to save snapshot: %w", err)
		}
		return nil
	}, nil
}

func hammingFactory(env Env) (check.Func, error) {
	threshold, err := strconv.ParseFloat(env.Option("threshold", "0.001"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid hamming threshold: %w", err)
	}
	return check.NewHamming(threshold).Check, nil
}
