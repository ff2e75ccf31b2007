package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// childStatsInterval is how often a child reports its counters
var childStatsInterval = time.Second

// RunChild serves one process-isolated worker: it reads the start message
// from in, runs the ingestion loop and reports to out. It returns when the
// loop ends, when in reaches EOF or when ctx is cancelled.
func RunChild(ctx context.Context, in io.Reader, out io.Writer, deps Deps) error {
	deps = deps.withDefaults()

	msg, err := readMessage(in)
	if err != nil {
		return fmt.Errorf("failed to read start message: %w", err)
	}
	if msg.Type != msgStart || msg.Config == nil {
		return fmt.Errorf("unexpected first message %q", msg.Type)
	}

	cfg := *msg.Config
	cfg.Mode = ModeThread

	w, err := startThread(msg.InstanceID, msg.Name, cfg, deps)
	if err != nil {
		if w != nil {
			if werr := writeMessage(out, message{Type: msgOpenFailed, Error: err.Error()}); werr != nil {
				return errors.Join(err, werr)
			}
		}
		return err
	}

	if err := writeMessage(out, message{Type: msgReady}); err != nil {
		w.Exit()
		return err
	}

	eof := make(chan struct{})
	go func() {
		_, _ = io.Copy(io.Discard, in)
		close(eof)
	}()

	ticker := time.NewTicker(childStatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stats := w.Stats()
			if err := writeMessage(out, message{Type: msgStats, Stats: &stats}); err != nil {
				w.Exit()
				return err
			}

		case <-eof:
			w.Exit()
			return nil

		case <-ctx.Done():
			w.Exit()
			return nil

		case <-w.Done():
			stats := w.Stats()
			final := message{Type: msgExit, State: w.State(), Stats: &stats}
			if err := w.Err(); err != nil {
				final.Error = err.Error()
			}
			if err := writeMessage(out, final); err != nil {
				return err
			}
			return w.Err()
		}
	}
}
