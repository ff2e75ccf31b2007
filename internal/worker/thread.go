package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ThreadWorker runs the ingestion loop on a goroutine
type ThreadWorker struct {
	id        string
	name      string
	cfg       Config
	logger    *zap.Logger
	startedAt time.Time

	status *status
	ingest *ingest
	cancel context.CancelFunc
	once   sync.Once
}

// StartThread opens the source and starts the loop. See Factory.Start for the
// error contract.
func StartThread(name string, cfg Config, deps Deps) (*ThreadWorker, error) {
	return startThread(uuid.New().String(), name, cfg, deps)
}

func startThread(id, name string, cfg Config, deps Deps) (*ThreadWorker, error) {
	cfg = cfg.WithDefaults()
	deps = deps.withDefaults()

	if id == "" {
		id = uuid.New().String()
	}
	w := &ThreadWorker{
		id:        id,
		name:      cfg.DisplayName(name),
		cfg:       cfg,
		startedAt: time.Now(),
		status:    newStatus(),
		cancel:    func() {},
	}
	w.logger = deps.Logger.With(
		zap.String("worker", w.name),
		zap.String("instance_id", id),
		zap.String("mode", string(ModeThread)),
	)

	ing, err := newIngest(w.name, cfg, deps, w.logger)
	if err != nil {
		if !IsOpenError(err) {
			return nil, err
		}
		w.logger.Warn("failed to open source", zap.Error(err))
		w.status.finish(StateFailed, err)
		return w, err
	}
	w.ingest = ing

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.status.start()

	go w.run(ctx)

	w.logger.Info("worker started")
	return w, nil
}

func (w *ThreadWorker) run(ctx context.Context) {
	err := w.ingest.run(ctx)
	_ = w.ingest.src.Close()

	state := StateStopped
	switch {
	case errors.Is(err, context.Canceled):
		err = nil
		w.ingest.pool.Abort()
	case err != nil:
		state = StateFailed
		w.logger.Warn("worker failed", zap.Error(err), zap.Uint64("frames", w.ingest.frames.Load()))
		go w.ingest.pool.Close()
	default:
		w.logger.Info("source closed", zap.Uint64("frames", w.ingest.frames.Load()))
		go w.ingest.pool.Close()
	}

	w.status.finish(state, err)
}

// ID returns the instance id
func (w *ThreadWorker) ID() string { return w.id }

// Name returns the worker name
func (w *ThreadWorker) Name() string { return w.name }

// Mode returns ModeThread
func (w *ThreadWorker) Mode() Mode { return ModeThread }

// Alive reports whether the loop goroutine is still running
func (w *ThreadWorker) Alive() bool { return w.status.alive() }

// State returns the lifecycle state
func (w *ThreadWorker) State() State { return w.status.get() }

// Err returns the error that ended the worker
func (w *ThreadWorker) Err() error { return w.status.error() }

// Done is closed when the loop returns
func (w *ThreadWorker) Done() <-chan struct{} { return w.status.done }

// Stats returns the current counters
func (w *ThreadWorker) Stats() Stats {
	s := Stats{
		InstanceID: w.id,
		State:      w.status.get(),
		StartedAt:  w.startedAt,
	}
	if w.ingest != nil {
		s.Frames, s.CheckFailures, s.Dispatch = w.ingest.stats()
	}
	return s
}

// Exit cancels the loop and closes the source. The loop observes the
// cancellation at its next iteration boundary or when the blocked read returns.
func (w *ThreadWorker) Exit() {
	w.once.Do(func() {
		if !w.status.alive() {
			return
		}
		w.logger.Info("stopping worker")
		w.cancel()
		if w.ingest != nil {
			_ = w.ingest.src.Close()
		}
	})
}
