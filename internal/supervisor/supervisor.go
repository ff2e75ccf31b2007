package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aescanero/dago-stream-watcher/internal/events"
	"github.com/aescanero/dago-stream-watcher/internal/source"
	"github.com/aescanero/dago-stream-watcher/internal/worker"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultCheckCycle is the interval between liveness passes
	DefaultCheckCycle = 10 * time.Second

	// DefaultShutdownGrace bounds the wait for workers to stop on shutdown
	DefaultShutdownGrace = 5 * time.Second

	publishTimeout = 5 * time.Second
)

// ErrClosed is returned by Register after Shutdown
var ErrClosed = errors.New("supervisor shut down")

// Starter constructs workers. *worker.Factory implements it.
type Starter interface {
	Start(name string, cfg worker.Config) (worker.Worker, error)
}

// Options configures a Supervisor
type Options struct {
	CheckCycle    time.Duration
	ShutdownGrace time.Duration
	// InstanceID identifies this supervisor in events
	InstanceID string
}

// Supervisor registers workers and rebuilds the dead ones
type Supervisor struct {
	registry *Registry
	starter  Starter
	opts     Options
	sink     events.Sink
	logger   *zap.Logger

	startedAt time.Time
	started   atomic.Bool
	running   atomic.Bool
	closed    atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a supervisor. A nil sink discards events.
func New(registry *Registry, starter Starter, opts Options, sink events.Sink, logger *zap.Logger) *Supervisor {
	if opts.CheckCycle <= 0 {
		opts.CheckCycle = DefaultCheckCycle
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = DefaultShutdownGrace
	}
	if sink == nil {
		sink = events.Discard
	}
	if registry == nil {
		registry = NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		registry: registry,
		starter:  starter,
		opts:     opts,
		sink:     sink,
		logger:   logger,

		startedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Registry returns the supervisor's registry
func (s *Supervisor) Registry() *Registry {
	return s.registry
}

// Running reports whether the control loop is active
func (s *Supervisor) Running() bool {
	return s.running.Load()
}

// StartedAt returns when the supervisor was created
func (s *Supervisor) StartedAt() time.Time {
	return s.startedAt
}

// Start launches the control loop
func (s *Supervisor) Start() {
	s.startOnce.Do(func() {
		s.started.Store(true)
		s.running.Store(true)

		s.logger.Info("starting supervisor", zap.Duration("check_cycle", s.opts.CheckCycle))
		go s.loop(s.ctx)
	})
}

func (s *Supervisor) loop(ctx context.Context) {
	defer close(s.done)
	defer s.running.Store(false)

	ticker := time.NewTicker(s.opts.CheckCycle)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("supervisor loop stopped")
			return
		case <-ticker.C:
			s.rebuildDead()
		}
	}
}

// Register constructs a worker for cfg and stores it under name, replacing
// any existing entry without stopping its worker.
//
// If the source fails to open the entry is still stored, so the control loop
// retries it, and the *source.OpenError is returned with the failed worker.
// A configuration the factory rejects is not stored.
func (s *Supervisor) Register(name string, cfg worker.Config) (worker.Worker, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if name == "" {
		return nil, fmt.Errorf("worker name is required")
	}

	w, err := s.starter.Start(name, cfg)
	if w == nil {
		if err == nil {
			err = fmt.Errorf("starter returned no worker for %q", name)
		}
		return nil, err
	}

	var replaced, closed bool
	now := time.Now()
	s.registry.locked(func(entries map[string]*Entry) {
		if closed = s.closed.Load(); closed {
			return
		}
		_, replaced = entries[name]
		entries[name] = &Entry{
			Name:         name,
			Config:       cfg,
			Worker:       w,
			LastError:    err,
			RegisteredAt: now,
		}
	})

	if closed {
		w.Exit()
		return nil, ErrClosed
	}
	if replaced {
		s.logger.Warn("worker name already registered, previous worker left running", zap.String("worker", name))
	}
	if err != nil {
		s.logger.Warn("registered worker failed to start, will retry",
			zap.String("worker", name),
			zap.Duration("check_cycle", s.opts.CheckCycle),
			zap.Error(err),
		)
	}

	s.publish(s.event(events.Registered, name, w, cfg).WithError(err))
	return w, err
}

// Remove stops and deletes the worker registered under name. It is a no-op when name is absent.
func (s *Supervisor) Remove(name string) {
	var removed *Entry
	s.registry.locked(func(entries map[string]*Entry) {
		e, ok := entries[name]
		if !ok {
			return
		}
		e.Worker.Exit()
		delete(entries, name)
		removed = e
	})

	if removed == nil {
		return
	}

	s.logger.Info("worker removed", zap.String("worker", name))
	s.publish(s.event(events.Removed, name, removed.Worker, removed.Config))
}

// Get returns the current worker registered under name
func (s *Supervisor) Get(name string) (worker.Worker, bool) {
	e, ok := s.registry.Get(name)
	if !ok {
		return nil, false
	}
	return e.Worker, true
}

// rebuildDead replaces every dead worker with a fresh one built from its
// stored configuration. Dead entries are collected under the registry lock;
// each replacement is started outside it and installed only if the entry
// still holds the dead worker, so Register, Remove and Shutdown never wait
// on a slow source open.
func (s *Supervisor) rebuildDead() {
	type dead struct {
		name  string
		entry *Entry
		old   worker.Worker
		cfg   worker.Config
	}

	var pass []dead
	s.registry.locked(func(entries map[string]*Entry) {
		for name, e := range entries {
			if !e.Worker.Alive() {
				pass = append(pass, dead{name: name, entry: e, old: e.Worker, cfg: e.Config})
			}
		}
	})

	for _, d := range pass {
		if s.ctx.Err() != nil {
			return
		}
		if ev, ok := s.rebuild(d.name, d.entry, d.old, d.cfg); ok {
			s.publish(ev)
		}
	}
}

// rebuild starts a replacement for old and installs it into entry. It
// reports false when the entry was removed, replaced or shut down meanwhile.
func (s *Supervisor) rebuild(name string, entry *Entry, old worker.Worker, cfg worker.Config) (events.Event, bool) {
	s.logger.Info("rebuilding worker",
		zap.String("worker", name),
		zap.String("state", old.State().String()),
		zap.NamedError("cause", old.Err()),
	)

	old.Exit()
	w, err := s.starter.Start(name, cfg)

	var (
		current  bool
		rebuilds uint64
	)
	s.registry.locked(func(entries map[string]*Entry) {
		e, ok := entries[name]
		current = ok && e == entry && e.Worker == old && !s.closed.Load()
		if !current {
			return
		}
		e.Rebuilds++
		e.RebuiltAt = time.Now()
		e.LastError = err
		if w != nil {
			e.Worker = w
		}
		rebuilds = e.Rebuilds
	})

	if !current {
		if w != nil {
			w.Exit()
		}
		s.logger.Info("discarding rebuilt worker, entry changed during rebuild", zap.String("worker", name))
		return events.Event{}, false
	}

	if w == nil {
		s.logger.Error("failed to rebuild worker", zap.String("worker", name), zap.Error(err))
		ev := s.event(events.RebuildFailed, name, old, cfg).WithError(err)
		ev.Rebuilds = rebuilds
		return ev, true
	}

	typ := events.Rebuilt
	if err != nil {
		typ = events.RebuildFailed
	}
	ev := s.event(typ, name, w, cfg).WithError(err)
	ev.Rebuilds = rebuilds
	return ev, true
}

// Shutdown stops the control loop and terminates every registered worker.
// It waits for the loop to finish its current pass or for ctx, whichever
// comes first, then waits up to the shutdown grace for each worker to stop
// regardless of ctx.
// Thread-isolated workers blocked in a read may outlive it; every such worker
// is reported in the returned error.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		s.closed.Store(true)
		s.cancel()
		if s.started.Load() {
			select {
			case <-s.done:
			case <-ctx.Done():
				s.logger.Warn("control loop still busy, terminating workers anyway")
			}
		}

		var entries []*Entry
		s.registry.locked(func(m map[string]*Entry) {
			for name, e := range m {
				entries = append(entries, e)
				delete(m, name)
			}
		})

		s.logger.Info("shutting down supervisor", zap.Int("workers", len(entries)))

		errs := make([]error, len(entries))
		var g errgroup.Group
		for i, e := range entries {
			i, e := i, e
			g.Go(func() error {
				errs[i] = s.terminate(e)
				return nil
			})
		}
		_ = g.Wait()
		err = errors.Join(errs...)

		s.publish(s.event(events.Shutdown, "", nil, worker.Config{}).WithError(err))
	})
	return err
}

func (s *Supervisor) terminate(e *Entry) error {
	e.Worker.Exit()

	timer := time.NewTimer(s.opts.ShutdownGrace)
	defer timer.Stop()

	select {
	case <-e.Worker.Done():
		return nil
	case <-timer.C:
	}

	s.logger.Warn("worker still alive after shutdown grace",
		zap.String("worker", e.Name),
		zap.String("mode", string(e.Worker.Mode())),
		zap.Duration("grace", s.opts.ShutdownGrace),
	)
	return fmt.Errorf("worker %q still alive after %s", e.Name, s.opts.ShutdownGrace)
}

func (s *Supervisor) event(t events.Type, name string, w worker.Worker, cfg worker.Config) events.Event {
	ev := events.New(t, name)
	ev.Supervisor = s.opts.InstanceID
	if w != nil {
		ev.InstanceID = w.ID()
		ev.Mode = string(w.Mode())
	}
	if cfg.Descriptor != "" {
		ev.Source = source.Redact(cfg.Descriptor)
	}
	return ev
}

// publish delivers an event outside the registry lock
func (s *Supervisor) publish(ev events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := s.sink.Publish(ctx, ev); err != nil {
		s.logger.Warn("failed to publish event", zap.String("event", string(ev.Type)), zap.Error(err))
	}
}
