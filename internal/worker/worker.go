package worker

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/aescanero/dago-stream-watcher/internal/callback"
	"github.com/aescanero/dago-stream-watcher/internal/dispatch"
	"github.com/aescanero/dago-stream-watcher/internal/source"
	"go.uber.org/zap"
)

// State is the lifecycle state of a worker
type State int32

const (
	StateCreated State = iota
	StateRunning
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Stats is a point-in-time view of a worker
type Stats struct {
	InstanceID    string         `json:"instance_id" msgpack:"instance_id"`
	State         State          `json:"-" msgpack:"state"`
	Frames        uint64         `json:"frames" msgpack:"frames"`
	CheckFailures uint64         `json:"check_failures" msgpack:"check_failures"`
	Dispatch      dispatch.Stats `json:"dispatch" msgpack:"dispatch"`
	StartedAt     time.Time      `json:"started_at" msgpack:"started_at"`
}

// Worker is a running ingestion unit.
//
// Alive, State, Stats and Exit are safe to call concurrently with the worker's
// own loop.
type Worker interface {
	// ID is a unique instance id; a rebuilt worker gets a new one
	ID() string
	Name() string
	Mode() Mode
	// Alive reports whether the execution context has not terminated
	Alive() bool
	State() State
	Stats() Stats
	// Err returns the error that ended the worker, if any
	Err() error
	// Exit terminates the worker. It does not wait.
	Exit()
	// Done is closed once the worker is no longer alive
	Done() <-chan struct{}
}

// Deps are the collaborators shared by every worker
type Deps struct {
	Opener  source.Opener
	Catalog *callback.Catalog
	Logger  *zap.Logger

	// Process mode only
	Executable   string
	ChildArgs    []string
	ChildEnv     []string
	StartTimeout time.Duration
}

func (d Deps) withDefaults() Deps {
	if d.Opener == nil {
		d.Opener = source.Default()
	}
	if d.Catalog == nil {
		d.Catalog = callback.Default()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.StartTimeout <= 0 {
		d.StartTimeout = DefaultStartTimeout
	}
	return d
}

// Factory constructs workers of either mode
type Factory struct {
	deps Deps
}

// NewFactory creates a factory
func NewFactory(deps Deps) *Factory {
	return &Factory{deps: deps.withDefaults()}
}

// Start constructs and starts a worker for cfg.
//
// When the worker could not reach Running the returned worker is non-nil and
// already Failed: the error is a *source.OpenError when the source did not open
// and ErrStartTimeout when a child never answered. A nil worker means the
// configuration was rejected.
func (f *Factory) Start(name string, cfg Config) (Worker, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid worker config %q: %w", name, err)
	}

	switch cfg.Mode {
	case ModeProcess:
		w, err := StartProcess(name, cfg, f.deps)
		if w == nil {
			return nil, err
		}
		return w, err
	default:
		w, err := StartThread(name, cfg, f.deps)
		if w == nil {
			return nil, err
		}
		return w, err
	}
}

// IsOpenError reports whether err is a source open failure
func IsOpenError(err error) bool {
	var openErr *source.OpenError
	return errors.As(err, &openErr)
}

// status holds the state and terminal error shared by both modes
type status struct {
	state atomic.Int32
	err   atomic.Pointer[error]
	done  chan struct{}
}

func newStatus() *status {
	return &status{done: make(chan struct{})}
}

func (s *status) set(state State) {
	s.state.Store(int32(state))
}

// start moves Created to Running; it never overrides a terminal state
func (s *status) start() {
	s.state.CompareAndSwap(int32(StateCreated), int32(StateRunning))
}

func (s *status) get() State {
	return State(s.state.Load())
}

// finish records the terminal state and closes done. It must be called once.
func (s *status) finish(state State, err error) {
	if err != nil {
		s.err.Store(&err)
	}
	s.set(state)
	close(s.done)
}

func (s *status) error() error {
	if p := s.err.Load(); p != nil {
		return *p
	}
	return nil
}

func (s *status) alive() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}
