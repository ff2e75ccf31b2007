package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/aescanero/dago-stream-watcher/internal/source"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	// DefaultPoolSize is the number of concurrent callback executions
	DefaultPoolSize = 10

	// DefaultQueueSize is the number of submissions that may wait for a free executor
	DefaultQueueSize = 100
)

var (
	// ErrQueueFull is returned by Submit when the pool and queue are saturated
	ErrQueueFull = errors.New("callback queue full")

	// ErrClosed is returned by Submit after Close or Abort
	ErrClosed = errors.New("dispatcher closed")
)

// Func is a callback invoked with a frame
type Func func(frame source.Frame) error

// CallbackError wraps a failure raised by a callback
type CallbackError struct {
	Seq   uint64
	Err   error
	Panic bool
}

func (e *CallbackError) Error() string {
	if e.Panic {
		return fmt.Sprintf("callback panicked on frame %d: %v", e.Seq, e.Err)
	}
	return fmt.Sprintf("callback failed on frame %d: %v", e.Seq, e.Err)
}

func (e *CallbackError) Unwrap() error {
	return e.Err
}

// Options configures a Dispatcher
type Options struct {
	PoolSize  int
	QueueSize int
}

// Stats holds dispatcher counters
type Stats struct {
	Submitted uint64 `json:"submitted"`
	Completed uint64 `json:"completed"`
	Rejected  uint64 `json:"rejected"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
}

type job struct {
	fn    Func
	frame source.Frame
}

// Dispatcher is a bounded-concurrency callback executor.
//
// Admission is a weighted semaphore of PoolSize+QueueSize slots taken with
// TryAcquire, so Submit never waits. Each admitted job then waits on a second
// semaphore of PoolSize slots before its callback runs.
type Dispatcher struct {
	logger *zap.Logger
	slots  *semaphore.Weighted
	exec   *semaphore.Weighted
	ctx    context.Context
	abort  context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
	once   sync.Once

	submitted atomic.Uint64
	completed atomic.Uint64
	rejected  atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// New creates a dispatcher
func New(opts Options, logger *zap.Logger) *Dispatcher {
	if opts.PoolSize <= 0 {
		opts.PoolSize = DefaultPoolSize
	}
	if opts.QueueSize < 0 {
		opts.QueueSize = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		logger: logger,
		slots:  semaphore.NewWeighted(int64(opts.PoolSize + opts.QueueSize)),
		exec:   semaphore.NewWeighted(int64(opts.PoolSize)),
		ctx:    ctx,
		abort:  cancel,
	}
}

// Submit queues fn for execution with frame. It never blocks on callback execution.
func (d *Dispatcher) Submit(fn Func, frame source.Frame) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrClosed
	}

	if !d.slots.TryAcquire(1) {
		d.rejected.Add(1)
		d.logger.Debug("callback rejected, pool saturated", zap.Uint64("seq", frame.Seq))
		return ErrQueueFull
	}

	d.submitted.Add(1)
	d.wg.Add(1)
	go d.run(job{fn: fn, frame: frame})
	return nil
}

// Close stops accepting work and waits for queued callbacks to finish
func (d *Dispatcher) Close() {
	d.shutdown(false)
	d.wg.Wait()
}

// Abort stops accepting work and drops queued callbacks. Running callbacks are not waited for.
func (d *Dispatcher) Abort() {
	d.shutdown(true)
}

// Stats returns a snapshot of the counters
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Submitted: d.submitted.Load(),
		Completed: d.completed.Load(),
		Rejected:  d.rejected.Load(),
		Failed:    d.failed.Load(),
		Dropped:   d.dropped.Load(),
	}
}

func (d *Dispatcher) shutdown(drop bool) {
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
	})
	if drop {
		d.abort()
	}
}

// run waits for an executor slot. A job still waiting when the dispatcher is
// aborted is dropped, including one that wins a slot after the abort.
func (d *Dispatcher) run(j job) {
	defer d.wg.Done()
	defer d.slots.Release(1)

	if err := d.exec.Acquire(d.ctx, 1); err != nil {
		d.dropped.Add(1)
		return
	}
	defer d.exec.Release(1)

	if d.ctx.Err() != nil {
		d.dropped.Add(1)
		return
	}
	d.execute(j)
}

func (d *Dispatcher) execute(j job) {
	err := safeCall(j)
	if err == nil {
		d.completed.Add(1)
		return
	}

	d.failed.Add(1)
	d.logger.Warn("callback failed",
		zap.Uint64("seq", j.frame.Seq),
		zap.Error(err),
	)
}

// safeCall runs the callback and turns errors and panics into a CallbackError
func safeCall(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &CallbackError{Seq: j.frame.Seq, Err: fmt.Errorf("%v", r), Panic: true}
		}
	}()

	if cbErr := j.fn(j.frame); cbErr != nil {
		return &CallbackError{Seq: j.frame.Seq, Err: cbErr}
	}
	return nil
}
