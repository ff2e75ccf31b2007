package worker

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/aescanero/dago-stream-watcher/internal/source"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultStartTimeout bounds the wait for the child's open handshake
const DefaultStartTimeout = 15 * time.Second

// ErrStartTimeout is returned when a child does not report its open result in time
var ErrStartTimeout = errors.New("timed out waiting for child worker")

// ProcessWorker runs the ingestion loop in a child process
type ProcessWorker struct {
	id        string
	name      string
	cfg       Config
	logger    *zap.Logger
	startedAt time.Time

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	status *status

	mu       sync.Mutex
	exiting  bool
	openErr  error
	final    *message
	last     Stats
	exitOnce sync.Once
}

// StartProcess spawns a child, sends it cfg and waits for the open result.
// See Factory.Start for the error contract.
func StartProcess(name string, cfg Config, deps Deps) (*ProcessWorker, error) {
	cfg = cfg.WithDefaults()
	deps = deps.withDefaults()

	if cfg.ImageFunc != nil || cfg.CheckFunc != nil {
		return nil, ErrNotSerializable
	}
	if cfg.ImageCallback != "" && !deps.Catalog.HasImage(cfg.ImageCallback) {
		return nil, fmt.Errorf("image callback %q is not registered", cfg.ImageCallback)
	}
	if cfg.CheckCallback != "" && !deps.Catalog.HasCheck(cfg.CheckCallback) {
		return nil, fmt.Errorf("check callback %q is not registered", cfg.CheckCallback)
	}

	executable := deps.Executable
	if executable == "" {
		path, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve executable: %w", err)
		}
		executable = path
	}
	args := deps.ChildArgs
	if len(args) == 0 {
		args = []string{"child"}
	}

	id := uuid.New().String()
	w := &ProcessWorker{
		id:        id,
		name:      cfg.DisplayName(name),
		cfg:       cfg,
		startedAt: time.Now(),
		status:    newStatus(),
	}
	w.logger = deps.Logger.With(
		zap.String("worker", w.name),
		zap.String("instance_id", id),
		zap.String("mode", string(ModeProcess)),
	)
	w.last = Stats{InstanceID: id, StartedAt: w.startedAt}

	w.cmd = exec.Command(executable, args...)
	w.cmd.Env = append(os.Environ(), deps.ChildEnv...)

	stdin, err := w.cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	w.stdin = stdin

	stdout, err := w.cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	stderr, err := w.cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := w.cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start child process: %w", err)
	}

	hello := make(chan message, 1)
	var pipes sync.WaitGroup
	pipes.Add(2)
	go func() {
		defer pipes.Done()
		w.readMessages(stdout, hello)
	}()
	go func() {
		defer pipes.Done()
		w.logStderr(stderr)
	}()
	go w.waitProcess(&pipes)

	err = writeMessage(stdin, message{
		Type:       msgStart,
		Name:       w.name,
		InstanceID: id,
		Config:     &cfg,
	})
	if err != nil {
		w.kill()
		<-w.status.done
		return nil, err
	}

	return w, w.handshake(hello, deps.StartTimeout)
}

// handshake waits for ready or open_failed
func (w *ProcessWorker) handshake(hello <-chan message, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-hello:
		return w.started(msg)

	case <-w.status.done:
		select {
		case msg := <-hello:
			return w.started(msg)
		default:
		}
		return w.status.error()

	case <-timer.C:
		w.mu.Lock()
		w.openErr = ErrStartTimeout
		w.mu.Unlock()
		w.logger.Warn("child did not report readiness", zap.Duration("timeout", timeout))
		w.kill()
		<-w.status.done
		return ErrStartTimeout
	}
}

// started handles the child's answer to the start message
func (w *ProcessWorker) started(msg message) error {
	if msg.Type == msgReady {
		w.status.start()
		w.logger.Info("worker started", zap.Int("pid", w.cmd.Process.Pid))
		return nil
	}

	w.mu.Lock()
	err := w.openErr
	w.mu.Unlock()

	w.logger.Warn("failed to open source", zap.Error(err))
	w.kill()
	<-w.status.done
	return err
}

// readMessages consumes child messages until stdout closes
func (w *ProcessWorker) readMessages(r io.Reader, hello chan<- message) {
	first := true
	for {
		msg, err := readMessage(r)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				w.logger.Debug("child stream ended", zap.Error(err))
			}
			return
		}

		switch msg.Type {
		case msgReady, msgOpenFailed:
			if !first {
				continue
			}
			first = false
			if msg.Type == msgOpenFailed {
				w.mu.Lock()
				w.openErr = &source.OpenError{Descriptor: w.cfg.Descriptor, Err: errors.New(msg.Error)}
				w.mu.Unlock()
			}
			hello <- msg
		case msgStats:
			if msg.Stats != nil {
				w.mu.Lock()
				w.last = *msg.Stats
				w.mu.Unlock()
			}
		case msgExit:
			w.mu.Lock()
			final := msg
			w.final = &final
			if msg.Stats != nil {
				w.last = *msg.Stats
			}
			w.mu.Unlock()
		default:
			w.logger.Warn("unexpected child message", zap.String("type", msg.Type))
		}
	}
}

// logStderr re-logs child log lines under the worker's fields
func (w *ProcessWorker) logStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			w.logger.Info("child log", zap.String("child_log", line))
		}
	}
}

// waitProcess reaps the child and records the terminal state
func (w *ProcessWorker) waitProcess(pipes *sync.WaitGroup) {
	pipes.Wait()
	waitErr := w.cmd.Wait()

	w.mu.Lock()
	exiting, openErr, final := w.exiting, w.openErr, w.final
	w.mu.Unlock()

	var (
		state = StateFailed
		err   error
	)
	switch {
	case openErr != nil:
		err = openErr
	case exiting:
		state = StateStopped
	case final != nil:
		state = final.State
		if final.Error != "" {
			err = errors.New(final.Error)
		}
	case waitErr != nil:
		err = fmt.Errorf("child process exited: %w", waitErr)
	default:
		err = errors.New("child process exited without reporting")
	}

	if state == StateFailed {
		w.logger.Warn("worker failed", zap.Error(err))
	} else {
		w.logger.Info("worker stopped")
	}
	w.status.finish(state, err)
}

func (w *ProcessWorker) kill() {
	_ = w.stdin.Close()
	if err := w.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		w.logger.Debug("failed to kill child", zap.Error(err))
	}
}

// ID returns the instance id
func (w *ProcessWorker) ID() string { return w.id }

// Name returns the worker name
func (w *ProcessWorker) Name() string { return w.name }

// Mode returns ModeProcess
func (w *ProcessWorker) Mode() Mode { return ModeProcess }

// Alive reports whether the child process has not been reaped
func (w *ProcessWorker) Alive() bool { return w.status.alive() }

// State returns the lifecycle state
func (w *ProcessWorker) State() State { return w.status.get() }

// Err returns the error that ended the worker
func (w *ProcessWorker) Err() error { return w.status.error() }

// Done is closed once the child has been reaped
func (w *ProcessWorker) Done() <-chan struct{} { return w.status.done }

// Pid returns the child process id
func (w *ProcessWorker) Pid() int { return w.cmd.Process.Pid }

// Stats returns the last counters reported by the child
func (w *ProcessWorker) Stats() Stats {
	w.mu.Lock()
	s := w.last
	w.mu.Unlock()

	s.InstanceID = w.id
	s.State = w.status.get()
	s.StartedAt = w.startedAt
	return s
}

// Exit kills the child process. In-flight callbacks in the child are lost.
func (w *ProcessWorker) Exit() {
	w.exitOnce.Do(func() {
		if !w.status.alive() {
			return
		}
		w.mu.Lock()
		w.exiting = true
		w.mu.Unlock()

		w.logger.Info("killing worker process", zap.Int("pid", w.cmd.Process.Pid))
		w.kill()
	})
}
