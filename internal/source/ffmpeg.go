package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var errInstallHint = errors.New("executable not found, install with: sudo apt install -y ffmpeg")

// FFmpegPath is the ffmpeg executable used by OpenFFmpeg
var FFmpegPath = "ffmpeg"

// FFmpeg decodes a stream with an ffmpeg child process emitting raw rgb24 frames
type FFmpeg struct {
	descriptor string
	width      int
	height     int

	cmd    *exec.Cmd
	cancel context.CancelFunc
	stdout io.Reader
	buf    []byte

	pending *Frame
	seq     uint64
	closed  atomic.Bool
	once    sync.Once
	reaped  sync.Once
}

type firstFrame struct {
	frame Frame
	err   error
}

// OpenFFmpeg starts ffmpeg for descriptor and waits up to opts.OpenTimeout for
// the first frame, so an unreachable or silent stream is reported as an open failure.
func OpenFFmpeg(descriptor string, opts Options) (Source, error) {
	opts = opts.withDefaults()

	args := []string{"-nostdin", "-loglevel", "error"}
	if strings.HasPrefix(strings.ToLower(descriptor), "rtsp://") {
		args = append(args, "-rtsp_transport", "tcp")
	}
	args = append(args,
		"-i", descriptor,
		"-an",
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-s", fmt.Sprintf("%dx%d", opts.Width, opts.Height),
		"-",
	)

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, FFmpegPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, &OpenError{Descriptor: descriptor, Err: fmt.Errorf("failed to create stdout pipe: %w", err)}
	}
	if err := cmd.Start(); err != nil {
		cancel()
		if errors.Is(err, exec.ErrNotFound) {
			err = errInstallHint
		}
		return nil, &OpenError{Descriptor: descriptor, Err: fmt.Errorf("starting command ffmpeg: %w", err)}
	}

	f := &FFmpeg{
		descriptor: Redact(descriptor),
		width:      opts.Width,
		height:     opts.Height,
		cmd:        cmd,
		cancel:     cancel,
		stdout:     bufio.NewReaderSize(stdout, opts.Width*opts.Height*3),
		buf:        make([]byte, opts.Width*opts.Height*3),
	}

	first := make(chan firstFrame, 1)
	go func() {
		frame, err := f.read()
		first <- firstFrame{frame: frame, err: err}
	}()

	timer := time.NewTimer(opts.OpenTimeout)
	defer timer.Stop()

	var res firstFrame
	select {
	case res = <-first:
	case <-timer.C:
		f.Close()
		<-first
		return nil, &OpenError{Descriptor: descriptor, Err: fmt.Errorf("%w after %s", ErrOpenTimeout, opts.OpenTimeout)}
	}
	if res.err != nil {
		f.Close()
		return nil, &OpenError{Descriptor: descriptor, Err: res.err}
	}
	f.pending = &res.frame

	return f, nil
}

// IsOpen reports whether ffmpeg is still producing frames
func (f *FFmpeg) IsOpen() bool {
	return !f.closed.Load()
}

// ReadFrame returns the next decoded frame
func (f *FFmpeg) ReadFrame() (Frame, error) {
	if f.pending != nil {
		frame := *f.pending
		f.pending = nil
		return frame, nil
	}
	if f.closed.Load() {
		return Frame{}, &ReadError{Seq: f.seq, Err: ErrClosed}
	}

	frame, err := f.read()
	if err != nil {
		return Frame{}, &ReadError{Seq: f.seq, Err: err}
	}
	return frame, nil
}

// read fills one frame from stdout. The process is reaped only once the pipe
// is drained or the source is closed, since Wait closes the read end.
func (f *FFmpeg) read() (Frame, error) {
	if _, err := io.ReadFull(f.stdout, f.buf); err != nil {
		closing := f.closed.Swap(true)
		f.reap()
		if closing || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrClosed
		}
		return Frame{}, err
	}

	frame := Frame{
		Seq:       f.seq,
		Timestamp: time.Now(),
		Image:     rgbImage(f.width, f.height, f.buf),
		Source:    f.descriptor,
	}
	f.seq++
	return frame, nil
}

func (f *FFmpeg) reap() {
	f.reaped.Do(func() {
		_ = f.cmd.Wait()
		f.cancel()
	})
}

// Close stops ffmpeg and reaps it
func (f *FFmpeg) Close() error {
	f.once.Do(func() {
		f.closed.Store(true)
		f.cancel()
		f.reap()
	})
	return nil
}
