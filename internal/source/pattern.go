package source

import (
	"errors"
	"fmt"
	"image"
	"net/url"
	"strconv"
	"sync"
	"time"
)

var errPatternOpen = errors.New("pattern configured to fail on open")

// Pattern is a synthetic source producing generated frames.
//
// Query parameters of a test://pattern descriptor:
//   - frames      number of frames before the source reports closed (0 = endless)
//   - width       frame width (default 64)
//   - height      frame height (default 48)
//   - interval    delay before each frame, e.g. 40ms
//   - fail_after  return a read error after this many frames
//   - static      every frame has identical pixels
//   - fail_open   refuse to open
type Pattern struct {
	descriptor string
	frames     uint64
	width      int
	height     int
	interval   time.Duration
	failAfter  uint64
	static     bool

	mu     sync.Mutex
	next   uint64
	closed bool
	done   chan struct{}
}

// OpenPattern opens a test:// descriptor
func OpenPattern(descriptor string, _ Options) (Source, error) {
	u, err := url.Parse(descriptor)
	if err != nil {
		return nil, &OpenError{Descriptor: descriptor, Err: err}
	}

	q := u.Query()
	p := &Pattern{
		descriptor: Redact(descriptor),
		width:      64,
		height:     48,
		done:       make(chan struct{}),
	}

	if q.Get("fail_open") == "true" {
		return nil, &OpenError{Descriptor: descriptor, Err: errPatternOpen}
	}

	parseUint := func(key string, dst *uint64) error {
		if v := q.Get(key); v != "" {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			*dst = n
		}
		return nil
	}
	parseInt := func(key string, dst *int) error {
		if v := q.Get(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid %s: %q", key, v)
			}
			*dst = n
		}
		return nil
	}

	for _, parse := range []func() error{
		func() error { return parseUint("frames", &p.frames) },
		func() error { return parseUint("fail_after", &p.failAfter) },
		func() error { return parseInt("width", &p.width) },
		func() error { return parseInt("height", &p.height) },
	} {
		if err := parse(); err != nil {
			return nil, &OpenError{Descriptor: descriptor, Err: err}
		}
	}

	if v := q.Get("interval"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, &OpenError{Descriptor: descriptor, Err: fmt.Errorf("invalid interval: %w", err)}
		}
		p.interval = d
	}
	p.static = q.Get("static") == "true"

	return p, nil
}

// IsOpen reports whether more frames will be produced
func (p *Pattern) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed && (p.frames == 0 || p.next < p.frames)
}

// ReadFrame returns the next generated frame
func (p *Pattern) ReadFrame() (Frame, error) {
	if p.interval > 0 {
		timer := time.NewTimer(p.interval)
		select {
		case <-timer.C:
		case <-p.done:
			timer.Stop()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || (p.frames > 0 && p.next >= p.frames) {
		return Frame{}, &ReadError{Seq: p.next, Err: ErrClosed}
	}
	if p.failAfter > 0 && p.next >= p.failAfter {
		return Frame{}, &ReadError{Seq: p.next, Err: ErrNoData}
	}

	seq := p.next
	p.next++

	return Frame{
		Seq:       seq,
		Timestamp: time.Now(),
		Image:     p.render(seq),
		Source:    p.descriptor,
	}, nil
}

// Close stops the pattern
func (p *Pattern) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.done)
	}
	return nil
}

// render draws a gradient shifted by seq so consecutive frames differ
func (p *Pattern) render(seq uint64) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, p.width, p.height))
	shift := int(seq * 37)
	if p.static {
		shift = 0
	}
	for y := 0; y < p.height; y++ {
		for x := 0; x < p.width; x++ {
			img.Pix[y*img.Stride+x] = uint8((x*255/p.width + y + shift) % 256)
		}
	}
	return img
}
