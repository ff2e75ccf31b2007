package source

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
)

var (
	// ErrClosed is returned by ReadFrame once the source no longer reports itself open
	ErrClosed = errors.New("source closed")

	// ErrNoData is returned when a read completes without a frame
	ErrNoData = errors.New("read returned no data")

	// ErrUnknownScheme is returned when no opener handles a descriptor
	ErrUnknownScheme = errors.New("unknown source scheme")

	// ErrOpenTimeout is returned when a source produces no frame within Options.OpenTimeout
	ErrOpenTimeout = errors.New("timed out waiting for first frame")
)

// Source is a sequential frame producer.
//
// ReadFrame blocks until the next frame is available. It is only ever called
// from one goroutine. Close may be called concurrently with ReadFrame and must
// make a blocked ReadFrame return.
type Source interface {
	IsOpen() bool
	ReadFrame() (Frame, error)
	Close() error
}

// Opener opens a source from a connection descriptor
type Opener interface {
	Open(descriptor string, opts Options) (Source, error)
}

// OpenerFunc adapts a function to Opener
type OpenerFunc func(descriptor string, opts Options) (Source, error)

// Open calls f
func (f OpenerFunc) Open(descriptor string, opts Options) (Source, error) {
	return f(descriptor, opts)
}

// OpenError reports that a source could not be opened
type OpenError struct {
	Descriptor string
	Err        error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("failed to open source %s: %v", Redact(e.Descriptor), e.Err)
}

func (e *OpenError) Unwrap() error {
	return e.Err
}

// ReadError reports a failed frame read
type ReadError struct {
	Seq uint64
	Err error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("failed to read frame %d: %v", e.Seq, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// Redact removes credentials from a descriptor so it can be logged
func Redact(descriptor string) string {
	u, err := url.Parse(descriptor)
	if err != nil || u.User == nil {
		return descriptor
	}
	return u.Redacted()
}

// Mux dispatches descriptors to openers by URL scheme
type Mux struct {
	mu       sync.RWMutex
	openers  map[string]Opener
	fallback Opener
}

// NewMux creates an empty mux. Descriptors without a registered scheme go to fallback, which may be nil.
func NewMux(fallback Opener) *Mux {
	return &Mux{
		openers:  make(map[string]Opener),
		fallback: fallback,
	}
}

// Handle registers an opener for a scheme
func (m *Mux) Handle(scheme string, opener Opener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openers[strings.ToLower(scheme)] = opener
}

// Open opens descriptor with the opener registered for its scheme
func (m *Mux) Open(descriptor string, opts Options) (Source, error) {
	scheme := ""
	if i := strings.Index(descriptor, "://"); i > 0 {
		scheme = strings.ToLower(descriptor[:i])
	}

	m.mu.RLock()
	opener, ok := m.openers[scheme]
	if !ok {
		opener = m.fallback
	}
	m.mu.RUnlock()

	if opener == nil {
		return nil, &OpenError{Descriptor: descriptor, Err: fmt.Errorf("%w: %q", ErrUnknownScheme, scheme)}
	}
	return opener.Open(descriptor, opts)
}

var (
	defaultMu      sync.Mutex
	defaultOpeners = map[string]Opener{
		"test": OpenerFunc(OpenPattern),
		"dir":  OpenerFunc(OpenDir),
	}
)

// registerDefault adds an opener to the set used by Default
func registerDefault(scheme string, opener Opener) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultOpeners[scheme] = opener
}

// Default returns a mux with every built-in opener; unknown schemes are handed to ffmpeg
func Default() *Mux {
	m := NewMux(OpenerFunc(OpenFFmpeg))

	defaultMu.Lock()
	defer defaultMu.Unlock()
	for scheme, opener := range defaultOpeners {
		m.Handle(scheme, opener)
	}
	return m
}
