package worker

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aescanero/dago-stream-watcher/internal/check"
	"github.com/aescanero/dago-stream-watcher/internal/dispatch"
)

const (
	// DefaultImageInterval is the number of frames between image callbacks
	DefaultImageInterval = 10

	// DefaultCheckInterval is the number of frames between checks
	DefaultCheckInterval = 10
)

// ErrNotSerializable is returned when a process-isolated worker is given function-valued callbacks
var ErrNotSerializable = errors.New("process-isolated workers only accept named callbacks")

// Mode selects how a worker is isolated from the supervisor
type Mode string

const (
	// ModeThread runs the worker on a goroutine sharing memory with the caller
	ModeThread Mode = "thread"

	// ModeProcess runs the worker in a child process
	ModeProcess Mode = "process"
)

// ParseMode parses a mode name, defaulting to thread when empty
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeThread, nil
	case ModeThread, ModeProcess:
		return m, nil
	default:
		return "", fmt.Errorf("unknown worker mode %q (want thread or process)", s)
	}
}

// Config holds everything needed to construct a worker. It is stored verbatim
// by the supervisor and reused for every rebuild.
type Config struct {
	// Descriptor is the connection descriptor passed to the source opener
	Descriptor string `msgpack:"descriptor"`

	// Name overrides the registry name in logs and events
	Name string `msgpack:"name,omitempty"`

	Mode Mode `msgpack:"mode"`

	// ImageCallback and CheckCallback are catalog names. Empty means no-op and always.
	ImageCallback string `msgpack:"image_callback,omitempty"`
	CheckCallback string `msgpack:"check_callback,omitempty"`

	// ImageFunc and CheckFunc take precedence over the catalog names. Thread mode only.
	ImageFunc dispatch.Func `msgpack:"-"`
	CheckFunc check.Func    `msgpack:"-"`

	ImageInterval int `msgpack:"image_interval"`
	CheckInterval int `msgpack:"check_interval"`

	CheckEnabled bool         `msgpack:"check_enabled"`
	OnCheckFail  check.Policy `msgpack:"on_check_fail,omitempty"`

	FrameWidth  int `msgpack:"frame_width,omitempty"`
	FrameHeight int `msgpack:"frame_height,omitempty"`

	// OpenTimeout bounds the wait for a source's first frame
	OpenTimeout time.Duration `msgpack:"open_timeout,omitempty"`

	// PoolSize and QueueSize size the callback dispatcher
	PoolSize  int `msgpack:"pool_size,omitempty"`
	QueueSize int `msgpack:"queue_size,omitempty"`

	// Options are passed to callback factories
	Options map[string]string `msgpack:"options,omitempty"`
}

// WithDefaults returns a copy with unset fields filled in
func (c Config) WithDefaults() Config {
	if c.Mode == "" {
		c.Mode = ModeThread
	}
	if c.ImageInterval <= 0 {
		c.ImageInterval = DefaultImageInterval
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = DefaultCheckInterval
	}
	if c.OnCheckFail == "" {
		c.OnCheckFail = check.PolicyWarn
	}
	if c.PoolSize <= 0 {
		c.PoolSize = dispatch.DefaultPoolSize
	}
	if c.QueueSize <= 0 {
		c.QueueSize = dispatch.DefaultQueueSize
	}
	return c
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.Descriptor == "" {
		return fmt.Errorf("descriptor is required")
	}
	if c.ImageInterval <= 0 {
		return fmt.Errorf("image interval must be positive")
	}
	if c.CheckInterval <= 0 {
		return fmt.Errorf("check interval must be positive")
	}
	if _, err := ParseMode(string(c.Mode)); err != nil {
		return err
	}
	if _, err := check.ParsePolicy(string(c.OnCheckFail)); err != nil {
		return err
	}
	if c.Mode == ModeProcess && (c.ImageFunc != nil || c.CheckFunc != nil) {
		return ErrNotSerializable
	}
	return nil
}

// DisplayName returns the name override or fallback
func (c Config) DisplayName(fallback string) string {
	if c.Name != "" {
		return c.Name
	}
	return fallback
}
