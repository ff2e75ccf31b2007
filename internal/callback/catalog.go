package callback

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/aescanero/dago-stream-watcher/internal/check"
	"github.com/aescanero/dago-stream-watcher/internal/dispatch"
	"go.uber.org/zap"
)

// ErrUnknownCallback is returned when a name is not in the catalog
var ErrUnknownCallback = errors.New("unknown callback")

// Env is what a factory receives when a worker resolves a callback
type Env struct {
	// Worker is the registry name of the worker
	Worker string
	// Options are the free-form options of the worker definition
	Options map[string]string
	Logger  *zap.Logger
}

// Option returns an option value or def when unset
func (e Env) Option(key, def string) string {
	if v, ok := e.Options[key]; ok && v != "" {
		return v
	}
	return def
}

// ImageFactory builds an image callback for one worker
type ImageFactory func(env Env) (dispatch.Func, error)

// CheckFactory builds a check predicate for one worker
type CheckFactory func(env Env) (check.Func, error)

// Catalog maps callback names to factories
type Catalog struct {
	mu     sync.RWMutex
	images map[string]ImageFactory
	checks map[string]CheckFactory
}

// NewCatalog creates an empty catalog
func NewCatalog() *Catalog {
	return &Catalog{
		images: make(map[string]ImageFactory),
		checks: make(map[string]CheckFactory),
	}
}

// RegisterImage adds or replaces an image callback
func (c *Catalog) RegisterImage(name string, factory ImageFactory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.images[name] = factory
}

// RegisterCheck adds or replaces a check callback
func (c *Catalog) RegisterCheck(name string, factory CheckFactory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = factory
}

// Image resolves an image callback. An empty name resolves to a no-op.
func (c *Catalog) Image(name string, env Env) (dispatch.Func, error) {
	if name == "" {
		return Noop, nil
	}

	c.mu.RLock()
	factory, ok := c.images[name]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: image callback %q", ErrUnknownCallback, name)
	}

	fn, err := factory(env)
	if err != nil {
		return nil, fmt.Errorf("failed to build image callback %q: %w", name, err)
	}
	return fn, nil
}

// Check resolves a check callback. An empty name resolves to check.Always.
func (c *Catalog) Check(name string, env Env) (check.Func, error) {
	if name == "" {
		return check.Always, nil
	}

	c.mu.RLock()
	factory, ok := c.checks[name]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: check callback %q", ErrUnknownCallback, name)
	}

	fn, err := factory(env)
	if err != nil {
		return nil, fmt.Errorf("failed to build check callback %q: %w", name, err)
	}
	return fn, nil
}

// HasImage reports whether an image callback is registered
func (c *Catalog) HasImage(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.images[name]
	return ok
}

// HasCheck reports whether a check callback is registered
func (c *Catalog) HasCheck(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.checks[name]
	return ok
}

// Names lists registered image and check callback names
func (c *Catalog) Names() (images, checks []string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for name := range c.images {
		images = append(images, name)
	}
	for name := range c.checks {
		checks = append(checks, name)
	}
	sort.Strings(images)
	sort.Strings(checks)
	return images, checks
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// Default returns the process-wide catalog with the built-in callbacks
func Default() *Catalog {
	defaultOnce.Do(func() {
		defaultCatalog = NewCatalog()
		RegisterBuiltins(defaultCatalog)
	})
	return defaultCatalog
}
