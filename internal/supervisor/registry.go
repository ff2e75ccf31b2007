package supervisor

import (
	"sort"
	"sync"
	"time"

	"github.com/aescanero/dago-stream-watcher/internal/worker"
)

// Entry is one registry slot
type Entry struct {
	Name         string
	Config       worker.Config
	Worker       worker.Worker
	Rebuilds     uint64
	LastError    error
	RegisteredAt time.Time
	RebuiltAt    time.Time
}

// Registry is the name-keyed table of workers.
//
// Every read and write happens under mu. The supervisor holds it for the
// whole of a registration store, a removal and a rebuild pass, which are the
// only mutations.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Len returns the number of entries
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Names returns the registered names in order
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns a copy of the entry for name
func (r *Registry) Get(name string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Entries returns copies of every entry ordered by name
func (r *Registry) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// locked runs fn with the lock held. fn must not call other Registry methods.
func (r *Registry) locked(fn func(entries map[string]*Entry)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.entries)
}
