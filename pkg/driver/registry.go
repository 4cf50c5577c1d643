package driver

import (
	"sort"
	"sync"
	"time"

	"github.com/odvcencio/bowline/pkg/errors"
	"github.com/odvcencio/bowline/pkg/logging"
)

// Options carries everything a driver factory may need. Endpoint is the
// session base URL for remote protocols; file-less drivers ignore it.
type Options struct {
	Endpoint    string
	Browser     string
	WaitTimeout time.Duration
	Logger      *logging.Logger
	Commands    *logging.CommandLogger
}

// Factory constructs a driver from options.
type Factory func(Options) (Driver, error)

// Registry maps driver names to factories. Driver packages register
// themselves at init time; lookups happen when a run starts.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a named factory, replacing any previous registration.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// New constructs the named driver.
func (r *Registry) New(name string, opts Options) (Driver, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, errors.New(errors.ErrCodeDriverNotFound, "no such driver").
			WithContext("driver", name)
	}
	return f(opts)
}

// Has reports whether a driver name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// Names returns registered driver names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Default is the process-wide registry used by the CLI.
var Default = NewRegistry()

// Register adds a factory to the default registry.
func Register(name string, f Factory) { Default.Register(name, f) }

// New constructs a driver from the default registry.
func New(name string, opts Options) (Driver, error) { return Default.New(name, opts) }

// Has checks the default registry.
func Has(name string) bool { return Default.Has(name) }

// Names lists the default registry.
func Names() []string { return Default.Names() }
