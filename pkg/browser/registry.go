package browser

import (
	"sort"
	"sync"
	"time"

	"github.com/odvcencio/bowline/pkg/errors"
	"github.com/odvcencio/bowline/pkg/logging"
)

// Options carries everything a browser factory may need. Zero fields fall
// back to the factory's own defaults, so config only has to name what it
// wants to override.
type Options struct {
	Binary        string
	Args          []string
	Host          string
	Port          int
	Path          string
	Capabilities  Capabilities
	LaunchTimeout time.Duration
	Logger        *logging.Logger
}

// Factory constructs a browser from options.
type Factory func(Options) (Browser, error)

// Registry maps browser names to factories. Built-ins register themselves
// at init time; the tunnel looks them up by the name in the launch URL.
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

// New constructs the named browser.
func (r *Registry) New(name string, opts Options) (Browser, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, errors.New(errors.ErrCodeBrowserNotFound, "no such browser").
			WithContext("browser", name)
	}
	return f(opts)
}

// Has reports whether a browser name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// Names returns registered browser names, sorted.
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

// Default is the process-wide registry used by the CLI and tunnel.
var Default = NewRegistry()

// Register adds a factory to the default registry.
func Register(name string, f Factory) { Default.Register(name, f) }

// New constructs a browser from the default registry.
func New(name string, opts Options) (Browser, error) { return Default.New(name, opts) }

// Has checks the default registry.
func Has(name string) bool { return Default.Has(name) }

// Names lists the default registry.
func Names() []string { return Default.Names() }
