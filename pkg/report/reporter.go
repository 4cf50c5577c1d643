package report

import (
	"io"
	"sort"
	"sync"

	"github.com/odvcencio/bowline/pkg/errors"
	"github.com/odvcencio/bowline/pkg/logging"
)

// Reporter consumes the run's event stream. Report must not block for
// long; slow sinks buffer internally and drop rather than stall the hub.
type Reporter interface {
	Report(Event)
	Close() error
}

// Options carries construction parameters shared by reporter factories.
// Each reporter reads the fields it cares about.
type Options struct {
	RunID     string
	OutputDir string

	// Out is the console destination; nil means stdout.
	Out io.Writer

	// Address is the listen address for serving reporters.
	Address string

	// URL and Subject configure broker-backed reporters.
	URL     string
	Subject string

	Logger *logging.Logger
}

// Factory constructs a reporter from options.
type Factory func(Options) (Reporter, error)

// Registry maps reporter names to factories.
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

// New constructs the named reporter.
func (r *Registry) New(name string, opts Options) (Reporter, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, errors.New(errors.ErrCodeReporterNotFound, "no such reporter").
			WithContext("reporter", name)
	}
	return f(opts)
}

// Has reports whether a reporter name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// Names returns registered reporter names, sorted.
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

// New constructs a reporter from the default registry.
func New(name string, opts Options) (Reporter, error) { return Default.New(name, opts) }

// Has checks the default registry.
func Has(name string) bool { return Default.Has(name) }

// Names lists the default registry.
func Names() []string { return Default.Names() }

// Pump fans hub events out to the reporters, preserving order per
// reporter. The returned stop function detaches from the hub and waits
// for in-flight events to land; it does not close the reporters.
func Pump(h *Hub, reporters ...Reporter) (stop func()) {
	ch, cancel := h.Subscribe()
	done := make(chan struct{})

	go func() {
		defer close(done)
		for event := range ch {
			for _, r := range reporters {
				r.Report(event)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
