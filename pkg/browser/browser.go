// Package browser abstracts the locally launched browser services that
// remote test runs drive through the tunnel. A Browser knows how to start
// its WebDriver-speaking process, where that process listens, and what
// capabilities it advertises to the caller that launched it.
package browser

import "context"

// Capabilities advertise what a launched browser supports. The map is
// relayed verbatim to remote callers during the launch handshake.
type Capabilities map[string]any

// Defaults describe the endpoint of the local WebDriver service.
type Defaults struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	Path string `json:"path,omitempty"`
}

// Info is the launch handshake payload sent back to a remote caller.
type Info struct {
	Browser  string       `json:"browser"`
	Caps     Capabilities `json:"caps"`
	Defaults Defaults     `json:"defaults"`
	Name     string       `json:"name"`
}

// Browser is a launchable local browser service.
type Browser interface {
	// Name is the short registry name ("chrome", "phantomjs", "local").
	Name() string

	// LongName is the human-readable browser name for reports.
	LongName() string

	// Capabilities returns the session capabilities the service advertises.
	Capabilities() Capabilities

	// Defaults returns the endpoint the service listens on. Port may be
	// resolved lazily, so the value is only authoritative after Launch.
	Defaults() Defaults

	// Launch starts the service and blocks until it accepts connections
	// or ctx expires.
	Launch(ctx context.Context) error

	// Endpoint returns the base URL proxied commands are sent to.
	// Valid after a successful Launch.
	Endpoint() string

	// Kill terminates the service and releases its resources.
	Kill() error
}

// Describe builds the handshake payload for a browser.
func Describe(b Browser) Info {
	return Info{
		Browser:  b.Name(),
		Caps:     b.Capabilities(),
		Defaults: b.Defaults(),
		Name:     b.LongName(),
	}
}
