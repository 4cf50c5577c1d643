package browser

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/odvcencio/bowline/pkg/errors"
	"github.com/odvcencio/bowline/pkg/logging"
)

const (
	defaultLaunchTimeout = 30 * time.Second
	readyPollInterval    = 100 * time.Millisecond
	killGracePeriod      = 2 * time.Second
)

// Local launches a WebDriver-speaking service as a child process and waits
// for its port to accept connections. All built-in browsers are Local
// instances with different binaries and defaults.
type Local struct {
	name     string
	longName string
	binary   string
	args     []string
	caps     Capabilities
	timeout  time.Duration
	logger   *logging.Logger

	mu      sync.Mutex
	host    string
	port    int
	path    string
	cmd     *exec.Cmd
	waited  chan error
	output  *tailBuffer
	running bool
}

// NewLocal builds the generic "local" browser: a WebDriver service whose
// binary and endpoint come entirely from options.
func NewLocal(opts Options) (Browser, error) {
	return newLocal("local", "Local WebDriver", Options{
		Binary: "chromedriver",
		Args:   []string{"--port={port}"},
		Capabilities: Capabilities{
			"browserName": "chrome",
		},
	}, opts), nil
}

func newLocal(name, longName string, preset, opts Options) *Local {
	merged := mergeOptions(preset, opts)
	return &Local{
		name:     name,
		longName: longName,
		binary:   merged.Binary,
		args:     merged.Args,
		caps:     merged.Capabilities,
		timeout:  merged.LaunchTimeout,
		logger:   merged.Logger,
		host:     merged.Host,
		port:     merged.Port,
		path:     merged.Path,
		output:   newTailBuffer(32 * 1024),
	}
}

// mergeOptions fills zero fields of opts from the preset.
func mergeOptions(preset, opts Options) Options {
	if opts.Binary == "" {
		opts.Binary = preset.Binary
	}
	if len(opts.Args) == 0 {
		opts.Args = preset.Args
	}
	if opts.Host == "" {
		opts.Host = preset.Host
	}
	if opts.Host == "" {
		opts.Host = "127.0.0.1"
	}
	if opts.Port == 0 {
		opts.Port = preset.Port
	}
	if opts.Path == "" {
		opts.Path = preset.Path
	}
	if opts.Capabilities == nil {
		opts.Capabilities = preset.Capabilities
	}
	if opts.LaunchTimeout <= 0 {
		opts.LaunchTimeout = defaultLaunchTimeout
	}
	return opts
}

// Name identifies the browser in the registry and launch URLs.
func (l *Local) Name() string { return l.name }

// LongName is the display name relayed in the launch handshake.
func (l *Local) LongName() string { return l.longName }

// Capabilities returns the advertised session capabilities.
func (l *Local) Capabilities() Capabilities { return l.caps }

// Defaults returns the service endpoint. The port is authoritative only
// after Launch when it was left to be picked dynamically.
func (l *Local) Defaults() Defaults {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Defaults{Host: l.host, Port: l.port, Path: l.path}
}

// Endpoint returns the base URL proxied WebDriver calls are sent to.
func (l *Local) Endpoint() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return "http://" + net.JoinHostPort(l.host, strconv.Itoa(l.port)) + l.path
}

// Launch starts the service process and blocks until its port accepts
// connections, the process exits, or ctx expires. The process deliberately
// outlives ctx: launch requests are short-lived, the service is not.
func (l *Local) Launch(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return errors.New(errors.ErrCodeBrowserLaunch, "browser already running").
			WithContext("browser", l.name)
	}
	if l.port == 0 {
		port, err := freePort(l.host)
		if err != nil {
			l.mu.Unlock()
			return errors.Wrap(err, errors.ErrCodeBrowserLaunch, "cannot allocate port")
		}
		l.port = port
	}

	cmd := exec.Command(l.binary, expandArgs(l.args, l.host, l.port)...)
	setProcessGroup(cmd)
	l.output.Reset()
	cmd.Stdout = l.output
	cmd.Stderr = l.output

	if err := cmd.Start(); err != nil {
		l.mu.Unlock()
		return errors.Wrap(err, errors.ErrCodeBrowserLaunch, "cannot start browser service").
			WithContext("browser", l.name).
			WithContext("binary", l.binary)
	}
	waited := make(chan error, 1)
	go func() { waited <- cmd.Wait() }()

	l.cmd = cmd
	l.waited = waited
	addr := net.JoinHostPort(l.host, strconv.Itoa(l.port))
	l.mu.Unlock()

	if err := l.waitReady(ctx, addr, waited); err != nil {
		l.teardown(cmd, waited)
		l.mu.Lock()
		l.cmd, l.waited = nil, nil
		l.mu.Unlock()
		return err
	}

	l.mu.Lock()
	l.running = true
	l.mu.Unlock()

	if l.logger != nil {
		l.logger.Info(logging.CategoryTunnel, "browser_started", "", map[string]any{
			"browser": l.name,
			"binary":  l.binary,
			"addr":    addr,
		})
	}
	return nil
}

func (l *Local) waitReady(ctx context.Context, addr string, waited chan error) error {
	deadline := time.NewTimer(l.timeout)
	defer deadline.Stop()
	tick := time.NewTicker(readyPollInterval)
	defer tick.Stop()

	for {
		conn, err := net.DialTimeout("tcp", addr, readyPollInterval)
		if err == nil {
			conn.Close()
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), errors.ErrCodeBrowserLaunch, "launch canceled").
				WithContext("browser", l.name)
		case err := <-waited:
			// Exited before listening; the tail usually names the cause.
			waited <- err
			return errors.New(errors.ErrCodeBrowserLaunch, "browser service exited during startup").
				WithContext("browser", l.name).
				WithContext("binary", l.binary).
				WithContext("output", l.output.Tail())
		case <-deadline.C:
			return errors.New(errors.ErrCodeBrowserLaunch,
				fmt.Sprintf("browser service not ready after %s", l.timeout)).
				WithContext("browser", l.name).
				WithContext("addr", addr)
		case <-tick.C:
		}
	}
}

// Kill terminates the service process group. Safe to call repeatedly.
func (l *Local) Kill() error {
	l.mu.Lock()
	cmd, waited := l.cmd, l.waited
	l.cmd, l.waited = nil, nil
	l.running = false
	l.mu.Unlock()

	if cmd == nil {
		return nil
	}
	l.teardown(cmd, waited)
	if l.logger != nil {
		l.logger.Info(logging.CategoryTunnel, "browser_stopped", "", map[string]any{
			"browser": l.name,
		})
	}
	return nil
}

func (l *Local) teardown(cmd *exec.Cmd, waited chan error) {
	_ = forceKill(cmd)
	if waited != nil {
		select {
		case <-waited:
		case <-time.After(killGracePeriod):
		}
	}
}

// expandArgs substitutes {host} and {port} placeholders in argument templates.
func expandArgs(args []string, host string, port int) []string {
	out := make([]string, len(args))
	for i, arg := range args {
		arg = strings.ReplaceAll(arg, "{host}", host)
		arg = strings.ReplaceAll(arg, "{port}", strconv.Itoa(port))
		out[i] = arg
	}
	return out
}

// freePort asks the kernel for an unused TCP port on host.
func freePort(host string) (int, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}

// tailBuffer keeps the last max bytes written to it. Browser services can
// log for hours; only the recent tail is useful in launch errors.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

func (t *tailBuffer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = nil
}

func (t *tailBuffer) Tail() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
