// Package tunnel implements the remote-host side of distributed runs: an
// HTTP server that authenticates a caller by shared secret, launches a
// local browser on demand, and then transparently proxies WebDriver
// traffic between that caller and the local session. Only the address
// that completed the launch handshake may use the proxy.
package tunnel

import (
	"context"
	stdliberrors "errors"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/time/rate"

	"github.com/odvcencio/bowline/pkg/browser"
	"github.com/odvcencio/bowline/pkg/logging"
)

const (
	// DefaultPort is the conventional tunnel port.
	DefaultPort = 9020

	// SecretHeader carries the shared secret on launch requests.
	SecretHeader = "secret-token"

	defaultLaunchInterval = time.Second
	defaultLaunchBurst    = 3
	shutdownGrace         = 5 * time.Second
)

// Config tunes a tunnel server. Zero values mean defaults.
type Config struct {
	Host           string
	Port           int
	Secret         string
	BrowserOptions browser.Options
	Registry       *browser.Registry
	LaunchInterval time.Duration
	LaunchBurst    int
	Logger         *logging.Logger
}

// Server is a single-session tunnel: one launched browser, one authorized
// caller at a time. Launch and kill transitions are serialized on mu.
type Server struct {
	cfg           Config
	registry      *browser.Registry
	logger        *log.Logger
	logs          *logging.Logger
	launchLimiter *rate.Limiter
	httpServer    *http.Server

	mu     sync.Mutex
	active browser.Browser
	remote string
	addr   string
}

// NewServer builds a tunnel from config.
func NewServer(cfg Config) *Server {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Registry == nil {
		cfg.Registry = browser.Default
	}
	if cfg.LaunchInterval <= 0 {
		cfg.LaunchInterval = defaultLaunchInterval
	}
	if cfg.LaunchBurst <= 0 {
		cfg.LaunchBurst = defaultLaunchBurst
	}
	return &Server{
		cfg:           cfg,
		registry:      cfg.Registry,
		logger:        log.New(os.Stdout, "[tunnel] ", log.LstdFlags),
		logs:          cfg.Logger,
		launchLimiter: rate.NewLimiter(rate.Every(cfg.LaunchInterval), cfg.LaunchBurst),
	}
}

// Handler builds the tunnel's route table. Control paths are fixed; every
// other path is treated as a WebDriver call for the proxied session.
func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()
	router.Get("/bowline/launch/{browser}", s.handleLaunch)
	router.Get("/bowline/kill", s.handleKill)
	router.Get("/healthz", s.handleHealthz)
	router.Get("/metrics", s.handleMetrics)
	router.NotFound(s.handleProxy)
	router.MethodNotAllowed(s.handleProxy)
	return router
}

// Start runs the tunnel until ctx is cancelled. The active browser, if
// any, is killed on the way out.
func (s *Server) Start(ctx context.Context) error {
	bind := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", bind)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	// Wrap with h2c so reverse proxies that speak cleartext HTTP/2 can
	// still reach the tunnel.
	h2s := &http2.Server{}
	s.httpServer = &http.Server{
		Handler:           h2c.NewHandler(s.Handler(), h2s),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
		MaxHeaderBytes:    1 << 20,
	}

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Printf("serving tunnel on %s", ln.Addr())
		if err := s.httpServer.Serve(ln); err != nil && !stdliberrors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.closeSession()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-serverErr:
		s.closeSession()
		return err
	}
}

// Addr returns the bound listen address once Start has begun serving.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// callerAddress extracts the caller's host for session binding.
func callerAddress(r *http.Request) string {
	if r == nil {
		return "unknown"
	}
	raw := r.RemoteAddr
	host, _, err := net.SplitHostPort(raw)
	if err != nil {
		host = raw
	}
	if host == "" {
		return "unknown"
	}
	return host
}
