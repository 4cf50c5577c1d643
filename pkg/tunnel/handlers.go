package tunnel

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odvcencio/bowline/pkg/browser"
	"github.com/odvcencio/bowline/pkg/logging"
)

// errorBody is the fixed error wire shape.
type errorBody struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	_ = enc.Encode(payload)
}

// handleLaunch authenticates the caller, launches the named browser, and
// binds the session to the caller's address. A mismatched secret changes
// no state at all.
func (s *Server) handleLaunch(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "browser")
	caller := callerAddress(r)

	if !s.launchLimiter.Allow() {
		metricLaunches.WithLabelValues("throttled").Inc()
		respondJSON(w, http.StatusTooManyRequests, errorBody{Error: "too many launch attempts"})
		return
	}

	if s.cfg.Secret != "" && r.Header.Get(SecretHeader) != s.cfg.Secret {
		metricLaunches.WithLabelValues("denied").Inc()
		s.logger.Printf("launch denied for %s: secret mismatch", caller)
		if s.logs != nil {
			s.logs.Warn(logging.CategoryTunnel, "launch_denied", "secret mismatch", map[string]any{
				"caller":  caller,
				"browser": name,
			})
		}
		respondJSON(w, http.StatusUnauthorized, errorBody{Error: "Secrets do not match"})
		return
	}

	b, err := s.registry.New(name, s.cfg.BrowserOptions)
	if err != nil {
		metricLaunches.WithLabelValues("error").Inc()
		s.logger.Printf("launch failed for %s: %v", caller, err)
		respondJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}

	s.mu.Lock()
	if s.active != nil {
		// A fresh launch supersedes the previous session.
		_ = s.active.Kill()
		s.active = nil
		s.remote = ""
		metricActiveBrowser.Set(0)
	}
	s.mu.Unlock()

	if err := b.Launch(r.Context()); err != nil {
		metricLaunches.WithLabelValues("error").Inc()
		s.logger.Printf("launch failed for %s: %v", caller, err)
		respondJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}

	s.mu.Lock()
	s.active = b
	s.remote = caller
	s.mu.Unlock()

	metricLaunches.WithLabelValues("ok").Inc()
	metricActiveBrowser.Set(1)
	s.logger.Printf("launched %s for %s at %s", name, caller, b.Endpoint())
	if s.logs != nil {
		s.logs.Info(logging.CategoryTunnel, "browser_launched", "", map[string]any{
			"caller":   caller,
			"browser":  name,
			"endpoint": b.Endpoint(),
		})
	}
	respondJSON(w, http.StatusOK, browser.Describe(b))
}

// handleKill tears down the active session.
func (s *Server) handleKill(w http.ResponseWriter, r *http.Request) {
	s.closeSession()
	s.logger.Printf("session killed by %s", callerAddress(r))
	respondJSON(w, http.StatusOK, map[string]any{"status": "closed"})
}

func (s *Server) closeSession() {
	s.mu.Lock()
	b := s.active
	s.active = nil
	s.remote = ""
	s.mu.Unlock()
	if b != nil {
		_ = b.Kill()
		metricActiveBrowser.Set(0)
	}
}

// handleProxy relays a WebDriver call to the launched browser. Callers
// other than the one that completed the launch handshake get their
// connection closed without a byte of response.
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	active, remote := s.active, s.remote
	s.mu.Unlock()

	caller := callerAddress(r)
	if active == nil || caller != remote {
		metricRejected.Inc()
		s.logger.Printf("proxy rejected for %s", caller)
		abortConnection(w)
		return
	}

	outboundURL := active.Endpoint() + r.URL.RequestURI()
	outbound, err := http.NewRequestWithContext(r.Context(), r.Method, outboundURL, r.Body)
	if err != nil {
		respondJSON(w, http.StatusBadGateway, errorBody{Error: err.Error()})
		return
	}
	copyProxyHeaders(outbound.Header, r.Header)

	resp, err := http.DefaultClient.Do(outbound)
	if err != nil {
		metricRejected.Inc()
		s.logger.Printf("proxy error for %s %s: %v", r.Method, r.URL.Path, err)
		respondJSON(w, http.StatusBadGateway, errorBody{Error: err.Error()})
		return
	}
	defer resp.Body.Close()

	// The session protocol expects complete bodies, not chunks.
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		respondJSON(w, http.StatusBadGateway, errorBody{Error: err.Error()})
		return
	}

	metricProxied.Inc()
	if isSessionCreate(r) {
		// Session creation is the one call whose response headers are
		// relayed verbatim; clients read the session id out of them.
		for key, values := range resp.Header {
			for _, value := range values {
				w.Header().Add(key, value)
			}
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(body)
}

// isSessionCreate marks the initial WebDriver session handshake.
func isSessionCreate(r *http.Request) bool {
	if r.Method != http.MethodPost {
		return false
	}
	path := strings.TrimSuffix(r.URL.Path, "/")
	return strings.HasSuffix(path, "/session")
}

// abortConnection drops the caller without writing a response.
func abortConnection(w http.ResponseWriter) {
	if hj, ok := w.(http.Hijacker); ok {
		if conn, _, err := hj.Hijack(); err == nil {
			_ = conn.Close()
			return
		}
	}
	panic(http.ErrAbortHandler)
}

// hopByHopHeaders never cross a proxy boundary.
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

func copyProxyHeaders(dst, src http.Header) {
	for key, values := range src {
		if _, skip := hopByHopHeaders[http.CanonicalHeaderKey(key)]; skip {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}
