package tunnel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odvcencio/bowline/pkg/browser"
	bowlineerrors "github.com/odvcencio/bowline/pkg/errors"
)

type stubBrowser struct {
	mu         sync.Mutex
	endpoint   string
	launched   bool
	killed     bool
	failLaunch error
}

func (b *stubBrowser) Name() string     { return "stub" }
func (b *stubBrowser) LongName() string { return "Stub Browser" }

func (b *stubBrowser) Capabilities() browser.Capabilities {
	return browser.Capabilities{"browserName": "stub"}
}

func (b *stubBrowser) Defaults() browser.Defaults {
	return browser.Defaults{Host: "127.0.0.1", Port: 4444}
}

func (b *stubBrowser) Launch(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failLaunch != nil {
		return b.failLaunch
	}
	b.launched = true
	return nil
}

func (b *stubBrowser) Endpoint() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.endpoint
}

func (b *stubBrowser) Kill() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.killed = true
	return nil
}

func (b *stubBrowser) state() (launched, killed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.launched, b.killed
}

type recordedRequest struct {
	Method string
	Path   string
	Body   string
}

// recordingBackend plays the locally launched WebDriver service.
type recordingBackend struct {
	mu       sync.Mutex
	requests []recordedRequest
	server   *httptest.Server
}

func newRecordingBackend(t *testing.T) *recordingBackend {
	t.Helper()
	b := &recordingBackend{}
	b.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		b.mu.Lock()
		b.requests = append(b.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Body:   string(body),
		})
		b.mu.Unlock()

		w.Header().Set("X-Webdriver-Session", "abc123")
		if r.Method == http.MethodPost && r.URL.Path == "/session" {
			fmt.Fprint(w, `{"sessionId":"abc123"}`)
			return
		}
		fmt.Fprint(w, `{"value":"http://example.test/"}`)
	}))
	t.Cleanup(b.server.Close)
	return b
}

func (b *recordingBackend) recorded() []recordedRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]recordedRequest, len(b.requests))
	copy(out, b.requests)
	return out
}

func newTunnel(t *testing.T, cfg Config, stub *stubBrowser) (*Server, *httptest.Server) {
	t.Helper()
	if cfg.Registry == nil {
		reg := browser.NewRegistry()
		reg.Register("stub", func(browser.Options) (browser.Browser, error) {
			return stub, nil
		})
		cfg.Registry = reg
	}
	s := NewServer(cfg)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func launchOK(t *testing.T, ts *httptest.Server, secret string) map[string]any {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, ts.URL+"/bowline/launch/stub", nil)
	require.NoError(t, err)
	if secret != "" {
		req.Header.Set(SecretHeader, secret)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return payload
}

func TestLaunchHandshake(t *testing.T) {
	backend := newRecordingBackend(t)
	stub := &stubBrowser{endpoint: backend.server.URL}
	_, ts := newTunnel(t, Config{Secret: "s3cret"}, stub)

	payload := launchOK(t, ts, "s3cret")

	require.Equal(t, "stub", payload["browser"])
	require.Equal(t, "Stub Browser", payload["name"])
	caps, ok := payload["caps"].(map[string]any)
	require.True(t, ok, "caps must be an object")
	require.Equal(t, "stub", caps["browserName"])
	defaults, ok := payload["defaults"].(map[string]any)
	require.True(t, ok, "defaults must be an object")
	require.Equal(t, "127.0.0.1", defaults["host"])

	launched, _ := stub.state()
	require.True(t, launched)
}

func TestLaunchWrongSecretCreatesNoSession(t *testing.T) {
	backend := newRecordingBackend(t)
	stub := &stubBrowser{endpoint: backend.server.URL}
	_, ts := newTunnel(t, Config{Secret: "s3cret"}, stub)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/bowline/launch/stub", nil)
	require.NoError(t, err)
	req.Header.Set(SecretHeader, "not-the-secret")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(body, &payload))
	require.Equal(t, "Secrets do not match", payload["error"])

	launched, _ := stub.state()
	require.False(t, launched, "failed auth must not launch anything")

	// A proxied call from the same address is still rejected: no session
	// was ever authorized, so the connection just closes.
	_, err = http.Get(ts.URL + "/session/abc123/url")
	require.Error(t, err, "proxy without a session should close the connection")
	require.Empty(t, backend.recorded(), "nothing may reach the backend")
}

func TestProxyRejectsForeignCaller(t *testing.T) {
	backend := newRecordingBackend(t)
	stub := &stubBrowser{endpoint: backend.server.URL}
	s, ts := newTunnel(t, Config{Secret: "s3cret"}, stub)

	// Complete the handshake as a different address than the real client.
	launch := httptest.NewRequest(http.MethodGet, "/bowline/launch/stub", nil)
	launch.RemoteAddr = "203.0.113.7:50000"
	launch.Header.Set(SecretHeader, "s3cret")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, launch)
	require.Equal(t, http.StatusOK, rec.Code)

	// The loopback client never authenticated; its connection is closed
	// with no body and nothing is forwarded.
	_, err := http.Get(ts.URL + "/session/abc123/url")
	require.Error(t, err)
	require.Empty(t, backend.recorded())
}

func TestProxyRelaysForAuthorizedCaller(t *testing.T) {
	backend := newRecordingBackend(t)
	stub := &stubBrowser{endpoint: backend.server.URL}
	_, ts := newTunnel(t, Config{Secret: "s3cret"}, stub)
	launchOK(t, ts, "s3cret")

	// Session creation: request body streamed through, response headers
	// relayed verbatim.
	resp, err := http.Post(ts.URL+"/session", "application/json",
		bytes.NewBufferString(`{"desiredCapabilities":{"browserName":"stub"}}`))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"sessionId":"abc123"}`, string(body))
	require.Equal(t, "abc123", resp.Header.Get("X-Webdriver-Session"))

	// Later calls: raw body only, upstream headers are not re-derived.
	resp, err = http.Get(ts.URL + "/session/abc123/url")
	require.NoError(t, err)
	body, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.JSONEq(t, `{"value":"http://example.test/"}`, string(body))
	require.Empty(t, resp.Header.Get("X-Webdriver-Session"))

	recorded := backend.recorded()
	require.Len(t, recorded, 2)
	require.Equal(t, http.MethodPost, recorded[0].Method)
	require.Equal(t, "/session", recorded[0].Path)
	require.JSONEq(t, `{"desiredCapabilities":{"browserName":"stub"}}`, recorded[0].Body)
	require.Equal(t, "/session/abc123/url", recorded[1].Path)
}

func TestKillTearsDownSession(t *testing.T) {
	backend := newRecordingBackend(t)
	stub := &stubBrowser{endpoint: backend.server.URL}
	_, ts := newTunnel(t, Config{Secret: "s3cret"}, stub)
	launchOK(t, ts, "s3cret")

	resp, err := http.Get(ts.URL + "/bowline/kill")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, killed := stub.state()
	require.True(t, killed)

	// The session is gone; proxying closes the connection again.
	_, err = http.Get(ts.URL + "/session/abc123/url")
	require.Error(t, err)
}

func TestLaunchUnknownBrowserKeepsTunnelReady(t *testing.T) {
	backend := newRecordingBackend(t)
	stub := &stubBrowser{endpoint: backend.server.URL}
	_, ts := newTunnel(t, Config{Secret: "s3cret"}, stub)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/bowline/launch/opera", nil)
	require.NoError(t, err)
	req.Header.Set(SecretHeader, "s3cret")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	resp.Body.Close()
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.NotEmpty(t, payload["error"])

	// A fresh launch still works.
	launchOK(t, ts, "s3cret")
}

func TestLaunchFailureLeavesTunnelReady(t *testing.T) {
	backend := newRecordingBackend(t)
	stub := &stubBrowser{endpoint: backend.server.URL, failLaunch: fmt.Errorf("no display")}
	_, ts := newTunnel(t, Config{Secret: ""}, stub)

	resp, err := http.Get(ts.URL + "/bowline/launch/stub")
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	resp.Body.Close()
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.Contains(t, payload["error"], "no display")

	stub.mu.Lock()
	stub.failLaunch = nil
	stub.mu.Unlock()
	launchOK(t, ts, "")
}

func TestLaunchThrottled(t *testing.T) {
	backend := newRecordingBackend(t)
	stub := &stubBrowser{endpoint: backend.server.URL}
	_, ts := newTunnel(t, Config{
		LaunchBurst:    2,
		LaunchInterval: time.Hour,
	}, stub)

	launchOK(t, ts, "")
	launchOK(t, ts, "")

	resp, err := http.Get(ts.URL + "/bowline/launch/stub")
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	resp.Body.Close()
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.Equal(t, "too many launch attempts", payload["error"])
}

func TestMetricsAndHealthEndpoints(t *testing.T) {
	stub := &stubBrowser{}
	_, ts := newTunnel(t, Config{}, stub)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "bowline_tunnel")
}

func TestStartServesUntilCancelled(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	s := NewServer(Config{Host: "127.0.0.1", Port: port})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for s.Addr() == "" && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	require.NotEmpty(t, s.Addr())

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestClientLaunchAndKill(t *testing.T) {
	backend := newRecordingBackend(t)
	stub := &stubBrowser{endpoint: backend.server.URL}
	_, ts := newTunnel(t, Config{Secret: "s3cret"}, stub)

	host, portStr, err := net.SplitHostPort(strings.TrimPrefix(ts.URL, "http://"))
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	ctx := context.Background()

	wrong := NewClient(host, port, "bogus")
	_, err = wrong.Launch(ctx, "stub")
	require.Error(t, err)
	require.True(t, bowlineerrors.IsCode(err, bowlineerrors.ErrCodeTunnelAuth))
	require.Contains(t, err.Error(), "Secrets do not match")

	c := NewClient(host, port, "s3cret")
	info, err := c.Launch(ctx, "stub")
	require.NoError(t, err)
	require.Equal(t, "stub", info.Browser)
	require.Equal(t, "Stub Browser", info.Name)
	require.Equal(t, ts.URL, c.ProxyURL())

	require.NoError(t, c.Kill(ctx))
	_, killed := stub.state()
	require.True(t, killed)
}
