package tunnel

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/odvcencio/bowline/pkg/browser"
	"github.com/odvcencio/bowline/pkg/errors"
)

// Client drives a remote tunnel: it performs the launch handshake, hands
// back the remote browser's description, and later kills the session.
// WebDriver traffic itself goes straight to ProxyURL.
type Client struct {
	base   string
	secret string
	http   *http.Client
}

// NewClient points at a tunnel host.
func NewClient(host string, port int, secret string) *Client {
	if port == 0 {
		port = DefaultPort
	}
	return &Client{
		base:   "http://" + net.JoinHostPort(host, strconv.Itoa(port)),
		secret: secret,
		http:   &http.Client{Timeout: 60 * time.Second},
	}
}

// ProxyURL is the base URL a driver should target; the tunnel forwards
// everything under it to the launched browser.
func (c *Client) ProxyURL() string { return c.base }

// Launch asks the tunnel to start the named browser and returns its
// description on success.
func (c *Client) Launch(ctx context.Context, name string) (browser.Info, error) {
	var info browser.Info

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/bowline/launch/%s", c.base, name), nil)
	if err != nil {
		return info, err
	}
	if c.secret != "" {
		req.Header.Set(SecretHeader, c.secret)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return info, errors.Wrap(err, errors.ErrCodeTunnelProxy, "cannot reach tunnel").
			WithContext("tunnel", c.base)
	}
	defer resp.Body.Close()

	var payload struct {
		browser.Info
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return info, errors.Wrap(err, errors.ErrCodeTunnelProxy, "malformed launch response")
	}
	if payload.Error != "" {
		return info, errors.New(errors.ErrCodeTunnelAuth, payload.Error).
			WithContext("browser", name)
	}
	return payload.Info, nil
}

// Kill tears down the remote session.
func (c *Client) Kill(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/bowline/kill", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeTunnelProxy, "cannot reach tunnel").
			WithContext("tunnel", c.base)
	}
	resp.Body.Close()
	return nil
}
