package report

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/odvcencio/bowline/pkg/errors"
	"github.com/odvcencio/bowline/pkg/logging"
)

const defaultLiveAddress = ":9021"

func init() {
	Register("live", func(opts Options) (Reporter, error) {
		addr := opts.Address
		if addr == "" {
			addr = defaultLiveAddress
		}
		return NewLive(addr, opts.Logger)
	})
}

// subscribeMessage is the client-side filter protocol: clients may narrow
// the stream to specific event types, or reset to everything.
type subscribeMessage struct {
	Action     string   `json:"action"`
	EventTypes []string `json:"event_types,omitempty"`
}

// Live streams report events to WebSocket clients, for dashboards that
// follow a run as it happens. Slow clients drop events rather than stall
// the stream.
type Live struct {
	server   *http.Server
	addr     string
	upgrader websocket.Upgrader
	logger   *logging.Logger

	mu      sync.RWMutex
	clients map[*liveClient]bool
	closed  bool
}

type liveClient struct {
	conn       *websocket.Conn
	send       chan Event
	eventTypes map[string]bool

	mu      sync.RWMutex
	writeMu sync.Mutex
	cancel  context.CancelFunc
}

// NewLive binds the listen address and starts serving the event stream
// on /events.
func NewLive(addr string, logger *logging.Logger) (*Live, error) {
	l := &Live{
		logger:  logger,
		clients: make(map[*liveClient]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/events", l.handleWebSocket)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"service": "bowline-live",
			"clients": l.ActiveClients(),
		})
	})

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeReportWrite, "cannot bind live reporter").
			WithContext("address", addr)
	}

	l.addr = listener.Addr().String()
	l.server = &http.Server{Handler: mux}
	go func() {
		if err := l.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			if l.logger != nil {
				l.logger.Error(logging.CategoryReport, "live_server_failed", err.Error(), nil)
			}
		}
	}()

	return l, nil
}

// Addr returns the bound listen address.
func (l *Live) Addr() string { return l.addr }

// Report broadcasts one event to every connected client that wants it.
func (l *Live) Report(event Event) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for c := range l.clients {
		c.mu.RLock()
		interested := len(c.eventTypes) == 0 || c.eventTypes[string(event.Type)]
		c.mu.RUnlock()
		if !interested {
			continue
		}

		select {
		case c.send <- event:
		default:
			// backpressure: drop for this client rather than stall the run
			if l.logger != nil {
				l.logger.Warn(logging.CategoryReport, "live_client_lagging",
					"dropping event for slow client", map[string]any{"type": string(event.Type)})
			}
		}
	}
}

// Close disconnects all clients and stops the server.
func (l *Live) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	for c := range l.clients {
		c.cancel()
		_ = c.conn.Close()
		close(c.send)
		delete(l.clients, c)
	}
	l.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return l.server.Shutdown(ctx)
}

// ActiveClients returns the number of connected clients.
func (l *Live) ActiveClients() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.clients)
}

func (l *Live) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if l.logger != nil {
			l.logger.Error(logging.CategoryReport, "ws_upgrade_failed", err.Error(), nil)
		}
		return
	}

	// The request context dies after the upgrade; the client needs its own.
	ctx, cancel := context.WithCancel(context.Background())
	c := &liveClient{
		conn:       conn,
		send:       make(chan Event, 100),
		eventTypes: make(map[string]bool),
		cancel:     cancel,
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		cancel()
		_ = conn.Close()
		return
	}
	l.clients[c] = true
	l.mu.Unlock()

	go c.writePump(ctx)
	go l.readPump(c)
}

func (l *Live) readPump(c *liveClient) {
	defer func() {
		l.removeClient(c)
		c.writeMu.Lock()
		_ = c.conn.Close()
		c.writeMu.Unlock()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	for {
		var msg subscribeMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Action {
		case "subscribe":
			c.mu.Lock()
			for _, t := range msg.EventTypes {
				c.eventTypes[t] = true
			}
			c.mu.Unlock()
		case "unsubscribe":
			c.mu.Lock()
			c.eventTypes = make(map[string]bool)
			c.mu.Unlock()
		}
	}
}

func (c *liveClient) writePump(ctx context.Context) {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.cancel()
	}()

	for {
		select {
		case event, ok := <-c.send:
			if !ok {
				c.writeMu.Lock()
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				c.writeMu.Unlock()
				return
			}
			c.writeMu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			err := c.conn.WriteJSON(event)
			c.writeMu.Unlock()
			if err != nil {
				return
			}

		case <-ticker.C:
			c.writeMu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}

		case <-ctx.Done():
			return
		}
	}
}

func (l *Live) removeClient(c *liveClient) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.clients[c] {
		delete(l.clients, c)
		close(c.send)
		c.cancel()
	}
}
