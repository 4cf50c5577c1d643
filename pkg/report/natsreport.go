package report

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/odvcencio/bowline/pkg/errors"
	"github.com/odvcencio/bowline/pkg/logging"
)

const defaultNATSSubject = "bowline.report"

func init() {
	Register("nats", func(opts Options) (Reporter, error) {
		return NewNATS(NATSConfig{
			URL:     opts.URL,
			Subject: opts.Subject,
			Logger:  opts.Logger,
		})
	})
}

// NATSConfig configures the NATS reporter connection.
type NATSConfig struct {
	// URL is the NATS server URL; empty means the library default.
	URL string

	// Subject is the base subject; event types append to it.
	Subject string

	// ConnectTimeout bounds the initial connection attempt.
	ConnectTimeout time.Duration

	Logger *logging.Logger
}

// NATS publishes every report event to a NATS subject, letting external
// consumers follow runs without holding a connection to the runner.
type NATS struct {
	conn    *nats.Conn
	subject string
	logger  *logging.Logger
}

// NewNATS connects to the broker and returns the reporter.
func NewNATS(cfg NATSConfig) (*NATS, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Subject == "" {
		cfg.Subject = defaultNATSSubject
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Timeout(cfg.ConnectTimeout),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeReportWrite, "cannot connect to NATS").
			WithContext("url", cfg.URL)
	}

	return &NATS{conn: conn, subject: cfg.Subject, logger: cfg.Logger}, nil
}

// Report publishes one event. Failures are logged and swallowed; a flaky
// broker must not fail the run.
func (n *NATS) Report(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := n.conn.Publish(n.subject+"."+subjectSuffix(event.Type), data); err != nil {
		if n.logger != nil {
			n.logger.Warn(logging.CategoryReport, "nats_publish_failed", err.Error(), map[string]any{
				"type": string(event.Type),
			})
		}
	}
}

// Close flushes pending publishes and drops the connection.
func (n *NATS) Close() error {
	_ = n.conn.Flush()
	n.conn.Close()
	return nil
}

// subjectSuffix turns an event type into NATS subject tokens:
// report:testsuite:started becomes testsuite.started.
func subjectSuffix(t EventType) string {
	s := strings.TrimPrefix(string(t), "report:")
	return strings.ReplaceAll(s, ":", ".")
}
