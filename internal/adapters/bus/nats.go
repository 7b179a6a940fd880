package bus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/jobrunner/mapshell/internal/ports/output"
)

// DefaultSubjectPrefix is prepended to every topic published to NATS.
const DefaultSubjectPrefix = "mapshell"

// NATS forwards bus messages to a NATS server as JSON. Publishing never
// blocks the caller on the network; failures are logged.
type NATS struct {
	conn   *nats.Conn
	prefix string
	source string
	logger *slog.Logger
}

var _ output.EventPublisher = (*NATS)(nil)

// envelope is the JSON body of a forwarded message.
type envelope struct {
	Topic   string    `json:"topic"`
	Source  string    `json:"source,omitempty"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload"`
}

// NATSConfig holds NATS publisher configuration.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
	// Source identifies this instance in forwarded messages.
	Source string
}

// NewNATS connects to the server. The connection keeps retrying in the
// background, so an unreachable server at startup is not an error.
func NewNATS(cfg NATSConfig, logger *slog.Logger) (*NATS, error) {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = DefaultSubjectPrefix
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name("mapshell"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &NATS{conn: conn, prefix: cfg.SubjectPrefix, source: cfg.Source, logger: logger}, nil
}

// Publish implements output.EventPublisher.
func (n *NATS) Publish(topic string, payload any) {
	data, err := json.Marshal(envelope{Topic: topic, Source: n.source, Time: time.Now().UTC(), Payload: payload})
	if err != nil {
		n.logger.Warn("message not serializable", "topic", topic, "error", err)
		return
	}
	if err := n.conn.Publish(Subject(n.prefix, topic), data); err != nil {
		n.logger.Warn("nats publish failed", "topic", topic, "error", err)
	}
}

// Close drains and closes the connection.
func (n *NATS) Close() {
	_ = n.conn.Drain()
}

// Subject maps a bus topic to a NATS subject below prefix.
func Subject(prefix, topic string) string {
	if prefix == "" {
		return topic
	}
	return prefix + "." + topic
}
