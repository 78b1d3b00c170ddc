package events

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "taskpilot.events"

// natsPublisher is the subset of *nats.Conn the forwarder needs.
type natsPublisher interface {
	Publish(subject string, data []byte) error
}

// NATSForwarder republishes bus events as JSON on NATS subjects named
// <prefix>.<event type>.
type NATSForwarder struct {
	pub    natsPublisher
	conn   *nats.Conn
	prefix string
	logger *log.Logger
}

// ConnectNATS dials the server at url and returns a forwarder using it.
func ConnectNATS(url, prefix string, logger *log.Logger) (*NATSForwarder, error) {
	nc, err := nats.Connect(url, nats.Name("taskpilot"))
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	f := newNATSForwarder(nc, prefix, logger)
	f.conn = nc
	return f, nil
}

func newNATSForwarder(pub natsPublisher, prefix string, logger *log.Logger) *NATSForwarder {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = log.Default()
	}
	return &NATSForwarder{pub: pub, prefix: prefix, logger: logger}
}

// Subject returns the subject an event type is published on.
func (f *NATSForwarder) Subject(t Type) string {
	return f.prefix + "." + string(t)
}

// Forward publishes one event. Failures are logged, not returned, to keep
// delivery best effort.
func (f *NATSForwarder) Forward(e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		f.logger.Warn("encode event for nats", "type", e.Type, "err", err)
		return
	}
	if err := f.pub.Publish(f.Subject(e.Type), data); err != nil {
		f.logger.Warn("publish event to nats", "type", e.Type, "err", err)
	}
}

// Attach subscribes the forwarder to all events on the bus.
func (f *NATSForwarder) Attach(bus *Bus) func() {
	return bus.Subscribe(f.Forward)
}

// Close flushes pending messages and closes the connection.
func (f *NATSForwarder) Close() error {
	if f.conn == nil {
		return nil
	}
	return f.conn.Drain()
}
