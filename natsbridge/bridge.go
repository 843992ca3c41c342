// Package natsbridge publishes committed ledger events to NATS.
//
// Each event is published once, after its transaction commits, on
// "<prefix>.<event type>" (for example "remittance.payment.sent"). The
// message body is the event as JSON and the Nats-Msg-Id header carries the
// event id, so a JetStream stream with a duplicate window drops redelivered
// events.
package natsbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/xraph/remittance/event"
	"github.com/xraph/remittance/plugin"
)

// DefaultPrefix is the subject prefix used when none is configured.
const DefaultPrefix = "remittance"

// Header names set on every published message.
const (
	HeaderSeq  = "Remittance-Seq"
	HeaderType = "Remittance-Type"
)

var (
	_ plugin.Plugin           = (*Bridge)(nil)
	_ plugin.OnEventCommitted = (*Bridge)(nil)
	_ plugin.OnShutdown       = (*Bridge)(nil)
)

// Publisher is the subset of *nats.Conn the bridge uses.
type Publisher interface {
	PublishMsg(m *nats.Msg) error
}

// Bridge is a ledger plugin that fans committed events out to NATS.
type Bridge struct {
	pub    Publisher
	conn   *nats.Conn // set when the bridge dialed the connection itself
	prefix string
	logger *slog.Logger
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithPrefix sets the subject prefix.
func WithPrefix(prefix string) Option {
	return func(b *Bridge) {
		if prefix != "" {
			b.prefix = prefix
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// New creates a Bridge publishing through pub. A *nats.Conn satisfies
// Publisher.
func New(pub Publisher, opts ...Option) *Bridge {
	b := &Bridge{
		pub:    pub,
		prefix: DefaultPrefix,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Config holds the connection settings used by Dial.
type Config struct {
	URL            string        `json:"url" mapstructure:"url" yaml:"url"`
	Name           string        `json:"name" mapstructure:"name" yaml:"name"`
	Prefix         string        `json:"prefix" mapstructure:"prefix" yaml:"prefix"`
	ReconnectWait  time.Duration `json:"reconnect_wait" mapstructure:"reconnect_wait" yaml:"reconnect_wait"`
	MaxReconnects  int           `json:"max_reconnects" mapstructure:"max_reconnects" yaml:"max_reconnects"`
	ConnectTimeout time.Duration `json:"connect_timeout" mapstructure:"connect_timeout" yaml:"connect_timeout"`
}

// Dial connects to NATS and returns a Bridge that owns the connection. The
// connection is drained when the ledger shuts down.
func Dial(cfg Config, opts ...Option) (*Bridge, error) {
	name := cfg.Name
	if name == "" {
		name = "remittance"
	}
	natsOpts := []nats.Option{nats.Name(name)}
	if cfg.ReconnectWait > 0 {
		natsOpts = append(natsOpts, nats.ReconnectWait(cfg.ReconnectWait))
	}
	if cfg.MaxReconnects != 0 {
		natsOpts = append(natsOpts, nats.MaxReconnects(cfg.MaxReconnects))
	}
	if cfg.ConnectTimeout > 0 {
		natsOpts = append(natsOpts, nats.Timeout(cfg.ConnectTimeout))
	}

	conn, err := nats.Connect(cfg.URL, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("natsbridge: connect %s: %w", cfg.URL, err)
	}

	b := New(conn, append([]Option{WithPrefix(cfg.Prefix)}, opts...)...)
	b.conn = conn
	return b, nil
}

// Name implements plugin.Plugin.
func (b *Bridge) Name() string { return "nats-bridge" }

// Subject returns the subject an event of type t is published on.
func (b *Bridge) Subject(t event.Type) string {
	return b.prefix + "." + string(t)
}

// OnEventCommitted implements plugin.OnEventCommitted.
func (b *Bridge) OnEventCommitted(_ context.Context, e *event.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("natsbridge: marshal event %d: %w", e.Seq, err)
	}

	msg := nats.NewMsg(b.Subject(e.Type))
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, e.ID.String())
	msg.Header.Set(HeaderSeq, strconv.FormatInt(e.Seq, 10))
	msg.Header.Set(HeaderType, string(e.Type))

	if err := b.pub.PublishMsg(msg); err != nil {
		return fmt.Errorf("natsbridge: publish event %d: %w", e.Seq, err)
	}

	b.logger.Debug("natsbridge: event published",
		"subject", msg.Subject,
		"seq", e.Seq,
	)
	return nil
}

// OnShutdown implements plugin.OnShutdown. It drains a connection the
// bridge dialed itself and leaves an injected publisher alone.
func (b *Bridge) OnShutdown(_ context.Context) error {
	if b.conn == nil {
		return nil
	}
	return b.conn.Drain()
}
