package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PaulBabatuyi/recircle-chat/internal/metrics"

	"github.com/nats-io/nats.go"
)

// SubjectUserPrefix prefixes the per-user relay subject: recircle.user.<id>.
const SubjectUserPrefix = "recircle.user."

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig(url string) NATSConfig {
	return NATSConfig{
		URL:           url,
		Name:          "recircle-chat",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NATSRelay fans events out through NATS so a user connected to another
// instance still receives them. Every instance subscribes to all user
// subjects and delivers to whichever of its local connections match.
type NATSRelay struct {
	conn *nats.Conn
	sub  *nats.Subscription
	hub  *Hub
	log  *slog.Logger
}

var _ Relay = (*NATSRelay)(nil)

// NewNATSRelay connects to NATS and starts delivering remote events into hub.
func NewNATSRelay(cfg NATSConfig, hub *Hub, log *slog.Logger) (*NATSRelay, error) {
	if log == nil {
		log = slog.Default()
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats.disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats.reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info("nats.closed")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	r := &NATSRelay{conn: nc, hub: hub, log: log}
	sub, err := nc.Subscribe(SubjectUserPrefix+"*", r.onMessage)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("nats subscribe: %w", err)
	}
	r.sub = sub

	log.Info("nats.connected", "url", nc.ConnectedUrl())
	return r, nil
}

// Publish sends env to the user's subject. Local delivery happens when this
// instance's own subscription receives it.
func (r *NATSRelay) Publish(_ context.Context, userID string, env Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := r.conn.Publish(SubjectUserPrefix+userID, b); err != nil {
		metrics.Relays.WithLabelValues("error").Inc()
		return fmt.Errorf("nats publish: %w", err)
	}
	metrics.Relays.WithLabelValues("published").Inc()
	return nil
}

func (r *NATSRelay) onMessage(msg *nats.Msg) {
	userID := strings.TrimPrefix(msg.Subject, SubjectUserPrefix)
	if userID == "" || userID == msg.Subject {
		return
	}
	var env Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		r.log.Warn("nats.decode.fail", "subject", msg.Subject, "err", err)
		return
	}
	// Every instance receives every event, so only the ones holding a
	// connection count it; a user offline everywhere is not counted.
	if r.hub.Broadcast(userID, env) > 0 {
		metrics.Relays.WithLabelValues("delivered").Inc()
	}
}

// Close drains the subscription and the connection.
func (r *NATSRelay) Close() {
	if err := r.sub.Drain(); err != nil {
		r.log.Warn("nats.drain.fail", "err", err)
	}
	if err := r.conn.Drain(); err != nil {
		r.log.Warn("nats.conn.drain.fail", "err", err)
	}
}
