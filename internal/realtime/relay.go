package realtime

import (
	"context"

	"github.com/PaulBabatuyi/recircle-chat/internal/metrics"
)

// Relay pushes a server event to every live connection of a user, wherever
// that connection is held.
type Relay interface {
	Publish(ctx context.Context, userID string, env Envelope) error
}

// LocalRelay delivers straight into this instance's hub.
type LocalRelay struct {
	hub *Hub
}

var _ Relay = (*LocalRelay)(nil)

// NewLocalRelay returns a relay bound to hub.
func NewLocalRelay(hub *Hub) *LocalRelay {
	return &LocalRelay{hub: hub}
}

// Publish never fails; an offline user simply receives nothing.
func (r *LocalRelay) Publish(_ context.Context, userID string, env Envelope) error {
	deliver(r.hub, userID, env)
	return nil
}

func deliver(hub *Hub, userID string, env Envelope) int {
	n := hub.Broadcast(userID, env)
	if n == 0 {
		metrics.Relays.WithLabelValues("offline").Inc()
	} else {
		metrics.Relays.WithLabelValues("delivered").Inc()
	}
	return n
}
