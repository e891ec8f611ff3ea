package realtime

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/PaulBabatuyi/recircle-chat/internal/metrics"

	"github.com/google/uuid"
)

// ErrHubClosed is returned by Join after Close.
var ErrHubClosed = errors.New("hub closed")

// Sender is the minimal interface the hub needs from a connection: the
// ability to queue an envelope for the connected client. Send must not block
// on the network.
type Sender interface {
	Send(Envelope) error
}

// Handle identifies one registered connection.
type Handle struct {
	UserID    string
	ID        uuid.UUID
	Transport string
}

// Hub maps each user to the connections they currently hold open so the
// server can push events to all of that user's endpoints. It is created at
// start-up and closed at shutdown.
type Hub struct {
	log *slog.Logger

	mu     sync.RWMutex
	groups map[string]map[uuid.UUID]member
	closed bool
}

type member struct {
	s         Sender
	transport string
}

// NewHub creates an empty hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{log: log, groups: make(map[string]map[uuid.UUID]member)}
}

// Join registers a connection in the user's group. The returned handle must
// be passed to Leave when the connection closes.
func (h *Hub) Join(userID, transport string, s Sender) (Handle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return Handle{}, ErrHubClosed
	}
	if _, ok := h.groups[userID]; !ok {
		h.groups[userID] = make(map[uuid.UUID]member)
	}

	hd := Handle{UserID: userID, ID: uuid.New(), Transport: transport}
	h.groups[userID][hd.ID] = member{s: s, transport: transport}
	metrics.Connections.WithLabelValues(transport).Inc()
	return hd, nil
}

// Leave removes a connection. Leaving twice is a no-op.
func (h *Hub) Leave(hd Handle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remove(hd)
}

func (h *Hub) remove(hd Handle) {
	conns, ok := h.groups[hd.UserID]
	if !ok {
		return
	}
	m, ok := conns[hd.ID]
	if !ok {
		return
	}
	delete(conns, hd.ID)
	if len(conns) == 0 {
		delete(h.groups, hd.UserID)
	}
	metrics.Connections.WithLabelValues(m.transport).Dec()
}

// Online reports whether the user holds at least one connection.
func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[userID]) > 0
}

// Broadcast sends env to every connection of userID and returns how many
// accepted it. An offline user is not an error: delivery is best-effort and
// the store stays the source of truth. Connections that fail to accept are
// removed from the group.
func (h *Hub) Broadcast(userID string, env Envelope) int {
	type target struct {
		id uuid.UUID
		s  Sender
	}

	h.mu.RLock()
	targets := make([]target, 0, len(h.groups[userID]))
	for id, m := range h.groups[userID] {
		targets = append(targets, target{id: id, s: m.s})
	}
	h.mu.RUnlock()

	delivered := 0
	var failed []uuid.UUID
	for _, t := range targets {
		if err := t.s.Send(env); err != nil {
			h.log.Info("hub.send.fail", "user_id", userID, "conn_id", t.id, "event", env.Event, "err", err)
			failed = append(failed, t.id)
			continue
		}
		delivered++
	}

	if len(failed) > 0 {
		h.mu.Lock()
		for _, id := range failed {
			h.remove(Handle{UserID: userID, ID: id})
		}
		h.mu.Unlock()
	}
	return delivered
}

// Close rejects further joins, forgets every connection and closes the
// senders that can be closed so their transports hang up.
func (h *Hub) Close() {
	h.mu.Lock()
	var closers []interface{ Close() }
	for _, conns := range h.groups {
		for _, m := range conns {
			if c, ok := m.s.(interface{ Close() }); ok {
				closers = append(closers, c)
			}
		}
	}
	h.closed = true
	h.groups = make(map[string]map[uuid.UUID]member)
	metrics.Connections.Reset()
	h.mu.Unlock()

	for _, c := range closers {
		c.Close()
	}
	if len(closers) > 0 {
		h.log.Info("hub.closed", "connections", len(closers))
	}
}
