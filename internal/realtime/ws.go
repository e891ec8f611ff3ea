package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/PaulBabatuyi/recircle-chat/internal/auth"
	"github.com/PaulBabatuyi/recircle-chat/internal/data"

	"github.com/coder/websocket"
)

const (
	wsDefaultHeartbeat = 25 * time.Second
	wsHeartbeatTimeout = 5 * time.Second
	wsWriteTimeout     = 5 * time.Second
	wsMaxPingFailures  = 3
	wsMaxFrameBytes    = 64 << 10
	wsCloseGrace       = time.Second
	transportWebSocket = "ws"
)

// Rejection reasons reported before the socket opens.
const (
	ReasonMissingToken = "missing_token"
	ReasonInvalidToken = "invalid_token"
	ReasonTokenExpired = "token_expired"
)

// TokenVerifier authenticates the handshake token.
type TokenVerifier interface {
	VerifyToken(token string) (*auth.Claims, error)
}

// WSConfig tunes the WebSocket gateway. Zero values select defaults.
type WSConfig struct {
	// OriginPatterns are host patterns allowed for cross-origin upgrades.
	OriginPatterns []string
	SendQueue      int
	Heartbeat      time.Duration
}

// WSGateway serves the realtime channel over WebSocket.
type WSGateway struct {
	log     *slog.Logger
	hub     *Hub
	channel *Channel
	tokens  TokenVerifier

	originPatterns []string
	sendQueue      int
	heartbeat      time.Duration
}

// NewWSGateway constructs a gateway.
func NewWSGateway(log *slog.Logger, hub *Hub, channel *Channel, tokens TokenVerifier, cfg WSConfig) *WSGateway {
	if log == nil {
		log = slog.Default()
	}
	g := &WSGateway{
		log:            log,
		hub:            hub,
		channel:        channel,
		tokens:         tokens,
		originPatterns: cfg.OriginPatterns,
		sendQueue:      cfg.SendQueue,
		heartbeat:      cfg.Heartbeat,
	}
	if g.sendQueue <= 0 {
		g.sendQueue = DefaultSendQueue
	}
	if g.heartbeat <= 0 {
		g.heartbeat = wsDefaultHeartbeat
	}
	return g
}

// RejectReason maps a token verification error to its handshake reason.
func RejectReason(err error) string {
	switch {
	case errors.Is(err, auth.ErrMissingToken):
		return ReasonMissingToken
	case errors.Is(err, auth.ErrTokenExpired):
		return ReasonTokenExpired
	default:
		return ReasonInvalidToken
	}
}

// ServeHTTP authenticates, upgrades and runs the connection until either side
// closes it.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, err := g.tokens.VerifyToken(auth.TokenFromRequest(r))
	if err != nil {
		g.reject(w, r, http.StatusUnauthorized, RejectReason(err))
		return
	}
	userID := claims.UserID

	// A valid signature is not enough: the account must still exist.
	if _, err := g.channel.users.FindProfile(r.Context(), userID); err != nil {
		if errors.Is(err, data.ErrNotFound) || errors.Is(err, data.ErrInvalidID) {
			g.reject(w, r, http.StatusUnauthorized, ReasonInvalidToken)
			return
		}
		g.log.Error("ws.auth.fail", "user_id", userID, "err", err)
		g.reject(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: g.originPatterns,
	})
	if err != nil {
		g.log.Info("ws.accept.fail", "err", err, "remote", r.RemoteAddr)
		return
	}
	conn.SetReadLimit(wsMaxFrameBytes)

	client := NewOutbox(g.sendQueue)
	handle, err := g.hub.Join(userID, transportWebSocket, client)
	if err != nil {
		_ = conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	g.log.Info("ws.open", "user_id", userID, "conn_id", handle.ID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var shutdownOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		shutdownOnce.Do(func() {
			g.hub.Leave(handle)
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				if client.Overflowed() {
					shutdown(websocket.StatusPolicyViolation, "slow consumer")
				} else {
					shutdown(websocket.StatusGoingAway, "server shutting down")
				}
				return
			case env := <-client.C():
				if err := writeEnvelope(ctx, conn, env); err != nil {
					g.log.Info("ws.write.fail", "conn_id", handle.ID, "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		t := time.NewTicker(g.heartbeat)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, wsHeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()
				if err != nil {
					failures++
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	for {
		_, b, err := conn.Read(ctx)
		if err != nil {
			if !isExpectedClose(err) {
				g.log.Info("ws.read.fail", "conn_id", handle.ID, "err", err)
			}
			break
		}

		var env Envelope
		if err := json.Unmarshal(b, &env); err != nil || env.Event == "" {
			g.trySend(client, ErrorEnvelope("", fmt.Errorf("%w: invalid JSON envelope", errBadPayload)))
			continue
		}
		if err := g.channel.Handle(ctx, userID, env); err != nil {
			g.trySend(client, ErrorEnvelope(env.Event, err))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone
	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
	g.log.Info("ws.close", "user_id", userID, "conn_id", handle.ID)
}

func (g *WSGateway) reject(w http.ResponseWriter, r *http.Request, status int, reason string) {
	g.log.Info("ws.reject.auth", "reason", reason, "status", status, "remote", r.RemoteAddr)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": reason})
}

func (g *WSGateway) trySend(c *Outbox, env Envelope) {
	_ = c.Send(env)
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env Envelope) error {
	ctx, cancel := context.WithTimeout(parent, wsWriteTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

func isExpectedClose(err error) bool {
	if websocket.CloseStatus(err) != -1 {
		return true
	}
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF)
}
