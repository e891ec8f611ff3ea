package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/PaulBabatuyi/recircle-chat/internal/data"
	"github.com/PaulBabatuyi/recircle-chat/internal/metrics"
	"github.com/PaulBabatuyi/recircle-chat/internal/middleware"
	"github.com/PaulBabatuyi/recircle-chat/internal/normalize"
)

const defaultStoreTimeout = 5 * time.Second

var (
	errRateLimited  = errors.New("too many events")
	errUnknownEvent = errors.New("unknown event")
	errNotSender    = fmt.Errorf("%w: message.user.id is not the authenticated user", data.ErrNotParticipant)
)

// Channel applies client events for an authenticated user. It is shared by
// every transport and holds no per-connection state.
type Channel struct {
	store   data.ConversationStore
	users   data.UserDirectory
	relay   Relay
	limiter middleware.Limiter
	log     *slog.Logger
	timeout time.Duration
}

// ChannelConfig wires a Channel. Limiter may be nil to disable per-user
// event limits; Timeout bounds each store mutation.
type ChannelConfig struct {
	Store   data.ConversationStore
	Users   data.UserDirectory
	Relay   Relay
	Limiter middleware.Limiter
	Log     *slog.Logger
	Timeout time.Duration
}

// NewChannel builds a Channel from cfg.
func NewChannel(cfg ChannelConfig) *Channel {
	c := &Channel{
		store:   cfg.Store,
		users:   cfg.Users,
		relay:   cfg.Relay,
		limiter: cfg.Limiter,
		log:     cfg.Log,
		timeout: cfg.Timeout,
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.timeout <= 0 {
		c.timeout = defaultStoreTimeout
	}
	return c
}

// Handle applies one client event on behalf of userID. A returned error
// concerns only this event; callers report it with ErrorEnvelope and keep
// the connection open.
func (c *Channel) Handle(ctx context.Context, userID string, env Envelope) error {
	start := time.Now()
	err := c.handle(ctx, userID, env)

	code := "ok"
	if err != nil {
		code, _ = Classify(err)
		if code == CodeInternal {
			c.log.Error("channel.event.fail", "event", env.Event, "user_id", userID, "err", err)
		} else {
			c.log.Debug("channel.event.reject", "event", env.Event, "user_id", userID, "code", code, "err", err)
		}
	}
	metrics.Events.WithLabelValues(eventLabel(env.Event), code).Inc()
	metrics.EventLatency.WithLabelValues(eventLabel(env.Event)).Observe(time.Since(start).Seconds())
	return err
}

func (c *Channel) handle(ctx context.Context, userID string, env Envelope) error {
	if c.limiter != nil && !c.limiter.Allow(ctx, "events|"+userID) {
		return errRateLimited
	}

	switch env.Event {
	case EventChatNew:
		p, err := decode[NewChat](env)
		if err != nil {
			return err
		}
		return c.onNew(ctx, userID, p)
	case EventChatTyping:
		p, err := decode[TypingIn](env)
		if err != nil {
			return err
		}
		return c.onTyping(ctx, userID, p)
	case EventChatSeen:
		p, err := decode[SeenIn](env)
		if err != nil {
			return err
		}
		return c.onSeen(ctx, userID, p)
	default:
		return fmt.Errorf("%w %q", errUnknownEvent, env.Event)
	}
}

// mutationContext detaches a store write from the connection so a client
// hanging up mid-event cannot abort it.
func (c *Channel) mutationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
}

// membership checks that userID and peerID are the two participants of the
// conversation.
func (c *Channel) membership(ctx context.Context, conversationID, userID, peerID string) error {
	peer, err := data.ParseID(peerID)
	if err != nil {
		return err
	}
	parts, err := c.store.Participants(ctx, conversationID)
	if err != nil {
		return err
	}
	return data.CheckPeer(parts, userID, peer.Hex())
}

func (c *Channel) onNew(ctx context.Context, userID string, p *NewChat) error {
	if normalize.ID(p.Message.User.ID) != userID {
		return errNotSender
	}
	if err := c.membership(ctx, p.ConversationID, userID, p.To); err != nil {
		return err
	}

	mctx, cancel := c.mutationContext(ctx)
	entry, err := c.store.AppendMessage(mctx, data.AppendInput{
		ConversationID: p.ConversationID,
		SenderID:       userID,
		Content:        p.Message.Text,
		Timestamp:      p.Message.Time,
	})
	cancel()
	if err != nil {
		return err
	}

	// The entry is durable from here on; everything below is best-effort.
	from := data.Profile{ID: userID}
	if prof, err := c.users.FindProfile(ctx, userID); err == nil {
		from = *prof
	} else {
		c.log.Warn("channel.profile.fail", "user_id", userID, "err", err)
	}

	msg := entry.View(from)
	out, err := NewEnvelope(EventChatMessage, MessageOut{
		ConversationID: normalize.ID(p.ConversationID),
		From:           from,
		Message: DeliveredMessage{
			ID:       msg.ID,
			ClientID: p.Message.ID,
			Text:     msg.Text,
			Time:     msg.Time,
			Viewed:   msg.Viewed,
			User:     msg.User,
		},
	})
	if err != nil {
		return err
	}
	c.publish(ctx, normalize.ID(p.To), out)
	return nil
}

func (c *Channel) onTyping(ctx context.Context, userID string, p *TypingIn) error {
	to, err := data.ParseID(p.To)
	if err != nil {
		return err
	}
	if _, err := c.store.Between(ctx, userID, to.Hex()); err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return fmt.Errorf("%w: no conversation with %s", data.ErrNotParticipant, to.Hex())
		}
		return err
	}
	out, err := NewEnvelope(EventChatTyping, TypingOut{From: userID, Active: p.Active})
	if err != nil {
		return err
	}
	c.publish(ctx, to.Hex(), out)
	return nil
}

func (c *Channel) onSeen(ctx context.Context, userID string, p *SeenIn) error {
	return c.MarkSeen(ctx, userID, p.ConversationID, p.PeerID, p.MessageID)
}

// MarkSeen marks every message peerID sent in the conversation as seen on
// behalf of userID, the other participant, and tells the peer. messageID is
// passed through to the peer for correlation only.
func (c *Channel) MarkSeen(ctx context.Context, userID, conversationID, peerID, messageID string) error {
	if err := c.membership(ctx, conversationID, userID, peerID); err != nil {
		return err
	}

	mctx, cancel := c.mutationContext(ctx)
	err := c.store.MarkSeen(mctx, conversationID, peerID)
	cancel()
	if err != nil {
		return err
	}

	peer := normalize.ID(peerID)
	out, err := NewEnvelope(EventChatSeen, SeenOut{
		ConversationID: normalize.ID(conversationID),
		MessageID:      messageID,
		PeerID:         peer,
	})
	if err != nil {
		return err
	}
	c.publish(ctx, peer, out)
	return nil
}

func (c *Channel) publish(ctx context.Context, userID string, env Envelope) {
	if err := c.relay.Publish(ctx, userID, env); err != nil {
		c.log.Warn("channel.relay.fail", "to", userID, "event", env.Event, "err", err)
	}
}

// Classify maps an event error to its wire code and client-safe message.
func Classify(err error) (code, message string) {
	switch {
	case errors.Is(err, errRateLimited):
		return CodeRateLimited, err.Error()
	case errors.Is(err, errBadPayload),
		errors.Is(err, errUnknownEvent),
		errors.Is(err, data.ErrInvalidID),
		errors.Is(err, data.ErrEmptyContent):
		return CodeInvalidArgument, err.Error()
	case errors.Is(err, data.ErrNotFound):
		return CodeNotFound, err.Error()
	case errors.Is(err, data.ErrNotParticipant):
		return CodeUnauthorized, err.Error()
	default:
		return CodeInternal, "internal error"
	}
}

// ErrorEnvelope builds the error event reporting a failed client event.
func ErrorEnvelope(event string, err error) Envelope {
	code, msg := Classify(err)
	env, _ := NewEnvelope(EventError, ErrorOut{Event: event, Code: code, Message: msg})
	return env
}

// eventLabel keeps metric cardinality bounded for unknown event names.
func eventLabel(event string) string {
	switch event {
	case EventChatNew, EventChatTyping, EventChatSeen:
		return event
	default:
		return "unknown"
	}
}
