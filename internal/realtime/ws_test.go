package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/PaulBabatuyi/recircle-chat/internal/auth"
	"github.com/PaulBabatuyi/recircle-chat/internal/data"

	"github.com/coder/websocket"
	"go.mongodb.org/mongo-driver/v2/bson"
)

const testSecret = "ws-test-secret"

func startWSTestServer(t *testing.T, e *testEnv) *httptest.Server {
	t.Helper()
	gw := NewWSGateway(nil, e.hub, e.channel, auth.NewJWTManager(testSecret, time.Hour), WSConfig{Heartbeat: time.Second})
	ts := httptest.NewServer(gw)
	t.Cleanup(ts.Close)
	return ts
}

func tokenFor(t *testing.T, u *data.User, ttl time.Duration) string {
	t.Helper()
	tok, _, err := auth.NewJWTManager(testSecret, ttl).GenerateToken(u.ID.Hex(), u.Name)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	return tok
}

func dialWS(t *testing.T, baseURL, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	u := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws"
	if token != "" {
		u += "?token=" + token
	}
	return websocket.Dial(ctx, u, nil)
}

func writeEnvelopeWS(t *testing.T, c *websocket.Conn, env Envelope) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := c.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readUntilEvent(t *testing.T, c *websocket.Conn, event string) Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	for {
		_, b, err := c.Read(ctx)
		if err != nil {
			t.Fatalf("read waiting for %s: %v", event, err)
		}
		var env Envelope
		if err := json.Unmarshal(b, &env); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if env.Event == event {
			return env
		}
	}
}

func TestWSGateway_RejectsBeforeUpgrade(t *testing.T) {
	e := newTestEnv(t)
	gw := NewWSGateway(nil, e.hub, e.channel, auth.NewJWTManager(testSecret, time.Hour), WSConfig{})
	// signed by the right key, but never stored
	ghost := &data.User{ID: bson.NewObjectID(), Name: "Ghost"}

	tests := []struct {
		name   string
		target string
		reason string
	}{
		{"missing token", "/ws", ReasonMissingToken},
		{"invalid token", "/ws?token=garbage", ReasonInvalidToken},
		{"expired token", "/ws?token=" + tokenFor(t, e.u1, -time.Hour), ReasonTokenExpired},
		{"unknown user", "/ws?token=" + tokenFor(t, ghost, time.Hour), ReasonInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			gw.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.target, nil))

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401 got %d", rec.Code)
			}
			var body map[string]string
			_ = json.Unmarshal(rec.Body.Bytes(), &body)
			if body["error"] != tt.reason {
				t.Fatalf("expected reason %s got %v", tt.reason, body)
			}
		})
	}
	if e.hub.Online(e.u1.ID.Hex()) || e.hub.Online(ghost.ID.Hex()) {
		t.Fatal("rejected handshakes must not join the hub")
	}
}

func TestWSGateway_DialWithoutTokenFails(t *testing.T) {
	e := newTestEnv(t)
	ts := startWSTestServer(t, e)

	_, resp, err := dialWS(t, ts.URL, "")
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err == nil {
		t.Fatalf("expected unauthorized handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("expected 401, got status=%d err=%v", status, err)
	}
}

func TestWSGateway_RelayBetweenConnections(t *testing.T) {
	e := newTestEnv(t)
	ts := startWSTestServer(t, e)

	c1, _, err := dialWS(t, ts.URL, tokenFor(t, e.u1, time.Hour))
	if err != nil {
		t.Fatalf("dial u1: %v", err)
	}
	defer c1.Close(websocket.StatusNormalClosure, "")

	c2, _, err := dialWS(t, ts.URL, tokenFor(t, e.u2, time.Hour))
	if err != nil {
		t.Fatalf("dial u2: %v", err)
	}
	defer c2.Close(websocket.StatusNormalClosure, "")

	waitOnline(t, e.hub, e.u2.ID.Hex())

	writeEnvelopeWS(t, c1, e.newChat(t, e.u1, e.u2, "hello"))

	ev := readUntilEvent(t, c2, EventChatMessage)
	var out MessageOut
	if err := json.Unmarshal(ev.Data, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Message.Text != "hello" || out.Message.Viewed {
		t.Fatalf("unexpected relayed message %+v", out.Message)
	}
}

func TestWSGateway_EventErrorsKeepConnectionOpen(t *testing.T) {
	e := newTestEnv(t)
	ts := startWSTestServer(t, e)

	c1, _, err := dialWS(t, ts.URL, tokenFor(t, e.u1, time.Hour))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c1.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c1.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	ev := readUntilEvent(t, c1, EventError)
	var out ErrorOut
	_ = json.Unmarshal(ev.Data, &out)
	if out.Code != CodeInvalidArgument {
		t.Fatalf("expected invalid_argument got %+v", out)
	}

	// Sending to a conversation U1 is not part of is rejected per event.
	writeEnvelopeWS(t, c1, e.newChat(t, e.u1, e.u3, "misdirected"))
	ev = readUntilEvent(t, c1, EventError)
	_ = json.Unmarshal(ev.Data, &out)
	if out.Code != CodeUnauthorized || out.Event != EventChatNew {
		t.Fatalf("expected unauthorized for chat:new got %+v", out)
	}

	// The connection still serves valid events afterwards.
	writeEnvelopeWS(t, c1, e.newChat(t, e.u1, e.u2, "still here"))
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		view, _ := e.convs.GetConversation(context.Background(), e.cid, e.u1.ID.Hex(), data.Page{})
		if len(view.Chats) == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("valid event after errors was not applied")
}

func TestWSGateway_LeavesHubOnClose(t *testing.T) {
	e := newTestEnv(t)
	ts := startWSTestServer(t, e)

	c1, _, err := dialWS(t, ts.URL, tokenFor(t, e.u1, time.Hour))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	waitOnline(t, e.hub, e.u1.ID.Hex())

	_ = c1.Close(websocket.StatusNormalClosure, "bye")

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if !e.hub.Online(e.u1.ID.Hex()) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("closed connection still registered")
}

func TestWSGateway_HubCloseHangsUp(t *testing.T) {
	e := newTestEnv(t)
	ts := startWSTestServer(t, e)

	c1, _, err := dialWS(t, ts.URL, tokenFor(t, e.u1, time.Hour))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c1.CloseNow()
	waitOnline(t, e.hub, e.u1.ID.Hex())

	e.hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		_, _, err := c1.Read(ctx)
		if err == nil {
			continue
		}
		if got := websocket.CloseStatus(err); got != websocket.StatusGoingAway {
			t.Fatalf("expected going away, got %v (%v)", got, err)
		}
		return
	}
}

func waitOnline(t *testing.T, hub *Hub, userID string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if hub.Online(userID) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("user %s never came online", userID)
}

func TestOutbox_OverflowCloses(t *testing.T) {
	c := NewOutbox(1)
	if err := c.Send(Envelope{Event: "a"}); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := c.Send(Envelope{Event: "b"}); err != errQueueFull {
		t.Fatalf("expected errQueueFull got %v", err)
	}
	if err := c.Send(Envelope{Event: "c"}); err != errConnClosed {
		t.Fatalf("expected errConnClosed got %v", err)
	}
	select {
	case <-c.Done():
	default:
		t.Fatal("overflow should close the outbox")
	}
	if !c.Overflowed() {
		t.Fatal("expected the outbox to report an overflow")
	}
	if env := <-c.C(); env.Event != "a" {
		t.Fatalf("queued envelope lost, got %q", env.Event)
	}
}
