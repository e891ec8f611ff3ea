package realtime

import (
	"errors"
	"sync"
	"testing"
)

type fakeSender struct {
	mu   sync.Mutex
	got  []Envelope
	fail bool
}

func (f *fakeSender) Send(env Envelope) error {
	if f.fail {
		return errors.New("send fail")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, env)
	return nil
}

func (f *fakeSender) events() []Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Envelope(nil), f.got...)
}

func (f *fakeSender) last() (Envelope, bool) {
	evs := f.events()
	if len(evs) == 0 {
		return Envelope{}, false
	}
	return evs[len(evs)-1], true
}

func TestHub_JoinAndBroadcast(t *testing.T) {
	hub := NewHub(nil)

	senderA := &fakeSender{}
	senderB := &fakeSender{}

	hA, err := hub.Join("alice", "ws", senderA)
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	_, _ = hub.Join("alice", "grpc", senderB) // second connection

	if n := hub.Broadcast("alice", Envelope{Event: "m1"}); n != 2 {
		t.Fatalf("expected delivery to 2 connections, got %d", n)
	}
	if ev, ok := senderA.last(); !ok || ev.Event != "m1" {
		t.Fatalf("sender A did not receive message")
	}

	// Leave with senderA and ensure it no longer receives messages
	hub.Leave(hA)
	hub.Leave(hA)

	if n := hub.Broadcast("alice", Envelope{Event: "m2"}); n != 1 {
		t.Fatalf("expected delivery to 1 connection after leave, got %d", n)
	}
	if ev, _ := senderA.last(); ev.Event == "m2" {
		t.Fatalf("sender A should not have received second message after leave")
	}
	if ev, _ := senderB.last(); ev.Event != "m2" {
		t.Fatalf("sender B missed second message")
	}
}

func TestHub_BroadcastOffline(t *testing.T) {
	hub := NewHub(nil)

	if n := hub.Broadcast("nobody", Envelope{Event: "x"}); n != 0 {
		t.Fatalf("expected no delivery to offline user, got %d", n)
	}
	if hub.Online("nobody") {
		t.Fatal("nobody should be offline")
	}
}

func TestHub_BroadcastPrunesFailedSenders(t *testing.T) {
	hub := NewHub(nil)

	ok := &fakeSender{}
	bad := &fakeSender{fail: true}

	_, _ = hub.Join("d", "ws", ok)
	_, _ = hub.Join("d", "ws", bad)

	if n := hub.Broadcast("d", Envelope{Event: "x"}); n != 1 {
		t.Fatalf("expected partial delivery, got %d", n)
	}

	hub.mu.RLock()
	n := len(hub.groups["d"])
	hub.mu.RUnlock()
	if n != 1 {
		t.Fatalf("failed sender should have been removed, group has %d", n)
	}

	if n := hub.Broadcast("d", Envelope{Event: "y"}); n != 1 {
		t.Fatalf("expected healthy sender to keep receiving, got %d", n)
	}
}

func TestHub_Close(t *testing.T) {
	hub := NewHub(nil)
	_, _ = hub.Join("e", "ws", &fakeSender{})
	out := NewOutbox(1)
	_, _ = hub.Join("e", "grpc", out)

	hub.Close()

	if hub.Online("e") {
		t.Fatal("Close should forget connections")
	}
	select {
	case <-out.Done():
	default:
		t.Fatal("Close should close every outbox")
	}
	if out.Overflowed() {
		t.Fatal("an outbox closed by the hub did not overflow")
	}
	hub.Close()
	if _, err := hub.Join("e", "ws", &fakeSender{}); !errors.Is(err, ErrHubClosed) {
		t.Fatalf("expected ErrHubClosed got %v", err)
	}
}

func TestHub_ConcurrentJoinLeaveBroadcast(t *testing.T) {
	hub := NewHub(nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			h, err := hub.Join("f", "ws", &fakeSender{})
			if err == nil {
				hub.Leave(h)
			}
		}()
		go func() {
			defer wg.Done()
			hub.Broadcast("f", Envelope{Event: "z"})
		}()
	}
	wg.Wait()

	if hub.Online("f") {
		t.Fatal("every connection left, user should be offline")
	}
}
