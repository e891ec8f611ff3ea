package realtime

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestNATSRelay_DeliversAcrossInstances(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set; skipping integration test")
	}

	// Two hubs stand in for two server instances sharing one NATS cluster.
	hubA, hubB := NewHub(nil), NewHub(nil)

	relayA, err := NewNATSRelay(DefaultNATSConfig(url), hubA, nil)
	if err != nil {
		t.Fatalf("NewNATSRelay A: %v", err)
	}
	defer relayA.Close()
	relayB, err := NewNATSRelay(DefaultNATSConfig(url), hubB, nil)
	if err != nil {
		t.Fatalf("NewNATSRelay B: %v", err)
	}
	defer relayB.Close()

	recv := &fakeSender{}
	_, _ = hubB.Join("64b7f0c2e1a4b3c2d1e0f9a8", "ws", recv)

	if err := relayA.Publish(context.Background(), "64b7f0c2e1a4b3c2d1e0f9a8", Envelope{Event: EventChatTyping}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		if ev, ok := recv.last(); ok && ev.Event == EventChatTyping {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("event published on instance A never reached instance B")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// A user connected nowhere is published once and counted by no instance.
	published, offline := relayCount(t, "published"), relayCount(t, "offline")
	if err := relayA.Publish(context.Background(), "64b7f0c2e1a4b3c2d1e0f9a9", Envelope{Event: EventChatTyping}); err != nil {
		t.Fatalf("Publish offline: %v", err)
	}
	if err := relayA.conn.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if got := relayCount(t, "published") - published; got != 1 {
		t.Fatalf("expected 1 published, got %v", got)
	}
	if got := relayCount(t, "offline") - offline; got != 0 {
		t.Fatalf("offline must not be counted per instance, got %v", got)
	}
}
