package events

import (
	"encoding/json"
	"testing"
	"time"
)

func TestPublishAssignsIncreasingIDs(t *testing.T) {
	h := NewHub(10)
	a := h.Publish(RuleCreated, map[string]int64{"id": 1})
	b := h.Publish(RuleDeleted, nil)

	if a.ID != 1 || b.ID != 2 {
		t.Fatalf("ids = %d, %d; want 1, 2", a.ID, b.ID)
	}
	if string(a.Data) != `{"id":1}` {
		t.Fatalf("data = %s", a.Data)
	}
	if string(b.Data) != "{}" {
		t.Fatalf("nil data = %s, want {}", b.Data)
	}
}

func TestUnmarshalablePayloadBecomesEmptyObject(t *testing.T) {
	h := NewHub(1)
	ev := h.Publish(BotStarted, map[string]any{"bad": make(chan int)})
	if string(ev.Data) != "{}" {
		t.Fatalf("data = %s, want {}", ev.Data)
	}
}

func TestSnapshotRingOverwritesOldest(t *testing.T) {
	h := NewHub(3)
	for i := 0; i < 5; i++ {
		h.Publish(BotStarted, nil)
	}

	snap := h.SnapshotSince(0)
	if len(snap) != 3 {
		t.Fatalf("snapshot len = %d, want 3", len(snap))
	}
	if snap[0].ID != 3 || snap[2].ID != 5 {
		t.Fatalf("snapshot ids = %d..%d, want 3..5", snap[0].ID, snap[2].ID)
	}

	since := h.SnapshotSince(4)
	if len(since) != 1 || since[0].ID != 5 {
		t.Fatalf("SnapshotSince(4) = %+v", since)
	}
}

func TestSubscribeReceivesAndCancelCloses(t *testing.T) {
	h := NewHub(5)
	ch, cancel := h.Subscribe()
	if h.Subscribers() != 1 {
		t.Fatalf("subscribers = %d, want 1", h.Subscribers())
	}

	h.Publish(SettingsUpdated, nil)
	select {
	case ev := <-ch:
		if ev.Type != SettingsUpdated {
			t.Fatalf("type = %q", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel")
	}
	if h.Subscribers() != 0 {
		t.Fatalf("subscribers = %d after cancel", h.Subscribers())
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub(1)
	_, cancel := h.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			h.Publish(BotStopped, nil)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publisher blocked on a full subscriber")
	}
}

func TestEventJSON(t *testing.T) {
	h := NewHub(1)
	h.now = func() time.Time { return time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC) }
	ev := h.Publish(RuleUpdated, map[string]string{"trigger": "!ping"})

	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"id":1,"type":"rule.updated","at":"2026-02-03T04:05:06Z","data":{"trigger":"!ping"}}`
	if string(b) != want {
		t.Fatalf("json = %s\nwant  %s", b, want)
	}
}

func TestLatestID(t *testing.T) {
	h := NewHub(2)
	if got := h.LatestID(); got != 0 {
		t.Fatalf("empty hub LatestID = %d, want 0", got)
	}
	for i := 0; i < 3; i++ {
		h.Publish(RuleCreated, nil)
	}
	if got := h.LatestID(); got != 3 {
		t.Fatalf("LatestID = %d, want 3", got)
	}
}
