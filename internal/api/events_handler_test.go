package api

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/botpanel/internal/events"
)

func TestEventsStreamReplaysAndFollows(t *testing.T) {
	env := newTestEnv(t)
	env.hub.Publish(events.BotStarted, map[string]string{"action": "start"})

	srv := httptest.NewServer(env.h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+adminKey)

	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("GET /events: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	lines := bufio.NewScanner(resp.Body)
	waitFor := func(want string) {
		t.Helper()
		for lines.Scan() {
			if lines.Text() == want {
				return
			}
		}
		t.Fatalf("stream ended before %q: %v", want, lines.Err())
	}

	waitFor("event: " + events.BotStarted)
	env.hub.Publish(events.RuleDeleted, map[string]int64{"id": 7})
	waitFor("event: " + events.RuleDeleted)
	waitFor(`data: {"id":7}`)
	cancel()
}

func openStream(t *testing.T, ctx context.Context, url, lastEventID string) *bufio.Scanner {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+"/events", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+adminKey)
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /events: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return bufio.NewScanner(resp.Body)
}

// nextIDs reads frames until n event ids have been seen.
func nextIDs(t *testing.T, lines *bufio.Scanner, n int) []string {
	t.Helper()
	var ids []string
	for len(ids) < n && lines.Scan() {
		if id, ok := strings.CutPrefix(lines.Text(), "id: "); ok {
			ids = append(ids, id)
		}
	}
	if len(ids) < n {
		t.Fatalf("stream ended after ids %v: %v", ids, lines.Err())
	}
	return ids
}

func TestEventsStreamResumesAfterLastEventID(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 3; i++ {
		env.hub.Publish(events.RuleCreated, map[string]int{"n": i})
	}
	srv := httptest.NewServer(env.h)
	defer srv.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	lines := openStream(t, ctx, srv.URL, "2")
	if got := nextIDs(t, lines, 1); got[0] != "3" {
		t.Fatalf("first replayed id = %s, want 3", got[0])
	}
	cancel()
}

func TestEventsStreamTreatsIDFromEarlierPanelAsStale(t *testing.T) {
	env := newTestEnv(t)
	env.hub.Publish(events.BotStarted, nil)
	srv := httptest.NewServer(env.h)
	defer srv.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// The watcher last saw id 50 from a panel process that has since restarted.
	lines := openStream(t, ctx, srv.URL, "50")
	if got := nextIDs(t, lines, 1); got[0] != "1" {
		t.Fatalf("replayed id = %s, want the buffered event 1", got[0])
	}

	for i := 0; i < 5; i++ {
		env.hub.Publish(events.RuleUpdated, map[string]int{"n": i})
	}
	got := nextIDs(t, lines, 5)
	want := []string{"2", "3", "4", "5", "6"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ids after reconnect = %v, want %v", got, want)
		}
	}
	cancel()
}

func TestParseLastEventID(t *testing.T) {
	for in, want := range map[string]int64{"": 0, "12": 12, "-1": 0, "x": 0} {
		if got := parseLastEventID(in); got != want {
			t.Errorf("parseLastEventID(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestWriteSSE(t *testing.T) {
	rr := httptest.NewRecorder()
	ev := events.Event{ID: 3, Type: events.RuleCreated, Data: []byte(`{"id":1}`)}
	if err := writeSSE(rr, ev); err != nil {
		t.Fatalf("writeSSE: %v", err)
	}
	want := "id: 3\nevent: rule.created\ndata: {\"id\":1}\n\n"
	if got := rr.Body.String(); got != want {
		t.Fatalf("frame = %q, want %q", got, want)
	}
}
