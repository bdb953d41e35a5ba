package bot

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/mattjoyce/botpanel/internal/rules"
)

func TestDispatcherMatch(t *testing.T) {
	set := rules.Set{Rules: []rules.Rule{
		rule(1, "!ping", "pong", "", ""),
		rule(2, "!hello", "hi from general", "100", ""),
		rule(3, "!hello", "hi from anywhere", "", ""),
		rule(4, "!secret", "for alice", "", "alice"),
	}}
	d := NewDispatcher(&staticRules{set: set}, nil, nil)

	tests := []struct {
		name    string
		msg     *fakeMessage
		wantID  int64
		matched bool
	}{
		{"exact", &fakeMessage{author: "u", channel: "c", content: "!ping"}, 1, true},
		{"surrounding whitespace", &fakeMessage{author: "u", channel: "c", content: "  !ping\n"}, 1, true},
		{"case sensitive", &fakeMessage{author: "u", channel: "c", content: "!PING"}, 0, false},
		{"not a prefix match", &fakeMessage{author: "u", channel: "c", content: "!ping now"}, 0, false},
		{"first scoped rule applies", &fakeMessage{author: "u", channel: "100", content: "!hello"}, 2, true},
		{"scope mismatch falls through", &fakeMessage{author: "u", channel: "200", content: "!hello"}, 3, true},
		{"user allowed", &fakeMessage{author: "alice", channel: "c", content: "!secret"}, 4, true},
		{"user not allowed", &fakeMessage{author: "bob", channel: "c", content: "!secret"}, 0, false},
		{"blank content", &fakeMessage{author: "u", channel: "c", content: "   "}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, ok := d.Match(set, tt.msg)
			if ok != tt.matched {
				t.Fatalf("Match ok = %v, want %v", ok, tt.matched)
			}
			if ok && r.ID != tt.wantID {
				t.Fatalf("Match id = %d, want %d", r.ID, tt.wantID)
			}
		})
	}
}

func TestDispatcherRepliesToPing(t *testing.T) {
	next := &recordingHandler{}
	d := NewDispatcher(&staticRules{set: rules.Set{Rules: []rules.Rule{rule(1, "!ping", "pong", "", "")}}}, next, nil)

	m := &fakeMessage{author: "u", channel: "c", content: "!ping"}
	d.HandleMessage(context.Background(), m)

	if diff := cmp.Diff([]string{"pong"}, m.replies()); diff != "" {
		t.Fatalf("replies mismatch (-want +got):\n%s", diff)
	}
	if len(next.seen) != 1 {
		t.Fatalf("next handler saw %d messages, want 1", len(next.seen))
	}
}

func TestDispatcherFiresAtMostOneRule(t *testing.T) {
	set := rules.Set{Rules: []rules.Rule{
		rule(1, "!dup", "first", "", ""),
		rule(2, "!dup", "second", "", ""),
	}}
	d := NewDispatcher(&staticRules{set: set}, nil, nil)

	m := &fakeMessage{author: "u", channel: "c", content: "!dup"}
	d.HandleMessage(context.Background(), m)

	if diff := cmp.Diff([]string{"first"}, m.replies()); diff != "" {
		t.Fatalf("replies mismatch (-want +got):\n%s", diff)
	}
}

func TestDispatcherScopedDuplicateTriggersReplyOnce(t *testing.T) {
	set := rules.Set{Rules: []rules.Rule{
		rule(1, "!hello", "hi from general", "100", ""),
		rule(2, "!hello", "hi from random", "200", ""),
	}}
	next := &recordingHandler{}
	d := NewDispatcher(&staticRules{set: set}, next, nil)

	m := &fakeMessage{author: "u", channel: "200", content: "!hello"}
	d.HandleMessage(context.Background(), m)

	if diff := cmp.Diff([]string{"hi from random"}, m.replies()); diff != "" {
		t.Fatalf("replies mismatch (-want +got):\n%s", diff)
	}
	if len(next.seen) != 1 {
		t.Fatalf("next handler saw %d messages, want 1", len(next.seen))
	}

	other := &fakeMessage{author: "u", channel: "300", content: "!hello"}
	d.HandleMessage(context.Background(), other)
	if len(other.replies()) != 0 {
		t.Fatalf("unexpected reply outside both scopes: %v", other.replies())
	}
}

func TestDispatcherIgnoresBotsAndSelf(t *testing.T) {
	p := &staticRules{set: rules.Set{Rules: []rules.Rule{rule(1, "!ping", "pong", "", "")}}}
	next := &recordingHandler{}
	d := NewDispatcher(p, next, nil)

	for _, m := range []*fakeMessage{
		{author: "me", self: true, channel: "c", content: "!ping"},
		{author: "other-bot", bot: true, channel: "c", content: "!ping"},
		{author: "u", channel: "c", content: ""},
	} {
		d.HandleMessage(context.Background(), m)
		if len(m.replies()) != 0 {
			t.Fatalf("unexpected reply to %+v", m)
		}
	}
	if p.calls != 0 {
		t.Fatalf("rules consulted %d times for ignored messages", p.calls)
	}
	if len(next.seen) != 0 {
		t.Fatalf("next handler saw %d ignored messages", len(next.seen))
	}
}

func TestDispatcherRunsNextWithoutMatch(t *testing.T) {
	next := &recordingHandler{}
	d := NewDispatcher(&staticRules{}, next, nil)

	m := &fakeMessage{author: "u", channel: "c", content: "!uptime"}
	d.HandleMessage(context.Background(), m)

	if len(m.replies()) != 0 {
		t.Fatalf("unexpected replies: %v", m.replies())
	}
	if len(next.seen) != 1 {
		t.Fatalf("next handler saw %d messages, want 1", len(next.seen))
	}
}

func TestDispatcherSendFailureIsContained(t *testing.T) {
	next := &recordingHandler{}
	d := NewDispatcher(&staticRules{set: rules.Set{Rules: []rules.Rule{rule(1, "!ping", "pong", "", "")}}}, next, nil)

	m := &fakeMessage{author: "u", channel: "c", content: "!ping", sendErr: errors.New("missing permissions")}
	d.HandleMessage(context.Background(), m)

	if len(m.replies()) != 1 {
		t.Fatalf("expected one send attempt, got %d", len(m.replies()))
	}
	if len(next.seen) != 1 {
		t.Fatal("next handler skipped after a send failure")
	}
}
