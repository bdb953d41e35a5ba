package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAuthenticate(t *testing.T) {
	tokens := []TokenConfig{
		{Token: "reader", Scopes: []string{ScopeRulesRO, " "}},
		{Token: "operator", Scopes: []string{ScopeBotRW, ScopeRulesRW, ScopeEventsRO}},
	}

	tests := []struct {
		name      string
		presented string
		ok        bool
		allowed   []string
		denied    []string
	}{
		{"legacy admin", "admin-key", true, []string{ScopeBotRW, ScopeSettingsRW}, nil},
		{"read only", "reader", true, []string{ScopeRulesRO}, []string{ScopeRulesRW, ScopeBotRO}},
		{"rw implies ro", "operator", true, []string{ScopeBotRO, ScopeRulesRO, ScopeEventsRO}, []string{ScopeSettingsRO}},
		{"unknown token", "nope", false, nil, nil},
		{"empty token", "", false, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok := Authenticate(tt.presented, "admin-key", tokens)
			if ok != tt.ok {
				t.Fatalf("Authenticate ok = %v, want %v", ok, tt.ok)
			}
			for _, s := range tt.allowed {
				if !HasAnyScope(p, s) {
					t.Errorf("expected scope %q", s)
				}
			}
			for _, s := range tt.denied {
				if HasAnyScope(p, s) {
					t.Errorf("unexpected scope %q", s)
				}
			}
		})
	}
}

func TestAuthenticateWithoutLegacyKey(t *testing.T) {
	if _, ok := Authenticate("", "", nil); ok {
		t.Fatal("empty key must never authenticate")
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{"Bearer abc", "abc", false},
		{"Bearer   abc  ", "abc", false},
		{"", "", true},
		{"Basic abc", "", true},
		{"Bearer    ", "", true},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "http://panel.test/status", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		got, err := ExtractBearerToken(req)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ExtractBearerToken(%q) err = %v, wantErr %v", tt.header, err, tt.wantErr)
		}
		if got != tt.want {
			t.Fatalf("ExtractBearerToken(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestKnown(t *testing.T) {
	for _, s := range []string{ScopeAll, ScopeBotRO, ScopeSettingsRW, ScopeEventsRO} {
		if !Known(s) {
			t.Errorf("Known(%q) = false", s)
		}
	}
	if Known("jobs:ro") {
		t.Error("Known(jobs:ro) = true")
	}
}
