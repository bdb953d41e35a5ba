// Package rules turns stored rule records into the active rule set the bot
// matches messages against, and keeps that set fresh.
package rules

import (
	"encoding/hex"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/botpanel/internal/state"
)

// Rule is an enabled trigger/response pair with optional scoping.
// Empty allow-lists mean unrestricted.
type Rule struct {
	ID              int64
	Trigger         string
	Response        string
	AllowedChannels map[string]struct{}
	AllowedUsers    map[string]struct{}
}

// Allows reports whether a message from userID in channelID passes the
// rule's allow-lists.
func (r Rule) Allows(channelID, userID string) bool {
	if len(r.AllowedChannels) > 0 {
		if _, ok := r.AllowedChannels[channelID]; !ok {
			return false
		}
	}
	if len(r.AllowedUsers) > 0 {
		if _, ok := r.AllowedUsers[userID]; !ok {
			return false
		}
	}
	return true
}

// Set is the active rule set, in stored order.
type Set struct {
	Rules    []Rule
	LoadedAt time.Time
	Digest   string
}

// Len returns the number of active rules.
func (s Set) Len() int { return len(s.Rules) }

// Build filters records down to the active set: disabled rules and rules
// whose trigger or response is blank are dropped.
func Build(records []state.RuleRecord, loadedAt time.Time) Set {
	out := make([]Rule, 0, len(records))
	for _, rec := range records {
		if !rec.Enabled {
			continue
		}
		trig := strings.TrimSpace(rec.Trigger)
		resp := strings.TrimSpace(rec.Response)
		if trig == "" || resp == "" {
			continue
		}
		out = append(out, Rule{
			ID:              rec.ID,
			Trigger:         trig,
			Response:        resp,
			AllowedChannels: ParseIDList(rec.AllowedChannels),
			AllowedUsers:    ParseIDList(rec.AllowedUsers),
		})
	}
	return Set{Rules: out, LoadedAt: loadedAt, Digest: digest(out)}
}

// ParseIDList splits a comma-delimited id list into a set, ignoring blanks.
func ParseIDList(raw string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out[part] = struct{}{}
	}
	return out
}

// digest fingerprints rule content so a reload can tell whether anything
// actually changed.
func digest(rs []Rule) string {
	h := blake3.New()
	for _, r := range rs {
		writeField(h, strconv.FormatInt(r.ID, 10))
		writeField(h, r.Trigger)
		writeField(h, r.Response)
		writeField(h, strings.Join(sortedKeys(r.AllowedChannels), ","))
		writeField(h, strings.Join(sortedKeys(r.AllowedUsers), ","))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeField(w io.Writer, s string) {
	// Length prefix keeps ("ab","c") and ("a","bc") apart.
	_, _ = io.WriteString(w, strconv.Itoa(len(s))+":"+s)
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
