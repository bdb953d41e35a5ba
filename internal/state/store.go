package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// SettingBotToken is the settings key holding the chat platform credential.
const SettingBotToken = "bot_token"

// ErrRuleNotFound is returned when a rule id does not exist.
var ErrRuleNotFound = errors.New("rule not found")

// RuleRecord is a persisted trigger/response rule. Allow-lists are stored as
// comma-delimited ids; an empty list means unrestricted.
type RuleRecord struct {
	ID              int64  `json:"id"`
	Trigger         string `json:"trigger"`
	Response        string `json:"response"`
	AllowedChannels string `json:"allowed_channels"`
	AllowedUsers    string `json:"allowed_users"`
	Enabled         bool   `json:"enabled"`
}

// Store holds the panel settings and the rule table.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// GetSetting returns the value for key and whether it was present.
func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	if key == "" {
		return "", false, fmt.Errorf("setting key is empty")
	}

	var value sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?;", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read setting %q: %w", key, err)
	}
	return value.String, value.Valid, nil
}

// SetSetting upserts a setting.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	if key == "" {
		return fmt.Errorf("setting key is empty")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO settings(key, value) VALUES(?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value;
`, key, value)
	if err != nil {
		return fmt.Errorf("upsert setting %q: %w", key, err)
	}
	return nil
}

// ListRules returns every rule in insertion order. This is the order the bot
// scans rules in.
func (s *Store) ListRules(ctx context.Context) ([]RuleRecord, error) {
	return s.queryRules(ctx, "SELECT id, trigger, response, allowed_channels, allowed_users, enabled FROM commands ORDER BY id ASC;")
}

// ListRulesNewestFirst returns every rule, most recently created first.
func (s *Store) ListRulesNewestFirst(ctx context.Context) ([]RuleRecord, error) {
	return s.queryRules(ctx, "SELECT id, trigger, response, allowed_channels, allowed_users, enabled FROM commands ORDER BY id DESC;")
}

func (s *Store) queryRules(ctx context.Context, query string) ([]RuleRecord, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	out := make([]RuleRecord, 0)
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}
	return out, nil
}

// GetRule returns a single rule or ErrRuleNotFound.
func (s *Store) GetRule(ctx context.Context, id int64) (RuleRecord, error) {
	row := s.db.QueryRowContext(ctx, "SELECT id, trigger, response, allowed_channels, allowed_users, enabled FROM commands WHERE id = ?;", id)
	r, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RuleRecord{}, ErrRuleNotFound
	}
	if err != nil {
		return RuleRecord{}, err
	}
	return r, nil
}

// AddRule inserts a rule and returns it with its assigned id. Text fields
// are trimmed before they are stored.
func (s *Store) AddRule(ctx context.Context, r RuleRecord) (RuleRecord, error) {
	r = normalize(r)
	res, err := s.db.ExecContext(ctx, `
INSERT INTO commands(trigger, response, allowed_channels, allowed_users, enabled)
VALUES(?, ?, ?, ?, ?);
`, r.Trigger, r.Response, r.AllowedChannels, r.AllowedUsers, boolToInt(r.Enabled))
	if err != nil {
		return RuleRecord{}, fmt.Errorf("insert rule: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return RuleRecord{}, fmt.Errorf("rule id: %w", err)
	}
	r.ID = id
	return r, nil
}

// UpdateRule replaces every field of an existing rule.
func (s *Store) UpdateRule(ctx context.Context, r RuleRecord) (RuleRecord, error) {
	r = normalize(r)
	res, err := s.db.ExecContext(ctx, `
UPDATE commands
SET trigger = ?, response = ?, allowed_channels = ?, allowed_users = ?, enabled = ?
WHERE id = ?;
`, r.Trigger, r.Response, r.AllowedChannels, r.AllowedUsers, boolToInt(r.Enabled), r.ID)
	if err != nil {
		return RuleRecord{}, fmt.Errorf("update rule %d: %w", r.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return RuleRecord{}, ErrRuleNotFound
	}
	return r, nil
}

// DeleteRule removes a rule. Deleting a missing rule returns ErrRuleNotFound.
func (s *Store) DeleteRule(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM commands WHERE id = ?;", id)
	if err != nil {
		return fmt.Errorf("delete rule %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrRuleNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (RuleRecord, error) {
	var (
		r               RuleRecord
		channels, users sql.NullString
		enabled         sql.NullInt64
	)
	if err := row.Scan(&r.ID, &r.Trigger, &r.Response, &channels, &users, &enabled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RuleRecord{}, err
		}
		return RuleRecord{}, fmt.Errorf("scan rule: %w", err)
	}
	r.AllowedChannels = channels.String
	r.AllowedUsers = users.String
	// Only an explicit 1 counts as enabled, matching how the bot filters.
	r.Enabled = enabled.Valid && enabled.Int64 == 1
	return r, nil
}

func normalize(r RuleRecord) RuleRecord {
	r.Trigger = strings.TrimSpace(r.Trigger)
	r.Response = strings.TrimSpace(r.Response)
	r.AllowedChannels = strings.TrimSpace(r.AllowedChannels)
	r.AllowedUsers = strings.TrimSpace(r.AllowedUsers)
	return r
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
