package api

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/zeebo/blake3"

	"github.com/mattjoyce/botpanel/internal/events"
	"github.com/mattjoyce/botpanel/internal/log"
	"github.com/mattjoyce/botpanel/internal/state"
)

// handleListRules handles GET /rules. The body is fingerprinted so pollers
// can send If-None-Match and get a 304 when nothing changed.
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListRulesNewestFirst(r.Context())
	if err != nil {
		s.logger.Error("failed to list rules", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list rules")
		return
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(RuleListResponse{Rules: list, Count: len(list)}); err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to encode rules")
		return
	}
	etag := listETag(buf.Bytes())

	w.Header().Set("ETag", etag)
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func listETag(body []byte) string {
	sum := blake3.Sum256(body)
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}

// handleCreateRule handles POST /rules.
func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.decodeRule(w, r)
	if !ok {
		return
	}

	created, err := s.store.AddRule(r.Context(), rec)
	if err != nil {
		s.logger.Error("failed to create rule", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to create rule")
		return
	}
	signalled := s.signalReload(created.ID)
	s.events.Publish(events.RuleCreated, ruleEvent(created))
	log.WithRule(created.ID).Info("rule created", "trigger", created.Trigger)

	respondJSON(w, http.StatusCreated, RuleMutationResponse{Rule: created, ReloadSignalled: signalled})
}

// handleGetRule handles GET /rules/{id}.
func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id, ok := s.ruleID(w, r)
	if !ok {
		return
	}
	rec, err := s.store.GetRule(r.Context(), id)
	if isNotFound(err) {
		s.writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to get rule", "rule_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get rule")
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// handleUpdateRule handles PUT /rules/{id}. Every field is replaced.
func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id, ok := s.ruleID(w, r)
	if !ok {
		return
	}
	rec, ok := s.decodeRule(w, r)
	if !ok {
		return
	}
	rec.ID = id

	updated, err := s.store.UpdateRule(r.Context(), rec)
	if isNotFound(err) {
		s.writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to update rule", "rule_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to update rule")
		return
	}
	signalled := s.signalReload(id)
	s.events.Publish(events.RuleUpdated, ruleEvent(updated))
	log.WithRule(id).Info("rule updated", "trigger", updated.Trigger, "enabled", updated.Enabled)

	respondJSON(w, http.StatusOK, RuleMutationResponse{Rule: updated, ReloadSignalled: signalled})
}

// handleDeleteRule handles DELETE /rules/{id}.
func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id, ok := s.ruleID(w, r)
	if !ok {
		return
	}
	err := s.store.DeleteRule(r.Context(), id)
	if isNotFound(err) {
		s.writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to delete rule", "rule_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to delete rule")
		return
	}
	s.signalReload(id)
	s.events.Publish(events.RuleDeleted, map[string]int64{"id": id})
	log.WithRule(id).Info("rule deleted")

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) decodeRule(w http.ResponseWriter, r *http.Request) (state.RuleRecord, bool) {
	var req RuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return state.RuleRecord{}, false
	}
	if strings.TrimSpace(req.Trigger) == "" || strings.TrimSpace(req.Response) == "" {
		s.writeError(w, http.StatusBadRequest, "trigger and response are required")
		return state.RuleRecord{}, false
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	return state.RuleRecord{
		Trigger:         req.Trigger,
		Response:        req.Response,
		AllowedChannels: req.AllowedChannels,
		AllowedUsers:    req.AllowedUsers,
		Enabled:         enabled,
	}, true
}

func (s *Server) ruleID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid rule id")
		return 0, false
	}
	return id, true
}

// signalReload raises the reload flag. A failure leaves the worker to catch
// up on its TTL.
func (s *Server) signalReload(ruleID int64) bool {
	if s.reload == nil {
		return false
	}
	if err := s.reload.Set(); err != nil {
		s.logger.Warn("failed to set reload flag", "rule_id", ruleID, "error", err)
		return false
	}
	return true
}

func ruleEvent(r state.RuleRecord) map[string]any {
	return map[string]any{"id": r.ID, "trigger": r.Trigger, "enabled": r.Enabled}
}
