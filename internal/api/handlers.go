package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/botpanel/internal/events"
	"github.com/mattjoyce/botpanel/internal/rules"
	"github.com/mattjoyce/botpanel/internal/state"
	"github.com/mattjoyce/botpanel/internal/supervisor"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	stored, err := s.store.ListRules(r.Context())
	if err != nil {
		s.logger.Error("failed to list rules", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read rules")
		return
	}

	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		BotRunning:    s.bot.Status().Running,
		Rules:         len(stored),
	})
}

// handleStatus handles GET /status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	_, tokenSet, err := s.store.GetSetting(ctx, state.SettingBotToken)
	if err != nil {
		s.logger.Error("failed to read token setting", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read settings")
		return
	}
	stored, err := s.store.ListRules(ctx)
	if err != nil {
		s.logger.Error("failed to list rules", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read rules")
		return
	}

	respondJSON(w, http.StatusOK, StatusResponse{
		Bot:         s.bot.Status(),
		TokenSet:    tokenSet,
		Rules:       len(stored),
		ActiveRules: rules.Build(stored, time.Now()).Len(),
	})
}

// handleControl handles POST /control/{action}. Soft failures map to 409 so
// clients can tell "try again" from a malformed request.
func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	action := chi.URLParam(r, "action")

	var run func() supervisor.Result
	var okEvent string
	switch action {
	case "start":
		run, okEvent = func() supervisor.Result { return s.bot.Start(r.Context()) }, events.BotStarted
	case "stop":
		run, okEvent = func() supervisor.Result { return s.bot.Stop(r.Context()) }, events.BotStopped
	case "restart":
		run, okEvent = func() supervisor.Result { return s.bot.Restart(r.Context()) }, events.BotRestarted
	default:
		s.writeError(w, http.StatusBadRequest, "unknown action: "+action)
		return
	}

	if !s.limiter.Allow() {
		w.Header().Set("Retry-After", "1")
		s.writeError(w, http.StatusTooManyRequests, "too many control requests")
		return
	}

	res := run()
	st := s.bot.Status()
	payload := map[string]any{"action": action, "message": res.Message, "pid": st.PID}

	code := http.StatusOK
	if res.OK {
		s.events.Publish(okEvent, payload)
	} else {
		code = http.StatusConflict
		s.events.Publish(events.BotControlFailed, payload)
	}
	s.logger.Info("bot control", "action", action, "ok", res.OK, "message", res.Message)

	respondJSON(w, code, ControlResponse{
		Action:  action,
		OK:      res.OK,
		Message: res.Message,
		Running: st.Running,
	})
}

// handleGetSettings handles GET /settings.
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	token, ok, err := s.store.GetSetting(r.Context(), state.SettingBotToken)
	if err != nil {
		s.logger.Error("failed to read token setting", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read settings")
		return
	}
	ok = ok && token != ""
	resp := SettingsResponse{TokenSet: ok}
	if ok {
		resp.TokenHint = TokenHint(token)
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleSetToken handles PUT /settings/token. The worker reads the token at
// startup, so no reload signal is raised.
func (s *Server) handleSetToken(w http.ResponseWriter, r *http.Request) {
	var req SetTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	token := strings.TrimSpace(req.Token)
	if token == "" {
		s.writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	if err := s.store.SetSetting(r.Context(), state.SettingBotToken, token); err != nil {
		s.logger.Error("failed to save token", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to save token")
		return
	}
	s.events.Publish(events.SettingsUpdated, map[string]string{"key": state.SettingBotToken})
	s.logger.Info("bot token updated")

	respondJSON(w, http.StatusOK, SettingsResponse{
		TokenSet:        true,
		TokenHint:       TokenHint(token),
		RestartRequired: s.bot.Status().Running,
	})
}

// TokenHint masks all but the last four characters of a token. Short tokens
// are masked entirely.
func TokenHint(token string) string {
	const visible = 4
	if len(token) <= 2*visible {
		return "****"
	}
	return "****" + token[len(token)-visible:]
}

// respondJSON is a helper to write JSON responses.
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}

func isNotFound(err error) bool {
	return errors.Is(err, state.ErrRuleNotFound)
}
