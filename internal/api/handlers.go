package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/herald/internal/profile"
	"github.com/mattjoyce/herald/internal/rule"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.QueueStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCancelItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.engine.CancelItem(r.Context(), id); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "cancelled"})
}

type ruleSummary struct {
	rule.Rule
	Fingerprint string `json:"fingerprint,omitempty"`
}

func (s *Server) handleListRules(w http.ResponseWriter, _ *http.Request) {
	rules := s.engine.Rules()
	out := make([]ruleSummary, 0, len(rules))
	for _, r := range rules {
		summary := ruleSummary{Rule: r}
		if fp, err := rule.Fingerprint(r); err == nil {
			summary.Fingerprint = fp
		}
		out = append(out, summary)
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": out})
}

func (s *Server) handleSetRuleActive(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := s.engine.SetRuleActive(id, req.Active); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "active": req.Active})
}

func (s *Server) handleSubmitEvent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Trigger string         `json:"trigger"`
		UserID  string         `json:"user_id"`
		Payload map[string]any `json:"payload,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := s.engine.SubmitEvent(r.Context(), rule.TriggerKind(req.Trigger), req.UserID, req.Payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleUpsertProfile(w http.ResponseWriter, r *http.Request) {
	var p profile.Profile
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if p.ID == "" {
		writeError(w, http.StatusBadRequest, "profile id is required")
		return
	}

	s.engine.UpsertProfile(p)
	writeJSON(w, http.StatusOK, map[string]string{"id": p.ID, "status": "stored"})
}
