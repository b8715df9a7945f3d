package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agentwire/agentwire/internal/metrics"
	"github.com/agentwire/agentwire/wire"
)

// RegisterAgent handles POST /v1/agents. Registration upserts on the
// (machine, session) identity, so re-registering after a restart
// refreshes the heartbeat instead of erroring.
func (h *Handler) RegisterAgent(w http.ResponseWriter, r *http.Request) {
	var agent wire.Agent
	if err := json.NewDecoder(r.Body).Decode(&agent); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if agent.MachineID == "" || agent.SessionID == "" {
		h.Error(w, http.StatusBadRequest, "machine_id and session_id are required")
		return
	}
	agent.SessionName = sanitizeName(agent.SessionName)

	saved, err := h.db.UpsertAgent(r.Context(), &agent)
	if err != nil {
		h.logger.Error().Err(err).Msg("agent upsert failed")
		h.Error(w, http.StatusInternalServerError, "could not register agent")
		return
	}

	// A brand-new row has registered_at stamped alongside its first
	// heartbeat; a refresh keeps its original registered_at.
	event := "update"
	if saved.RegisteredAt.Equal(saved.HeartbeatAt) {
		event = "insert"
		metrics.AgentsRegistered.Inc()
	}
	h.bcast.Publish("agents", event, saved)

	h.JSON(w, http.StatusCreated, saved)
}

// Heartbeat handles POST /v1/agents/{id}/heartbeat.
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.db.TouchAgent(r.Context(), id, time.Now()); err != nil {
		h.Error(w, http.StatusNotFound, "unknown agent")
		return
	}
	metrics.Heartbeats.Inc()

	if agent, err := h.db.GetAgent(r.Context(), id); err == nil && agent != nil {
		h.bcast.Publish("agents", "update", agent)
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListAgents handles GET /v1/agents.
func (h *Handler) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.db.ListAgents(r.Context(), queryLimit(r))
	if err != nil {
		h.logger.Error().Err(err).Msg("agent list failed")
		h.Error(w, http.StatusInternalServerError, "could not list agents")
		return
	}
	h.Rows(w, agents)
}
