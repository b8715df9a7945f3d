package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/agentwire/agentwire/wire"
)

var validChannelTypes = map[wire.ChannelType]bool{
	wire.ChannelDirect:    true,
	wire.ChannelProject:   true,
	wire.ChannelBroadcast: true,
}

// CreateChannel handles POST /v1/channels.
func (h *Handler) CreateChannel(w http.ResponseWriter, r *http.Request) {
	var ch wire.Channel
	if err := json.NewDecoder(r.Body).Decode(&ch); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ch.Name = sanitizeName(ch.Name)
	if ch.Name == "" {
		h.Error(w, http.StatusBadRequest, "name is required")
		return
	}
	if ch.Type == "" {
		ch.Type = wire.ChannelProject
	}
	if !validChannelTypes[ch.Type] {
		h.Error(w, http.StatusBadRequest, "invalid channel_type")
		return
	}

	saved, err := h.db.CreateChannel(r.Context(), &ch)
	if err != nil {
		h.logger.Error().Err(err).Msg("channel create failed")
		h.Error(w, http.StatusInternalServerError, "could not create channel")
		return
	}

	h.bcast.Publish("channels", "insert", saved)
	h.JSON(w, http.StatusCreated, saved)
}

// ListChannels handles GET /v1/channels.
func (h *Handler) ListChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := h.db.ListChannels(r.Context(), queryLimit(r))
	if err != nil {
		h.logger.Error().Err(err).Msg("channel list failed")
		h.Error(w, http.StatusInternalServerError, "could not list channels")
		return
	}
	h.Rows(w, channels)
}
