package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/agentwire/agentwire/internal/metrics"
	"github.com/agentwire/agentwire/wire"
)

var validMessageTypes = map[wire.MessageType]bool{
	wire.MessageChat:     true,
	wire.MessageMail:     true,
	wire.MessageMemo:     true,
	wire.MessageCommand:  true,
	wire.MessageResponse: true,
}

// requiredMetadata lists the metadata keys each typed message must carry.
var requiredMetadata = map[wire.MessageType][]string{
	wire.MessageMail:     {wire.MetaSubject},
	wire.MessageMemo:     {wire.MetaCategory},
	wire.MessageCommand:  {wire.MetaCommandID},
	wire.MessageResponse: {wire.MetaCommandID, wire.MetaInReplyTo},
}

// PublishMessage handles POST /v1/messages.
func (h *Handler) PublishMessage(w http.ResponseWriter, r *http.Request) {
	var msg wire.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if msg.SenderID == "" {
		h.Error(w, http.StatusBadRequest, "sender_id is required")
		return
	}
	if !validMessageTypes[msg.Type] {
		h.Error(w, http.StatusBadRequest, "invalid message_type")
		return
	}
	if _, err := wire.ParseAddress(msg.TargetAddress); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid target_address")
		return
	}
	for _, key := range requiredMetadata[msg.Type] {
		if msg.Metadata[key] == "" {
			h.Error(w, http.StatusBadRequest, string(msg.Type)+" message requires metadata "+key)
			return
		}
	}

	if msg.ID == "" {
		msg.ID = wire.NewMessageID()
	}
	if msg.Status == "" {
		msg.Status = wire.StatusPending
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	if err := h.db.InsertMessage(r.Context(), &msg); err != nil {
		h.logger.Error().Err(err).Msg("message insert failed")
		h.Error(w, http.StatusInternalServerError, "could not store message")
		return
	}

	// Cache is best-effort; losing it only costs a database read.
	if h.redis != nil {
		if err := h.redis.CacheMessage(r.Context(), &msg); err != nil {
			h.logger.Warn().Err(err).Msg("message cache write failed")
		}
	}

	metrics.MessagesPublished.WithLabelValues(string(msg.Type)).Inc()
	h.bcast.Publish("messages", "insert", &msg)

	h.JSON(w, http.StatusCreated, &msg)
}

// ListMessages handles GET /v1/messages.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	channelID := r.URL.Query().Get("channel_id")
	limit := queryLimit(r)

	// Serve channel-scoped reads from the cache when possible.
	if h.redis != nil && channelID != "" {
		if msgs, err := h.redis.RecentMessages(r.Context(), channelID, limit); err == nil && len(msgs) > 0 {
			h.Rows(w, msgs)
			return
		}
	}

	msgs, err := h.db.ListMessages(r.Context(), channelID, limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("message list failed")
		h.Error(w, http.StatusInternalServerError, "could not list messages")
		return
	}
	h.Rows(w, msgs)
}
