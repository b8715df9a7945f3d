// Package handlers implements the relay's /v1 HTTP API: registration,
// presence, channels, message publishing and the per-table SSE streams.
package handlers

import (
	"encoding/json"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/agentwire/agentwire/internal/store"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	db     store.DataStore
	redis  *store.RedisStore // optional message cache
	bcast  *Broadcaster
	logger zerolog.Logger
}

// NewHandler creates a new Handler with the given stores.
func NewHandler(db store.DataStore, redis *store.RedisStore, bcast *Broadcaster, logger zerolog.Logger) *Handler {
	return &Handler{db: db, redis: redis, bcast: bcast, logger: logger}
}

// rowsResponse is the envelope every snapshot endpoint returns.
type rowsResponse struct {
	Rows any `json:"rows"`
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// Rows sends a snapshot envelope. A nil slice still encodes as
// {"rows":[]}, never null.
func (h *Handler) Rows(w http.ResponseWriter, rows any) {
	if v := reflect.ValueOf(rows); rows == nil || (v.Kind() == reflect.Slice && v.IsNil()) {
		rows = []struct{}{}
	}
	h.JSON(w, http.StatusOK, rowsResponse{Rows: rows})
}

// queryLimit parses the limit query parameter.
func queryLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return limit
}

// sanitizeName trims and limits name to 100 characters, removing control characters.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)

	// Remove control characters
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	// Limit to 100 characters
	if len(name) > 100 {
		name = name[:100]
	}

	return name
}
