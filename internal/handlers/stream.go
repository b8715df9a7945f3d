package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agentwire/agentwire/internal/metrics"
)

// Tables with a live stream.
var streamTables = map[string]bool{
	"agents":   true,
	"channels": true,
	"messages": true,
}

// keepaliveInterval is how often idle streams get a comment frame so
// intermediaries keep the connection open.
const keepaliveInterval = 15 * time.Second

// ringSize bounds per-table replay history.
const ringSize = 256

// Event is one SSE frame: a monotonically increasing id, the change
// type and the JSON-encoded row.
type Event struct {
	ID    uint64
	Name  string // insert, update, delete
	Data  []byte
	Table string
}

// Broadcaster fans table change events out to SSE subscribers and keeps
// a ring buffer per table so reconnecting clients can replay what they
// missed via Last-Event-ID.
type Broadcaster struct {
	mu      sync.Mutex
	nextID  uint64
	nextSub int
	subs    map[string]map[int]chan Event
	rings   map[string][]Event
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		nextID: 1,
		subs:   make(map[string]map[int]chan Event),
		rings:  make(map[string][]Event),
	}
}

// Publish encodes the row and delivers it to every subscriber of the
// table. Slow subscribers are skipped, not blocked on; they recover the
// event through replay on reconnect.
func (b *Broadcaster) Publish(table, event string, row any) {
	data, err := json.Marshal(row)
	if err != nil {
		return
	}

	b.mu.Lock()
	e := Event{ID: b.nextID, Name: event, Data: data, Table: table}
	b.nextID++

	ring := append(b.rings[table], e)
	if len(ring) > ringSize {
		ring = ring[len(ring)-ringSize:]
	}
	b.rings[table] = ring

	var drops []int
	for id, ch := range b.subs[table] {
		select {
		case ch <- e:
		default:
			drops = append(drops, id)
		}
	}
	for _, id := range drops {
		close(b.subs[table][id])
		delete(b.subs[table], id)
	}
	b.mu.Unlock()
}

// Subscribe registers a subscriber and returns its event channel, any
// replay events newer than lastEventID, and a cancel func.
func (b *Broadcaster) Subscribe(table string, lastEventID uint64) (<-chan Event, []Event, func()) {
	ch := make(chan Event, 64)

	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	if b.subs[table] == nil {
		b.subs[table] = make(map[int]chan Event)
	}
	b.subs[table][id] = ch

	var replay []Event
	if lastEventID > 0 {
		for _, e := range b.rings[table] {
			if e.ID > lastEventID {
				replay = append(replay, e)
			}
		}
	}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if sub, ok := b.subs[table][id]; ok {
			close(sub)
			delete(b.subs[table], id)
		}
		b.mu.Unlock()
	}
	return ch, replay, cancel
}

// Stream handles GET /v1/{table}/stream.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	if !streamTables[table] {
		h.Error(w, http.StatusNotFound, "unknown stream")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.Error(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	var lastEventID uint64
	if raw := r.Header.Get("Last-Event-ID"); raw != "" {
		fmt.Sscanf(raw, "%d", &lastEventID)
	}

	events, replay, cancel := h.bcast.Subscribe(table, lastEventID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	metrics.StreamClients.WithLabelValues(table).Inc()
	defer metrics.StreamClients.WithLabelValues(table).Dec()

	for _, e := range replay {
		writeEvent(w, e)
		metrics.StreamEventsSent.WithLabelValues(table, e.Name).Inc()
	}
	flusher.Flush()

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-events:
			if !ok {
				// Dropped for falling behind; the client reconnects
				// with Last-Event-ID and replays.
				return
			}
			writeEvent(w, e)
			metrics.StreamEventsSent.WithLabelValues(table, e.Name).Inc()
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, e Event) {
	fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", e.ID, e.Name, e.Data)
}
