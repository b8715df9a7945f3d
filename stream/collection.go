package stream

import "sync"

// Collection is the local, eventually-consistent mirror of one remote
// table. Only the client's run loop mutates it; reads are safe from any
// goroutine.
type Collection struct {
	mu    sync.RWMutex
	rows  map[string]map[string]any
	order []string
}

// NewCollection creates an empty mirror.
func NewCollection() *Collection {
	return &Collection{rows: make(map[string]map[string]any)}
}

// Apply folds one event into the mirror:
//
//	insert/initial  append if the id is not already present (idempotent)
//	update          merge fields into the existing row, no-op if absent
//	delete          remove by id
//	anything else   upsert
func (c *Collection) Apply(event string, rec map[string]any) {
	id, ok := rec["id"].(string)
	if !ok || id == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch event {
	case EventInsert, EventInitial:
		if _, exists := c.rows[id]; exists {
			return
		}
		c.rows[id] = cloneRow(rec)
		c.order = append(c.order, id)
	case EventUpdate:
		row, exists := c.rows[id]
		if !exists {
			return
		}
		for k, v := range rec {
			row[k] = v
		}
	case EventDelete:
		if _, exists := c.rows[id]; !exists {
			return
		}
		delete(c.rows, id)
		for i, oid := range c.order {
			if oid == id {
				c.order = append(c.order[:i], c.order[i+1:]...)
				break
			}
		}
	default:
		if row, exists := c.rows[id]; exists {
			for k, v := range rec {
				row[k] = v
			}
			return
		}
		c.rows[id] = cloneRow(rec)
		c.order = append(c.order, id)
	}
}

// Replace swaps the entire mirror for a fresh snapshot, preserving the
// snapshot's row order. Used by the initial fetch and polling refetches.
func (c *Collection) Replace(recs []map[string]any) {
	rows := make(map[string]map[string]any, len(recs))
	order := make([]string, 0, len(recs))
	for _, rec := range recs {
		id, ok := rec["id"].(string)
		if !ok || id == "" {
			continue
		}
		if _, dup := rows[id]; dup {
			continue
		}
		rows[id] = cloneRow(rec)
		order = append(order, id)
	}

	c.mu.Lock()
	c.rows = rows
	c.order = order
	c.mu.Unlock()
}

// Get returns a copy of the row with the given id.
func (c *Collection) Get(id string) (map[string]any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	row, ok := c.rows[id]
	if !ok {
		return nil, false
	}
	return cloneRow(row), true
}

// Rows returns a copy of all rows in arrival order.
func (c *Collection) Rows() []map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]map[string]any, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, cloneRow(c.rows[id]))
	}
	return out
}

// Len returns the number of mirrored rows.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rows)
}

func cloneRow(rec map[string]any) map[string]any {
	out := make(map[string]any, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}
