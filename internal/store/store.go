package store

import (
	"context"
	"time"

	"github.com/agentwire/agentwire/internal/metrics"
	"github.com/agentwire/agentwire/wire"
)

// DataStore defines the interface for persistent storage of agents,
// channels and messages. Both PostgresStore and SQLiteStore implement
// this interface.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Agent operations
	UpsertAgent(ctx context.Context, agent *wire.Agent) (*wire.Agent, error)
	TouchAgent(ctx context.Context, id string, at time.Time) error
	GetAgent(ctx context.Context, id string) (*wire.Agent, error)
	ListAgents(ctx context.Context, limit int) ([]wire.Agent, error)

	// Channel operations
	CreateChannel(ctx context.Context, ch *wire.Channel) (*wire.Channel, error)
	GetChannel(ctx context.Context, id string) (*wire.Channel, error)
	ListChannels(ctx context.Context, limit int) ([]wire.Channel, error)

	// Message operations
	InsertMessage(ctx context.Context, msg *wire.Message) error
	ListMessages(ctx context.Context, channelID string, limit int) ([]wire.Message, error)
}

// DefaultListLimit caps list queries without an explicit limit.
const DefaultListLimit = 100

// MaxListLimit is the hard ceiling on snapshot sizes.
const MaxListLimit = 1000

// ClampLimit normalizes a client-supplied limit.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

// observe records one storage operation's latency.
func observe(backend, op string, start time.Time) {
	metrics.StoreLatency.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
}
