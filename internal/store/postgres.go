package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentwire/agentwire/wire"
)

// PostgresStore handles PostgreSQL database operations for multi-node
// relay deployments.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	store := &PostgresStore{pool: pool}
	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *PostgresStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		machine_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		session_name TEXT NOT NULL DEFAULT '',
		project_path TEXT NOT NULL DEFAULT '',
		capabilities JSONB NOT NULL DEFAULT '{}',
		heartbeat_at TIMESTAMPTZ NOT NULL,
		registered_at TIMESTAMPTZ NOT NULL,
		UNIQUE(machine_id, session_id)
	);

	CREATE TABLE IF NOT EXISTS channels (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		channel_type TEXT NOT NULL,
		members JSONB NOT NULL DEFAULT '[]',
		created_by TEXT NOT NULL DEFAULT '',
		metadata JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		channel_id TEXT NOT NULL DEFAULT '',
		sender_id TEXT NOT NULL,
		target_type TEXT NOT NULL,
		target_address TEXT NOT NULL,
		message_type TEXT NOT NULL,
		content TEXT NOT NULL,
		metadata JSONB NOT NULL DEFAULT '{}',
		status TEXT NOT NULL,
		claimed_by TEXT NOT NULL DEFAULT '',
		thread_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS idx_agents_heartbeat ON agents(heartbeat_at);
	CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(channel_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// UpsertAgent inserts the agent or refreshes an existing registration.
// Re-registering with the same (machine, session) identity but no stored
// id keeps the existing row; the restart path never errors.
func (s *PostgresStore) UpsertAgent(ctx context.Context, agent *wire.Agent) (*wire.Agent, error) {
	if agent.ID == "" {
		agent.ID = wire.NewUUIDv7()
	}
	now := time.Now().UTC()
	if agent.RegisteredAt.IsZero() {
		agent.RegisteredAt = now
	}
	agent.HeartbeatAt = now

	out := &wire.Agent{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO agents (id, machine_id, session_id, session_name, project_path, capabilities, heartbeat_at, registered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (machine_id, session_id) DO UPDATE SET
			session_name = EXCLUDED.session_name,
			project_path = EXCLUDED.project_path,
			capabilities = EXCLUDED.capabilities,
			heartbeat_at = EXCLUDED.heartbeat_at
		RETURNING id, machine_id, session_id, session_name, project_path, capabilities, heartbeat_at, registered_at
	`, agent.ID, agent.MachineID, agent.SessionID, agent.SessionName,
		agent.ProjectPath, agent.Capabilities, agent.HeartbeatAt, agent.RegisteredAt).Scan(
		&out.ID, &out.MachineID, &out.SessionID, &out.SessionName,
		&out.ProjectPath, &out.Capabilities, &out.HeartbeatAt, &out.RegisteredAt,
	)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// TouchAgent refreshes the heartbeat timestamp.
func (s *PostgresStore) TouchAgent(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE agents SET heartbeat_at = $1 WHERE id = $2
	`, at.UTC(), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// GetAgent retrieves an agent by ID, nil if absent.
func (s *PostgresStore) GetAgent(ctx context.Context, id string) (*wire.Agent, error) {
	agent := &wire.Agent{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, machine_id, session_id, session_name, project_path, capabilities, heartbeat_at, registered_at
		FROM agents WHERE id = $1
	`, id).Scan(
		&agent.ID, &agent.MachineID, &agent.SessionID, &agent.SessionName,
		&agent.ProjectPath, &agent.Capabilities, &agent.HeartbeatAt, &agent.RegisteredAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return agent, nil
}

// ListAgents retrieves agents, most recent heartbeat first.
func (s *PostgresStore) ListAgents(ctx context.Context, limit int) ([]wire.Agent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, machine_id, session_id, session_name, project_path, capabilities, heartbeat_at, registered_at
		FROM agents
		ORDER BY heartbeat_at DESC
		LIMIT $1
	`, ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []wire.Agent
	for rows.Next() {
		var agent wire.Agent
		err := rows.Scan(
			&agent.ID, &agent.MachineID, &agent.SessionID, &agent.SessionName,
			&agent.ProjectPath, &agent.Capabilities, &agent.HeartbeatAt, &agent.RegisteredAt,
		)
		if err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

// CreateChannel creates a new channel.
func (s *PostgresStore) CreateChannel(ctx context.Context, ch *wire.Channel) (*wire.Channel, error) {
	if ch.ID == "" {
		ch.ID = wire.NewUUIDv7()
	}
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = time.Now().UTC()
	}
	members := ch.Members
	if members == nil {
		members = []string{}
	}

	out := &wire.Channel{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO channels (id, name, channel_type, members, created_by, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, name, channel_type, members, created_by, metadata, created_at
	`, ch.ID, ch.Name, string(ch.Type), members, ch.CreatedBy, ch.Metadata, ch.CreatedAt).Scan(
		&out.ID, &out.Name, &out.Type, &out.Members, &out.CreatedBy, &out.Metadata, &out.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetChannel retrieves a channel by ID, nil if absent.
func (s *PostgresStore) GetChannel(ctx context.Context, id string) (*wire.Channel, error) {
	ch := &wire.Channel{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, channel_type, members, created_by, metadata, created_at
		FROM channels WHERE id = $1
	`, id).Scan(&ch.ID, &ch.Name, &ch.Type, &ch.Members, &ch.CreatedBy, &ch.Metadata, &ch.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return ch, nil
}

// ListChannels retrieves channels, newest first.
func (s *PostgresStore) ListChannels(ctx context.Context, limit int) ([]wire.Channel, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, channel_type, members, created_by, metadata, created_at
		FROM channels
		ORDER BY created_at DESC
		LIMIT $1
	`, ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []wire.Channel
	for rows.Next() {
		var ch wire.Channel
		err := rows.Scan(&ch.ID, &ch.Name, &ch.Type, &ch.Members, &ch.CreatedBy, &ch.Metadata, &ch.CreatedAt)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

// InsertMessage stores a message.
func (s *PostgresStore) InsertMessage(ctx context.Context, msg *wire.Message) error {
	defer observe("postgres", "insert_message", time.Now())

	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, channel_id, sender_id, target_type, target_address, message_type,
			content, metadata, status, claimed_by, thread_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, msg.ID, msg.ChannelID, msg.SenderID, string(msg.TargetType), msg.TargetAddress,
		string(msg.Type), msg.Content, msg.Metadata, string(msg.Status),
		msg.ClaimedBy, msg.ThreadID, msg.CreatedAt, msg.ExpiresAt)
	return err
}

// ListMessages retrieves messages, newest first, optionally scoped to
// one channel.
func (s *PostgresStore) ListMessages(ctx context.Context, channelID string, limit int) ([]wire.Message, error) {
	defer observe("postgres", "list_messages", time.Now())

	query := `
		SELECT id, channel_id, sender_id, target_type, target_address, message_type,
			content, metadata, status, claimed_by, thread_id, created_at, expires_at
		FROM messages`
	args := []any{}
	if channelID != "" {
		query += ` WHERE channel_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`
		args = append(args, channelID, ClampLimit(limit))
	} else {
		query += ` ORDER BY created_at DESC, id DESC LIMIT $1`
		args = append(args, ClampLimit(limit))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []wire.Message
	for rows.Next() {
		var msg wire.Message
		err := rows.Scan(&msg.ID, &msg.ChannelID, &msg.SenderID, &msg.TargetType, &msg.TargetAddress,
			&msg.Type, &msg.Content, &msg.Metadata, &msg.Status, &msg.ClaimedBy, &msg.ThreadID,
			&msg.CreatedAt, &msg.ExpiresAt)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
