package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/agentwire/agentwire/wire"
)

// SQLiteStore handles SQLite database operations. It is the default
// backend for single-machine deployments.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/agentwire.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/agentwire.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}

	// Initialize schema
	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		machine_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		session_name TEXT DEFAULT '',
		project_path TEXT DEFAULT '',
		capabilities TEXT DEFAULT '{}',
		heartbeat_at DATETIME NOT NULL,
		registered_at DATETIME NOT NULL,
		UNIQUE(machine_id, session_id)
	);

	CREATE TABLE IF NOT EXISTS channels (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		channel_type TEXT NOT NULL,
		members TEXT DEFAULT '[]',
		created_by TEXT DEFAULT '',
		metadata TEXT DEFAULT '{}',
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		channel_id TEXT DEFAULT '',
		sender_id TEXT NOT NULL,
		target_type TEXT NOT NULL,
		target_address TEXT NOT NULL,
		message_type TEXT NOT NULL,
		content TEXT NOT NULL,
		metadata TEXT DEFAULT '{}',
		status TEXT NOT NULL,
		claimed_by TEXT DEFAULT '',
		thread_id TEXT DEFAULT '',
		created_at DATETIME NOT NULL,
		expires_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_agents_heartbeat ON agents(heartbeat_at);
	CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(channel_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// UpsertAgent inserts the agent or refreshes an existing registration.
// Re-registering with the same (machine, session) identity but no stored
// id keeps the existing row; the restart path never errors.
func (s *SQLiteStore) UpsertAgent(ctx context.Context, agent *wire.Agent) (*wire.Agent, error) {
	if agent.ID == "" {
		agent.ID = wire.NewUUIDv7()
	}
	now := time.Now().UTC()
	if agent.RegisteredAt.IsZero() {
		agent.RegisteredAt = now
	}
	agent.HeartbeatAt = now

	caps, err := json.Marshal(agent.Capabilities)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agents (id, machine_id, session_id, session_name, project_path, capabilities, heartbeat_at, registered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(machine_id, session_id) DO UPDATE SET
			session_name = excluded.session_name,
			project_path = excluded.project_path,
			capabilities = excluded.capabilities,
			heartbeat_at = excluded.heartbeat_at
		ON CONFLICT(id) DO UPDATE SET
			session_name = excluded.session_name,
			project_path = excluded.project_path,
			capabilities = excluded.capabilities,
			heartbeat_at = excluded.heartbeat_at
	`, agent.ID, agent.MachineID, agent.SessionID, agent.SessionName,
		agent.ProjectPath, string(caps), agent.HeartbeatAt, agent.RegisteredAt)
	if err != nil {
		return nil, err
	}

	// Fetch by identity: on an identity conflict the stored id wins, not
	// the freshly generated one.
	return s.getAgentByIdentity(ctx, agent.MachineID, agent.SessionID)
}

func (s *SQLiteStore) getAgentByIdentity(ctx context.Context, machineID, sessionID string) (*wire.Agent, error) {
	agent := &wire.Agent{}
	var caps string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, machine_id, session_id, session_name, project_path, capabilities, heartbeat_at, registered_at
		FROM agents WHERE machine_id = ? AND session_id = ?
	`, machineID, sessionID).Scan(
		&agent.ID,
		&agent.MachineID,
		&agent.SessionID,
		&agent.SessionName,
		&agent.ProjectPath,
		&caps,
		&agent.HeartbeatAt,
		&agent.RegisteredAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(caps), &agent.Capabilities); err != nil {
		return nil, err
	}
	return agent, nil
}

// TouchAgent refreshes the heartbeat timestamp.
func (s *SQLiteStore) TouchAgent(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE agents SET heartbeat_at = ? WHERE id = ?
	`, at.UTC(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// GetAgent retrieves an agent by ID, nil if absent.
func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*wire.Agent, error) {
	agent := &wire.Agent{}
	var caps string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, machine_id, session_id, session_name, project_path, capabilities, heartbeat_at, registered_at
		FROM agents WHERE id = ?
	`, id).Scan(
		&agent.ID,
		&agent.MachineID,
		&agent.SessionID,
		&agent.SessionName,
		&agent.ProjectPath,
		&caps,
		&agent.HeartbeatAt,
		&agent.RegisteredAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(caps), &agent.Capabilities); err != nil {
		return nil, err
	}
	return agent, nil
}

// ListAgents retrieves agents, most recent heartbeat first.
func (s *SQLiteStore) ListAgents(ctx context.Context, limit int) ([]wire.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, machine_id, session_id, session_name, project_path, capabilities, heartbeat_at, registered_at
		FROM agents
		ORDER BY heartbeat_at DESC
		LIMIT ?
	`, ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []wire.Agent
	for rows.Next() {
		var agent wire.Agent
		var caps string
		err := rows.Scan(
			&agent.ID,
			&agent.MachineID,
			&agent.SessionID,
			&agent.SessionName,
			&agent.ProjectPath,
			&caps,
			&agent.HeartbeatAt,
			&agent.RegisteredAt,
		)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(caps), &agent.Capabilities); err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

// CreateChannel creates a new channel.
func (s *SQLiteStore) CreateChannel(ctx context.Context, ch *wire.Channel) (*wire.Channel, error) {
	if ch.ID == "" {
		ch.ID = wire.NewUUIDv7()
	}
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = time.Now().UTC()
	}

	members, err := json.Marshal(ch.Members)
	if err != nil {
		return nil, err
	}
	meta, err := json.Marshal(ch.Metadata)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO channels (id, name, channel_type, members, created_by, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ch.ID, ch.Name, string(ch.Type), string(members), ch.CreatedBy, string(meta), ch.CreatedAt)
	if err != nil {
		return nil, err
	}

	return s.GetChannel(ctx, ch.ID)
}

// GetChannel retrieves a channel by ID, nil if absent.
func (s *SQLiteStore) GetChannel(ctx context.Context, id string) (*wire.Channel, error) {
	ch := &wire.Channel{}
	var chType, members, meta string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, channel_type, members, created_by, metadata, created_at
		FROM channels WHERE id = ?
	`, id).Scan(&ch.ID, &ch.Name, &chType, &members, &ch.CreatedBy, &meta, &ch.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	ch.Type = wire.ChannelType(chType)
	if err := json.Unmarshal([]byte(members), &ch.Members); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(meta), &ch.Metadata); err != nil {
		return nil, err
	}
	return ch, nil
}

// ListChannels retrieves channels, newest first.
func (s *SQLiteStore) ListChannels(ctx context.Context, limit int) ([]wire.Channel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, channel_type, members, created_by, metadata, created_at
		FROM channels
		ORDER BY created_at DESC
		LIMIT ?
	`, ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []wire.Channel
	for rows.Next() {
		var ch wire.Channel
		var chType, members, meta string
		err := rows.Scan(&ch.ID, &ch.Name, &chType, &members, &ch.CreatedBy, &meta, &ch.CreatedAt)
		if err != nil {
			return nil, err
		}
		ch.Type = wire.ChannelType(chType)
		if err := json.Unmarshal([]byte(members), &ch.Members); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(meta), &ch.Metadata); err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

// InsertMessage stores a message.
func (s *SQLiteStore) InsertMessage(ctx context.Context, msg *wire.Message) error {
	defer observe("sqlite", "insert_message", time.Now())

	meta, err := json.Marshal(msg.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, channel_id, sender_id, target_type, target_address, message_type,
			content, metadata, status, claimed_by, thread_id, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.ChannelID, msg.SenderID, string(msg.TargetType), msg.TargetAddress,
		string(msg.Type), msg.Content, string(meta), string(msg.Status),
		msg.ClaimedBy, msg.ThreadID, msg.CreatedAt, msg.ExpiresAt)
	return err
}

// ListMessages retrieves messages, newest first, optionally scoped to
// one channel.
func (s *SQLiteStore) ListMessages(ctx context.Context, channelID string, limit int) ([]wire.Message, error) {
	defer observe("sqlite", "list_messages", time.Now())

	query := `
		SELECT id, channel_id, sender_id, target_type, target_address, message_type,
			content, metadata, status, claimed_by, thread_id, created_at, expires_at
		FROM messages`
	args := []any{}
	if channelID != "" {
		query += ` WHERE channel_id = ?`
		args = append(args, channelID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, ClampLimit(limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []wire.Message
	for rows.Next() {
		var msg wire.Message
		var targetType, msgType, status, meta string
		err := rows.Scan(&msg.ID, &msg.ChannelID, &msg.SenderID, &targetType, &msg.TargetAddress,
			&msgType, &msg.Content, &meta, &status, &msg.ClaimedBy, &msg.ThreadID,
			&msg.CreatedAt, &msg.ExpiresAt)
		if err != nil {
			return nil, err
		}
		msg.TargetType = wire.TargetType(targetType)
		msg.Type = wire.MessageType(msgType)
		msg.Status = wire.MessageStatus(status)
		if err := json.Unmarshal([]byte(meta), &msg.Metadata); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
