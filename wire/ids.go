package wire

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewUUIDv7 generates a time-ordered UUID v7, used for agent and channel ids.
func NewUUIDv7() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewMessageID generates a time-ordered ULID, used for message and command ids.
func NewMessageID() string {
	return ulid.Make().String()
}
