package wire

import (
	"fmt"
	"time"
)

// MessageType discriminates the message union. Each type has its own
// required metadata, validated at construction.
type MessageType string

const (
	MessageChat     MessageType = "chat"
	MessageMail     MessageType = "mail"
	MessageMemo     MessageType = "memo"
	MessageCommand  MessageType = "command"
	MessageResponse MessageType = "response"
)

// MessageStatus tracks delivery progress. Messages are immutable once
// created except for status and claim fields.
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusClaimed   MessageStatus = "claimed"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusExpired   MessageStatus = "expired"
)

// Metadata keys carried in Message.Metadata.
const (
	MetaDeliveryMode = "deliveryMode"
	MetaSubject      = "subject"  // mail
	MetaCategory     = "category" // memo
	MetaPriority     = "priority"
	MetaCommandID    = "commandId"    // command, response
	MetaInReplyTo    = "inReplyTo"    // response
	MetaTemplateName = "templateName" // command, optional
	MetaWorkDir      = "workDir"      // command, optional
	MetaTimeoutMs    = "timeoutMs"    // command, optional
)

// Message is one unit of agent communication. The wire form uses
// snake_case field names; the struct tags do the translation.
type Message struct {
	ID            string            `json:"id"`
	ChannelID     string            `json:"channel_id,omitempty"`
	SenderID      string            `json:"sender_id"`
	TargetType    TargetType        `json:"target_type"`
	TargetAddress string            `json:"target_address"`
	Type          MessageType       `json:"message_type"`
	Content       string            `json:"content"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Status        MessageStatus     `json:"status"`
	ClaimedBy     string            `json:"claimed_by,omitempty"`
	ThreadID      string            `json:"thread_id,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	ExpiresAt     *time.Time        `json:"expires_at,omitempty"`
}

// MetadataError reports a message constructed without metadata its type
// requires.
type MetadataError struct {
	Type  MessageType
	Field string
}

func (e *MetadataError) Error() string {
	return fmt.Sprintf("%s message requires metadata %q", e.Type, e.Field)
}

func newMessage(msgType MessageType, senderID string, target Address, content string) (*Message, error) {
	if !target.Valid() {
		return nil, &ParseError{Input: target.String(), Reason: "invalid target address"}
	}
	return &Message{
		ID:            NewMessageID(),
		SenderID:      senderID,
		TargetType:    target.Type,
		TargetAddress: target.String(),
		Type:          msgType,
		Content:       content,
		Metadata:      map[string]string{},
		Status:        StatusPending,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// NewChatMessage constructs a chat message.
func NewChatMessage(senderID string, target Address, content string) (*Message, error) {
	return newMessage(MessageChat, senderID, target, content)
}

// NewMailMessage constructs a mail message. Mail requires a subject.
func NewMailMessage(senderID string, target Address, subject, content string) (*Message, error) {
	if subject == "" {
		return nil, &MetadataError{Type: MessageMail, Field: MetaSubject}
	}
	m, err := newMessage(MessageMail, senderID, target, content)
	if err != nil {
		return nil, err
	}
	m.Metadata[MetaSubject] = subject
	return m, nil
}

// NewMemoMessage constructs a memo message. Memos require a category.
func NewMemoMessage(senderID string, target Address, category, content string) (*Message, error) {
	if category == "" {
		return nil, &MetadataError{Type: MessageMemo, Field: MetaCategory}
	}
	m, err := newMessage(MessageMemo, senderID, target, content)
	if err != nil {
		return nil, err
	}
	m.Metadata[MetaCategory] = category
	return m, nil
}

// NewCommandMessage constructs a remote-execution command message.
// Commands require a command id; templateName is optional.
func NewCommandMessage(senderID string, target Address, commandID, templateName, content string) (*Message, error) {
	if commandID == "" {
		return nil, &MetadataError{Type: MessageCommand, Field: MetaCommandID}
	}
	m, err := newMessage(MessageCommand, senderID, target, content)
	if err != nil {
		return nil, err
	}
	m.Metadata[MetaCommandID] = commandID
	if templateName != "" {
		m.Metadata[MetaTemplateName] = templateName
	}
	return m, nil
}

// NewResponseMessage constructs the response to a command message.
// Responses require the command id and the id of the originating message.
func NewResponseMessage(senderID string, target Address, commandID, inReplyTo, content string) (*Message, error) {
	if commandID == "" {
		return nil, &MetadataError{Type: MessageResponse, Field: MetaCommandID}
	}
	if inReplyTo == "" {
		return nil, &MetadataError{Type: MessageResponse, Field: MetaInReplyTo}
	}
	m, err := newMessage(MessageResponse, senderID, target, content)
	if err != nil {
		return nil, err
	}
	m.Metadata[MetaCommandID] = commandID
	m.Metadata[MetaInReplyTo] = inReplyTo
	return m, nil
}

// Target parses the message's target address.
func (m *Message) Target() (Address, error) {
	return ParseAddress(m.TargetAddress)
}

// CommandID returns the commandId metadata, empty if absent.
func (m *Message) CommandID() string { return m.Metadata[MetaCommandID] }

// InReplyTo returns the inReplyTo metadata, empty if absent.
func (m *Message) InReplyTo() string { return m.Metadata[MetaInReplyTo] }

// TemplateName returns the templateName metadata, empty if absent.
func (m *Message) TemplateName() string { return m.Metadata[MetaTemplateName] }

// Expired reports whether the message has an expiry in the past.
func (m *Message) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && now.After(*m.ExpiresAt)
}
