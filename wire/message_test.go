package wire

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewChatMessage(t *testing.T) {
	target := AgentAddress("m", "s")
	m, err := NewChatMessage("sender-1", target, "hello")
	if err != nil {
		t.Fatal(err)
	}
	if m.ID == "" {
		t.Fatal("expected generated message id")
	}
	if m.Type != MessageChat || m.Status != StatusPending {
		t.Fatalf("unexpected type/status: %s/%s", m.Type, m.Status)
	}
	if m.TargetAddress != "agent://m/s" || m.TargetType != TargetAgent {
		t.Fatalf("unexpected target: %s %s", m.TargetType, m.TargetAddress)
	}
}

func TestMailRequiresSubject(t *testing.T) {
	_, err := NewMailMessage("s", BroadcastAddress(), "", "body")
	var me *MetadataError
	if !errors.As(err, &me) || me.Field != MetaSubject {
		t.Fatalf("expected subject MetadataError, got %v", err)
	}
}

func TestMemoRequiresCategory(t *testing.T) {
	_, err := NewMemoMessage("s", BroadcastAddress(), "", "body")
	var me *MetadataError
	if !errors.As(err, &me) || me.Field != MetaCategory {
		t.Fatalf("expected category MetadataError, got %v", err)
	}
}

func TestCommandRequiresCommandID(t *testing.T) {
	_, err := NewCommandMessage("s", AgentAddress("m", "x"), "", "", "ls")
	var me *MetadataError
	if !errors.As(err, &me) || me.Field != MetaCommandID {
		t.Fatalf("expected commandId MetadataError, got %v", err)
	}
}

func TestResponseRequiresReplyContext(t *testing.T) {
	if _, err := NewResponseMessage("s", AgentAddress("m", "x"), "", "msg-1", "ok"); err == nil {
		t.Fatal("expected error for missing commandId")
	}
	if _, err := NewResponseMessage("s", AgentAddress("m", "x"), "cmd-1", "", "ok"); err == nil {
		t.Fatal("expected error for missing inReplyTo")
	}
	m, err := NewResponseMessage("s", AgentAddress("m", "x"), "cmd-1", "msg-1", "ok")
	if err != nil {
		t.Fatal(err)
	}
	if m.CommandID() != "cmd-1" || m.InReplyTo() != "msg-1" {
		t.Fatalf("unexpected metadata: %v", m.Metadata)
	}
}

func TestConstructorRejectsInvalidTarget(t *testing.T) {
	_, err := NewChatMessage("s", Address{Type: TargetAgent, MachineID: "m"}, "hi")
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ParseError, got %v", err)
	}
}

func TestMessageWireFieldNames(t *testing.T) {
	m, err := NewCommandMessage("sender-1", AgentAddress("m", "s"), "cmd-1", "deploy", "make release")
	if err != nil {
		t.Fatal(err)
	}
	m.ChannelID = "chan-1"
	m.ThreadID = "thread-1"

	data, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	for _, field := range []string{
		`"channel_id"`, `"sender_id"`, `"target_type"`, `"target_address"`,
		`"message_type"`, `"thread_id"`, `"created_at"`,
	} {
		if !strings.Contains(string(data), field) {
			t.Fatalf("wire JSON missing %s: %s", field, data)
		}
	}
}

func TestMessageExpiry(t *testing.T) {
	m, _ := NewChatMessage("s", BroadcastAddress(), "hi")
	now := time.Now()
	if m.Expired(now) {
		t.Fatal("message without expiry should not expire")
	}
	past := now.Add(-time.Minute)
	m.ExpiresAt = &past
	if !m.Expired(now) {
		t.Fatal("message past expiry should be expired")
	}
}
