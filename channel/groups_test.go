package channel

import (
	"testing"
	"time"

	"github.com/agentwire/agentwire/wire"
)

func groupedMessage(sender string, at time.Time) *wire.Message {
	return &wire.Message{
		ID:        wire.NewMessageID(),
		SenderID:  sender,
		Type:      wire.MessageChat,
		CreatedAt: at,
	}
}

func TestGroupMessagesBySenderAndGap(t *testing.T) {
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	msgs := []*wire.Message{
		groupedMessage("alice", base),
		groupedMessage("alice", base.Add(30*time.Second)),
		groupedMessage("bob", base.Add(40*time.Second)),   // sender change
		groupedMessage("bob", base.Add(5*time.Minute)),    // gap > window
		groupedMessage("bob", base.Add(6*time.Minute)),    // continues
	}

	groups := GroupMessages(msgs)
	if len(groups) != 3 {
		t.Fatalf("len(groups) = %d, want 3", len(groups))
	}
	if groups[0].SenderID != "alice" || len(groups[0].Messages) != 2 {
		t.Fatalf("unexpected first group: %+v", groups[0])
	}
	if groups[1].SenderID != "bob" || len(groups[1].Messages) != 1 {
		t.Fatalf("unexpected second group: %+v", groups[1])
	}
	if len(groups[2].Messages) != 2 {
		t.Fatalf("unexpected third group: %+v", groups[2])
	}
}

func TestGroupMessagesBoundary(t *testing.T) {
	base := time.Now()
	msgs := []*wire.Message{
		groupedMessage("a", base),
		groupedMessage("a", base.Add(GroupWindow)), // exactly the window still groups
	}
	if got := len(GroupMessages(msgs)); got != 1 {
		t.Fatalf("len(groups) = %d, want 1", got)
	}

	msgs[1].CreatedAt = base.Add(GroupWindow + time.Second)
	if got := len(GroupMessages(msgs)); got != 2 {
		t.Fatalf("len(groups) = %d, want 2", got)
	}
}

func TestGroupMessagesEmpty(t *testing.T) {
	if groups := GroupMessages(nil); len(groups) != 0 {
		t.Fatalf("expected no groups, got %v", groups)
	}
}
