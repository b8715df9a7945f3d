package channel

import (
	"time"

	"github.com/agentwire/agentwire/wire"
)

// GroupWindow is the maximum gap between consecutive messages from the
// same sender that still read as one group.
const GroupWindow = 2 * time.Minute

// MessageGroup is a run of consecutive messages from one sender, used
// for display. A derived view, never stored.
type MessageGroup struct {
	SenderID string
	Messages []*wire.Message
}

// GroupMessages folds an ordered message list into display groups: a new
// sender or a gap larger than GroupWindow starts a new group.
func GroupMessages(msgs []*wire.Message) []MessageGroup {
	var groups []MessageGroup
	for _, m := range msgs {
		n := len(groups)
		if n > 0 && groups[n-1].SenderID == m.SenderID {
			last := groups[n-1].Messages[len(groups[n-1].Messages)-1]
			if m.CreatedAt.Sub(last.CreatedAt) <= GroupWindow {
				groups[n-1].Messages = append(groups[n-1].Messages, m)
				continue
			}
		}
		groups = append(groups, MessageGroup{SenderID: m.SenderID, Messages: []*wire.Message{m}})
	}
	return groups
}
