package channel

import (
	"sort"
	"time"

	"github.com/agentwire/agentwire/wire"
)

// ThreadSummary aggregates the messages sharing one thread id.
type ThreadSummary struct {
	ThreadID     string
	Participants []string
	MessageCount int
	FirstAt      time.Time
	LastAt       time.Time
}

// SummarizeThread computes the summary for a thread from a message set.
// Participants are sorted for stable output.
func SummarizeThread(threadID string, msgs []*wire.Message) ThreadSummary {
	s := ThreadSummary{ThreadID: threadID}
	participants := make(map[string]struct{})

	for _, m := range msgs {
		if m.ThreadID != threadID {
			continue
		}
		s.MessageCount++
		participants[m.SenderID] = struct{}{}
		if s.FirstAt.IsZero() || m.CreatedAt.Before(s.FirstAt) {
			s.FirstAt = m.CreatedAt
		}
		if m.CreatedAt.After(s.LastAt) {
			s.LastAt = m.CreatedAt
		}
	}

	for p := range participants {
		s.Participants = append(s.Participants, p)
	}
	sort.Strings(s.Participants)
	return s
}
