// Package channel provides publish/subscribe messaging on top of the
// streaming client: channel-scoped delivery, message history, thread
// summaries, and an offline queue for messages sent while disconnected.
package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentwire/agentwire/stream"
	"github.com/agentwire/agentwire/wire"
)

// Publisher sends a message to the relay. *client.Client satisfies it.
type Publisher interface {
	PublishMessage(ctx context.Context, msg *wire.Message) error
}

// PublishOptions tunes a single publish. The zero value sends a chat
// message to the global broadcast address.
type PublishOptions struct {
	Type     wire.MessageType
	Target   wire.Address
	Metadata map[string]string
	ThreadID string
}

// seenLimit bounds the duplicate-suppression window.
const seenLimit = 4096

// Hub is the channel layer for one agent process. Wire it to a messages
// stream.Client via HandleMode and HandleEvent, and to the relay via a
// Publisher.
type Hub struct {
	senderID  string
	publisher Publisher
	log       zerolog.Logger

	coll *stream.Collection

	mu      sync.RWMutex
	subs    map[string]map[int]func(*wire.Message)
	nextSub int

	qmu    sync.Mutex
	queues map[string]*offlineQueue

	connMu    sync.Mutex
	connected bool

	seenMu    sync.Mutex
	seen      map[string]struct{}
	seenOrder []string
}

// NewHub creates a hub publishing as senderID.
func NewHub(senderID string, p Publisher, log zerolog.Logger) *Hub {
	return &Hub{
		senderID:  senderID,
		publisher: p,
		log:       log.With().Str("component", "channel").Logger(),
		subs:      make(map[string]map[int]func(*wire.Message)),
		queues:    make(map[string]*offlineQueue),
		seen:      make(map[string]struct{}),
	}
}

// SetCollection attaches the messages mirror used by Messages and
// ThreadSummary.
func (h *Hub) SetCollection(c *stream.Collection) {
	h.coll = c
}

// HandleMode tracks relay reachability; pass it as stream.Options.OnMode.
// Live and polling both mean the REST path works, so either reconnection
// flavor triggers an offline-queue drain.
func (h *Hub) HandleMode(m stream.Mode) {
	up := m == stream.ModeLive || m == stream.ModePolling

	h.connMu.Lock()
	wasUp := h.connected
	h.connected = up
	h.connMu.Unlock()

	if up && !wasUp {
		go h.drainAll(context.Background())
	}
}

// HandleEvent dispatches streamed messages to channel subscribers; pass
// it as stream.Options.OnEvent. Each subscriber sees each message exactly
// once regardless of replays or snapshot overlap.
func (h *Hub) HandleEvent(event string, rec map[string]any) {
	switch event {
	case stream.EventInsert, stream.EventInitial, stream.EventMessage:
	default:
		return // updates and deletes don't re-deliver content
	}

	msg, err := decodeMessage(rec)
	if err != nil {
		h.log.Debug().Err(err).Msg("dropping undecodable message event")
		return
	}
	if msg.ChannelID == "" || !h.markSeen(msg.ID) {
		return
	}

	h.mu.RLock()
	var fns []func(*wire.Message)
	for _, fn := range h.subs[msg.ChannelID] {
		fns = append(fns, fn)
	}
	h.mu.RUnlock()

	for _, fn := range fns {
		fn(msg)
	}
}

// Subscribe registers a callback for every message delivered on the
// channel and returns its unsubscribe handle.
func (h *Hub) Subscribe(channelID string, fn func(*wire.Message)) func() {
	h.mu.Lock()
	id := h.nextSub
	h.nextSub++
	if h.subs[channelID] == nil {
		h.subs[channelID] = make(map[int]func(*wire.Message))
	}
	h.subs[channelID][id] = fn
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.subs[channelID], id)
		h.mu.Unlock()
	}
}

// Publish constructs a message and attempts immediate delivery. While the
// relay is unreachable, or while earlier messages for the channel are
// still queued, the message joins the channel's offline queue instead so
// send order survives the outage.
func (h *Hub) Publish(ctx context.Context, channelID, content string, opts PublishOptions) (*wire.Message, error) {
	msg, err := h.buildMessage(channelID, content, opts)
	if err != nil {
		return nil, err
	}

	q := h.queue(channelID)
	if !h.isConnected() || q.Len() > 0 {
		q.Enqueue(msg)
		h.log.Debug().Str("channel", channelID).Str("message", msg.ID).Msg("queued message offline")
		return msg, nil
	}

	if err := h.publisher.PublishMessage(ctx, msg); err != nil {
		q.Enqueue(msg)
		h.log.Warn().Err(err).Str("channel", channelID).Msg("publish failed, message queued")
	}
	return msg, nil
}

// Pending returns the number of messages queued for the channel.
func (h *Hub) Pending(channelID string) int {
	return h.queue(channelID).Len()
}

// Flush drains the channel's offline queue immediately, in FIFO order.
func (h *Hub) Flush(ctx context.Context, channelID string) error {
	return h.queue(channelID).Drain(ctx, h.publisher.PublishMessage)
}

// Messages returns up to limit messages for a channel from the local
// mirror, oldest first.
func (h *Hub) Messages(channelID string, limit int) []*wire.Message {
	msgs := h.channelMessages(channelID)
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs
}

// MessagesBefore returns up to limit messages created strictly before the
// given instant, oldest first. Use it to page backwards through history.
func (h *Hub) MessagesBefore(channelID string, before time.Time, limit int) []*wire.Message {
	all := h.channelMessages(channelID)
	var msgs []*wire.Message
	for _, m := range all {
		if m.CreatedAt.Before(before) {
			msgs = append(msgs, m)
		}
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs
}

// Thread aggregates the thread with the given id across all mirrored
// messages. Summaries are recomputed on demand, never stored.
func (h *Hub) Thread(threadID string) ThreadSummary {
	if h.coll == nil {
		return ThreadSummary{ThreadID: threadID}
	}
	var msgs []*wire.Message
	for _, rec := range h.coll.Rows() {
		msg, err := decodeMessage(rec)
		if err != nil {
			continue
		}
		msgs = append(msgs, msg)
	}
	return SummarizeThread(threadID, msgs)
}

func (h *Hub) buildMessage(channelID, content string, opts PublishOptions) (*wire.Message, error) {
	target := opts.Target
	if target == (wire.Address{}) {
		target = wire.BroadcastAddress()
	}

	var msg *wire.Message
	var err error
	switch opts.Type {
	case wire.MessageChat, "":
		msg, err = wire.NewChatMessage(h.senderID, target, content)
	case wire.MessageMail:
		msg, err = wire.NewMailMessage(h.senderID, target, opts.Metadata[wire.MetaSubject], content)
	case wire.MessageMemo:
		msg, err = wire.NewMemoMessage(h.senderID, target, opts.Metadata[wire.MetaCategory], content)
	case wire.MessageCommand:
		msg, err = wire.NewCommandMessage(h.senderID, target,
			opts.Metadata[wire.MetaCommandID], opts.Metadata[wire.MetaTemplateName], content)
	case wire.MessageResponse:
		msg, err = wire.NewResponseMessage(h.senderID, target,
			opts.Metadata[wire.MetaCommandID], opts.Metadata[wire.MetaInReplyTo], content)
	default:
		return nil, fmt.Errorf("unknown message type %q", opts.Type)
	}
	if err != nil {
		return nil, err
	}

	msg.ChannelID = channelID
	msg.ThreadID = opts.ThreadID
	for k, v := range opts.Metadata {
		if _, set := msg.Metadata[k]; !set {
			msg.Metadata[k] = v
		}
	}
	return msg, nil
}

func (h *Hub) queue(channelID string) *offlineQueue {
	h.qmu.Lock()
	defer h.qmu.Unlock()
	q, ok := h.queues[channelID]
	if !ok {
		q = &offlineQueue{}
		h.queues[channelID] = q
	}
	return q
}

func (h *Hub) isConnected() bool {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	return h.connected
}

func (h *Hub) drainAll(ctx context.Context) {
	h.qmu.Lock()
	queues := make(map[string]*offlineQueue, len(h.queues))
	for id, q := range h.queues {
		queues[id] = q
	}
	h.qmu.Unlock()

	for channelID, q := range queues {
		if q.Len() == 0 {
			continue
		}
		if err := q.Drain(ctx, h.publisher.PublishMessage); err != nil {
			h.log.Warn().Err(err).Str("channel", channelID).Msg("offline queue drain interrupted")
			continue
		}
		h.log.Info().Str("channel", channelID).Msg("offline queue drained")
	}
}

// markSeen records a delivered message id, reporting false for
// duplicates. The window is bounded; ids eventually age out.
func (h *Hub) markSeen(id string) bool {
	h.seenMu.Lock()
	defer h.seenMu.Unlock()
	if _, dup := h.seen[id]; dup {
		return false
	}
	h.seen[id] = struct{}{}
	h.seenOrder = append(h.seenOrder, id)
	if len(h.seenOrder) > seenLimit {
		evict := h.seenOrder[0]
		h.seenOrder = h.seenOrder[1:]
		delete(h.seen, evict)
	}
	return true
}

func (h *Hub) channelMessages(channelID string) []*wire.Message {
	if h.coll == nil {
		return nil
	}
	var msgs []*wire.Message
	for _, rec := range h.coll.Rows() {
		msg, err := decodeMessage(rec)
		if err != nil || msg.ChannelID != channelID {
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

// decodeMessage converts a streamed record into a typed message.
func decodeMessage(rec map[string]any) (*wire.Message, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	var msg wire.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.ID == "" {
		return nil, fmt.Errorf("message record has no id")
	}
	return &msg, nil
}
