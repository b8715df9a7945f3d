package channel

import (
	"context"
	"sync"

	"github.com/agentwire/agentwire/wire"
)

// offlineQueue buffers messages published while disconnected, per
// channel, in send order. The mutex makes enqueue and drain mutually
// exclusive so a flush can never interleave with new publishes on the
// same channel.
type offlineQueue struct {
	mu   sync.Mutex
	msgs []*wire.Message
}

func (q *offlineQueue) Enqueue(m *wire.Message) {
	q.mu.Lock()
	q.msgs = append(q.msgs, m)
	q.mu.Unlock()
}

// Len returns the number of queued messages.
func (q *offlineQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.msgs)
}

// Drain delivers queued messages in FIFO order. Delivery happens under
// the queue lock: concurrent Enqueue callers block until the drain is
// done, which is what preserves send order across a reconnect. On the
// first delivery error the remaining messages stay queued.
func (q *offlineQueue) Drain(ctx context.Context, deliver func(context.Context, *wire.Message) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.msgs) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		head := q.msgs[0]
		if err := deliver(ctx, head); err != nil {
			return err
		}
		q.msgs = q.msgs[1:]
	}
	q.msgs = nil
	return nil
}
