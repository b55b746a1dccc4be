package ipc

import (
	"context"
	stderrors "errors"
	"time"

	"voltask/pkg/utils/logger"

	"go.uber.org/zap"
)

// MessageQueue buffers outbound messages for one channel.
type MessageQueue struct {
	name         string
	msgs         []string
	blockedSince time.Time
}

// NewMessageQueue creates an empty queue. name is used in log lines only.
func NewMessageQueue(name string) *MessageQueue {
	return &MessageQueue{name: name}
}

// Enqueue appends msg.
func (q *MessageQueue) Enqueue(msg string) {
	q.msgs = append(q.msgs, msg)
}

// Len returns the number of unsent messages.
func (q *MessageQueue) Len() int {
	return len(q.msgs)
}

// Pending returns a copy of the unsent messages in order.
func (q *MessageQueue) Pending() []string {
	out := make([]string, len(q.msgs))
	copy(out, q.msgs)
	return out
}

// Flush sends queued messages in order until the channel refuses one.
// It returns the number of messages delivered.
func (q *MessageQueue) Flush(ch Sender, now time.Time) int {
	sent := 0
	for len(q.msgs) > 0 {
		err := ch.Send(q.msgs[0])
		switch {
		case err == nil:
			q.msgs = q.msgs[1:]
			q.blockedSince = time.Time{}
			sent++
		case stderrors.Is(err, ErrMessageTooLarge):
			logger.Warn(context.Background(), "dropping oversized message",
				zap.String("queue", q.name),
				zap.Int("len", len(q.msgs[0])),
			)
			q.msgs = q.msgs[1:]
		default:
			if q.blockedSince.IsZero() {
				q.blockedSince = now
			}
			return sent
		}
	}
	return sent
}

// Purge removes every queued message equal to msg and returns how many were removed.
func (q *MessageQueue) Purge(msg string) int {
	kept := q.msgs[:0]
	removed := 0
	for _, m := range q.msgs {
		if m == msg {
			removed++
			continue
		}
		kept = append(kept, m)
	}
	q.msgs = kept
	return removed
}

// BlockedSince returns when the channel was first seen full, or zero.
func (q *MessageQueue) BlockedSince() time.Time {
	return q.blockedSince
}

// BlockedLongerThan reports whether the channel has stayed full for more than d.
func (q *MessageQueue) BlockedLongerThan(now time.Time, d time.Duration) bool {
	if q.blockedSince.IsZero() {
		return false
	}
	return now.Sub(q.blockedSince) > d
}

// ClearBlocked forgets when the channel was first seen full. The next
// refused send starts the clock again.
func (q *MessageQueue) ClearBlocked() {
	q.blockedSince = time.Time{}
}

// Reset drops all queued messages and the blocked timestamp.
func (q *MessageQueue) Reset() {
	q.msgs = nil
	q.blockedSince = time.Time{}
}
