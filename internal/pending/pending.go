// Package pending implements the channel's FIFO of received text messages
// awaiting client acknowledgement.
package pending

import (
	"fmt"

	"github.com/dalnet/ircmuc/internal/handle"
)

// Type is the Telepathy-style message type carried alongside each pending
// message and each outbound send.
type Type int

const (
	TypeNormal Type = iota
	TypeAction
	TypeNotice
)

// Message is one queued inbound text message.
type Message struct {
	ID        uint
	Timestamp int64
	Sender    handle.Handle
	Type      Type
	Text      string
}

// Queue is a FIFO of pending messages with monotonically increasing,
// per-channel-instance-unique IDs starting at 0.
type Queue struct {
	messages []Message
	nextID   uint
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Receive appends a new message with the next monotonic ID and returns it.
func (q *Queue) Receive(sender handle.Handle, typ Type, text string, now int64) Message {
	m := Message{
		ID:        q.nextID,
		Timestamp: now,
		Sender:    sender,
		Type:      typ,
		Text:      text,
	}
	q.nextID++
	q.messages = append(q.messages, m)
	return m
}

// Acknowledge removes each id in order. It stops at the first id that isn't
// present and returns an error identifying it; ids removed before that
// point stay removed. This partial-failure behavior is observed from, and
// intentionally preserved from, the original implementation (see DESIGN.md).
func (q *Queue) Acknowledge(ids []uint) error {
	for _, id := range ids {
		idx := q.indexOf(id)
		if idx < 0 {
			return fmt.Errorf("%w: message id %d not found", ErrInvalidArgument, id)
		}
		q.messages = append(q.messages[:idx], q.messages[idx+1:]...)
	}
	return nil
}

// ErrInvalidArgument is returned (wrapped) by Acknowledge for an unknown id.
var ErrInvalidArgument = fmt.Errorf("invalid argument")

func (q *Queue) indexOf(id uint) int {
	for i, m := range q.messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}

// List returns the current queue contents in FIFO order. If clear is true,
// the queue is emptied (IDs keep counting up from where they left off).
func (q *Queue) List(clear bool) []Message {
	out := append([]Message(nil), q.messages...)
	if clear {
		q.messages = nil
	}
	return out
}

// Len reports the number of messages currently queued.
func (q *Queue) Len() int { return len(q.messages) }
