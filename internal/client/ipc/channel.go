package ipc

import (
	"bytes"
	"sync/atomic"
	"unsafe"

	"voltask/pkg/errors"
)

const (
	// MsgChannelSize is the payload capacity of one channel in bytes.
	MsgChannelSize = 1024
	// MaxMessageLen leaves room for the NUL terminator.
	MaxMessageLen = MsgChannelSize - 1

	// channelHeaderSize holds the pending flag. Only the low byte is meaningful;
	// the word is 4 bytes so both processes can use atomic loads and stores.
	channelHeaderSize = 4
	channelStride     = channelHeaderSize + MsgChannelSize
)

var (
	// ErrChannelFull is returned by Send when an unread message is pending.
	ErrChannelFull = errors.New(errors.ChannelFull)
	// ErrMessageTooLarge is returned when a message cannot fit in the payload buffer.
	ErrMessageTooLarge = errors.New(errors.MessageTooLarge)
)

// Sender is the write side of a channel as seen by a MessageQueue.
type Sender interface {
	Send(msg string) error
}

// MessageChannel is a single-slot mailbox. The writer sets the pending flag
// after the payload is in place; the reader clears it after copying out.
type MessageChannel struct {
	flag *uint32
	buf  []byte
}

// newChannel lays a channel over mem, which must be channelStride bytes
// starting at a 4-byte aligned address.
func newChannel(mem []byte) *MessageChannel {
	return &MessageChannel{
		flag: (*uint32)(unsafe.Pointer(&mem[0])),
		buf:  mem[channelHeaderSize:channelStride:channelStride],
	}
}

// NewMessageChannel returns a channel backed by private memory.
func NewMessageChannel() *MessageChannel {
	words := make([]uint32, channelStride/4)
	mem := unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), channelStride)
	return newChannel(mem)
}

// HasPending reports whether an unread message is in the slot.
func (c *MessageChannel) HasPending() bool {
	return atomic.LoadUint32(c.flag)&0xff != 0
}

// Receive copies out a pending message and clears the flag.
func (c *MessageChannel) Receive() (string, bool) {
	msg, ok := c.Peek()
	if ok {
		atomic.StoreUint32(c.flag, 0)
	}
	return msg, ok
}

// Peek returns the pending message without consuming it.
func (c *MessageChannel) Peek() (string, bool) {
	if !c.HasPending() {
		return "", false
	}
	n := bytes.IndexByte(c.buf, 0)
	if n < 0 {
		n = MaxMessageLen
	}
	return string(c.buf[:n]), true
}

// Send writes msg unless a message is already pending.
func (c *MessageChannel) Send(msg string) error {
	if len(msg) > MaxMessageLen {
		return ErrMessageTooLarge
	}
	if c.HasPending() {
		return ErrChannelFull
	}
	c.write(msg)
	return nil
}

// SendOverwrite writes msg even if the previous message was not read.
func (c *MessageChannel) SendOverwrite(msg string) error {
	if len(msg) > MaxMessageLen {
		return ErrMessageTooLarge
	}
	c.write(msg)
	return nil
}

func (c *MessageChannel) write(msg string) {
	n := copy(c.buf, msg)
	c.buf[n] = 0
	atomic.StoreUint32(c.flag, 1)
}
