package ipc

import (
	"fmt"
	"os"
	"unsafe"

	"voltask/pkg/errors"
)

// ChannelID names one channel of a segment. The numeric order is the
// in-memory layout and is shared with the worker library.
type ChannelID int

const (
	ProcessControlRequest ChannelID = iota
	ProcessControlReply
	GraphicsRequest
	GraphicsReply
	Heartbeat
	AppStatus
	TrickleUp
	TrickleDown

	NumChannels
)

var channelNames = [NumChannels]string{
	"process_control_request",
	"process_control_reply",
	"graphics_request",
	"graphics_reply",
	"heartbeat",
	"app_status",
	"trickle_up",
	"trickle_down",
}

func (id ChannelID) String() string {
	if id < 0 || id >= NumChannels {
		return fmt.Sprintf("channel(%d)", int(id))
	}
	return channelNames[id]
}

// FromClient reports whether the client is the writer of the channel. Every
// channel has exactly one writing side.
func (id ChannelID) FromClient() bool {
	switch id {
	case ProcessControlRequest, GraphicsRequest, Heartbeat, TrickleDown:
		return true
	}
	return false
}

// ParseChannelID maps a channel name back to its ID.
func ParseChannelID(name string) (ChannelID, error) {
	for i, n := range channelNames {
		if n == name {
			return ChannelID(i), nil
		}
	}
	return 0, errors.Newf(errors.InvalidChannelIndex, "unknown channel %q", name)
}

// SegmentSize is the byte size of a mapped segment.
const SegmentSize = int(NumChannels) * channelStride

// SharedMemorySegment groups the channels shared between the client and one worker.
type SharedMemorySegment struct {
	path     string
	mem      []byte
	mapped   bool
	owner    bool
	channels [NumChannels]*MessageChannel
}

func newSegment(path string, mem []byte, mapped, owner bool) *SharedMemorySegment {
	s := &SharedMemorySegment{path: path, mem: mem, mapped: mapped, owner: owner}
	for i := range s.channels {
		off := i * channelStride
		s.channels[i] = newChannel(mem[off : off+channelStride])
	}
	return s
}

// NewMemorySegment returns a segment backed by private memory. It is used
// when no worker needs to attach, and by tests.
func NewMemorySegment() *SharedMemorySegment {
	words := make([]uint32, SegmentSize/4)
	mem := unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), SegmentSize)
	return newSegment("", mem, false, false)
}

// CreateSegment creates (or truncates) the backing file at path and maps it.
// The caller owns the file and removes it with Remove.
func CreateSegment(path string) (*SharedMemorySegment, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, errors.Wrapf(err, errors.SharedMemFailed, "create segment %s", path)
	}
	defer f.Close()
	if err := f.Truncate(int64(SegmentSize)); err != nil {
		_ = os.Remove(path)
		return nil, errors.Wrapf(err, errors.SharedMemFailed, "size segment %s", path)
	}
	mem, err := mapFile(f, SegmentSize)
	if err != nil {
		_ = os.Remove(path)
		return nil, errors.Wrapf(err, errors.SharedMemFailed, "map segment %s", path)
	}
	return newSegment(path, mem, true, true), nil
}

// AttachSegment maps an existing segment file created by the other side.
func AttachSegment(path string) (*SharedMemorySegment, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrapf(err, errors.SharedMemFailed, "open segment %s", path)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, errors.Wrapf(err, errors.SharedMemFailed, "stat segment %s", path)
	}
	if st.Size() < int64(SegmentSize) {
		return nil, errors.Newf(errors.SharedMemFailed, "segment %s is %d bytes, want %d", path, st.Size(), SegmentSize)
	}
	mem, err := mapFile(f, SegmentSize)
	if err != nil {
		return nil, errors.Wrapf(err, errors.SharedMemFailed, "map segment %s", path)
	}
	return newSegment(path, mem, true, false), nil
}

// Path returns the backing file path, empty for memory segments.
func (s *SharedMemorySegment) Path() string {
	return s.path
}

// Channel returns the channel with the given id.
func (s *SharedMemorySegment) Channel(id ChannelID) *MessageChannel {
	return s.channels[id]
}

// Close unmaps the segment. The channels must not be used afterwards.
func (s *SharedMemorySegment) Close() error {
	if !s.mapped || s.mem == nil {
		s.mem = nil
		return nil
	}
	err := unmap(s.mem)
	s.mem = nil
	s.mapped = false
	if err != nil {
		return errors.Wrap(err, errors.SharedMemFailed)
	}
	return nil
}

// Remove unmaps the segment and deletes the backing file if this side created it.
func (s *SharedMemorySegment) Remove() error {
	if err := s.Close(); err != nil {
		return err
	}
	if s.owner && s.path != "" {
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, errors.SharedMemFailed)
		}
	}
	return nil
}
