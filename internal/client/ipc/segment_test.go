//go:build unix

package ipc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegment_CreateAttachShareChannels(t *testing.T) {
	path := filepath.Join(t.TempDir(), DeriveSegmentName("/slots/0", DefaultSalt))

	client, err := CreateSegment(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Remove() })

	worker, err := AttachSegment(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = worker.Close() })

	require.NoError(t, client.Channel(ProcessControlRequest).Send(MsgSuspend))
	msg, ok := worker.Channel(ProcessControlRequest).Receive()
	require.True(t, ok)
	assert.Equal(t, MsgSuspend, msg)
	assert.False(t, client.Channel(ProcessControlRequest).HasPending())

	require.NoError(t, worker.Channel(AppStatus).Send("<fraction_done>0.5</fraction_done>"))
	assert.True(t, client.Channel(AppStatus).HasPending())
	assert.False(t, client.Channel(TrickleUp).HasPending())
}

func TestSegment_RemoveDeletesOwnedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seg")
	seg, err := CreateSegment(path)
	require.NoError(t, err)

	st, err := os.Stat(path)
	require.NoError(t, err)
	assert.EqualValues(t, SegmentSize, st.Size())

	require.NoError(t, seg.Remove())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestAttachSegment_TooSmall(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short")
	require.NoError(t, os.WriteFile(path, []byte("tiny"), 0o600))
	_, err := AttachSegment(path)
	assert.Error(t, err)
}

func TestMemorySegment(t *testing.T) {
	seg := NewMemorySegment()
	require.NoError(t, seg.Channel(Heartbeat).Send(FormatHeartbeat(HeartbeatInfo{WorkingSetSize: 1})))
	assert.True(t, seg.Channel(Heartbeat).HasPending())
	assert.False(t, seg.Channel(GraphicsRequest).HasPending())
	assert.NoError(t, seg.Remove())
}

func TestChannelNames(t *testing.T) {
	for id := ChannelID(0); id < NumChannels; id++ {
		got, err := ParseChannelID(id.String())
		require.NoError(t, err)
		assert.Equal(t, id, got)
	}
	_, err := ParseChannelID("nope")
	assert.Error(t, err)
}

func TestChannelWriters(t *testing.T) {
	var fromClient []string
	for id := ChannelID(0); id < NumChannels; id++ {
		if id.FromClient() {
			fromClient = append(fromClient, id.String())
		}
	}
	assert.Equal(t, []string{"process_control_request", "graphics_request", "heartbeat", "trickle_down"}, fromClient)
}
