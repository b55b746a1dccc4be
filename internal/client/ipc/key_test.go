package ipc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveSegmentName(t *testing.T) {
	a := DeriveSegmentName("/var/lib/voltask/slots/0", DefaultSalt)
	b := DeriveSegmentName("/var/lib/voltask/slots/0", DefaultSalt)
	c := DeriveSegmentName("/var/lib/voltask/slots/1", DefaultSalt)
	d := DeriveSegmentName("/var/lib/voltask/slots/0", "other")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
	assert.True(t, strings.HasPrefix(a, "voltask_"))
	assert.Len(t, a, len("voltask_")+16)
}

func TestDeriveSegmentName_CleansPath(t *testing.T) {
	assert.Equal(t,
		DeriveSegmentName("/slots/0", DefaultSalt),
		DeriveSegmentName("/slots/./0/", DefaultSalt))
}

func TestSegmentPath(t *testing.T) {
	p := SegmentPath("/dev/shm", "/slots/3", DefaultSalt)
	assert.True(t, strings.HasPrefix(p, "/dev/shm/voltask_"))
}
