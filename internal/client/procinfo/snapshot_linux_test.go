//go:build linux

package procinfo

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSource_SeesSelf(t *testing.T) {
	snap, err := NewBuilder(nil).Take(time.Now())
	require.NoError(t, err)

	self, ok := snap.Get(os.Getpid())
	require.True(t, ok)
	assert.Equal(t, os.Getppid(), self.PPID)
	assert.Greater(t, self.WorkingSetSize, 0.0)
}
