//go:build unix

package slot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLock(t *testing.T) {
	dir := t.TempDir()
	assert.False(t, Locked(dir), "no lock file")

	f, err := Lock(dir)
	require.NoError(t, err)
	assert.True(t, Locked(dir))

	require.NoError(t, f.Close())
	assert.False(t, Locked(dir))
}

func TestLockClient(t *testing.T) {
	root := t.TempDir()
	assert.False(t, ClientLocked(root))

	f, err := LockClient(root)
	require.NoError(t, err)
	assert.True(t, ClientLocked(root))
	assert.False(t, Locked(root), "client and slot locks are separate files")

	_, err = LockClient(root)
	assert.Error(t, err, "a second client is refused")

	require.NoError(t, f.Close())
	assert.False(t, ClientLocked(root))
}
