package task

import (
	"testing"
	"time"

	"voltask/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseLogFlags(t *testing.T) {
	f, err := ParseLogFlags([]string{" task ", "mem_usage_debug", ""})
	require.NoError(t, err)
	assert.True(t, f.Enabled(FlagTask))
	assert.True(t, f.Enabled(FlagMemUsageDebug))
	assert.False(t, f.Enabled(FlagHeartbeatDebug))
	assert.Equal(t, []string{"mem_usage_debug", "task"}, f.Names())

	_, err = ParseLogFlags([]string{"task", "bogus"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ValidationFailed))

	var none *LogFlags
	assert.False(t, none.Enabled(FlagTask))
	assert.Nil(t, none.Names())
}

func TestConfig_ApplyDefaultsAndValidate(t *testing.T) {
	var cfg Config
	require.NoError(t, yaml.Unmarshal([]byte(`
slotsDir: /var/lib/voltask/slots
quitGracePeriod: 15s
maxPrematureExits: 5
logFlags: [task, slot_debug]
`), &cfg))
	cfg.ApplyDefaults()

	assert.Equal(t, "/var/lib/voltask/slots", cfg.SlotsDir)
	assert.Equal(t, 15*time.Second, cfg.QuitGracePeriod)
	assert.Equal(t, 5*time.Second, cfg.AbortGracePeriod)
	assert.Equal(t, 5, cfg.MaxPrematureExits)
	assert.Equal(t, 3, cfg.MaxCouldntStart)
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.RestartBackoffMax = time.Second
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.LogFlags = []string{"nope"}
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.MaxSlots = -1
	assert.Error(t, bad.Validate())
}
