package task

import (
	"sort"
	"strings"
	"time"

	"voltask/internal/client/ipc"
	"voltask/pkg/errors"
)

// Config holds the knobs of the execution engine.
type Config struct {
	SlotsDir   string `yaml:"slotsDir"`
	ShmDir     string `yaml:"shmDir"`
	ShmSalt    string `yaml:"shmSalt"`
	ArchiveDir string `yaml:"archiveDir"` // empty disables archiving of failed tasks
	MaxSlots   int    `yaml:"maxSlots"`   // 0 means unbounded

	QuitGracePeriod  time.Duration `yaml:"quitGracePeriod"`
	AbortGracePeriod time.Duration `yaml:"abortGracePeriod"`
	WaitPollInterval time.Duration `yaml:"waitPollInterval"`

	MaxPrematureExits int           `yaml:"maxPrematureExits"`
	MaxCouldntStart   int           `yaml:"maxCouldntStart"`
	RestartBackoff    time.Duration `yaml:"restartBackoff"`
	RestartBackoffMax time.Duration `yaml:"restartBackoffMax"`

	StderrMaxBytes   int64   `yaml:"stderrMaxBytes"`
	CheckpointPeriod float64 `yaml:"checkpointPeriod"` // seconds, passed to workers
	SuspendViaSignal bool    `yaml:"suspendViaSignal"`

	LogFlags []string `yaml:"logFlags"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		SlotsDir:          "slots",
		ShmDir:            ipc.DefaultShmDir(),
		ShmSalt:           ipc.DefaultSalt,
		QuitGracePeriod:   10 * time.Second,
		AbortGracePeriod:  5 * time.Second,
		WaitPollInterval:  100 * time.Millisecond,
		MaxPrematureExits: 100,
		MaxCouldntStart:   3,
		RestartBackoff:    10 * time.Second,
		RestartBackoffMax: time.Hour,
		StderrMaxBytes:    63 * 1024,
		CheckpointPeriod:  60,
	}
}

// ApplyDefaults fills zero fields from DefaultConfig.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.SlotsDir == "" {
		c.SlotsDir = d.SlotsDir
	}
	if c.ShmDir == "" {
		c.ShmDir = d.ShmDir
	}
	if c.ShmSalt == "" {
		c.ShmSalt = d.ShmSalt
	}
	if c.QuitGracePeriod == 0 {
		c.QuitGracePeriod = d.QuitGracePeriod
	}
	if c.AbortGracePeriod == 0 {
		c.AbortGracePeriod = d.AbortGracePeriod
	}
	if c.WaitPollInterval == 0 {
		c.WaitPollInterval = d.WaitPollInterval
	}
	if c.MaxPrematureExits == 0 {
		c.MaxPrematureExits = d.MaxPrematureExits
	}
	if c.MaxCouldntStart == 0 {
		c.MaxCouldntStart = d.MaxCouldntStart
	}
	if c.RestartBackoff == 0 {
		c.RestartBackoff = d.RestartBackoff
	}
	if c.RestartBackoffMax == 0 {
		c.RestartBackoffMax = d.RestartBackoffMax
	}
	if c.StderrMaxBytes == 0 {
		c.StderrMaxBytes = d.StderrMaxBytes
	}
	if c.CheckpointPeriod == 0 {
		c.CheckpointPeriod = d.CheckpointPeriod
	}
}

// Validate rejects values the engine cannot run with.
func (c Config) Validate() error {
	switch {
	case c.SlotsDir == "":
		return errors.ValidationError("slotsDir", "is required")
	case c.MaxSlots < 0:
		return errors.ValidationError("maxSlots", "must not be negative")
	case c.QuitGracePeriod < 0:
		return errors.ValidationError("quitGracePeriod", "must not be negative")
	case c.AbortGracePeriod < 0:
		return errors.ValidationError("abortGracePeriod", "must not be negative")
	case c.WaitPollInterval <= 0:
		return errors.ValidationError("waitPollInterval", "must be positive")
	case c.MaxPrematureExits < 1:
		return errors.ValidationError("maxPrematureExits", "must be at least 1")
	case c.MaxCouldntStart < 1:
		return errors.ValidationError("maxCouldntStart", "must be at least 1")
	case c.RestartBackoffMax < c.RestartBackoff:
		return errors.ValidationError("restartBackoffMax", "must not be less than restartBackoff")
	}
	_, err := ParseLogFlags(c.LogFlags)
	return err
}

// Debug flag names.
const (
	FlagTask           = "task"
	FlagTaskDebug      = "task_debug"
	FlagMemUsageDebug  = "mem_usage_debug"
	FlagSlotDebug      = "slot_debug"
	FlagHeartbeatDebug = "heartbeat_debug"
	FlagAppMsgSend     = "app_msg_send"
	FlagAppMsgReceive  = "app_msg_receive"
	FlagStatefileDebug = "statefile_debug"
)

var validLogFlags = map[string]struct{}{
	FlagTask:           {},
	FlagTaskDebug:      {},
	FlagMemUsageDebug:  {},
	FlagSlotDebug:      {},
	FlagHeartbeatDebug: {},
	FlagAppMsgSend:     {},
	FlagAppMsgReceive:  {},
	FlagStatefileDebug: {},
}

// ValidLogFlags lists every accepted flag name, sorted.
func ValidLogFlags() []string {
	out := make([]string, 0, len(validLogFlags))
	for k := range validLogFlags {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// LogFlags is the set of enabled debug flags. It is built once at startup
// and never modified; a nil *LogFlags has every flag off.
type LogFlags struct {
	enabled map[string]bool
}

// ParseLogFlags validates names against the known set.
func ParseLogFlags(names []string) (*LogFlags, error) {
	f := &LogFlags{enabled: make(map[string]bool, len(names))}
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}
		if _, ok := validLogFlags[name]; !ok {
			return nil, errors.ValidationError("logFlags", "unknown flag "+name).
				WithDetail("valid", ValidLogFlags())
		}
		f.enabled[name] = true
	}
	return f, nil
}

// Enabled reports whether name is on.
func (f *LogFlags) Enabled(name string) bool {
	if f == nil {
		return false
	}
	return f.enabled[name]
}

// Names returns the enabled flags, sorted.
func (f *LogFlags) Names() []string {
	if f == nil {
		return nil
	}
	out := make([]string, 0, len(f.enabled))
	for k := range f.enabled {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
