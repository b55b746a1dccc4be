package main

import (
	"fmt"
	"os"
	"time"

	"voltask/internal/client/initdata"
	"voltask/internal/client/status"
	"voltask/internal/client/task"
	"voltask/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultPollInterval          = time.Second
	defaultHeartbeatInterval     = time.Second
	defaultResourceCheckInterval = 10 * time.Second
	defaultMaxRunning            = 1
	defaultShutdownTimeout       = 30 * time.Second
)

// LoopConfig controls the client's main loop.
type LoopConfig struct {
	PollInterval          time.Duration `yaml:"pollInterval"`
	HeartbeatInterval     time.Duration `yaml:"heartbeatInterval"`
	ResourceCheckInterval time.Duration `yaml:"resourceCheckInterval"`
	// MaxRunning bounds how many tasks execute at once.
	MaxRunning int `yaml:"maxRunning"`
	// ExitWhenIdle stops the client once every job has been reaped.
	ExitWhenIdle    bool          `yaml:"exitWhenIdle"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// JobConfig describes one job. Project refers to a projects entry by name.
type JobConfig struct {
	Project string          `yaml:"project"`
	App     task.AppVersion `yaml:"app"`
	WU      task.WorkUnit   `yaml:"wu"`
	Result  task.Result     `yaml:"result"`
}

// AppConfig holds the task-client configuration.
type AppConfig struct {
	Server    status.Config     `yaml:"server"`
	Logger    logger.Config     `yaml:"logger"`
	Client    task.Config       `yaml:"client"`
	Loop      LoopConfig        `yaml:"loop"`
	Host      initdata.HostInfo `yaml:"host"`
	ClientDir string            `yaml:"clientDir"`
	Metrics   MetricsConfig     `yaml:"metrics"`

	Projects []task.Project `yaml:"projects"`
	Jobs     []JobConfig    `yaml:"jobs"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Namespace string `yaml:"namespace"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}

	cfg.Client.ApplyDefaults()
	if err := cfg.Client.Validate(); err != nil {
		return nil, fmt.Errorf("invalid client config: %w", err)
	}
	cfg.Server.ApplyDefaults()

	if cfg.Loop.PollInterval <= 0 {
		cfg.Loop.PollInterval = defaultPollInterval
	}
	if cfg.Loop.HeartbeatInterval <= 0 {
		cfg.Loop.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.Loop.ResourceCheckInterval <= 0 {
		cfg.Loop.ResourceCheckInterval = defaultResourceCheckInterval
	}
	if cfg.Loop.MaxRunning <= 0 {
		cfg.Loop.MaxRunning = defaultMaxRunning
	}
	if cfg.Loop.ShutdownTimeout <= 0 {
		cfg.Loop.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "voltask"
	}
	if cfg.ClientDir == "" {
		if wd, err := os.Getwd(); err == nil {
			cfg.ClientDir = wd
		}
	}

	names := make(map[string]bool, len(cfg.Projects))
	for _, p := range cfg.Projects {
		if p.Name == "" {
			return nil, fmt.Errorf("project name is required")
		}
		names[p.Name] = true
	}
	for i, j := range cfg.Jobs {
		if j.Result.Name == "" {
			return nil, fmt.Errorf("jobs[%d]: result name is required", i)
		}
		if j.App.Executable == "" {
			return nil, fmt.Errorf("jobs[%d]: app executable is required", i)
		}
		if j.Project != "" && !names[j.Project] {
			return nil, fmt.Errorf("jobs[%d]: unknown project %q", i, j.Project)
		}
	}
	return &cfg, nil
}
