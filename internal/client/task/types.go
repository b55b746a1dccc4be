package task

import (
	"time"

	"voltask/internal/client/initdata"
	"voltask/internal/client/process"
)

// Project is the attached project a task belongs to.
type Project struct {
	URL           string  `yaml:"url" json:"url"`
	Name          string  `yaml:"name" json:"name"`
	ProjectDir    string  `yaml:"projectDir" json:"project_dir"`
	Authenticator string  `yaml:"authenticator" json:"-"`
	Preferences   string  `yaml:"preferences" json:"-"`
	UserName      string  `yaml:"userName" json:"user_name,omitempty"`
	TeamName      string  `yaml:"teamName" json:"team_name,omitempty"`
	UserID        int     `yaml:"userId" json:"user_id,omitempty"`
	TeamID        int     `yaml:"teamId" json:"team_id,omitempty"`
	HostID        int     `yaml:"hostId" json:"host_id,omitempty"`
	UserCredit    float64 `yaml:"userCredit" json:"-"`
	UserAvgCredit float64 `yaml:"userAvgCredit" json:"-"`
	HostCredit    float64 `yaml:"hostCredit" json:"-"`
	HostAvgCredit float64 `yaml:"hostAvgCredit" json:"-"`
}

// AppVersion is the worker program and how fast it is expected to run.
type AppVersion struct {
	AppName    string  `yaml:"appName"`
	Version    int     `yaml:"version"`
	PlanClass  string  `yaml:"planClass"`
	Executable string  `yaml:"executable"`
	CmdLine    string  `yaml:"cmdLine"` // extra arguments, shell-quoted
	Flops      float64 `yaml:"flops"`   // expected FLOPS of one instance
}

// WorkUnit carries the resource bounds of one unit of work.
type WorkUnit struct {
	Name           string  `yaml:"name"`
	CommandLine    string  `yaml:"commandLine"`
	RscFpopsEst    float64 `yaml:"rscFpopsEst"`
	RscFpopsBound  float64 `yaml:"rscFpopsBound"`
	RscMemoryBound float64 `yaml:"rscMemoryBound"`
	RscDiskBound   float64 `yaml:"rscDiskBound"`
}

// Result is one replica of a work unit assigned to this host.
type Result struct {
	Name           string    `yaml:"name"`
	ReportDeadline time.Time `yaml:"reportDeadline"`
}

// Job is everything needed to run one task.
type Job struct {
	Project *Project
	App     AppVersion
	WU      WorkUnit
	Result  Result
}

// ClientVersion is reported to workers in init data.
type ClientVersion struct {
	Major   int
	Minor   int
	Release int
}

// Env is shared by a TaskSet and all of its tasks.
type Env struct {
	Config     *Config
	Flags      *LogFlags
	NewProcess process.Factory
	Now        func() time.Time
	Metrics    MetricsCollector
	Host       initdata.HostInfo
	ClientDir  string
	Version    ClientVersion
}

func (e *Env) withDefaults() *Env {
	out := *e
	if out.Config == nil {
		cfg := DefaultConfig()
		out.Config = &cfg
	}
	if out.NewProcess == nil {
		out.NewProcess = process.New
	}
	if out.Now == nil {
		out.Now = time.Now
	}
	if out.Metrics == nil {
		out.Metrics = NewNoopMetricsCollector()
	}
	return &out
}
