// Package task runs worker programs: one Task per running work unit, and a
// TaskSet that polls them, hands out slots and applies batch operations.
package task

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"voltask/internal/client/initdata"
	"voltask/internal/client/ipc"
	"voltask/internal/client/process"
	"voltask/internal/client/procinfo"
	"voltask/internal/client/slot"
	"voltask/pkg/errors"
	"voltask/pkg/utils/contextkey"
	"voltask/pkg/utils/logger"

	"github.com/google/shlex"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// slotAllocator reserves a slot number for a task. TaskSet implements it.
type slotAllocator interface {
	allocateSlot(t *Task) (int, error)
}

// Task wraps one worker process, its slot directory and its shared-memory
// segment. All methods are safe for concurrent use.
type Task struct {
	mu    sync.Mutex
	env   *Env
	alloc slotAllocator
	ctx   context.Context

	id  string
	job Job

	slot    int
	slotDir string

	handle        process.Handle
	pid           int
	running       bool
	segment       *ipc.SharedMemorySegment
	controlQueue  *ipc.MessageQueue
	graphicsQueue *ipc.MessageQueue

	maxCPUTime   float64
	maxDiskUsage float64
	maxMemUsage  float64

	state          TaskState
	schedulerState SchedulerState

	currentCPUTime      float64
	runStartCPUTime     float64
	checkpointCPUTime   float64
	checkpointWallTime  time.Time
	checkpointElapsed   time.Duration
	episodeStartCPUTime float64
	episodeStartWall    time.Time
	elapsed             time.Duration
	fractionDone        float64
	lastStatusAt        time.Time

	workingSetSize         float64
	workingSetSizeSmoothed float64
	pageFaultRate          float64
	diskUsage              float64

	prematureExitCount int
	couldntStartCount  int
	startedOnce        bool
	restartNotBefore   time.Time

	quitTime           time.Time
	abortTime          time.Time
	killRequested      bool
	killRestart        bool
	suspendedViaSignal bool

	lastExit    process.ExitStatus
	exitClass   ExitClass
	abortReason AbortReason
	failed      bool
	lastError   string
	stderr      string
	archivePath string

	graphicsMode       ipc.GraphicsMode
	trickleUpPending   bool
	uploadFiles        []string
	trickleDownPending bool
}

// New creates a task for job. It has no slot until it is first started.
func New(job Job, env *Env) *Task {
	if env == nil {
		env = &Env{}
	}
	env = env.withDefaults()
	t := &Task{
		env:           env,
		id:            uuid.NewString(),
		job:           job,
		slot:          -1,
		controlQueue:  ipc.NewMessageQueue(ipc.ProcessControlRequest.String()),
		graphicsQueue: ipc.NewMessageQueue(ipc.GraphicsRequest.String()),
		maxDiskUsage:  job.WU.RscDiskBound,
		maxMemUsage:   job.WU.RscMemoryBound,
	}
	if job.App.Flops > 0 && job.WU.RscFpopsBound > 0 {
		t.maxCPUTime = job.WU.RscFpopsBound / job.App.Flops
	}
	t.ctx = context.WithValue(context.Background(), contextkey.ResultName, job.Result.Name)
	return t
}

// ID is a unique id for this task instance.
func (t *Task) ID() string { return t.id }

// ResultName identifies the task to the scheduler and reporting layers.
func (t *Task) ResultName() string { return t.job.Result.Name }

// Project returns the owning project, or nil.
func (t *Task) Project() *Project { return t.job.Project }

// Job returns the job description.
func (t *Task) Job() Job { return t.job }

func (t *Task) appName() string { return t.job.App.AppName }

// State returns the lifecycle state.
func (t *Task) State() TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Runnable reports whether the scheduler may still run this task.
func (t *Task) Runnable() bool {
	return t.State().Runnable()
}

// Slot returns the slot number, or -1 before the first start.
func (t *Task) Slot() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.slot
}

// SlotDir returns the slot directory, empty before the first start.
func (t *Task) SlotDir() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.slotDir
}

// SchedulerState returns the state last set by the scheduler.
func (t *Task) SchedulerState() SchedulerState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.schedulerState
}

// SetSchedulerState is for the external scheduler only.
func (t *Task) SetSchedulerState(s SchedulerState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.schedulerState = s
}

// PrematureExitCount returns how many times the worker exited without finishing.
func (t *Task) PrematureExitCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.prematureExitCount
}

// AbortReason returns why the client ended the task, if it did.
func (t *Task) AbortReason() AbortReason {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.abortReason
}

// ExitClass returns the classification of the last process exit.
func (t *Task) ExitClass() ExitClass {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exitClass
}

// ProcessRunning reports whether a worker process exists that has not been
// observed to exit.
func (t *Task) ProcessRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// RestartNotBefore is the earliest time an automatic restart may happen.
func (t *Task) RestartNotBefore() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.restartNotBefore
}

func (t *Task) flagged(flag string, msg string, fields ...zap.Field) {
	if t.env.Flags.Enabled(flag) {
		logger.Info(t.ctx, msg, fields...)
	}
}

func (t *Task) setState(next TaskState, now time.Time) {
	prev := t.state
	if prev == next {
		return
	}
	if prev == StateExecuting && !t.episodeStartWall.IsZero() {
		t.elapsed += now.Sub(t.episodeStartWall)
	}
	if next == StateExecuting {
		t.episodeStartWall = now
		t.episodeStartCPUTime = t.currentCPUTime
	}
	t.state = next
	t.env.Metrics.TaskStateTransition(t.appName(), prev, next)
	t.flagged(FlagTask, "task state changed",
		zap.String("from", prev.String()),
		zap.String("to", next.String()),
	)
}

func (t *Task) elapsedLocked(now time.Time) time.Duration {
	d := t.elapsed
	if t.state == StateExecuting && !t.episodeStartWall.IsZero() {
		d += now.Sub(t.episodeStartWall)
	}
	return d
}

// Start launches the worker. firstTime wipes the slot directory; restarts
// keep it so the worker can resume from its checkpoint.
func (t *Task) Start(firstTime bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.startLocked(firstTime)
}

func (t *Task) startLocked(firstTime bool) error {
	if t.running {
		return errors.Newf(errors.InvalidTaskState, "task %s already has a running process", t.ResultName())
	}
	if t.state != StateUninitialized && t.state != StateCouldntStart {
		return errors.Newf(errors.InvalidTaskState, "cannot start task %s in state %s", t.ResultName(), t.state)
	}
	if t.failed {
		return errors.Newf(errors.InvalidTaskState, "task %s has failed permanently (%s)", t.ResultName(), t.abortReason)
	}
	now := t.env.Now()
	if now.Before(t.restartNotBefore) {
		return errors.Newf(errors.InvalidTaskState, "task %s may not restart before %s",
			t.ResultName(), t.restartNotBefore.Format(time.RFC3339))
	}

	if t.slot < 0 {
		if t.alloc == nil {
			return errors.Newf(errors.NoFreeSlot, "task %s is not part of a task set", t.ResultName())
		}
		n, err := t.alloc.allocateSlot(t)
		if err != nil {
			return err
		}
		t.slot = n
		t.slotDir = slot.Dir(t.env.Config.SlotsDir, n)
		if abs, err := filepath.Abs(t.slotDir); err == nil {
			t.slotDir = abs
		}
		t.ctx = context.WithValue(t.ctx, contextkey.Slot, n)
		firstTime = true
	}

	if err := t.launch(firstTime, now); err != nil {
		t.couldntStartCount++
		t.lastError = err.Error()
		t.env.Metrics.TaskStartFailed(t.appName())
		logger.Warn(t.ctx, "failed to start worker",
			zap.Int("attempt", t.couldntStartCount),
			zap.Error(err),
		)
		if t.couldntStartCount >= t.env.Config.MaxCouldntStart {
			t.failed = true
			t.abortReason = ReasonCouldntStart
		} else {
			t.restartNotBefore = now.Add(restartBackoff(t.couldntStartCount,
				t.env.Config.RestartBackoff, t.env.Config.RestartBackoffMax))
		}
		t.setState(StateCouldntStart, now)
		return err
	}

	t.startedOnce = true
	logger.Info(t.ctx, "worker started",
		zap.Int("pid", t.pid),
		zap.String("slot_dir", t.slotDir),
		zap.Bool("first_time", firstTime),
	)
	t.setState(StateExecuting, now)
	return nil
}

func (t *Task) launch(firstTime bool, now time.Time) error {
	cfg := t.env.Config
	if err := slot.Prepare(t.slotDir, firstTime); err != nil {
		return err
	}
	slot.RemoveMarkers(t.slotDir)
	t.flagged(FlagSlotDebug, "slot prepared", zap.String("dir", t.slotDir), zap.Bool("wiped", firstTime))

	exe, args, err := t.command()
	if err != nil {
		return err
	}

	segPath := ipc.SegmentPath(cfg.ShmDir, t.slotDir, cfg.ShmSalt)
	if err := initdata.Write(t.slotDir, t.initData(segPath)); err != nil {
		return err
	}
	seg, err := ipc.CreateSegment(segPath)
	if err != nil {
		return err
	}

	h := t.env.NewProcess()
	spec := process.Spec{
		Path:       exe,
		Args:       args,
		Dir:        t.slotDir,
		Env:        os.Environ(),
		StdoutPath: filepath.Join(t.slotDir, slot.StdoutFile),
		StderrPath: filepath.Join(t.slotDir, slot.StderrFile),
	}
	if err := h.Start(spec); err != nil {
		if rmErr := seg.Remove(); rmErr != nil {
			logger.Warn(t.ctx, "failed to remove segment", zap.Error(rmErr))
		}
		return err
	}

	t.handle = h
	t.pid = h.Pid()
	t.running = true
	t.segment = seg
	t.controlQueue.Reset()
	t.graphicsQueue.Reset()
	t.quitTime = time.Time{}
	t.abortTime = time.Time{}
	t.killRequested = false
	t.killRestart = false
	t.suspendedViaSignal = false
	t.runStartCPUTime = t.currentCPUTime
	t.lastExit = process.ExitStatus{}
	t.exitClass = ExitNone
	t.lastStatusAt = now
	return nil
}

func (t *Task) command() (string, []string, error) {
	exe := t.job.App.Executable
	if exe == "" {
		return "", nil, errors.Newf(errors.ExecutableNotFound, "app %s has no executable", t.appName())
	}
	if !filepath.IsAbs(exe) && t.job.Project != nil && t.job.Project.ProjectDir != "" {
		exe = filepath.Join(t.job.Project.ProjectDir, exe)
	}
	if abs, err := filepath.Abs(exe); err == nil {
		exe = abs
	}
	args, err := shlex.Split(t.job.App.CmdLine)
	if err != nil {
		return "", nil, errors.Wrapf(err, errors.InvalidFormat, "parse app command line")
	}
	wuArgs, err := shlex.Split(t.job.WU.CommandLine)
	if err != nil {
		return "", nil, errors.Wrapf(err, errors.InvalidFormat, "parse work unit command line")
	}
	return exe, append(args, wuArgs...), nil
}

func (t *Task) initData(shmKey string) *initdata.AppInitData {
	d := &initdata.AppInitData{
		MajorVersion:        t.env.Version.Major,
		MinorVersion:        t.env.Version.Minor,
		ReleaseVersion:      t.env.Version.Release,
		AppVersion:          t.job.App.Version,
		AppName:             t.job.App.AppName,
		PlanClass:           t.job.App.PlanClass,
		ClientDir:           t.env.ClientDir,
		WUName:              t.job.WU.Name,
		ResultName:          t.job.Result.Name,
		Slot:                t.slot,
		RscFpopsEst:         t.job.WU.RscFpopsEst,
		RscFpopsBound:       t.job.WU.RscFpopsBound,
		RscMemoryBound:      t.job.WU.RscMemoryBound,
		RscDiskBound:        t.job.WU.RscDiskBound,
		CheckpointPeriod:    t.env.Config.CheckpointPeriod,
		FractionDoneEnd:     1,
		WUCPUTime:           t.checkpointCPUTime,
		StartingElapsedTime: t.checkpointElapsed.Seconds(),
		ShmKey:              shmKey,
		Host:                t.env.Host,
	}
	if !t.job.Result.ReportDeadline.IsZero() {
		d.ComputationDeadline = float64(t.job.Result.ReportDeadline.Unix())
	}
	if p := t.job.Project; p != nil {
		d.ProjectURL = p.URL
		d.ProjectDir = p.ProjectDir
		d.ProjectPreferences = p.Preferences
		d.Authenticator = p.Authenticator
		d.UserName = p.UserName
		d.TeamName = p.TeamName
		d.UserID = p.UserID
		d.TeamID = p.TeamID
		d.HostID = p.HostID
		d.UserTotalCredit = p.UserCredit
		d.UserExpavgCredit = p.UserAvgCredit
		d.HostTotalCredit = p.HostCredit
		d.HostExpavgCredit = p.HostAvgCredit
	}
	return d
}

// Suspend asks the worker to pause. Calling it on a task that is not
// executing does nothing.
func (t *Task) Suspend() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.suspendLocked(t.env.Now())
}

func (t *Task) suspendLocked(now time.Time) error {
	if t.state != StateExecuting || !t.running {
		return nil
	}
	if t.env.Config.SuspendViaSignal || t.segment == nil {
		err := t.handle.Stop()
		if err == nil {
			t.suspendedViaSignal = true
			t.setState(StateSuspended, now)
			return nil
		}
		if t.segment == nil {
			return err
		}
		logger.Warn(t.ctx, "signal suspend failed, using control message", zap.Error(err))
	}
	if t.controlQueue.Purge(ipc.MsgResume) == 0 {
		t.controlQueue.Enqueue(ipc.MsgSuspend)
	}
	t.setState(StateSuspended, now)
	return nil
}

// Unsuspend resumes a suspended task. Calling it on a task that is not
// suspended does nothing.
func (t *Task) Unsuspend() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.unsuspendLocked(t.env.Now())
}

func (t *Task) unsuspendLocked(now time.Time) error {
	if t.state != StateSuspended || !t.running {
		return nil
	}
	if t.suspendedViaSignal {
		if err := t.handle.Continue(); err != nil {
			return err
		}
		t.suspendedViaSignal = false
		t.controlQueue.ClearBlocked()
	} else if t.controlQueue.Purge(ipc.MsgSuspend) == 0 {
		t.controlQueue.Enqueue(ipc.MsgResume)
	}
	t.setState(StateExecuting, now)
	return nil
}

// RequestExit asks the worker to checkpoint and quit. The task stays
// runnable; if the worker is still alive after the quit grace period the
// next poll kills it.
func (t *Task) RequestExit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.requestExitLocked(t.env.Now())
}

func (t *Task) requestExitLocked(now time.Time) error {
	if !t.running || !t.quitTime.IsZero() {
		return nil
	}
	t.wakeLocked()
	t.controlQueue.Enqueue(ipc.MsgQuit)
	t.quitTime = now
	t.flagged(FlagTask, "quit requested")
	return nil
}

// RequestAbort asks the worker to abort. The shorter abort grace period applies.
func (t *Task) RequestAbort() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.requestAbortLocked(t.env.Now())
}

func (t *Task) requestAbortLocked(now time.Time) error {
	if !t.running || !t.abortTime.IsZero() {
		return nil
	}
	t.wakeLocked()
	t.controlQueue.Enqueue(ipc.MsgAbort)
	t.abortTime = now
	t.flagged(FlagTask, "abort requested")
	return nil
}

// wakeLocked resumes a worker stopped by signal so it can read control messages.
func (t *Task) wakeLocked() {
	if !t.suspendedViaSignal {
		return
	}
	if err := t.handle.Continue(); err != nil {
		logger.Warn(t.ctx, "failed to continue stopped worker", zap.Error(err))
		return
	}
	t.suspendedViaSignal = false
	t.controlQueue.ClearBlocked()
}

// AbortTask ends the task with reason. A live worker is sent an abort
// request and killed once the abort grace period passes.
func (t *Task) AbortTask(reason AbortReason) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.abortLocked(reason, t.env.Now())
}

func (t *Task) abortLocked(reason AbortReason, now time.Time) error {
	if t.state == StateAborted {
		return nil
	}
	t.abortReason = reason
	t.failed = true
	t.env.Metrics.TaskAborted(t.appName(), reason)
	logger.Warn(t.ctx, "aborting task",
		zap.String("reason", reason.String()),
		zap.Bool("process_running", t.running),
	)
	if t.running {
		if err := t.requestAbortLocked(now); err != nil {
			return err
		}
	}
	t.setState(StateAborted, now)
	return nil
}

// KillTask forcibly terminates the worker's process group without waiting.
// The exit is processed by a later poll: with restart the task becomes
// UNINITIALIZED, otherwise ABORTED.
func (t *Task) KillTask(restart bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.killLocked(restart, t.env.Now())
}

func (t *Task) killLocked(restart bool, now time.Time) error {
	if t.running {
		t.killRequested = true
		t.killRestart = restart
		if err := t.handle.Terminate(); err != nil && !errors.Is(err, errors.ProcessNotRunning) {
			return err
		}
		t.flagged(FlagTask, "kill sent", zap.Int("pid", t.pid), zap.Bool("restart", restart))
		return nil
	}
	if !t.state.Runnable() {
		return nil
	}
	if restart {
		t.setState(StateUninitialized, now)
		return nil
	}
	if t.abortReason == ReasonNone {
		t.abortReason = ReasonKilled
	}
	t.failed = true
	t.setState(StateAborted, now)
	return nil
}

// HasTaskExited checks, without blocking, whether the worker process has
// ended and processes the exit if so.
func (t *Task) HasTaskExited() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return t.handle != nil
	}
	st, ok := t.handle.Exited()
	if !ok {
		return false
	}
	t.handleExitedLocked(st, t.env.Now())
	return true
}

// HandleExitedApp classifies a process exit and moves the task to its next state.
func (t *Task) HandleExitedApp(st process.ExitStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handleExitedLocked(st, t.env.Now())
}

func (t *Task) handleExitedLocked(st process.ExitStatus, now time.Time) {
	if !t.running {
		return
	}
	t.running = false
	t.lastExit = st
	if cpu := t.runStartCPUTime + st.CPUTime; cpu > t.currentCPUTime {
		t.currentCPUTime = cpu
	}

	if t.segment != nil {
		t.drainInbound(now)
		if err := t.segment.Remove(); err != nil {
			logger.Warn(t.ctx, "failed to remove segment", zap.Error(err))
		}
		t.segment = nil
	}
	t.controlQueue.Reset()
	t.graphicsQueue.Reset()
	t.stderr = slot.ReadStderr(t.slotDir, t.env.Config.StderrMaxBytes)

	finished := slot.FinishCalled(t.slotDir)
	quitRequested := !t.quitTime.IsZero()
	aborting := !t.abortTime.IsZero() || t.state == StateAborted
	killed, restart := t.killRequested, t.killRestart
	t.quitTime = time.Time{}
	t.abortTime = time.Time{}
	t.killRequested = false
	t.suspendedViaSignal = false

	var class ExitClass
	var next TaskState
	switch {
	case aborting:
		class, next = ExitAborted, StateAborted
		if t.abortReason == ReasonNone {
			t.abortReason = ReasonAbortedByClient
		}
		t.failed = true
	case killed && restart:
		class, next = ExitKilled, StateUninitialized
	case killed:
		class, next = ExitKilled, StateAborted
		if t.abortReason == ReasonNone {
			t.abortReason = ReasonKilled
		}
		t.failed = true
	case finished:
		class, next = ExitNormal, StateExited
		if !st.Success() {
			class = ExitNonzero
			if st.Signaled {
				class = ExitSignaled
			}
			t.failed = true
		}
	case quitRequested:
		class, next = ExitQuit, StateUninitialized
	case st.Signaled && externalSignal(st.Signal):
		class, next = t.prematureExitLocked(now)
	case st.Signaled:
		class, next = ExitSignaled, StateExited
		t.failed = true
	case st.Code != 0 || st.Err != nil:
		class, next = ExitNonzero, StateExited
		t.failed = true
	case slot.TemporaryExit(t.slotDir):
		class, next = ExitTemporary, StateUninitialized
		t.restartNotBefore = now.Add(t.env.Config.RestartBackoff)
	default:
		class, next = t.prematureExitLocked(now)
	}

	t.exitClass = class
	if t.failed && t.env.Config.ArchiveDir != "" && t.slotDir != "" {
		path, err := slot.Archive(t.slotDir, t.env.Config.ArchiveDir, t.ResultName(), now)
		if err != nil {
			logger.Warn(t.ctx, "failed to archive slot outputs", zap.Error(err))
		} else {
			t.archivePath = path
		}
	}

	t.env.Metrics.TaskExited(t.appName(), class)
	logger.Info(t.ctx, "worker exited",
		zap.Int("pid", t.pid),
		zap.String("status", st.String()),
		zap.String("class", class.String()),
		zap.String("next_state", next.String()),
	)
	t.setState(next, now)
}

func (t *Task) prematureExitLocked(now time.Time) (ExitClass, TaskState) {
	t.prematureExitCount++
	if t.prematureExitCount >= t.env.Config.MaxPrematureExits {
		t.failed = true
		t.abortReason = ReasonTooManyExits
		logger.Warn(t.ctx, "too many premature exits", zap.Int("count", t.prematureExitCount))
		return ExitPremature, StateExited
	}
	delay := restartBackoff(t.prematureExitCount, t.env.Config.RestartBackoff, t.env.Config.RestartBackoffMax)
	t.restartNotBefore = now.Add(delay)
	t.env.Metrics.TaskRestartScheduled(t.appName(), delay)
	t.flagged(FlagTask, "premature exit, restart scheduled",
		zap.Int("count", t.prematureExitCount),
		zap.Duration("delay", delay),
	)
	return ExitPremature, StateUninitialized
}

// externalSignal reports signals that usually come from outside the worker
// (shutdown, operator). Such exits are restarted rather than failed.
func externalSignal(sig int) bool {
	switch syscall.Signal(sig) {
	case syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGKILL, syscall.SIGTERM:
		return true
	}
	return false
}

// poll advances the task by one cycle and reports whether its visible state changed.
func (t *Task) poll(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		if st, ok := t.handle.Exited(); ok {
			t.handleExitedLocked(st, now)
			return true
		}
		if t.segment != nil {
			t.drainInbound(now)
			t.flushLocked(now)
		}
		return t.enforceGraceLocked(now)
	}

	if t.state == StateCouldntStart && !t.failed && !now.Before(t.restartNotBefore) {
		t.setState(StateUninitialized, now)
		return true
	}
	return false
}

func (t *Task) drainInbound(now time.Time) {
	seg := t.segment
	if msg, ok := seg.Channel(ipc.AppStatus).Receive(); ok {
		t.flagged(FlagAppMsgReceive, "app status", zap.String("msg", msg))
		t.handleStatus(msg, now)
	}
	if msg, ok := seg.Channel(ipc.GraphicsReply).Receive(); ok {
		t.flagged(FlagAppMsgReceive, "graphics reply", zap.String("msg", msg))
		if mode, ok := ipc.ParseGraphicsMode(msg); ok {
			t.graphicsMode = mode
		}
	}
	if msg, ok := seg.Channel(ipc.TrickleUp).Receive(); ok {
		t.flagged(FlagAppMsgReceive, "trickle up", zap.String("msg", msg))
		if ipc.MatchTag(msg, ipc.MsgHaveNewTrickleUp) {
			t.trickleUpPending = true
		}
		if ipc.MatchTag(msg, ipc.MsgHaveNewUploadFile) {
			t.scanUploadFiles()
		}
	}
	if msg, ok := seg.Channel(ipc.ProcessControlReply).Receive(); ok {
		t.flagged(FlagAppMsgReceive, "process control reply", zap.String("msg", msg))
	}
}

func (t *Task) handleStatus(msg string, now time.Time) {
	st, err := ipc.ParseStatusMessage(msg)
	if err != nil {
		logger.Warn(t.ctx, "ignoring malformed status message", zap.Error(err))
		return
	}
	if st.HasCurrentCPUTime && st.CurrentCPUTime > t.currentCPUTime {
		t.currentCPUTime = st.CurrentCPUTime
	}
	if st.HasCheckpointCPUTime && st.CheckpointCPUTime != t.checkpointCPUTime {
		t.checkpointCPUTime = st.CheckpointCPUTime
		t.checkpointWallTime = now
		t.checkpointElapsed = t.elapsedLocked(now)
		t.flagged(FlagTaskDebug, "checkpoint", zap.Float64("cpu", st.CheckpointCPUTime))
	}
	if st.HasWorkingSetSize {
		t.workingSetSize = st.WorkingSetSize
	}
	if st.HasFractionDone {
		t.fractionDone = math.Min(math.Max(st.FractionDone, 0), 1)
	}
	t.lastStatusAt = now
}

func (t *Task) scanUploadFiles() {
	names, err := slot.UploadFileRequests(t.slotDir)
	if err != nil {
		logger.Warn(t.ctx, "failed to scan upload file requests", zap.Error(err))
		return
	}
	seen := make(map[string]bool, len(t.uploadFiles))
	for _, n := range t.uploadFiles {
		seen[n] = true
	}
	for _, n := range names {
		if !seen[n] {
			t.uploadFiles = append(t.uploadFiles, n)
		}
	}
}

func (t *Task) flushLocked(now time.Time) {
	seg := t.segment
	if n := t.controlQueue.Flush(seg.Channel(ipc.ProcessControlRequest), now); n > 0 {
		t.flagged(FlagAppMsgSend, "process control sent", zap.Int("count", n))
	}
	if n := t.graphicsQueue.Flush(seg.Channel(ipc.GraphicsRequest), now); n > 0 {
		t.flagged(FlagAppMsgSend, "graphics request sent", zap.Int("count", n))
	}
	if t.trickleDownPending {
		if err := seg.Channel(ipc.TrickleDown).Send(ipc.MsgHaveTrickleDown); err == nil {
			t.trickleDownPending = false
			t.flagged(FlagAppMsgSend, "trickle down notice sent")
		}
	}
}

func (t *Task) enforceGraceLocked(now time.Time) bool {
	if t.killRequested {
		return false
	}
	cfg := t.env.Config
	switch {
	case !t.abortTime.IsZero() && now.Sub(t.abortTime) > cfg.AbortGracePeriod:
		logger.Warn(t.ctx, "worker ignored abort request, killing", zap.Duration("grace", cfg.AbortGracePeriod))
		_ = t.killLocked(false, now)
		return true
	case !t.quitTime.IsZero() && now.Sub(t.quitTime) > cfg.QuitGracePeriod:
		logger.Warn(t.ctx, "worker ignored quit request, killing", zap.Duration("grace", cfg.QuitGracePeriod))
		_ = t.killLocked(true, now)
		return true
	case !t.suspendedViaSignal && t.controlQueue.BlockedLongerThan(now, cfg.QuitGracePeriod):
		// A stopped worker cannot read; the clock restarts when it is continued.
		logger.Warn(t.ctx, "worker is not reading control messages, killing",
			zap.Time("blocked_since", t.controlQueue.BlockedSince()),
		)
		t.abortReason = ReasonUnresponsive
		t.failed = true
		t.env.Metrics.TaskAborted(t.appName(), ReasonUnresponsive)
		_ = t.killLocked(false, now)
		return true
	}
	return false
}

// QuitGraceExpired reports whether a quit was requested more than the quit
// grace period before now, so that a forced kill is permitted.
func (t *Task) QuitGraceExpired(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.quitTime.IsZero() && now.Sub(t.quitTime) > t.env.Config.QuitGracePeriod
}

// sendHeartbeat covers suspended workers too: they still poll their
// channels and would otherwise take the silence for a dead client.
func (t *Task) sendHeartbeat(maxWSS float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running || t.segment == nil || t.killRequested {
		return
	}
	msg := ipc.FormatHeartbeat(ipc.HeartbeatInfo{
		WorkingSetSize:    t.workingSetSizeSmoothed,
		MaxWorkingSetSize: maxWSS,
	})
	err := t.segment.Channel(ipc.Heartbeat).Send(msg)
	t.flagged(FlagHeartbeatDebug, "heartbeat", zap.Bool("delivered", err == nil))
}

// CheckResourceLimits refreshes usage from the slot directory and snap and
// aborts the task if a ceiling is exceeded. It returns true if it aborted.
func (t *Task) CheckResourceLimits(snap *procinfo.Snapshot) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running || t.state == StateAborted || t.killRequested {
		return false
	}
	now := t.env.Now()

	if t.slotDir != "" {
		usage, err := slot.DiskUsage(t.slotDir)
		if err != nil {
			logger.Warn(t.ctx, "failed to measure disk usage", zap.Error(err))
		} else {
			t.diskUsage = usage
		}
	}
	if snap != nil && t.pid > 0 {
		if agg, ok := snap.Aggregate(t.pid); ok {
			t.workingSetSize = agg.WorkingSetSize
			t.workingSetSizeSmoothed = agg.WorkingSetSizeSmoothed
			t.pageFaultRate = agg.PageFaultRate
			if cpu := t.runStartCPUTime + agg.CPUTime(); cpu > t.currentCPUTime {
				t.currentCPUTime = cpu
			}
			t.flagged(FlagMemUsageDebug, "memory usage",
				zap.Float64("wss", agg.WorkingSetSize),
				zap.Float64("wss_smoothed", agg.WorkingSetSizeSmoothed),
				zap.Float64("page_fault_rate", agg.PageFaultRate),
			)
		}
	}

	switch {
	case t.maxDiskUsage > 0 && t.diskUsage > t.maxDiskUsage:
		logger.Warn(t.ctx, "disk usage limit exceeded",
			zap.Float64("usage", t.diskUsage), zap.Float64("limit", t.maxDiskUsage))
		_ = t.abortLocked(ReasonDiskLimit, now)
		return true
	case t.maxMemUsage > 0 && t.workingSetSize > t.maxMemUsage:
		logger.Warn(t.ctx, "memory usage limit exceeded",
			zap.Float64("usage", t.workingSetSize), zap.Float64("limit", t.maxMemUsage))
		_ = t.abortLocked(ReasonMemoryLimit, now)
		return true
	case t.maxCPUTime > 0 && t.currentCPUTime > t.maxCPUTime:
		logger.Warn(t.ctx, "cpu time limit exceeded",
			zap.Float64("cpu", t.currentCPUTime), zap.Float64("limit", t.maxCPUTime))
		_ = t.abortLocked(ReasonCPULimit, now)
		return true
	}
	return false
}

// EstCPUTimeToCompletion blends the static estimate from the work unit's
// FLOP count with the dynamic estimate from reported progress, weighting the
// dynamic one by fraction done.
func (t *Task) EstCPUTimeToCompletion() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.estLocked()
}

func (t *Task) estLocked() float64 {
	cpu := t.currentCPUTime
	fd := t.fractionDone
	static := 0.0
	if t.job.App.Flops > 0 {
		static = t.job.WU.RscFpopsEst / t.job.App.Flops
	}
	staticLeft := math.Max(static-cpu, 0)
	if fd <= 0 {
		return staticLeft
	}
	if fd >= 1 {
		return 0
	}
	dynamic := cpu/fd - cpu
	return math.Max(fd*dynamic+(1-fd)*staticLeft, 0)
}

// ResumeOrStart starts an uninitialized task or resumes a suspended one.
func (t *Task) ResumeOrStart() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.schedulerState = SchedulerScheduled
	switch t.state {
	case StateUninitialized:
		return t.startLocked(!t.startedOnce)
	case StateSuspended:
		return t.unsuspendLocked(t.env.Now())
	case StateExecuting:
		return nil
	default:
		return errors.Newf(errors.InvalidTaskState, "cannot resume task %s in state %s", t.ResultName(), t.state)
	}
}

// Preempt removes the task from the CPU: suspend it, or ask it to quit when
// remove is set.
func (t *Task) Preempt(remove bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.schedulerState = SchedulerPreempted
	now := t.env.Now()
	if remove {
		return t.requestExitLocked(now)
	}
	return t.suspendLocked(now)
}

// RequestGraphicsMode queues a mode change. Only the latest unsent mode is kept.
func (t *Task) RequestGraphicsMode(mode ipc.GraphicsMode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range ipc.GraphicsModes {
		t.graphicsQueue.Purge(string(m))
	}
	t.graphicsQueue.Enqueue(string(mode))
}

// RequestRereadPrefs tells the worker its project preferences changed.
func (t *Task) RequestRereadPrefs() {
	t.enqueueOnce(ipc.MsgRereadPrefs)
}

// RequestRereadAppInfo tells the worker to reread init data derived info.
func (t *Task) RequestRereadAppInfo() {
	t.enqueueOnce(ipc.MsgRereadAppInfo)
}

func (t *Task) enqueueOnce(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	t.controlQueue.Purge(msg)
	t.controlQueue.Enqueue(msg)
}

// SendTrickleDown notifies the worker that a trickle-down message is
// waiting. Delivery is retried on each poll until the channel accepts it.
func (t *Task) SendTrickleDown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.trickleDownPending = true
}

// TakeTrickleUp reports and clears the pending trickle-up notice.
func (t *Task) TakeTrickleUp() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.trickleUpPending
	t.trickleUpPending = false
	return p
}

// TakeUploadFiles returns and clears the files the worker asked to upload.
func (t *Task) TakeUploadFiles() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	files := t.uploadFiles
	t.uploadFiles = nil
	for _, f := range files {
		if err := slot.RemoveUploadFileRequest(t.slotDir, f); err != nil {
			logger.Warn(t.ctx, "failed to remove upload request", zap.String("file", f), zap.Error(err))
		}
	}
	return files
}

// finished reports whether the task is done and may be removed.
func (t *Task) finished() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return false
	}
	switch t.state {
	case StateExited, StateAborted:
		return true
	case StateCouldntStart:
		return t.failed
	}
	return false
}

// cleanup releases everything the task holds except its slot number.
func (t *Task) cleanup() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return errors.Newf(errors.InvalidTaskState, "task %s still has a running process", t.ResultName())
	}
	if t.segment != nil {
		if err := t.segment.Remove(); err != nil {
			logger.Warn(t.ctx, "failed to remove segment", zap.Error(err))
		}
		t.segment = nil
	}
	if t.slotDir != "" {
		if err := slot.Clean(t.slotDir); err != nil {
			return err
		}
		t.flagged(FlagSlotDebug, "slot cleaned", zap.String("dir", t.slotDir))
	}
	return nil
}
