package main

import (
	"context"
	"time"

	"voltask/internal/client/task"
	"voltask/pkg/utils/logger"

	"go.uber.org/zap"
)

// driver feeds configured jobs into the task set in order and restarts
// tasks that are waiting to run again. It stands in for a real CPU scheduler.
type driver struct {
	set        *task.TaskSet
	pending    []task.Job
	maxRunning int
	finished   int
}

func newDriver(set *task.TaskSet, cfg *AppConfig) *driver {
	projects := make(map[string]*task.Project, len(cfg.Projects))
	for i := range cfg.Projects {
		projects[cfg.Projects[i].Name] = &cfg.Projects[i]
	}
	d := &driver{set: set, maxRunning: cfg.Loop.MaxRunning}
	for _, j := range cfg.Jobs {
		d.pending = append(d.pending, task.Job{
			Project: projects[j.Project],
			App:     j.App,
			WU:      j.WU,
			Result:  j.Result,
		})
	}
	return d
}

func (d *driver) running() int {
	n := 0
	for _, t := range d.set.Tasks() {
		if t.ProcessRunning() {
			n++
		}
	}
	return n
}

// schedule restarts tasks whose backoff has passed, then starts new jobs
// while there is room.
func (d *driver) schedule(ctx context.Context, now time.Time) {
	running := d.running()
	for _, t := range d.set.Tasks() {
		if running >= d.maxRunning {
			return
		}
		if t.State() != task.StateUninitialized || now.Before(t.RestartNotBefore()) {
			continue
		}
		if err := t.ResumeOrStart(); err != nil {
			logger.Warn(ctx, "start task failed", zap.String("result", t.ResultName()), zap.Error(err))
			continue
		}
		running++
	}
	for running < d.maxRunning && len(d.pending) > 0 {
		job := d.pending[0]
		d.pending = d.pending[1:]
		t, err := d.set.NewTask(job)
		if err != nil {
			logger.Warn(ctx, "add task failed", zap.String("result", job.Result.Name), zap.Error(err))
			continue
		}
		if err := t.ResumeOrStart(); err != nil {
			logger.Warn(ctx, "start task failed", zap.String("result", job.Result.Name), zap.Error(err))
			continue
		}
		running++
	}
}

// reap removes finished tasks and logs their outcome.
func (d *driver) reap(ctx context.Context) {
	for _, t := range d.set.ReapFinished() {
		d.finished++
		s := t.Snapshot()
		logger.Info(ctx, "task finished",
			zap.String("result", s.ResultName),
			zap.String("state", s.State.String()),
			zap.String("exit_class", s.ExitClass.String()),
			zap.String("abort_reason", s.AbortReason.String()),
			zap.Bool("failed", s.Failed),
			zap.Float64("cpu_time", s.CurrentCPUTime),
			zap.Float64("elapsed", s.ElapsedTime),
			zap.String("archive", s.ArchivePath),
		)
	}
}

func (d *driver) idle() bool {
	return len(d.pending) == 0 && len(d.set.Tasks()) == 0
}
