// Package worker is the program side of the slot protocol: it attaches to
// the segment named in init_data.xml, follows control messages and reports
// progress back to the client.
package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"voltask/internal/client/initdata"
	"voltask/internal/client/ipc"
	"voltask/internal/client/slot"
	"voltask/pkg/errors"
	"voltask/pkg/utils/contextkey"
	"voltask/pkg/utils/logger"

	"go.uber.org/zap"
)

// DefaultHeartbeatTimeout is how long a worker runs without hearing from
// the client before it should assume the client is gone.
const DefaultHeartbeatTimeout = 30 * time.Second

// Options configures Open.
type Options struct {
	HeartbeatTimeout time.Duration
	Now              func() time.Time
}

// Controls is what one Poll observed.
type Controls struct {
	Quit          bool
	Abort         bool
	Suspend       bool
	Resume        bool
	RereadPrefs   bool
	RereadAppInfo bool
	TrickleDown   bool
	GraphicsMode  ipc.GraphicsMode
	// HeartbeatLost is set once no heartbeat arrived within the timeout
	// while the worker is not suspended.
	HeartbeatLost bool
}

// Worker is a worker program's connection to its slot.
type Worker struct {
	mu  sync.Mutex
	ctx context.Context

	dir  string
	init *initdata.AppInitData
	seg  *ipc.SharedMemorySegment
	lock *os.File
	now  func() time.Time

	heartbeatTimeout time.Duration
	lastHeartbeat    time.Time
	maxWSS           float64

	suspended         bool
	checkpointCPUTime float64
}

// Open locks dir, reads its init data and attaches to the segment.
func Open(dir string, opts Options) (*Worker, error) {
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	lock, err := slot.Lock(dir)
	if err != nil {
		return nil, errors.Wrapf(err, errors.SlotLocked, "lock slot %s", dir)
	}
	d, err := initdata.Read(dir)
	if err != nil {
		lock.Close()
		return nil, err
	}
	if d.ShmKey == "" {
		lock.Close()
		return nil, errors.Newf(errors.SegmentNotAttached, "init data in %s has no shm key", dir)
	}
	seg, err := ipc.AttachSegment(d.ShmKey)
	if err != nil {
		lock.Close()
		return nil, err
	}

	w := &Worker{
		ctx:               context.WithValue(context.Background(), contextkey.ResultName, d.ResultName),
		dir:               dir,
		init:              d,
		seg:               seg,
		lock:              lock,
		now:               opts.Now,
		heartbeatTimeout:  opts.HeartbeatTimeout,
		lastHeartbeat:     opts.Now(),
		checkpointCPUTime: d.WUCPUTime,
	}
	logger.Info(w.ctx, "worker attached", zap.String("segment", seg.Path()), zap.Int("slot", d.Slot))
	return w, nil
}

// InitData returns the record the client wrote for this run.
func (w *Worker) InitData() *initdata.AppInitData {
	return w.init
}

// Dir returns the slot directory.
func (w *Worker) Dir() string {
	return w.dir
}

// Suspended reports whether the client has asked the worker to pause.
func (w *Worker) Suspended() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.suspended
}

// MaxWorkingSetSize is the memory ceiling from the last heartbeat.
func (w *Worker) MaxWorkingSetSize() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.maxWSS
}

// Poll reads every inbound channel once.
func (w *Worker) Poll() Controls {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	var c Controls

	if msg, ok := w.seg.Channel(ipc.ProcessControlRequest).Receive(); ok {
		c.Quit = ipc.MatchTag(msg, ipc.MsgQuit)
		c.Abort = ipc.MatchTag(msg, ipc.MsgAbort)
		c.Suspend = ipc.MatchTag(msg, ipc.MsgSuspend)
		c.Resume = ipc.MatchTag(msg, ipc.MsgResume)
		c.RereadPrefs = ipc.MatchTag(msg, ipc.MsgRereadPrefs)
		c.RereadAppInfo = ipc.MatchTag(msg, ipc.MsgRereadAppInfo)
		switch {
		case c.Suspend:
			w.suspended = true
		case c.Resume:
			w.suspended = false
			w.lastHeartbeat = now
		}
	}

	if msg, ok := w.seg.Channel(ipc.Heartbeat).Receive(); ok {
		w.lastHeartbeat = now
		if hb, err := ipc.ParseHeartbeat(msg); err == nil {
			w.maxWSS = hb.MaxWorkingSetSize
		}
	}
	// A suspended worker is not doing work, so losing the client is not urgent.
	c.HeartbeatLost = !w.suspended && now.Sub(w.lastHeartbeat) > w.heartbeatTimeout

	if msg, ok := w.seg.Channel(ipc.GraphicsRequest).Receive(); ok {
		if mode, ok := ipc.ParseGraphicsMode(msg); ok {
			c.GraphicsMode = mode
			// This worker has no graphics.
			_ = w.seg.Channel(ipc.GraphicsReply).SendOverwrite(string(ipc.ModeUnsupported))
		}
	}

	if msg, ok := w.seg.Channel(ipc.TrickleDown).Receive(); ok {
		c.TrickleDown = ipc.MatchTag(msg, ipc.MsgHaveTrickleDown)
	}
	return c
}

// Checkpoint records that state up to cpuTime is safely on disk.
func (w *Worker) Checkpoint(cpuTime float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.checkpointCPUTime = cpuTime
}

// ReportStatus publishes progress. Only the latest status matters, so an
// unread one is overwritten.
func (w *Worker) ReportStatus(cpuTime, workingSet, fractionDone float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	msg := ipc.StatusMessage{
		CurrentCPUTime:    cpuTime,
		CheckpointCPUTime: w.checkpointCPUTime,
		WorkingSetSize:    workingSet,
		FractionDone:      fractionDone,
	}.Format()
	return w.seg.Channel(ipc.AppStatus).SendOverwrite(msg)
}

// NotifyTrickleUp tells the client a trickle-up message is ready.
func (w *Worker) NotifyTrickleUp() error {
	return w.seg.Channel(ipc.TrickleUp).Send(ipc.MsgHaveNewTrickleUp)
}

// RequestUpload asks the client to upload name.
func (w *Worker) RequestUpload(name string) error {
	path := filepath.Join(w.dir, slot.UploadFilePrefix+name)
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		return errors.Wrapf(err, errors.InternalServerError, "write upload request")
	}
	return w.seg.Channel(ipc.TrickleUp).Send(ipc.MsgHaveNewUploadFile)
}

// Finish writes the completion marker. The program should exit with code
// right after.
func (w *Worker) Finish(code int) error {
	path := filepath.Join(w.dir, slot.FinishCalledFile)
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d\n", code)), 0o644); err != nil {
		return errors.Wrapf(err, errors.InternalServerError, "write finish marker")
	}
	logger.Info(w.ctx, "worker finished", zap.Int("code", code))
	return nil
}

// TemporaryExit asks to be restarted later without counting a premature exit.
func (w *Worker) TemporaryExit(reason string) error {
	path := filepath.Join(w.dir, slot.TemporaryExitFile)
	if err := os.WriteFile(path, []byte(reason+"\n"), 0o644); err != nil {
		return errors.Wrapf(err, errors.InternalServerError, "write temporary exit marker")
	}
	return nil
}

// Close detaches from the segment and releases the slot lock.
func (w *Worker) Close() error {
	err := w.seg.Close()
	if cerr := w.lock.Close(); err == nil {
		err = cerr
	}
	return err
}
