package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voltask/internal/client/slot"
	"voltask/internal/client/status"
	"voltask/internal/client/task"
	"voltask/pkg/utils/logger"

	"go.uber.org/zap"
)

const defaultConfigPath = "configs/task_client.yaml"

var clientVersion = task.ClientVersion{Major: 1, Minor: 4, Release: 0}

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	flags, err := task.ParseLogFlags(appCfg.Client.LogFlags)
	if err != nil {
		logger.Error(context.Background(), "invalid log flags", zap.Error(err))
		return
	}
	if err := os.MkdirAll(appCfg.Client.SlotsDir, 0o755); err != nil {
		logger.Error(context.Background(), "create slots dir failed", zap.Error(err))
		return
	}
	if err := os.MkdirAll(appCfg.Client.ShmDir, 0o755); err != nil {
		logger.Error(context.Background(), "create shm dir failed", zap.Error(err))
		return
	}
	clientLock, err := slot.LockClient(appCfg.Client.SlotsDir)
	if err != nil {
		logger.Error(context.Background(), "slots dir is in use by another client",
			zap.String("slots_dir", appCfg.Client.SlotsDir), zap.Error(err))
		return
	}
	defer clientLock.Close()

	metrics := task.NewPrometheusMetricsCollector(appCfg.Metrics.Namespace)
	set := task.NewTaskSet(&task.Env{
		Config:    &appCfg.Client,
		Flags:     flags,
		Metrics:   metrics,
		Host:      appCfg.Host,
		ClientDir: appCfg.ClientDir,
		Version:   clientVersion,
	}, nil)
	drv := newDriver(set, appCfg)

	var httpServer *http.Server
	errCh := make(chan error, 1)
	if appCfg.Server.Enabled {
		httpServer = status.NewServer(appCfg.Server, set, metrics.Handler())
		go func() {
			logger.Info(context.Background(), "status server started", zap.String("addr", appCfg.Server.Addr))
			errCh <- httpServer.ListenAndServe()
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info(ctx, "task client started",
		zap.Int("jobs", len(appCfg.Jobs)),
		zap.Int("max_running", appCfg.Loop.MaxRunning),
		zap.Strings("log_flags", flags.Names()),
	)
	runLoop(ctx, set, drv, appCfg.Loop, errCh)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), appCfg.Loop.ShutdownTimeout)
	defer cancel()
	if !set.Shutdown(shutdownCtx) {
		logger.Warn(shutdownCtx, "some workers did not exit before shutdown")
	}
	drv.reap(shutdownCtx)
	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error(shutdownCtx, "http server shutdown failed", zap.Error(err))
		}
	}
	logger.Info(shutdownCtx, "task client stopped", zap.Int("finished", drv.finished))
}

// runLoop polls the task set until ctx is done, the status server fails or,
// with ExitWhenIdle, every job is done.
func runLoop(ctx context.Context, set *task.TaskSet, drv *driver, cfg LoopConfig, errCh <-chan error) {
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	var lastHeartbeat, lastCheck time.Time
	for {
		select {
		case <-ctx.Done():
			logger.Info(context.Background(), "shutdown signal received")
			return
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error(context.Background(), "status server stopped", zap.Error(err))
			}
			return
		case now := <-ticker.C:
			set.Poll(now)
			if now.Sub(lastHeartbeat) >= cfg.HeartbeatInterval {
				set.SendHeartbeats()
				lastHeartbeat = now
			}
			if now.Sub(lastCheck) >= cfg.ResourceCheckInterval {
				snap, err := set.TakeProcessSnapshot(now)
				if err != nil {
					logger.Warn(ctx, "read process table failed", zap.Error(err))
				}
				set.CheckResourceLimits(snap)
				lastCheck = now
			}
			drv.reap(ctx)
			drv.schedule(ctx, now)
			if cfg.ExitWhenIdle && drv.idle() {
				logger.Info(ctx, "all jobs finished")
				return
			}
		}
	}
}
