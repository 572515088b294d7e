// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command scanpipe-worker is the async execution daemon: it pulls
// queued runs (memory or Redis-backed, per config) and executes them,
// leaving the scanpipe CLI free to enqueue work and exit immediately.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aboutcode-org/scanpipe/internal/app"
	"github.com/aboutcode-org/scanpipe/internal/config"
	"github.com/aboutcode-org/scanpipe/internal/lifecycle"
	"github.com/aboutcode-org/scanpipe/internal/log"
)

// Version information, injected via ldflags at build time.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	pidFile := flag.String("pidfile", "", "path to write the worker's pid, empty to skip")
	lifecycleLog := flag.String("lifecycle-log", "", "path to append structured start/stop events to, empty to skip")
	metricsAddr := flag.String("metrics-addr", "", "address to serve /metrics on, empty to disable")
	flag.Parse()

	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	var pidMgr *lifecycle.PIDFileManager
	var lcLogger *lifecycle.LifecycleLogger
	if *lifecycleLog != "" {
		lcLogger = lifecycle.NewLifecycleLogger(*lifecycleLog)
		lcLogger.LogStart(version, os.Args[1:], *configPath)
	}

	startedAt := time.Now()
	if err := run(*configPath, *pidFile, *metricsAddr, logger); err != nil {
		logger.Error("worker exited with error", slog.Any("error", err))
		if lcLogger != nil {
			lcLogger.LogStopFailure(os.Getpid(), err)
		}
		os.Exit(1)
	}
	if lcLogger != nil {
		lcLogger.LogStopSuccess(os.Getpid(), time.Since(startedAt))
	}
}

func run(configPath, pidFile, metricsAddr string, logger *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if pidFile != "" {
		mgr := lifecycle.NewPIDFileManager(pidFile)
		if err := mgr.Create(os.Getpid()); err != nil {
			return fmt.Errorf("write pidfile: %w", err)
		}
		defer mgr.Remove()
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}
	defer a.Close()

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.Metrics.Handler())
		srv := &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server exited", slog.Any("error", err))
			}
		}()
		defer srv.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Scheduler.Start(ctx)
	}()

	logger.Info("scanpipe-worker started", slog.String("version", version), slog.Int("pid", os.Getpid()))

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", slog.String("signal", sig.String()))
		cancel()
		<-errCh
		return nil
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			return fmt.Errorf("scheduler stopped: %w", err)
		}
		return nil
	}
}
