// Copyright 2018-2026 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

// Command supervisor is the entry point of the training supervisor (spec
// §6.3), grounded on the teacher's cmd/runner/main.go: envflag backed
// flags, a usage banner, and a context cancelled by an OS signal to drive
// a graceful shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/karlmutch/envflag"

	"github.com/leaf-ai/training-supervisor/internal/log"
	"github.com/leaf-ai/training-supervisor/internal/notify"
	"github.com/leaf-ai/training-supervisor/internal/resources"
	"github.com/leaf-ai/training-supervisor/internal/runner"
	"github.com/leaf-ai/training-supervisor/internal/runner/config"
	"github.com/leaf-ai/training-supervisor/internal/runner/tracker"
)

var (
	logger = log.NewLogger("supervisor")

	csvOpt              = flag.String("csv", "", "path to the experiment table file (required)")
	configOpt           = flag.String("config", "", "path to the supervisor configuration file")
	trainingFilePathOpt = flag.String("training_file_path", ".", "working directory training commands are spawned from")
	createConfigOpt     = flag.String("create_config", "", "write a default configuration file to PATH and exit")

	checkIntervalOpt     = flag.Int("check_interval", 0, "override check_interval seconds from the configuration file")
	maxTrainingProcessOpt = flag.Int("max_training_process", 0, "override max_training_process from the configuration file")
	wandbEntityOpt       = flag.String("wandb_entity", "", "override the wandb entity from the configuration file")
	wandbProjectOpt      = flag.String("wandb_project", "", "override the wandb project from the configuration file")

	noUIOpt              = flag.Bool("no_ui", false, "disable the interactive status surface")
	autoContinueOpt      = flag.Bool("auto_continue", false, "override auto_continue from the configuration file")
	showLogsOpt          = flag.Bool("show_logs", false, "print the status snapshot and exit")
	showLogOpt           = flag.String("show_log", "", "print the captured log paths for a single row ID and exit")
	noAutoLogTerminalOpt = flag.Bool("no_auto_log_terminal", false, "disable automatically opening a log viewer for newly started rows")
	metricsAddrOpt       = flag.String("metrics_addr", "", "address to serve Prometheus /metrics on, eg :9090 (disabled when empty)")
)

func usage() {
	fmt.Fprintln(os.Stderr, path.Base(os.Args[0]))
	fmt.Fprintln(os.Stderr, "usage: ", os.Args[0], "[arguments]      training supervisor")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Arguments:")
	fmt.Fprintln(os.Stderr, "")
	flag.PrintDefaults()
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Environment Variables:")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "options can be read from environment variables by changing dashes to underscores and using upper case letters")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "To control log levels the LOGXI env variables can be used, documented at https://github.com/mgutz/logxi")
}

func main() {
	os.Exit(Main())
}

// Main parses flags, wires every component, and runs the control loop
// until a shutdown signal arrives or the table drains with auto_continue
// disabled.  It returns the process exit code (spec §6.3: 0 on clean
// shutdown, 1 on configuration error).
func Main() int {
	flag.Usage = usage
	envflag.Parse()

	if len(*createConfigOpt) != 0 {
		if err := config.WriteDefault(*createConfigOpt); err != nil {
			logger.Error("failed to write default configuration", "err", err.Error())
			return 1
		}
		return 0
	}

	if len(*csvOpt) == 0 {
		logger.Error("the --csv flag is required")
		return 1
	}

	cfg := config.Defaults()
	if len(*configOpt) != 0 {
		loaded, err := config.Load(*configOpt)
		if err != nil {
			logger.Error("failed to load configuration", "path", *configOpt, "err", err.Error())
			return 1
		}
		cfg = loaded
	}
	applyFlagOverrides(cfg)

	table, err := runner.NewTable(*csvOpt)
	if err != nil {
		logger.Error("failed to open experiment table", "path", *csvOpt, "err", err.Error())
		return 1
	}

	cwd, errGo := filepath.Abs(*trainingFilePathOpt)
	if errGo != nil {
		logger.Error("invalid training_file_path", "err", errGo.Error())
		return 1
	}

	baseDir := cfg.General.BaseCheckpointDir
	if len(baseDir) == 0 {
		baseDir = cwd
	}

	supervisor := runner.NewProcessSupervisor(filepath.Join(cwd, "logs"))

	if len(*showLogOpt) != 0 {
		printRowLog(filepath.Join(cwd, "logs"), *showLogOpt)
		return 0
	}
	if *showLogsOpt {
		printSnapshot(table, supervisor)
		return 0
	}

	trk := buildTracker(cfg)
	sink := runner.NewFanOut(notify.NewMulti(cfg), runner.NewMetricsSink(runner.GetHostName()))
	if len(*metricsAddrOpt) != 0 {
		serveMetrics(*metricsAddrOpt)
	}

	sched := runner.NewScheduler(table, supervisor, trk, cfg, baseDir, cwd, sink)
	sched.SetAutoOpenViewers(!*noAutoLogTerminalOpt)
	if *noUIOpt {
		logger.Info("interactive status surface disabled, status snapshots are only available via --show_logs")
	}

	logger.Info("starting supervisor", "host", runner.GetHostName(), "csv", *csvOpt)

	ctx, origCancel := context.WithCancel(context.Background())
	cancel := runner.GetCancelWrapper(origCancel, "supervisor shutdown", logger)
	defer cancel()

	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigC
		logger.Info("shutdown signal received, stopping supervised processes")
		cancel()
	}()

	sched.Run(ctx)
	return 0
}

func applyFlagOverrides(cfg *config.Config) {
	if *checkIntervalOpt > 0 {
		cfg.General.CheckIntervalSecs = *checkIntervalOpt
	}
	if *maxTrainingProcessOpt > 0 {
		cfg.General.MaxTrainingProcess = *maxTrainingProcessOpt
	}
	if len(*wandbEntityOpt) != 0 {
		cfg.Wandb.Entity = *wandbEntityOpt
	}
	if len(*wandbProjectOpt) != 0 {
		cfg.Wandb.Project = *wandbProjectOpt
	}
	if *autoContinueOpt {
		cfg.General.AutoContinue = true
	}
	// normalize re-derives CheckInterval from CheckIntervalSecs after any
	// command line override, per spec §6.3 "Command-line values override
	// configuration values."
	cfg.Normalize()
}

func buildTracker(cfg *config.Config) tracker.Tracker {
	if len(cfg.Wandb.APIKey) == 0 && len(cfg.Wandb.Entity) == 0 {
		return tracker.NopTracker{}
	}
	return tracker.NewWandbTracker(cfg.Wandb.APIKey, cfg.Wandb.Entity, cfg.Wandb.Project)
}

func printSnapshot(table *runner.Table, supervisor *runner.ProcessSupervisor) {
	for _, snap := range runner.Snapshot(table, supervisor) {
		state := snap.Row.TrainingCheck
		elapsed := ""
		if snap.Process != nil && snap.Process.State == runner.ProcRunning {
			elapsed = humanize.RelTime(time.Now().Add(-snap.Process.Runtime), time.Now(), "", "")
		}
		fmt.Printf("%-16s %-10s %-24s %s\n", snap.Row.ID, state, snap.Row.WeightFile, elapsed)
	}

	if host, err := resources.Fetch("."); err == nil {
		logger.Info("host resources", host.Logable()...)
	}
}

// serveMetrics starts the Prometheus /metrics listener in the background;
// a bind failure is logged but never aborts the control loop (spec's
// ambient stack treats metrics as best-effort observability, not a
// correctness dependency).
func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", runner.MetricsHandler())
	go func() {
		if errGo := http.ListenAndServe(addr, mux); errGo != nil {
			logger.Warn("metrics listener exited", "addr", addr, "err", errGo.Error())
		}
	}()
}

func printRowLog(logDir string, id string) {
	stdoutPath := filepath.Join(logDir, fmt.Sprintf("%s_stdout.log", id))
	stderrPath := filepath.Join(logDir, fmt.Sprintf("%s_stderr.log", id))
	if _, errGo := os.Stat(stdoutPath); errGo != nil {
		fmt.Printf("no captured logs for %s\n", id)
		return
	}
	fmt.Printf("stdout: %s\nstderr: %s\n", stdoutPath, stderrPath)
}
