// Copyright 2018-2026 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package runner

// This file defines the process record and the process supervisor that
// owns the table of live child processes, replacing the module level
// singleton state the source relies on (spec §9 "Singleton / global
// state") with an explicit value that owns its own mutex protected table,
// in the spirit of the teacher's gpuTracker / cpuTracker structures.

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/leaf-ai/training-supervisor/internal/cuda"
	"github.com/leaf-ai/training-supervisor/internal/log"
)

// ProcessState is the lifecycle state of a supervised child process,
// distinct from (but feeding) the table row's TrainingCheck state.
type ProcessState string

const (
	ProcRunning ProcessState = "running"
	ProcError   ProcessState = "error"
	ProcStopped ProcessState = "stopped"
	ProcExited  ProcessState = "exited"
)

// processRecord is the in-memory bookkeeping for one live or just-finished
// child process (spec §3 "Process record").
type processRecord struct {
	id         string
	cmd        *exec.Cmd
	start      time.Time
	gpu        cuda.Assignment
	slot       int
	stdoutPath string
	stderrPath string

	// mu guards the fields capture workers write to, so the control loop
	// worker can read them concurrently with the capture goroutines (spec
	// §5 "Capture workers only mutate their own process record fields
	// under a mutex").
	mu                sync.Mutex
	runID             string
	runName           string
	state             ProcessState
	exitCode          int
	hasExitCode       bool
	logTerminalOpened bool

	done chan struct{}
}

// ProcessStatus is the externally visible, serializable snapshot of a
// process record (spec §4.3.4 "status(id)").
type ProcessStatus struct {
	ID                string
	Slot              int
	GPU               []string
	StdoutPath        string
	StderrPath        string
	RunID             string
	RunName           string
	State             ProcessState
	Runtime           time.Duration
	ReturnCode        int
	HasReturnCode     bool
	LogTerminalOpened bool
}

// ProcessSupervisor owns the table of live child processes, the slot
// counter used for GPU assignment, and the log directory child output is
// captured into.
type ProcessSupervisor struct {
	mu      sync.Mutex
	records map[string]*processRecord
	slots   atomic.Uint64
	logDir  string
	logger  *log.Logger
}

// NewProcessSupervisor creates a supervisor whose slot counter starts at
// zero, as required whenever the supervisor itself (re)starts (spec §4.4
// "reset when the supervisor starts").
func NewProcessSupervisor(logDir string) *ProcessSupervisor {
	return &ProcessSupervisor{
		records: map[string]*processRecord{},
		logDir:  logDir,
		logger:  log.NewLogger("process-supervisor"),
	}
}

func (ps *ProcessSupervisor) nextSlot() int {
	return int(ps.slots.Inc()) - 1
}

// PeekNextSlot returns the slot index the next call to Spawn will issue,
// without consuming it.  Safe because slot issuance only ever happens
// from the single-threaded control loop (spec §5 "one long-lived
// control-loop worker (sequential)"); the GPU Assigner needs to know this
// value ahead of Spawn so the assignment it computes matches the process
// record Spawn will create.
func (ps *ProcessSupervisor) PeekNextSlot() int {
	return int(ps.slots.Load())
}

// IsRunning reports whether the OS process for id has not yet exited
// (spec §4.3.4).
func (ps *ProcessSupervisor) IsRunning(id string) bool {
	ps.mu.Lock()
	rec, isPresent := ps.records[id]
	ps.mu.Unlock()
	if !isPresent {
		return false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.state == ProcRunning
}

// Status returns a snapshot of the process record for id (spec §4.3.4).
func (ps *ProcessSupervisor) Status(id string) (status ProcessStatus, isPresent bool) {
	ps.mu.Lock()
	rec, isPresent := ps.records[id]
	ps.mu.Unlock()
	if !isPresent {
		return ProcessStatus{}, false
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	status = ProcessStatus{
		ID:                rec.id,
		Slot:              rec.slot,
		GPU:               rec.gpu.Devices,
		StdoutPath:        rec.stdoutPath,
		StderrPath:        rec.stderrPath,
		RunID:             rec.runID,
		RunName:           rec.runName,
		State:             rec.state,
		ReturnCode:        rec.exitCode,
		HasReturnCode:     rec.hasExitCode,
		LogTerminalOpened: rec.logTerminalOpened,
	}
	if rec.state == ProcRunning {
		status.Runtime = time.Since(rec.start)
	}
	return status, true
}

// DiscoveredRunID returns the run id the stderr capture worker has parsed
// for id, if any.
func (ps *ProcessSupervisor) DiscoveredRunID(id string) (runID string, isPresent bool) {
	ps.mu.Lock()
	rec, ok := ps.records[id]
	ps.mu.Unlock()
	if !ok {
		return "", false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.runID, len(rec.runID) != 0
}

// DiscoveredRunName returns the run name the stderr capture worker has
// parsed for id, if any.
func (ps *ProcessSupervisor) DiscoveredRunName(id string) (runName string, isPresent bool) {
	ps.mu.Lock()
	rec, ok := ps.records[id]
	ps.mu.Unlock()
	if !ok {
		return "", false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.runName, len(rec.runName) != 0
}

// OpenLogViewer implements spec §4.3.5 open_log_viewer(id): it opens a
// host terminal window tailing both of id's log files, and is a no-op on
// platforms without a known terminal emulator.  It marks the log-terminal-
// opened flag regardless of whether a terminal could actually be spawned,
// preventing the scheduler from retrying every tick.
func (ps *ProcessSupervisor) OpenLogViewer(id string) {
	ps.mu.Lock()
	rec, ok := ps.records[id]
	ps.mu.Unlock()
	if !ok {
		return
	}

	rec.mu.Lock()
	stdoutPath, stderrPath := rec.stdoutPath, rec.stderrPath
	rec.logTerminalOpened = true
	rec.mu.Unlock()

	cmd := logViewerCommand(stdoutPath, stderrPath)
	if cmd == nil {
		return
	}
	if errGo := cmd.Start(); errGo != nil {
		ps.logger.Warn("failed to open log viewer terminal", "id", id, "err", errGo.Error())
	}
}

// logViewerCommand builds the platform-native command that opens a
// terminal window running `tail -f` over both log files, grounded on
// notify.go's desktopCommand platform switch.
func logViewerCommand(stdoutPath, stderrPath string) *exec.Cmd {
	tail := fmt.Sprintf("tail -n +1 -f %s %s", shellQuote(stdoutPath), shellQuote(stderrPath))
	switch runtime.GOOS {
	case "linux":
		return exec.Command("x-terminal-emulator", "-e", "bash", "-c", tail)
	case "darwin":
		script := fmt.Sprintf("tell application \"Terminal\" to do script %q", tail)
		return exec.Command("osascript", "-e", script)
	case "windows":
		return exec.Command("cmd", "/C", "start", "cmd", "/K",
			fmt.Sprintf("powershell -command \"Get-Content -Path '%s','%s' -Wait -Tail 1000\"", stdoutPath, stderrPath))
	default:
		return nil
	}
}

func shellQuote(path string) string {
	return "'" + strings.ReplaceAll(path, "'", `'\''`) + "'"
}

// CleanupCompleted drops the record for any process that has exited,
// after its capture workers have been given a short window to finish
// (spec §4.3.4).
func (ps *ProcessSupervisor) CleanupCompleted() {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	for id, rec := range ps.records {
		rec.mu.Lock()
		state := rec.state
		rec.mu.Unlock()
		if state == ProcRunning {
			continue
		}
		select {
		case <-rec.done:
		case <-time.After(2 * time.Second):
			ps.logger.Warn("capture workers did not finish within grace period", "id", id)
		}
		delete(ps.records, id)
	}
}

// LiveCount returns the number of processes this supervisor currently
// believes are running.
func (ps *ProcessSupervisor) LiveCount() (count int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for _, rec := range ps.records {
		rec.mu.Lock()
		if rec.state == ProcRunning {
			count++
		}
		rec.mu.Unlock()
	}
	return count
}
