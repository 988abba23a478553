// Copyright 2018-2026 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package runner

// Spawn, the grace period check, and the SIGTERM/SIGKILL termination
// escalation, grounded on the source runner's execscript.go RunScript and
// cmd.go CmdRun: a bash -c invocation with separate stdout and stderr pipe
// capture, and a polled deadline before the kill escalation.

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-stack/stack"
	"github.com/jjeffery/kv"

	"github.com/leaf-ai/training-supervisor/internal/cuda"
)

// spawnGracePeriod is how long Spawn waits before declaring a launch
// successful, long enough to catch an immediate exec failure (bad
// interpreter, missing script) without materially delaying admission
// (spec §4.3.1 Edge cases "spawn failures").
const spawnGracePeriod = 2 * time.Second

// terminationPollInterval and terminationGrace implement the SIGTERM then
// SIGKILL escalation of spec §4.3.3.
const (
	terminationPollInterval = 200 * time.Millisecond
	terminationGrace        = 10 * time.Second
)

// LaunchRequest is everything the process supervisor needs to start one
// experiment's training command (spec §4.3.1).
type LaunchRequest struct {
	ID        string
	Command   string
	Cwd       string
	GPU       cuda.Assignment
	HasGPU    bool
	Env       EnvironmentSetup
	ExtraArgs map[string]interface{}
}

// Spawn launches the training command for req, capturing stdout and
// stderr character by character into per-experiment log files, and
// returns once the grace period has elapsed without an immediate exit
// (spec §4.3.1, §4.3.2).
func (ps *ProcessSupervisor) Spawn(req LaunchRequest) (ok bool, err kv.Error) {
	ps.mu.Lock()
	existing, isPresent := ps.records[req.ID]
	ps.mu.Unlock()
	if isPresent {
		existing.mu.Lock()
		stillLive := existing.state == ProcRunning
		existing.mu.Unlock()
		if stillLive {
			return false, kv.NewError("a process is already running for this id").With("id", req.ID).With("stack", stack.Trace().TrimRuntime())
		}
	}

	if len(ps.logDir) != 0 {
		if errGo := os.MkdirAll(ps.logDir, 0755); errGo != nil {
			return false, kv.Wrap(errGo).With("dir", ps.logDir).With("stack", stack.Trace().TrimRuntime())
		}
	}

	effective := composeEffectiveCommand(req.Command, req.ExtraArgs)
	script := composeShellCommand(effective, req.Env)

	cmd := exec.Command("/bin/bash", "-c", script)
	cmd.Dir = req.Cwd
	cmd.Env = composeEnviron(req.GPU.String(), req.HasGPU && !req.GPU.Empty(), req.Env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdoutPipe, errGo := cmd.StdoutPipe()
	if errGo != nil {
		return false, kv.Wrap(errGo).With("id", req.ID).With("stack", stack.Trace().TrimRuntime())
	}
	stderrPipe, errGo := cmd.StderrPipe()
	if errGo != nil {
		return false, kv.Wrap(errGo).With("id", req.ID).With("stack", stack.Trace().TrimRuntime())
	}

	slot := ps.nextSlot()
	stdoutPath := filepath.Join(ps.logDir, fmt.Sprintf("%s_stdout.log", req.ID))
	stderrPath := filepath.Join(ps.logDir, fmt.Sprintf("%s_stderr.log", req.ID))
	header := logHeader(req.ID, effective, req.GPU.String())

	rec := &processRecord{
		id:         req.ID,
		cmd:        cmd,
		start:      time.Now(),
		gpu:        req.GPU,
		slot:       slot,
		stdoutPath: stdoutPath,
		stderrPath: stderrPath,
		state:      ProcRunning,
		done:       make(chan struct{}),
	}

	if errGo = cmd.Start(); errGo != nil {
		return false, kv.Wrap(errGo).With("id", req.ID).With("command", script).With("stack", stack.Trace().TrimRuntime())
	}

	captureDone := make(chan struct{}, 2)
	go func() {
		_ = captureStream(stdoutPipe, stdoutPath, header, nil)
		captureDone <- struct{}{}
	}()
	go func() {
		_ = captureStream(stderrPipe, stderrPath, header, func(line string) {
			runID, runName := parseWandbLine(line)
			if len(runID) == 0 && len(runName) == 0 {
				return
			}
			rec.mu.Lock()
			if len(runID) != 0 {
				rec.runID = runID
			}
			if len(runName) != 0 {
				rec.runName = runName
			}
			rec.mu.Unlock()
		})
		captureDone <- struct{}{}
	}()

	// Wait closes the pipes once the child exits, so it is only called after
	// both capture workers have read their stream to the end.
	waitErr := make(chan error, 1)
	go func() {
		<-captureDone
		<-captureDone
		waitErr <- cmd.Wait()
		close(rec.done)
	}()

	ps.mu.Lock()
	ps.records[req.ID] = rec
	ps.mu.Unlock()

	select {
	case errWait := <-waitErr:
		code := exitCodeOf(errWait)
		rec.mu.Lock()
		rec.hasExitCode = true
		rec.exitCode = code
		if code == 0 {
			rec.state = ProcExited
		} else {
			rec.state = ProcError
		}
		rec.mu.Unlock()
		return false, kv.NewError("training process exited during the launch grace period").With("id", req.ID).With("code", code).With("stack", stack.Trace().TrimRuntime())

	case <-time.After(spawnGracePeriod):
		go func() {
			errWait := <-waitErr
			code := exitCodeOf(errWait)
			rec.mu.Lock()
			rec.hasExitCode = true
			rec.exitCode = code
			if rec.state == ProcRunning {
				if code == 0 {
					rec.state = ProcExited
				} else {
					rec.state = ProcError
				}
			}
			rec.mu.Unlock()
		}()
		return true, nil
	}
}

func exitCodeOf(errWait error) int {
	if errWait == nil {
		return 0
	}
	if exitErr, isExit := errWait.(*exec.ExitError); isExit {
		return exitErr.ExitCode()
	}
	return -1
}

// Stop terminates the process for id, sending SIGTERM to its process
// group and escalating to SIGKILL if it has not exited within
// terminationGrace (spec §4.3.3 "stop(id)").
func (ps *ProcessSupervisor) Stop(id string) (err kv.Error) {
	ps.mu.Lock()
	rec, isPresent := ps.records[id]
	ps.mu.Unlock()
	if !isPresent {
		return kv.NewError("no such process").With("id", id).With("stack", stack.Trace().TrimRuntime())
	}

	rec.mu.Lock()
	alreadyStopped := rec.state != ProcRunning
	pid := rec.cmd.Process.Pid
	rec.mu.Unlock()
	if alreadyStopped {
		return nil
	}

	_ = syscall.Kill(-pid, syscall.SIGTERM)

	deadline := time.Now().Add(terminationGrace)
	for time.Now().Before(deadline) {
		rec.mu.Lock()
		exited := rec.state != ProcRunning
		if exited {
			rec.state = ProcStopped
		}
		rec.mu.Unlock()
		if exited {
			return nil
		}
		time.Sleep(terminationPollInterval)
	}

	_ = syscall.Kill(-pid, syscall.SIGKILL)

	rec.mu.Lock()
	rec.state = ProcStopped
	rec.mu.Unlock()
	return nil
}

// StopAll terminates every currently running process, used on supervisor
// shutdown (spec §4.6 "graceful shutdown").
func (ps *ProcessSupervisor) StopAll() {
	ps.mu.Lock()
	ids := make([]string, 0, len(ps.records))
	for id := range ps.records {
		ids = append(ids, id)
	}
	ps.mu.Unlock()

	for _, id := range ids {
		_ = ps.Stop(id)
	}
}
