// Copyright 2018-2026 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/leaf-ai/training-supervisor/internal/runner/config"
	"github.com/leaf-ai/training-supervisor/internal/runner/tracker"
)

type stubTracker struct {
	state       tracker.RunState
	displayName string
	hasName     bool
}

func (s stubTracker) StateOf(_ context.Context, _ string) tracker.RunState { return s.state }
func (s stubTracker) DisplayNameOf(_ context.Context, _ string) (string, bool) {
	return s.displayName, s.hasName
}

func newSchedulerTestEnv(t *testing.T, csvBody string) (*Scheduler, *Table, *ProcessSupervisor, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "table.csv")
	if err := os.WriteFile(path, []byte(csvBody), 0644); err != nil {
		t.Fatal(err)
	}
	tbl, err := NewTable(path)
	if err != nil {
		t.Fatal(err.Error())
	}
	ps := NewProcessSupervisor(filepath.Join(dir, "logs"))
	cfg := config.Defaults()
	cfg.General.MaxTrainingProcess = 1
	cfg.GPU.GPUList = []string{"0"}

	sched := NewScheduler(tbl, ps, stubTracker{state: tracker.RunUnknown}, cfg, dir, dir, nil)
	return sched, tbl, ps, dir
}

func TestSchedulerAdmitsEmptyRow(t *testing.T) {
	sched, tbl, ps, _ := newSchedulerTestEnv(t, "ID,Name,TrainingCommand,TrainingCheck,WandbRunID,WeightFile\n"+
		"exp1,Exp One,sleep 5,,,\n")

	sched.Tick()

	row := tbl.GetRow("exp1")
	if row.TrainingCheck != StateTraining {
		t.Fatalf("expected exp1 admitted into Training, got %v", row.TrainingCheck)
	}
	if !ps.IsRunning("exp1") {
		t.Fatal("expected exp1 process to be running")
	}
	ps.StopAll()
}

func TestSchedulerRespectsMaxTrainingProcess(t *testing.T) {
	sched, tbl, ps, _ := newSchedulerTestEnv(t, "ID,Name,TrainingCommand,TrainingCheck,WandbRunID,WeightFile\n"+
		"exp1,Exp One,sleep 5,,,\n"+
		"exp2,Exp Two,sleep 5,,,\n")

	sched.Tick()

	running := 0
	for _, id := range []string{"exp1", "exp2"} {
		if ps.IsRunning(id) {
			running++
		}
	}
	if running != 1 {
		t.Fatalf("expected exactly one admitted row with max_training_process=1, got %d", running)
	}
	if tbl.GetRow("exp2").TrainingCheck != StateEmpty {
		t.Fatalf("expected exp2 to remain unadmitted, got %v", tbl.GetRow("exp2").TrainingCheck)
	}
	ps.StopAll()
}

func TestSchedulerSkipsEmptyCommand(t *testing.T) {
	sched, tbl, _, _ := newSchedulerTestEnv(t, "ID,Name,TrainingCommand,TrainingCheck,WandbRunID,WeightFile\n"+
		"exp1,Exp One,,,,\n")

	sched.Tick()

	row := tbl.GetRow("exp1")
	if row.TrainingCheck != StateEmpty {
		t.Fatalf("expected empty-command row skipped and left unadmitted, got %v", row.TrainingCheck)
	}
}

func TestSchedulerReconcilesFinishedRow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "table.csv")
	body := "ID,Name,TrainingCommand,TrainingCheck,WandbRunID,WeightFile\n" +
		"exp1,Exp One,sleep 100,Training,run-abc,\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	tbl, err := NewTable(path)
	if err != nil {
		t.Fatal(err.Error())
	}
	ps := NewProcessSupervisor(filepath.Join(dir, "logs"))
	cfg := config.Defaults()

	sched := NewScheduler(tbl, ps, stubTracker{state: tracker.RunFinished, displayName: "crisp-oak-7", hasName: true}, cfg, dir, dir, nil)
	sched.Tick()

	row := tbl.GetRow("exp1")
	if row.TrainingCheck != StateDone {
		t.Fatalf("expected row marked Done, got %v", row.TrainingCheck)
	}
	if row.WeightFile != "crisp-oak-7" {
		t.Fatalf("expected weight file from tracker display name, got %q", row.WeightFile)
	}
}

func TestSchedulerReconcilesCrashedRow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "table.csv")
	body := "ID,Name,TrainingCommand,TrainingCheck,WandbRunID,WeightFile\n" +
		"exp1,Exp One,sleep 100,Training,run-abc,\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	tbl, err := NewTable(path)
	if err != nil {
		t.Fatal(err.Error())
	}
	ps := NewProcessSupervisor(filepath.Join(dir, "logs"))
	cfg := config.Defaults()

	sched := NewScheduler(tbl, ps, stubTracker{state: tracker.RunCrashed}, cfg, dir, dir, nil)
	sched.Tick()

	row := tbl.GetRow("exp1")
	if row.TrainingCheck != StateCrash {
		t.Fatalf("expected row marked Crash, got %v", row.TrainingCheck)
	}
}

func TestSchedulerStopsWhenAutoContinueFalseAndTableDrained(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "table.csv")
	body := "ID,Name,TrainingCommand,TrainingCheck,WandbRunID,WeightFile\n" +
		"exp1,Exp One,sleep 1,Done,run-abc,crisp-oak-7\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	tbl, err := NewTable(path)
	if err != nil {
		t.Fatal(err.Error())
	}
	ps := NewProcessSupervisor(filepath.Join(dir, "logs"))
	cfg := config.Defaults()
	cfg.General.AutoContinue = false

	sched := NewScheduler(tbl, ps, stubTracker{state: tracker.RunUnknown}, cfg, dir, dir, nil)
	if sched.Tick() {
		t.Fatal("expected Tick to signal shutdown with a drained table and auto_continue=false")
	}
}

func TestSchedulerEmitsEventsOnAdmission(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "table.csv")
	body := "ID,Name,TrainingCommand,TrainingCheck,WandbRunID,WeightFile\n" +
		"exp1,Exp One,sleep 5,,,\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	tbl, err := NewTable(path)
	if err != nil {
		t.Fatal(err.Error())
	}
	ps := NewProcessSupervisor(filepath.Join(dir, "logs"))
	cfg := config.Defaults()
	sink := NewChannelSink(4)

	sched := NewScheduler(tbl, ps, stubTracker{state: tracker.RunUnknown}, cfg, dir, dir, sink)
	sched.Tick()
	defer ps.StopAll()

	select {
	case e := <-sink.Events():
		if e.Kind != EventStarted {
			t.Fatalf("expected a started event, got %v", e.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a started event to be emitted")
	}
}
