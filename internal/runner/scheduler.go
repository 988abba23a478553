// Copyright 2018-2026 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package runner

// Scheduler is the control loop of spec §4.6: one long-lived worker that
// reconciles Training rows against live process and tracker state, then
// admits new rows up to the concurrency ceiling.  The jittered tick is
// grounded on the teacher's main loop (cmd/runner/main.go), which wraps
// its polling ticker in lthibault/jitterbug to avoid lock-step wakeups
// across a fleet of runners; a single supervisor keeps the same habit so
// its tick does not line up exactly with, eg, a cron-triggered sibling
// process on the same host.

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/lthibault/jitterbug"

	"github.com/leaf-ai/training-supervisor/internal/cuda"
	"github.com/leaf-ai/training-supervisor/internal/log"
	"github.com/leaf-ai/training-supervisor/internal/runner/config"
	"github.com/leaf-ai/training-supervisor/internal/runner/tracker"
	"github.com/leaf-ai/training-supervisor/internal/runner/weights"
)

// processMappingKey matches the "process<N>" key format of
// [general] process_gpu_mapping (spec §6.2).
var processMappingKey = regexp.MustCompile(`^process(\d+)$`)

// Scheduler owns every component the control loop coordinates.
type Scheduler struct {
	table      *Table
	supervisor *ProcessSupervisor
	tracker    tracker.Tracker
	cfg        *config.Config
	baseDir    string
	cwd        string
	sink       EventSink
	logger     *log.Logger

	// autoOpenViewers mirrors the negation of --no_auto_log_terminal
	// (spec §6.3): when false, the scheduler never calls
	// OpenLogViewer on a newly admitted row.
	autoOpenViewers bool
	openedViewers   map[string]bool

	host string
}

// NewScheduler wires the Table Store, Process Supervisor, Tracker
// Adapter, and Configuration record into one control loop.  baseDir is
// the checkpoint base directory the Weight Resolver searches relative to;
// cwd is the working directory training commands are spawned in.
func NewScheduler(table *Table, supervisor *ProcessSupervisor, trk tracker.Tracker, cfg *config.Config, baseDir, cwd string, sink EventSink) *Scheduler {
	return &Scheduler{
		table:           table,
		supervisor:      supervisor,
		tracker:         trk,
		cfg:             cfg,
		baseDir:         baseDir,
		cwd:             cwd,
		sink:            sink,
		autoOpenViewers: true,
		logger:        log.NewLogger("scheduler"),
		openedViewers: map[string]bool{},
		host:          GetHostName(),
	}
}

// SetAutoOpenViewers toggles whether newly admitted rows get an
// automatically opened log viewer (spec §6.3 --no_auto_log_terminal).
func (s *Scheduler) SetAutoOpenViewers(enabled bool) {
	s.autoOpenViewers = enabled
}

func (s *Scheduler) emit(kind EventKind, rowID, message string) {
	if s.sink == nil {
		return
	}
	s.sink.Emit(newEvent(kind, rowID, message))
}

// Run drives the control loop until ctx is cancelled, or until
// auto_continue is false and admission has nothing left to do (spec §4.6
// step 6).
func (s *Scheduler) Run(ctx context.Context) {
	ticker := jitterbug.New(s.cfg.CheckInterval, &jitterbug.Norm{Stdev: s.cfg.CheckInterval / 10})
	defer ticker.Stop()

	for {
		if !s.Tick() {
			s.logger.Info("no running or admissible rows remain and auto_continue is false, shutting down")
			return
		}
		select {
		case <-ctx.Done():
			s.supervisor.StopAll()
			return
		case <-ticker.C:
		}
	}
}

// Tick runs exactly one control loop iteration (spec §4.6).  It returns
// false when the loop should stop: auto_continue is false, nothing is
// running, and nothing is admissible.
func (s *Scheduler) Tick() (shouldContinue bool) {
	if err := s.table.Reload(); err != nil {
		s.logger.Warn("table reload failed, retrying next tick", "err", err.Error())
		return true
	}

	s.reconcileTraining()
	admitted := s.admitNew()
	s.openPendingViewers()
	s.supervisor.CleanupCompleted()
	SetLiveProcesses(s.host, s.supervisor.LiveCount())

	if !s.cfg.General.AutoContinue && s.supervisor.LiveCount() == 0 && !admitted {
		for _, row := range s.table.QueryByState(StateEmpty) {
			if len(row.TrainingCommand) != 0 {
				return true
			}
		}
		return false
	}
	return true
}

// reconcileTraining implements spec §4.6 step 2.
func (s *Scheduler) reconcileTraining() {
	for _, row := range s.table.QueryByState(StateTraining) {
		if s.supervisor.IsRunning(row.ID) {
			s.reconcileLiveRow(row)
			continue
		}
		s.reconcileDeadRow(row)
	}
}

func (s *Scheduler) reconcileLiveRow(row *ExperimentRow) {
	if len(row.WandbRunID) == 0 {
		if runID, isPresent := s.supervisor.DiscoveredRunID(row.ID); isPresent {
			if err := s.table.UpdateField(row.ID, "WandbRunID", runID); err != nil {
				s.logger.Warn("failed to record discovered run id", "id", row.ID, "err", err.Error())
			}
		}
	}
	if len(row.WeightFile) != 0 {
		return
	}
	if runName, isPresent := s.supervisor.DiscoveredRunName(row.ID); isPresent {
		if err := s.table.UpdateField(row.ID, "WeightFile", runName); err != nil {
			s.logger.Warn("failed to record discovered run name", "id", row.ID, "err", err.Error())
		}
		return
	}
	if len(row.WandbRunID) == 0 {
		return
	}
	if name, isPresent := s.tracker.DisplayNameOf(context.Background(), row.WandbRunID); isPresent {
		if err := s.table.UpdateField(row.ID, "WeightFile", name); err != nil {
			s.logger.Warn("failed to record tracker display name", "id", row.ID, "err", err.Error())
		}
	}
}

func (s *Scheduler) reconcileDeadRow(row *ExperimentRow) {
	state := tracker.RunUnknown
	if len(row.WandbRunID) != 0 {
		state = s.tracker.StateOf(context.Background(), row.WandbRunID)
	}

	switch state {
	case tracker.RunFinished:
		weightFile := row.WeightFile
		if len(weightFile) == 0 {
			if name, isPresent := s.tracker.DisplayNameOf(context.Background(), row.WandbRunID); isPresent {
				weightFile = name
			}
		}
		if len(weightFile) != 0 {
			if err := s.table.UpdateField(row.ID, "WeightFile", weightFile); err != nil {
				s.logger.Warn("failed to set weight file on completion", "id", row.ID, "err", err.Error())
			}
		} else {
			s.logger.Warn("row completed with no discoverable run name", "id", row.ID)
		}
		if err := s.table.UpdateStatus(row.ID, StateDone); err != nil {
			s.logger.Warn("failed to mark row done", "id", row.ID, "err", err.Error())
			return
		}
		s.emit(EventCompleted, row.ID, fmt.Sprintf("%s finished", row.ID))

	case tracker.RunCrashed:
		s.markCrashed(row.ID, "tracker reported the run as crashed")

	case tracker.RunRunning:
		s.logger.Warn("no live process but tracker still reports running, deferring to next tick", "id", row.ID)

	case tracker.RunUnknown:
		if len(row.WandbRunID) == 0 {
			s.markCrashed(row.ID, "process exited with no tracker run id ever recorded")
		}
	}
}

func (s *Scheduler) markCrashed(id, reason string) {
	if err := s.table.UpdateStatus(id, StateCrash); err != nil {
		s.logger.Warn("failed to mark row crashed", "id", id, "err", err.Error())
		return
	}
	s.emit(EventCrashed, id, reason)
}

// admitNew implements spec §4.6 step 3.  It returns true if at least one
// row was admitted this tick.
func (s *Scheduler) admitNew() (admittedAny bool) {
	running := s.supervisor.LiveCount()
	skipped := map[string]bool{}

	for running < s.cfg.General.MaxTrainingProcess {
		row := s.nextAdmissible(skipped)
		if row == nil {
			break
		}
		if len(row.TrainingCommand) == 0 {
			s.logger.Warn("skipping row with empty training command", "id", row.ID)
			skipped[row.ID] = true
			continue
		}

		if s.admitRow(row) {
			running++
			admittedAny = true
		}
	}
	return admittedAny
}

func (s *Scheduler) nextAdmissible(skipped map[string]bool) *ExperimentRow {
	for _, row := range s.table.QueryByState(StateEmpty) {
		if !skipped[row.ID] {
			return row
		}
	}
	return nil
}

func (s *Scheduler) admitRow(row *ExperimentRow) (ok bool) {
	extraArgs := map[string]interface{}{}
	if resolved := s.resolvePretrained(row); len(resolved) != 0 {
		key, value := weights.PretrainedArg(resolved)
		extraArgs[key] = value
	}

	assignment, hasGPU := s.assignGPU(row)

	if err := s.table.UpdateStatus(row.ID, StateTraining); err != nil {
		s.logger.Warn("failed to mark row training before spawn", "id", row.ID, "err", err.Error())
		return false
	}

	spawned, err := s.supervisor.Spawn(LaunchRequest{
		ID:      row.ID,
		Command: row.TrainingCommand,
		Cwd:     s.cwd,
		GPU:     assignment,
		HasGPU:  hasGPU,
		Env: EnvironmentSetup{
			SetupScript: s.cfg.Environment.SetupScript,
			UseConda:    bool(s.cfg.Environment.UseConda),
			CondaEnv:    s.cfg.Environment.CondaEnv,
			EnvVars:     s.cfg.Environment.EnvVars,
		},
		ExtraArgs: extraArgs,
	})
	if err != nil || !spawned {
		s.logger.Warn("spawn failed", "id", row.ID, "err", errString(err))
		if crashErr := s.table.UpdateStatus(row.ID, StateCrash); crashErr != nil {
			s.logger.Warn("failed to mark spawn-failed row crashed", "id", row.ID, "err", crashErr.Error())
		}
		s.emit(EventError, row.ID, "spawn failed: "+errString(err))
		return false
	}

	s.emit(EventStarted, row.ID, fmt.Sprintf("%s started", row.ID))
	return true
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// resolvePretrained implements spec §4.6 step 3's Weight Resolver call,
// writing back the negation sentinel when the predecessor's checkpoint
// directory cannot be found.
func (s *Scheduler) resolvePretrained(row *ExperimentRow) (path string) {
	if len(row.PretrainedModelId) == 0 {
		return ""
	}

	lookup := func(id string) (weights.Predecessor, bool) {
		pred := s.table.GetRow(id)
		if pred == nil {
			return weights.Predecessor{}, false
		}
		return weights.Predecessor{ID: pred.ID, WeightFile: pred.WeightFile}, true
	}

	result, has := weights.Resolve(row.PretrainedModelId, lookup, s.baseDir)
	if !has {
		return ""
	}
	if len(result.NegatedID) != 0 {
		if err := s.table.UpdateField(row.ID, "PretrainedModelId", result.NegatedID); err != nil {
			s.logger.Warn("failed to record negated pretrained id", "id", row.ID, "err", err.Error())
		}
		return ""
	}
	return result.Path
}

// assignGPU implements the GpuID override described in spec §4.6 step 3:
// when use_process_order is false and the row carries an explicit GpuID,
// that value is used directly instead of consulting the GPU Assigner.
func (s *Scheduler) assignGPU(row *ExperimentRow) (assignment cuda.Assignment, hasGPU bool) {
	if !s.cfg.GPU.UseProcessOrder && len(row.GpuID) != 0 {
		devices := strings.Split(row.GpuID, "+")
		for _, d := range devices {
			cuda.WarnIfUnrecognized(d)
		}
		return cuda.Assignment{Devices: devices}, true
	}

	for _, d := range s.cfg.GPU.GPUList {
		cuda.WarnIfUnrecognized(d)
	}
	mapping := parseProcessGPUMapping(s.cfg.General.ProcessGPUMapping)
	for _, raw := range mapping {
		for _, d := range strings.Split(raw, "+") {
			cuda.WarnIfUnrecognized(strings.TrimSpace(d))
		}
	}

	slot := s.supervisor.PeekNextSlot()
	assignment = cuda.AssignSlot(slot, cuda.GPUConfig{
		EnableGPUAssignment: bool(s.cfg.GPU.EnableGPUAssignment),
		GPUList:             s.cfg.GPU.GPUList,
		AllowMultiGPU:       bool(s.cfg.GPU.AllowMultiGPU),
		DefaultGPU:          s.cfg.GPU.DefaultGPU,
		ProcessGPUMapping:   mapping,
	})
	return assignment, !assignment.Empty()
}

func parseProcessGPUMapping(raw map[string]string) cuda.GPUMapping {
	mapping := cuda.GPUMapping{}
	for key, value := range raw {
		m := processMappingKey.FindStringSubmatch(key)
		if len(m) != 2 {
			continue
		}
		slot, errGo := strconv.Atoi(m[1])
		if errGo != nil {
			continue
		}
		mapping[slot] = value
	}
	return mapping
}

// openPendingViewers implements spec §4.6 step 4: optionally open a log
// viewer for every row that just transitioned to Training this tick.
func (s *Scheduler) openPendingViewers() {
	if !s.autoOpenViewers {
		return
	}
	for _, row := range s.table.QueryByState(StateTraining) {
		if s.openedViewers[row.ID] {
			continue
		}
		if !s.supervisor.IsRunning(row.ID) {
			continue
		}
		s.supervisor.OpenLogViewer(row.ID)
		s.openedViewers[row.ID] = true
	}
}
