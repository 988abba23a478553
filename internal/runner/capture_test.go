// Copyright 2018-2026 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package runner

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseWandbLineExtractsRunID(t *testing.T) {
	runID, _ := parseWandbLine("wandb: Run data is saved locally in /home/u/proj/wandb/run-20260105_120000-abc123")
	if runID != "run-20260105_120000-abc123" {
		t.Fatalf("expected run id run-20260105_120000-abc123, got %q", runID)
	}
}

func TestParseWandbLineExtractsRunName(t *testing.T) {
	_, runName := parseWandbLine("wandb: Syncing run crisp-oak-7")
	if runName != "crisp-oak-7" {
		t.Fatalf("expected run name crisp-oak-7, got %q", runName)
	}
}

func TestParseWandbLineAcceptsTabSeparatorVariant(t *testing.T) {
	_, runName := parseWandbLine("wandb:\tsyncing run\tfoo")
	if runName != "foo" {
		t.Fatalf("expected run name foo, got %q", runName)
	}
}

func TestParseWandbLineRejectsOverlongName(t *testing.T) {
	_, runName := parseWandbLine("wandb: Syncing run " + strings.Repeat("x", 150))
	if len(runName) != 0 {
		t.Fatalf("expected overlong run name rejected, got %q", runName)
	}
}

func TestParseWandbLineIgnoresUnrelatedOutput(t *testing.T) {
	runID, runName := parseWandbLine("epoch 3/100 loss=0.42")
	if len(runID) != 0 || len(runName) != 0 {
		t.Fatalf("expected no match, got id=%q name=%q", runID, runName)
	}
}

func TestCaptureStreamPreservesCarriageReturns(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.log")

	input := "epoch 1 [==        ] 10%\repoch 1 [==========] 100%\ndone\n"
	if err := captureStream(strings.NewReader(input), path, "", nil); err != nil {
		t.Fatal(err)
	}

	raw, errGo := os.ReadFile(path)
	if errGo != nil {
		t.Fatal(errGo)
	}
	if string(raw) != input {
		t.Fatalf("expected byte-for-byte round trip, got %q", string(raw))
	}
}

func TestCaptureStreamInvokesOnLinePerCompletedLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.log")

	var lines []string
	input := "first\nsecond\nthird\n"
	if err := captureStream(strings.NewReader(input), path, "", func(line string) {
		lines = append(lines, line)
	}); err != nil {
		t.Fatal(err)
	}

	if len(lines) != 3 || lines[0] != "first" || lines[1] != "second" || lines[2] != "third" {
		t.Fatalf("unexpected lines: %v", lines)
	}
}

func TestCaptureStreamFlushesTrailingPartialLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.log")

	var lines []string
	input := "no trailing newline"
	if err := captureStream(strings.NewReader(input), path, "", func(line string) {
		lines = append(lines, line)
	}); err != nil {
		t.Fatal(err)
	}

	if len(lines) != 1 || lines[0] != input {
		t.Fatalf("expected trailing partial line flushed, got %v", lines)
	}
}
