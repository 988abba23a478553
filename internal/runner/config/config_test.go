// Copyright 2018-2026 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.General.MaxTrainingProcess != 1 {
		t.Fatal("expected default max_training_process of 1")
	}
	if cfg.CheckInterval.Seconds() != 30 {
		t.Fatal("expected default check interval of 30s")
	}
	if !cfg.GPU.EnableGPUAssignment {
		t.Fatal("expected gpu assignment enabled by default")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "supervisor.toml")

	contents := `
[general]
check_interval = 5
max_training_process = 3

[gpu]
enable_gpu_assignment = true
gpu_list = ["0", "1"]
allow_multi_gpu = true
`
	if err := os.WriteFile(cfgPath, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatal(err.Error())
	}
	if cfg.General.MaxTrainingProcess != 3 {
		t.Fatalf("expected max_training_process 3, got %d", cfg.General.MaxTrainingProcess)
	}
	if cfg.CheckInterval.Seconds() != 5 {
		t.Fatalf("expected check interval 5s, got %v", cfg.CheckInterval)
	}
	if len(cfg.GPU.GPUList) != 2 {
		t.Fatalf("expected 2 gpus in list, got %d", len(cfg.GPU.GPUList))
	}
	if !cfg.GPU.AllowMultiGPU {
		t.Fatal("expected allow_multi_gpu true")
	}
}

func TestFlexBoolAcceptsYesNoOnOffCaseInsensitively(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "supervisor.toml")

	contents := `
[general]
auto_continue = "No"

[gpu]
allow_multi_gpu = "YES"
use_process_order = "On"

[notification]
desktop_enabled = "off"
`
	if err := os.WriteFile(cfgPath, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatal(err.Error())
	}
	if cfg.General.AutoContinue {
		t.Fatal("expected auto_continue = \"No\" to decode false")
	}
	if !cfg.GPU.AllowMultiGPU {
		t.Fatal("expected allow_multi_gpu = \"YES\" to decode true")
	}
	if !cfg.GPU.UseProcessOrder {
		t.Fatal("expected use_process_order = \"On\" to decode true")
	}
	if cfg.Notification.DesktopEnabled {
		t.Fatal("expected desktop_enabled = \"off\" to decode false")
	}
}

func TestFlexBoolRejectsUnrecognizedText(t *testing.T) {
	var b FlexBool
	if err := b.UnmarshalText([]byte("maybe")); err == nil {
		t.Fatal("expected an error for an unrecognized boolean token")
	}
}

func TestWriteDefaultThenLoad(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "supervisor.toml")

	if err := WriteDefault(cfgPath); err != nil {
		t.Fatal(err.Error())
	}
	if _, err := Load(cfgPath); err != nil {
		t.Fatal(err.Error())
	}
}
