// Copyright 2018-2026 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package cuda

import (
	"strings"

	"github.com/leaf-ai/training-supervisor/internal/log"
)

// Assignment is the result of mapping a process slot to device ids.  An
// empty Assignment means CUDA_VISIBLE_DEVICES should not be set at all.
type Assignment struct {
	// Devices holds the ordered device ids assigned to the slot.  A single
	// device assignment still uses a one element slice.
	Devices []string
}

// Empty reports whether the assignment carries no devices, in which case
// CUDA_VISIBLE_DEVICES must not be set (spec §4.4 step 1 and the
// empty-gpu_list-without-default edge case).
func (a Assignment) Empty() bool {
	return len(a.Devices) == 0
}

// String renders the assignment the way it is placed into
// CUDA_VISIBLE_DEVICES: a comma joined, ordered list of device ids.
func (a Assignment) String() string {
	return strings.Join(a.Devices, ",")
}

// GPUMapping mirrors the config [general] process_gpu_mapping section: a
// slot index maps to either a single device id, or a '+' joined list
// denoting a multi-GPU assignment.
type GPUMapping map[int]string

// GPUConfig is the subset of the supervisor configuration the assigner
// needs.  It is declared locally so this package does not import the
// config package, mirroring the teacher's preference for small leaf
// packages with few inbound dependencies.
type GPUConfig struct {
	EnableGPUAssignment bool
	GPUList             []string
	AllowMultiGPU       bool
	DefaultGPU          string
	ProcessGPUMapping   GPUMapping
}

var assignLogger = log.NewLogger("gpu-assigner")

// AssignSlot implements the five step algorithm of spec §4.4: map a
// monotonically issued process slot index to zero, one, or many device
// ids according to the supplied configuration.
func AssignSlot(slot int, cfg GPUConfig) Assignment {
	// Step 1: GPU assignment globally disabled.
	if !cfg.EnableGPUAssignment {
		return Assignment{}
	}

	// Step 2: an explicit process_gpu_mapping entry for this slot wins
	// outright, whether it names one device or several ('+' joined).
	if raw, isPresent := cfg.ProcessGPUMapping[slot]; isPresent {
		return Assignment{Devices: splitMapping(raw)}
	}

	list := cfg.GPUList

	// Step 3: no configured device list at all, fall back to the default.
	if len(list) == 0 {
		if len(cfg.DefaultGPU) == 0 {
			return Assignment{}
		}
		return Assignment{Devices: []string{cfg.DefaultGPU}}
	}

	// Step 4: multi-GPU slot 0 gets every device, the rest round robin
	// over the whole list one device at a time, starting from its first.
	if cfg.AllowMultiGPU && len(list) > 1 {
		if slot == 0 {
			devs := make([]string, len(list))
			copy(devs, list)
			return Assignment{Devices: devs}
		}
		idx := (slot - 1) % len(list)
		return Assignment{Devices: []string{list[idx]}}
	}

	// Step 5: plain round robin over the configured device list.
	idx := slot % len(list)
	return Assignment{Devices: []string{list[idx]}}
}

func splitMapping(raw string) []string {
	if !strings.Contains(raw, "+") {
		return []string{strings.TrimSpace(raw)}
	}
	parts := strings.Split(raw, "+")
	devs := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if len(p) != 0 {
			devs = append(devs, p)
		}
	}
	return devs
}

// WarnIfUnrecognized logs (at warn level) when a configured device id looks
// like a GPU model name, that is when GetSlots recognizes it, rather than
// the plain ordinal or UUID the spec expects.  This never blocks
// assignment, it is purely advisory.
func WarnIfUnrecognized(deviceID string) {
	if len(deviceID) == 0 {
		return
	}
	if _, err := GetSlots(deviceID); err == nil {
		assignLogger.Warn("configured device id looks like a GPU model name, not an ordinal or UUID", "device", deviceID)
	}
}
