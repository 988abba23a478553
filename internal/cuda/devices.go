// Copyright 2021 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package cuda

import (
	"strings"

	"github.com/go-stack/stack"
	"github.com/jjeffery/kv"
)

// This file maps recognized GPU device names to their compute slot count,
// used by the GPU Assigner to warn about configured device ids that match a
// GPU model name instead of a device ordinal or UUID (spec §4.4).

// GetSlots is used to retrieved the number of compute slots that cards are capable of
func GetSlots(name string) (slots uint, err kv.Error) {
	switch {
	case strings.Contains(name, "GTX 1050"),
		strings.Contains(name, "GTX 1060"):
		slots = 2
	case strings.Contains(name, "GTX 1070"),
		strings.Contains(name, "GTX 1080"):
		slots = 2
	case strings.Contains(name, "TITAN X"):
		slots = 2
	case strings.Contains(name, "RTX 2080 Ti"):
		slots = 2
	case strings.Contains(name, "Tesla K80"),
		strings.Contains(name, "NVIDIA K80"):
		slots = 2
	case strings.Contains(name, "Tesla P40"),
		strings.Contains(name, "NVIDIA P40"):
		slots = 4
	case strings.Contains(name, "Tesla P100"),
		strings.Contains(name, "NVIDIA P100"):
		slots = 8
	case strings.Contains(name, "Tesla V100"),
		strings.Contains(name, "Tesla V100"),
		strings.Contains(name, "NVIDIA V100"):
		slots = 16
	case strings.Contains(name, "A100-SXM4-40GB"):
		slots = 24
	default:
		return 0, kv.NewError("unrecognized gpu device").With("gpu_name", name).With("stack", stack.Trace().TrimRuntime())
	}
	return slots, nil
}
