// Copyright 2018-2026 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

// Package resources reports a snapshot of the host's free CPU, memory, and
// disk, grounded on the teacher's internal/cpu_resource/cpu.go gopsutil
// usage, trimmed down from that file's soft-allocation accounting (this
// supervisor does not partition CPU/memory the way the teacher's queue
// processor does) to the read-only snapshot the supervisor logs when run
// with --show_logs.
package resources

import (
	"github.com/dustin/go-humanize"
	"github.com/go-stack/stack"
	"github.com/jjeffery/kv" // MIT License
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/disk"
	"github.com/shirou/gopsutil/mem"
)

// Snapshot is a point-in-time view of the host's compute resources.
type Snapshot struct {
	Cores        int
	MemAvailable uint64
	MemTotal     uint64
	DiskFree     uint64
	DiskTotal    uint64
}

// Fetch gathers the current CPU, memory, and disk state for path (the
// directory training output is staged to).
func Fetch(path string) (snap Snapshot, err kv.Error) {
	cores, errGo := cpu.Counts(true)
	if errGo != nil {
		return snap, kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}
	snap.Cores = cores

	vm, errGo := mem.VirtualMemory()
	if errGo != nil {
		return snap, kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}
	snap.MemAvailable = vm.Available
	snap.MemTotal = vm.Total

	du, errGo := disk.Usage(path)
	if errGo != nil {
		return snap, kv.Wrap(errGo).With("path", path).With("stack", stack.Trace().TrimRuntime())
	}
	snap.DiskFree = du.Free
	snap.DiskTotal = du.Total

	return snap, nil
}

// Logable renders the snapshot as structured logger key/value pairs, human
// readable for byte quantities (spec's ambient logging follows the
// teacher's key/value convention throughout).
func (snap Snapshot) Logable() []interface{} {
	return []interface{}{
		"cores", snap.Cores,
		"mem_available", humanize.Bytes(snap.MemAvailable),
		"mem_total", humanize.Bytes(snap.MemTotal),
		"disk_free", humanize.Bytes(snap.DiskFree),
		"disk_total", humanize.Bytes(snap.DiskTotal),
	}
}
