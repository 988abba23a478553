// Copyright 2018-2026 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

// Package weights implements the pretrained-checkpoint handoff between
// experiment rows (spec §4.5), grounded on the teacher's artifact
// enumeration idiom in internal/runner/artifacts.go: walk a directory,
// filter by a filename pattern, and pick a winner by a numeric field
// parsed out of the name.
package weights

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-stack/stack"
	"github.com/jjeffery/kv"

	"github.com/leaf-ai/training-supervisor/internal/log"
)

// checkpointPattern matches a checkpoint filename of the form
// model_<loss>_<index>.pth, eg model_0.183_5.pth (spec §4.5 step 4).
var checkpointPattern = regexp.MustCompile(`^model_([0-9.]+)_([0-9]+)\.pth$`)

var resolveLogger = log.NewLogger("weight-resolver")

// Predecessor is the subset of a predecessor row the resolver needs: its
// PretrainedModelId target's own id and stored WeightFile display name.
type Predecessor struct {
	ID         string
	WeightFile string
}

// Result is what the resolver hands back to the Scheduler.
type Result struct {
	// Path is the absolute checkpoint path to pass as --pretrained_path.
	// Empty when nothing could be resolved.
	Path string

	// NegatedID is set when the predecessor's checkpoint directory does
	// not exist, and holds the sentinel value the Scheduler must write
	// back into PretrainedModelId to suppress repeat lookups (spec §4.5
	// step 3, §8 scenario 3).
	NegatedID string
}

// NegationSentinel prefixes an id to mark it as an unresolved pretrained
// reference.  The source negates a numeric id; ids here are arbitrary
// strings, so this supervisor uses a literal "-" prefix as the same kind
// of already-tried marker, stripped again by IsNegated/Strip below.
func NegationSentinel(id string) string {
	if IsNegated(id) {
		return id
	}
	return "-" + id
}

// IsNegated reports whether id already carries the unresolved-reference
// marker.
func IsNegated(id string) bool {
	return strings.HasPrefix(id, "-")
}

// Strip removes the unresolved-reference marker, returning the original
// row id.
func Strip(id string) string {
	return strings.TrimPrefix(id, "-")
}

// Resolve implements spec §4.5: given the raw PretrainedModelId field of a
// row and a lookup of the referenced predecessor, locate the predecessor's
// best checkpoint file under baseDir.
//
// has reports whether a resolution was attempted: it is false when
// PretrainedModelId is empty or already negated, or when the predecessor
// is unknown or has no WeightFile yet.  A missing checkpoint directory is
// an attempt that failed, signalled via Result.NegatedID.
func Resolve(rawPretrainedModelID string, lookup func(id string) (Predecessor, bool), baseDir string) (result Result, has bool) {
	if len(rawPretrainedModelID) == 0 || IsNegated(rawPretrainedModelID) {
		return Result{}, false
	}

	pred, isPresent := lookup(rawPretrainedModelID)
	if !isPresent || len(pred.WeightFile) == 0 {
		return Result{}, false
	}

	dir := pred.WeightFile
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(baseDir, dir)
	}

	info, errGo := os.Stat(dir)
	if errGo != nil || !info.IsDir() {
		return Result{NegatedID: NegationSentinel(rawPretrainedModelID)}, true
	}

	path, err := bestCheckpoint(dir)
	if err != nil {
		resolveLogger.Warn("failed enumerating checkpoint directory", "dir", dir, "err", err.Error())
		return Result{}, true
	}
	if len(path) == 0 {
		return Result{}, true
	}
	return Result{Path: path}, true
}

// bestCheckpoint implements steps 4-6 of spec §4.5 over an existing
// directory: lowest-loss-wins among files matching checkpointPattern,
// falling back to the first enumerated file (with a warning) when none
// match but the directory is non-empty.
func bestCheckpoint(dir string) (path string, err kv.Error) {
	entries, errGo := os.ReadDir(dir)
	if errGo != nil {
		return "", kv.Wrap(errGo).With("dir", dir).With("stack", stack.Trace().TrimRuntime())
	}

	type candidate struct {
		name string
		loss float64
	}
	var matched []candidate
	var firstFile string

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if len(firstFile) == 0 {
			firstFile = entry.Name()
		}
		m := checkpointPattern.FindStringSubmatch(entry.Name())
		if len(m) != 3 {
			continue
		}
		loss, errGo := strconv.ParseFloat(m[1], 64)
		if errGo != nil {
			continue
		}
		matched = append(matched, candidate{name: entry.Name(), loss: loss})
	}

	if len(matched) != 0 {
		best := matched[0]
		for _, c := range matched[1:] {
			if c.loss < best.loss {
				best = c
			}
		}
		return filepath.Join(dir, best.name), nil
	}

	if len(firstFile) != 0 {
		resolveLogger.Warn("no checkpoint file matched the expected pattern, falling back to first file", "dir", dir, "file", firstFile)
		return filepath.Join(dir, firstFile), nil
	}

	return "", nil
}

// PretrainedArg renders the --pretrained_path extra_args entry for a
// resolved checkpoint path (spec §4.5 step 6, §4.6 step 3).
func PretrainedArg(path string) (key string, value string) {
	return "pretrained_path", path
}
