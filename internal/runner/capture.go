// Copyright 2018-2026 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package runner

// This file is the character-by-character stream capture, grounded on the
// source runner's stdout pump (internal/runner/execscript.go, procOutput):
// it reads a child's stream one rune at a time using bufio.ScanRunes so
// that in-place progress updates written with a bare carriage return are
// preserved byte-for-byte in the log file, rather than being collapsed the
// way line oriented scanning would collapse them.

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// maxRunNameLen rejects a parsed run name longer than this, per spec
// §4.3.2 and the boundary behaviour in §8 ("rejects a 150-character
// name").
const maxRunNameLen = 100

// wandbRunNameSeparators are tried, in order, against a candidate line
// before falling back to the bare "run" token scan.  Grounded on
// original_source/training_manager/process_manager.py's literal-prefix
// scan (lines ~273-328), which tolerates wandb's tab/space and
// capitalisation variance across versions rather than using one regex.
var wandbRunNameSeparators = []string{
	"wandb: Syncing run ",
	"wandb: syncing run ",
	"wandb:\tSyncing run ",
	"wandb:\tsyncing run ",
	"wandb:Syncing run ",
	"wandb:syncing run ",
}

// parseWandbLine extracts a run id and/or run name from one line of a
// training process's stderr, as described in spec §4.3.2.
func parseWandbLine(line string) (runID string, runName string) {
	lower := strings.ToLower(line)

	if strings.Contains(lower, "wandb") && strings.Contains(line, "run-") {
		_, tail, found := strings.Cut(line, "run-")
		if found {
			fields := strings.Fields(tail)
			if len(fields) != 0 {
				runID = "run-" + fields[0]
			}
		}
	}

	if strings.Contains(line, "wandb:") &&
		(strings.Contains(lower, "syncing run")) {
		runName = extractRunName(line)
	}

	return runID, runName
}

func extractRunName(line string) (runName string) {
	for _, sep := range wandbRunNameSeparators {
		if _, tail, found := strings.Cut(line, sep); found {
			return firstTokenAsRunName(tail)
		}
	}

	// Fallback: scan whitespace-separated fields for a bare "run" token
	// and take whatever follows it.
	fields := strings.Fields(line)
	for i, f := range fields {
		if strings.EqualFold(f, "run") && i+1 < len(fields) {
			return validateRunName(fields[i+1])
		}
	}
	return ""
}

func firstTokenAsRunName(tail string) string {
	fields := strings.Fields(tail)
	if len(fields) == 0 {
		return ""
	}
	return validateRunName(fields[0])
}

func validateRunName(name string) string {
	if len(name) == 0 || len(name) > maxRunNameLen {
		return ""
	}
	return name
}

// logHeader renders the header line spec §4.3.1 step 4 requires be written
// to a fresh log file before any child output: a timestamp, the
// experiment id, the command line, and the GPU assignment.
func logHeader(id, command, gpu string) string {
	if len(gpu) == 0 {
		gpu = "none"
	}
	return fmt.Sprintf("# supervisor: id=%s started=%s gpu=%s command=%s\n",
		id, time.Now().Format(time.RFC3339), gpu, command)
}

// captureStream copies r rune by rune into the log file at path, invoking
// onLine (if not nil) with each completed line as it is flushed.  It
// owns its own log file handle and returns once r reaches end of stream.
// When header is not empty it is written once before any streamed output
// and is never itself passed to onLine.
func captureStream(r io.Reader, path string, header string, onLine func(line string)) (err error) {
	f, errGo := os.Create(path)
	if errGo != nil {
		return errGo
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	defer w.Flush()

	if len(header) != 0 {
		if _, errGo = w.WriteString(header); errGo != nil {
			return errGo
		}
		if errGo = w.Flush(); errGo != nil {
			return errGo
		}
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Split(bufio.ScanRunes)

	var line strings.Builder
	for scanner.Scan() {
		tok := scanner.Text()
		if _, errGo = w.WriteString(tok); errGo != nil {
			return errGo
		}
		if tok == "\n" {
			if errGo = w.Flush(); errGo != nil {
				return errGo
			}
			completed := line.String()
			line.Reset()
			if onLine != nil {
				onLine(completed)
			}
			continue
		}
		line.WriteString(tok)
	}
	if line.Len() != 0 && onLine != nil {
		onLine(line.String())
	}
	return scanner.Err()
}
