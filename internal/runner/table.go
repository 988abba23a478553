// Copyright 2018-2026 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package runner

// This file contains the experiment table store: a row oriented, delimited
// text file that is the durable source of truth for the scheduler.  The
// atomic rewrite (temp file + rename) and single-writer discipline are
// adapted from the file-lock / replace idiom the teacher uses for its
// local file queue implementation.

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-stack/stack"
	"github.com/jjeffery/kv" // MIT License

	"github.com/leaf-ai/training-supervisor/internal/log"
)

// TrainingState is the per-row state machine described in spec §3.
type TrainingState string

const (
	StateEmpty    TrainingState = ""
	StateTraining TrainingState = "Training"
	StateDone     TrainingState = "Done"
	StateCrash    TrainingState = "Crash"
)

// coreColumns are the columns this supervisor maps onto ExperimentRow
// fields: the first six are required in the table file (spec §6.1),
// GpuID and PretrainedModelId are optional.  Everything else round trips
// through Extra.
var coreColumns = []string{
	"ID", "Name", "TrainingCommand", "TrainingCheck", "WandbRunID", "WeightFile",
	"GpuID", "PretrainedModelId",
}

// ExperimentRow is one line of the experiment table (spec §3).
type ExperimentRow struct {
	ID                string
	Name              string
	TrainingCommand   string
	TrainingCheck     TrainingState
	WandbRunID        string
	WeightFile        string
	GpuID             string
	PretrainedModelId string

	// Extra preserves any columns the table file carries beyond the ones
	// this supervisor understands, so a rewrite never drops user data
	// (spec §6.1 "Extra columns are preserved on rewrite").
	Extra map[string]string
}

func (r *ExperimentRow) clone() *ExperimentRow {
	cp := *r
	cp.Extra = make(map[string]string, len(r.Extra))
	for k, v := range r.Extra {
		cp.Extra[k] = v
	}
	return &cp
}

// Table is the durable, reloadable experiment table described in spec §4.1.
// It is single-writer from the scheduler; no internal locking beyond the
// atomic rewrite is required (spec §4.1 "Concurrency").
type Table struct {
	path    string
	logger  *log.Logger
	mu      sync.RWMutex
	columns []string
	rows    []*ExperimentRow
	index   map[string]int
}

// NewTable opens the table file.  A missing file is a fatal configuration
// error, as specified in §4.1 and §7.
func NewTable(path string) (t *Table, err kv.Error) {
	t = &Table{
		path:   path,
		logger: log.NewLogger("table-store"),
		index:  map[string]int{},
	}
	if err = t.reload(); err != nil {
		return nil, err
	}
	return t, nil
}

// Reload re-parses the table file fully, observing any edits made since
// the last read (spec §4.1 "reload()").
func (t *Table) Reload() (err kv.Error) {
	return t.reload()
}

func (t *Table) reload() (err kv.Error) {
	f, errGo := os.Open(t.path)
	if errGo != nil {
		return kv.Wrap(errGo).With("path", t.path).With("stack", stack.Trace().TrimRuntime())
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, errGo := r.Read()
	if errGo != nil {
		return kv.Wrap(errGo).With("path", t.path).With("stack", stack.Trace().TrimRuntime())
	}

	colIdx := map[string]int{}
	for i, name := range header {
		colIdx[strings.TrimSpace(name)] = i
	}
	for _, required := range []string{"ID", "Name", "TrainingCommand", "TrainingCheck", "WandbRunID", "WeightFile"} {
		if _, isPresent := colIdx[required]; !isPresent {
			return kv.NewError("experiment table missing required column").With("column", required).With("path", t.path).With("stack", stack.Trace().TrimRuntime())
		}
	}

	rows := []*ExperimentRow{}
	index := map[string]int{}

	lineNo := 1
	for {
		lineNo++
		record, errGo := r.Read()
		if errGo == io.EOF {
			break
		}
		if errGo != nil {
			t.logger.Warn("skipping malformed row", "path", t.path, "line", lineNo, "err", errGo.Error())
			continue
		}

		row, parseErr := parseRow(header, colIdx, record)
		if parseErr != nil {
			t.logger.Warn("skipping row with parse error", "path", t.path, "line", lineNo, "err", parseErr.Error())
			continue
		}
		if len(row.ID) == 0 {
			t.logger.Warn("skipping row with empty ID", "path", t.path, "line", lineNo)
			continue
		}
		if _, dup := index[row.ID]; dup {
			t.logger.Warn("skipping row with duplicate ID", "path", t.path, "id", row.ID, "line", lineNo)
			continue
		}
		index[row.ID] = len(rows)
		rows = append(rows, row)
	}

	t.mu.Lock()
	t.columns = header
	t.rows = rows
	t.index = index
	t.mu.Unlock()

	return nil
}

func parseRow(header []string, colIdx map[string]int, record []string) (row *ExperimentRow, err error) {
	get := func(col string) string {
		i, isPresent := colIdx[col]
		if !isPresent || i >= len(record) {
			return ""
		}
		return record[i]
	}

	row = &ExperimentRow{
		ID:                strings.TrimSpace(get("ID")),
		Name:              get("Name"),
		TrainingCommand:   get("TrainingCommand"),
		TrainingCheck:     TrainingState(strings.TrimSpace(get("TrainingCheck"))),
		WandbRunID:        get("WandbRunID"),
		WeightFile:        get("WeightFile"),
		GpuID:             get("GpuID"),
		PretrainedModelId: get("PretrainedModelId"),
		Extra:             map[string]string{},
	}

	known := map[string]bool{}
	for _, c := range coreColumns {
		known[c] = true
	}
	for _, name := range header {
		name = strings.TrimSpace(name)
		if known[name] {
			continue
		}
		row.Extra[name] = get(name)
	}

	switch row.TrainingCheck {
	case StateEmpty, StateTraining, StateDone, StateCrash:
	default:
		return nil, fmt.Errorf("unrecognized TrainingCheck value %q", row.TrainingCheck)
	}

	return row, nil
}

// QueryByState returns a snapshot of every row whose TrainingCheck matches
// state, including the empty state treated as its own bucket.
func (t *Table) QueryByState(state TrainingState) (rows []*ExperimentRow) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, r := range t.rows {
		if r.TrainingCheck == state {
			rows = append(rows, r.clone())
		}
	}
	return rows
}

// GetRow returns a copy of the row for id, or nil if it does not exist.
func (t *Table) GetRow(id string) (row *ExperimentRow) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	i, isPresent := t.index[id]
	if !isPresent {
		return nil
	}
	return t.rows[i].clone()
}

// AllRows returns a snapshot of every row in the table.
func (t *Table) AllRows() (rows []*ExperimentRow) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, r := range t.rows {
		rows = append(rows, r.clone())
	}
	return rows
}

// UpdateField reloads the table, applies the new field value for id, and
// rewrites the whole file atomically, as specified in §4.1.
func (t *Table) UpdateField(id, field, value string) (err kv.Error) {
	if err = t.reload(); err != nil {
		return err
	}

	t.mu.Lock()
	i, isPresent := t.index[id]
	if !isPresent {
		t.mu.Unlock()
		return kv.NewError("no such row").With("id", id).With("stack", stack.Trace().TrimRuntime())
	}
	row := t.rows[i]
	if setErr := setField(row, field, value); setErr != nil {
		t.mu.Unlock()
		return kv.Wrap(setErr).With("id", id).With("field", field).With("stack", stack.Trace().TrimRuntime())
	}
	columns := t.columns
	rows := t.rows
	t.mu.Unlock()

	return writeAtomic(t.path, columns, rows)
}

func setField(row *ExperimentRow, field, value string) error {
	switch field {
	case "Name":
		row.Name = value
	case "TrainingCommand":
		row.TrainingCommand = value
	case "TrainingCheck":
		row.TrainingCheck = TrainingState(value)
	case "WandbRunID":
		row.WandbRunID = value
	case "WeightFile":
		row.WeightFile = value
	case "GpuID":
		row.GpuID = value
	case "PretrainedModelId":
		row.PretrainedModelId = value
	default:
		if row.Extra == nil {
			row.Extra = map[string]string{}
		}
		row.Extra[field] = value
	}
	return nil
}

// UpdateStatus is a convenience over UpdateField for the TrainingCheck
// column, enforcing the forward-only state machine of spec invariant 1.
func (t *Table) UpdateStatus(id string, state TrainingState) (err kv.Error) {
	current := t.GetRow(id)
	if current != nil && !validTransition(current.TrainingCheck, state) {
		return kv.NewError("invalid state transition").With("id", id).With("from", string(current.TrainingCheck)).With("to", string(state)).With("stack", stack.Trace().TrimRuntime())
	}
	return t.UpdateField(id, "TrainingCheck", string(state))
}

func validTransition(from, to TrainingState) bool {
	if from == to {
		return true
	}
	switch from {
	case StateEmpty:
		return to == StateTraining
	case StateTraining:
		return to == StateDone || to == StateCrash
	default:
		return false
	}
}

// UpdateWeightFile is a convenience over UpdateField for the WeightFile
// column.
func (t *Table) UpdateWeightFile(id, name string) (err kv.Error) {
	return t.UpdateField(id, "WeightFile", name)
}

// writeAtomic serializes rows back to path using a sibling temp file and an
// atomic rename, so a concurrent reader always observes either the
// complete old file or the complete new one (spec §4.1, Testable
// Properties "Table rewrite is atomic").
func writeAtomic(path string, columns []string, rows []*ExperimentRow) (err kv.Error) {
	dir := filepath.Dir(path)
	tmp, errGo := os.CreateTemp(dir, ".table-*.tmp")
	if errGo != nil {
		return kv.Wrap(errGo).With("path", path).With("stack", stack.Trace().TrimRuntime())
	}
	tmpName := tmp.Name()
	removeTmp := true
	defer func() {
		if removeTmp {
			os.Remove(tmpName)
		}
	}()

	w := csv.NewWriter(tmp)
	if errGo = w.Write(columns); errGo != nil {
		tmp.Close()
		return kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}
	for _, row := range rows {
		record := make([]string, len(columns))
		for i, col := range columns {
			record[i] = fieldValue(row, col)
		}
		if errGo = w.Write(record); errGo != nil {
			tmp.Close()
			return kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
		}
	}
	w.Flush()
	if errGo = w.Error(); errGo != nil {
		tmp.Close()
		return kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}
	if errGo = tmp.Sync(); errGo != nil {
		tmp.Close()
		return kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}
	if errGo = tmp.Close(); errGo != nil {
		return kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}
	if errGo = os.Rename(tmpName, path); errGo != nil {
		return kv.Wrap(errGo).With("path", path).With("stack", stack.Trace().TrimRuntime())
	}
	removeTmp = false
	return nil
}

// fieldValue renders a column for a row, producing an empty string rather
// than any sentinel "nan" marker for unset cells (spec §6.1).
func fieldValue(row *ExperimentRow, col string) string {
	switch col {
	case "ID":
		return row.ID
	case "Name":
		return row.Name
	case "TrainingCommand":
		return row.TrainingCommand
	case "TrainingCheck":
		return string(row.TrainingCheck)
	case "WandbRunID":
		return row.WandbRunID
	case "WeightFile":
		return row.WeightFile
	case "GpuID":
		return row.GpuID
	case "PretrainedModelId":
		return row.PretrainedModelId
	default:
		return row.Extra[col]
	}
}
