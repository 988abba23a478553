// Copyright 2018-2026 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package runner

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-test/deep"
)

func writeTestTable(t *testing.T, dir string, contents string) string {
	t.Helper()
	path := filepath.Join(dir, "table.csv")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestTableMissingFileIsFatal(t *testing.T) {
	if _, err := NewTable(filepath.Join(t.TempDir(), "nope.csv")); err == nil {
		t.Fatal("expected an error opening a missing table file")
	}
}

func TestTableQueryByState(t *testing.T) {
	dir := t.TempDir()
	path := writeTestTable(t, dir, "ID,Name,TrainingCommand,TrainingCheck,WandbRunID,WeightFile\n"+
		"exp1,Exp One,python train.py,,,\n"+
		"exp2,Exp Two,python train.py,Training,run-abc,\n"+
		"exp3,Exp Three,python train.py,Done,run-def,crisp-oak-7\n")

	tbl, err := NewTable(path)
	if err != nil {
		t.Fatal(err.Error())
	}

	if rows := tbl.QueryByState(StateEmpty); len(rows) != 1 || rows[0].ID != "exp1" {
		t.Fatalf("expected exp1 as the only empty-state row, got %+v", rows)
	}
	if rows := tbl.QueryByState(StateTraining); len(rows) != 1 || rows[0].ID != "exp2" {
		t.Fatalf("expected exp2 as the only training row, got %+v", rows)
	}
	if rows := tbl.QueryByState(StateDone); len(rows) != 1 || rows[0].ID != "exp3" {
		t.Fatalf("expected exp3 as the only done row, got %+v", rows)
	}
}

func TestTableUpdateFieldRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := writeTestTable(t, dir, "ID,Name,TrainingCommand,TrainingCheck,WandbRunID,WeightFile\n"+
		"exp1,Exp One,python train.py,,,\n")

	tbl, err := NewTable(path)
	if err != nil {
		t.Fatal(err.Error())
	}
	if err := tbl.UpdateField("exp1", "WeightFile", "crisp-oak-7"); err != nil {
		t.Fatal(err.Error())
	}

	// Reload a fresh handle to observe the on-disk effect of the write.
	tbl2, err := NewTable(path)
	if err != nil {
		t.Fatal(err.Error())
	}
	row := tbl2.GetRow("exp1")
	if row == nil || row.WeightFile != "crisp-oak-7" {
		t.Fatalf("expected WeightFile to round trip, got %+v", row)
	}
}

func TestTableEmptyCellsNeverSerializeAsNan(t *testing.T) {
	dir := t.TempDir()
	path := writeTestTable(t, dir, "ID,Name,TrainingCommand,TrainingCheck,WandbRunID,WeightFile\n"+
		"exp1,Exp One,python train.py,,,\n")

	tbl, err := NewTable(path)
	if err != nil {
		t.Fatal(err.Error())
	}
	if err := tbl.UpdateField("exp1", "TrainingCheck", "Training"); err != nil {
		t.Fatal(err.Error())
	}

	raw, errGo := os.ReadFile(path)
	if errGo != nil {
		t.Fatal(errGo)
	}
	if strings.Contains(strings.ToLower(string(raw)), "nan") {
		t.Fatalf("table rewrite must never emit the string nan, got:\n%s", raw)
	}
}

func TestTableExtraColumnsPreserved(t *testing.T) {
	dir := t.TempDir()
	path := writeTestTable(t, dir, "ID,Name,TrainingCommand,TrainingCheck,WandbRunID,WeightFile,Notes\n"+
		"exp1,Exp One,python train.py,,,,keep me\n")

	tbl, err := NewTable(path)
	if err != nil {
		t.Fatal(err.Error())
	}
	if err := tbl.UpdateField("exp1", "TrainingCheck", "Training"); err != nil {
		t.Fatal(err.Error())
	}

	tbl2, err := NewTable(path)
	if err != nil {
		t.Fatal(err.Error())
	}
	row := tbl2.GetRow("exp1")
	if row == nil || row.Extra["Notes"] != "keep me" {
		t.Fatalf("expected extra column Notes to be preserved, got %+v", row)
	}
}

func TestTableStateMachineIsForwardOnly(t *testing.T) {
	dir := t.TempDir()
	path := writeTestTable(t, dir, "ID,Name,TrainingCommand,TrainingCheck,WandbRunID,WeightFile\n"+
		"exp1,Exp One,python train.py,Done,run-x,oak-7\n")

	tbl, err := NewTable(path)
	if err != nil {
		t.Fatal(err.Error())
	}
	if err := tbl.UpdateStatus("exp1", StateTraining); err == nil {
		t.Fatal("expected an error moving a terminal row backwards to Training")
	}
}

func TestTableRowClonesAreIndependent(t *testing.T) {
	dir := t.TempDir()
	path := writeTestTable(t, dir, "ID,Name,TrainingCommand,TrainingCheck,WandbRunID,WeightFile\n"+
		"exp1,Exp One,python train.py,,,\n")

	tbl, err := NewTable(path)
	if err != nil {
		t.Fatal(err.Error())
	}
	row := tbl.GetRow("exp1")
	row.Name = "mutated locally"

	fresh := tbl.GetRow("exp1")
	if diff := deep.Equal(fresh.Name, "Exp One"); diff != nil {
		t.Fatalf("mutating a returned row must not affect the table: %v", diff)
	}
}
