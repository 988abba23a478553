// Copyright 2018-2026 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package tracker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestTracker(t *testing.T, body string, status int) (tr *WandbTracker, closeFn func()) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	tr = NewWandbTracker("fake-key", "team", "project")
	tr.client = srv.Client()
	tr.endpoint = srv.URL
	return tr, srv.Close
}

func TestWandbTrackerStateOfFinished(t *testing.T) {
	tr, closeFn := newTestTracker(t, `{"data":{"project":{"run":{"state":"finished","displayName":"crisp-oak-7"}}}}`, http.StatusOK)
	defer closeFn()

	if state := tr.StateOf(context.Background(), "run-abc123"); state != RunFinished {
		t.Fatalf("expected RunFinished, got %v", state)
	}
}

func TestWandbTrackerDisplayNameOf(t *testing.T) {
	tr, closeFn := newTestTracker(t, `{"data":{"project":{"run":{"state":"running","displayName":"crisp-oak-7"}}}}`, http.StatusOK)
	defer closeFn()

	name, isPresent := tr.DisplayNameOf(context.Background(), "run-abc123")
	if !isPresent || name != "crisp-oak-7" {
		t.Fatalf("expected display name crisp-oak-7, got %q present=%v", name, isPresent)
	}
}

func TestWandbTrackerDegradesToUnknownOnHTTPError(t *testing.T) {
	tr, closeFn := newTestTracker(t, `not json`, http.StatusInternalServerError)
	defer closeFn()

	if state := tr.StateOf(context.Background(), "run-abc123"); state != RunUnknown {
		t.Fatalf("expected RunUnknown on a server error, got %v", state)
	}
}

func TestWandbTrackerDegradesToUnknownOnEmptyRunID(t *testing.T) {
	tr := NewWandbTracker("key", "team", "project")
	if state := tr.StateOf(context.Background(), ""); state != RunUnknown {
		t.Fatalf("expected RunUnknown for empty run id, got %v", state)
	}
	if _, isPresent := tr.DisplayNameOf(context.Background(), ""); isPresent {
		t.Fatal("expected no display name for empty run id")
	}
}

func TestWandbStateMapTranslatesFailureVariants(t *testing.T) {
	for _, raw := range []string{"failed", "killed", "crashed"} {
		if wandbStateMap[raw] != RunCrashed {
			t.Fatalf("expected %q to map to RunCrashed", raw)
		}
	}
	if wandbStateMap["running"] != RunRunning {
		t.Fatal("expected running to map to RunRunning")
	}
	if wandbStateMap["finished"] != RunFinished {
		t.Fatal("expected finished to map to RunFinished")
	}
}

func TestWandbTrackerBackoffSuppressesRepeatCalls(t *testing.T) {
	tr := NewWandbTracker("key", "team", "project")
	tr.setBackoff("run-1", backoffFloor)
	if !tr.isBackedOff("run-1") {
		t.Fatal("expected run-1 to be backed off immediately after setBackoff")
	}
	if tr.isBackedOff("run-2") {
		t.Fatal("expected run-2 to be unaffected by run-1's backoff")
	}
}

func TestNopTrackerAlwaysUnknown(t *testing.T) {
	var tr Tracker = NopTracker{}
	if state := tr.StateOf(context.Background(), "anything"); state != RunUnknown {
		t.Fatalf("expected RunUnknown, got %v", state)
	}
	if _, isPresent := tr.DisplayNameOf(context.Background(), "anything"); isPresent {
		t.Fatal("expected NopTracker to never report a display name")
	}
}
