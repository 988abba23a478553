// Copyright 2018-2026 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

// Package tracker is the read-only remote experiment tracker adapter of
// spec §4.2, grounded on the teacher's prometheusClient.Fetch
// (internal/runner/prometheus.go) for the "bounded HTTP GET, degrade
// rather than throw" shape, and on slack.go's msgToSlack for the plain
// net/http JSON client idiom.
package tracker

import (
	"context"
)

// RunState classifies a remote run as the Scheduler needs it (spec §4.2).
type RunState string

const (
	RunRunning  RunState = "running"
	RunFinished RunState = "finished"
	RunCrashed  RunState = "crashed"
	RunUnknown  RunState = "unknown"
)

// Tracker is the capability set the Scheduler consumes.  Every method
// must tolerate transient errors by degrading to RunUnknown / not-present
// rather than returning an error the loop would have to special-case
// (spec §4.2 "must tolerate transient errors").
type Tracker interface {
	StateOf(ctx context.Context, runID string) RunState
	DisplayNameOf(ctx context.Context, runID string) (name string, isPresent bool)
}

// NopTracker never reaches a remote service; it always reports
// RunUnknown and no display name.  Used in tests and whenever tracker
// credentials are not configured.
type NopTracker struct{}

func (NopTracker) StateOf(_ context.Context, _ string) RunState { return RunUnknown }

func (NopTracker) DisplayNameOf(_ context.Context, _ string) (string, bool) { return "", false }
