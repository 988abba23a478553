// Copyright 2018-2026 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	ttlCache "github.com/karlmutch/go-cache"

	"github.com/leaf-ai/training-supervisor/internal/log"
)

// wandbEndpoint is the Weights & Biases GraphQL API the adapter reads run
// state from.
const wandbEndpoint = "https://api.wandb.ai/graphql"

// requestTimeout bounds every single call so the Scheduler's control loop
// can never be blocked indefinitely by a slow or wedged tracker (spec §5
// "Timeouts").
const requestTimeout = 10 * time.Second

// backoffFloor and backoffCeiling size the TTL cache used to suppress
// repeat calls against a run that just failed, mirroring the teacher's
// Backoffs (internal/runner/backoffs.go) but as an explicit, non-singleton
// value per spec §9 "Singleton / global state".
const (
	backoffFloor   = 10 * time.Second
	backoffCeiling = time.Minute
)

// wandbStateMap translates the tracker's own vocabulary into the
// Scheduler's RunState (spec §4.2: "crashed covers both the tracker's
// explicit crash classification and any failure classification").
var wandbStateMap = map[string]RunState{
	"running":  RunRunning,
	"finished": RunFinished,
	"crashed":  RunCrashed,
	"failed":   RunCrashed,
	"killed":   RunCrashed,
}

// WandbTracker implements Tracker against the public Weights & Biases
// GraphQL API over plain net/http.
type WandbTracker struct {
	apiKey   string
	entity   string
	project  string
	endpoint string
	client   *http.Client
	logger   *log.Logger

	backoffMu sync.Mutex
	backoff   *ttlCache.Cache
}

// NewWandbTracker constructs an adapter bound to one entity/project, using
// apiKey for bearer authentication.
func NewWandbTracker(apiKey, entity, project string) *WandbTracker {
	return &WandbTracker{
		apiKey:   apiKey,
		entity:   entity,
		project:  project,
		endpoint: wandbEndpoint,
		client:   &http.Client{Timeout: requestTimeout},
		logger:   log.NewLogger("wandb-tracker"),
		backoff:  ttlCache.New(backoffFloor, backoffCeiling),
	}
}

type wandbRunResponse struct {
	Data struct {
		Project struct {
			Run struct {
				State       string `json:"state"`
				DisplayName string `json:"displayName"`
			} `json:"run"`
		} `json:"project"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (w *WandbTracker) isBackedOff(runID string) bool {
	w.backoffMu.Lock()
	defer w.backoffMu.Unlock()
	expires, isPresent := w.backoff.Get(runID)
	if !isPresent {
		return false
	}
	return time.Now().Before(expires.(time.Time))
}

func (w *WandbTracker) setBackoff(runID string, d time.Duration) {
	w.backoffMu.Lock()
	defer w.backoffMu.Unlock()
	if expires, isPresent := w.backoff.Get(runID); isPresent && time.Now().Add(d).Before(expires.(time.Time)) {
		return
	}
	w.backoff.Set(runID, time.Now().Add(d), d)
}

func (w *WandbTracker) fetchRun(ctx context.Context, runID string) (resp wandbRunResponse, err error) {
	if w.isBackedOff(runID) {
		return resp, fmt.Errorf("run %s is backed off", runID)
	}

	query := fmt.Sprintf(`query Run { project(name: %q, entityName: %q) { run(name: %q) { state displayName } } }`,
		w.project, w.entity, runID)
	payload, errGo := json.Marshal(map[string]string{"query": query})
	if errGo != nil {
		return resp, errGo
	}

	req, errGo := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(payload))
	if errGo != nil {
		return resp, errGo
	}
	req.Header.Set("Content-Type", "application/json")
	if len(w.apiKey) != 0 {
		req.Header.Set("Authorization", "Bearer "+w.apiKey)
	}

	httpResp, errGo := w.client.Do(req)
	if errGo != nil {
		w.setBackoff(runID, backoffFloor)
		return resp, errGo
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		w.setBackoff(runID, backoffFloor)
		return resp, fmt.Errorf("wandb returned status %d", httpResp.StatusCode)
	}

	if errGo = json.NewDecoder(httpResp.Body).Decode(&resp); errGo != nil {
		return resp, errGo
	}
	if len(resp.Errors) != 0 {
		return resp, fmt.Errorf("wandb API error: %s", resp.Errors[0].Message)
	}
	return resp, nil
}

// StateOf implements Tracker.  Any transient failure degrades to
// RunUnknown and arms a short backoff for runID, rather than propagating
// an error to the Scheduler (spec §4.2, §5 "Timeouts").
func (w *WandbTracker) StateOf(ctx context.Context, runID string) RunState {
	if len(runID) == 0 {
		return RunUnknown
	}
	resp, err := w.fetchRun(ctx, runID)
	if err != nil {
		w.logger.Debug("tracker state lookup failed", "run_id", runID, "err", err.Error())
		return RunUnknown
	}
	state, isPresent := wandbStateMap[strings.ToLower(resp.Data.Project.Run.State)]
	if !isPresent {
		return RunUnknown
	}
	return state
}

// DisplayNameOf implements Tracker.
func (w *WandbTracker) DisplayNameOf(ctx context.Context, runID string) (name string, isPresent bool) {
	if len(runID) == 0 {
		return "", false
	}
	resp, err := w.fetchRun(ctx, runID)
	if err != nil {
		w.logger.Debug("tracker display name lookup failed", "run_id", runID, "err", err.Error())
		return "", false
	}
	name = resp.Data.Project.Run.DisplayName
	return name, len(name) != 0
}
