package report

import (
	"encoding/json"
	"fmt"
	"time"
)

// NodeState is a step of the per-node lifecycle.
type NodeState string

const (
	StatePending     NodeState = "pending"
	StateWaiting     NodeState = "waiting-on-dependencies"
	StateProbing     NodeState = "probing-health"
	StateConfiguring NodeState = "configuring-actions"
	StateSucceeded   NodeState = "succeeded"
	StateFailed      NodeState = "failed"
	StateSkipped     NodeState = "skipped"
)

// Terminal reports whether no further transition can happen within a run.
func (s NodeState) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateSkipped:
		return true
	default:
		return false
	}
}

// HealthStatus is the final readiness verdict for a node.
type HealthStatus string

const (
	HealthNotRun  HealthStatus = "not-run"
	HealthReady   HealthStatus = "ready"
	HealthTimeout HealthStatus = "timeout"
	HealthError   HealthStatus = "error"
)

// ActionStatus is the outcome of one configuration action.
type ActionStatus string

const (
	ActionSkipped          ActionStatus = "skipped"
	ActionApplied          ActionStatus = "applied"
	ActionAlreadySatisfied ActionStatus = "already-satisfied"
	ActionFailed           ActionStatus = "failed"
)

// Stage names used in FailedStage and ActionOutcome.Stage.
const (
	StageDependencies = "dependencies"
	StageHealth       = "health"
	StageCancelled    = "cancelled"
	StageCheck        = "check"
	StageApply        = "apply"
	StageVerify       = "verify"
)

// ActionStage formats the failed stage of a named action.
func ActionStage(action, stage string) string {
	return fmt.Sprintf("action:%s:%s", action, stage)
}

// Duration marshals as a Go duration string.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// HealthOutcome summarizes the readiness phase of a node.
type HealthOutcome struct {
	Status   HealthStatus `json:"status"`
	Attempts int          `json:"attempts"`
	Elapsed  Duration     `json:"elapsed"`
	Detail   string       `json:"detail,omitempty"`
	Error    string       `json:"error,omitempty"`
}

// ActionOutcome records what happened to one configuration action.
type ActionOutcome struct {
	Name          string       `json:"name"`
	Status        ActionStatus `json:"status"`
	Stage         string       `json:"stage,omitempty"`
	CheckAttempts int          `json:"check_attempts,omitempty"`
	ErrorKind     string       `json:"error_kind,omitempty"`
	Error         string       `json:"error,omitempty"`
	Elapsed       Duration     `json:"elapsed"`
}

// ExecutionResult is the immutable record of one node's run.
type ExecutionResult struct {
	Identity    string          `json:"identity"`
	State       NodeState       `json:"state"`
	Reason      string          `json:"reason,omitempty"`
	FailedStage string          `json:"failed_stage,omitempty"`
	Health      HealthOutcome   `json:"health"`
	Actions     []ActionOutcome `json:"actions,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	Elapsed     Duration        `json:"elapsed"`
}

// Status is the consolidated outcome of a run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusFailure Status = "failure"
)

// Report is the terminal artifact of one orchestration run.
type Report struct {
	RunID                  string            `json:"run_id"`
	Status                 Status            `json:"status"`
	Nodes                  []ExecutionResult `json:"nodes"`
	StartedAt              time.Time         `json:"started_at"`
	FinishedAt             time.Time         `json:"finished_at"`
	Elapsed                Duration          `json:"elapsed"`
	DefinitionsFingerprint string            `json:"definitions_fingerprint,omitempty"`
}

// Node returns the result for identity.
func (r Report) Node(identity string) (ExecutionResult, bool) {
	for _, node := range r.Nodes {
		if node.Identity == identity {
			return node, true
		}
	}
	return ExecutionResult{}, false
}

// Counts tallies nodes by state.
func (r Report) Counts() map[NodeState]int {
	counts := make(map[NodeState]int, 3)
	for _, node := range r.Nodes {
		counts[node.State]++
	}
	return counts
}

// Aggregate derives the run status. Any failed or skipped node prevents
// success. The run is a failure when nothing succeeded or when most sink
// nodes (those nothing depends on) did not succeed; otherwise it is partial.
func Aggregate(results []ExecutionResult, sinks []string) Status {
	if len(results) == 0 {
		return StatusSuccess
	}

	states := make(map[string]NodeState, len(results))
	succeeded := 0
	for _, result := range results {
		states[result.Identity] = result.State
		if result.State == StateSucceeded {
			succeeded++
		}
	}

	if succeeded == len(results) {
		return StatusSuccess
	}
	if succeeded == 0 {
		return StatusFailure
	}

	unsuccessfulSinks := 0
	for _, sink := range sinks {
		if states[sink] != StateSucceeded {
			unsuccessfulSinks++
		}
	}
	if len(sinks) > 0 && unsuccessfulSinks*2 > len(sinks) {
		return StatusFailure
	}
	return StatusPartial
}

// Exit codes returned by the CLI.
const (
	ExitSuccess       = 0
	ExitFailure       = 1
	ExitPartial       = 2
	ExitInvalidConfig = 3
)

// ExitCode maps the report status to a process exit code.
func (r Report) ExitCode() int {
	switch r.Status {
	case StatusSuccess:
		return ExitSuccess
	case StatusPartial:
		return ExitPartial
	default:
		return ExitFailure
	}
}
