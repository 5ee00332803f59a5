package healthcheck

import (
	"sync"
	"time"

	"github.com/nholik/lakehouse-bootstrap/internal/report"
)

// Snapshot describes the latest completed bootstrap run.
type Snapshot struct {
	LastRunTime   *time.Time    `json:"last_run_time"`
	RunID         string        `json:"run_id,omitempty"`
	RunStatus     report.Status `json:"run_status,omitempty"`
	RunDurationMS int64         `json:"run_duration_ms"`
	Succeeded     int           `json:"succeeded"`
	Failed        int           `json:"failed"`
	Skipped       int           `json:"skipped"`
}

// Tracker keeps the most recent run for the health endpoints.
type Tracker struct {
	mu      sync.RWMutex
	now     func() time.Time
	lastRun time.Time
	last    *report.Report
	ready   bool
}

// NewTracker constructs a new Tracker.
func NewTracker() *Tracker {
	return &Tracker{now: func() time.Time { return time.Now().UTC() }}
}

// RecordRun stores the run. The tracker becomes ready once a run succeeds
// and stays ready until a later run fails outright.
func (t *Tracker) RecordRun(r report.Report) {
	if t == nil {
		return
	}
	stored := r
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastRun = t.now()
	t.last = &stored
	switch r.Status {
	case report.StatusSuccess:
		t.ready = true
	case report.StatusFailure:
		t.ready = false
	}
}

// Last returns the most recent report, if any.
func (t *Tracker) Last() (report.Report, bool) {
	if t == nil {
		return report.Report{}, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.last == nil {
		return report.Report{}, false
	}
	return *t.last, true
}

// Snapshot returns the current tracker snapshot.
func (t *Tracker) Snapshot() Snapshot {
	if t == nil {
		return Snapshot{}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.last == nil {
		return Snapshot{}
	}
	last := t.lastRun
	counts := t.last.Counts()
	return Snapshot{
		LastRunTime:   &last,
		RunID:         t.last.RunID,
		RunStatus:     t.last.Status,
		RunDurationMS: time.Duration(t.last.Elapsed).Milliseconds(),
		Succeeded:     counts[report.StateSucceeded],
		Failed:        counts[report.StateFailed],
		Skipped:       counts[report.StateSkipped],
	}
}

// Ready reports whether the lakehouse has been bootstrapped successfully.
func (t *Tracker) Ready() bool {
	if t == nil {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ready
}

// Healthy reports whether the last run completed within 2x the watch
// interval plus the run timeout.
func (t *Tracker) Healthy(now time.Time, interval, runTimeout time.Duration) bool {
	if t == nil || interval <= 0 {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.lastRun.IsZero() {
		return false
	}
	return now.Sub(t.lastRun) <= 2*interval+runTimeout
}
