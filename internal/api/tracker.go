package api

import (
	"sync"
	"time"

	"github.com/JakeFAU/czds-harvester/internal/harvest"
)

// Status is the JSON body served by /status.
type Status struct {
	RunID     string        `json:"run_id,omitempty"`
	Stage     harvest.Stage `json:"stage"`
	Terminal  bool          `json:"terminal"`
	UpdatedAt time.Time     `json:"updated_at"`
	History   []Transition  `json:"history"`
}

// Transition records one stage change.
type Transition struct {
	Stage harvest.Stage `json:"stage"`
	At    time.Time     `json:"at"`
}

// Tracker remembers the stage of the current run. Observe matches pipeline.Observer.
type Tracker struct {
	mu     sync.RWMutex
	clock  harvest.Clock
	status Status
}

// NewTracker returns a Tracker in the idle stage.
func NewTracker(clock harvest.Clock) *Tracker {
	return &Tracker{
		clock:  clock,
		status: Status{Stage: harvest.StageIdle, UpdatedAt: clock.Now()},
	}
}

// Observe records a stage transition.
func (t *Tracker) Observe(runID string, stage harvest.Stage) {
	now := t.clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.RunID = runID
	t.status.Stage = stage
	t.status.Terminal = stage.Terminal()
	t.status.UpdatedAt = now
	t.status.History = append(t.status.History, Transition{Stage: stage, At: now})
}

// Snapshot returns a copy of the current status.
func (t *Tracker) Snapshot() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := t.status
	out.History = append([]Transition(nil), t.status.History...)
	return out
}
