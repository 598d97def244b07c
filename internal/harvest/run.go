package harvest

import (
	"context"
	"fmt"
	"time"
)

// Stage names a step of the run state machine.
type Stage string

// Run stages in execution order.
const (
	StageIdle           Stage = "idle"
	StageAuthenticating Stage = "authenticating"
	StageEnumerating    Stage = "enumerating"
	StageProbing        Stage = "probing"
	StageAggregating    Stage = "aggregating"
	StageLoading        Stage = "loading"
	StageCompleted      Stage = "completed"
	StageFailed         Stage = "failed"
)

// Terminal reports whether no further transition can happen.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

// RunStatus is the final user-visible outcome of a run.
type RunStatus string

// Run statuses.
const (
	RunCompleted     RunStatus = "completed"
	RunNothingToLoad RunStatus = "nothing_to_load"
	RunFailed        RunStatus = "failed"
)

// StageError carries the first fatal error together with the stage that raised it.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// SnapshotStore persists snapshot records. Insert reports created=false when a
// record with the same run id already exists.
type SnapshotStore interface {
	InsertSnapshot(ctx context.Context, record SnapshotRecord) (created bool, err error)
}

// Publisher pushes run notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, payload any) (string, error)
}
