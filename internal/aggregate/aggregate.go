// Package aggregate folds probe results into the run's snapshot record.
package aggregate

import (
	"time"

	"github.com/JakeFAU/czds-harvester/internal/harvest"
)

// Failure describes one link that produced no metadata.
type Failure struct {
	Link    string                 `json:"link"`
	Kind    harvest.ProbeErrorKind `json:"kind"`
	Status  int                    `json:"status,omitempty"`
	Message string                 `json:"message"`
}

// Summary reports per-link outcomes for a run.
type Summary struct {
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Failures  []Failure `json:"failures,omitempty"`
}

// Aggregate keeps successful entries in their original order and stamps the
// record with retrievedAt. Failed probes are not counted.
func Aggregate(runID string, results []harvest.ProbeResult, retrievedAt time.Time) harvest.SnapshotRecord {
	resources := make([]harvest.ResourceMetadata, 0, len(results))
	for _, r := range results {
		if r.OK() {
			resources = append(resources, *r.Metadata)
		}
	}
	return harvest.SnapshotRecord{
		RunID:                runID,
		RetrievedAt:          retrievedAt.UTC(),
		TotalResourcesProbed: len(resources),
		Resources:            resources,
	}
}

// Summarize counts outcomes and lists every failure in link order.
func Summarize(results []harvest.ProbeResult) Summary {
	var s Summary
	for _, r := range results {
		if r.OK() {
			s.Succeeded++
			continue
		}
		s.Failed++
		f := Failure{Link: r.Link}
		if r.Err != nil {
			f.Kind = r.Err.Kind
			f.Status = r.Err.Status
			f.Message = r.Err.Error()
		}
		s.Failures = append(s.Failures, f)
	}
	return s
}
