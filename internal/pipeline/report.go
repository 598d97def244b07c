package pipeline

import (
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/czds-harvester/internal/aggregate"
	"github.com/JakeFAU/czds-harvester/internal/harvest"
	"github.com/JakeFAU/czds-harvester/internal/loader"
)

// Report is the final, user-visible summary of a run.
type Report struct {
	RunID                string            `json:"run_id"`
	Status               harvest.RunStatus `json:"status"`
	Stage                harvest.Stage     `json:"stage"`
	Err                  error             `json:"-"`
	Degraded             bool              `json:"degraded,omitempty"`
	LinksEnumerated      int               `json:"links_enumerated"`
	LinksProbed          int               `json:"links_probed"`
	TotalResourcesProbed int               `json:"total_resources_probed"`
	Summary              aggregate.Summary `json:"summary"`
	Outcome              loader.Outcome    `json:"outcome,omitempty"`
	NotificationID       string            `json:"notification_id,omitempty"`
	StartedAt            time.Time         `json:"started_at"`
	FinishedAt           time.Time         `json:"finished_at"`
}

// Succeeded reports whether the run ended without a fatal error.
func (r Report) Succeeded() bool {
	return r.Status == harvest.RunCompleted || r.Status == harvest.RunNothingToLoad
}

// Fields renders the report as structured log fields.
func (r Report) Fields() []zap.Field {
	fields := []zap.Field{
		zap.String("run_id", r.RunID),
		zap.String("status", string(r.Status)),
		zap.Int("links_enumerated", r.LinksEnumerated),
		zap.Int("links_probed", r.LinksProbed),
		zap.Int("total_resources_probed", r.TotalResourcesProbed),
		zap.Int("failed_probes", r.Summary.Failed),
		zap.Duration("duration", r.FinishedAt.Sub(r.StartedAt)),
	}
	if r.Outcome != "" {
		fields = append(fields, zap.String("outcome", string(r.Outcome)))
	}
	if r.Degraded {
		fields = append(fields, zap.Bool("degraded", true))
	}
	if stage, ok := FailedStage(r.Err); ok {
		fields = append(fields, zap.String("failed_stage", string(stage)), zap.Error(r.Err))
	}
	if len(r.Summary.Failures) > 0 {
		fields = append(fields, zap.Any("failures", r.Summary.Failures))
	}
	return fields
}
