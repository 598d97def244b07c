// Package pipeline runs one harvest: authenticate, enumerate, probe, aggregate, load.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/czds-harvester/internal/aggregate"
	"github.com/JakeFAU/czds-harvester/internal/harvest"
	"github.com/JakeFAU/czds-harvester/internal/links"
	"github.com/JakeFAU/czds-harvester/internal/loader"
	"github.com/JakeFAU/czds-harvester/internal/metrics"
)

// Authenticator exchanges credentials for a session token.
type Authenticator interface {
	Authenticate(ctx context.Context, creds harvest.Credentials) (harvest.Token, error)
}

// Enumerator lists the links granted to a token.
type Enumerator interface {
	Enumerate(ctx context.Context, token harvest.Token) ([]harvest.Link, error)
}

// Prober returns one result per link, in link order.
type Prober interface {
	Probe(ctx context.Context, token harvest.Token, links []harvest.Link) []harvest.ProbeResult
}

// Loader commits a snapshot record.
type Loader interface {
	Load(ctx context.Context, record harvest.SnapshotRecord) (loader.Outcome, error)
}

// Observer is notified on every stage transition.
type Observer func(runID string, stage harvest.Stage)

// Dependencies wires the stages of a run.
type Dependencies struct {
	Authenticator Authenticator
	Enumerator    Enumerator
	Prober        Prober
	Loader        Loader
	// Publisher is optional; when set, a notification follows a successful insert.
	Publisher harvest.Publisher
	Clock     harvest.Clock
	IDs       harvest.IDGenerator
	Observer  Observer
}

// Config holds the run policy.
type Config struct {
	Credentials harvest.Credentials
	// MaxLinks caps how many enumerated links are probed. 0 probes all.
	MaxLinks int
	// DegradedEnumeration continues with zero links when enumeration fails.
	DegradedEnumeration bool
}

// Notification is published after a snapshot is stored.
type Notification struct {
	RunID                string    `json:"run_id"`
	RetrievedAt          time.Time `json:"retrieved_at"`
	TotalResourcesProbed int       `json:"total_resources_probed"`
	FailedProbes         int       `json:"failed_probes"`
}

// Runner executes harvest runs. It holds no state between runs.
type Runner struct {
	deps   Dependencies
	cfg    Config
	logger *zap.Logger
}

// New builds a Runner.
func New(deps Dependencies, cfg Config, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{deps: deps, cfg: cfg, logger: logger}
}

type run struct {
	*Runner
	report     Report
	stage      harvest.Stage
	stageStart time.Time
	logger     *zap.Logger
}

// Run executes one harvest and always returns a report with a final status.
func (r *Runner) Run(ctx context.Context) Report {
	rn := &run{
		Runner: r,
		stage:  harvest.StageIdle,
		report: Report{StartedAt: r.deps.Clock.Now()},
		logger: r.logger,
	}
	rn.stageStart = rn.report.StartedAt

	runID, err := r.deps.IDs.NewID()
	if err != nil {
		return rn.fail(fmt.Errorf("generate run id: %w", err))
	}
	rn.report.RunID = runID
	rn.logger = r.logger.With(zap.String("run_id", runID))

	rn.enter(harvest.StageAuthenticating)
	token, err := r.deps.Authenticator.Authenticate(ctx, r.cfg.Credentials)
	if err != nil {
		return rn.fail(err)
	}

	rn.enter(harvest.StageEnumerating)
	all, err := r.deps.Enumerator.Enumerate(ctx, token)
	if err != nil {
		if !r.cfg.DegradedEnumeration || ctx.Err() != nil {
			return rn.fail(err)
		}
		rn.logger.Warn("link enumeration failed; continuing with zero links", zap.Error(err))
		rn.report.Degraded = true
		all = nil
	}
	rn.report.LinksEnumerated = len(all)
	selected := links.Limit(all, r.cfg.MaxLinks)
	if len(selected) < len(all) {
		rn.logger.Info("limiting links to probe",
			zap.Int("enumerated", len(all)),
			zap.Int("max_links", r.cfg.MaxLinks),
		)
	}

	rn.enter(harvest.StageProbing)
	if len(selected) > 0 && !token.Valid(r.deps.Clock.Now()) {
		return rn.fail(harvest.ErrTokenInvalid)
	}
	results := r.deps.Prober.Probe(ctx, token, selected)
	rn.report.LinksProbed = len(selected)
	rn.report.Summary = aggregate.Summarize(results)
	if err := ctx.Err(); err != nil {
		return rn.fail(fmt.Errorf("run canceled during probing: %w", err))
	}
	if len(selected) > 0 && rn.report.Summary.Succeeded == 0 {
		return rn.fail(fmt.Errorf("%w (%d links)", harvest.ErrAllProbesFailed, len(selected)))
	}

	rn.enter(harvest.StageAggregating)
	record := aggregate.Aggregate(runID, results, r.deps.Clock.Now())
	rn.report.TotalResourcesProbed = record.TotalResourcesProbed

	rn.enter(harvest.StageLoading)
	if record.Empty() {
		rn.logger.Info("no resources to load; skipping write")
		rn.report.Outcome = loader.OutcomeNothingToLoad
		return rn.complete(loader.OutcomeNothingToLoad)
	}
	outcome, err := r.deps.Loader.Load(ctx, record)
	if err != nil {
		return rn.fail(err)
	}
	rn.report.Outcome = outcome

	if outcome == loader.OutcomeInserted {
		rn.notify(ctx, record)
	}
	return rn.complete(outcome)
}

func (rn *run) enter(stage harvest.Stage) {
	now := rn.deps.Clock.Now()
	if rn.stage != harvest.StageIdle {
		metrics.ObserveStage(string(rn.stage), now.Sub(rn.stageStart))
	}
	rn.stage = stage
	rn.stageStart = now
	rn.logger.Debug("stage entered", zap.String("stage", string(stage)))
	if rn.deps.Observer != nil {
		rn.deps.Observer(rn.report.RunID, stage)
	}
}

func (rn *run) fail(err error) Report {
	failedAt := rn.stage
	rn.report.Err = &harvest.StageError{Stage: failedAt, Err: err}
	rn.report.Status = harvest.RunFailed
	rn.enter(harvest.StageFailed)
	rn.finish()
	rn.logger.Error("run failed", zap.String("stage", string(failedAt)), zap.Error(err))
	return rn.report
}

func (rn *run) complete(outcome loader.Outcome) Report {
	rn.report.Status = harvest.RunCompleted
	if outcome == loader.OutcomeNothingToLoad {
		rn.report.Status = harvest.RunNothingToLoad
	}
	rn.enter(harvest.StageCompleted)
	rn.finish()
	return rn.report
}

func (rn *run) finish() {
	rn.report.Stage = rn.stage
	rn.report.FinishedAt = rn.deps.Clock.Now()
	metrics.ObserveRun(string(rn.report.Status))
	if rn.report.Status != harvest.RunFailed {
		metrics.SetSnapshotResources(rn.report.TotalResourcesProbed)
	}
}

// notify publishes the run notification. Failures are logged only.
func (rn *run) notify(ctx context.Context, record harvest.SnapshotRecord) {
	if rn.deps.Publisher == nil {
		return
	}
	id, err := rn.deps.Publisher.Publish(ctx, Notification{
		RunID:                record.RunID,
		RetrievedAt:          record.RetrievedAt,
		TotalResourcesProbed: record.TotalResourcesProbed,
		FailedProbes:         rn.report.Summary.Failed,
	})
	if err != nil {
		rn.logger.Warn("run notification failed", zap.Error(err))
		return
	}
	rn.report.NotificationID = id
}

// FailedStage returns the stage that raised the fatal error, if any.
func FailedStage(err error) (harvest.Stage, bool) {
	var stageErr *harvest.StageError
	if errors.As(err, &stageErr) {
		return stageErr.Stage, true
	}
	return "", false
}
