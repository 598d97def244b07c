// Package loader commits a snapshot record to the document store.
package loader

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/czds-harvester/internal/harvest"
)

// Outcome describes what the loader did with a record.
type Outcome string

// Load outcomes.
const (
	OutcomeNothingToLoad  Outcome = "nothing_to_load"
	OutcomeInserted       Outcome = "inserted"
	OutcomeAlreadyPresent Outcome = "already_present"
)

// Loader performs the run's single write. It never retries.
type Loader struct {
	store   harvest.SnapshotStore
	timeout time.Duration
	logger  *zap.Logger
}

// New builds a Loader. timeout <= 0 leaves the write bounded only by ctx.
func New(store harvest.SnapshotStore, timeout time.Duration, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{store: store, timeout: timeout, logger: logger}
}

// Load writes record unless it is empty. Failures are *harvest.LoadError.
func (l *Loader) Load(ctx context.Context, record harvest.SnapshotRecord) (Outcome, error) {
	if record.Empty() {
		l.logger.Info("no resources to load; skipping write", zap.String("run_id", record.RunID))
		return OutcomeNothingToLoad, nil
	}
	if err := record.Validate(); err != nil {
		return "", &harvest.LoadError{Cause: err}
	}
	if err := ctx.Err(); err != nil {
		return "", &harvest.LoadError{Cause: err}
	}

	writeCtx := ctx
	if l.timeout > 0 {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	created, err := l.store.InsertSnapshot(writeCtx, record)
	if err != nil {
		return "", &harvest.LoadError{Cause: err}
	}
	if !created {
		l.logger.Warn("snapshot already stored for run", zap.String("run_id", record.RunID))
		return OutcomeAlreadyPresent, nil
	}
	l.logger.Info("snapshot stored",
		zap.String("run_id", record.RunID),
		zap.Int("total_resources_probed", record.TotalResourcesProbed),
	)
	return OutcomeInserted, nil
}
