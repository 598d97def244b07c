package loader

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/czds-harvester/internal/harvest"
	"github.com/JakeFAU/czds-harvester/internal/storage/memory"
)

type fakeStore struct {
	calls   int
	err     error
	created bool
	ctxErr  error
}

func (s *fakeStore) InsertSnapshot(ctx context.Context, _ harvest.SnapshotRecord) (bool, error) {
	s.calls++
	if _, ok := ctx.Deadline(); !ok {
		s.ctxErr = errors.New("expected a deadline on the write context")
	}
	return s.created, s.err
}

func record(n int) harvest.SnapshotRecord {
	now := time.Unix(1760400000, 0).UTC()
	rec := harvest.SnapshotRecord{RunID: "run-1", RetrievedAt: now}
	for i := 0; i < n; i++ {
		rec.Resources = append(rec.Resources, harvest.ResourceMetadata{URI: "https://czds.test/com.zone", ProbedAt: now})
	}
	rec.TotalResourcesProbed = n
	return rec
}

func TestLoadSkipsEmptyRecord(t *testing.T) {
	t.Parallel()

	store := &fakeStore{created: true}
	outcome, err := New(store, time.Second, zap.NewNop()).Load(context.Background(), record(0))
	require.NoError(t, err)
	require.Equal(t, OutcomeNothingToLoad, outcome)
	require.Zero(t, store.calls)
}

func TestLoadInsertsOnce(t *testing.T) {
	t.Parallel()

	store := &fakeStore{created: true}
	outcome, err := New(store, time.Second, nil).Load(context.Background(), record(2))
	require.NoError(t, err)
	require.Equal(t, OutcomeInserted, outcome)
	require.Equal(t, 1, store.calls)
	require.NoError(t, store.ctxErr)
}

func TestLoadAlreadyPresent(t *testing.T) {
	t.Parallel()

	store := memory.NewSnapshotStore()
	l := New(store, time.Second, nil)

	outcome, err := l.Load(context.Background(), record(1))
	require.NoError(t, err)
	require.Equal(t, OutcomeInserted, outcome)

	outcome, err = l.Load(context.Background(), record(1))
	require.NoError(t, err)
	require.Equal(t, OutcomeAlreadyPresent, outcome)
	require.Len(t, store.RunIDs(), 1)
}

func TestLoadWrapsStoreError(t *testing.T) {
	t.Parallel()

	store := &fakeStore{err: errors.New("connection refused")}
	_, err := New(store, time.Second, nil).Load(context.Background(), record(1))

	var loadErr *harvest.LoadError
	require.True(t, errors.As(err, &loadErr))
	require.ErrorContains(t, err, "connection refused")
	require.Equal(t, 1, store.calls, "loader must not retry")
}

func TestLoadRejectsInconsistentRecord(t *testing.T) {
	t.Parallel()

	rec := record(2)
	rec.TotalResourcesProbed = 3
	store := &fakeStore{created: true}
	_, err := New(store, time.Second, nil).Load(context.Background(), rec)
	require.ErrorIs(t, err, harvest.ErrInvalidRecord)
	require.Zero(t, store.calls)
}

func TestLoadCanceledContextWritesNothing(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := &fakeStore{created: true}
	_, err := New(store, time.Second, nil).Load(ctx, record(1))
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, store.calls)
}
