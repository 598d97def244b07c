// Package storage opens the snapshot store backend selected by configuration.
package storage

import (
	"context"
	"fmt"
	"strings"

	gcsclient "cloud.google.com/go/storage"

	"github.com/JakeFAU/czds-harvester/internal/harvest"
	"github.com/JakeFAU/czds-harvester/internal/storage/gcs"
	"github.com/JakeFAU/czds-harvester/internal/storage/memory"
	"github.com/JakeFAU/czds-harvester/internal/storage/postgres"
)

// Supported backends.
const (
	BackendPostgres = "postgres"
	BackendGCS      = "gcs"
	BackendMemory   = "memory"
)

// Options selects and configures a backend.
type Options struct {
	Backend      string
	Connection   string
	Collection   string
	MaxConns     int32
	EnsureSchema bool
	GCSBucket    string
	GCSPrefix    string
}

// Open returns the configured store and a function releasing its resources.
func Open(ctx context.Context, opts Options) (harvest.SnapshotStore, func(), error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", BackendPostgres:
		store, err := postgres.NewSnapshotStore(ctx, postgres.SnapshotStoreConfig{
			DSN:      opts.Connection,
			Table:    opts.Collection,
			MaxConns: opts.MaxConns,
		})
		if err != nil {
			return nil, nil, err
		}
		if opts.EnsureSchema {
			if err := store.EnsureSchema(ctx); err != nil {
				store.Close()
				return nil, nil, err
			}
		}
		return store, store.Close, nil
	case BackendGCS:
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("create gcs client: %w", err)
		}
		store, err := gcs.New(client, gcs.Config{Bucket: opts.GCSBucket, Prefix: opts.GCSPrefix})
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return store, func() { _ = client.Close() }, nil
	case BackendMemory:
		return memory.NewSnapshotStore(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}
