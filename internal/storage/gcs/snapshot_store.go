// Package gcs stores snapshot documents as objects in Google Cloud Storage.
package gcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/JakeFAU/czds-harvester/internal/harvest"
)

// Config captures the parameters required to write snapshot objects.
type Config struct {
	Bucket string
	Prefix string
}

// SnapshotStore writes one JSON object per run.
type SnapshotStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed snapshot store.
func New(client *storage.Client, cfg Config) (*SnapshotStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &SnapshotStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// ObjectName returns the object path used for runID.
func (s *SnapshotStore) ObjectName(runID string) string {
	name := runID + ".json"
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// InsertSnapshot uploads the record only if no object exists for its run id.
func (s *SnapshotStore) InsertSnapshot(ctx context.Context, record harvest.SnapshotRecord) (bool, error) {
	if strings.TrimSpace(record.RunID) == "" {
		return false, fmt.Errorf("run id is required")
	}
	doc, err := json.Marshal(record)
	if err != nil {
		return false, fmt.Errorf("marshal snapshot: %w", err)
	}

	obj := s.client.Bucket(s.bucket).Object(s.ObjectName(record.RunID)).If(storage.Conditions{DoesNotExist: true})
	writer := obj.NewWriter(ctx)
	writer.ContentType = "application/json"
	if _, err := writer.Write(doc); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return false, fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)
		}
		return false, fmt.Errorf("write object: %w", err)
	}
	if err := writer.Close(); err != nil {
		if preconditionFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("close writer: %w", err)
	}
	return true, nil
}

// URI returns the gs:// location of the object for runID.
func (s *SnapshotStore) URI(runID string) string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, s.ObjectName(runID))
}

func preconditionFailed(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed
}
