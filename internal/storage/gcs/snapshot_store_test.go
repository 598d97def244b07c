package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/czds-harvester/internal/harvest"
)

func newTestStore(t *testing.T, handler http.Handler) *SnapshotStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := New(client, Config{Bucket: "test-bucket", Prefix: "/snapshots/"})
	require.NoError(t, err)
	return store
}

func record() harvest.SnapshotRecord {
	now := time.Unix(1760400000, 0).UTC()
	return harvest.SnapshotRecord{
		RunID:                "run-1",
		RetrievedAt:          now,
		TotalResourcesProbed: 1,
		Resources:            []harvest.ResourceMetadata{{URI: "https://czds.test/com.zone", ProbedAt: now}},
	}
}

func TestInsertSnapshotUploadsWithPrecondition(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/test-bucket/o")
		assert.Equal(t, "snapshots/run-1.json", r.URL.Query().Get("name"))
		assert.Equal(t, "0", r.URL.Query().Get("ifGenerationMatch"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), `"total_resources_probed":1`)
		assert.Contains(t, string(body), `"uri":"https://czds.test/com.zone"`)

		fmt.Fprintln(w, `{"name":"snapshots/run-1.json","bucket":"test-bucket"}`)
	})

	store := newTestStore(t, handler)
	created, err := store.InsertSnapshot(context.Background(), record())
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, "gs://test-bucket/snapshots/run-1.json", store.URI("run-1"))
}

func TestInsertSnapshotExistingObject(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPreconditionFailed)
		fmt.Fprintln(w, `{"error":{"code":412,"message":"At least one of the pre-conditions you specified did not hold."}}`)
	})

	store := newTestStore(t, handler)
	created, err := store.InsertSnapshot(context.Background(), record())
	require.NoError(t, err)
	require.False(t, created)
}

func TestInsertSnapshotServerError(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprintln(w, `{"error":{"code":403,"message":"forbidden"}}`)
	})

	store := newTestStore(t, handler)
	_, err := store.InsertSnapshot(context.Background(), record())
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "close writer"), "got %v", err)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)
}
