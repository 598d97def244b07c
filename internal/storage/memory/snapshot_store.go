// Package memory stores snapshot records in-memory for development.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/czds-harvester/internal/harvest"
)

// SnapshotStore keeps serialized snapshots keyed by run id.
type SnapshotStore struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

// NewSnapshotStore creates a new in-memory snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{docs: make(map[string][]byte)}
}

// InsertSnapshot stores a serialized copy of record unless its run id exists.
func (s *SnapshotStore) InsertSnapshot(_ context.Context, record harvest.SnapshotRecord) (bool, error) {
	doc, err := json.Marshal(record)
	if err != nil {
		return false, fmt.Errorf("marshal snapshot: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.docs[record.RunID]; exists {
		return false, nil
	}
	s.docs[record.RunID] = doc
	return true, nil
}

// GetSnapshot decodes the stored document for runID.
func (s *SnapshotStore) GetSnapshot(_ context.Context, runID string) (harvest.SnapshotRecord, bool, error) {
	s.mu.RLock()
	doc, ok := s.docs[runID]
	s.mu.RUnlock()
	if !ok {
		return harvest.SnapshotRecord{}, false, nil
	}
	var record harvest.SnapshotRecord
	if err := json.Unmarshal(doc, &record); err != nil {
		return harvest.SnapshotRecord{}, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return record, true, nil
}

// RunIDs lists stored run ids in sorted order.
func (s *SnapshotStore) RunIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
