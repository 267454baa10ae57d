package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/nuance-network/nuance-validator/internal/models"
)

const weightsPrefix = "weights/"

// WeightArchive keeps a JSON snapshot of every submitted weight vector
type WeightArchive struct {
	blobs BlobStore
}

// NewWeightArchive creates an archive on top of any blob store
func NewWeightArchive(blobs BlobStore) *WeightArchive {
	return &WeightArchive{blobs: blobs}
}

// Save writes the report under a name that sorts chronologically
func (a *WeightArchive) Save(ctx context.Context, report *models.WeightReport) (string, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal weight report: %w", err)
	}

	name := weightsPrefix + report.GeneratedAt.UTC().Format("2006/01/02/150405.000") + ".json"
	if err := a.blobs.Store(ctx, name, data); err != nil {
		return "", err
	}
	return name, nil
}

// Latest returns the most recently archived report, or ErrNotFound
func (a *WeightArchive) Latest(ctx context.Context) (*models.WeightReport, error) {
	names, err := a.blobs.List(ctx, weightsPrefix)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, ErrNotFound
	}
	sort.Strings(names)

	data, err := a.blobs.Retrieve(ctx, names[len(names)-1])
	if err != nil {
		return nil, err
	}

	var report models.WeightReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to parse archived report: %w", err)
	}
	return &report, nil
}

// MemoryBlobStore is a process-local BlobStore
type MemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

var _ BlobStore = (*MemoryBlobStore)(nil)

func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string][]byte)}
}

func (m *MemoryBlobStore) Store(_ context.Context, name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[name] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryBlobStore) Retrieve(_ context.Context, name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[name]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryBlobStore) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var names []string
	for name := range m.blobs {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}
