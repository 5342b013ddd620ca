package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store interface with in-memory storage
type MemoryStore struct {
	mu          sync.RWMutex
	deployments map[string]*DeploymentRecord
	closed      bool
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() (*MemoryStore, error) {
	return &MemoryStore{
		deployments: make(map[string]*DeploymentRecord),
	}, nil
}

// SaveDeployment inserts or replaces a deployment record
func (s *MemoryStore) SaveDeployment(ctx context.Context, rec *DeploymentRecord) error {
	if rec == nil || rec.Name == "" {
		return ErrInvalidRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := copyRecord(rec)
	if stored.DeployedAt.IsZero() {
		stored.DeployedAt = time.Now()
	}
	if stored.Status == "" {
		stored.Status = StatusDeployed
	}
	s.deployments[rec.Name] = stored
	return nil
}

// MarkCancelled marks the named deployment as cancelled
func (s *MemoryStore) MarkCancelled(ctx context.Context, name string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.deployments[name]
	if !exists {
		return ErrDeploymentNotFound
	}

	rec.Status = StatusCancelled
	rec.CancelledAt = &at
	return nil
}

// GetDeployment retrieves a deployment record by name
func (s *MemoryStore) GetDeployment(ctx context.Context, name string) (*DeploymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.deployments[name]
	if !exists {
		return nil, ErrDeploymentNotFound
	}

	// Return a copy to avoid race conditions
	return copyRecord(rec), nil
}

// ListDeployments lists deployment records, newest first
func (s *MemoryStore) ListDeployments(ctx context.Context, limit, offset int, activeOnly bool) ([]*DeploymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := make([]*DeploymentRecord, 0, len(s.deployments))
	for _, rec := range s.deployments {
		if activeOnly && rec.Status != StatusDeployed {
			continue
		}
		recs = append(recs, copyRecord(rec))
	}

	sort.Slice(recs, func(i, j int) bool {
		if recs[i].DeployedAt.Equal(recs[j].DeployedAt) {
			return recs[i].Name < recs[j].Name
		}
		return recs[i].DeployedAt.After(recs[j].DeployedAt)
	})

	if offset >= len(recs) {
		return []*DeploymentRecord{}, nil
	}
	recs = recs[offset:]
	if limit > 0 && limit < len(recs) {
		recs = recs[:limit]
	}
	return recs, nil
}

// Close closes the store
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func copyRecord(rec *DeploymentRecord) *DeploymentRecord {
	cp := *rec
	if rec.Topology != nil {
		cp.Topology = make(map[string]int, len(rec.Topology))
		for k, v := range rec.Topology {
			cp.Topology[k] = v
		}
	}
	if rec.CancelledAt != nil {
		at := *rec.CancelledAt
		cp.CancelledAt = &at
	}
	return &cp
}
