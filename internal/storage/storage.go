// Package storage persists the deployment history of a node
package storage

import (
	"context"
	"time"
)

// StorageType represents the type of storage backend
type StorageType string

const (
	StorageTypeMemory StorageType = "memory" // In-memory storage (ephemeral)
	StorageTypeSQLite StorageType = "sqlite" // SQLite file-based storage
)

// StorageConfig represents storage configuration
type StorageConfig struct {
	Type   StorageType   `mapstructure:"type" yaml:"type" json:"type" validate:"oneof=memory sqlite"`
	SQLite *SQLiteConfig `mapstructure:"sqlite" yaml:"sqlite" json:"sqlite,omitempty"`
}

// SQLiteConfig contains SQLite-specific configuration
type SQLiteConfig struct {
	Path      string            `mapstructure:"path" yaml:"path" json:"path"`                     // Database file path
	Pragmas   map[string]string `mapstructure:"pragmas" yaml:"pragmas" json:"pragmas,omitempty"` // SQLite pragmas
	EnableWAL bool              `mapstructure:"enable_wal" yaml:"enable_wal" json:"enableWAL"`   // Enable WAL mode
}

// Deployment status values
const (
	StatusDeployed  = "deployed"
	StatusCancelled = "cancelled"
)

// DeploymentRecord is the persisted form of one named deployment.
// A name has at most one record; redeploying a cancelled name replaces it.
type DeploymentRecord struct {
	Name            string         `json:"name" db:"name"`
	Mode            string         `json:"mode" db:"mode"`
	ServiceType     string         `json:"serviceType" db:"service_type"`
	TotalCount      int            `json:"totalCount" db:"total_count"`
	MaxPerNodeCount int            `json:"maxPerNodeCount" db:"max_per_node_count"`
	CacheName       string         `json:"cacheName,omitempty" db:"cache_name"`
	AffinityKey     string         `json:"affinityKey,omitempty" db:"affinity_key"`
	OriginNodeID    string         `json:"originNodeId" db:"origin_node_id"`
	Topology        map[string]int `json:"topology" db:"topology"` // JSON encoded
	Status          string         `json:"status" db:"status"`
	DeployedAt      time.Time      `json:"deployedAt" db:"deployed_at"`
	CancelledAt     *time.Time     `json:"cancelledAt,omitempty" db:"cancelled_at"`
}

// Store defines the storage interface
type Store interface {
	// SaveDeployment inserts or replaces the record for rec.Name
	SaveDeployment(ctx context.Context, rec *DeploymentRecord) error
	// MarkCancelled flips an active record to cancelled
	MarkCancelled(ctx context.Context, name string, at time.Time) error
	GetDeployment(ctx context.Context, name string) (*DeploymentRecord, error)
	// ListDeployments returns records ordered by deployment time, newest first
	ListDeployments(ctx context.Context, limit, offset int, activeOnly bool) ([]*DeploymentRecord, error)

	Close() error
}

// Manager manages the storage backend
type Manager struct {
	store  Store
	config *StorageConfig
}

// NewManager creates a new storage manager
func NewManager(config *StorageConfig) (*Manager, error) {
	if config == nil {
		return nil, ErrInvalidStorageType
	}

	var store Store
	var err error

	switch config.Type {
	case StorageTypeMemory, "":
		store, err = NewMemoryStore()
	case StorageTypeSQLite:
		if config.SQLite == nil {
			return nil, ErrMissingSQLiteConfig
		}
		store, err = NewSQLiteStore(config.SQLite)
	default:
		return nil, ErrInvalidStorageType
	}

	if err != nil {
		return nil, err
	}

	return &Manager{store: store, config: config}, nil
}

// GetStore returns the underlying store
func (m *Manager) GetStore() Store {
	return m.store
}

// Close closes the storage manager
func (m *Manager) Close() error {
	if m.store != nil {
		return m.store.Close()
	}
	return nil
}

// Errors
var (
	ErrInvalidStorageType  = &StorageError{Code: "INVALID_TYPE", Message: "Invalid storage type"}
	ErrMissingSQLiteConfig = &StorageError{Code: "MISSING_CONFIG", Message: "Missing SQLite configuration"}
	ErrDeploymentNotFound  = &StorageError{Code: "NOT_FOUND", Message: "Deployment not found"}
	ErrInvalidRecord       = &StorageError{Code: "INVALID_RECORD", Message: "Deployment record must have a name"}
)

// StorageError represents a storage error
type StorageError struct {
	Code    string
	Message string
	Err     error
}

func (e *StorageError) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
