package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Use modernc.org/sqlite for pure Go SQLite (CGO-free)
)

// SQLiteStore implements Store interface with SQLite backend
type SQLiteStore struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(config *SQLiteConfig) (*SQLiteStore, error) {
	if config == nil {
		return nil, ErrMissingSQLiteConfig
	}

	// Ensure directory exists
	dir := filepath.Dir(config.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", config.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &SQLiteStore{
		db:   db,
		path: config.Path,
	}

	if err := store.initSchema(config); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the database schema
func (s *SQLiteStore) initSchema(config *SQLiteConfig) error {
	schema := `
	CREATE TABLE IF NOT EXISTS deployments (
		name TEXT PRIMARY KEY,
		mode TEXT NOT NULL,
		service_type TEXT NOT NULL,
		total_count INTEGER DEFAULT 0,
		max_per_node_count INTEGER DEFAULT 0,
		cache_name TEXT,
		affinity_key TEXT,
		origin_node_id TEXT NOT NULL,
		topology TEXT,
		status TEXT NOT NULL,
		deployed_at INTEGER NOT NULL,
		cancelled_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_deployments_status ON deployments(status);
	CREATE INDEX IF NOT EXISTS idx_deployments_deployed ON deployments(deployed_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = memory",
	}
	if config.EnableWAL {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for key, value := range config.Pragmas {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA %s = %s", key, value))
	}

	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	return nil
}

// SaveDeployment inserts or replaces a deployment record
func (s *SQLiteStore) SaveDeployment(ctx context.Context, rec *DeploymentRecord) error {
	if rec == nil || rec.Name == "" {
		return ErrInvalidRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	deployedAt := rec.DeployedAt
	if deployedAt.IsZero() {
		deployedAt = time.Now()
	}
	status := rec.Status
	if status == "" {
		status = StatusDeployed
	}

	topologyJSON, err := json.Marshal(rec.Topology)
	if err != nil {
		return fmt.Errorf("failed to encode topology: %w", err)
	}

	var cancelledAt sql.NullInt64
	if rec.CancelledAt != nil {
		cancelledAt = sql.NullInt64{Int64: rec.CancelledAt.UnixMilli(), Valid: true}
	}

	query := `
	INSERT OR REPLACE INTO deployments (name, mode, service_type, total_count, max_per_node_count,
		cache_name, affinity_key, origin_node_id, topology, status, deployed_at, cancelled_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		rec.Name,
		rec.Mode,
		rec.ServiceType,
		rec.TotalCount,
		rec.MaxPerNodeCount,
		rec.CacheName,
		rec.AffinityKey,
		rec.OriginNodeID,
		string(topologyJSON),
		status,
		deployedAt.UnixMilli(),
		cancelledAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save deployment: %w", err)
	}
	return nil
}

// MarkCancelled marks the named deployment as cancelled
func (s *SQLiteStore) MarkCancelled(ctx context.Context, name string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE deployments SET status = ?, cancelled_at = ? WHERE name = ?`,
		StatusCancelled, at.UnixMilli(), name)
	if err != nil {
		return fmt.Errorf("failed to cancel deployment: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to cancel deployment: %w", err)
	}
	if n == 0 {
		return ErrDeploymentNotFound
	}
	return nil
}

const selectDeployment = `
	SELECT name, mode, service_type, total_count, max_per_node_count, cache_name, affinity_key,
		origin_node_id, topology, status, deployed_at, cancelled_at
	FROM deployments
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeployment(row rowScanner) (*DeploymentRecord, error) {
	var topologyJSON sql.NullString
	var cacheName, affinityKey sql.NullString
	var deployedAt int64
	var cancelledAt sql.NullInt64
	rec := &DeploymentRecord{}

	err := row.Scan(
		&rec.Name,
		&rec.Mode,
		&rec.ServiceType,
		&rec.TotalCount,
		&rec.MaxPerNodeCount,
		&cacheName,
		&affinityKey,
		&rec.OriginNodeID,
		&topologyJSON,
		&rec.Status,
		&deployedAt,
		&cancelledAt,
	)
	if err != nil {
		return nil, err
	}

	rec.CacheName = cacheName.String
	rec.AffinityKey = affinityKey.String
	if topologyJSON.Valid && topologyJSON.String != "" && topologyJSON.String != "null" {
		if err := json.Unmarshal([]byte(topologyJSON.String), &rec.Topology); err != nil {
			return nil, fmt.Errorf("failed to decode topology: %w", err)
		}
	}
	rec.DeployedAt = time.UnixMilli(deployedAt).UTC()
	if cancelledAt.Valid {
		at := time.UnixMilli(cancelledAt.Int64).UTC()
		rec.CancelledAt = &at
	}
	return rec, nil
}

// GetDeployment retrieves a deployment record by name
func (s *SQLiteStore) GetDeployment(ctx context.Context, name string) (*DeploymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, err := scanDeployment(s.db.QueryRowContext(ctx, selectDeployment+` WHERE name = ?`, name))
	if err == sql.ErrNoRows {
		return nil, ErrDeploymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deployment: %w", err)
	}
	return rec, nil
}

// ListDeployments lists deployment records, newest first
func (s *SQLiteStore) ListDeployments(ctx context.Context, limit, offset int, activeOnly bool) ([]*DeploymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	query := selectDeployment
	args := []any{}
	if activeOnly {
		query += ` WHERE status = ?`
		args = append(args, StatusDeployed)
	}
	query += ` ORDER BY deployed_at DESC, name ASC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	defer rows.Close()

	recs := []*DeploymentRecord{}
	for rows.Next() {
		rec, err := scanDeployment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deployment: %w", err)
		}
		recs = append(recs, rec)
	}

	return recs, rows.Err()
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
