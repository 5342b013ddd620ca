package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shepherd-project/corral/internal/storage"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, "default", config.Grid.Name)
	assert.Equal(t, AutoNodeID, config.Node.ID)
	assert.Equal(t, 9280, config.Server.Port)
	assert.Equal(t, 10, config.Gateway.ShutdownTimeout)
	assert.Equal(t, storage.StorageTypeMemory, config.Storage.Type)
	assert.NoError(t, config.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:   "Valid config",
			mutate: func(c *Config) {},
		},
		{
			name:    "Missing grid name",
			mutate:  func(c *Config) { c.Grid.Name = "" },
			wantErr: true,
		},
		{
			name:    "Invalid peer id",
			mutate:  func(c *Config) { c.Grid.Peers = []string{"not-a-uuid"} },
			wantErr: true,
		},
		{
			name:   "Valid peer id",
			mutate: func(c *Config) { c.Grid.Peers = []string{"1d7c1b7e-3b0e-4b9f-8f7a-2b1d3c4e5f60"} },
		},
		{
			name:   "Explicit node id",
			mutate: func(c *Config) { c.Node.ID = "1d7c1b7e-3b0e-4b9f-8f7a-2b1d3c4e5f60" },
		},
		{
			name:    "Malformed node id",
			mutate:  func(c *Config) { c.Node.ID = "node-1" },
			wantErr: true,
		},
		{
			name:    "Port out of range",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "Enabled server without port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: true,
		},
		{
			name:    "Zero shutdown timeout",
			mutate:  func(c *Config) { c.Gateway.ShutdownTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "Unknown log level",
			mutate:  func(c *Config) { c.Log.Level = "verbose" },
			wantErr: true,
		},
		{
			name: "SQLite without path",
			mutate: func(c *Config) {
				c.Storage.Type = storage.StorageTypeSQLite
				c.Storage.SQLite = nil
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestManagerLoadSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config", "corral.yaml")
	mgr := NewManager(path)
	assert.Equal(t, path, mgr.GetConfigPath())

	// First load writes the default file
	cfg, err := mgr.Load()
	require.NoError(t, err)
	assert.Equal(t, "default", cfg.Grid.Name)
	_, err = os.Stat(path)
	require.NoError(t, err)

	cfg.Grid.Name = "staging"
	cfg.Server.Port = 9300
	require.NoError(t, mgr.Save(cfg))

	reloaded, err := NewManager(path).Load()
	require.NoError(t, err)
	assert.Equal(t, "staging", reloaded.Grid.Name)
	assert.Equal(t, 9300, reloaded.Server.Port)
}

func TestManagerLoadRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corral.yaml")
	require.NoError(t, os.WriteFile(path, []byte("grid:\n  name: \"\"\n"), 0644))

	_, err := NewManager(path).Load()
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("grid: [\n"), 0644))
	_, err = NewManager(path).Load()
	assert.Error(t, err)
}

func TestManagerSaveRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corral.yaml")
	cfg := DefaultConfig()
	cfg.Grid.Name = ""

	assert.Error(t, NewManager(path).Save(cfg))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
