// Package config provides configuration management for a Corral node.
// It handles loading, saving, and validating configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/shepherd-project/corral/internal/storage"
)

const (
	// DefaultConfigDir is the default configuration directory
	DefaultConfigDir = "config"
	// DefaultConfigFile is the default configuration file name
	DefaultConfigFile = "corral.yaml"
	// AutoNodeID asks the node to generate its ID at startup
	AutoNodeID = "auto"
)

// Config represents the complete node configuration
type Config struct {
	Grid     GridConfig            `mapstructure:"grid" yaml:"grid" json:"grid"`
	Node     NodeConfig            `mapstructure:"node" yaml:"node" json:"node"`
	Server   ServerConfig          `mapstructure:"server" yaml:"server" json:"server"`
	Gateway  GatewayConfig         `mapstructure:"gateway" yaml:"gateway" json:"gateway"`
	Registry RegistryConfig        `mapstructure:"registry" yaml:"registry" json:"registry"`
	Log      LogConfig             `mapstructure:"log" yaml:"log" json:"log"`
	Storage  storage.StorageConfig `mapstructure:"storage" yaml:"storage" json:"storage"`
}

// GridConfig names the grid and lists the peers known at startup
type GridConfig struct {
	Name  string   `mapstructure:"name" yaml:"name" json:"name" validate:"required"`     // 网格名称，各节点上同名网格互相解析
	Peers []string `mapstructure:"peers" yaml:"peers" json:"peers" validate:"dive,uuid"` // 静态对等节点ID
}

// NodeConfig identifies the local node
type NodeConfig struct {
	ID         string            `mapstructure:"id" yaml:"id" json:"id" validate:"required,eq=auto|uuid"` // 节点ID，auto表示自动生成
	Name       string            `mapstructure:"name" yaml:"name" json:"name"`
	Attributes map[string]string `mapstructure:"attributes" yaml:"attributes" json:"attributes,omitempty"`
}

// ServerConfig contains admin HTTP server configuration
type ServerConfig struct {
	Enabled        bool     `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Host           string   `mapstructure:"host" yaml:"host" json:"host"`
	Port           int      `mapstructure:"port" yaml:"port" json:"port" validate:"min=0,max=65535"`
	ReadTimeout    int      `mapstructure:"read_timeout" yaml:"read_timeout" json:"readTimeout" validate:"min=0"`    // seconds
	WriteTimeout   int      `mapstructure:"write_timeout" yaml:"write_timeout" json:"writeTimeout" validate:"min=0"` // seconds
	CORSEnabled    bool     `mapstructure:"cors_enabled" yaml:"cors_enabled" json:"corsEnabled"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins" json:"allowedOrigins"`
}

// GatewayConfig controls the lifecycle gateway and shutdown
type GatewayConfig struct {
	ShutdownTimeout int `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdownTimeout" validate:"min=1"` // seconds per shutdown hook
}

// RegistryConfig controls the reference deployment registry
type RegistryConfig struct {
	EventBuffer int `mapstructure:"event_buffer" yaml:"event_buffer" json:"eventBuffer" validate:"min=1"` // 事件订阅缓冲区大小
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level" json:"level" validate:"omitempty,oneof=debug info warn error DEBUG INFO WARN ERROR"`
	Format     string `mapstructure:"format" yaml:"format" json:"format" validate:"omitempty,oneof=json text"`
	Output     string `mapstructure:"output" yaml:"output" json:"output" validate:"omitempty,oneof=stdout file both"`
	Directory  string `mapstructure:"directory" yaml:"directory" json:"directory"`      // log directory
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size" json:"maxSize"`          // MB
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups" json:"maxBackups"` // number of backup files
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age" json:"maxAge"`             // days
	Compress   bool   `mapstructure:"compress" yaml:"compress" json:"compress"`         // compress old logs
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	cwd, _ := os.Getwd()

	return &Config{
		Grid: GridConfig{
			Name:  "default",
			Peers: []string{},
		},
		Node: NodeConfig{
			ID: AutoNodeID,
		},
		Server: ServerConfig{
			Enabled:        true,
			Host:           "0.0.0.0",
			Port:           9280,
			ReadTimeout:    30,
			WriteTimeout:   30,
			CORSEnabled:    true,
			AllowedOrigins: []string{"*"},
		},
		Gateway: GatewayConfig{
			ShutdownTimeout: 10,
		},
		Registry: RegistryConfig{
			EventBuffer: 64,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			Directory:  filepath.Join(cwd, "logs"),
			MaxSize:    100, // 100MB
			MaxBackups: 3,
			MaxAge:     7, // 7 days
			Compress:   true,
		},
		Storage: storage.StorageConfig{
			Type: storage.StorageTypeMemory,
			SQLite: &storage.SQLiteConfig{
				Path:      filepath.Join(cwd, "data", "corral.db"),
				EnableWAL: true,
			},
		},
	}
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := getValidator().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.Server.Enabled && c.Server.Port == 0 {
		return fmt.Errorf("invalid server port: admin server enabled without a port")
	}

	if c.Storage.Type == storage.StorageTypeSQLite && (c.Storage.SQLite == nil || c.Storage.SQLite.Path == "") {
		return fmt.Errorf("sqlite storage requires a database path")
	}

	if c.Log.Output == "file" || c.Log.Output == "both" {
		if c.Log.Directory == "" {
			return fmt.Errorf("file logging requires a log directory")
		}
	}

	return nil
}

// Manager handles configuration loading and saving
type Manager struct {
	configPath string
	mu         sync.Mutex
}

// NewManager creates a new configuration manager using the given path.
// An empty path selects config/corral.yaml.
func NewManager(configPath string) *Manager {
	if configPath == "" {
		configPath = filepath.Join(DefaultConfigDir, DefaultConfigFile)
	}
	return &Manager{configPath: configPath}
}

// GetConfigPath returns the configuration file path
func (m *Manager) GetConfigPath() string {
	return m.configPath
}
