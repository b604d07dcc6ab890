// Package config loads and validates the beacon service configuration.
//
// Configuration is read from a YAML file; beacond flags override individual
// fields after loading. Defaults live in the top-level config package.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	defaults "github.com/beaconlabs/beacon/config"
)

// Config represents the complete service configuration.
type Config struct {
	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server"`

	// Log configures logging output.
	Log LogConfig `yaml:"log"`

	// Storage selects and configures the storage backend.
	Storage StorageConfig `yaml:"storage"`

	// Location configures the location resolution pipeline.
	Location LocationConfig `yaml:"location"`

	// Export configures bulk export output.
	Export ExportConfig `yaml:"export"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Listen is the address the HTTP server binds to.
	Listen string `yaml:"listen"`

	// MaxBodySize limits accepted request body sizes in bytes.
	MaxBodySize int64 `yaml:"max_body_size"`

	// ReadTimeout bounds request reads.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout bounds response writes.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// ShutdownTimeout is the graceful shutdown drain window.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig configures logging output.
type LogConfig struct {
	// Level is one of: debug, info, warn, error.
	Level string `yaml:"level"`

	// JSON emits JSON log records instead of text.
	JSON bool `yaml:"json"`
}

// StorageConfig selects and configures the storage backend.
type StorageConfig struct {
	// Backend is one of: file, duckdb, mongodb.
	Backend string `yaml:"backend"`

	// File configures the flat-file document store.
	File FileConfig `yaml:"file"`

	// DuckDB configures the embedded relational store.
	DuckDB DuckDBConfig `yaml:"duckdb"`

	// MongoDB configures the external document store.
	MongoDB MongoConfig `yaml:"mongodb"`

	// QueryTimeout is the default timeout for storage operations.
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

// FileConfig configures the flat-file document store.
type FileConfig struct {
	// Dir is the directory holding the JSON collection files.
	Dir string `yaml:"dir"`
}

// DuckDBConfig configures the embedded relational store.
type DuckDBConfig struct {
	// Path is the database file path. Empty means in-memory.
	Path string `yaml:"path"`
}

// MongoConfig configures the external document store.
type MongoConfig struct {
	// URI is the connection string. BEACON_MONGO_URI overrides it.
	URI string `yaml:"uri"`

	// Database is the database name.
	Database string `yaml:"database"`

	// ConnectTimeout bounds connection establishment.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// LocationConfig configures the location resolution pipeline.
type LocationConfig struct {
	// DeviceTimeout is the bounded wait for a device-reported position.
	DeviceTimeout time.Duration `yaml:"device_timeout"`

	// LookupURL is the network-address geolocation endpoint.
	LookupURL string `yaml:"lookup_url"`

	// LookupTimeout bounds the geolocation HTTP round trip.
	LookupTimeout time.Duration `yaml:"lookup_timeout"`
}

// ExportConfig configures bulk export output.
type ExportConfig struct {
	// Compression is the Parquet compression codec:
	// none, snappy, zstd, lz4, gzip.
	Compression string `yaml:"compression"`

	// Limit caps the per-entity row count in exports.
	Limit int `yaml:"limit"`
}

// DefaultConfig returns a Config populated with documented defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:          defaults.DefaultListenAddress,
			MaxBodySize:     defaults.DefaultMaxBodySize,
			ReadTimeout:     defaults.DefaultReadTimeout,
			WriteTimeout:    defaults.DefaultWriteTimeout,
			ShutdownTimeout: defaults.DefaultShutdownTimeout,
		},
		Log: LogConfig{
			Level: "info",
		},
		Storage: StorageConfig{
			Backend: defaults.DefaultBackend,
			File: FileConfig{
				Dir: defaults.DefaultDataDir,
			},
			DuckDB: DuckDBConfig{
				Path: defaults.DefaultDatabasePath,
			},
			MongoDB: MongoConfig{
				URI:            defaults.DefaultMongoURI,
				Database:       defaults.DefaultMongoDatabase,
				ConnectTimeout: defaults.DefaultConnectTimeout,
			},
			QueryTimeout: defaults.DefaultQueryTimeout,
		},
		Location: LocationConfig{
			DeviceTimeout: defaults.DefaultDeviceTimeout,
			LookupURL:     defaults.DefaultLookupURL,
			LookupTimeout: defaults.DefaultLookupTimeout,
		},
		Export: ExportConfig{
			Compression: defaults.DefaultParquetCompression,
			Limit:       defaults.DefaultExportLimit,
		},
	}
}

// Load reads a YAML config file and fills unset fields with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if uri := os.Getenv("BEACON_MONGO_URI"); uri != "" {
		cfg.Storage.MongoDB.URI = uri
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "file", "duckdb", "mongodb":
	default:
		return fmt.Errorf("unknown storage backend %q (want file, duckdb, or mongodb)", c.Storage.Backend)
	}

	if c.Storage.Backend == "file" && c.Storage.File.Dir == "" {
		return fmt.Errorf("storage.file.dir is required for the file backend")
	}
	if c.Storage.Backend == "mongodb" {
		if c.Storage.MongoDB.URI == "" {
			return fmt.Errorf("storage.mongodb.uri is required for the mongodb backend")
		}
		if c.Storage.MongoDB.Database == "" {
			return fmt.Errorf("storage.mongodb.database is required for the mongodb backend")
		}
	}

	if c.Location.LookupTimeout <= 0 {
		return fmt.Errorf("location.lookup_timeout must be positive")
	}
	if c.Location.DeviceTimeout <= 0 {
		return fmt.Errorf("location.device_timeout must be positive")
	}

	switch c.Export.Compression {
	case "", "none", "snappy", "zstd", "lz4", "gzip":
	default:
		return fmt.Errorf("unknown export compression %q", c.Export.Compression)
	}

	return nil
}
