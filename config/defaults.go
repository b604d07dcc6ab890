// Package config provides configuration defaults for the beacon service.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml or beacond flags.
package config

import "time"

// =============================================================================
// Server Defaults
// =============================================================================

const (
	// DefaultListenAddress is the default HTTP listen address.
	// Override via config: server.listen
	DefaultListenAddress = "0.0.0.0:8080"

	// DefaultMaxBodySize limits the accepted request body size.
	// Collect payloads carry fingerprint blobs; 10 MiB matches the
	// limit the browser client is built against.
	// Override via config: server.max_body_size
	DefaultMaxBodySize = 10 * 1024 * 1024

	// DefaultReadTimeout bounds how long the server waits for a request.
	DefaultReadTimeout = 15 * time.Second

	// DefaultWriteTimeout bounds how long the server spends writing a response.
	// Exports can be large, so this is generous.
	DefaultWriteTimeout = 60 * time.Second

	// DefaultShutdownTimeout is how long to wait for in-flight requests
	// during graceful shutdown.
	DefaultShutdownTimeout = 30 * time.Second
)

// =============================================================================
// Storage Defaults
// =============================================================================

const (
	// DefaultBackend selects the storage backend when none is configured.
	// One of: file, duckdb, mongodb.
	// Override via config: storage.backend
	DefaultBackend = "file"

	// DefaultDataDir is the directory for file-backend collections.
	// Override via config: storage.file.dir
	DefaultDataDir = "data"

	// DefaultDatabasePath is the DuckDB database file path.
	// Override via config: storage.duckdb.path
	DefaultDatabasePath = "beacon.db"

	// DefaultMongoURI is the MongoDB connection string.
	// Override via config: storage.mongodb.uri or BEACON_MONGO_URI env.
	DefaultMongoURI = "mongodb://localhost:27017"

	// DefaultMongoDatabase is the MongoDB database name.
	// Override via config: storage.mongodb.database
	DefaultMongoDatabase = "beacon"

	// DefaultConnectTimeout bounds backend connection establishment.
	DefaultConnectTimeout = 10 * time.Second

	// DefaultQueryTimeout is the default timeout for storage operations.
	DefaultQueryTimeout = 30 * time.Second

	// DefaultSessionLimit is the default page size for session listings.
	DefaultSessionLimit = 100

	// DefaultInteractionLimit is the default page size for interaction listings.
	DefaultInteractionLimit = 500

	// DefaultExportLimit caps the per-entity row count in bulk exports.
	DefaultExportLimit = 1000

	// MaxFileInteractions is the retained interaction count in the file
	// backend. Older events are dropped on append, matching the low-volume
	// single-process use this backend is specified for.
	MaxFileInteractions = 1000
)

// =============================================================================
// Location Resolution Defaults
// =============================================================================

const (
	// DefaultDeviceTimeout is the bounded wait for a device-reported
	// position. The browser collector applies this before giving up on
	// the geolocation permission prompt.
	// Override via config: location.device_timeout
	DefaultDeviceTimeout = 12 * time.Second

	// DefaultLookupURL is the network-address geolocation endpoint.
	// The address is appended to the path; the response is ip-api style JSON.
	// Override via config: location.lookup_url
	DefaultLookupURL = "http://ip-api.com/json/"

	// DefaultLookupTimeout bounds the address-geolocation HTTP round trip.
	// Lookup failure falls through to timezone approximation, so this
	// stays short.
	// Override via config: location.lookup_timeout
	DefaultLookupTimeout = 5 * time.Second

	// DefaultProximityRadius is the default radius for proximity queries
	// when the caller does not supply one, in meters.
	DefaultProximityRadius = 5000
)

// =============================================================================
// Export Defaults
// =============================================================================

const (
	// DefaultParquetCompression is the compression codec for Parquet exports.
	// One of: none, snappy, zstd, lz4, gzip.
	// Override via config: export.compression
	DefaultParquetCompression = "zstd"

	// DefaultStatsAccuracy is the DDSketch relative accuracy used for
	// accuracy-radius percentiles in the admin stats report.
	DefaultStatsAccuracy = 0.01
)
