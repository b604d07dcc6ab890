// Package storage defines the storage engine contract and backend selection.
//
// One Engine instance is created at startup from configuration and shared for
// the process lifetime. Three backends satisfy the same contract with
// backend-appropriate mechanics: a flat JSON file store, an embedded
// relational store (DuckDB), and an external document store (MongoDB).
package storage

import (
	"context"
	"fmt"

	"github.com/beaconlabs/beacon/internal/config"
	"github.com/beaconlabs/beacon/internal/storage/duckstore"
	"github.com/beaconlabs/beacon/internal/storage/filestore"
	"github.com/beaconlabs/beacon/internal/storage/mongostore"
	"github.com/beaconlabs/beacon/internal/storage/types"
)

// Engine is the capability contract every backend implements.
//
// Initialize must complete before any other operation and is safe to call
// against an already-initialized store. Close is idempotent and safe to call
// even if Initialize never completed.
//
// Write operations propagate storage errors to the caller; they never retry.
type Engine interface {
	// Initialize creates the underlying schema, collections, indexes, or
	// files if absent. Never destructive.
	Initialize(ctx context.Context) error

	// UpsertSession creates or merges a session record keyed by its
	// identifier. Safe to call repeatedly with partial data; previously
	// stored fields survive, overlapping fields take the new value.
	UpsertSession(ctx context.Context, session *types.Session) error

	// RecordLocationFix persists a location fix for the session. A nil fix
	// means the resolution tier produced no coordinates: nothing is
	// written and the returned identifier is empty, with no error. The
	// session is not required to exist.
	RecordLocationFix(ctx context.Context, sessionID string, fix *types.LocationFix) (string, error)

	// RecordAddressGeolocation persists a network-address geolocation. A
	// nil or unsuccessful lookup writes nothing and returns an empty
	// identifier with no error.
	RecordAddressGeolocation(ctx context.Context, sessionID string, geo *types.AddressGeolocation) (string, error)

	// AppendInteraction persists one event, generating an identifier when
	// the caller supplied none. Returns the event identifier.
	AppendInteraction(ctx context.Context, event *types.Interaction) (string, error)

	// ListSessions returns up to limit sessions, newest first.
	ListSessions(ctx context.Context, limit int) ([]types.Session, error)

	// GetSession returns the session with the given identifier, or
	// ErrSessionNotFound.
	GetSession(ctx context.Context, id string) (*types.Session, error)

	// ListLocationFixes returns up to limit fixes, newest first.
	ListLocationFixes(ctx context.Context, limit int) ([]types.LocationFix, error)

	// ListInteractions returns events newest first. An empty sessionID
	// returns events for all sessions.
	ListInteractions(ctx context.Context, sessionID string) ([]types.Interaction, error)

	// FindNear returns fixes within maxDistanceMeters of the query point,
	// nearest first.
	FindNear(ctx context.Context, lon, lat, maxDistanceMeters float64) ([]types.LocationFix, error)

	// Statistics returns entity counts and the location success rate.
	Statistics(ctx context.Context) (*types.Statistics, error)

	// ExportAll returns a snapshot of all entities.
	ExportAll(ctx context.Context) (*types.Export, error)

	// ClearAll empties every entity.
	ClearAll(ctx context.Context) error

	// Close releases backend resources. Idempotent.
	Close() error
}

// Backend kinds accepted by Open.
const (
	BackendFile    = "file"
	BackendDuckDB  = "duckdb"
	BackendMongoDB = "mongodb"
)

// Open constructs the engine selected by cfg.Backend. The engine is not
// initialized; callers must call Initialize before use.
func Open(cfg *config.StorageConfig) (Engine, error) {
	switch cfg.Backend {
	case BackendFile:
		return filestore.New(filestore.Config{Dir: cfg.File.Dir}), nil
	case BackendDuckDB:
		return duckstore.New(duckstore.Config{Path: cfg.DuckDB.Path}), nil
	case BackendMongoDB:
		return mongostore.New(mongostore.Config{
			URI:            cfg.MongoDB.URI,
			Database:       cfg.MongoDB.Database,
			ConnectTimeout: cfg.MongoDB.ConnectTimeout,
		}), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
