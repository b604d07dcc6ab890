// Package filestore implements the storage engine over flat JSON collection
// files, one file per entity. Every mutation reads the whole collection,
// applies the change in memory, and rewrites the file.
//
// This backend is intended for single-process, low-volume use. It provides no
// concurrent-writer isolation: two simultaneous writers may interleave their
// read-modify-write cycles and lose updates. That trade-off is deliberate and
// matches the contract the backend is specified for.
//
// Unlike the other backends, the single-document-per-session shape of the
// collections means only the most recent location fix and address
// geolocation are retained per session.
package filestore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	defaults "github.com/beaconlabs/beacon/config"
	"github.com/beaconlabs/beacon/internal/errors"
	"github.com/beaconlabs/beacon/internal/logging"
	"github.com/beaconlabs/beacon/internal/storage/geo"
	"github.com/beaconlabs/beacon/internal/storage/types"
)

const backendName = "filestore"

// Config holds file store configuration.
type Config struct {
	// Dir is the directory holding the collection files.
	Dir string
}

// Store is the flat-file storage engine.
type Store struct {
	dir    string
	closed bool

	sessionsFile     string
	fixesFile        string
	geolocationsFile string
	interactionsFile string
}

// New creates a file store rooted at cfg.Dir. Call Initialize before use.
func New(cfg Config) *Store {
	return &Store{
		dir:              cfg.Dir,
		sessionsFile:     filepath.Join(cfg.Dir, "sessions.json"),
		fixesFile:        filepath.Join(cfg.Dir, "location_fixes.json"),
		geolocationsFile: filepath.Join(cfg.Dir, "address_geolocations.json"),
		interactionsFile: filepath.Join(cfg.Dir, "interactions.json"),
	}
}

// Initialize creates the data directory and empty collection files if they
// do not exist. Existing files are left untouched.
func (s *Store) Initialize(ctx context.Context) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return errors.NewUnavailable(backendName, err)
	}

	for _, path := range []string{s.sessionsFile, s.fixesFile, s.geolocationsFile, s.interactionsFile} {
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.WriteFile(path, []byte("[]\n"), 0644); err != nil {
			return errors.NewUnavailable(backendName, err)
		}
	}

	logging.Component("storage").Debug("file store initialized", "dir", s.dir)
	return nil
}

// Close marks the store closed. There is no connection to release.
func (s *Store) Close() error {
	s.closed = true
	return nil
}

// =============================================================================
// Collection file helpers
// =============================================================================

func readCollection[T any](path string) ([]T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewUnavailable(backendName, err)
	}
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, errors.NewUnavailable(backendName, err)
	}
	return items, nil
}

func writeCollection[T any](path string, items []T) error {
	if items == nil {
		items = []T{}
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return errors.NewUnavailable(backendName, err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return errors.NewUnavailable(backendName, err)
	}
	return nil
}

// =============================================================================
// Writes
// =============================================================================

// UpsertSession creates or merges the session record, scanning the
// collection linearly by identifier.
func (s *Store) UpsertSession(ctx context.Context, session *types.Session) error {
	if s.closed {
		return errors.ErrStorageClosed
	}

	sessions, err := readCollection[types.Session](s.sessionsFile)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	incoming := *session
	if incoming.UpdatedAt.IsZero() {
		incoming.UpdatedAt = now
	}

	found := false
	for i := range sessions {
		if sessions[i].ID == incoming.ID {
			types.MergeSession(&sessions[i], &incoming)
			found = true
			break
		}
	}
	if !found {
		if incoming.CreatedAt.IsZero() {
			incoming.CreatedAt = now
		}
		sessions = append(sessions, incoming)
	}

	return writeCollection(s.sessionsFile, sessions)
}

// RecordLocationFix stores the fix, replacing any previous fix for the same
// session. A nil fix writes nothing.
func (s *Store) RecordLocationFix(ctx context.Context, sessionID string, fix *types.LocationFix) (string, error) {
	if fix == nil {
		return "", nil
	}
	if s.closed {
		return "", errors.ErrStorageClosed
	}

	fixes, err := readCollection[types.LocationFix](s.fixesFile)
	if err != nil {
		return "", err
	}

	stored := *fix
	stored.SessionID = sessionID
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	replaced := false
	for i := range fixes {
		if fixes[i].SessionID == sessionID {
			fixes[i] = stored
			replaced = true
			break
		}
	}
	if !replaced {
		fixes = append(fixes, stored)
	}

	if err := writeCollection(s.fixesFile, fixes); err != nil {
		return "", err
	}
	return stored.ID, nil
}

// RecordAddressGeolocation stores the geolocation, replacing any previous
// record for the same session. Unsuccessful lookups write nothing.
func (s *Store) RecordAddressGeolocation(ctx context.Context, sessionID string, geoRec *types.AddressGeolocation) (string, error) {
	if !geoRec.Succeeded() {
		return "", nil
	}
	if s.closed {
		return "", errors.ErrStorageClosed
	}

	geos, err := readCollection[types.AddressGeolocation](s.geolocationsFile)
	if err != nil {
		return "", err
	}

	stored := *geoRec
	stored.SessionID = sessionID
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	replaced := false
	for i := range geos {
		if geos[i].SessionID == sessionID {
			geos[i] = stored
			replaced = true
			break
		}
	}
	if !replaced {
		geos = append(geos, stored)
	}

	if err := writeCollection(s.geolocationsFile, geos); err != nil {
		return "", err
	}
	return stored.ID, nil
}

// AppendInteraction appends the event, trimming the collection to the most
// recent MaxFileInteractions entries.
func (s *Store) AppendInteraction(ctx context.Context, event *types.Interaction) (string, error) {
	if s.closed {
		return "", errors.ErrStorageClosed
	}

	interactions, err := readCollection[types.Interaction](s.interactionsFile)
	if err != nil {
		return "", err
	}

	stored := *event
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.Timestamp.IsZero() {
		stored.Timestamp = time.Now().UTC()
	}

	interactions = append(interactions, stored)
	if len(interactions) > defaults.MaxFileInteractions {
		interactions = interactions[len(interactions)-defaults.MaxFileInteractions:]
	}

	if err := writeCollection(s.interactionsFile, interactions); err != nil {
		return "", err
	}
	return stored.ID, nil
}

// =============================================================================
// Reads
// =============================================================================

// ListSessions returns up to limit sessions, newest first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]types.Session, error) {
	sessions, err := readCollection[types.Session](s.sessionsFile)
	if err != nil {
		return nil, err
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	if limit > 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}

// GetSession returns the session with the given identifier.
func (s *Store) GetSession(ctx context.Context, id string) (*types.Session, error) {
	sessions, err := readCollection[types.Session](s.sessionsFile)
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		if sessions[i].ID == id {
			return &sessions[i], nil
		}
	}
	return nil, errors.ErrSessionNotFound
}

// ListLocationFixes returns up to limit fixes, newest first.
func (s *Store) ListLocationFixes(ctx context.Context, limit int) ([]types.LocationFix, error) {
	fixes, err := readCollection[types.LocationFix](s.fixesFile)
	if err != nil {
		return nil, err
	}

	sort.Slice(fixes, func(i, j int) bool {
		return fixes[i].CreatedAt.After(fixes[j].CreatedAt)
	})
	if limit > 0 && len(fixes) > limit {
		fixes = fixes[:limit]
	}
	return fixes, nil
}

// ListInteractions returns events newest first, optionally filtered by session.
func (s *Store) ListInteractions(ctx context.Context, sessionID string) ([]types.Interaction, error) {
	interactions, err := readCollection[types.Interaction](s.interactionsFile)
	if err != nil {
		return nil, err
	}

	if sessionID != "" {
		filtered := interactions[:0:0]
		for _, in := range interactions {
			if in.SessionID == sessionID {
				filtered = append(filtered, in)
			}
		}
		interactions = filtered
	}

	sort.Slice(interactions, func(i, j int) bool {
		return interactions[i].Timestamp.After(interactions[j].Timestamp)
	})
	return interactions, nil
}

// FindNear scans all fixes and filters by haversine distance, nearest first.
func (s *Store) FindNear(ctx context.Context, lon, lat, maxDistanceMeters float64) ([]types.LocationFix, error) {
	fixes, err := readCollection[types.LocationFix](s.fixesFile)
	if err != nil {
		return nil, err
	}
	return geo.FilterNear(fixes, lon, lat, maxDistanceMeters), nil
}

// Statistics returns entity counts and the location success rate.
func (s *Store) Statistics(ctx context.Context) (*types.Statistics, error) {
	sessions, err := readCollection[types.Session](s.sessionsFile)
	if err != nil {
		return nil, err
	}
	fixes, err := readCollection[types.LocationFix](s.fixesFile)
	if err != nil {
		return nil, err
	}
	interactions, err := readCollection[types.Interaction](s.interactionsFile)
	if err != nil {
		return nil, err
	}

	withFix := make(map[string]struct{}, len(fixes))
	for _, f := range fixes {
		withFix[f.SessionID] = struct{}{}
	}

	return &types.Statistics{
		Sessions:        int64(len(sessions)),
		LocationFixes:   int64(len(fixes)),
		Interactions:    int64(len(interactions)),
		SessionsWithFix: int64(len(withFix)),
		LocationRate:    types.FormatRate(int64(len(withFix)), int64(len(sessions))),
	}, nil
}

// ExportAll returns a snapshot of all collections.
func (s *Store) ExportAll(ctx context.Context) (*types.Export, error) {
	sessions, err := s.ListSessions(ctx, 0)
	if err != nil {
		return nil, err
	}
	fixes, err := s.ListLocationFixes(ctx, 0)
	if err != nil {
		return nil, err
	}
	geos, err := readCollection[types.AddressGeolocation](s.geolocationsFile)
	if err != nil {
		return nil, err
	}
	interactions, err := s.ListInteractions(ctx, "")
	if err != nil {
		return nil, err
	}

	return &types.Export{
		Sessions:     sessions,
		Fixes:        fixes,
		Geolocations: geos,
		Interactions: interactions,
		ExportedAt:   time.Now().UTC(),
	}, nil
}

// ClearAll replaces every collection with an empty one.
func (s *Store) ClearAll(ctx context.Context) error {
	if s.closed {
		return errors.ErrStorageClosed
	}
	for _, path := range []string{s.sessionsFile, s.fixesFile, s.geolocationsFile, s.interactionsFile} {
		if err := writeCollection[struct{}](path, nil); err != nil {
			return err
		}
	}
	return nil
}
