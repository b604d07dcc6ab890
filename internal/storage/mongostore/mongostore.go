// Package mongostore implements the storage engine over an external MongoDB
// deployment.
//
// Each entity lives in its own schemaless collection. Sessions carry a
// unique index on session_id; location fixes carry a 2dsphere index on their
// GeoJSON point, so proximity queries are served by the index instead of a
// scan. Upserts use the native update-or-insert primitive, which serializes
// conflicting writes for the same session at the storage layer.
package mongostore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"

	defaults "github.com/beaconlabs/beacon/config"
	"github.com/beaconlabs/beacon/internal/errors"
	"github.com/beaconlabs/beacon/internal/logging"
	"github.com/beaconlabs/beacon/internal/storage/types"
)

const backendName = "mongostore"

// Collection names.
const (
	colSessions     = "sessions"
	colFixes        = "location_fixes"
	colGeolocations = "address_geolocations"
	colInteractions = "interactions"
)

// Config holds MongoDB store configuration.
type Config struct {
	// URI is the connection string.
	URI string

	// Database is the database name.
	Database string

	// ConnectTimeout bounds connection establishment and the initial ping.
	ConnectTimeout time.Duration
}

// Store is the external document storage engine.
type Store struct {
	cfg Config

	mu     sync.Mutex
	client *mongo.Client
	db     *mongo.Database
	closed bool
}

// New creates a MongoDB store. Call Initialize before use.
func New(cfg Config) *Store {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaults.DefaultConnectTimeout
	}
	return &Store{cfg: cfg}
}

// Initialize connects to the deployment and declares the indexes. Index
// creation is idempotent, so re-initializing an existing store is safe.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(s.cfg.URI))
	if err != nil {
		return errors.NewUnavailable(backendName, err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return errors.NewUnavailable(backendName, err)
	}

	db := client.Database(s.cfg.Database)

	indexes := map[string][]mongo.IndexModel{
		colSessions: {
			{
				Keys:    bson.D{{Key: "session_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "created_at", Value: -1}}},
		},
		colFixes: {
			{Keys: bson.D{{Key: "session_id", Value: 1}}},
			{Keys: bson.D{{Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "location", Value: "2dsphere"}}},
		},
		colGeolocations: {
			{Keys: bson.D{{Key: "session_id", Value: 1}}},
		},
		colInteractions: {
			{Keys: bson.D{{Key: "session_id", Value: 1}}},
			{Keys: bson.D{{Key: "timestamp", Value: -1}}},
		},
	}
	for name, models := range indexes {
		if _, err := db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			_ = client.Disconnect(context.Background())
			return errors.NewUnavailable(backendName, err)
		}
	}

	s.client = client
	s.db = db
	s.closed = false
	logging.Component("storage").Debug("mongodb store initialized", "database", s.cfg.Database)
	return nil
}

// Close disconnects from the deployment. Idempotent and safe before Initialize.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.client == nil {
		s.closed = true
		return nil
	}
	s.closed = true

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ConnectTimeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) collection(name string) (*mongo.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.db == nil {
		return nil, errors.ErrStorageClosed
	}
	return s.db.Collection(name), nil
}

func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return errors.NewConstraint(backendName, err)
	}
	return errors.NewUnavailable(backendName, err)
}

// =============================================================================
// Document shapes
// =============================================================================

// geoPoint is the GeoJSON point indexed by the 2dsphere index.
type geoPoint struct {
	Type        string     `bson:"type"`
	Coordinates [2]float64 `bson:"coordinates"` // [longitude, latitude]
}

type fixDoc struct {
	ID        string    `bson:"fix_id"`
	SessionID string    `bson:"session_id"`
	Latitude  float64   `bson:"latitude"`
	Longitude float64   `bson:"longitude"`
	Location  geoPoint  `bson:"location"`
	Accuracy  *float64  `bson:"accuracy,omitempty"`
	Altitude  *float64  `bson:"altitude,omitempty"`
	Heading   *float64  `bson:"heading,omitempty"`
	Speed     *float64  `bson:"speed,omitempty"`
	Source    string    `bson:"source"`
	Timestamp time.Time `bson:"timestamp"`
	CreatedAt time.Time `bson:"created_at"`
}

func (d *fixDoc) toFix() types.LocationFix {
	return types.LocationFix{
		ID:        d.ID,
		SessionID: d.SessionID,
		Latitude:  d.Latitude,
		Longitude: d.Longitude,
		Accuracy:  d.Accuracy,
		Altitude:  d.Altitude,
		Heading:   d.Heading,
		Speed:     d.Speed,
		Source:    types.Source(d.Source),
		Timestamp: d.Timestamp,
		CreatedAt: d.CreatedAt,
	}
}

type sessionDoc struct {
	ID           string             `bson:"session_id"`
	RemoteAddr   string             `bson:"client_ip,omitempty"`
	UserAgent    string             `bson:"user_agent,omitempty"`
	Platform     string             `bson:"platform,omitempty"`
	Language     string             `bson:"language,omitempty"`
	ScreenWidth  int                `bson:"screen_width,omitempty"`
	ScreenHeight int                `bson:"screen_height,omitempty"`
	Timezone     string             `bson:"timezone,omitempty"`
	Fingerprint  *types.Fingerprint `bson:"fingerprint,omitempty"`
	CreatedAt    time.Time          `bson:"created_at"`
	UpdatedAt    time.Time          `bson:"updated_at"`
}

func (d *sessionDoc) toSession() types.Session {
	return types.Session{
		ID:           d.ID,
		RemoteAddr:   d.RemoteAddr,
		UserAgent:    d.UserAgent,
		Platform:     d.Platform,
		Language:     d.Language,
		ScreenWidth:  d.ScreenWidth,
		ScreenHeight: d.ScreenHeight,
		Timezone:     d.Timezone,
		Fingerprint:  d.Fingerprint,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

// sessionSetFields builds the $set document from the fields actually present
// in the session, so a partial upsert never clears previously stored fields.
// Field-level last-write-wins matches types.MergeSession.
func sessionSetFields(session *types.Session, updated time.Time) bson.M {
	set := bson.M{"updated_at": updated}
	if session.RemoteAddr != "" {
		set["client_ip"] = session.RemoteAddr
	}
	if session.UserAgent != "" {
		set["user_agent"] = session.UserAgent
	}
	if session.Platform != "" {
		set["platform"] = session.Platform
	}
	if session.Language != "" {
		set["language"] = session.Language
	}
	if session.ScreenWidth != 0 {
		set["screen_width"] = session.ScreenWidth
	}
	if session.ScreenHeight != 0 {
		set["screen_height"] = session.ScreenHeight
	}
	if session.Timezone != "" {
		set["timezone"] = session.Timezone
	}
	if session.Fingerprint != nil {
		set["fingerprint"] = session.Fingerprint
	}
	return set
}

type interactionDoc struct {
	ID        string         `bson:"event_id"`
	SessionID string         `bson:"session_id"`
	Type      string         `bson:"type"`
	Data      map[string]any `bson:"data,omitempty"`
	Timestamp time.Time      `bson:"timestamp"`
}

type geoDoc struct {
	ID          string    `bson:"geo_id"`
	SessionID   string    `bson:"session_id"`
	Address     string    `bson:"ip_address,omitempty"`
	Status      string    `bson:"status"`
	Country     string    `bson:"country,omitempty"`
	CountryCode string    `bson:"country_code,omitempty"`
	Region      string    `bson:"region,omitempty"`
	RegionName  string    `bson:"region_name,omitempty"`
	City        string    `bson:"city,omitempty"`
	Postal      string    `bson:"zip,omitempty"`
	Latitude    float64   `bson:"lat"`
	Longitude   float64   `bson:"lon"`
	Timezone    string    `bson:"timezone,omitempty"`
	ISP         string    `bson:"isp,omitempty"`
	CreatedAt   time.Time `bson:"created_at"`
}

// =============================================================================
// Writes
// =============================================================================

// UpsertSession updates-or-inserts the session document by key.
func (s *Store) UpsertSession(ctx context.Context, session *types.Session) error {
	col, err := s.collection(colSessions)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	updated := session.UpdatedAt
	if updated.IsZero() {
		updated = now
	}
	created := session.CreatedAt
	if created.IsZero() {
		created = now
	}

	update := bson.M{
		"$set":         sessionSetFields(session, updated),
		"$setOnInsert": bson.M{"session_id": session.ID, "created_at": created},
	}
	_, err = col.UpdateOne(ctx,
		bson.M{"session_id": session.ID},
		update,
		options.Update().SetUpsert(true),
	)
	return wrapErr(err)
}

// RecordLocationFix inserts the fix document with its GeoJSON point. A nil
// fix writes nothing. Orphaned fixes are allowed; no reference to the
// session collection is enforced.
func (s *Store) RecordLocationFix(ctx context.Context, sessionID string, fix *types.LocationFix) (string, error) {
	if fix == nil {
		return "", nil
	}
	col, err := s.collection(colFixes)
	if err != nil {
		return "", err
	}

	doc := fixDoc{
		ID:        fix.ID,
		SessionID: sessionID,
		Latitude:  fix.Latitude,
		Longitude: fix.Longitude,
		Location: geoPoint{
			Type:        "Point",
			Coordinates: [2]float64{fix.Longitude, fix.Latitude},
		},
		Accuracy:  fix.Accuracy,
		Altitude:  fix.Altitude,
		Heading:   fix.Heading,
		Speed:     fix.Speed,
		Source:    string(fix.Source),
		Timestamp: fix.Timestamp,
		CreatedAt: fix.CreatedAt,
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}

	if _, err := col.InsertOne(ctx, doc); err != nil {
		return "", wrapErr(err)
	}
	return doc.ID, nil
}

// RecordAddressGeolocation inserts the geolocation document. Unsuccessful
// lookups write nothing.
func (s *Store) RecordAddressGeolocation(ctx context.Context, sessionID string, geoRec *types.AddressGeolocation) (string, error) {
	if !geoRec.Succeeded() {
		return "", nil
	}
	col, err := s.collection(colGeolocations)
	if err != nil {
		return "", err
	}

	doc := geoDoc{
		ID:          geoRec.ID,
		SessionID:   sessionID,
		Address:     geoRec.Address,
		Status:      geoRec.Status,
		Country:     geoRec.Country,
		CountryCode: geoRec.CountryCode,
		Region:      geoRec.Region,
		RegionName:  geoRec.RegionName,
		City:        geoRec.City,
		Postal:      geoRec.Postal,
		Latitude:    geoRec.Latitude,
		Longitude:   geoRec.Longitude,
		Timezone:    geoRec.Timezone,
		ISP:         geoRec.ISP,
		CreatedAt:   geoRec.CreatedAt,
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}

	if _, err := col.InsertOne(ctx, doc); err != nil {
		return "", wrapErr(err)
	}
	return doc.ID, nil
}

// AppendInteraction inserts the event document.
func (s *Store) AppendInteraction(ctx context.Context, event *types.Interaction) (string, error) {
	col, err := s.collection(colInteractions)
	if err != nil {
		return "", err
	}

	doc := interactionDoc{
		ID:        event.ID,
		SessionID: event.SessionID,
		Type:      event.Type,
		Data:      event.Data,
		Timestamp: event.Timestamp,
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.Timestamp.IsZero() {
		doc.Timestamp = time.Now().UTC()
	}

	if _, err := col.InsertOne(ctx, doc); err != nil {
		return "", wrapErr(err)
	}
	return doc.ID, nil
}

// =============================================================================
// Reads
// =============================================================================

// ListSessions returns up to limit sessions, newest first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]types.Session, error) {
	col, err := s.collection(colSessions)
	if err != nil {
		return nil, err
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := col.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer cursor.Close(ctx)

	var sessions []types.Session
	for cursor.Next(ctx) {
		var doc sessionDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, wrapErr(err)
		}
		sessions = append(sessions, doc.toSession())
	}
	return sessions, wrapErr(cursor.Err())
}

// GetSession returns the session with the given identifier.
func (s *Store) GetSession(ctx context.Context, id string) (*types.Session, error) {
	col, err := s.collection(colSessions)
	if err != nil {
		return nil, err
	}

	var doc sessionDoc
	err = col.FindOne(ctx, bson.M{"session_id": id}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, errors.ErrSessionNotFound
	}
	if err != nil {
		return nil, wrapErr(err)
	}
	sess := doc.toSession()
	return &sess, nil
}

func (s *Store) findFixes(ctx context.Context, filter any, opts *options.FindOptions) ([]types.LocationFix, error) {
	col, err := s.collection(colFixes)
	if err != nil {
		return nil, err
	}

	cursor, err := col.Find(ctx, filter, opts)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer cursor.Close(ctx)

	var fixes []types.LocationFix
	for cursor.Next(ctx) {
		var doc fixDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, wrapErr(err)
		}
		fixes = append(fixes, doc.toFix())
	}
	return fixes, wrapErr(cursor.Err())
}

// ListLocationFixes returns up to limit fixes, newest first.
func (s *Store) ListLocationFixes(ctx context.Context, limit int) ([]types.LocationFix, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return s.findFixes(ctx, bson.M{}, opts)
}

// ListInteractions returns events newest first, optionally filtered by session.
func (s *Store) ListInteractions(ctx context.Context, sessionID string) ([]types.Interaction, error) {
	col, err := s.collection(colInteractions)
	if err != nil {
		return nil, err
	}

	filter := bson.M{}
	if sessionID != "" {
		filter["session_id"] = sessionID
	}

	cursor, err := col.Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}}))
	if err != nil {
		return nil, wrapErr(err)
	}
	defer cursor.Close(ctx)

	var interactions []types.Interaction
	for cursor.Next(ctx) {
		var doc interactionDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, wrapErr(err)
		}
		interactions = append(interactions, types.Interaction{
			ID:        doc.ID,
			SessionID: doc.SessionID,
			Type:      doc.Type,
			Data:      doc.Data,
			Timestamp: doc.Timestamp,
		})
	}
	return interactions, wrapErr(cursor.Err())
}

// FindNear serves the proximity query from the 2dsphere index. Results come
// back nearest first; that is the $near operator's ordering guarantee.
func (s *Store) FindNear(ctx context.Context, lon, lat, maxDistanceMeters float64) ([]types.LocationFix, error) {
	filter := bson.M{
		"location": bson.M{
			"$near": bson.M{
				"$geometry": bson.M{
					"type":        "Point",
					"coordinates": []float64{lon, lat},
				},
				"$maxDistance": maxDistanceMeters,
			},
		},
	}
	return s.findFixes(ctx, filter, options.Find())
}

// Statistics returns entity counts and the location success rate.
func (s *Store) Statistics(ctx context.Context) (*types.Statistics, error) {
	sessions, err := s.collection(colSessions)
	if err != nil {
		return nil, err
	}
	fixes, err := s.collection(colFixes)
	if err != nil {
		return nil, err
	}
	interactions, err := s.collection(colInteractions)
	if err != nil {
		return nil, err
	}

	var stats types.Statistics
	if stats.Sessions, err = sessions.CountDocuments(ctx, bson.M{}); err != nil {
		return nil, wrapErr(err)
	}
	if stats.LocationFixes, err = fixes.CountDocuments(ctx, bson.M{}); err != nil {
		return nil, wrapErr(err)
	}
	if stats.Interactions, err = interactions.CountDocuments(ctx, bson.M{}); err != nil {
		return nil, wrapErr(err)
	}

	withFix, err := fixes.Distinct(ctx, "session_id", bson.M{})
	if err != nil {
		return nil, wrapErr(err)
	}
	stats.SessionsWithFix = int64(len(withFix))
	stats.LocationRate = types.FormatRate(stats.SessionsWithFix, stats.Sessions)
	return &stats, nil
}

// listGeolocations returns all address geolocations, newest first.
func (s *Store) listGeolocations(ctx context.Context) ([]types.AddressGeolocation, error) {
	col, err := s.collection(colGeolocations)
	if err != nil {
		return nil, err
	}

	cursor, err := col.Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, wrapErr(err)
	}
	defer cursor.Close(ctx)

	var geos []types.AddressGeolocation
	for cursor.Next(ctx) {
		var doc geoDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, wrapErr(err)
		}
		geos = append(geos, types.AddressGeolocation{
			ID:          doc.ID,
			SessionID:   doc.SessionID,
			Address:     doc.Address,
			Status:      doc.Status,
			Country:     doc.Country,
			CountryCode: doc.CountryCode,
			Region:      doc.Region,
			RegionName:  doc.RegionName,
			City:        doc.City,
			Postal:      doc.Postal,
			Latitude:    doc.Latitude,
			Longitude:   doc.Longitude,
			Timezone:    doc.Timezone,
			ISP:         doc.ISP,
			CreatedAt:   doc.CreatedAt,
		})
	}
	return geos, wrapErr(cursor.Err())
}

// ExportAll reads the collections in parallel and returns the combined
// snapshot. No cross-collection transactional guarantee is made.
func (s *Store) ExportAll(ctx context.Context) (*types.Export, error) {
	export := &types.Export{ExportedAt: time.Now().UTC()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		export.Sessions, err = s.ListSessions(gctx, 0)
		return err
	})
	g.Go(func() error {
		var err error
		export.Fixes, err = s.ListLocationFixes(gctx, 0)
		return err
	})
	g.Go(func() error {
		var err error
		export.Geolocations, err = s.listGeolocations(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		export.Interactions, err = s.ListInteractions(gctx, "")
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return export, nil
}

// ClearAll empties every collection, keeping the declared indexes.
func (s *Store) ClearAll(ctx context.Context) error {
	for _, name := range []string{colSessions, colFixes, colGeolocations, colInteractions} {
		col, err := s.collection(name)
		if err != nil {
			return err
		}
		if _, err := col.DeleteMany(ctx, bson.M{}); err != nil {
			return wrapErr(err)
		}
	}
	return nil
}
