// Package duckstore implements the storage engine over an embedded DuckDB
// database using database/sql.
//
// Entities are normalized into sessions, location_fixes,
// address_geolocations, interactions, and device_fingerprints tables.
// Location fixes, geolocations, and fingerprints declare foreign keys to
// sessions; interactions deliberately do not, since events may arrive before
// their session. Upserts are a single INSERT ... ON CONFLICT DO UPDATE
// statement, so conflicting writes for the same session serialize at the
// storage layer.
package duckstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/marcboeker/go-duckdb"

	"github.com/beaconlabs/beacon/internal/errors"
	"github.com/beaconlabs/beacon/internal/logging"
	"github.com/beaconlabs/beacon/internal/storage/geo"
	"github.com/beaconlabs/beacon/internal/storage/types"
)

const backendName = "duckstore"

// Config holds DuckDB store configuration.
type Config struct {
	// Path is the database file path. Empty opens an in-memory database.
	Path string
}

// Store is the embedded relational storage engine.
type Store struct {
	cfg Config

	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

// New creates a DuckDB store. Call Initialize before use.
func New(cfg Config) *Store {
	return &Store{cfg: cfg}
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id    VARCHAR PRIMARY KEY,
	client_ip     VARCHAR,
	user_agent    VARCHAR,
	platform      VARCHAR,
	language      VARCHAR,
	screen_width  INTEGER,
	screen_height INTEGER,
	timezone      VARCHAR,
	created_at    TIMESTAMP,
	updated_at    TIMESTAMP
);

CREATE TABLE IF NOT EXISTS location_fixes (
	id         VARCHAR PRIMARY KEY,
	session_id VARCHAR NOT NULL REFERENCES sessions(session_id),
	latitude   DOUBLE NOT NULL,
	longitude  DOUBLE NOT NULL,
	accuracy   DOUBLE,
	altitude   DOUBLE,
	heading    DOUBLE,
	speed      DOUBLE,
	source     VARCHAR NOT NULL,
	fix_ts     TIMESTAMP,
	created_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS address_geolocations (
	id           VARCHAR PRIMARY KEY,
	session_id   VARCHAR NOT NULL REFERENCES sessions(session_id),
	ip_address   VARCHAR,
	status       VARCHAR,
	country      VARCHAR,
	country_code VARCHAR,
	region       VARCHAR,
	region_name  VARCHAR,
	city         VARCHAR,
	zip          VARCHAR,
	lat          DOUBLE,
	lon          DOUBLE,
	timezone     VARCHAR,
	isp          VARCHAR,
	created_at   TIMESTAMP
);

CREATE TABLE IF NOT EXISTS interactions (
	id         VARCHAR PRIMARY KEY,
	session_id VARCHAR NOT NULL,
	event_type VARCHAR NOT NULL,
	data       VARCHAR,
	event_ts   TIMESTAMP
);

CREATE TABLE IF NOT EXISTS device_fingerprints (
	session_id VARCHAR PRIMARY KEY REFERENCES sessions(session_id),
	canvas_fp  VARCHAR,
	webgl_fp   VARCHAR,
	audio_fp   VARCHAR,
	fonts_fp   VARCHAR,
	created_at TIMESTAMP
);
`

// Initialize opens the database and creates the schema if absent.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}

	db, err := sql.Open("duckdb", s.cfg.Path)
	if err != nil {
		return errors.NewUnavailable(backendName, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return errors.NewUnavailable(backendName, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return errors.NewUnavailable(backendName, err)
	}

	s.db = db
	s.closed = false
	logging.Component("storage").Debug("duckdb store initialized", "path", s.cfg.Path)
	return nil
}

// Close closes the database. Idempotent and safe before Initialize.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.db == nil {
		s.closed = true
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *Store) conn() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.db == nil {
		return nil, errors.ErrStorageClosed
	}
	return s.db, nil
}

// wrapErr maps driver errors to the storage taxonomy.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "Constraint Error") || strings.Contains(msg, "constraint") {
		return errors.NewConstraint(backendName, err)
	}
	return errors.NewUnavailable(backendName, err)
}

// =============================================================================
// Writes
// =============================================================================

// UpsertSession inserts the session, or merges it into the existing row on
// primary-key conflict. Empty incoming fields keep the stored values.
func (s *Store) UpsertSession(ctx context.Context, session *types.Session) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	created := session.CreatedAt
	if created.IsZero() {
		created = now
	}
	updated := session.UpdatedAt
	if updated.IsZero() {
		updated = now
	}

	const upsert = `
		INSERT INTO sessions
			(session_id, client_ip, user_agent, platform, language,
			 screen_width, screen_height, timezone, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
			client_ip     = CASE WHEN excluded.client_ip = ''     THEN client_ip     ELSE excluded.client_ip     END,
			user_agent    = CASE WHEN excluded.user_agent = ''    THEN user_agent    ELSE excluded.user_agent    END,
			platform      = CASE WHEN excluded.platform = ''      THEN platform      ELSE excluded.platform      END,
			language      = CASE WHEN excluded.language = ''      THEN language      ELSE excluded.language      END,
			screen_width  = CASE WHEN excluded.screen_width = 0   THEN screen_width  ELSE excluded.screen_width  END,
			screen_height = CASE WHEN excluded.screen_height = 0  THEN screen_height ELSE excluded.screen_height END,
			timezone      = CASE WHEN excluded.timezone = ''      THEN timezone      ELSE excluded.timezone      END,
			updated_at    = excluded.updated_at
	`
	_, err = db.ExecContext(ctx, upsert,
		session.ID, session.RemoteAddr, session.UserAgent, session.Platform,
		session.Language, session.ScreenWidth, session.ScreenHeight,
		session.Timezone, created, updated,
	)
	if err != nil {
		return wrapErr(err)
	}

	if session.Fingerprint != nil {
		if err := s.upsertFingerprint(ctx, db, session.ID, session.Fingerprint, now); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) upsertFingerprint(ctx context.Context, db *sql.DB, sessionID string, fp *types.Fingerprint, now time.Time) error {
	fonts, err := json.Marshal(fp.Fonts)
	if err != nil {
		return errors.NewUnavailable(backendName, err)
	}

	const upsert = `
		INSERT INTO device_fingerprints
			(session_id, canvas_fp, webgl_fp, audio_fp, fonts_fp, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
			canvas_fp = CASE WHEN excluded.canvas_fp = '' THEN canvas_fp ELSE excluded.canvas_fp END,
			webgl_fp  = CASE WHEN excluded.webgl_fp = ''  THEN webgl_fp  ELSE excluded.webgl_fp  END,
			audio_fp  = CASE WHEN excluded.audio_fp = ''  THEN audio_fp  ELSE excluded.audio_fp  END,
			fonts_fp  = excluded.fonts_fp
	`
	_, err = db.ExecContext(ctx, upsert,
		sessionID, fp.Canvas, fp.WebGL, fp.Audio, string(fonts), now)
	return wrapErr(err)
}

// RecordLocationFix persists the fix as a new immutable row. A nil fix
// writes nothing. Writes for sessions that do not exist violate the declared
// foreign key and surface as a constraint violation.
func (s *Store) RecordLocationFix(ctx context.Context, sessionID string, fix *types.LocationFix) (string, error) {
	if fix == nil {
		return "", nil
	}
	db, err := s.conn()
	if err != nil {
		return "", err
	}

	id := fix.ID
	if id == "" {
		id = uuid.NewString()
	}
	created := fix.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	const insert = `
		INSERT INTO location_fixes
			(id, session_id, latitude, longitude, accuracy, altitude,
			 heading, speed, source, fix_ts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = db.ExecContext(ctx, insert,
		id, sessionID, fix.Latitude, fix.Longitude,
		nullFloat(fix.Accuracy), nullFloat(fix.Altitude),
		nullFloat(fix.Heading), nullFloat(fix.Speed),
		string(fix.Source), fix.Timestamp, created,
	)
	if err != nil {
		return "", wrapErr(err)
	}
	return id, nil
}

// RecordAddressGeolocation persists the geolocation as a new row.
// Unsuccessful lookups write nothing.
func (s *Store) RecordAddressGeolocation(ctx context.Context, sessionID string, geoRec *types.AddressGeolocation) (string, error) {
	if !geoRec.Succeeded() {
		return "", nil
	}
	db, err := s.conn()
	if err != nil {
		return "", err
	}

	id := geoRec.ID
	if id == "" {
		id = uuid.NewString()
	}
	created := geoRec.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	const insert = `
		INSERT INTO address_geolocations
			(id, session_id, ip_address, status, country, country_code,
			 region, region_name, city, zip, lat, lon, timezone, isp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = db.ExecContext(ctx, insert,
		id, sessionID, geoRec.Address, geoRec.Status, geoRec.Country,
		geoRec.CountryCode, geoRec.Region, geoRec.RegionName, geoRec.City,
		geoRec.Postal, geoRec.Latitude, geoRec.Longitude, geoRec.Timezone,
		geoRec.ISP, created,
	)
	if err != nil {
		return "", wrapErr(err)
	}
	return id, nil
}

// AppendInteraction appends the event. The session is not required to exist.
func (s *Store) AppendInteraction(ctx context.Context, event *types.Interaction) (string, error) {
	db, err := s.conn()
	if err != nil {
		return "", err
	}

	id := event.ID
	if id == "" {
		id = uuid.NewString()
	}
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	var data []byte
	if event.Data != nil {
		data, err = json.Marshal(event.Data)
		if err != nil {
			return "", errors.NewUnavailable(backendName, err)
		}
	}

	const insert = `
		INSERT INTO interactions (id, session_id, event_type, data, event_ts)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err = db.ExecContext(ctx, insert, id, event.SessionID, event.Type, string(data), ts)
	if err != nil {
		return "", wrapErr(err)
	}
	return id, nil
}

// =============================================================================
// Reads
// =============================================================================

const sessionColumns = `session_id, client_ip, user_agent, platform, language,
	screen_width, screen_height, timezone, created_at, updated_at`

func scanSession(row interface{ Scan(...any) error }) (*types.Session, error) {
	var sess types.Session
	var clientIP, userAgent, platform, language, timezone sql.NullString
	var width, height sql.NullInt64

	err := row.Scan(&sess.ID, &clientIP, &userAgent, &platform, &language,
		&width, &height, &timezone, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, err
	}

	sess.RemoteAddr = clientIP.String
	sess.UserAgent = userAgent.String
	sess.Platform = platform.String
	sess.Language = language.String
	sess.ScreenWidth = int(width.Int64)
	sess.ScreenHeight = int(height.Int64)
	sess.Timezone = timezone.String
	return &sess, nil
}

// ListSessions returns up to limit sessions, newest first, each carrying its
// fingerprint row when one exists.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]types.Session, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 1 << 30
	}

	rows, err := db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var sessions []types.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, wrapErr(err)
		}
		sessions = append(sessions, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(err)
	}

	fps, err := s.listFingerprints(ctx, db)
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		sessions[i].Fingerprint = fps[sessions[i].ID]
	}
	return sessions, nil
}

// listFingerprints loads every fingerprint row keyed by session.
func (s *Store) listFingerprints(ctx context.Context, db *sql.DB) (map[string]*types.Fingerprint, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT session_id, canvas_fp, webgl_fp, audio_fp, fonts_fp
		FROM device_fingerprints`)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	fps := make(map[string]*types.Fingerprint)
	for rows.Next() {
		var sessionID string
		var canvas, webgl, audio, fonts sql.NullString
		if err := rows.Scan(&sessionID, &canvas, &webgl, &audio, &fonts); err != nil {
			return nil, wrapErr(err)
		}
		fp := &types.Fingerprint{
			Canvas: canvas.String,
			WebGL:  webgl.String,
			Audio:  audio.String,
		}
		if fonts.String != "" {
			_ = json.Unmarshal([]byte(fonts.String), &fp.Fonts)
		}
		fps[sessionID] = fp
	}
	return fps, wrapErr(rows.Err())
}

// GetSession returns the session with the given identifier, including its
// fingerprint row when present.
func (s *Store) GetSession(ctx context.Context, id string) (*types.Session, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	row := db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, errors.ErrSessionNotFound
	}
	if err != nil {
		return nil, wrapErr(err)
	}

	fpRow := db.QueryRowContext(ctx,
		`SELECT canvas_fp, webgl_fp, audio_fp, fonts_fp
		 FROM device_fingerprints WHERE session_id = ?`, id)

	var canvas, webgl, audio, fonts sql.NullString
	switch err := fpRow.Scan(&canvas, &webgl, &audio, &fonts); err {
	case nil:
		fp := &types.Fingerprint{
			Canvas: canvas.String,
			WebGL:  webgl.String,
			Audio:  audio.String,
		}
		if fonts.String != "" {
			// fonts list is stored JSON-encoded
			_ = json.Unmarshal([]byte(fonts.String), &fp.Fonts)
		}
		sess.Fingerprint = fp
	case sql.ErrNoRows:
	default:
		return nil, wrapErr(err)
	}

	return sess, nil
}

const fixColumns = `id, session_id, latitude, longitude, accuracy, altitude,
	heading, speed, source, fix_ts, created_at`

func scanFixes(rows *sql.Rows) ([]types.LocationFix, error) {
	var fixes []types.LocationFix
	for rows.Next() {
		var f types.LocationFix
		var accuracy, altitude, heading, speed sql.NullFloat64
		var source string
		var fixTS sql.NullTime

		err := rows.Scan(&f.ID, &f.SessionID, &f.Latitude, &f.Longitude,
			&accuracy, &altitude, &heading, &speed, &source, &fixTS, &f.CreatedAt)
		if err != nil {
			return nil, err
		}

		f.Accuracy = floatPtr(accuracy)
		f.Altitude = floatPtr(altitude)
		f.Heading = floatPtr(heading)
		f.Speed = floatPtr(speed)
		f.Source = types.Source(source)
		if fixTS.Valid {
			f.Timestamp = fixTS.Time
		}
		fixes = append(fixes, f)
	}
	return fixes, rows.Err()
}

// ListLocationFixes returns up to limit fixes, newest first.
func (s *Store) ListLocationFixes(ctx context.Context, limit int) ([]types.LocationFix, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 1 << 30
	}

	rows, err := db.QueryContext(ctx,
		`SELECT `+fixColumns+` FROM location_fixes ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	fixes, err := scanFixes(rows)
	return fixes, wrapErr(err)
}

// ListInteractions returns events newest first, optionally filtered by session.
func (s *Store) ListInteractions(ctx context.Context, sessionID string) ([]types.Interaction, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	query := `SELECT id, session_id, event_type, data, event_ts
		FROM interactions ORDER BY event_ts DESC`
	args := []any{}
	if sessionID != "" {
		query = `SELECT id, session_id, event_type, data, event_ts
			FROM interactions WHERE session_id = ? ORDER BY event_ts DESC`
		args = append(args, sessionID)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var interactions []types.Interaction
	for rows.Next() {
		var in types.Interaction
		var data sql.NullString
		if err := rows.Scan(&in.ID, &in.SessionID, &in.Type, &data, &in.Timestamp); err != nil {
			return nil, wrapErr(err)
		}
		if data.String != "" {
			_ = json.Unmarshal([]byte(data.String), &in.Data)
		}
		interactions = append(interactions, in)
	}
	return interactions, wrapErr(rows.Err())
}

// FindNear scans all fixes and filters by haversine distance, nearest first.
// No spatial index is declared, so this is a full scan by design.
func (s *Store) FindNear(ctx context.Context, lon, lat, maxDistanceMeters float64) ([]types.LocationFix, error) {
	fixes, err := s.ListLocationFixes(ctx, 0)
	if err != nil {
		return nil, err
	}
	return geo.FilterNear(fixes, lon, lat, maxDistanceMeters), nil
}

// Statistics returns entity counts and the location success rate.
func (s *Store) Statistics(ctx context.Context) (*types.Statistics, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	var stats types.Statistics
	queries := []struct {
		query string
		dest  *int64
	}{
		{`SELECT COUNT(*) FROM sessions`, &stats.Sessions},
		{`SELECT COUNT(*) FROM location_fixes`, &stats.LocationFixes},
		{`SELECT COUNT(*) FROM interactions`, &stats.Interactions},
		{`SELECT COUNT(DISTINCT session_id) FROM location_fixes`, &stats.SessionsWithFix},
	}
	for _, q := range queries {
		if err := db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, wrapErr(err)
		}
	}

	stats.LocationRate = types.FormatRate(stats.SessionsWithFix, stats.Sessions)
	return &stats, nil
}

// listGeolocations returns all address geolocations, newest first.
func (s *Store) listGeolocations(ctx context.Context) ([]types.AddressGeolocation, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, session_id, ip_address, status, country, country_code,
		       region, region_name, city, zip, lat, lon, timezone, isp, created_at
		FROM address_geolocations ORDER BY created_at DESC`)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var geos []types.AddressGeolocation
	for rows.Next() {
		var g types.AddressGeolocation
		var addr, status, country, cc, region, rn, city, zip, tz, isp sql.NullString
		err := rows.Scan(&g.ID, &g.SessionID, &addr, &status, &country, &cc,
			&region, &rn, &city, &zip, &g.Latitude, &g.Longitude, &tz, &isp, &g.CreatedAt)
		if err != nil {
			return nil, wrapErr(err)
		}
		g.Address, g.Status, g.Country, g.CountryCode = addr.String, status.String, country.String, cc.String
		g.Region, g.RegionName, g.City, g.Postal = region.String, rn.String, city.String, zip.String
		g.Timezone, g.ISP = tz.String, isp.String
		geos = append(geos, g)
	}
	return geos, wrapErr(rows.Err())
}

// ExportAll returns a snapshot of all entities.
func (s *Store) ExportAll(ctx context.Context) (*types.Export, error) {
	sessions, err := s.ListSessions(ctx, 0)
	if err != nil {
		return nil, err
	}
	fixes, err := s.ListLocationFixes(ctx, 0)
	if err != nil {
		return nil, err
	}
	geos, err := s.listGeolocations(ctx)
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

// ClearAll deletes every table, children before the parent to respect
// foreign-key ordering. Each DELETE autocommits on its own: inside a single
// transaction DuckDB's eager foreign-key check still sees the just-deleted
// child index entries and rejects the parent delete.
func (s *Store) ClearAll(ctx context.Context) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	for _, table := range []string{
		"device_fingerprints", "location_fixes", "address_geolocations",
		"interactions", "sessions",
	} {
		if _, err := db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return wrapErr(err)
		}
	}
	return nil
}

// =============================================================================
// Null helpers
// =============================================================================

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
