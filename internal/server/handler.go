package server

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	defaults "github.com/beaconlabs/beacon/config"
	"github.com/beaconlabs/beacon/internal/errors"
	"github.com/beaconlabs/beacon/internal/export"
	"github.com/beaconlabs/beacon/internal/location"
	"github.com/beaconlabs/beacon/internal/logging"
	"github.com/beaconlabs/beacon/internal/storage/types"
	"github.com/beaconlabs/beacon/internal/validation"
)

// =============================================================================
// Payloads
// =============================================================================

// collectPayload is the session submission the page instrumentation posts.
type collectPayload struct {
	SessionID    string             `json:"session_id"`
	UserAgent    string             `json:"user_agent"`
	Platform     string             `json:"platform"`
	Language     string             `json:"language"`
	ScreenWidth  int                `json:"screen_width"`
	ScreenHeight int                `json:"screen_height"`
	Timezone     string             `json:"timezone"`
	Fingerprint  *types.Fingerprint `json:"fingerprint"`
	Position     *positionPayload   `json:"gps"`
}

// positionPayload is the client's device geolocation attempt. Browser
// geolocation error codes are 1 (permission denied), 2 (position
// unavailable), and 3 (timeout).
type positionPayload struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Accuracy  *float64 `json:"accuracy"`
	Altitude  *float64 `json:"altitude"`
	Heading   *float64 `json:"heading"`
	Speed     *float64 `json:"speed"`
	Timestamp int64    `json:"timestamp"`
	ErrorCode int      `json:"error_code"`
	Error     string   `json:"error"`
}

func (p *positionPayload) attempt() *location.PositionAttempt {
	if p == nil {
		return nil
	}

	attempt := &location.PositionAttempt{
		Latitude:  p.Latitude,
		Longitude: p.Longitude,
		Accuracy:  p.Accuracy,
		Altitude:  p.Altitude,
		Heading:   p.Heading,
		Speed:     p.Speed,
		Error:     p.Error,
	}
	if p.Timestamp > 0 {
		attempt.Timestamp = time.UnixMilli(p.Timestamp).UTC()
	}

	switch p.ErrorCode {
	case 1:
		attempt.ErrorCode = location.CodePermissionDenied
	case 2:
		attempt.ErrorCode = location.CodePositionUnavailable
	case 3:
		attempt.ErrorCode = location.CodeTimeout
	default:
		if p.Error != "" {
			attempt.ErrorCode = location.CodeUnsupported
		}
	}
	return attempt
}

// interactionPayload is one client event submission.
type interactionPayload struct {
	SessionID string         `json:"session_id"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp int64          `json:"timestamp"`
}

// sessionEndPayload reports the end of a browsing session.
type sessionEndPayload struct {
	SessionID  string `json:"session_id"`
	DurationMs int64  `json:"duration_ms"`
}

// =============================================================================
// Collection endpoints
// =============================================================================

// handleClientConfig bootstraps the page instrumentation. The bounded wait
// for a device position happens client-side, so the configured timeout is
// served here for the collector script to apply to its geolocation request.
func (s *Server) handleClientConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"device_timeout_ms": s.cfg.Location.DeviceTimeout.Milliseconds(),
	})
}

func (s *Server) handleCollect(w http.ResponseWriter, r *http.Request) {
	var payload collectPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, errors.Wrap(errors.ErrMissingField, "decode payload"))
		return
	}
	if err := validation.ValidateSessionID(payload.SessionID); err != nil {
		writeError(w, err)
		return
	}

	remoteAddr := clientAddr(r)
	ctx := logging.ContextWithSessionID(r.Context(), payload.SessionID)
	ctx = logging.ContextWithClientAddr(ctx, remoteAddr)
	log := logging.WithContext(ctx).With("component", "server")

	now := time.Now().UTC()
	session := &types.Session{
		ID:           payload.SessionID,
		RemoteAddr:   remoteAddr,
		UserAgent:    payload.UserAgent,
		Platform:     payload.Platform,
		Language:     payload.Language,
		ScreenWidth:  payload.ScreenWidth,
		ScreenHeight: payload.ScreenHeight,
		Timezone:     payload.Timezone,
		Fingerprint:  payload.Fingerprint,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.engine.UpsertSession(ctx, session); err != nil {
		log.Error("session upsert failed", "error", err)
		writeError(w, err)
		return
	}

	result := s.resolver.Resolve(ctx, location.Input{
		SessionID:  payload.SessionID,
		RemoteAddr: remoteAddr,
		Timezone:   payload.Timezone,
		Device:     payload.Position.attempt(),
	})

	// Location failures degrade, they never fail the collection. Storage
	// failures on the fix do: the client retries the whole submission.
	fixID, err := s.engine.RecordLocationFix(ctx, payload.SessionID, result.Fix)
	if err != nil {
		log.Error("location fix write failed", "error", err)
		writeError(w, err)
		return
	}
	if result.Geolocation != nil {
		if _, err := s.engine.RecordAddressGeolocation(ctx, payload.SessionID, result.Geolocation); err != nil {
			log.Warn("geolocation write failed", "error", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"session_id":      payload.SessionID,
		"location_source": result.Source,
		"fix_id":          fixID,
	})
}

func (s *Server) handleInteraction(w http.ResponseWriter, r *http.Request) {
	var payload interactionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, errors.Wrap(errors.ErrMissingField, "decode payload"))
		return
	}
	if err := validation.ValidateSessionID(payload.SessionID); err != nil {
		writeError(w, err)
		return
	}
	if err := validation.ValidateEventType(payload.Type); err != nil {
		writeError(w, err)
		return
	}

	event := &types.Interaction{
		ID:        uuid.NewString(),
		SessionID: payload.SessionID,
		Type:      payload.Type,
		Data:      payload.Data,
		Timestamp: time.Now().UTC(),
	}
	if payload.Timestamp > 0 {
		event.Timestamp = time.UnixMilli(payload.Timestamp).UTC()
	}

	id, err := s.engine.AppendInteraction(r.Context(), event)
	if err != nil {
		s.log.Error("interaction write failed", "session_id", payload.SessionID, "error", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "id": id})
}

func (s *Server) handleSessionEnd(w http.ResponseWriter, r *http.Request) {
	var payload sessionEndPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, errors.Wrap(errors.ErrMissingField, "decode payload"))
		return
	}
	if err := validation.ValidateSessionID(payload.SessionID); err != nil {
		writeError(w, err)
		return
	}

	event := &types.Interaction{
		ID:        uuid.NewString(),
		SessionID: payload.SessionID,
		Type:      "session_end",
		Data:      map[string]any{"duration_ms": payload.DurationMs},
		Timestamp: time.Now().UTC(),
	}
	if _, err := s.engine.AppendInteraction(r.Context(), event); err != nil {
		s.log.Error("session end write failed", "session_id", payload.SessionID, "error", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// =============================================================================
// Admin endpoints
// =============================================================================

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaults.DefaultSessionLimit)
	sessions, err := s.engine.ListSessions(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions, "count": len(sessions)})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := validation.ValidateSessionID(id); err != nil {
		writeError(w, err)
		return
	}
	session, err := s.engine.GetSession(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleLocations(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaults.DefaultSessionLimit)
	fixes, err := s.engine.ListLocationFixes(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"locations": fixes, "count": len(fixes)})
}

func (s *Server) handleInteractions(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID != "" {
		if err := validation.ValidateSessionID(sessionID); err != nil {
			writeError(w, err)
			return
		}
	}
	interactions, err := s.engine.ListInteractions(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	limit := queryInt(r, "limit", defaults.DefaultInteractionLimit)
	if limit > 0 && len(interactions) > limit {
		interactions = interactions[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]any{"interactions": interactions, "count": len(interactions)})
}

func (s *Server) handleNear(w http.ResponseWriter, r *http.Request) {
	lat, err := queryFloat(r, "lat")
	if err != nil {
		writeError(w, err)
		return
	}
	lon, err := queryFloat(r, "lon")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := validation.ValidateCoordinates(lat, lon); err != nil {
		writeError(w, err)
		return
	}

	radius := float64(queryInt(r, "radius", defaults.DefaultProximityRadius))
	if err := validation.ValidateRadius(radius); err != nil {
		writeError(w, err)
		return
	}

	fixes, err := s.engine.FindNear(r.Context(), lon, lat, radius)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"locations": fixes, "count": len(fixes)})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Statistics(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	resp := statsResponse{Statistics: stats}
	fixes, err := s.engine.ListLocationFixes(r.Context(), 0)
	if err == nil {
		resp.Accuracy = summarizeAccuracy(fixes)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.engine.ExportAll(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	// The JSON export is a browsable view, so the configured per-entity cap
	// applies. The CSV and Parquet downloads stay complete.
	if n := s.cfg.Export.Limit; n > 0 {
		if len(snapshot.Sessions) > n {
			snapshot.Sessions = snapshot.Sessions[:n]
		}
		if len(snapshot.Fixes) > n {
			snapshot.Fixes = snapshot.Fixes[:n]
		}
		if len(snapshot.Geolocations) > n {
			snapshot.Geolocations = snapshot.Geolocations[:n]
		}
		if len(snapshot.Interactions) > n {
			snapshot.Interactions = snapshot.Interactions[:n]
		}
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.engine.ExportAll(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="sessions.csv"`)
	if err := export.WriteSessionsCSV(w, snapshot); err != nil {
		s.log.Error("csv export failed", "error", err)
	}
}

func (s *Server) handleExportParquet(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.engine.ExportAll(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	opts := export.ParquetOptions{
		Compression: export.ParseCompressionType(s.cfg.Export.Compression),
	}

	w.Header().Set("Content-Type", "application/vnd.apache.parquet")
	w.Header().Set("Content-Disposition", `attachment; filename="location_fixes.parquet"`)
	if _, err := export.WriteFixesParquet(w, snapshot, opts); err != nil {
		s.log.Error("parquet export failed", "error", err)
	}
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.ClearAll(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	s.log.Info("all data cleared", "remote", clientAddr(r))
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// =============================================================================
// Helpers
// =============================================================================

// clientAddr extracts the originating client address, preferring proxy
// headers over the socket peer.
func clientAddr(r *http.Request) string {
	if v := r.Header.Get("X-Forwarded-For"); v != "" {
		if i := strings.IndexByte(v, ','); i >= 0 {
			v = v[:i]
		}
		return strings.TrimSpace(v)
	}
	if v := r.Header.Get("X-Real-IP"); v != "" {
		return v
	}
	if v := r.Header.Get("X-Client-IP"); v != "" {
		return v
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func queryInt(r *http.Request, name string, fallback int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func queryFloat(r *http.Request, name string) (float64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, errors.NewMissingField(name)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrInvalidCoordinate, "parse %s", name)
	}
	return f, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Component("server").Warn("response encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := errors.HTTPStatus(err)
	writeJSON(w, status, map[string]any{
		"status": "error",
		"error":  err.Error(),
	})
}
