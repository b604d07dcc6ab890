// Package types defines the entities persisted by the storage engine.
//
// The same types flow through all three backends; backend-specific row or
// document shapes are private to each backend package.
package types

import (
	"fmt"
	"time"
)

// Source identifies which resolution tier produced a location fix.
type Source string

const (
	// SourceDevice is a device-reported position (GPS or equivalent).
	SourceDevice Source = "device"

	// SourceNetworkAddress is a coarse position derived from the client
	// network address.
	SourceNetworkAddress Source = "network-address"

	// SourceTimezone is an approximation from the reported timezone name.
	SourceTimezone Source = "timezone-approximation"

	// SourceNone means all resolution tiers were exhausted without a fix.
	SourceNone Source = "none"
)

// Valid reports whether s is a known provenance tier.
func (s Source) Valid() bool {
	switch s {
	case SourceDevice, SourceNetworkAddress, SourceTimezone, SourceNone:
		return true
	}
	return false
}

// =============================================================================
// Session
// =============================================================================

// Session is one visitor/browsing-instance record, keyed by a client-generated
// identifier. Repeated submissions for the same identifier merge into the
// existing record rather than duplicating.
type Session struct {
	ID           string       `json:"session_id"`
	RemoteAddr   string       `json:"client_ip,omitempty"`
	UserAgent    string       `json:"user_agent,omitempty"`
	Platform     string       `json:"platform,omitempty"`
	Language     string       `json:"language,omitempty"`
	ScreenWidth  int          `json:"screen_width,omitempty"`
	ScreenHeight int          `json:"screen_height,omitempty"`
	Timezone     string       `json:"timezone,omitempty"`
	Fingerprint  *Fingerprint `json:"fingerprint,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Fingerprint holds the browser fingerprint digests reported by the client.
type Fingerprint struct {
	Canvas string   `json:"canvas,omitempty"`
	WebGL  string   `json:"webgl,omitempty"`
	Audio  string   `json:"audio,omitempty"`
	Fonts  []string `json:"fonts,omitempty"`
}

// MergeSession merges src into dst with last-write-wins per field: fields set
// in src overwrite dst, fields absent in src keep dst's values. CreatedAt is
// preserved from dst; UpdatedAt is taken from src.
//
// All backends route their upsert through this function so the merge
// invariant holds identically everywhere.
func MergeSession(dst, src *Session) {
	if src.RemoteAddr != "" {
		dst.RemoteAddr = src.RemoteAddr
	}
	if src.UserAgent != "" {
		dst.UserAgent = src.UserAgent
	}
	if src.Platform != "" {
		dst.Platform = src.Platform
	}
	if src.Language != "" {
		dst.Language = src.Language
	}
	if src.ScreenWidth != 0 {
		dst.ScreenWidth = src.ScreenWidth
	}
	if src.ScreenHeight != 0 {
		dst.ScreenHeight = src.ScreenHeight
	}
	if src.Timezone != "" {
		dst.Timezone = src.Timezone
	}
	if src.Fingerprint != nil {
		dst.Fingerprint = src.Fingerprint
	}
	if !src.UpdatedAt.IsZero() {
		dst.UpdatedAt = src.UpdatedAt
	}
}

// =============================================================================
// LocationFix
// =============================================================================

// LocationFix is a coordinate pair plus precision and provenance metadata,
// produced by one resolution tier. Fixes are immutable once written; later
// fixes for the same session are additional records.
type LocationFix struct {
	ID        string    `json:"id,omitempty"`
	SessionID string    `json:"session_id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  *float64  `json:"accuracy,omitempty"`
	Altitude  *float64  `json:"altitude,omitempty"`
	Heading   *float64  `json:"heading,omitempty"`
	Speed     *float64  `json:"speed,omitempty"`
	Source    Source    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"created_at"`
}

// =============================================================================
// AddressGeolocation
// =============================================================================

// StatusSuccess is the lookup status reported by a successful
// network-address geolocation.
const StatusSuccess = "success"

// AddressGeolocation is the coarse location and ISP metadata derived from the
// client network address.
type AddressGeolocation struct {
	ID          string    `json:"id,omitempty"`
	SessionID   string    `json:"session_id"`
	Address     string    `json:"ip_address,omitempty"`
	Status      string    `json:"status,omitempty"`
	Country     string    `json:"country,omitempty"`
	CountryCode string    `json:"country_code,omitempty"`
	Region      string    `json:"region,omitempty"`
	RegionName  string    `json:"region_name,omitempty"`
	City        string    `json:"city,omitempty"`
	Postal      string    `json:"zip,omitempty"`
	Latitude    float64   `json:"lat"`
	Longitude   float64   `json:"lon"`
	Timezone    string    `json:"timezone,omitempty"`
	ISP         string    `json:"isp,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Succeeded reports whether the lookup produced a usable result.
func (g *AddressGeolocation) Succeeded() bool {
	return g != nil && g.Status == StatusSuccess
}

// =============================================================================
// Interaction
// =============================================================================

// Interaction is one append-only client event. The session identifier is not
// required to reference an existing session.
type Interaction struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// =============================================================================
// Statistics and export
// =============================================================================

// Statistics summarizes the persisted data set.
type Statistics struct {
	Sessions        int64  `json:"total_sessions"`
	LocationFixes   int64  `json:"total_location_fixes"`
	Interactions    int64  `json:"total_interactions"`
	SessionsWithFix int64  `json:"sessions_with_fix"`
	LocationRate    string `json:"location_success_rate"`
}

// FormatRate renders the location success rate for withFix out of total
// sessions, matching the admin dashboard format.
func FormatRate(withFix, total int64) string {
	if total <= 0 {
		return "0%"
	}
	return fmt.Sprintf("%.2f%%", float64(withFix)/float64(total)*100)
}

// Export is a consistent-enough snapshot of the full data set. No
// cross-entity transactional guarantee is made.
type Export struct {
	Sessions     []Session            `json:"sessions"`
	Fixes        []LocationFix        `json:"locations"`
	Geolocations []AddressGeolocation `json:"address_geolocations"`
	Interactions []Interaction        `json:"interactions"`
	ExportedAt   time.Time            `json:"exported_at"`
}
