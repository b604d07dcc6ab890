// Package validation provides centralized input validation for beacon.
package validation

import (
	"fmt"
	"unicode"

	"github.com/beaconlabs/beacon/internal/errors"
)

// =============================================================================
// Identifier validation
// =============================================================================

// IDRules defines the validation rules for client-generated identifiers.
type IDRules struct {
	MinLength int
	MaxLength int
}

// SessionIDRules returns the rules for visitor session identifiers.
// Session IDs are client-generated opaque strings like
// "session_1716400000000_k3j2h9x4q".
func SessionIDRules() IDRules {
	return IDRules{
		MinLength: 1,
		MaxLength: 128,
	}
}

// EventTypeRules returns the rules for interaction event type tags.
func EventTypeRules() IDRules {
	return IDRules{
		MinLength: 1,
		MaxLength: 64,
	}
}

// ValidateSessionID validates a visitor session identifier.
func ValidateSessionID(id string) error {
	if err := validateID(id, SessionIDRules()); err != nil {
		return fmt.Errorf("%v: %w", err, errors.ErrInvalidSessionID)
	}
	return nil
}

// ValidateEventType validates an interaction event type tag.
func ValidateEventType(eventType string) error {
	if err := validateID(eventType, EventTypeRules()); err != nil {
		return fmt.Errorf("%v: %w", err, errors.ErrInvalidEventType)
	}
	return nil
}

func validateID(id string, rules IDRules) error {
	if len(id) < rules.MinLength {
		return fmt.Errorf("too short: minimum %d characters required", rules.MinLength)
	}
	if len(id) > rules.MaxLength {
		return fmt.Errorf("too long: maximum %d characters allowed", rules.MaxLength)
	}

	for i, r := range id {
		if r < 32 || r == 127 {
			return fmt.Errorf("control character at position %d", i)
		}
		if !isAllowedIDChar(r) {
			return fmt.Errorf("invalid character '%c' at position %d", r, i)
		}
	}

	return nil
}

func isAllowedIDChar(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case '-', '_', '.', ':':
		return true
	}
	return false
}

// =============================================================================
// Coordinate validation
// =============================================================================

// ValidateCoordinates validates a latitude/longitude pair in decimal degrees.
func ValidateCoordinates(lat, lon float64) error {
	if lat < -90 || lat > 90 {
		return fmt.Errorf("latitude %f out of range [-90, 90]: %w", lat, errors.ErrInvalidCoordinate)
	}
	if lon < -180 || lon > 180 {
		return fmt.Errorf("longitude %f out of range [-180, 180]: %w", lon, errors.ErrInvalidCoordinate)
	}
	return nil
}

// ValidateRadius validates a proximity query radius in meters.
func ValidateRadius(meters float64) error {
	if meters <= 0 {
		return fmt.Errorf("radius %f must be positive: %w", meters, errors.ErrInvalidCoordinate)
	}
	return nil
}
