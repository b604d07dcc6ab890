// Package location implements the three-tier location resolution pipeline.
//
// Resolution degrades in precision: a device-reported position is preferred,
// then a network-address geolocation, then a timezone-based approximation.
// Each tier is attempted at most once per call, only when the previous tier
// failed or was not requested. The pipeline always terminates with a Result;
// tier failures are never surfaced as errors.
package location

import (
	"context"
	"log/slog"
	"time"

	"github.com/beaconlabs/beacon/internal/logging"
	"github.com/beaconlabs/beacon/internal/storage/types"
	"github.com/beaconlabs/beacon/internal/validation"
)

// Code identifies why a resolution tier failed.
type Code string

const (
	// CodePermissionDenied: the visitor refused the geolocation prompt.
	CodePermissionDenied Code = "permission-denied"

	// CodePositionUnavailable: the device could not produce a position.
	CodePositionUnavailable Code = "position-unavailable"

	// CodeTimeout: the bounded wait for a device position expired.
	CodeTimeout Code = "timeout"

	// CodeUnsupported: the client has no geolocation capability.
	CodeUnsupported Code = "unsupported"

	// CodeLookupFailed: the network-address lookup was unreachable or
	// returned a failure status.
	CodeLookupFailed Code = "lookup-failed"
)

// PositionAttempt is the outcome of the client's device geolocation request,
// as reported in the collect payload. Coordinates are pointers because their
// absence is meaningful: an attempt without coordinates is a failed attempt.
type PositionAttempt struct {
	Latitude  *float64
	Longitude *float64
	Accuracy  *float64
	Altitude  *float64
	Heading   *float64
	Speed     *float64
	Timestamp time.Time

	// ErrorCode is the normalized failure code, empty on success.
	ErrorCode Code

	// Error is the client's human-readable failure message, if any.
	Error string
}

// Config holds pipeline configuration. The bounded wait on the device
// position happens client-side; the server hands that timeout to the
// collector script, so it is not part of the pipeline itself.
type Config struct {
	// LookupURL is the network-address geolocation endpoint.
	LookupURL string

	// LookupTimeout bounds the geolocation HTTP round trip.
	LookupTimeout time.Duration
}

// Input is one resolution request.
type Input struct {
	SessionID  string
	RemoteAddr string
	Timezone   string

	// Device is the client's position attempt; nil when the client did
	// not request device location.
	Device *PositionAttempt
}

// Result is the pipeline's terminal outcome. Source is SourceNone when every
// tier was exhausted without a usable fix; that is a valid terminal state,
// not an error.
type Result struct {
	// Source is the provenance tier that produced Fix.
	Source types.Source

	// Fix is the winning location fix, nil when unresolved.
	Fix *types.LocationFix

	// Geolocation is the address-lookup record, set whenever tier 2 ran
	// and returned a successful status, regardless of which tier won.
	Geolocation *types.AddressGeolocation

	// DeviceFailure is the tier-1 failure code, empty when tier 1
	// succeeded or was not requested.
	DeviceFailure Code
}

// Resolved reports whether some tier produced a usable fix.
func (r *Result) Resolved() bool {
	return r.Fix != nil
}

// Pipeline state machine states. Transitions are strictly ordered so tier
// precedence stays auditable: Idle -> TryDevice -> TryAddress -> TryTimezone
// -> Resolved/Unresolved.
type state int

const (
	stateIdle state = iota
	stateTryDevice
	stateTryAddress
	stateTryTimezone
	stateResolved
	stateUnresolved
)

// Resolver runs the resolution pipeline.
type Resolver struct {
	cfg    Config
	lookup *Lookup
	log    *slog.Logger
}

// NewResolver creates a resolver with its address-lookup client.
func NewResolver(cfg Config) *Resolver {
	return &Resolver{
		cfg:    cfg,
		lookup: NewLookup(cfg.LookupURL, cfg.LookupTimeout),
		log:    logging.Component("location"),
	}
}

// Resolve runs the tiers in order and returns the terminal result.
func (r *Resolver) Resolve(ctx context.Context, in Input) *Result {
	res := &Result{Source: types.SourceNone}

	st := stateIdle
	for {
		switch st {
		case stateIdle:
			st = stateTryDevice

		case stateTryDevice:
			fix, code := r.tryDevice(in.Device)
			if fix != nil {
				res.Fix = fix
				res.Source = types.SourceDevice
				st = stateResolved
				continue
			}
			res.DeviceFailure = code
			st = stateTryAddress

		case stateTryAddress:
			fix, geoRec := r.tryAddress(ctx, in.RemoteAddr)
			res.Geolocation = geoRec
			if fix != nil {
				res.Fix = fix
				res.Source = types.SourceNetworkAddress
				st = stateResolved
				continue
			}
			st = stateTryTimezone

		case stateTryTimezone:
			fix := r.tryTimezone(in.Timezone)
			if fix != nil {
				res.Fix = fix
				res.Source = types.SourceTimezone
				st = stateResolved
				continue
			}
			st = stateUnresolved

		case stateResolved:
			res.Fix.SessionID = in.SessionID
			r.log.Debug("location resolved",
				"session_id", in.SessionID, "source", res.Source)
			return res

		case stateUnresolved:
			r.log.Debug("location unresolved",
				"session_id", in.SessionID, "device_failure", res.DeviceFailure)
			return res
		}
	}
}

// tryDevice validates the client's position attempt. Returns the fix on
// success, or the failure code otherwise.
func (r *Resolver) tryDevice(attempt *PositionAttempt) (*types.LocationFix, Code) {
	if attempt == nil {
		// Tier not requested; no failure code either.
		return nil, ""
	}

	if attempt.Latitude == nil || attempt.Longitude == nil {
		if attempt.ErrorCode != "" {
			return nil, attempt.ErrorCode
		}
		// The client reported neither coordinates nor a verdict: its
		// bounded wait for a position expired.
		return nil, CodeTimeout
	}

	lat, lon := *attempt.Latitude, *attempt.Longitude
	if err := validation.ValidateCoordinates(lat, lon); err != nil {
		r.log.Warn("device position rejected", "error", err)
		return nil, CodePositionUnavailable
	}

	ts := attempt.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	return &types.LocationFix{
		Latitude:  lat,
		Longitude: lon,
		Accuracy:  attempt.Accuracy,
		Altitude:  attempt.Altitude,
		Heading:   attempt.Heading,
		Speed:     attempt.Speed,
		Source:    types.SourceDevice,
		Timestamp: ts,
	}, ""
}

// tryAddress looks up the client network address. Failures fall through
// silently; a successful lookup yields both a coarse fix and the
// geolocation record.
func (r *Resolver) tryAddress(ctx context.Context, addr string) (*types.LocationFix, *types.AddressGeolocation) {
	if addr == "" || addr == "unknown" {
		return nil, nil
	}

	geoRec, err := r.lookup.Geolocate(ctx, addr)
	if err != nil {
		r.log.Debug("address lookup failed", "addr", addr, "error", err)
		return nil, nil
	}
	if !geoRec.Succeeded() {
		return nil, geoRec
	}

	fix := &types.LocationFix{
		Latitude:  geoRec.Latitude,
		Longitude: geoRec.Longitude,
		Source:    types.SourceNetworkAddress,
		Timestamp: time.Now().UTC(),
	}
	return fix, geoRec
}

// tryTimezone maps the reported timezone name to a representative city
// coordinate. Unknown timezones terminate with no fix.
func (r *Resolver) tryTimezone(tz string) *types.LocationFix {
	coords, ok := TimezoneCoordinates(tz)
	if !ok {
		return nil
	}
	return &types.LocationFix{
		Latitude:  coords.Latitude,
		Longitude: coords.Longitude,
		Source:    types.SourceTimezone,
		Timestamp: time.Now().UTC(),
	}
}
