// Package geo provides great-circle distance helpers for the storage
// backends that serve proximity queries by scanning.
package geo

import (
	"math"
	"sort"

	"github.com/beaconlabs/beacon/internal/storage/types"
)

// EarthRadiusMeters is the mean Earth radius.
const EarthRadiusMeters = 6371000.0

// Distance returns the haversine distance in meters between two points
// given in decimal degrees.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMeters * c
}

// FilterNear returns the fixes within maxDistanceMeters of the query point,
// ordered nearest first. Used by the file and relational backends, which have
// no spatial index and satisfy proximity queries by full scan.
func FilterNear(fixes []types.LocationFix, lon, lat, maxDistanceMeters float64) []types.LocationFix {
	type scored struct {
		fix      types.LocationFix
		distance float64
	}

	var within []scored
	for _, f := range fixes {
		d := Distance(lat, lon, f.Latitude, f.Longitude)
		if d <= maxDistanceMeters {
			within = append(within, scored{fix: f, distance: d})
		}
	}

	sort.Slice(within, func(i, j int) bool {
		return within[i].distance < within[j].distance
	})

	out := make([]types.LocationFix, len(within))
	for i, s := range within {
		out[i] = s.fix
	}
	return out
}
