package server

import (
	"github.com/DataDog/sketches-go/ddsketch"

	defaults "github.com/beaconlabs/beacon/config"
	"github.com/beaconlabs/beacon/internal/storage/types"
)

// statsResponse extends the storage counters with accuracy percentiles.
type statsResponse struct {
	*types.Statistics
	Accuracy *accuracySummary `json:"accuracy_meters,omitempty"`
}

// accuracySummary holds quantiles of the reported fix accuracy in meters.
// Only device and network-address fixes carry accuracy.
type accuracySummary struct {
	Count int64   `json:"count"`
	P50   float64 `json:"p50"`
	P90   float64 `json:"p90"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
}

// summarizeAccuracy sketches the accuracy distribution of the given fixes.
// Returns nil when no fix reports an accuracy or the sketch cannot be built.
func summarizeAccuracy(fixes []types.LocationFix) *accuracySummary {
	sketch, err := ddsketch.NewDefaultDDSketch(defaults.DefaultStatsAccuracy)
	if err != nil {
		return nil
	}

	var count int64
	for i := range fixes {
		if fixes[i].Accuracy == nil || *fixes[i].Accuracy <= 0 {
			continue
		}
		if err := sketch.Add(*fixes[i].Accuracy); err != nil {
			continue
		}
		count++
	}
	if count == 0 {
		return nil
	}

	summary := &accuracySummary{Count: count}
	quantiles := []struct {
		q    float64
		dest *float64
	}{
		{0.5, &summary.P50},
		{0.9, &summary.P90},
		{0.95, &summary.P95},
		{0.99, &summary.P99},
	}
	for _, q := range quantiles {
		v, err := sketch.GetValueAtQuantile(q.q)
		if err != nil {
			return nil
		}
		*q.dest = v
	}
	return summary
}
