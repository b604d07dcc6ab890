package export

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/beaconlabs/beacon/internal/storage/types"
)

func ptr(v float64) *float64 { return &v }

func testSnapshot() *types.Export {
	created := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	return &types.Export{
		Sessions: []types.Session{
			{
				ID:           "s1",
				RemoteAddr:   "203.0.113.7",
				UserAgent:    "Mozilla/5.0 (X11; Linux x86_64)",
				Platform:     "Linux",
				ScreenWidth:  1920,
				ScreenHeight: 1080,
				CreatedAt:    created,
			},
			{ID: "s2", CreatedAt: created.Add(time.Minute)},
		},
		Fixes: []types.LocationFix{
			{
				SessionID: "s1",
				Latitude:  53.3498,
				Longitude: -6.2603,
				Accuracy:  ptr(12.5),
				Source:    types.SourceDevice,
				Timestamp: created,
			},
		},
		Geolocations: []types.AddressGeolocation{
			{
				SessionID: "s1",
				Status:    types.StatusSuccess,
				City:      "Dublin",
				Country:   "Ireland",
			},
		},
		ExportedAt: created,
	}
}

func TestWriteSessionsCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSessionsCSV(&buf, testSnapshot()); err != nil {
		t.Fatalf("WriteSessionsCSV: %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("parse output: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d rows, want header plus 2 sessions", len(records))
	}

	header := records[0]
	if header[0] != "Session ID" || header[3] != "City" || header[8] != "Latitude" {
		t.Errorf("unexpected header: %v", header)
	}

	s1 := records[1]
	if s1[0] != "s1" {
		t.Errorf("session id = %q, want s1", s1[0])
	}
	if s1[3] != "Dublin" || s1[4] != "Ireland" {
		t.Errorf("city/country = %q/%q, want Dublin/Ireland", s1[3], s1[4])
	}
	if s1[5] != "Mozilla/5.0" {
		t.Errorf("browser = %q, want first user agent token", s1[5])
	}
	if s1[7] != "1920x1080" {
		t.Errorf("resolution = %q, want 1920x1080", s1[7])
	}
	if s1[8] != "53.3498" || s1[9] != "-6.2603" || s1[10] != "12.5" {
		t.Errorf("coordinates = %q/%q/%q, want fix values", s1[8], s1[9], s1[10])
	}

	// s2 has no fix, geolocation, or client metadata.
	s2 := records[2]
	for _, col := range []int{2, 3, 4, 5, 6, 7, 8, 9, 10} {
		if s2[col] != "N/A" {
			t.Errorf("s2 column %d = %q, want N/A", col, s2[col])
		}
	}
}

func TestWriteSessionsCSVEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSessionsCSV(&buf, &types.Export{}); err != nil {
		t.Fatalf("WriteSessionsCSV: %v", err)
	}
	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("parse output: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("got %d rows from empty snapshot, want header only", len(records))
	}
}

func TestWriteFixesParquet(t *testing.T) {
	var buf bytes.Buffer
	n, err := WriteFixesParquet(&buf, testSnapshot(), DefaultParquetOptions())
	if err != nil {
		t.Fatalf("WriteFixesParquet: %v", err)
	}
	if n != 1 {
		t.Errorf("wrote %d rows, want 1", n)
	}
	if buf.Len() == 0 {
		t.Error("no bytes written")
	}
	// Parquet files start and end with the PAR1 magic.
	out := buf.Bytes()
	if string(out[:4]) != "PAR1" || string(out[len(out)-4:]) != "PAR1" {
		t.Error("output is not a parquet file")
	}
}

func TestFixToRowDenormalizes(t *testing.T) {
	snap := testSnapshot()
	row := FixToRow(&snap.Fixes[0], &snap.Sessions[0], &snap.Geolocations[0])

	if row.SessionID != "s1" || row.Platform != "Linux" {
		t.Errorf("row = %+v, want session fields joined in", row)
	}
	if row.City != "Dublin" || row.Country != "Ireland" {
		t.Errorf("city/country = %q/%q, want geolocation fields", row.City, row.Country)
	}
	if row.Accuracy != 12.5 {
		t.Errorf("Accuracy = %v, want 12.5", row.Accuracy)
	}
	if row.TimestampMs != snap.Fixes[0].Timestamp.UnixMilli() {
		t.Errorf("TimestampMs = %d, want fix timestamp", row.TimestampMs)
	}
}

func TestParseCompressionType(t *testing.T) {
	tests := []struct {
		in   string
		want CompressionType
	}{
		{"snappy", CompressionSnappy},
		{"zstd", CompressionZstd},
		{"lz4", CompressionLZ4},
		{"gzip", CompressionGzip},
		{"none", CompressionNone},
		{"", CompressionNone},
		{"bogus", CompressionZstd},
	}
	for _, tt := range tests {
		if got := ParseCompressionType(tt.in); got != tt.want {
			t.Errorf("ParseCompressionType(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
