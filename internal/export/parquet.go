package export

import (
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/beaconlabs/beacon/internal/storage/types"
)

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

// ParquetOptions configures the Parquet export writer.
type ParquetOptions struct {
	// Compression algorithm
	Compression CompressionType
}

// DefaultParquetOptions returns default Parquet options.
func DefaultParquetOptions() ParquetOptions {
	return ParquetOptions{
		Compression: CompressionZstd,
	}
}

// ParseCompressionType parses a compression type string.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "zstd":
		return CompressionZstd
	case "lz4":
		return CompressionLZ4
	case "gzip":
		return CompressionGzip
	case "none", "":
		return CompressionNone
	default:
		return CompressionZstd
	}
}

// getCompression returns the parquet-go compression codec.
func getCompression(ct CompressionType) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// FixRow represents a location fix in Parquet format, denormalized with the
// owning session's platform and resolved city for analytic queries.
type FixRow struct {
	SessionID   string  `parquet:"session_id,zstd"`
	Latitude    float64 `parquet:"latitude"`
	Longitude   float64 `parquet:"longitude"`
	Accuracy    float64 `parquet:"accuracy,optional"`
	Altitude    float64 `parquet:"altitude,optional"`
	Heading     float64 `parquet:"heading,optional"`
	Speed       float64 `parquet:"speed,optional"`
	Source      string  `parquet:"source,zstd"`
	TimestampMs int64   `parquet:"timestamp_ms"`
	Platform    string  `parquet:"platform,optional,zstd"`
	City        string  `parquet:"city,optional,zstd"`
	Country     string  `parquet:"country,optional,zstd"`
}

// FixToRow converts a LocationFix to a FixRow. The session and geolocation
// arguments may be nil when the fix has no owning record.
func FixToRow(f *types.LocationFix, sess *types.Session, geoRec *types.AddressGeolocation) FixRow {
	row := FixRow{
		SessionID:   f.SessionID,
		Latitude:    f.Latitude,
		Longitude:   f.Longitude,
		Source:      string(f.Source),
		TimestampMs: f.Timestamp.UnixMilli(),
	}
	if f.Accuracy != nil {
		row.Accuracy = *f.Accuracy
	}
	if f.Altitude != nil {
		row.Altitude = *f.Altitude
	}
	if f.Heading != nil {
		row.Heading = *f.Heading
	}
	if f.Speed != nil {
		row.Speed = *f.Speed
	}
	if sess != nil {
		row.Platform = sess.Platform
	}
	if geoRec != nil {
		row.City = geoRec.City
		row.Country = geoRec.Country
	}
	return row
}

// WriteFixesParquet writes the snapshot's location fixes as one Parquet table,
// one row per fix joined with session platform and geolocation city/country.
func WriteFixesParquet(w io.Writer, snapshot *types.Export, opts ParquetOptions) (int64, error) {
	sessions := make(map[string]*types.Session, len(snapshot.Sessions))
	for i := range snapshot.Sessions {
		sessions[snapshot.Sessions[i].ID] = &snapshot.Sessions[i]
	}
	geos := make(map[string]*types.AddressGeolocation, len(snapshot.Geolocations))
	for i := range snapshot.Geolocations {
		g := &snapshot.Geolocations[i]
		if _, ok := geos[g.SessionID]; !ok {
			geos[g.SessionID] = g
		}
	}

	rows := make([]FixRow, len(snapshot.Fixes))
	for i := range snapshot.Fixes {
		f := &snapshot.Fixes[i]
		rows[i] = FixToRow(f, sessions[f.SessionID], geos[f.SessionID])
	}

	writer := parquet.NewGenericWriter[FixRow](w,
		parquet.Compression(getCompression(opts.Compression)))

	var written int64
	if len(rows) > 0 {
		n, err := writer.Write(rows)
		if err != nil {
			return 0, fmt.Errorf("write rows: %w", err)
		}
		written = int64(n)
	}

	if err := writer.Close(); err != nil {
		return 0, fmt.Errorf("close writer: %w", err)
	}
	return written, nil
}
