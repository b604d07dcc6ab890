// Package export renders storage snapshots into delimited-text and columnar
// formats for the admin bulk-export endpoints.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/beaconlabs/beacon/internal/storage/types"
)

// csvHeader is the session export column set the admin dashboard consumes.
var csvHeader = []string{
	"Session ID", "Timestamp", "IP", "City", "Country", "Browser",
	"Platform", "Screen Resolution", "Latitude", "Longitude", "Accuracy",
}

const na = "N/A"

// WriteSessionsCSV writes one row per session, joined with the session's
// most recent location fix and address geolocation. Missing values render
// as N/A.
func WriteSessionsCSV(w io.Writer, snapshot *types.Export) error {
	// Snapshots list entities newest first, so the first match per
	// session is the most recent one.
	latestFix := make(map[string]*types.LocationFix, len(snapshot.Fixes))
	for i := range snapshot.Fixes {
		f := &snapshot.Fixes[i]
		if _, ok := latestFix[f.SessionID]; !ok {
			latestFix[f.SessionID] = f
		}
	}
	latestGeo := make(map[string]*types.AddressGeolocation, len(snapshot.Geolocations))
	for i := range snapshot.Geolocations {
		g := &snapshot.Geolocations[i]
		if _, ok := latestGeo[g.SessionID]; !ok {
			latestGeo[g.SessionID] = g
		}
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}

	for i := range snapshot.Sessions {
		sess := &snapshot.Sessions[i]
		row := sessionRow(sess, latestFix[sess.ID], latestGeo[sess.ID])
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func sessionRow(sess *types.Session, fix *types.LocationFix, geoRec *types.AddressGeolocation) []string {
	city, country := na, na
	if geoRec != nil {
		city = orNA(geoRec.City)
		country = orNA(geoRec.Country)
	}

	lat, lon, accuracy := na, na, na
	if fix != nil {
		lat = fmt.Sprintf("%g", fix.Latitude)
		lon = fmt.Sprintf("%g", fix.Longitude)
		if fix.Accuracy != nil {
			accuracy = fmt.Sprintf("%g", *fix.Accuracy)
		}
	}

	browser := na
	if sess.UserAgent != "" {
		browser = strings.SplitN(sess.UserAgent, " ", 2)[0]
	}

	resolution := na
	if sess.ScreenWidth != 0 || sess.ScreenHeight != 0 {
		resolution = fmt.Sprintf("%dx%d", sess.ScreenWidth, sess.ScreenHeight)
	}

	return []string{
		sess.ID,
		sess.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		orNA(sess.RemoteAddr),
		city,
		country,
		browser,
		orNA(sess.Platform),
		resolution,
		lat,
		lon,
		accuracy,
	}
}

func orNA(s string) string {
	if s == "" {
		return na
	}
	return s
}
