package types

import (
	"testing"
	"time"
)

func TestMergeSessionLastWriteWins(t *testing.T) {
	created := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	updated := time.Date(2026, 5, 1, 11, 0, 0, 0, time.UTC)

	dst := Session{
		ID:           "s1",
		RemoteAddr:   "203.0.113.7",
		UserAgent:    "Mozilla/5.0",
		Platform:     "Linux",
		Language:     "en-US",
		ScreenWidth:  1920,
		ScreenHeight: 1080,
		CreatedAt:    created,
		UpdatedAt:    created,
	}
	src := Session{
		ID:        "s1",
		Platform:  "MacIntel",
		Timezone:  "Europe/Dublin",
		UpdatedAt: updated,
	}

	MergeSession(&dst, &src)

	if dst.Platform != "MacIntel" {
		t.Errorf("Platform = %q, want overwritten value", dst.Platform)
	}
	if dst.Timezone != "Europe/Dublin" {
		t.Errorf("Timezone = %q, want newly set value", dst.Timezone)
	}
	if dst.UserAgent != "Mozilla/5.0" {
		t.Errorf("UserAgent = %q, want preserved value", dst.UserAgent)
	}
	if dst.ScreenWidth != 1920 || dst.ScreenHeight != 1080 {
		t.Errorf("screen = %dx%d, want preserved 1920x1080", dst.ScreenWidth, dst.ScreenHeight)
	}
	if !dst.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want preserved %v", dst.CreatedAt, created)
	}
	if !dst.UpdatedAt.Equal(updated) {
		t.Errorf("UpdatedAt = %v, want %v", dst.UpdatedAt, updated)
	}
}

func TestMergeSessionEmptySrcKeepsDst(t *testing.T) {
	dst := Session{
		ID:         "s1",
		RemoteAddr: "203.0.113.7",
		Platform:   "Linux",
	}
	before := dst

	MergeSession(&dst, &Session{ID: "s1"})

	if dst != before {
		t.Errorf("merge with empty source changed the record: %+v", dst)
	}
}

func TestMergeSessionFingerprint(t *testing.T) {
	dst := Session{ID: "s1", Fingerprint: &Fingerprint{Canvas: "aaa"}}

	MergeSession(&dst, &Session{ID: "s1"})
	if dst.Fingerprint == nil || dst.Fingerprint.Canvas != "aaa" {
		t.Fatal("nil source fingerprint must keep the stored one")
	}

	MergeSession(&dst, &Session{ID: "s1", Fingerprint: &Fingerprint{Canvas: "bbb"}})
	if dst.Fingerprint.Canvas != "bbb" {
		t.Errorf("Canvas = %q, want replacement", dst.Fingerprint.Canvas)
	}
}

func TestFormatRate(t *testing.T) {
	tests := []struct {
		name    string
		withFix int64
		total   int64
		want    string
	}{
		{"no sessions", 0, 0, "0%"},
		{"all resolved", 1, 1, "100.00%"},
		{"half", 1, 2, "50.00%"},
		{"third", 1, 3, "33.33%"},
		{"none resolved", 0, 5, "0.00%"},
		{"negative total", 0, -1, "0%"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatRate(tt.withFix, tt.total); got != tt.want {
				t.Errorf("FormatRate(%d, %d) = %q, want %q", tt.withFix, tt.total, got, tt.want)
			}
		})
	}
}

func TestSourceValid(t *testing.T) {
	for _, s := range []Source{SourceDevice, SourceNetworkAddress, SourceTimezone, SourceNone} {
		if !s.Valid() {
			t.Errorf("%q should be valid", s)
		}
	}
	if Source("gps").Valid() {
		t.Error("unknown source should be invalid")
	}
}

func TestAddressGeolocationSucceeded(t *testing.T) {
	var nilGeo *AddressGeolocation
	if nilGeo.Succeeded() {
		t.Error("nil geolocation must not report success")
	}
	if (&AddressGeolocation{Status: "fail"}).Succeeded() {
		t.Error("failed lookup must not report success")
	}
	if !(&AddressGeolocation{Status: StatusSuccess}).Succeeded() {
		t.Error("successful lookup must report success")
	}
}
