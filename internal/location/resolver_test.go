package location

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/beaconlabs/beacon/internal/storage/types"
)

func ptr(v float64) *float64 { return &v }

// newLookupServer serves a canned ip-api style response for every address.
func newLookupServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestResolver(lookupURL string) *Resolver {
	return NewResolver(Config{
		LookupURL:     lookupURL,
		LookupTimeout: 2 * time.Second,
	})
}

const successBody = `{"status":"success","country":"Ireland","countryCode":"IE",` +
	`"regionName":"Leinster","city":"Dublin","lat":53.3498,"lon":-6.2603,` +
	`"timezone":"Europe/Dublin","isp":"ExampleNet","query":"203.0.113.7"}`

func TestResolveDeviceWins(t *testing.T) {
	srv := newLookupServer(t, http.StatusOK, successBody)
	r := newTestResolver(srv.URL)

	res := r.Resolve(context.Background(), Input{
		SessionID:  "s1",
		RemoteAddr: "203.0.113.7",
		Timezone:   "Europe/London",
		Device: &PositionAttempt{
			Latitude:  ptr(53.40),
			Longitude: ptr(-6.30),
			Accuracy:  ptr(15),
		},
	})

	if !res.Resolved() {
		t.Fatal("device attempt with coordinates must resolve")
	}
	if res.Source != types.SourceDevice {
		t.Errorf("Source = %q, want device", res.Source)
	}
	if res.Fix.SessionID != "s1" {
		t.Errorf("Fix.SessionID = %q, want s1", res.Fix.SessionID)
	}
	if res.Fix.Latitude != 53.40 || res.Fix.Longitude != -6.30 {
		t.Errorf("coordinates = %v/%v, want device values", res.Fix.Latitude, res.Fix.Longitude)
	}
	if res.Geolocation != nil {
		t.Error("address tier must not run when the device tier succeeds")
	}
	if res.DeviceFailure != "" {
		t.Errorf("DeviceFailure = %q, want empty", res.DeviceFailure)
	}
}

func TestResolveFallsBackToAddress(t *testing.T) {
	srv := newLookupServer(t, http.StatusOK, successBody)
	r := newTestResolver(srv.URL)

	res := r.Resolve(context.Background(), Input{
		SessionID:  "s1",
		RemoteAddr: "203.0.113.7",
		Device:     &PositionAttempt{ErrorCode: CodePermissionDenied},
	})

	if res.Source != types.SourceNetworkAddress {
		t.Fatalf("Source = %q, want network-address", res.Source)
	}
	if res.DeviceFailure != CodePermissionDenied {
		t.Errorf("DeviceFailure = %q, want permission-denied", res.DeviceFailure)
	}
	if res.Fix == nil || res.Fix.Latitude != 53.3498 {
		t.Errorf("Fix = %+v, want lookup coordinates", res.Fix)
	}
	if res.Geolocation == nil || res.Geolocation.City != "Dublin" {
		t.Errorf("Geolocation = %+v, want the Dublin record", res.Geolocation)
	}
}

func TestResolveFallsBackToTimezone(t *testing.T) {
	srv := newLookupServer(t, http.StatusOK, `{"status":"fail","message":"private range"}`)
	r := newTestResolver(srv.URL)

	res := r.Resolve(context.Background(), Input{
		SessionID:  "s1",
		RemoteAddr: "10.0.0.1",
		Timezone:   "Europe/London",
		Device:     &PositionAttempt{ErrorCode: CodeTimeout},
	})

	if res.Source != types.SourceTimezone {
		t.Fatalf("Source = %q, want timezone-approximation", res.Source)
	}
	if res.Fix == nil || res.Fix.Latitude != 51.5074 {
		t.Errorf("Fix = %+v, want London coordinates", res.Fix)
	}
	// A reachable endpoint that said "fail" still yields the record.
	if res.Geolocation == nil || res.Geolocation.Succeeded() {
		t.Errorf("Geolocation = %+v, want the failed lookup record", res.Geolocation)
	}
}

func TestResolveUnresolvedIsTerminal(t *testing.T) {
	srv := newLookupServer(t, http.StatusInternalServerError, "")
	r := newTestResolver(srv.URL)

	res := r.Resolve(context.Background(), Input{
		SessionID:  "s1",
		RemoteAddr: "203.0.113.7",
		Timezone:   "Mars/Olympus",
		Device:     &PositionAttempt{ErrorCode: CodeUnsupported},
	})

	if res.Resolved() {
		t.Fatal("exhausted tiers must not produce a fix")
	}
	if res.Source != types.SourceNone {
		t.Errorf("Source = %q, want none", res.Source)
	}
	if res.Geolocation != nil {
		t.Error("unreachable lookup must not produce a record")
	}
}

func TestResolveSkipsAddressForUnknownPeer(t *testing.T) {
	// Any lookup call would fail loudly: the URL points nowhere.
	r := newTestResolver("http://127.0.0.1:0/json/")

	res := r.Resolve(context.Background(), Input{
		SessionID:  "s1",
		RemoteAddr: "unknown",
		Timezone:   "Asia/Tokyo",
	})

	if res.Source != types.SourceTimezone {
		t.Errorf("Source = %q, want timezone-approximation", res.Source)
	}
}

func TestTryDeviceFailureCodes(t *testing.T) {
	r := newTestResolver("http://127.0.0.1:0/json/")

	tests := []struct {
		name     string
		attempt  *PositionAttempt
		wantCode Code
	}{
		{"not requested", nil, ""},
		{"denied", &PositionAttempt{ErrorCode: CodePermissionDenied}, CodePermissionDenied},
		{"no verdict means timeout", &PositionAttempt{}, CodeTimeout},
		{"bad coordinates", &PositionAttempt{Latitude: ptr(91), Longitude: ptr(0)}, CodePositionUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fix, code := r.tryDevice(tt.attempt)
			if fix != nil {
				t.Errorf("got a fix, want none")
			}
			if code != tt.wantCode {
				t.Errorf("code = %q, want %q", code, tt.wantCode)
			}
		})
	}
}

func TestLookupGeolocate(t *testing.T) {
	srv := newLookupServer(t, http.StatusOK, successBody)
	l := NewLookup(srv.URL, 2*time.Second)

	geoRec, err := l.Geolocate(context.Background(), "203.0.113.7")
	if err != nil {
		t.Fatalf("Geolocate: %v", err)
	}
	if !geoRec.Succeeded() {
		t.Fatalf("Status = %q, want success", geoRec.Status)
	}
	if geoRec.Address != "203.0.113.7" {
		t.Errorf("Address = %q, want echoed query", geoRec.Address)
	}
	if geoRec.Country != "Ireland" || geoRec.ISP != "ExampleNet" {
		t.Errorf("record = %+v, want decoded fields", geoRec)
	}
}

func TestTimezoneCoordinates(t *testing.T) {
	coords, ok := TimezoneCoordinates("Australia/Sydney")
	if !ok {
		t.Fatal("Australia/Sydney should be mapped")
	}
	if coords.Latitude != -33.8688 || coords.City != "Sydney" {
		t.Errorf("coords = %+v, want Sydney", coords)
	}

	if _, ok := TimezoneCoordinates("Atlantic/Nowhere"); ok {
		t.Error("unmapped timezone should not resolve")
	}
}
