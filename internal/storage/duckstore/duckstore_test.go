package duckstore

import (
	"context"
	"fmt"
	"testing"

	"github.com/beaconlabs/beacon/internal/errors"
	"github.com/beaconlabs/beacon/internal/storage/types"
	beacontest "github.com/beaconlabs/beacon/internal/testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New(Config{}) // in-memory
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertSessionMergesOnConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertSession(ctx, &types.Session{
		ID:        "s1",
		Platform:  "Linux",
		UserAgent: "Mozilla/5.0",
	}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := s.UpsertSession(ctx, &types.Session{
		ID:       "s1",
		Platform: "MacIntel",
		Timezone: "Europe/Dublin",
	}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Platform != "MacIntel" {
		t.Errorf("Platform = %q, want MacIntel", got.Platform)
	}
	if got.UserAgent != "Mozilla/5.0" {
		t.Errorf("UserAgent = %q, want preserved", got.UserAgent)
	}
	if got.Timezone != "Europe/Dublin" {
		t.Errorf("Timezone = %q, want Europe/Dublin", got.Timezone)
	}

	sessions, err := s.ListSessions(ctx, 0)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Errorf("got %d sessions, want 1", len(sessions))
	}
}

func TestUpsertSessionFingerprint(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertSession(ctx, &types.Session{
		ID: "s1",
		Fingerprint: &types.Fingerprint{
			Canvas: "c1",
			Fonts:  []string{"Arial", "Courier"},
		},
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Fingerprint == nil || got.Fingerprint.Canvas != "c1" {
		t.Fatalf("Fingerprint = %+v, want canvas c1", got.Fingerprint)
	}
	if len(got.Fingerprint.Fonts) != 2 {
		t.Errorf("Fonts = %v, want the stored list", got.Fingerprint.Fonts)
	}
}

func TestRecordLocationFixKeepsHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertSession(ctx, &types.Session{ID: "s1"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if id, err := s.RecordLocationFix(ctx, "s1", nil); err != nil || id != "" {
		t.Fatalf("nil fix: id=%q err=%v, want empty and nil", id, err)
	}

	acc := 10.0
	for i := 0; i < 2; i++ {
		if _, err := s.RecordLocationFix(ctx, "s1", &types.LocationFix{
			Latitude: 53.35, Longitude: -6.26, Accuracy: &acc,
			Source: types.SourceDevice,
		}); err != nil {
			t.Fatalf("fix %d: %v", i, err)
		}
	}

	fixes, err := s.ListLocationFixes(ctx, 0)
	if err != nil {
		t.Fatalf("ListLocationFixes: %v", err)
	}
	if len(fixes) != 2 {
		t.Fatalf("got %d fixes, want both retained", len(fixes))
	}
	if fixes[0].Accuracy == nil || *fixes[0].Accuracy != 10.0 {
		t.Errorf("Accuracy = %v, want 10", fixes[0].Accuracy)
	}
}

func TestRecordLocationFixOrphanViolatesConstraint(t *testing.T) {
	s := newTestStore(t)

	_, err := s.RecordLocationFix(context.Background(), "ghost", &types.LocationFix{
		Latitude: 1, Longitude: 1, Source: types.SourceDevice,
	})
	if !errors.Is(err, errors.ErrConstraintViolation) {
		t.Errorf("error = %v, want ErrConstraintViolation", err)
	}
}

func TestAppendInteractionWithoutSession(t *testing.T) {
	s := newTestStore(t)

	// Events may arrive before their session; no foreign key here.
	id, err := s.AppendInteraction(context.Background(), &types.Interaction{
		SessionID: "not-yet-created",
		Type:      "click",
		Data:      map[string]any{"x": 10.0, "y": 20.0},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if id == "" {
		t.Error("id must be generated")
	}

	got, err := s.ListInteractions(context.Background(), "not-yet-created")
	if err != nil {
		t.Fatalf("ListInteractions: %v", err)
	}
	if len(got) != 1 || got[0].Data["x"] != 10.0 {
		t.Errorf("interactions = %+v, want the stored event", got)
	}
}

func TestStatisticsAndClear(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, sid := range []string{"s1", "s2"} {
		if err := s.UpsertSession(ctx, &types.Session{ID: sid}); err != nil {
			t.Fatalf("upsert %s: %v", sid, err)
		}
	}
	if _, err := s.RecordLocationFix(ctx, "s1", &types.LocationFix{
		Latitude: 53.35, Longitude: -6.26, Source: types.SourceDevice,
	}); err != nil {
		t.Fatalf("fix: %v", err)
	}
	if _, err := s.RecordAddressGeolocation(ctx, "s1", &types.AddressGeolocation{
		Status: types.StatusSuccess, City: "Dublin",
	}); err != nil {
		t.Fatalf("geolocation: %v", err)
	}
	if _, err := s.AppendInteraction(ctx, &types.Interaction{SessionID: "s1", Type: "click"}); err != nil {
		t.Fatalf("interaction: %v", err)
	}

	stats, err := s.Statistics(ctx)
	if err != nil {
		t.Fatalf("Statistics: %v", err)
	}
	if stats.Sessions != 2 || stats.LocationFixes != 1 || stats.Interactions != 1 {
		t.Errorf("counts = %d/%d/%d, want 2/1/1", stats.Sessions, stats.LocationFixes, stats.Interactions)
	}
	if stats.LocationRate != "50.00%" {
		t.Errorf("LocationRate = %q, want 50.00%%", stats.LocationRate)
	}

	snapshot, err := s.ExportAll(ctx)
	if err != nil {
		t.Fatalf("ExportAll: %v", err)
	}
	if len(snapshot.Sessions) != 2 || len(snapshot.Geolocations) != 1 {
		t.Errorf("snapshot = %d sessions / %d geolocations, want 2/1",
			len(snapshot.Sessions), len(snapshot.Geolocations))
	}

	if err := s.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}
	stats, err = s.Statistics(ctx)
	if err != nil {
		t.Fatalf("Statistics after clear: %v", err)
	}
	if stats.Sessions != 0 || stats.LocationFixes != 0 || stats.Interactions != 0 {
		t.Errorf("counts after clear = %d/%d/%d, want all zero",
			stats.Sessions, stats.LocationFixes, stats.Interactions)
	}
}

func TestClearAllWithReferencedSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Populate every table that declares a foreign key to sessions.
	if err := s.UpsertSession(ctx, &types.Session{
		ID:          "s1",
		Fingerprint: &types.Fingerprint{Canvas: "c1"},
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := s.RecordLocationFix(ctx, "s1", &types.LocationFix{
		Latitude: 53.35, Longitude: -6.26, Source: types.SourceDevice,
	}); err != nil {
		t.Fatalf("fix: %v", err)
	}
	if _, err := s.RecordAddressGeolocation(ctx, "s1", &types.AddressGeolocation{
		Status: types.StatusSuccess, City: "Dublin",
	}); err != nil {
		t.Fatalf("geolocation: %v", err)
	}

	if err := s.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll with referenced session: %v", err)
	}

	sessions, err := s.ListSessions(ctx, 0)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Errorf("got %d sessions after clear, want 0", len(sessions))
	}
}

func TestExportIncludesFingerprints(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertSession(ctx, &types.Session{
		ID:          "s1",
		Fingerprint: &types.Fingerprint{Canvas: "c1", Fonts: []string{"Arial"}},
	}); err != nil {
		t.Fatalf("upsert s1: %v", err)
	}
	if err := s.UpsertSession(ctx, &types.Session{ID: "s2"}); err != nil {
		t.Fatalf("upsert s2: %v", err)
	}

	snapshot, err := s.ExportAll(ctx)
	if err != nil {
		t.Fatalf("ExportAll: %v", err)
	}
	if len(snapshot.Sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(snapshot.Sessions))
	}
	for _, sess := range snapshot.Sessions {
		switch sess.ID {
		case "s1":
			if sess.Fingerprint == nil || sess.Fingerprint.Canvas != "c1" {
				t.Errorf("s1 fingerprint = %+v, want canvas c1", sess.Fingerprint)
			}
		case "s2":
			if sess.Fingerprint != nil {
				t.Errorf("s2 fingerprint = %+v, want none", sess.Fingerprint)
			}
		}
	}
}

func TestFindNearOrdersByDistance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertSession(ctx, &types.Session{ID: "s1"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	coords := []struct {
		id       string
		lat, lon float64
	}{
		{"far", 53.40, -6.26},
		{"nearest", 53.3499, -6.2603},
		{"london", 51.5074, -0.1278},
	}
	for _, c := range coords {
		if _, err := s.RecordLocationFix(ctx, "s1", &types.LocationFix{
			ID: c.id, Latitude: c.lat, Longitude: c.lon, Source: types.SourceDevice,
		}); err != nil {
			t.Fatalf("fix %s: %v", c.id, err)
		}
	}

	got, err := s.FindNear(ctx, -6.2603, 53.3498, 10000)
	if err != nil {
		t.Fatalf("FindNear: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d fixes within 10 km, want 2", len(got))
	}
	if got[0].ID != "nearest" || got[1].ID != "far" {
		t.Errorf("order = %q, %q, want nearest first", got[0].ID, got[1].ID)
	}
}

func TestConcurrentUpserts(t *testing.T) {
	s := newTestStore(t)
	gt := beacontest.NewGoroutineTest(t)

	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("concurrent-%d", i)
		gt.GoWithContext(func(ctx context.Context) error {
			if err := s.UpsertSession(ctx, &types.Session{ID: id, Platform: "Linux"}); err != nil {
				return fmt.Errorf("upsert %s: %w", id, err)
			}
			return nil
		})
	}
	gt.Wait()

	sessions, err := s.ListSessions(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 10 {
		t.Errorf("got %d sessions after concurrent upserts, want 10", len(sessions))
	}
}

func TestClosedStoreRejectsOperations(t *testing.T) {
	s := newTestStore(t)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	err := s.UpsertSession(context.Background(), &types.Session{ID: "s1"})
	if !errors.Is(err, errors.ErrStorageClosed) {
		t.Errorf("error = %v, want ErrStorageClosed", err)
	}
}
