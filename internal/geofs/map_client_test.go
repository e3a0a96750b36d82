package geofs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func testAircraftTable(t *testing.T) *AircraftTable {
	t.Helper()
	path := filepath.Join(t.TempDir(), "aircraftcodes.json")
	data := `{"2": {"name": "Cessna 172"}, "23": {"name": "Lockheed Martin F-16"}}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("Failed to write aircraft codes: %v", err)
	}
	table, err := LoadAircraftTable(path)
	if err != nil {
		t.Fatalf("LoadAircraftTable failed: %v", err)
	}
	return table
}

func mapServerWith(t *testing.T, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/map" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(body))
	}))
}

func TestGetPlayers_FiltersAndConverts(t *testing.T) {
	server := mapServerWith(t, `{"users": [
		{"acid": 42, "cs": "RAF01", "ac": "23", "co": [51.5, -0.1, 100, 2], "st": {"as": 250.5, "gr": false}},
		{"acid": "43", "cs": "Foo", "ac": "2", "co": [0, 0, 0, 0]},
		{"acid": null, "cs": "GHOST", "ac": "2"},
		{"acid": "", "cs": "BLANK", "ac": "2"},
		{"acid": "44", "cs": "CESSNA1", "ac": "99", "co": [10, 20, null, 0]}
	]}`)
	defer server.Close()

	m := NewMapClient(server.URL, testAircraftTable(t), "")
	players, err := m.GetPlayers(context.Background(), RealPlayersOnly)
	if err != nil {
		t.Fatalf("GetPlayers failed: %v", err)
	}

	if len(players) != 2 {
		t.Fatalf("Expected 2 real players, got %d", len(players))
	}

	p := players[0]
	if p.AccountID != "42" || p.Callsign != "RAF01" {
		t.Errorf("Unexpected first player: %+v", p)
	}
	if p.AircraftType != "Lockheed Martin F-16" {
		t.Errorf("Expected aircraft name resolved, got %q", p.AircraftType)
	}
	// 100 m is 328.08 ft
	if p.AltitudeFt != 328.08 {
		t.Errorf("Expected altitude 328.08 ft, got %f", p.AltitudeFt)
	}
	if p.Airspeed != 250.5 {
		t.Errorf("Expected airspeed passed through, got %f", p.Airspeed)
	}

	q := players[1]
	if q.AircraftType != UnknownAircraftType {
		t.Errorf("Expected unknown code mapped to %q, got %q", UnknownAircraftType, q.AircraftType)
	}
	// Null coordinate entries read as zero
	if q.AltitudeFt != 0 {
		t.Errorf("Expected zero altitude for null coordinate, got %f", q.AltitudeFt)
	}
	// Missing state means zero airspeed
	if q.Airspeed != 0 {
		t.Errorf("Expected zero airspeed without state, got %f", q.Airspeed)
	}
}

func TestGetPlayers_PlaceholderFilter(t *testing.T) {
	server := mapServerWith(t, `{"users": [
		{"acid": "1", "cs": "RAF01", "ac": "2"},
		{"acid": "2", "cs": "Foo", "ac": "2"}
	]}`)
	defer server.Close()

	m := NewMapClient(server.URL, testAircraftTable(t), "")

	placeholders, err := m.GetPlayers(context.Background(), OnlyPlaceholders)
	if err != nil {
		t.Fatalf("GetPlayers failed: %v", err)
	}
	if len(placeholders) != 1 || placeholders[0].AccountID != "2" {
		t.Errorf("Expected only the placeholder entity, got %+v", placeholders)
	}

	all, err := m.GetPlayers(context.Background(), AllPlayers)
	if err != nil {
		t.Fatalf("GetPlayers failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("Expected both users with AllPlayers, got %d", len(all))
	}
}
