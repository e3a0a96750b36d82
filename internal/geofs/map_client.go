package geofs

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"osprey-eyes/mindseye/internal/httpclient"
	"osprey-eyes/mindseye/internal/logging"
)

// PlayerFilter selects which accounts GetPlayers returns. The backend
// uses a reserved sentinel callsign for non-player entities; most
// callers only want real pilots.
type PlayerFilter int

const (
	OnlyPlaceholders PlayerFilter = iota
	RealPlayersOnly
	AllPlayers
)

// placeholderCallsign is the sentinel the backend assigns to system
// entities on the map feed.
const placeholderCallsign = "Foo"

// MapClient fetches the live pilot snapshot from the map endpoint. It
// is stateless aside from the aircraft-code reference table.
type MapClient struct {
	http     *httpclient.Client
	baseURL  string
	aircraft *AircraftTable
	log      *zap.SugaredLogger
}

func NewMapClient(baseURL string, aircraft *AircraftTable, pinnedCertPath string) *MapClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &MapClient{
		http:     httpclient.New(httpclient.Options{PinnedCertPath: pinnedCertPath}),
		baseURL:  baseURL,
		aircraft: aircraft,
		log:      logging.WithComponent("map_client"),
	}
}

// GetPlayers returns one snapshot per connected user passing the
// filter. Users without an account id are skipped; unknown aircraft
// codes map to the "Unknown" type.
func (m *MapClient) GetPlayers(ctx context.Context, filter PlayerFilter) ([]PilotSnapshot, error) {
	raw, err := m.http.PostJSON(ctx, m.baseURL+"/map", mapRequest{ID: "", GID: nil})
	if err != nil {
		return nil, fmt.Errorf("map request failed: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("empty response from map endpoint")
	}

	var resp mapResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode map response: %w", err)
	}

	snapshots := make([]PilotSnapshot, 0, len(resp.Users))
	for i := range resp.Users {
		u := &resp.Users[i]
		if u.AccountID == nil || *u.AccountID == "" {
			continue
		}

		switch filter {
		case RealPlayersOnly:
			if u.Callsign == placeholderCallsign || u.Callsign == "" {
				continue
			}
		case OnlyPlaceholders:
			if u.Callsign != placeholderCallsign {
				continue
			}
		}

		airspeed := 0.0
		if u.State != nil && u.State.Airspeed != nil {
			airspeed = *u.State.Airspeed
		}

		code := u.Aircraft.String()
		snapshots = append(snapshots, PilotSnapshot{
			AccountID:       u.AccountID.String(),
			Callsign:        u.Callsign,
			AircraftCode:    code,
			AircraftType:    m.aircraft.Name(code),
			Lat:             u.coord(0),
			Lon:             u.coord(1),
			AltitudeFt:      metersToFeet(u.coord(2)),
			VerticalSpeedFt: metersToFeet(u.coord(3)),
			Airspeed:        airspeed,
		})
	}

	return snapshots, nil
}
