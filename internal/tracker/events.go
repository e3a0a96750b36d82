package tracker

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"osprey-eyes/mindseye/internal/models"
)

// Event is one detected state transition. Each variant carries its own
// strongly-typed payload and serializes uniformly into the pilot's
// append-only event log.
type Event interface {
	Type() string
	Record(at time.Time) models.EventRecord
}

// OnlineEvent marks a pilot appearing in the snapshot after being
// offline.
type OnlineEvent struct {
	Callsign string
}

func (e OnlineEvent) Type() string { return models.EventOnline }

func (e OnlineEvent) Record(at time.Time) models.EventRecord {
	return models.EventRecord{
		Type:      e.Type(),
		Timestamp: at,
		Payload:   bson.M{"callsign": e.Callsign},
	}
}

// OfflineEvent marks a pilot absent from the snapshot beyond the grace
// period.
type OfflineEvent struct {
	Callsign string
}

func (e OfflineEvent) Type() string { return models.EventOffline }

func (e OfflineEvent) Record(at time.Time) models.EventRecord {
	return models.EventRecord{
		Type:      e.Type(),
		Timestamp: at,
		Payload:   bson.M{"callsign": e.Callsign},
	}
}

// CallsignChangeEvent records a rename observed while online.
type CallsignChangeEvent struct {
	OldCallsign string
	NewCallsign string
}

func (e CallsignChangeEvent) Type() string { return models.EventCallsignChange }

func (e CallsignChangeEvent) Record(at time.Time) models.EventRecord {
	return models.EventRecord{
		Type:      e.Type(),
		Timestamp: at,
		Payload:   bson.M{"oldCallsign": e.OldCallsign, "newCallsign": e.NewCallsign},
	}
}

// AircraftChangeEvent records a switch to a different aircraft type.
type AircraftChangeEvent struct {
	Callsign    string
	OldAircraft string
	NewAircraft string
}

func (e AircraftChangeEvent) Type() string { return models.EventAircraftChange }

func (e AircraftChangeEvent) Record(at time.Time) models.EventRecord {
	return models.EventRecord{
		Type:      e.Type(),
		Timestamp: at,
		Payload:   bson.M{"callsign": e.Callsign, "oldAircraft": e.OldAircraft, "newAircraft": e.NewAircraft},
	}
}

// TeleportationEvent is an anomaly marker for an implausibly large
// single-cycle position jump. Never forwarded as a webhook.
type TeleportationEvent struct {
	From       models.GeoPoint
	To         models.GeoPoint
	DistanceKm float64
}

func (e TeleportationEvent) Type() string { return models.EventTeleportation }

func (e TeleportationEvent) Record(at time.Time) models.EventRecord {
	return models.EventRecord{
		Type:      e.Type(),
		Timestamp: at,
		Payload: bson.M{
			"fromLat":    e.From.Lat,
			"fromLon":    e.From.Lon,
			"toLat":      e.To.Lat,
			"toLon":      e.To.Lon,
			"distanceKm": e.DistanceKm,
		},
	}
}
