package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// GeoPoint is a stored lat/lon pair.
type GeoPoint struct {
	Lat float64 `bson:"lat"`
	Lon float64 `bson:"lon"`
}

// EventRecord is one entry of a pilot's append-only event log. Payload
// shape depends on the event type; see tracker.Event variants.
type EventRecord struct {
	Type      string    `bson:"eventType"`
	Timestamp time.Time `bson:"timestamp"`
	Payload   bson.M    `bson:"payload,omitempty"`
}

// PilotRecord is the persisted state of one account, keyed by the
// unique accountId. Created on first sighting, mutated on every cycle
// the account is seen or found to have gone offline, never deleted
// outside duplicate cleanup.
type PilotRecord struct {
	ID              primitive.ObjectID `bson:"_id,omitempty"`
	AccountID       string             `bson:"accountId"`
	CurrentCallsign string             `bson:"currentCallsign"`
	PastCallsigns   []string           `bson:"pastCallsigns,omitempty"`
	CurrentAircraft string             `bson:"currentAircraft"`
	Online          bool               `bson:"online"`
	LastOnline      time.Time          `bson:"lastOnline"`
	LastPosition    GeoPoint           `bson:"lastPosition"`
	Events          []EventRecord      `bson:"events"`
}

// Event type tags as stored in the event log.
const (
	EventOnline         = "online"
	EventOffline        = "offline"
	EventCallsignChange = "callsignChange"
	EventAircraftChange = "aircraftChange"
	EventTeleportation  = "teleportation"
)
