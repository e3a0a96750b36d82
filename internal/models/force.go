package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Patrol is a time interval during which a pilot's callsign matched a
// force's filter while online. EndTime nil means the patrol is still
// open; duration is derived later by clients as EndTime - StartTime.
type Patrol struct {
	AccountID string     `bson:"accountId"`
	Callsign  string     `bson:"callsign"`
	StartTime time.Time  `bson:"startTime"`
	EndTime   *time.Time `bson:"endTime"`
}

// Force is a tracked unit with a callsign filter pattern. At most one
// open patrol per (force, accountId) at any time.
type Force struct {
	ID             primitive.ObjectID `bson:"_id,omitempty"`
	Name           string             `bson:"name"`
	CallsignFilter string             `bson:"callsignFilter"`
	Patrols        []Patrol           `bson:"patrols"`
}
