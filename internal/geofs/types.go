package geofs

import (
	"encoding/json"
	"math"
	"time"
)

// FlexID decodes an upstream identifier that may arrive as a JSON
// string or number. The protocol is not consistent about this.
type FlexID string

func (f *FlexID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexID(n.String())
	return nil
}

func (f FlexID) String() string { return string(f) }

// PilotSnapshot is one instant-in-time observation of a connected
// pilot, already converted to display units.
type PilotSnapshot struct {
	AccountID       string
	Callsign        string
	AircraftCode    string
	AircraftType    string
	Lat             float64
	Lon             float64
	AltitudeFt      float64
	VerticalSpeedFt float64
	Airspeed        float64
}

// ChatMessage is a decoded multiplayer chat line.
type ChatMessage struct {
	AccountID string    `bson:"acid"`
	Callsign  string    `bson:"cs"`
	Text      string    `bson:"msg"`
	FetchedAt time.Time `bson:"datetime"`
}

// metersToFeet converts upstream altitude/vertical-speed values, which
// arrive in meters, to feet rounded to two decimals.
func metersToFeet(m float64) float64 {
	return math.Round(m*3.28084*100) / 100
}

// ---- wire types ----

// updateRequest is the body of every POST to the chat/presence
// endpoint. Most fields are protocol placeholders held constant.
type updateRequest struct {
	Origin      string      `json:"origin"`
	AccountID   string      `json:"acid"`
	SessionID   string      `json:"sid"`
	ID          string      `json:"id"`
	Aircraft    string      `json:"ac"`
	Coordinates []float64   `json:"co"`
	Velocity    []float64   `json:"ve"`
	State       updateState `json:"st"`
	Timestamp   *int64      `json:"ti"`
	Message     string      `json:"m"`
	ChatIndex   interface{} `json:"ci"`
}

type updateState struct {
	Grounded bool    `json:"gr"`
	Airspeed float64 `json:"as"`
}

type updateResponse struct {
	MyID         FlexID        `json:"myId"`
	LastMsgID    FlexID        `json:"lastMsgId"`
	ChatMessages []wireMessage `json:"chatMessages"`
}

type wireMessage struct {
	AccountID FlexID `json:"acid"`
	Callsign  string `json:"cs"`
	Message   string `json:"msg"`
}

type mapRequest struct {
	ID  string      `json:"id"`
	GID interface{} `json:"gid"`
}

type mapResponse struct {
	Users []mapUser `json:"users"`
}

type mapUser struct {
	AccountID   *FlexID    `json:"acid"`
	Callsign    string     `json:"cs"`
	State       *mapState  `json:"st"`
	Coordinates []*float64 `json:"co"`
	Aircraft    FlexID     `json:"ac"`
}

type mapState struct {
	Airspeed *float64 `json:"as"`
	Grounded bool     `json:"gr"`
}

// coord returns the i-th coordinate, treating nulls and short arrays
// as zero the way the upstream feed requires.
func (u *mapUser) coord(i int) float64 {
	if i >= len(u.Coordinates) || u.Coordinates[i] == nil {
		return 0
	}
	return *u.Coordinates[i]
}
