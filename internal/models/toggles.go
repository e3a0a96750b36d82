package models

import "go.mongodb.org/mongo-driver/bson"

// Toggles are the feature flags the orchestrator re-reads every tick.
// They are owned by the chat front end; the collector consumes them
// read-only.
type Toggles struct {
	SaveChatMessages         bool `bson:"saveChatMessages" json:"saveChatMessages"`
	AccumulateHeatMap        bool `bson:"accumulateHeatMap" json:"accumulateHeatMap"`
	StoreUsers               bool `bson:"storeUsers" json:"storeUsers"`
	DisplayCallsignChanges   bool `bson:"displayCallsignChanges" json:"displayCallsignChanges"`
	DisplayNewAccounts       bool `bson:"displayNewAccounts" json:"displayNewAccounts"`
	LogAircraftChanges       bool `bson:"logAircraftChanges" json:"logAircraftChanges"`
	LogAircraftDistributions bool `bson:"logAircraftDistributions" json:"logAircraftDistributions"`
	CountUsers               bool `bson:"countUsers" json:"countUsers"`
}

// DefaultConfiguration is the known schema of the configurations
// document. On startup the stored document is reconciled against it:
// unknown keys stripped, missing keys backfilled with these values.
// The channel identifiers are opaque to the collector and only
// forwarded to the notification front end.
func DefaultConfiguration() bson.M {
	return bson.M{
		"saveChatMessages":         false,
		"accumulateHeatMap":        false,
		"storeUsers":               false,
		"displayCallsignChanges":   false,
		"displayNewAccounts":       false,
		"logAircraftChanges":       false,
		"logAircraftDistributions": false,
		"countUsers":               false,
		"callsignChangeLogChannel": nil,
		"newAccountLogChannel":     nil,
		"aircraftChangeLogChannel": nil,
	}
}
