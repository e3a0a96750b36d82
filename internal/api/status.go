package api

import (
	"encoding/json"
	"net/http"
	"time"

	"osprey-eyes/mindseye/internal/dispatch"
	"osprey-eyes/mindseye/internal/tracker"
)

type statusResponse struct {
	Uptime     string         `json:"uptime"`
	Tracker    tracker.Stats  `json:"tracker"`
	QueueDepth map[string]int `json:"queueDepth"`
}

// StatusHandler handles GET /status: cycle counters and dispatch queue
// depths for the chat front end's dashboard.
func StatusHandler(engine *tracker.Engine, set *dispatch.Set, upSince time.Time) http.HandlerFunc {
	categories := []string{
		dispatch.CategoryNewAccount,
		dispatch.CategoryCallsignChange,
		dispatch.CategoryAircraftChange,
		dispatch.CategoryBotMention,
	}

	return func(w http.ResponseWriter, r *http.Request) {
		depths := make(map[string]int, len(categories))
		for _, c := range categories {
			depths[c] = set.Depth(c)
		}

		resp := statusResponse{
			Uptime:     time.Since(upSince).Round(time.Second).String(),
			Tracker:    engine.Stats(),
			QueueDepth: depths,
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}
