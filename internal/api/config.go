package api

import (
	"encoding/json"
	"net/http"

	"osprey-eyes/mindseye/internal/db/repositories"
)

// ConfigHandler handles GET /config: a read-only snapshot of the
// current feature toggles, so the dashboard shows what the collector
// will act on next tick. Writes go through the chat front end.
func ConfigHandler(repo *repositories.ConfigRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		toggles, err := repo.Load(r.Context())
		if err != nil {
			http.Error(w, "failed to load configuration", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(toggles)
	}
}
