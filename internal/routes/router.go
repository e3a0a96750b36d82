package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.mongodb.org/mongo-driver/mongo"

	"osprey-eyes/mindseye/internal/api"
	"osprey-eyes/mindseye/internal/db/repositories"
	"osprey-eyes/mindseye/internal/dispatch"
	"osprey-eyes/mindseye/internal/logging"
	"osprey-eyes/mindseye/internal/tracker"
)

// RegisterRoutes builds the ops router: health, status and the toggle
// snapshot for the chat front end's dashboard. The webhook receiver
// itself lives in the front end, not here.
func RegisterRoutes(client *mongo.Client, engine *tracker.Engine, set *dispatch.Set, configRepo *repositories.ConfigRepository, upSince time.Time) http.Handler {

	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://localhost:*"},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthCheck", api.HealthCheckHandler(client, upSince))
	r.Get("/status", api.StatusHandler(engine, set, upSince))
	r.Get("/config", api.ConfigHandler(configRepo))

	logging.Info("Ops router initialized")
	return r
}
