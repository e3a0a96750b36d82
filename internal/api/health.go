package api

import (
	"encoding/json"
	"net/http"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"osprey-eyes/mindseye/internal/models"
)

// HealthCheckHandler handles GET /healthCheck
func HealthCheckHandler(client *mongo.Client, upSince time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {

		services := make(map[string]models.ServiceStatus)

		mongoStatus := "ok"
		mongoDetails := "Mongo connected"
		if err := client.Ping(r.Context(), readpref.Primary()); err != nil {
			mongoStatus = "down"
			mongoDetails = err.Error()
		}
		services["mongo"] = models.ServiceStatus{
			Status:  mongoStatus,
			Details: mongoDetails,
		}

		overallStatus := "ok"
		for _, svc := range services {
			if svc.Status != "ok" {
				overallStatus = "down"
				break
			}
		}

		resp := models.HealthCheckResponse{
			Services: services,
			Status:   overallStatus,
			Uptime:   time.Since(upSince).Round(time.Second).String(),
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}
