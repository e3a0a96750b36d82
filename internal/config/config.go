package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Settings holds everything the collector reads from the process
// environment at startup. Feature toggles are NOT here: those live in
// the configurations collection and are re-read every tick.
type Settings struct {
	AppEnv string

	MongoURI      string
	MongoDatabase string

	// GeoFS credentials for the multiplayer session
	SessionID string
	AccountID string

	// Base URL of the notification front end that receives webhook batches
	WebhookBaseURL string

	// Callsign the chat bot answers to; mentions trigger /bot-mention
	BotCallsign string

	OpsListenAddr string

	TickInterval     time.Duration
	OfflineGrace     time.Duration
	TeleportKm       float64
	LocationInterval time.Duration
	HourlyInterval   time.Duration

	WriteBatchSize     int
	WriteFlushInterval time.Duration

	DispatchBatchSize    int
	DispatchFlushTimeout time.Duration
	DispatchRatePerSec   float64

	PinnedCertPath string
}

// FromEnv builds Settings from environment variables, applying the
// defaults the collector was tuned with. Only the Mongo URI and the
// GeoFS credentials are required.
func FromEnv() (*Settings, error) {
	s := &Settings{
		AppEnv:               envOr("APP_ENV", "development"),
		MongoURI:             os.Getenv("MONGODB_URI"),
		MongoDatabase:        envOr("MONGODB_DATABASE", "OspreyEyes"),
		SessionID:            os.Getenv("GEOFS_SESSION_ID"),
		AccountID:            os.Getenv("GEOFS_ACCOUNT_ID"),
		WebhookBaseURL:       envOr("WEBHOOK_BASE_URL", "http://127.0.0.1:5001"),
		BotCallsign:          envOr("BOT_CALLSIGN", "MindsEye"),
		OpsListenAddr:        envOr("OPS_LISTEN_ADDR", ":8080"),
		TickInterval:         envDuration("TICK_INTERVAL", time.Second),
		OfflineGrace:         envDuration("OFFLINE_GRACE", time.Minute),
		TeleportKm:           envFloat("TELEPORT_KM", 50),
		LocationInterval:     envDuration("LOCATION_INTERVAL", 30*time.Minute),
		HourlyInterval:       envDuration("HOURLY_INTERVAL", time.Hour),
		WriteBatchSize:       envInt("WRITE_BATCH_SIZE", 50),
		WriteFlushInterval:   envDuration("WRITE_FLUSH_INTERVAL", 5*time.Second),
		DispatchBatchSize:    envInt("DISPATCH_BATCH_SIZE", 20),
		DispatchFlushTimeout: envDuration("DISPATCH_FLUSH_TIMEOUT", 10*time.Second),
		DispatchRatePerSec:   envFloat("DISPATCH_RATE_PER_SEC", 5),
		PinnedCertPath:       envOr("PINNED_CERT_PATH", "pinned-server-cert.pem"),
	}

	if s.MongoURI == "" {
		return nil, fmt.Errorf("MONGODB_URI is not set")
	}
	if s.SessionID == "" || s.AccountID == "" {
		return nil, fmt.Errorf("GEOFS_SESSION_ID and GEOFS_ACCOUNT_ID must be set")
	}

	return s, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
