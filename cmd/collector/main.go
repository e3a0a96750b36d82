package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"osprey-eyes/mindseye/internal/batch"
	"osprey-eyes/mindseye/internal/config"
	"osprey-eyes/mindseye/internal/db"
	"osprey-eyes/mindseye/internal/db/repositories"
	"osprey-eyes/mindseye/internal/dispatch"
	"osprey-eyes/mindseye/internal/geofs"
	"osprey-eyes/mindseye/internal/httpclient"
	"osprey-eyes/mindseye/internal/jobs"
	"osprey-eyes/mindseye/internal/logging"
	"osprey-eyes/mindseye/internal/metrics"
	"osprey-eyes/mindseye/internal/routes"
	"osprey-eyes/mindseye/internal/tracker"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: no .env file loaded: %v", err)
	}

	settings, err := config.FromEnv()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := logging.Init(settings.AppEnv); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logging.Close()

	logging.Info("MindsEye collector starting up",
		"environment", settings.AppEnv,
		"timestamp", time.Now().Format(time.RFC3339),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := db.InitMongo(ctx, settings.MongoURI, settings.MongoDatabase); err != nil {
		logging.Fatal("Failed to connect to Mongo", "error", err.Error())
	}
	defer db.Close(context.Background())
	logging.Info("Connected to Mongo", "database", settings.MongoDatabase)

	pilotRepo := repositories.NewPilotRepository(db.Database)
	forceRepo := repositories.NewForceRepository(db.Database)
	telemetryRepo := repositories.NewTelemetryRepository(db.Database)
	configRepo := repositories.NewConfigRepository(db.Database)

	if err := pilotRepo.EnsureIndexes(ctx); err != nil {
		// Duplicates from before the unique index block creation;
		// clean them up and try once more.
		logging.Warn("Index creation failed, running duplicate cleanup", "error", err.Error())
		if deleted, cerr := pilotRepo.CleanupDuplicates(ctx); cerr != nil {
			logging.Error("Duplicate cleanup failed", "error", cerr.Error())
		} else {
			logging.Info("Duplicate cleanup complete", "deleted", deleted)
		}
		if err := pilotRepo.EnsureIndexes(ctx); err != nil {
			logging.Fatal("Failed to create indexes", "error", err.Error())
		}
	}

	if err := configRepo.Reconcile(ctx); err != nil {
		logging.Fatal("Failed to reconcile configuration schema", "error", err.Error())
	}

	aircraft, err := geofs.LoadAircraftTable(envOr("AIRCRAFT_CODES_PATH", "data/aircraftcodes.json"))
	if err != nil {
		logging.Fatal("Failed to load aircraft codes", "error", err.Error())
	}
	logging.Info("Aircraft reference table loaded", "codes", aircraft.Len())

	reg := metrics.NewRegistry()

	mapClient := geofs.NewMapClient(geofs.DefaultBaseURL, aircraft, settings.PinnedCertPath)
	chatClient := geofs.NewChatClient(geofs.DefaultBaseURL, settings.SessionID, settings.AccountID, settings.PinnedCertPath)

	logging.Info("Performing multiplayer handshake")
	if err := chatClient.Handshake(ctx); err != nil {
		logging.Fatal("Handshake aborted", "error", err.Error())
	}

	webhookClient := httpclient.New(httpclient.Options{})
	set := dispatch.NewSet(webhookClient, settings.WebhookBaseURL, dispatch.Options{
		BatchSize:    settings.DispatchBatchSize,
		FlushTimeout: settings.DispatchFlushTimeout,
		RatePerSec:   settings.DispatchRatePerSec,
	}, reg)

	buffer := batch.NewBuffer("users", pilotRepo, settings.WriteBatchSize, settings.WriteFlushInterval, reg)

	engine := tracker.NewEngine(
		mapClient,
		pilotRepo,
		forceRepo,
		telemetryRepo,
		buffer,
		set,
		tracker.Config{
			OfflineGrace: settings.OfflineGrace,
			TeleportKm:   settings.TeleportKm,
		},
		reg,
	)

	job := jobs.NewCollectorJob(
		engine,
		chatClient,
		mapClient,
		configRepo,
		telemetryRepo,
		buffer,
		set,
		jobs.Schedule{
			TickInterval:     settings.TickInterval,
			LocationInterval: settings.LocationInterval,
			HourlyInterval:   settings.HourlyInterval,
		},
		settings.BotCallsign,
	)

	upSince := time.Now()
	router := routes.RegisterRoutes(db.Client, engine, set, configRepo, upSince)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", router)

	server := &http.Server{Addr: settings.OpsListenAddr, Handler: mux}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return set.Run(gctx)
	})

	g.Go(func() error {
		return job.Run(gctx)
	})

	g.Go(func() error {
		logging.Info("Ops server starting", "addr", settings.OpsListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logging.Error("Collector exited with error", "error", err.Error())
		os.Exit(1)
	}
	logging.Info("Collector shut down cleanly")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
