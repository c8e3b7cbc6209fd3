package main

import (
	"context"
	"fmt"
	"os"

	"github.com/agritrust/agritrust-backend/internal/clients/graph"
	"github.com/agritrust/agritrust-backend/internal/clients/ledger"
	"github.com/agritrust/agritrust-backend/internal/clients/redis"
	"github.com/agritrust/agritrust-backend/internal/clients/scorer"
	"github.com/agritrust/agritrust-backend/internal/config"
	"github.com/agritrust/agritrust-backend/internal/db"
	"github.com/agritrust/agritrust-backend/internal/handlers"
	"github.com/agritrust/agritrust-backend/internal/logger"
	"github.com/agritrust/agritrust-backend/internal/middleware"
	"github.com/agritrust/agritrust-backend/internal/observability"
	"github.com/agritrust/agritrust-backend/internal/repos"
	"github.com/agritrust/agritrust-backend/internal/server"
	"github.com/agritrust/agritrust-backend/internal/services"
	"github.com/agritrust/agritrust-backend/internal/temporalx"
	"github.com/agritrust/agritrust-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Config
	log.Info("Loading scoring configuration from main...")
	cfg, err := config.Load("", log)
	if err != nil {
		log.Warn("Config load failed; continuing with defaults", "error", err)
	}

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Warn("Postgres auto migration failed", "error", err)
	}
	thePG := postgresService.DB()

	// Tracing
	ctx := context.Background()
	shutdownOTel := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "agritrust-backend",
		Environment: utils.GetEnv("APP_ENV", "development", log),
		Version:     utils.GetEnv("APP_VERSION", "dev", log),
	})
	if shutdownOTel != nil {
		defer shutdownOTel(ctx)
	}

	// Repos
	log.Info("Setting up Repos from main...")
	batchRepo := repos.NewBatchRepo(thePG, log)
	checkpointRepo := repos.NewCheckpointRepo(thePG, log)
	evidenceRepo := repos.NewEvidenceRepo(thePG, log)
	trustSnapshotRepo := repos.NewTrustSnapshotRepo(thePG, log)
	fraudFlagRepo := repos.NewFraudFlagRepo(thePG, log)
	behaviorWindowRepo := repos.NewBehaviorWindowRepo(thePG, log)

	// Clients
	log.Info("Setting up external clients from main...")
	evidenceScorer := scorer.NewClient(log)
	ledgerClient := ledger.NewClient(log)
	snapshotCache, err := redis.NewSnapshotCache(log)
	if err != nil {
		log.Warn("Redis cache unavailable; latest-snapshot reads hit the database", "error", err)
	}
	provenanceGraph, err := graph.NewFromEnv(log)
	if err != nil {
		log.Warn("Neo4j provenance graph unavailable", "error", err)
	}
	if provenanceGraph != nil {
		defer provenanceGraph.Close(ctx)
	}
	temporalClient, err := temporalx.NewClient(log)
	if err != nil {
		log.Warn("Temporal unavailable; anchoring runs on the in-process worker", "error", err)
	}
	if temporalClient != nil {
		defer temporalClient.Close()
		stopWorker, err := temporalx.StartAnchorWorker(temporalClient, thePG, log, ledgerClient)
		if err != nil {
			log.Warn("Temporal anchor worker failed to start", "error", err)
		} else {
			defer stopWorker()
		}
	}

	// Services
	log.Info("Setting up Services from main...")
	anchorService := services.NewAnchorService(thePG, log, cfg.Anchor, ledgerClient, batchRepo, checkpointRepo, temporalClient)
	anchorService.Start(ctx)
	evidenceService := services.NewEvidenceService(thePG, log, evidenceRepo)
	qualityService := services.NewQualityService(log, cfg.Quality)
	lifecycleService := services.NewLifecycleService(thePG, log, cfg, batchRepo, checkpointRepo, fraudFlagRepo, anchorService, provenanceGraph)
	batchService := services.NewBatchService(thePG, log, cfg, batchRepo, checkpointRepo, evidenceRepo, fraudFlagRepo, evidenceService, qualityService, anchorService, provenanceGraph)
	trustService := services.NewTrustService(thePG, log, cfg.Trust, evidenceRepo, trustSnapshotRepo, fraudFlagRepo, evidenceScorer, snapshotCache)
	behaviorService := services.NewBehaviorService(thePG, log, cfg.Behavior, behaviorWindowRepo, fraudFlagRepo, evidenceRepo)

	// Handlers
	log.Info("Setting up handlers from main...")
	batchHandler := handlers.NewBatchHandler(log, batchService, lifecycleService)
	trustHandler := handlers.NewTrustHandler(log, trustService)
	evidenceHandler := handlers.NewEvidenceHandler(log, evidenceService)
	fraudHandler := handlers.NewFraudHandler(log, fraudFlagRepo)
	telemetryHandler := handlers.NewTelemetryHandler(log, behaviorService)

	// Middleware
	log.Info("Setting up middleware from main...")
	identityMiddleware := middleware.NewIdentityMiddleware(log)

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		ServiceName:        "agritrust-backend",
		IdentityMiddleware: identityMiddleware,
		BatchHandler:       batchHandler,
		TrustHandler:       trustHandler,
		EvidenceHandler:    evidenceHandler,
		FraudHandler:       fraudHandler,
		TelemetryHandler:   telemetryHandler,
	})

	port := utils.GetEnv("PORT", "8080", log)
	fmt.Printf("Server listening on :%s\n", port)
	if err := router.Run(":" + port); err != nil {
		log.Warn("Server failed", "error", err)
	}
}
