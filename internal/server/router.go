package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/agritrust/agritrust-backend/internal/handlers"
	"github.com/agritrust/agritrust-backend/internal/middleware"
)

type RouterConfig struct {
	ServiceName        string
	IdentityMiddleware *middleware.IdentityMiddleware
	BatchHandler       *handlers.BatchHandler
	TrustHandler       *handlers.TrustHandler
	EvidenceHandler    *handlers.EvidenceHandler
	FraudHandler       *handlers.FraudHandler
	TelemetryHandler   *handlers.TelemetryHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()
	router.Use(otelgin.Middleware(cfg.ServiceName))

	// Cors
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://localhost:80",
			"http://localhost:3000",
			"http://localhost:5174",
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With", "X-User-ID"},
		AllowCredentials: true,
	}))

	// ===============
	// || Public    ||
	// ===============
	router.GET("/healthcheck", handlers.HealthCheck)

	// ===============
	// || Protected ||
	// ===============
	api := router.Group("/api")
	api.Use(cfg.IdentityMiddleware.RequireIdentity())
	// Batches
	api.POST("/batches", cfg.BatchHandler.CreateBatch)
	api.GET("/batches", cfg.BatchHandler.ListBatches)
	api.GET("/batches/:id", cfg.BatchHandler.GetBatch)
	api.GET("/batches/:id/checkpoints", cfg.BatchHandler.ListCheckpoints)
	api.POST("/batches/:id/quality-checkpoints", cfg.BatchHandler.SubmitQualityCheckpoint)
	api.POST("/batches/:id/transitions", cfg.BatchHandler.AdvanceBatch)
	// Trust
	api.POST("/trust/:subjectId/assess", cfg.TrustHandler.Assess)
	api.GET("/trust/:subjectId", cfg.TrustHandler.Latest)
	api.GET("/trust/:subjectId/history", cfg.TrustHandler.History)
	// Evidence
	api.POST("/evidence", cfg.EvidenceHandler.RecordEvidence)
	api.POST("/evidence/:id/supersede", cfg.EvidenceHandler.SupersedeEvidence)
	api.GET("/evidence/subject/:subjectId", cfg.EvidenceHandler.ListBySubject)
	// Fraud flags
	api.GET("/fraud-flags/subject/:subjectId", cfg.FraudHandler.ListUnresolved)
	api.POST("/fraud-flags/:id/acknowledge", cfg.FraudHandler.Acknowledge)
	// Behavioral telemetry
	api.POST("/telemetry/sessions/:sessionId/events", cfg.TelemetryHandler.IngestEvents)
	api.POST("/telemetry/sessions/:sessionId/end", cfg.TelemetryHandler.EndSession)
	api.GET("/telemetry/sessions/:sessionId/windows", cfg.TelemetryHandler.ListWindows)

	return router
}
