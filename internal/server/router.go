package server

import (
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/engineo-ai/engineo-backend/internal/handlers"
	"github.com/engineo-ai/engineo-backend/internal/middleware"
	"github.com/engineo-ai/engineo-backend/internal/observability"
)

type RouterConfig struct {
	AuthMiddleware  *middleware.AuthMiddleware
	PlaybookHandler *handlers.PlaybookHandler
	ApprovalHandler *handlers.ApprovalHandler
	AllowOrigins    []string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	origins := cfg.AllowOrigins
	if len(origins) == 0 {
		origins = []string{
			"http://localhost:80",
			"http://localhost:3000",
			"http://localhost:5173",
		}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))
	router.Use(otelgin.Middleware("engineo-backend"))
	router.Use(metricsMiddleware())

	// ===============
	// || Public    ||
	// ===============
	router.GET("/healthz", handlers.HealthCheck)

	// ===============
	// || Protected ||
	// ===============
	api := router.Group("/api/v1")
	api.Use(cfg.AuthMiddleware.RequireAuth())

	project := api.Group("/projects/:projectID")
	project.Use(cfg.AuthMiddleware.RequireProject())

	// Playbooks
	project.GET("/playbooks", cfg.PlaybookHandler.ListPlaybooks)
	project.POST("/playbooks/:playbookID/estimate", cfg.PlaybookHandler.Estimate)
	project.POST("/playbooks/:playbookID/preview", cfg.PlaybookHandler.Preview)
	project.POST("/playbooks/:playbookID/apply", cfg.PlaybookHandler.Apply)
	// Drafts
	project.GET("/drafts/:draftID", cfg.PlaybookHandler.GetDraft)
	project.PATCH("/drafts/:draftID/items/:index", cfg.PlaybookHandler.UpdateDraftItem)
	// Runs
	project.GET("/playbook-runs", cfg.PlaybookHandler.ListRuns)
	// Approvals
	project.POST("/approvals", cfg.ApprovalHandler.Create)
	project.POST("/approvals/:approvalID/decide", cfg.ApprovalHandler.Decide)
	project.GET("/approvals/status", cfg.ApprovalHandler.Status)
	project.GET("/approvals/pending", cfg.ApprovalHandler.ListPending)

	return router
}

func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		m := observability.Current()
		if m == nil {
			c.Next()
			return
		}
		m.ApiInflightInc()
		start := time.Now()
		c.Next()
		m.ApiInflightDec()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.ObserveAPI(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}
