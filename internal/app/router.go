package app

import (
	"github.com/gin-gonic/gin"

	"github.com/engineo-ai/engineo-backend/internal/server"
)

func wireRouter(cfg Config, handlerset Handlers, middlewareset Middleware) *gin.Engine {
	return server.NewRouter(server.RouterConfig{
		AuthMiddleware:  middlewareset.Auth,
		PlaybookHandler: handlerset.Playbook,
		ApprovalHandler: handlerset.Approval,
		AllowOrigins:    cfg.AllowOrigins,
	})
}
