package app

import (
	"github.com/engineo-ai/engineo-backend/internal/logger"
	"github.com/engineo-ai/engineo-backend/internal/middleware"
)

type Middleware struct {
	Auth *middleware.AuthMiddleware
}

func wireMiddleware(log *logger.Logger, serviceset Services, reposet Repos) Middleware {
	log.Info("Wiring middleware...")
	return Middleware{
		Auth: middleware.NewAuthMiddleware(log, serviceset.Auth, reposet.Project, serviceset.Roles),
	}
}
