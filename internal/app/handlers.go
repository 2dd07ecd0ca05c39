package app

import (
	"github.com/engineo-ai/engineo-backend/internal/handlers"
	"github.com/engineo-ai/engineo-backend/internal/logger"
)

type Handlers struct {
	Playbook *handlers.PlaybookHandler
	Approval *handlers.ApprovalHandler
}

func wireHandlers(log *logger.Logger, serviceset Services, reposet Repos) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Playbook: handlers.NewPlaybookHandler(log, serviceset.Estimate, serviceset.Preview, serviceset.Apply, serviceset.Draft, reposet.Run),
		Approval: handlers.NewApprovalHandler(log, serviceset.Approval),
	}
}
