package app

import (
	"gorm.io/gorm"

	"github.com/engineo-ai/engineo-backend/internal/logger"
	"github.com/engineo-ai/engineo-backend/internal/repos"
)

type Repos struct {
	Project       repos.ProjectRepo
	ProjectMember repos.ProjectMemberRepo
	Product       repos.ProductRepo
	CrawlResult   repos.CrawlResultRepo
	Draft         repos.DraftRepo
	Run           repos.RunRepo
	Approval      repos.ApprovalRepo
	AICallLog     repos.AICallLogRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Project:       repos.NewProjectRepo(db, log),
		ProjectMember: repos.NewProjectMemberRepo(db, log),
		Product:       repos.NewProductRepo(db, log),
		CrawlResult:   repos.NewCrawlResultRepo(db, log),
		Draft:         repos.NewDraftRepo(db, log),
		Run:           repos.NewRunRepo(db, log),
		Approval:      repos.NewApprovalRepo(db, log),
		AICallLog:     repos.NewAICallLogRepo(db, log),
	}
}
