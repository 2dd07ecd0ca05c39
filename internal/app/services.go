package app

import (
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/engineo-ai/engineo-backend/internal/logger"
	"github.com/engineo-ai/engineo-backend/internal/services"
)

type Services struct {
	Tx           services.TxManager
	Auth         services.AuthService
	Roles        services.RolesService
	Entitlements services.EntitlementsService
	Catalog      services.AssetCatalog
	AI           services.AIClient

	Estimate services.EstimateService
	Preview  services.PreviewService
	Apply    services.ApplyService
	Draft    services.DraftService
	Approval services.ApprovalService
}

func wireServices(db *gorm.DB, rdb *redis.Client, log *logger.Logger, cfg Config, reposet Repos) (Services, error) {
	log.Info("Wiring services...")

	txm := services.NewTxManager(db)
	auth := services.NewAuthService(log, cfg.JWTSecretKey)
	roles := services.NewRolesService(log, reposet.ProjectMember)
	entitlements := services.NewEntitlementsService(rdb, log, services.LoadEntitlementsConfig(log), reposet.Project)
	catalog := services.NewAssetCatalog(log, reposet.Product, reposet.CrawlResult)

	ai, err := services.NewAIClient(log)
	if err != nil {
		return Services{}, err
	}

	estimate := services.NewEstimateService(log, reposet.Draft, catalog, entitlements)
	preview := services.NewPreviewService(log, reposet.Draft, reposet.Run, reposet.AICallLog, catalog, entitlements, ai, cfg.DraftTTL)
	apply := services.NewApplyService(txm, log, reposet.Draft, reposet.Run, reposet.Approval, catalog, entitlements)
	draft := services.NewDraftService(log, reposet.Draft)
	approval := services.NewApprovalService(txm, log, reposet.Approval, roles)

	return Services{
		Tx:           txm,
		Auth:         auth,
		Roles:        roles,
		Entitlements: entitlements,
		Catalog:      catalog,
		AI:           ai,
		Estimate:     estimate,
		Preview:      preview,
		Apply:        apply,
		Draft:        draft,
		Approval:     approval,
	}, nil
}
