package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/engineo-ai/engineo-backend/internal/logger"
	"github.com/engineo-ai/engineo-backend/internal/playbook"
	"github.com/engineo-ai/engineo-backend/internal/repos"
	"github.com/engineo-ai/engineo-backend/internal/requestdata"
)

// Blocking reasons returned with canProceed=false. Every applicable reason is
// returned, not just the first.
const (
	ReasonPlanNotEligible     = "plan_not_eligible"
	ReasonNoAffectedProducts  = "no_affected_products"
	ReasonAIDailyLimitReached = "ai_daily_limit_reached"
	ReasonTokenCapExceeded    = "token_cap_would_be_exceeded"

	WarningQuotaThreshold = "quota_warning"
)

type EstimateInput struct {
	PlaybookID        string          `json:"playbook_id"`
	Scope             ScopeInput      `json:"scope"`
	Rules             *playbook.Rules `json:"rules,omitempty"`
	AllowZeroAffected bool            `json:"allow_zero_affected,omitempty"`
}

type Estimate struct {
	ScopeID               string           `json:"scope_id"`
	RulesHash             string           `json:"rules_hash"`
	TotalAffectedProducts int64            `json:"total_affected_products"`
	EstimatedTokens       int64            `json:"estimated_tokens"`
	PlanID                string           `json:"plan_id"`
	DailyUsage            Usage            `json:"daily_usage"`
	TokenUsage            Usage            `json:"token_usage"`
	CanProceed            bool             `json:"can_proceed"`
	Reasons               []string         `json:"reasons"`
	Warnings              []string         `json:"warnings,omitempty"`
	DraftStatus           string           `json:"draft_status,omitempty"`
	DraftCounts           *playbook.Counts `json:"draft_counts,omitempty"`
}

// EstimateService is strictly read-only: it never mutates the draft and has no
// path to the AI collaborator.
type EstimateService interface {
	Estimate(ctx context.Context, rd *requestdata.RequestData, input EstimateInput) (*Estimate, error)
}

type estimateService struct {
	log          *logger.Logger
	drafts       repos.DraftRepo
	catalog      AssetCatalog
	entitlements EntitlementsService
}

func NewEstimateService(baseLog *logger.Logger, drafts repos.DraftRepo, catalog AssetCatalog, entitlements EntitlementsService) EstimateService {
	return &estimateService{
		log:          baseLog.With("service", "EstimateService"),
		drafts:       drafts,
		catalog:      catalog,
		entitlements: entitlements,
	}
}

func (s *estimateService) Estimate(ctx context.Context, rd *requestdata.RequestData, input EstimateInput) (*Estimate, error) {
	if rd == nil || rd.ProjectID == uuid.Nil {
		return nil, playbook.NewError(playbook.CodeInternal, "missing request context")
	}
	def, ok := playbook.GetDefinition(input.PlaybookID)
	if !ok {
		return nil, playbook.NewError(playbook.CodeScopeInvalid, fmt.Sprintf("unknown playbook %q", input.PlaybookID))
	}
	scope := input.Scope.toScope(rd.ProjectID)
	if scope.AssetType == "" {
		scope.AssetType = def.AssetType
	}
	scopeID, err := scope.Fingerprint()
	if err != nil {
		return nil, err
	}
	rulesHash := input.Rules.Hash()

	affected, err := s.catalog.CountEligible(ctx, rd.ProjectID, def, scope.ExplicitRefs())
	if err != nil {
		return nil, err
	}
	estimatedTokens := affected * int64(def.TokensPerAsset)

	plan, err := s.entitlements.GetEffectivePlan(ctx, rd.ProjectID)
	if err != nil {
		return nil, err
	}
	dailyUsage, err := s.entitlements.GetDailyAIUsage(ctx, rd.ProjectID, plan)
	if err != nil {
		return nil, err
	}
	tokenUsage, err := s.entitlements.GetMonthlyTokenUsage(ctx, rd.ProjectID, plan)
	if err != nil {
		return nil, err
	}

	var reasons, warnings []string
	if !plan.PlaybooksEnabled {
		reasons = append(reasons, ReasonPlanNotEligible)
	}
	if affected == 0 && !input.AllowZeroAffected {
		reasons = append(reasons, ReasonNoAffectedProducts)
	}
	if !dailyUsage.Unlimited && dailyUsage.Remaining() == 0 {
		reasons = append(reasons, ReasonAIDailyLimitReached)
	}
	if !tokenUsage.Unlimited && estimatedTokens > tokenUsage.Remaining() {
		reasons = append(reasons, ReasonTokenCapExceeded)
	}
	if !dailyUsage.Unlimited && dailyUsage.Limit > 0 && plan.WarnThresholdPercent > 0 {
		pct := dailyUsage.Used * 100 / dailyUsage.Limit
		if pct >= int64(plan.WarnThresholdPercent) {
			warnings = append(warnings, WarningQuotaThreshold)
		}
	}

	canProceed := len(reasons) == 0
	if !plan.HardEnforcementEnabled {
		// Soft enforcement: quota reasons inform but do not block; plan
		// eligibility still does.
		canProceed = true
		for _, r := range reasons {
			if r == ReasonPlanNotEligible || r == ReasonNoAffectedProducts {
				canProceed = false
			}
		}
	}

	est := &Estimate{
		ScopeID:               scopeID,
		RulesHash:             rulesHash,
		TotalAffectedProducts: affected,
		EstimatedTokens:       estimatedTokens,
		PlanID:                plan.ID,
		DailyUsage:            dailyUsage,
		TokenUsage:            tokenUsage,
		CanProceed:            canProceed,
		Reasons:               reasons,
		Warnings:              warnings,
	}

	draft, err := s.drafts.GetLatest(ctx, nil, rd.ProjectID, def.ID, scopeID, rulesHash)
	if err != nil {
		return nil, err
	}
	if draft != nil {
		est.DraftStatus = draft.EffectiveStatus(time.Now().UTC())
		est.DraftCounts = &playbook.Counts{
			AffectedTotal:     draft.AffectedTotal,
			DraftGenerated:    draft.DraftGenerated,
			NoSuggestionCount: draft.NoSuggestionCount,
		}
	}
	return est, nil
}
