package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/engineo-ai/engineo-backend/internal/logger"
	"github.com/engineo-ai/engineo-backend/internal/observability"
	"github.com/engineo-ai/engineo-backend/internal/playbook"
	"github.com/engineo-ai/engineo-backend/internal/repos"
	"github.com/engineo-ai/engineo-backend/internal/requestdata"
	"github.com/engineo-ai/engineo-backend/internal/types"
)

const (
	defaultSampleSize = 3
	maxSampleSize     = 10
)

// ScopeInput is the caller-facing scope selection; the project id comes from
// the request context.
type ScopeInput struct {
	AssetType   playbook.AssetType `json:"asset_type"`
	AllEligible bool               `json:"all_eligible"`
	Refs        []string           `json:"refs,omitempty"`
}

func (in ScopeInput) toScope(projectID uuid.UUID) playbook.Scope {
	return playbook.Scope{
		ProjectID:   projectID,
		AssetType:   in.AssetType,
		AllEligible: in.AllEligible,
		Refs:        in.Refs,
	}
}

type PreviewInput struct {
	PlaybookID     string          `json:"playbook_id"`
	Scope          ScopeInput      `json:"scope"`
	Rules          *playbook.Rules `json:"rules,omitempty"`
	SampleSize     int             `json:"sample_size,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

type PreviewResult struct {
	ScopeID   string               `json:"scope_id"`
	RulesHash string               `json:"rules_hash"`
	DraftID   uuid.UUID            `json:"draft_id"`
	Status    string               `json:"status"`
	Counts    playbook.Counts      `json:"counts"`
	Samples   []playbook.DraftItem `json:"samples"`
	Reused    bool                 `json:"reused"`
	RunID     uuid.UUID            `json:"run_id"`
}

// PreviewService generates drafts. It is the only component allowed to hold
// the AI client.
type PreviewService interface {
	Preview(ctx context.Context, rd *requestdata.RequestData, input PreviewInput) (*PreviewResult, error)
}

type previewService struct {
	log          *logger.Logger
	drafts       repos.DraftRepo
	runs         repos.RunRepo
	aiCallLogs   repos.AICallLogRepo
	catalog      AssetCatalog
	entitlements EntitlementsService
	ai           AIClient
	draftTTL     time.Duration
}

func NewPreviewService(
	baseLog *logger.Logger,
	drafts repos.DraftRepo,
	runs repos.RunRepo,
	aiCallLogs repos.AICallLogRepo,
	catalog AssetCatalog,
	entitlements EntitlementsService,
	ai AIClient,
	draftTTL time.Duration,
) PreviewService {
	if draftTTL <= 0 {
		draftTTL = 24 * time.Hour
	}
	return &previewService{
		log:          baseLog.With("service", "PreviewService"),
		drafts:       drafts,
		runs:         runs,
		aiCallLogs:   aiCallLogs,
		catalog:      catalog,
		entitlements: entitlements,
		ai:           ai,
		draftTTL:     draftTTL,
	}
}

func (s *previewService) Preview(ctx context.Context, rd *requestdata.RequestData, input PreviewInput) (*PreviewResult, error) {
	if rd == nil || rd.UserID == uuid.Nil || rd.ProjectID == uuid.Nil {
		return nil, playbook.NewError(playbook.CodeInternal, "missing request context")
	}
	if !CapabilitiesFor(rd.EffectiveRole).CanGenerateDrafts {
		return nil, playbook.NewError(playbook.CodeRoleForbidden, "role cannot generate drafts")
	}
	def, ok := playbook.GetDefinition(input.PlaybookID)
	if !ok {
		return nil, playbook.NewError(playbook.CodeScopeInvalid, fmt.Sprintf("unknown playbook %q", input.PlaybookID))
	}
	scope := input.Scope.toScope(rd.ProjectID)
	if scope.AssetType == "" {
		scope.AssetType = def.AssetType
	}
	if scope.AssetType != def.AssetType {
		return nil, playbook.NewError(playbook.CodeScopeInvalid, fmt.Sprintf("playbook %s targets %s, scope targets %s", def.ID, def.AssetType, scope.AssetType))
	}
	scopeID, err := scope.Fingerprint()
	if err != nil {
		return nil, err
	}
	rulesHash := input.Rules.Hash()
	refs := scope.ExplicitRefs()

	sampleSize := input.SampleSize
	if sampleSize <= 0 {
		sampleSize = defaultSampleSize
	}
	if sampleSize > maxSampleSize {
		sampleSize = maxSampleSize
	}

	affectedTotal, err := s.catalog.CountEligible(ctx, rd.ProjectID, def, refs)
	if err != nil {
		return nil, err
	}

	// A still-valid READY draft against an unchanged catalog is reused as-is;
	// no AI spend, the ledger records the reuse.
	now := time.Now().UTC()
	if existing, gErr := s.drafts.GetLatest(ctx, nil, rd.ProjectID, def.ID, scopeID, rulesHash); gErr == nil && existing != nil {
		if existing.EffectiveStatus(now) == types.DraftStatusReady &&
			existing.AppliedAt == nil &&
			int64(existing.AffectedTotal) == affectedTotal {
			return s.reuseDraft(ctx, rd, def, existing, input.IdempotencyKey)
		}
	} else if gErr != nil {
		return nil, gErr
	}

	// Predictive quota guard: runs before the first AI call so a blocked
	// preview consumes nothing.
	plan, err := s.entitlements.GetEffectivePlan(ctx, rd.ProjectID)
	if err != nil {
		return nil, err
	}
	if !plan.PlaybooksEnabled {
		observability.Current().IncQuotaDenied("plan_not_eligible")
		return nil, playbook.NewError(playbook.CodeEntitlementsLimit, fmt.Sprintf("plan %s does not include automation playbooks", plan.ID))
	}
	usage, err := s.entitlements.GetDailyAIUsage(ctx, rd.ProjectID, plan)
	if err != nil {
		return nil, err
	}
	if plan.HardEnforcementEnabled && usage.Remaining() < int64(sampleSize) {
		observability.Current().IncQuotaDenied("ai_daily_limit_reached")
		return nil, playbook.NewError(playbook.CodeAIDailyLimitReached, fmt.Sprintf("daily AI limit %d reached (used %d)", usage.Limit, usage.Used))
	}

	sample, err := s.catalog.ListEligible(ctx, rd.ProjectID, def, refs, sampleSize)
	if err != nil {
		return nil, err
	}

	items, aiCalls, genErr := s.generateItems(ctx, rd, def, input.Rules, sample)
	if genErr != nil {
		// Systemic outage: record the failed attempt, persist a FAILED draft
		// so partial results stay readable, and surface the typed error.
		s.persistDraft(ctx, rd, def, scopeID, rulesHash, input.Rules, items, int(affectedTotal), types.DraftStatusFailed, sample, now)
		s.appendPreviewRun(ctx, rd, def, scopeID, rulesHash, input.IdempotencyKey, aiCalls > 0, false, nil, types.RunStatusFailed, genErr.Error())
		return nil, genErr
	}

	status := types.DraftStatusReady
	failures := 0
	for _, it := range items {
		if !it.HasSuggestion() {
			failures++
		}
	}
	if len(items) > 0 && failures == len(items) {
		status = types.DraftStatusFailed
	} else if failures > 0 {
		status = types.DraftStatusPartial
	}

	draft, err := s.persistDraft(ctx, rd, def, scopeID, rulesHash, input.Rules, items, int(affectedTotal), status, sample, now)
	if err != nil {
		return nil, err
	}

	if aiCalls > 0 {
		tokens := int64(aiCalls) * int64(def.TokensPerAsset)
		if rErr := s.entitlements.RecordAICalls(ctx, rd.ProjectID, int64(aiCalls), tokens); rErr != nil {
			s.log.Warn("Could not record AI usage", "project_id", rd.ProjectID, "error", rErr)
		}
	}

	runStatus := types.RunStatusSucceeded
	if status == types.DraftStatusFailed {
		runStatus = types.RunStatusFailed
	}
	runID := s.appendPreviewRun(ctx, rd, def, scopeID, rulesHash, input.IdempotencyKey, aiCalls > 0, false, nil, runStatus, "")

	return &PreviewResult{
		ScopeID:   scopeID,
		RulesHash: rulesHash,
		DraftID:   draft.ID,
		Status:    draft.Status,
		Counts: playbook.Counts{
			AffectedTotal:     draft.AffectedTotal,
			DraftGenerated:    draft.DraftGenerated,
			NoSuggestionCount: draft.NoSuggestionCount,
		},
		Samples: items,
		RunID:   runID,
	}, nil
}

// generateItems calls the AI for each sampled asset in order, applying the
// deterministic rules to every raw suggestion. Per-item transient failures are
// recorded on the item; a systemic outage aborts with the typed error and the
// items produced so far.
func (s *previewService) generateItems(ctx context.Context, rd *requestdata.RequestData, def playbook.Definition, rules *playbook.Rules, sample []AssetRef) ([]playbook.DraftItem, int, error) {
	items := make([]playbook.DraftItem, 0, len(sample))
	aiCalls := 0
	for _, asset := range sample {
		started := time.Now()
		raw, err := s.ai.GenerateSuggestion(ctx, AssetContext{
			AssetID:     asset.ID,
			AssetType:   def.AssetType,
			Title:       asset.Title,
			Description: asset.Description,
		}, def.TargetField, def.PromptHint)
		aiCalls++
		s.logAICall(ctx, rd, def, asset.ID, raw, err, time.Since(started))
		if err != nil {
			code := playbook.CodeOf(err)
			if code == playbook.CodeAIAllModelsExhausted || code == playbook.CodeAIQuotaExhausted {
				return items, aiCalls, err
			}
			items = append(items, playbook.DraftItem{
				AssetID:       asset.ID,
				Field:         def.TargetField,
				FailureReason: err.Error(),
			})
			continue
		}
		final, warnings := rules.Finalize(raw)
		items = append(items, playbook.DraftItem{
			AssetID:         asset.ID,
			Field:           def.TargetField,
			RawSuggestion:   raw,
			FinalSuggestion: final,
			RuleWarnings:    warnings,
		})
	}
	return items, aiCalls, nil
}

func (s *previewService) persistDraft(
	ctx context.Context,
	rd *requestdata.RequestData,
	def playbook.Definition,
	scopeID, rulesHash string,
	rules *playbook.Rules,
	items []playbook.DraftItem,
	affectedTotal int,
	status string,
	sample []AssetRef,
	now time.Time,
) (*types.AutomationPlaybookDraft, error) {
	encoded, err := playbook.EncodeItems(items)
	if err != nil {
		return nil, err
	}
	sampleIDs := make([]string, 0, len(sample))
	for _, a := range sample {
		sampleIDs = append(sampleIDs, a.ID)
	}
	sampleJSON, err := json.Marshal(sampleIDs)
	if err != nil {
		return nil, err
	}
	var rulesJSON datatypes.JSON
	if rules != nil {
		raw, mErr := json.Marshal(rules)
		if mErr != nil {
			return nil, mErr
		}
		rulesJSON = raw
	}
	counts := playbook.CountItems(items, affectedTotal)
	expiresAt := now.Add(s.draftTTL)
	draft := &types.AutomationPlaybookDraft{
		ProjectID:         rd.ProjectID,
		PlaybookID:        def.ID,
		ScopeID:           scopeID,
		RulesHash:         rulesHash,
		Status:            status,
		Items:             encoded,
		AffectedTotal:     counts.AffectedTotal,
		DraftGenerated:    counts.DraftGenerated,
		NoSuggestionCount: counts.NoSuggestionCount,
		SampleProductIDs:  sampleJSON,
		Rules:             rulesJSON,
		CreatedByUserID:   rd.UserID,
		ExpiresAt:         &expiresAt,
	}
	return s.drafts.Upsert(ctx, nil, draft)
}

func (s *previewService) reuseDraft(ctx context.Context, rd *requestdata.RequestData, def playbook.Definition, existing *types.AutomationPlaybookDraft, idempotencyKey string) (*PreviewResult, error) {
	items, err := playbook.DecodeItems(existing.Items)
	if err != nil {
		return nil, err
	}
	var reusedFrom *uuid.UUID
	if origin, oErr := s.runs.GetLatestGenerating(ctx, nil, rd.ProjectID, def.ID, existing.ScopeID, existing.RulesHash); oErr == nil && origin != nil {
		reusedFrom = &origin.ID
	}
	runID := s.appendPreviewRun(ctx, rd, def, existing.ScopeID, existing.RulesHash, idempotencyKey, false, true, reusedFrom, types.RunStatusSucceeded, "")
	return &PreviewResult{
		ScopeID:   existing.ScopeID,
		RulesHash: existing.RulesHash,
		DraftID:   existing.ID,
		Status:    existing.Status,
		Counts: playbook.Counts{
			AffectedTotal:     existing.AffectedTotal,
			DraftGenerated:    existing.DraftGenerated,
			NoSuggestionCount: existing.NoSuggestionCount,
		},
		Samples: items,
		Reused:  true,
		RunID:   runID,
	}, nil
}

func (s *previewService) appendPreviewRun(
	ctx context.Context,
	rd *requestdata.RequestData,
	def playbook.Definition,
	scopeID, rulesHash, idempotencyKey string,
	aiUsed, reused bool,
	reusedFrom *uuid.UUID,
	status string,
	detail string,
) uuid.UUID {
	if idempotencyKey == "" {
		idempotencyKey = "preview:" + uuid.NewString()
	}
	var detailJSON datatypes.JSON
	if detail != "" {
		raw, _ := json.Marshal(map[string]string{"error": detail})
		detailJSON = raw
	}
	run := &types.AutomationPlaybookRun{
		ProjectID:       rd.ProjectID,
		CreatedByUserID: rd.UserID,
		PlaybookID:      def.ID,
		ScopeID:         scopeID,
		RulesHash:       rulesHash,
		IdempotencyKey:  idempotencyKey,
		RunType:         types.RunTypePreviewGenerate,
		Status:          status,
		AIUsed:          aiUsed,
		Reused:          reused,
		ReusedFromRunID: reusedFrom,
		Detail:          detailJSON,
	}
	row, _, err := s.runs.Append(ctx, nil, run)
	if err != nil {
		s.log.Warn("Could not append preview run", "project_id", rd.ProjectID, "error", err)
		return uuid.Nil
	}
	observability.Current().IncPlaybookRun(def.ID, types.RunTypePreviewGenerate, status)
	return row.ID
}

func (s *previewService) logAICall(ctx context.Context, rd *requestdata.RequestData, def playbook.Definition, assetID, response string, callErr error, dur time.Duration) {
	callStatus := "ok"
	if callErr != nil {
		callStatus = string(playbook.CodeOf(callErr))
	}
	tokens := 0
	if callErr == nil {
		tokens = def.TokensPerAsset
	}
	observability.Current().ObserveAIRequest("chain", def.ID, callStatus, dur, 0, tokens)
	if s.aiCallLogs == nil {
		return
	}
	row := &types.AICallLog{
		ProjectID:  &rd.ProjectID,
		UserID:     &rd.UserID,
		CallType:   "playbook_suggestion",
		Model:      "chain",
		Field:      string(def.TargetField),
		Success:    callErr == nil,
		DurationMS: dur.Milliseconds(),
	}
	if callErr != nil {
		row.Error = callErr.Error()
	}
	if err := s.aiCallLogs.Append(ctx, nil, row); err != nil {
		s.log.Warn("Could not append AI call log", "asset_id", assetID, "error", err)
	}
}
