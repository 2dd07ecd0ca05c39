package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/engineo-ai/engineo-backend/internal/logger"
	"github.com/engineo-ai/engineo-backend/internal/observability"
	"github.com/engineo-ai/engineo-backend/internal/playbook"
	"github.com/engineo-ai/engineo-backend/internal/repos"
	"github.com/engineo-ai/engineo-backend/internal/requestdata"
	"github.com/engineo-ai/engineo-backend/internal/types"
)

// Per-item apply outcomes.
const (
	ItemOutcomeUpdated      = "UPDATED"
	ItemOutcomeSkipped      = "SKIPPED"
	ItemOutcomeLimitReached = "LIMIT_REACHED"
	ItemOutcomeFailed       = "FAILED"
)

type ApplyInput struct {
	PlaybookID     string     `json:"playbook_id"`
	ScopeID        string     `json:"scope_id"`
	RulesHash      string     `json:"rules_hash"`
	Scope          ScopeInput `json:"scope"`
	ApprovalID     *uuid.UUID `json:"approval_id,omitempty"`
	IdempotencyKey string     `json:"idempotency_key,omitempty"`
}

type ApplyItemResult struct {
	AssetID string `json:"asset_id"`
	Field   string `json:"field"`
	Outcome string `json:"outcome"` // UPDATED|SKIPPED|LIMIT_REACHED|FAILED
	Reason  string `json:"reason,omitempty"`
}

type ApplyResult struct {
	UpdatedCount          int               `json:"updated_count"`
	SkippedCount          int               `json:"skipped_count"`
	AttemptedCount        int               `json:"attempted_count"`
	TotalAffectedProducts int               `json:"total_affected_products"`
	Stopped               bool              `json:"stopped"`
	LimitReached          bool              `json:"limit_reached"`
	StoppedAtProductID    string            `json:"stopped_at_product_id,omitempty"`
	FailureReason         string            `json:"failure_reason,omitempty"`
	SelfApproved          bool              `json:"self_approved,omitempty"`
	Replayed              bool              `json:"replayed,omitempty"`
	RunID                 uuid.UUID         `json:"run_id"`
	Results               []ApplyItemResult `json:"results"`
}

// ApplyService executes drafts against live records. By construction it has no
// reference to the AI client — not as a field, not transitively — so an apply
// can never generate text, only consume finalized suggestions.
type ApplyService interface {
	Apply(ctx context.Context, rd *requestdata.RequestData, input ApplyInput) (*ApplyResult, error)
}

type applyService struct {
	tx           TxManager
	log          *logger.Logger
	drafts       repos.DraftRepo
	runs         repos.RunRepo
	approvals    repos.ApprovalRepo
	catalog      AssetCatalog
	entitlements EntitlementsService
}

func NewApplyService(
	txm TxManager,
	baseLog *logger.Logger,
	drafts repos.DraftRepo,
	runs repos.RunRepo,
	approvals repos.ApprovalRepo,
	catalog AssetCatalog,
	entitlements EntitlementsService,
) ApplyService {
	return &applyService{
		tx:           txm,
		log:          baseLog.With("service", "ApplyService"),
		drafts:       drafts,
		runs:         runs,
		approvals:    approvals,
		catalog:      catalog,
		entitlements: entitlements,
	}
}

func ApprovalResourceID(playbookID, scopeID string) string {
	return fmt.Sprintf("%s:%s", playbookID, scopeID)
}

func (s *applyService) Apply(ctx context.Context, rd *requestdata.RequestData, input ApplyInput) (*ApplyResult, error) {
	if rd == nil || rd.UserID == uuid.Nil || rd.ProjectID == uuid.Nil {
		return nil, playbook.NewError(playbook.CodeInternal, "missing request context")
	}
	if !CapabilitiesFor(rd.EffectiveRole).CanApply {
		return nil, playbook.NewError(playbook.CodeRoleForbidden, "role cannot apply playbooks")
	}
	def, ok := playbook.GetDefinition(input.PlaybookID)
	if !ok {
		return nil, playbook.NewError(playbook.CodeScopeInvalid, fmt.Sprintf("unknown playbook %q", input.PlaybookID))
	}

	// The caller re-sends the scope; recomputing its fingerprint catches a
	// client applying a scope id it never computed.
	scope := input.Scope.toScope(rd.ProjectID)
	if scope.AssetType == "" {
		scope.AssetType = def.AssetType
	}
	scopeID, err := scope.Fingerprint()
	if err != nil {
		return nil, err
	}
	if input.ScopeID != "" && input.ScopeID != scopeID {
		return nil, playbook.NewError(playbook.CodeScopeInvalid, "scope does not match the provided scope id")
	}

	// Retries of the same logical apply replay the recorded result instead of
	// re-writing. A caller-supplied key is checked before draft validation so
	// a replay still succeeds after the draft was consumed.
	if input.IdempotencyKey != "" {
		prior, pErr := s.runs.GetByIdempotencyKey(ctx, nil, input.IdempotencyKey)
		if pErr != nil {
			return nil, pErr
		}
		if prior != nil {
			return s.replayResult(prior)
		}
	}

	draft, err := s.validateDraft(ctx, rd, def, scopeID, input.RulesHash)
	if err != nil {
		return nil, err
	}
	items, err := playbook.DecodeItems(draft.Items)
	if err != nil {
		return nil, err
	}

	// Conflict detection: catalog drift between preview and apply invalidates
	// the draft's affected set.
	currentAffected, err := s.catalog.CountEligible(ctx, rd.ProjectID, def, scope.ExplicitRefs())
	if err != nil {
		return nil, err
	}
	if int(currentAffected) != draft.AffectedTotal {
		return nil, playbook.NewError(playbook.CodeScopeInvalid, fmt.Sprintf("eligible set changed since preview (%d != %d), regenerate the preview", currentAffected, draft.AffectedTotal))
	}

	approval, err := s.validateApproval(ctx, rd, def, scopeID, input.ApprovalID)
	if err != nil {
		return nil, err
	}

	// The derived key binds the run to the exact draft revision that was
	// validated; MarkApplied bumps updated_at, so the same revision can only
	// commit once.
	idempotencyKey := input.IdempotencyKey
	if idempotencyKey == "" {
		idempotencyKey = fmt.Sprintf("apply:%s:%d", draft.ID, draft.UpdatedAt.UTC().UnixNano())
		if prior, pErr := s.runs.GetByIdempotencyKey(ctx, nil, idempotencyKey); pErr != nil {
			return nil, pErr
		} else if prior != nil {
			return s.replayResult(prior)
		}
	}

	plan, err := s.entitlements.GetEffectivePlan(ctx, rd.ProjectID)
	if err != nil {
		return nil, err
	}
	writeUsage, err := s.entitlements.GetDailyWriteUsage(ctx, rd.ProjectID, plan)
	if err != nil {
		return nil, err
	}

	result := s.applyItems(ctx, rd, def, items, writeUsage)
	result.TotalAffectedProducts = draft.AffectedTotal
	if approval != nil {
		result.SelfApproved = approval.SelfApproved
	}

	runStatus := types.RunStatusSucceeded
	if result.Stopped && result.FailureReason != "" {
		runStatus = types.RunStatusFailed
	}

	// One transactional boundary for the bookkeeping writes: draft consumed,
	// approval consumed, ledger appended.
	err = s.tx.Transaction(ctx, func(tx *gorm.DB) error {
		now := time.Now().UTC()
		if mErr := s.drafts.MarkApplied(ctx, tx, draft.ID, now, draft.UpdatedAt); mErr != nil {
			if errors.Is(mErr, repos.ErrDraftRevisionChanged) {
				return playbook.NewError(playbook.CodeDraftConflict, "draft changed while applying, regenerate the preview")
			}
			return mErr
		}
		if approval != nil {
			if cErr := s.approvals.Consume(ctx, tx, approval.ID); cErr != nil {
				if errors.Is(cErr, repos.ErrApprovalTransition) {
					return playbook.NewError(playbook.CodeApprovalRequired, "approval already consumed")
				}
				return cErr
			}
		}
		detail, mErr := json.Marshal(result)
		if mErr != nil {
			return mErr
		}
		run := &types.AutomationPlaybookRun{
			ProjectID:       rd.ProjectID,
			CreatedByUserID: rd.UserID,
			PlaybookID:      def.ID,
			ScopeID:         scopeID,
			RulesHash:       draft.RulesHash,
			IdempotencyKey:  idempotencyKey,
			RunType:         types.RunTypeApply,
			Status:          runStatus,
			AIUsed:          false,
			Detail:          datatypes.JSON(detail),
		}
		row, _, aErr := s.runs.Append(ctx, tx, run)
		if aErr != nil {
			return aErr
		}
		result.RunID = row.ID
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics := observability.Current()
	metrics.IncPlaybookRun(def.ID, types.RunTypeApply, runStatus)
	for _, itemResult := range result.Results {
		metrics.AddDraftItems(def.ID, itemResult.Outcome, 1)
	}
	if result.LimitReached {
		metrics.IncQuotaDenied("apply_daily_write_limit")
	}

	if result.UpdatedCount > 0 {
		if rErr := s.entitlements.RecordWrites(ctx, rd.ProjectID, int64(result.UpdatedCount)); rErr != nil {
			s.log.Warn("Could not record apply writes", "project_id", rd.ProjectID, "error", rErr)
		}
	}
	return result, nil
}

// validateDraft resolves the draft for (playbook, scope, rules) and turns
// every miss into its distinguishable conflict code.
func (s *applyService) validateDraft(ctx context.Context, rd *requestdata.RequestData, def playbook.Definition, scopeID, rulesHash string) (*types.AutomationPlaybookDraft, error) {
	if rulesHash == "" {
		rulesHash = playbook.NoRulesHash()
	}
	draft, err := s.drafts.GetLatest(ctx, nil, rd.ProjectID, def.ID, scopeID, rulesHash)
	if err != nil {
		return nil, err
	}
	if draft == nil {
		other, oErr := s.drafts.GetLatestByScope(ctx, nil, rd.ProjectID, def.ID, scopeID)
		if oErr != nil {
			return nil, oErr
		}
		if other != nil {
			return nil, playbook.NewError(playbook.CodeRulesChanged, "draft exists for this scope under different rules, regenerate the preview")
		}
		return nil, playbook.NewError(playbook.CodeDraftNotFound, "no draft for this scope, generate a preview first")
	}
	if draft.Expired(time.Now().UTC()) {
		return nil, playbook.NewError(playbook.CodeDraftExpired, "draft expired, regenerate the preview")
	}
	if draft.AppliedAt != nil {
		// A consumed draft never applies twice; replays of the original
		// request are served from the run ledger before we get here.
		return nil, playbook.NewError(playbook.CodeDraftConflict, "draft already applied, generate a new preview")
	}
	return draft, nil
}

// validateApproval enforces the governance gate when the project policy
// demands approval.
func (s *applyService) validateApproval(ctx context.Context, rd *requestdata.RequestData, def playbook.Definition, scopeID string, approvalID *uuid.UUID) (*types.ApprovalRequest, error) {
	if !rd.Policy.RequireApprovalForApply {
		return nil, nil
	}
	resourceID := ApprovalResourceID(def.ID, scopeID)
	var approval *types.ApprovalRequest
	var err error
	if approvalID != nil {
		approval, err = s.approvals.GetByID(ctx, nil, *approvalID)
	} else {
		approval, err = s.approvals.GetLatestByResource(ctx, nil, rd.ProjectID, types.ApprovalResourceTypePlaybookApply, resourceID)
	}
	if err != nil {
		return nil, err
	}
	if approval == nil ||
		approval.ProjectID != rd.ProjectID ||
		approval.ResourceID != resourceID ||
		approval.Status != types.ApprovalStatusApproved ||
		approval.Consumed {
		return nil, playbook.NewError(playbook.CodeApprovalRequired, "an approved, unconsumed approval request is required to apply")
	}
	return approval, nil
}

// applyItems walks the draft items in order, writing each finalized suggestion
// (or clearing the field when the final suggestion is empty). Item order is the
// draft's array order, which makes "stopped at" deterministic.
func (s *applyService) applyItems(ctx context.Context, rd *requestdata.RequestData, def playbook.Definition, items []playbook.DraftItem, writeUsage Usage) *ApplyResult {
	result := &ApplyResult{Results: make([]ApplyItemResult, 0, len(items))}
	remainingWrites := writeUsage.Remaining()
	for _, item := range items {
		itemResult := ApplyItemResult{AssetID: item.AssetID, Field: string(item.Field)}
		if !item.HasSuggestion() {
			itemResult.Outcome = ItemOutcomeSkipped
			itemResult.Reason = "no_suggestion"
			result.SkippedCount++
			result.Results = append(result.Results, itemResult)
			continue
		}
		if !writeUsage.Unlimited && remainingWrites <= 0 {
			itemResult.Outcome = ItemOutcomeLimitReached
			itemResult.Reason = "daily_write_limit"
			result.LimitReached = true
			result.Stopped = true
			result.StoppedAtProductID = item.AssetID
			result.Results = append(result.Results, itemResult)
			break
		}
		result.AttemptedCount++
		written, err := s.catalog.WriteFieldIfEmpty(ctx, nil, rd.ProjectID, def, item.AssetID, item.FinalSuggestion)
		if err != nil {
			itemResult.Outcome = ItemOutcomeFailed
			itemResult.Reason = err.Error()
			result.Results = append(result.Results, itemResult)
			// Infrastructure failures stop the run safely; the ledger records
			// where and why.
			result.Stopped = true
			result.StoppedAtProductID = item.AssetID
			result.FailureReason = err.Error()
			break
		}
		if !written {
			itemResult.Outcome = ItemOutcomeSkipped
			itemResult.Reason = "field_already_set"
			result.SkippedCount++
			result.Results = append(result.Results, itemResult)
			continue
		}
		itemResult.Outcome = ItemOutcomeUpdated
		result.UpdatedCount++
		remainingWrites--
		result.Results = append(result.Results, itemResult)
	}
	return result
}

func (s *applyService) replayResult(run *types.AutomationPlaybookRun) (*ApplyResult, error) {
	var result ApplyResult
	if len(run.Detail) > 0 {
		if err := json.Unmarshal(run.Detail, &result); err != nil {
			return nil, playbook.WrapError(playbook.CodeInternal, err)
		}
	}
	result.Replayed = true
	result.RunID = run.ID
	return &result, nil
}
