package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/engineo-ai/engineo-backend/internal/logger"
	"github.com/engineo-ai/engineo-backend/internal/playbook"
	"github.com/engineo-ai/engineo-backend/internal/repos"
	"github.com/engineo-ai/engineo-backend/internal/requestdata"
	"github.com/engineo-ai/engineo-backend/internal/types"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

var (
	testUserID    = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	testOwnerID   = uuid.MustParse("22222222-2222-2222-2222-222222222222")
	testProjectID = uuid.MustParse("33333333-3333-3333-3333-333333333333")
)

func testRequestData(role requestdata.Role, requireApproval bool) *requestdata.RequestData {
	return &requestdata.RequestData{
		UserID:        testUserID,
		ProjectID:     testProjectID,
		EffectiveRole: role,
		Policy:        requestdata.GovernancePolicy{RequireApprovalForApply: requireApproval},
	}
}

// fakeTxManager runs the callback outside any real transaction; repos treat a
// nil handle as their own connection.
type fakeTxManager struct{}

func (fakeTxManager) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type fakeDraftRepo struct {
	drafts []*types.AutomationPlaybookDraft
}

func (r *fakeDraftRepo) Upsert(ctx context.Context, tx *gorm.DB, draft *types.AutomationPlaybookDraft) (*types.AutomationPlaybookDraft, error) {
	now := time.Now().UTC()
	for _, d := range r.drafts {
		if d.ProjectID == draft.ProjectID && d.PlaybookID == draft.PlaybookID &&
			d.ScopeID == draft.ScopeID && d.RulesHash == draft.RulesHash {
			d.Status = draft.Status
			d.Items = draft.Items
			d.AffectedTotal = draft.AffectedTotal
			d.DraftGenerated = draft.DraftGenerated
			d.NoSuggestionCount = draft.NoSuggestionCount
			d.SampleProductIDs = draft.SampleProductIDs
			d.Rules = draft.Rules
			d.ExpiresAt = draft.ExpiresAt
			d.AppliedAt = nil
			d.UpdatedAt = now
			copied := *d
			return &copied, nil
		}
	}
	stored := *draft
	stored.ID = uuid.New()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.drafts = append(r.drafts, &stored)
	copied := stored
	return &copied, nil
}

func (r *fakeDraftRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.AutomationPlaybookDraft, error) {
	for _, d := range r.drafts {
		if d.ID == id {
			copied := *d
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeDraftRepo) GetLatest(ctx context.Context, tx *gorm.DB, projectID uuid.UUID, playbookID, scopeID, rulesHash string) (*types.AutomationPlaybookDraft, error) {
	var latest *types.AutomationPlaybookDraft
	for _, d := range r.drafts {
		if d.ProjectID == projectID && d.PlaybookID == playbookID && d.ScopeID == scopeID && d.RulesHash == rulesHash {
			if latest == nil || d.UpdatedAt.After(latest.UpdatedAt) {
				latest = d
			}
		}
	}
	if latest == nil {
		return nil, nil
	}
	copied := *latest
	return &copied, nil
}

func (r *fakeDraftRepo) GetLatestByScope(ctx context.Context, tx *gorm.DB, projectID uuid.UUID, playbookID, scopeID string) (*types.AutomationPlaybookDraft, error) {
	var latest *types.AutomationPlaybookDraft
	for _, d := range r.drafts {
		if d.ProjectID == projectID && d.PlaybookID == playbookID && d.ScopeID == scopeID {
			if latest == nil || d.UpdatedAt.After(latest.UpdatedAt) {
				latest = d
			}
		}
	}
	if latest == nil {
		return nil, nil
	}
	copied := *latest
	return &copied, nil
}

func (r *fakeDraftRepo) MarkApplied(ctx context.Context, tx *gorm.DB, id uuid.UUID, appliedAt time.Time, expectedUpdatedAt time.Time) error {
	for _, d := range r.drafts {
		if d.ID == id && d.UpdatedAt.Equal(expectedUpdatedAt) {
			applied := appliedAt
			d.AppliedAt = &applied
			d.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return repos.ErrDraftRevisionChanged
}

func (r *fakeDraftRepo) UpdateItemFinalSuggestion(ctx context.Context, tx *gorm.DB, id uuid.UUID, itemIndex int, newFinal string) (*types.AutomationPlaybookDraft, error) {
	for _, d := range r.drafts {
		if d.ID != id {
			continue
		}
		items, err := playbook.DecodeItems(d.Items)
		if err != nil {
			return nil, err
		}
		if itemIndex < 0 || itemIndex >= len(items) {
			return nil, fmt.Errorf("item index %d out of range", itemIndex)
		}
		items[itemIndex].FinalSuggestion = newFinal
		encoded, err := playbook.EncodeItems(items)
		if err != nil {
			return nil, err
		}
		d.Items = encoded
		d.UpdatedAt = time.Now().UTC()
		copied := *d
		return &copied, nil
	}
	return nil, fmt.Errorf("draft %s not found", id)
}

type fakeRunRepo struct {
	runs []*types.AutomationPlaybookRun
}

func (r *fakeRunRepo) Append(ctx context.Context, tx *gorm.DB, run *types.AutomationPlaybookRun) (*types.AutomationPlaybookRun, bool, error) {
	if run.IdempotencyKey == "" {
		return nil, false, fmt.Errorf("missing idempotency key")
	}
	if run.RunType == types.RunTypeApply && run.AIUsed {
		return nil, false, fmt.Errorf("apply run cannot record ai_used=true")
	}
	for _, existing := range r.runs {
		if existing.IdempotencyKey == run.IdempotencyKey {
			copied := *existing
			return &copied, false, nil
		}
	}
	stored := *run
	stored.ID = uuid.New()
	stored.CreatedAt = time.Now().UTC()
	r.runs = append(r.runs, &stored)
	copied := stored
	return &copied, true, nil
}

func (r *fakeRunRepo) GetByIdempotencyKey(ctx context.Context, tx *gorm.DB, key string) (*types.AutomationPlaybookRun, error) {
	for _, run := range r.runs {
		if run.IdempotencyKey == key {
			copied := *run
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeRunRepo) GetLatestGenerating(ctx context.Context, tx *gorm.DB, projectID uuid.UUID, playbookID, scopeID, rulesHash string) (*types.AutomationPlaybookRun, error) {
	for i := len(r.runs) - 1; i >= 0; i-- {
		run := r.runs[i]
		if run.ProjectID != projectID || run.PlaybookID != playbookID {
			continue
		}
		if run.ScopeID != scopeID || run.RulesHash != rulesHash {
			continue
		}
		if run.RunType != types.RunTypePreviewGenerate || run.Reused {
			continue
		}
		copied := *run
		return &copied, nil
	}
	return nil, nil
}

func (r *fakeRunRepo) ListByProject(ctx context.Context, tx *gorm.DB, projectID uuid.UUID, playbookID string, limit int) ([]*types.AutomationPlaybookRun, error) {
	var out []*types.AutomationPlaybookRun
	for i := len(r.runs) - 1; i >= 0; i-- {
		run := r.runs[i]
		if run.ProjectID != projectID {
			continue
		}
		if playbookID != "" && run.PlaybookID != playbookID {
			continue
		}
		copied := *run
		out = append(out, &copied)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *fakeRunRepo) lastRun() *types.AutomationPlaybookRun {
	if len(r.runs) == 0 {
		return nil
	}
	return r.runs[len(r.runs)-1]
}

type fakeApprovalRepo struct {
	requests []*types.ApprovalRequest
}

func (r *fakeApprovalRepo) Create(ctx context.Context, tx *gorm.DB, req *types.ApprovalRequest) (*types.ApprovalRequest, error) {
	stored := *req
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	if stored.Status == "" {
		stored.Status = types.ApprovalStatusPending
	}
	now := time.Now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.requests = append(r.requests, &stored)
	copied := stored
	return &copied, nil
}

func (r *fakeApprovalRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ApprovalRequest, error) {
	for _, req := range r.requests {
		if req.ID == id {
			copied := *req
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeApprovalRepo) GetLatestByResource(ctx context.Context, tx *gorm.DB, projectID uuid.UUID, resourceType, resourceID string) (*types.ApprovalRequest, error) {
	var latest *types.ApprovalRequest
	for _, req := range r.requests {
		if req.ProjectID == projectID && req.ResourceType == resourceType && req.ResourceID == resourceID {
			if latest == nil || req.CreatedAt.After(latest.CreatedAt) {
				latest = req
			}
		}
	}
	if latest == nil {
		return nil, nil
	}
	copied := *latest
	return &copied, nil
}

func (r *fakeApprovalRepo) Decide(ctx context.Context, tx *gorm.DB, id uuid.UUID, decidedBy uuid.UUID, status string, selfApproved bool) error {
	for _, req := range r.requests {
		if req.ID == id && req.Status == types.ApprovalStatusPending {
			now := time.Now().UTC()
			req.Status = status
			req.DecidedByUserID = &decidedBy
			req.DecidedAt = &now
			req.SelfApproved = selfApproved
			req.UpdatedAt = now
			return nil
		}
	}
	return repos.ErrApprovalTransition
}

func (r *fakeApprovalRepo) Consume(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	for _, req := range r.requests {
		if req.ID == id && req.Status == types.ApprovalStatusApproved && !req.Consumed {
			req.Consumed = true
			req.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return repos.ErrApprovalTransition
}

func (r *fakeApprovalRepo) ListPending(ctx context.Context, tx *gorm.DB, projectID uuid.UUID) ([]*types.ApprovalRequest, error) {
	var out []*types.ApprovalRequest
	for _, req := range r.requests {
		if req.ProjectID == projectID && req.Status == types.ApprovalStatusPending {
			copied := *req
			out = append(out, &copied)
		}
	}
	return out, nil
}

type catalogWrite struct {
	AssetID string
	Value   string
}

type fakeCatalog struct {
	eligible  []AssetRef
	filled    map[string]bool  // asset id -> live field already set
	writeErrs map[string]error // asset id -> forced write failure
	writes    []catalogWrite
}

func (c *fakeCatalog) CountEligible(ctx context.Context, projectID uuid.UUID, def playbook.Definition, refs []string) (int64, error) {
	return int64(len(c.eligible)), nil
}

func (c *fakeCatalog) ListEligible(ctx context.Context, projectID uuid.UUID, def playbook.Definition, refs []string, limit int) ([]AssetRef, error) {
	if limit <= 0 || limit > len(c.eligible) {
		limit = len(c.eligible)
	}
	out := make([]AssetRef, limit)
	copy(out, c.eligible[:limit])
	return out, nil
}

func (c *fakeCatalog) WriteFieldIfEmpty(ctx context.Context, tx *gorm.DB, projectID uuid.UUID, def playbook.Definition, assetID string, value string) (bool, error) {
	if err, ok := c.writeErrs[assetID]; ok {
		return false, err
	}
	if c.filled[assetID] {
		return false, nil
	}
	c.writes = append(c.writes, catalogWrite{AssetID: assetID, Value: value})
	return true, nil
}

type fakeEntitlements struct {
	plan       PlanLimits
	dailyUsed  int64
	tokensUsed int64
	writesUsed int64

	recordedCalls  int64
	recordedTokens int64
	recordedWrites int64
}

func (e *fakeEntitlements) GetEffectivePlan(ctx context.Context, projectID uuid.UUID) (PlanLimits, error) {
	return e.plan, nil
}

func (e *fakeEntitlements) GetDailyAIUsage(ctx context.Context, projectID uuid.UUID, plan PlanLimits) (Usage, error) {
	return Usage{Used: e.dailyUsed, Limit: plan.AIDailyLimit, Unlimited: plan.AIDailyLimit < 0}, nil
}

func (e *fakeEntitlements) GetMonthlyTokenUsage(ctx context.Context, projectID uuid.UUID, plan PlanLimits) (Usage, error) {
	return Usage{Used: e.tokensUsed, Limit: plan.MonthlyTokenCap, Unlimited: plan.MonthlyTokenCap < 0}, nil
}

func (e *fakeEntitlements) GetDailyWriteUsage(ctx context.Context, projectID uuid.UUID, plan PlanLimits) (Usage, error) {
	return Usage{Used: e.writesUsed, Limit: plan.ApplyDailyWriteLimit, Unlimited: plan.ApplyDailyWriteLimit < 0}, nil
}

func (e *fakeEntitlements) RecordAICalls(ctx context.Context, projectID uuid.UUID, calls int64, tokens int64) error {
	e.recordedCalls += calls
	e.recordedTokens += tokens
	return nil
}

func (e *fakeEntitlements) RecordWrites(ctx context.Context, projectID uuid.UUID, writes int64) error {
	e.recordedWrites += writes
	return nil
}

type fakeAIClient struct {
	calls     int
	responses map[string]string // asset id -> suggestion
	errs      map[string]error  // asset id -> forced failure
	fallback  string
}

func (a *fakeAIClient) GenerateSuggestion(ctx context.Context, asset AssetContext, field playbook.Field, hint string) (string, error) {
	a.calls++
	if err, ok := a.errs[asset.AssetID]; ok {
		return "", err
	}
	if resp, ok := a.responses[asset.AssetID]; ok {
		return resp, nil
	}
	if a.fallback != "" {
		return a.fallback, nil
	}
	return "Suggested " + string(field) + " for " + asset.AssetID, nil
}

type fakeRoles struct {
	role       requestdata.Role
	singleUser bool
}

func (r *fakeRoles) GetEffectiveRole(ctx context.Context, userID, projectID uuid.UUID) (requestdata.Role, error) {
	return r.role, nil
}

func (r *fakeRoles) IsSingleUserProject(ctx context.Context, projectID uuid.UUID) (bool, error) {
	return r.singleUser, nil
}
