package services

import (
	"bytes"
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"gorm.io/datatypes"

	"github.com/engineo-ai/engineo-backend/internal/observability"
	"github.com/engineo-ai/engineo-backend/internal/playbook"
	"github.com/engineo-ai/engineo-backend/internal/requestdata"
	"github.com/engineo-ai/engineo-backend/internal/types"
)

type applyFixture struct {
	drafts       *fakeDraftRepo
	runs         *fakeRunRepo
	approvals    *fakeApprovalRepo
	catalog      *fakeCatalog
	entitlements *fakeEntitlements
	svc          ApplyService
}

func newApplyFixture(t *testing.T, eligible []AssetRef) *applyFixture {
	t.Helper()
	f := &applyFixture{
		drafts:    &fakeDraftRepo{},
		runs:      &fakeRunRepo{},
		approvals: &fakeApprovalRepo{},
		catalog:   &fakeCatalog{eligible: eligible},
		entitlements: &fakeEntitlements{plan: PlanLimits{
			ID:                     "growth",
			PlaybooksEnabled:       true,
			AIDailyLimit:           200,
			MonthlyTokenCap:        500000,
			ApplyDailyWriteLimit:   1000,
			HardEnforcementEnabled: true,
		}},
	}
	f.svc = NewApplyService(fakeTxManager{}, testLogger(t), f.drafts, f.runs, f.approvals, f.catalog, f.entitlements)
	return f
}

// seedDraft stores a READY draft matching the given items against the
// products/missing_seo_title playbook over all eligible products.
func (f *applyFixture) seedDraft(t *testing.T, items []playbook.DraftItem, affectedTotal int) (*types.AutomationPlaybookDraft, string) {
	t.Helper()
	scope := playbook.Scope{ProjectID: testProjectID, AssetType: playbook.AssetTypeProducts, AllEligible: true}
	scopeID, err := scope.Fingerprint()
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	encoded, err := playbook.EncodeItems(items)
	if err != nil {
		t.Fatalf("EncodeItems: %v", err)
	}
	counts := playbook.CountItems(items, affectedTotal)
	expires := time.Now().UTC().Add(time.Hour)
	draft, err := f.drafts.Upsert(context.Background(), nil, &types.AutomationPlaybookDraft{
		ProjectID:         testProjectID,
		PlaybookID:        "missing_seo_title",
		ScopeID:           scopeID,
		RulesHash:         playbook.NoRulesHash(),
		Status:            types.DraftStatusReady,
		Items:             datatypes.JSON(encoded),
		AffectedTotal:     counts.AffectedTotal,
		DraftGenerated:    counts.DraftGenerated,
		NoSuggestionCount: counts.NoSuggestionCount,
		CreatedByUserID:   testUserID,
		ExpiresAt:         &expires,
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	return draft, scopeID
}

func applyInput(scopeID string) ApplyInput {
	return ApplyInput{
		PlaybookID: "missing_seo_title",
		ScopeID:    scopeID,
		Scope:      ScopeInput{AssetType: playbook.AssetTypeProducts, AllEligible: true},
	}
}

func suggestionItems(assets []AssetRef) []playbook.DraftItem {
	items := make([]playbook.DraftItem, 0, len(assets))
	for _, a := range assets {
		items = append(items, playbook.DraftItem{
			AssetID:         a.ID,
			Field:           playbook.FieldSEOTitle,
			RawSuggestion:   "Raw title for " + a.ID,
			FinalSuggestion: "Final title for " + a.ID,
		})
	}
	return items
}

func TestApplyServiceHoldsNoAIClient(t *testing.T) {
	f := newApplyFixture(t, nil)
	aiType := reflect.TypeOf((*AIClient)(nil)).Elem()
	st := reflect.ValueOf(f.svc).Elem().Type()
	for i := 0; i < st.NumField(); i++ {
		ft := st.Field(i).Type
		if ft == aiType || ft.Implements(aiType) {
			t.Fatalf("apply service field %q can reach the AI client", st.Field(i).Name)
		}
	}
}

func TestApplyWritesAllSuggestions(t *testing.T) {
	eligible := []AssetRef{{ID: "a1"}, {ID: "a2"}, {ID: "a3"}}
	f := newApplyFixture(t, eligible)
	draft, scopeID := f.seedDraft(t, suggestionItems(eligible), len(eligible))

	rd := testRequestData(requestdata.RoleOwner, false)
	res, err := f.svc.Apply(context.Background(), rd, applyInput(scopeID))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.UpdatedCount != 3 || res.SkippedCount != 0 || res.Stopped {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(f.catalog.writes) != 3 {
		t.Fatalf("expected 3 live writes, got %d", len(f.catalog.writes))
	}
	if f.catalog.writes[0].Value != "Final title for a1" {
		t.Fatalf("wrote raw instead of final suggestion: %q", f.catalog.writes[0].Value)
	}

	run := f.runs.lastRun()
	if run == nil || run.RunType != types.RunTypeApply || run.Status != types.RunStatusSucceeded {
		t.Fatalf("unexpected run row: %+v", run)
	}
	if run.AIUsed {
		t.Fatal("apply run must record ai_used=false")
	}

	stored, _ := f.drafts.GetByID(context.Background(), nil, draft.ID)
	if stored.AppliedAt == nil {
		t.Fatal("draft was not marked applied")
	}
	if f.entitlements.recordedWrites != 3 {
		t.Fatalf("recorded writes = %d, want 3", f.entitlements.recordedWrites)
	}
}

func TestApplyDistinguishesMissingDraftFromChangedRules(t *testing.T) {
	eligible := []AssetRef{{ID: "a1"}}
	f := newApplyFixture(t, eligible)
	rd := testRequestData(requestdata.RoleOwner, false)

	scope := playbook.Scope{ProjectID: testProjectID, AssetType: playbook.AssetTypeProducts, AllEligible: true}
	scopeID, _ := scope.Fingerprint()
	_, err := f.svc.Apply(context.Background(), rd, applyInput(scopeID))
	if playbook.CodeOf(err) != playbook.CodeDraftNotFound {
		t.Fatalf("expected DRAFT_NOT_FOUND, got %v", err)
	}

	// A draft under different rules exists: the same request must now report
	// the rules mismatch instead.
	f.seedDraft(t, suggestionItems(eligible), len(eligible))
	input := applyInput(scopeID)
	input.RulesHash = (&playbook.Rules{Enabled: true, MaxLength: 40}).Hash()
	_, err = f.svc.Apply(context.Background(), rd, input)
	if playbook.CodeOf(err) != playbook.CodeRulesChanged {
		t.Fatalf("expected RULES_CHANGED, got %v", err)
	}
}

func TestApplyRejectsExpiredDraft(t *testing.T) {
	eligible := []AssetRef{{ID: "a1"}}
	f := newApplyFixture(t, eligible)
	draft, scopeID := f.seedDraft(t, suggestionItems(eligible), len(eligible))

	past := time.Now().UTC().Add(-time.Minute)
	for _, d := range f.drafts.drafts {
		if d.ID == draft.ID {
			d.ExpiresAt = &past
		}
	}

	rd := testRequestData(requestdata.RoleOwner, false)
	_, err := f.svc.Apply(context.Background(), rd, applyInput(scopeID))
	if playbook.CodeOf(err) != playbook.CodeDraftExpired {
		t.Fatalf("expected DRAFT_EXPIRED, got %v", err)
	}
	if len(f.catalog.writes) != 0 {
		t.Fatal("expired draft must not write")
	}
}

func TestApplyRejectsDriftedEligibleSet(t *testing.T) {
	eligible := []AssetRef{{ID: "a1"}, {ID: "a2"}}
	f := newApplyFixture(t, eligible)
	_, scopeID := f.seedDraft(t, suggestionItems(eligible), len(eligible))

	// A crawl added a product between preview and apply.
	f.catalog.eligible = append(f.catalog.eligible, AssetRef{ID: "a3"})

	rd := testRequestData(requestdata.RoleOwner, false)
	_, err := f.svc.Apply(context.Background(), rd, applyInput(scopeID))
	if playbook.CodeOf(err) != playbook.CodeScopeInvalid {
		t.Fatalf("expected SCOPE_INVALID, got %v", err)
	}
}

func TestApplyGovernanceGate(t *testing.T) {
	eligible := []AssetRef{{ID: "a1"}}
	f := newApplyFixture(t, eligible)
	_, scopeID := f.seedDraft(t, suggestionItems(eligible), len(eligible))
	rd := testRequestData(requestdata.RoleOwner, true)

	_, err := f.svc.Apply(context.Background(), rd, applyInput(scopeID))
	if playbook.CodeOf(err) != playbook.CodeApprovalRequired {
		t.Fatalf("expected APPROVAL_REQUIRED without an approval, got %v", err)
	}

	approval, _ := f.approvals.Create(context.Background(), nil, &types.ApprovalRequest{
		ProjectID:         testProjectID,
		RequestedByUserID: testUserID,
		ResourceType:      types.ApprovalResourceTypePlaybookApply,
		ResourceID:        ApprovalResourceID("missing_seo_title", scopeID),
	})
	if err := f.approvals.Decide(context.Background(), nil, approval.ID, testOwnerID, types.ApprovalStatusApproved, false); err != nil {
		t.Fatalf("Decide: %v", err)
	}

	res, err := f.svc.Apply(context.Background(), rd, applyInput(scopeID))
	if err != nil {
		t.Fatalf("Apply with approval: %v", err)
	}
	if res.UpdatedCount != 1 {
		t.Fatalf("updated = %d, want 1", res.UpdatedCount)
	}
	stored, _ := f.approvals.GetByID(context.Background(), nil, approval.ID)
	if !stored.Consumed {
		t.Fatal("approval was not consumed")
	}

	// The consumed approval cannot gate a second apply.
	f.seedDraft(t, suggestionItems(eligible), len(eligible))
	f.catalog.filled = map[string]bool{}
	_, err = f.svc.Apply(context.Background(), rd, applyInput(scopeID))
	if playbook.CodeOf(err) != playbook.CodeApprovalRequired {
		t.Fatalf("expected APPROVAL_REQUIRED after consumption, got %v", err)
	}
}

func TestApplyReplaysByIdempotencyKey(t *testing.T) {
	eligible := []AssetRef{{ID: "a1"}, {ID: "a2"}}
	f := newApplyFixture(t, eligible)
	_, scopeID := f.seedDraft(t, suggestionItems(eligible), len(eligible))
	rd := testRequestData(requestdata.RoleOwner, false)

	input := applyInput(scopeID)
	input.IdempotencyKey = "apply-retry-1"
	first, err := f.svc.Apply(context.Background(), rd, input)
	if err != nil {
		t.Fatalf("first Apply: %v", err)
	}
	second, err := f.svc.Apply(context.Background(), rd, input)
	if err != nil {
		t.Fatalf("second Apply: %v", err)
	}
	if !second.Replayed {
		t.Fatal("second apply should replay the recorded result")
	}
	if second.UpdatedCount != first.UpdatedCount {
		t.Fatalf("replayed counts differ: %d vs %d", second.UpdatedCount, first.UpdatedCount)
	}
	if len(f.catalog.writes) != 2 {
		t.Fatalf("replay must not re-write, got %d writes", len(f.catalog.writes))
	}
	if len(f.runs.runs) != 1 {
		t.Fatalf("replay must not append a second run, got %d", len(f.runs.runs))
	}
}

func TestApplyRejectsAlreadyAppliedDraft(t *testing.T) {
	eligible := []AssetRef{{ID: "a1"}}
	f := newApplyFixture(t, eligible)
	_, scopeID := f.seedDraft(t, suggestionItems(eligible), len(eligible))
	rd := testRequestData(requestdata.RoleOwner, false)

	if _, err := f.svc.Apply(context.Background(), rd, applyInput(scopeID)); err != nil {
		t.Fatalf("first Apply: %v", err)
	}
	_, err := f.svc.Apply(context.Background(), rd, applyInput(scopeID))
	if playbook.CodeOf(err) != playbook.CodeDraftConflict {
		t.Fatalf("expected DRAFT_CONFLICT, got %v", err)
	}
}

func TestApplySkipsFieldsFilledSincePreview(t *testing.T) {
	eligible := []AssetRef{{ID: "a1"}, {ID: "a2"}}
	f := newApplyFixture(t, eligible)
	_, scopeID := f.seedDraft(t, suggestionItems(eligible), len(eligible))
	f.catalog.filled = map[string]bool{"a2": true}

	rd := testRequestData(requestdata.RoleOwner, false)
	res, err := f.svc.Apply(context.Background(), rd, applyInput(scopeID))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.UpdatedCount != 1 || res.SkippedCount != 1 {
		t.Fatalf("updated=%d skipped=%d, want 1/1", res.UpdatedCount, res.SkippedCount)
	}
	if res.Results[1].Outcome != ItemOutcomeSkipped || res.Results[1].Reason != "field_already_set" {
		t.Fatalf("unexpected item result: %+v", res.Results[1])
	}
}

func TestApplySkipsItemsWithoutSuggestion(t *testing.T) {
	eligible := []AssetRef{{ID: "a1"}, {ID: "a2"}}
	f := newApplyFixture(t, eligible)
	items := suggestionItems(eligible[:1])
	items = append(items, playbook.DraftItem{
		AssetID:       "a2",
		Field:         playbook.FieldSEOTitle,
		FailureReason: "ai timeout",
	})
	_, scopeID := f.seedDraft(t, items, len(eligible))

	rd := testRequestData(requestdata.RoleOwner, false)
	res, err := f.svc.Apply(context.Background(), rd, applyInput(scopeID))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.UpdatedCount != 1 || res.SkippedCount != 1 {
		t.Fatalf("updated=%d skipped=%d, want 1/1", res.UpdatedCount, res.SkippedCount)
	}
	if res.Results[1].Reason != "no_suggestion" {
		t.Fatalf("unexpected skip reason: %q", res.Results[1].Reason)
	}
}

func TestApplyClearCaseCountsAsUpdate(t *testing.T) {
	eligible := []AssetRef{{ID: "a1"}}
	f := newApplyFixture(t, eligible)
	items := []playbook.DraftItem{{
		AssetID:         "a1",
		Field:           playbook.FieldSEOTitle,
		RawSuggestion:   "Something the rules trimmed away",
		FinalSuggestion: "",
	}}
	_, scopeID := f.seedDraft(t, items, len(eligible))

	rd := testRequestData(requestdata.RoleOwner, false)
	res, err := f.svc.Apply(context.Background(), rd, applyInput(scopeID))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.UpdatedCount != 1 {
		t.Fatalf("clear-case should count as an update: %+v", res)
	}
	if len(f.catalog.writes) != 1 || f.catalog.writes[0].Value != "" {
		t.Fatalf("expected one empty write, got %+v", f.catalog.writes)
	}
}

func TestApplyStopsAtDailyWriteLimit(t *testing.T) {
	eligible := []AssetRef{{ID: "a1"}, {ID: "a2"}, {ID: "a3"}}
	f := newApplyFixture(t, eligible)
	_, scopeID := f.seedDraft(t, suggestionItems(eligible), len(eligible))
	f.entitlements.plan.ApplyDailyWriteLimit = 10
	f.entitlements.writesUsed = 8 // 2 writes left

	rd := testRequestData(requestdata.RoleOwner, false)
	res, err := f.svc.Apply(context.Background(), rd, applyInput(scopeID))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.UpdatedCount != 2 || !res.LimitReached || !res.Stopped {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.StoppedAtProductID != "a3" {
		t.Fatalf("stopped at %q, want a3", res.StoppedAtProductID)
	}
	last := res.Results[len(res.Results)-1]
	if last.Outcome != ItemOutcomeLimitReached {
		t.Fatalf("last outcome %q, want LIMIT_REACHED", last.Outcome)
	}
}

func TestApplyStopsSafelyOnWriteFailure(t *testing.T) {
	eligible := []AssetRef{{ID: "a1"}, {ID: "a2"}, {ID: "a3"}}
	f := newApplyFixture(t, eligible)
	_, scopeID := f.seedDraft(t, suggestionItems(eligible), len(eligible))
	f.catalog.writeErrs = map[string]error{"a2": context.DeadlineExceeded}

	rd := testRequestData(requestdata.RoleOwner, false)
	res, err := f.svc.Apply(context.Background(), rd, applyInput(scopeID))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !res.Stopped || res.StoppedAtProductID != "a2" {
		t.Fatalf("unexpected stop state: %+v", res)
	}
	if res.UpdatedCount != 1 {
		t.Fatalf("updated=%d, want 1 (a1 committed before the failure)", res.UpdatedCount)
	}
	run := f.runs.lastRun()
	if run == nil || run.Status != types.RunStatusFailed {
		t.Fatalf("run should record the failed apply: %+v", run)
	}
}

func TestApplyRoleForbidden(t *testing.T) {
	eligible := []AssetRef{{ID: "a1"}}
	f := newApplyFixture(t, eligible)
	_, scopeID := f.seedDraft(t, suggestionItems(eligible), len(eligible))

	for _, role := range []requestdata.Role{requestdata.RoleEditor, requestdata.RoleViewer} {
		_, err := f.svc.Apply(context.Background(), testRequestData(role, false), applyInput(scopeID))
		if playbook.CodeOf(err) != playbook.CodeRoleForbidden {
			t.Fatalf("role %s: expected ROLE_FORBIDDEN, got %v", role, err)
		}
	}
	if len(f.catalog.writes) != 0 {
		t.Fatal("forbidden roles must not write")
	}
}

func TestApplyRecordsRunMetrics(t *testing.T) {
	t.Setenv("METRICS_ENABLED", "true")
	metrics := observability.Init(testLogger(t))
	if metrics == nil {
		t.Fatal("metrics should initialize when METRICS_ENABLED is set")
	}

	eligible := []AssetRef{{ID: "a1"}, {ID: "a2"}}
	f := newApplyFixture(t, eligible)
	_, scopeID := f.seedDraft(t, suggestionItems(eligible), len(eligible))

	if _, err := f.svc.Apply(context.Background(), testRequestData(requestdata.RoleOwner, false), applyInput(scopeID)); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	var buf bytes.Buffer
	if err := metrics.WritePrometheus(&buf); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `eo_playbook_runs_total{playbook="missing_seo_title",run_type="APPLY",status="SUCCEEDED"}`) {
		t.Fatalf("apply run missing from exposition:\n%s", out)
	}
	if !strings.Contains(out, `eo_draft_items_total{playbook="missing_seo_title",outcome="UPDATED"}`) {
		t.Fatalf("item outcomes missing from exposition:\n%s", out)
	}
}
