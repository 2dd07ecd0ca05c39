package services

import (
	"context"
	"testing"

	"github.com/engineo-ai/engineo-backend/internal/playbook"
	"github.com/engineo-ai/engineo-backend/internal/requestdata"
	"github.com/engineo-ai/engineo-backend/internal/types"
)

type approvalFixture struct {
	approvals *fakeApprovalRepo
	roles     *fakeRoles
	svc       ApprovalService
}

func newApprovalFixture(t *testing.T, singleUser bool) *approvalFixture {
	t.Helper()
	f := &approvalFixture{
		approvals: &fakeApprovalRepo{},
		roles:     &fakeRoles{singleUser: singleUser},
	}
	f.svc = NewApprovalService(fakeTxManager{}, testLogger(t), f.approvals, f.roles)
	return f
}

func approvalRequestInput(t *testing.T) ApprovalRequestInput {
	t.Helper()
	return ApprovalRequestInput{PlaybookID: "missing_seo_title", ScopeID: mustScopeID(t)}
}

func ownerRequestData() *requestdata.RequestData {
	return &requestdata.RequestData{
		UserID:        testOwnerID,
		ProjectID:     testProjectID,
		EffectiveRole: requestdata.RoleOwner,
		Policy:        requestdata.GovernancePolicy{RequireApprovalForApply: true},
	}
}

func TestApprovalEditorCreatesPendingRequest(t *testing.T) {
	f := newApprovalFixture(t, false)
	req, err := f.svc.CreateRequest(context.Background(), testRequestData(requestdata.RoleEditor, true), approvalRequestInput(t))
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	if req.Status != types.ApprovalStatusPending || req.SelfApproved {
		t.Fatalf("unexpected request: %+v", req)
	}
	pending, _ := f.svc.ListPending(context.Background(), testRequestData(requestdata.RoleOwner, true))
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
}

func TestApprovalSoleOwnerSelfApproves(t *testing.T) {
	f := newApprovalFixture(t, true)
	rd := ownerRequestData()
	req, err := f.svc.CreateRequest(context.Background(), rd, approvalRequestInput(t))
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	if req.Status != types.ApprovalStatusApproved || !req.SelfApproved {
		t.Fatalf("sole owner request should self-approve: %+v", req)
	}
	stored, _ := f.approvals.GetByID(context.Background(), nil, req.ID)
	if stored.Status != types.ApprovalStatusApproved || !stored.SelfApproved {
		t.Fatalf("self-approval not persisted: %+v", stored)
	}
}

func TestApprovalOwnerOnSharedProjectCannotRequest(t *testing.T) {
	f := newApprovalFixture(t, false)
	_, err := f.svc.CreateRequest(context.Background(), ownerRequestData(), approvalRequestInput(t))
	if playbook.CodeOf(err) != playbook.CodeRoleForbidden {
		t.Fatalf("shared-project owner self-request: want %s, got %v", playbook.CodeRoleForbidden, err)
	}
	pending, lErr := f.svc.ListPending(context.Background(), ownerRequestData())
	if lErr != nil {
		t.Fatalf("ListPending: %v", lErr)
	}
	if len(pending) != 0 {
		t.Fatalf("rejected self-request must not persist a row, got %d", len(pending))
	}
}

func TestApprovalViewerCannotRequest(t *testing.T) {
	f := newApprovalFixture(t, false)
	_, err := f.svc.CreateRequest(context.Background(), testRequestData(requestdata.RoleViewer, true), approvalRequestInput(t))
	if playbook.CodeOf(err) != playbook.CodeRoleForbidden {
		t.Fatalf("expected ROLE_FORBIDDEN, got %v", err)
	}
}

func TestApprovalOwnerDecides(t *testing.T) {
	f := newApprovalFixture(t, false)
	req, err := f.svc.CreateRequest(context.Background(), testRequestData(requestdata.RoleEditor, true), approvalRequestInput(t))
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}

	decided, err := f.svc.Decide(context.Background(), ownerRequestData(), ApprovalDecisionInput{ApprovalID: req.ID, Approve: true})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if decided.Status != types.ApprovalStatusApproved || decided.SelfApproved {
		t.Fatalf("unexpected decision: %+v", decided)
	}
	if decided.DecidedByUserID == nil || *decided.DecidedByUserID != testOwnerID {
		t.Fatalf("decider not recorded: %+v", decided.DecidedByUserID)
	}

	// A decided request cannot be decided again.
	_, err = f.svc.Decide(context.Background(), ownerRequestData(), ApprovalDecisionInput{ApprovalID: req.ID, Approve: false})
	if playbook.CodeOf(err) != playbook.CodeApprovalRequired {
		t.Fatalf("expected APPROVAL_REQUIRED on double decision, got %v", err)
	}
}

func TestApprovalRejectionRecorded(t *testing.T) {
	f := newApprovalFixture(t, false)
	req, _ := f.svc.CreateRequest(context.Background(), testRequestData(requestdata.RoleEditor, true), approvalRequestInput(t))
	decided, err := f.svc.Decide(context.Background(), ownerRequestData(), ApprovalDecisionInput{ApprovalID: req.ID, Approve: false})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if decided.Status != types.ApprovalStatusRejected {
		t.Fatalf("status = %s, want REJECTED", decided.Status)
	}
}

func TestApprovalRequesterCannotDecideOwnRequest(t *testing.T) {
	f := newApprovalFixture(t, false)
	rd := ownerRequestData()
	req, err := f.svc.CreateRequest(context.Background(), rd, approvalRequestInput(t))
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	_, err = f.svc.Decide(context.Background(), rd, ApprovalDecisionInput{ApprovalID: req.ID, Approve: true})
	if playbook.CodeOf(err) != playbook.CodeRoleForbidden {
		t.Fatalf("expected ROLE_FORBIDDEN for self-decision, got %v", err)
	}
}

func TestApprovalEditorCannotDecide(t *testing.T) {
	f := newApprovalFixture(t, false)
	req, _ := f.svc.CreateRequest(context.Background(), testRequestData(requestdata.RoleEditor, true), approvalRequestInput(t))
	_, err := f.svc.Decide(context.Background(), testRequestData(requestdata.RoleEditor, true), ApprovalDecisionInput{ApprovalID: req.ID, Approve: true})
	if playbook.CodeOf(err) != playbook.CodeRoleForbidden {
		t.Fatalf("expected ROLE_FORBIDDEN, got %v", err)
	}
}

func TestApprovalStatusScopedToProject(t *testing.T) {
	f := newApprovalFixture(t, false)
	req, _ := f.svc.CreateRequest(context.Background(), testRequestData(requestdata.RoleEditor, true), approvalRequestInput(t))

	other := ownerRequestData()
	other.ProjectID = testUserID // a different project id
	_, err := f.svc.GetStatus(context.Background(), other, req.ID)
	if playbook.CodeOf(err) != playbook.CodeApprovalNotFound {
		t.Fatalf("expected not-found across projects, got %v", err)
	}
}
