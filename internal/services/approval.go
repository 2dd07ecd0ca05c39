package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/engineo-ai/engineo-backend/internal/logger"
	"github.com/engineo-ai/engineo-backend/internal/observability"
	"github.com/engineo-ai/engineo-backend/internal/playbook"
	"github.com/engineo-ai/engineo-backend/internal/repos"
	"github.com/engineo-ai/engineo-backend/internal/requestdata"
	"github.com/engineo-ai/engineo-backend/internal/types"
)

type ApprovalRequestInput struct {
	PlaybookID string `json:"playbook_id"`
	ScopeID    string `json:"scope_id"`
}

type ApprovalDecisionInput struct {
	ApprovalID uuid.UUID `json:"approval_id"`
	Approve    bool      `json:"approve"`
}

type ApprovalService interface {
	CreateRequest(ctx context.Context, rd *requestdata.RequestData, input ApprovalRequestInput) (*types.ApprovalRequest, error)
	Decide(ctx context.Context, rd *requestdata.RequestData, input ApprovalDecisionInput) (*types.ApprovalRequest, error)
	GetStatus(ctx context.Context, rd *requestdata.RequestData, approvalID uuid.UUID) (*types.ApprovalRequest, error)
	GetStatusByResource(ctx context.Context, rd *requestdata.RequestData, resourceID string) (*types.ApprovalRequest, error)
	ListPending(ctx context.Context, rd *requestdata.RequestData) ([]*types.ApprovalRequest, error)
}

type approvalService struct {
	tx        TxManager
	log       *logger.Logger
	approvals repos.ApprovalRepo
	roles     RolesService
}

func NewApprovalService(txm TxManager, baseLog *logger.Logger, approvals repos.ApprovalRepo, roles RolesService) ApprovalService {
	return &approvalService{
		tx:        txm,
		log:       baseLog.With("service", "ApprovalService"),
		approvals: approvals,
		roles:     roles,
	}
}

// CreateRequest opens an approval request for a pending apply. An owner on a
// single-user project gets an immediately approved, self-approved request.
// On a multi-user project owners do not request at all: an editor requests
// and a different owner decides, so an owner self-request is rejected.
func (s *approvalService) CreateRequest(ctx context.Context, rd *requestdata.RequestData, input ApprovalRequestInput) (*types.ApprovalRequest, error) {
	if rd == nil || rd.UserID == uuid.Nil || rd.ProjectID == uuid.Nil {
		return nil, playbook.NewError(playbook.CodeInternal, "missing request context")
	}
	if !CapabilitiesFor(rd.EffectiveRole).CanRequestApproval {
		return nil, playbook.NewError(playbook.CodeRoleForbidden, "role cannot request approval")
	}
	if _, ok := playbook.GetDefinition(input.PlaybookID); !ok {
		return nil, playbook.NewError(playbook.CodeScopeInvalid, fmt.Sprintf("unknown playbook %q", input.PlaybookID))
	}
	if input.ScopeID == "" {
		return nil, playbook.NewError(playbook.CodeScopeInvalid, "scope id is required")
	}

	resourceID := ApprovalResourceID(input.PlaybookID, input.ScopeID)
	request := &types.ApprovalRequest{
		ProjectID:         rd.ProjectID,
		RequestedByUserID: rd.UserID,
		ResourceType:      types.ApprovalResourceTypePlaybookApply,
		ResourceID:        resourceID,
		Status:            types.ApprovalStatusPending,
	}

	selfApprove := false
	if rd.EffectiveRole == requestdata.RoleOwner {
		single, err := s.roles.IsSingleUserProject(ctx, rd.ProjectID)
		if err != nil {
			return nil, err
		}
		if !single {
			return nil, playbook.NewError(playbook.CodeRoleForbidden, "owners on multi-user projects do not request approval; an editor requests and another owner decides")
		}
		selfApprove = true
	}

	err := s.tx.Transaction(ctx, func(tx *gorm.DB) error {
		created, cErr := s.approvals.Create(ctx, tx, request)
		if cErr != nil {
			return cErr
		}
		request = created
		if selfApprove {
			if dErr := s.approvals.Decide(ctx, tx, request.ID, rd.UserID, types.ApprovalStatusApproved, true); dErr != nil {
				return dErr
			}
			now := time.Now().UTC()
			request.Status = types.ApprovalStatusApproved
			request.SelfApproved = true
			request.DecidedByUserID = &rd.UserID
			request.DecidedAt = &now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	observability.Current().IncApproval("create", request.Status)
	s.log.Info("Approval request created",
		"approval_id", request.ID,
		"project_id", rd.ProjectID,
		"resource_id", resourceID,
		"self_approved", selfApprove)
	return request, nil
}

// Decide records an owner's verdict on a pending request. On multi-user
// projects the decider must not be the requester.
func (s *approvalService) Decide(ctx context.Context, rd *requestdata.RequestData, input ApprovalDecisionInput) (*types.ApprovalRequest, error) {
	if rd == nil || rd.UserID == uuid.Nil || rd.ProjectID == uuid.Nil {
		return nil, playbook.NewError(playbook.CodeInternal, "missing request context")
	}
	if !CapabilitiesFor(rd.EffectiveRole).CanApprove {
		return nil, playbook.NewError(playbook.CodeRoleForbidden, "only owners decide approval requests")
	}
	request, err := s.approvals.GetByID(ctx, nil, input.ApprovalID)
	if err != nil {
		return nil, err
	}
	if request == nil || request.ProjectID != rd.ProjectID {
		return nil, playbook.NewError(playbook.CodeApprovalNotFound, "approval request not found")
	}
	selfApproved := request.RequestedByUserID == rd.UserID
	if selfApproved {
		single, sErr := s.roles.IsSingleUserProject(ctx, rd.ProjectID)
		if sErr != nil {
			return nil, sErr
		}
		if !single {
			return nil, playbook.NewError(playbook.CodeRoleForbidden, "requester cannot decide their own approval request")
		}
	}

	status := types.ApprovalStatusRejected
	if input.Approve {
		status = types.ApprovalStatusApproved
	}
	if err := s.approvals.Decide(ctx, nil, request.ID, rd.UserID, status, selfApproved); err != nil {
		if errors.Is(err, repos.ErrApprovalTransition) {
			return nil, playbook.NewError(playbook.CodeApprovalRequired, "approval request already decided")
		}
		return nil, err
	}
	now := time.Now().UTC()
	request.Status = status
	request.SelfApproved = selfApproved
	request.DecidedByUserID = &rd.UserID
	request.DecidedAt = &now
	observability.Current().IncApproval("decide", status)
	s.log.Info("Approval request decided",
		"approval_id", request.ID,
		"project_id", rd.ProjectID,
		"status", status)
	return request, nil
}

func (s *approvalService) GetStatus(ctx context.Context, rd *requestdata.RequestData, approvalID uuid.UUID) (*types.ApprovalRequest, error) {
	if rd == nil || rd.ProjectID == uuid.Nil {
		return nil, playbook.NewError(playbook.CodeInternal, "missing request context")
	}
	request, err := s.approvals.GetByID(ctx, nil, approvalID)
	if err != nil {
		return nil, err
	}
	if request == nil || request.ProjectID != rd.ProjectID {
		return nil, playbook.NewError(playbook.CodeApprovalNotFound, "approval request not found")
	}
	return request, nil
}

// GetStatusByResource reports the most recent request filed for a playbook/scope
// pair, whatever state it is in.
func (s *approvalService) GetStatusByResource(ctx context.Context, rd *requestdata.RequestData, resourceID string) (*types.ApprovalRequest, error) {
	if rd == nil || rd.ProjectID == uuid.Nil {
		return nil, playbook.NewError(playbook.CodeInternal, "missing request context")
	}
	request, err := s.approvals.GetLatestByResource(ctx, nil, rd.ProjectID, types.ApprovalResourceTypePlaybookApply, resourceID)
	if err != nil {
		return nil, err
	}
	if request == nil {
		return nil, playbook.NewError(playbook.CodeApprovalNotFound, "no approval request for resource")
	}
	return request, nil
}

func (s *approvalService) ListPending(ctx context.Context, rd *requestdata.RequestData) ([]*types.ApprovalRequest, error) {
	if rd == nil || rd.ProjectID == uuid.Nil {
		return nil, playbook.NewError(playbook.CodeInternal, "missing request context")
	}
	return s.approvals.ListPending(ctx, nil, rd.ProjectID)
}
