package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/engineo-ai/engineo-backend/internal/logger"
	"github.com/engineo-ai/engineo-backend/internal/repos"
	"github.com/engineo-ai/engineo-backend/internal/requestdata"
)

// Capabilities derives what a role may do in the playbook workflow.
type Capabilities struct {
	CanEstimate        bool
	CanGenerateDrafts  bool
	CanRequestApproval bool
	CanApprove         bool
	CanApply           bool
}

func CapabilitiesFor(role requestdata.Role) Capabilities {
	switch role {
	case requestdata.RoleOwner:
		return Capabilities{
			CanEstimate:        true,
			CanGenerateDrafts:  true,
			CanRequestApproval: true,
			CanApprove:         true,
			CanApply:           true,
		}
	case requestdata.RoleEditor:
		return Capabilities{
			CanEstimate:        true,
			CanGenerateDrafts:  true,
			CanRequestApproval: true,
		}
	case requestdata.RoleViewer:
		return Capabilities{CanEstimate: true}
	default:
		return Capabilities{}
	}
}

type RolesService interface {
	GetEffectiveRole(ctx context.Context, userID, projectID uuid.UUID) (requestdata.Role, error)
	// IsSingleUserProject reports whether the project has exactly one member.
	IsSingleUserProject(ctx context.Context, projectID uuid.UUID) (bool, error)
}

type rolesService struct {
	log     *logger.Logger
	members repos.ProjectMemberRepo
}

func NewRolesService(baseLog *logger.Logger, members repos.ProjectMemberRepo) RolesService {
	return &rolesService{
		log:     baseLog.With("service", "RolesService"),
		members: members,
	}
}

func (s *rolesService) GetEffectiveRole(ctx context.Context, userID, projectID uuid.UUID) (requestdata.Role, error) {
	role, err := s.members.GetRole(ctx, nil, projectID, userID)
	if err != nil {
		return "", err
	}
	switch role {
	case "OWNER":
		return requestdata.RoleOwner, nil
	case "EDITOR":
		return requestdata.RoleEditor, nil
	case "VIEWER":
		return requestdata.RoleViewer, nil
	default:
		return "", nil
	}
}

func (s *rolesService) IsSingleUserProject(ctx context.Context, projectID uuid.UUID) (bool, error) {
	count, err := s.members.CountMembers(ctx, nil, projectID)
	if err != nil {
		return false, err
	}
	return count <= 1, nil
}
