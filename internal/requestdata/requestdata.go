package requestdata

import (
	"context"

	"github.com/google/uuid"
)

var requestDataKey = struct{}{}

type Role string

const (
	RoleOwner  Role = "OWNER"
	RoleEditor Role = "EDITOR"
	RoleViewer Role = "VIEWER"
)

// GovernancePolicy is the per-project governance configuration that gates Apply.
type GovernancePolicy struct {
	RequireApprovalForApply bool
}

// RequestData is the request-scoped identity and governance state. It is built
// once by the auth middleware plus role resolution and passed explicitly so the
// approval state machine never depends on ambient lookups.
type RequestData struct {
	TokenString   string
	UserID        uuid.UUID
	ProjectID     uuid.UUID
	EffectiveRole Role
	Policy        GovernancePolicy
}

func WithRequestData(ctx context.Context, rd *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey, rd)
}

func GetRequestData(ctx context.Context) *RequestData {
	val := ctx.Value(requestDataKey)
	if rd, ok := val.(*RequestData); ok {
		return rd
	}
	return nil
}
