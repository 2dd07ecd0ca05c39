package repos

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/engineo-ai/engineo-backend/internal/logger"
	"github.com/engineo-ai/engineo-backend/internal/types"
)

// ErrApprovalTransition is returned when a guarded status transition matched
// no row (already decided, already consumed, or not approved).
var ErrApprovalTransition = errors.New("approval transition rejected")

type ApprovalRepo interface {
	Create(ctx context.Context, tx *gorm.DB, req *types.ApprovalRequest) (*types.ApprovalRequest, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ApprovalRequest, error)
	GetLatestByResource(ctx context.Context, tx *gorm.DB, projectID uuid.UUID, resourceType, resourceID string) (*types.ApprovalRequest, error)
	// Decide moves a PENDING_APPROVAL request to APPROVED or REJECTED.
	Decide(ctx context.Context, tx *gorm.DB, id uuid.UUID, decidedBy uuid.UUID, status string, selfApproved bool) error
	// Consume marks an APPROVED, unconsumed request as consumed. At most one
	// caller wins; the rest get ErrApprovalTransition.
	Consume(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	ListPending(ctx context.Context, tx *gorm.DB, projectID uuid.UUID) ([]*types.ApprovalRequest, error)
}

type approvalRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewApprovalRepo(db *gorm.DB, baseLog *logger.Logger) ApprovalRepo {
	return &approvalRepo{db: db, log: baseLog.With("repo", "ApprovalRepo")}
}

func (r *approvalRepo) Create(ctx context.Context, tx *gorm.DB, req *types.ApprovalRequest) (*types.ApprovalRequest, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if req == nil {
		return nil, fmt.Errorf("nil approval request")
	}
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	if req.Status == "" {
		req.Status = types.ApprovalStatusPending
	}
	now := time.Now().UTC()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.UpdatedAt = now
	if err := transaction.WithContext(ctx).Create(req).Error; err != nil {
		return nil, err
	}
	return req, nil
}

func (r *approvalRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ApprovalRequest, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var req types.ApprovalRequest
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&req).Error
	if err != nil {
		return nil, err
	}
	if req.ID == uuid.Nil {
		return nil, nil
	}
	return &req, nil
}

func (r *approvalRepo) GetLatestByResource(ctx context.Context, tx *gorm.DB, projectID uuid.UUID, resourceType, resourceID string) (*types.ApprovalRequest, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if projectID == uuid.Nil || resourceType == "" || resourceID == "" {
		return nil, nil
	}
	var req types.ApprovalRequest
	err := transaction.WithContext(ctx).
		Where("project_id = ? AND resource_type = ? AND resource_id = ?", projectID, resourceType, resourceID).
		Order("created_at DESC").
		Limit(1).
		Find(&req).Error
	if err != nil {
		return nil, err
	}
	if req.ID == uuid.Nil {
		return nil, nil
	}
	return &req, nil
}

func (r *approvalRepo) Decide(ctx context.Context, tx *gorm.DB, id uuid.UUID, decidedBy uuid.UUID, status string, selfApproved bool) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil || decidedBy == uuid.Nil {
		return fmt.Errorf("missing approval id or decider")
	}
	if status != types.ApprovalStatusApproved && status != types.ApprovalStatusRejected {
		return fmt.Errorf("invalid decision status %q", status)
	}
	now := time.Now().UTC()
	res := transaction.WithContext(ctx).
		Model(&types.ApprovalRequest{}).
		Where("id = ? AND status = ?", id, types.ApprovalStatusPending).
		Updates(map[string]interface{}{
			"status":             status,
			"decided_by_user_id": decidedBy,
			"decided_at":         now,
			"self_approved":      selfApproved,
			"updated_at":         now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrApprovalTransition
	}
	return nil
}

func (r *approvalRepo) Consume(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return fmt.Errorf("missing approval id")
	}
	res := transaction.WithContext(ctx).
		Model(&types.ApprovalRequest{}).
		Where("id = ? AND status = ? AND consumed = ?", id, types.ApprovalStatusApproved, false).
		Updates(map[string]interface{}{
			"consumed":   true,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrApprovalTransition
	}
	return nil
}

func (r *approvalRepo) ListPending(ctx context.Context, tx *gorm.DB, projectID uuid.UUID) ([]*types.ApprovalRequest, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if projectID == uuid.Nil {
		return nil, nil
	}
	var out []*types.ApprovalRequest
	err := transaction.WithContext(ctx).
		Where("project_id = ? AND status = ?", projectID, types.ApprovalStatusPending).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
