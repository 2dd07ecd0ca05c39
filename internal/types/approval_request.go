package types

import (
	"time"

	"github.com/google/uuid"
)

const (
	ApprovalResourceTypePlaybookApply = "AUTOMATION_PLAYBOOK_APPLY"

	ApprovalStatusPending  = "PENDING_APPROVAL"
	ApprovalStatusApproved = "APPROVED"
	ApprovalStatusRejected = "REJECTED"
)

// ApprovalRequest gates Apply when the project's governance policy demands a
// second pair of eyes. An approved request may be consumed by at most one
// successful apply.
type ApprovalRequest struct {
	ID                uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ProjectID         uuid.UUID  `gorm:"type:uuid;not null;index" json:"project_id"`
	ResourceType      string     `gorm:"column:resource_type;not null;index:idx_approval_resource" json:"resource_type"`
	ResourceID        string     `gorm:"column:resource_id;not null;index:idx_approval_resource" json:"resource_id"` // "{playbookId}:{scopeId}"
	RequestedByUserID uuid.UUID  `gorm:"type:uuid;not null;index" json:"requested_by_user_id"`
	Status            string     `gorm:"column:status;not null;index" json:"status"` // PENDING_APPROVAL|APPROVED|REJECTED
	Consumed          bool       `gorm:"column:consumed;not null;default:false" json:"consumed"`
	SelfApproved      bool       `gorm:"column:self_approved;not null;default:false" json:"self_approved"`
	DecidedByUserID   *uuid.UUID `gorm:"type:uuid;column:decided_by_user_id" json:"decided_by_user_id,omitempty"`
	DecidedAt         *time.Time `gorm:"column:decided_at" json:"decided_at,omitempty"`
	CreatedAt         time.Time  `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"not null;default:now()" json:"updated_at"`
}

func (ApprovalRequest) TableName() string { return "approval_request" }
