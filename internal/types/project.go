package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Project struct {
	ID                      uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Name                    string         `gorm:"column:name;not null" json:"name"`
	ShopDomain              string         `gorm:"column:shop_domain;index" json:"shop_domain"`
	PlanID                  string         `gorm:"column:plan_id;not null;default:free" json:"plan_id"`
	RequireApprovalForApply bool           `gorm:"column:require_approval_for_apply;not null;default:false" json:"require_approval_for_apply"`
	CreatedAt               time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt               time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt               gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Project) TableName() string { return "project" }

type ProjectMember struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ProjectID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_project_member" json:"project_id"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_project_member" json:"user_id"`
	Role      string    `gorm:"column:role;not null" json:"role"` // OWNER|EDITOR|VIEWER
	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (ProjectMember) TableName() string { return "project_member" }
