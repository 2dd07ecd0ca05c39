package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// AICallLog records every call made to the suggestion provider, successful or
// not, for billing audit. Apply never produces rows here.
type AICallLog struct {
	ID         uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ProjectID  *uuid.UUID     `gorm:"type:uuid;index" json:"project_id,omitempty"`
	UserID     *uuid.UUID     `gorm:"type:uuid;index" json:"user_id,omitempty"`
	CallType   string         `gorm:"column:call_type;not null" json:"call_type"`
	Model      string         `gorm:"column:model;not null" json:"model"`
	Field      string         `gorm:"column:field" json:"field"`
	Success    bool           `gorm:"column:success;not null" json:"success"`
	Error      string         `gorm:"column:error" json:"error"`
	DurationMS int64          `gorm:"column:duration_ms;not null;default:0" json:"duration_ms"`
	Usage      datatypes.JSON `gorm:"type:jsonb;column:usage" json:"usage"`
	CreatedAt  time.Time      `gorm:"not null;default:now();index" json:"created_at"`
}

func (AICallLog) TableName() string { return "ai_call_log" }
