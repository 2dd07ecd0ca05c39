package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	RunTypePreviewGenerate = "PREVIEW_GENERATE"
	RunTypeApply           = "APPLY"

	RunStatusSucceeded = "SUCCEEDED"
	RunStatusFailed    = "FAILED"
)

// AutomationPlaybookRun is the append-only ledger of preview generations and
// applies. Rows are never updated after insert; the unique idempotency key
// dedupes retries of the same logical run.
//
// Invariant: RunType == APPLY implies AIUsed == false.
type AutomationPlaybookRun struct {
	ID              uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ProjectID       uuid.UUID      `gorm:"type:uuid;not null;index" json:"project_id"`
	CreatedByUserID uuid.UUID      `gorm:"type:uuid;not null;index" json:"created_by_user_id"`
	PlaybookID      string         `gorm:"column:playbook_id;not null;index" json:"playbook_id"`
	ScopeID         string         `gorm:"column:scope_id;not null;index" json:"scope_id"`
	RulesHash       string         `gorm:"column:rules_hash;not null" json:"rules_hash"`
	IdempotencyKey  string         `gorm:"column:idempotency_key;not null;uniqueIndex" json:"idempotency_key"`
	RunType         string         `gorm:"column:run_type;not null;index" json:"run_type"` // PREVIEW_GENERATE|APPLY
	Status          string         `gorm:"column:status;not null;index" json:"status"`     // SUCCEEDED|FAILED
	AIUsed          bool           `gorm:"column:ai_used;not null;default:false" json:"ai_used"`
	Reused          bool           `gorm:"column:reused;not null;default:false" json:"reused"`
	ReusedFromRunID *uuid.UUID     `gorm:"type:uuid;column:reused_from_run_id" json:"reused_from_run_id,omitempty"`
	Detail          datatypes.JSON `gorm:"type:jsonb;column:detail" json:"detail"`
	CreatedAt       time.Time      `gorm:"not null;default:now();index" json:"created_at"`
}

func (AutomationPlaybookRun) TableName() string { return "automation_playbook_run" }
