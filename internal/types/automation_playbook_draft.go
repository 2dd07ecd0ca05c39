package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	DraftStatusReady   = "READY"
	DraftStatusPartial = "PARTIAL"
	DraftStatusFailed  = "FAILED"
	DraftStatusExpired = "EXPIRED"
)

// AutomationPlaybookDraft holds the proposed field changes for one
// (project, playbook, scope, rules) tuple. The four-column unique index is the
// natural key; upserts converge concurrent previews onto a single row.
type AutomationPlaybookDraft struct {
	ID                uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ProjectID         uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_playbook_draft_key;index" json:"project_id"`
	PlaybookID        string         `gorm:"column:playbook_id;not null;uniqueIndex:idx_playbook_draft_key" json:"playbook_id"`
	ScopeID           string         `gorm:"column:scope_id;not null;uniqueIndex:idx_playbook_draft_key" json:"scope_id"`
	RulesHash         string         `gorm:"column:rules_hash;not null;uniqueIndex:idx_playbook_draft_key" json:"rules_hash"`
	Status            string         `gorm:"column:status;not null;index" json:"status"` // READY|PARTIAL|FAILED|EXPIRED
	Items             datatypes.JSON `gorm:"type:jsonb;column:items" json:"items"`
	AffectedTotal     int            `gorm:"column:affected_total;not null;default:0" json:"affected_total"`
	DraftGenerated    int            `gorm:"column:draft_generated;not null;default:0" json:"draft_generated"`
	NoSuggestionCount int            `gorm:"column:no_suggestion_count;not null;default:0" json:"no_suggestion_count"`
	SampleProductIDs  datatypes.JSON `gorm:"type:jsonb;column:sample_product_ids" json:"sample_product_ids"`
	Rules             datatypes.JSON `gorm:"type:jsonb;column:rules" json:"rules"`
	CreatedByUserID   uuid.UUID      `gorm:"type:uuid;not null;index" json:"created_by_user_id"`
	AppliedAt         *time.Time     `gorm:"column:applied_at" json:"applied_at,omitempty"`
	ExpiresAt         *time.Time     `gorm:"column:expires_at;index" json:"expires_at,omitempty"`
	CreatedAt         time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"not null;default:now();index" json:"updated_at"`
	DeletedAt         gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (AutomationPlaybookDraft) TableName() string { return "automation_playbook_draft" }

// Expired reports whether the draft's TTL has passed. Reads for estimate or
// apply treat an expired draft as status EXPIRED regardless of the stored
// status column.
func (d *AutomationPlaybookDraft) Expired(now time.Time) bool {
	return d.ExpiresAt != nil && now.After(*d.ExpiresAt)
}

// EffectiveStatus folds expiry into the stored status.
func (d *AutomationPlaybookDraft) EffectiveStatus(now time.Time) string {
	if d.Expired(now) {
		return DraftStatusExpired
	}
	return d.Status
}
