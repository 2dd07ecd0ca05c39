package repos

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/engineo-ai/engineo-backend/internal/logger"
	"github.com/engineo-ai/engineo-backend/internal/playbook"
	"github.com/engineo-ai/engineo-backend/internal/types"
)

// ErrDraftRevisionChanged is returned by MarkApplied when the draft row was
// mutated since the caller read it.
var ErrDraftRevisionChanged = errors.New("draft revision changed")

type DraftRepo interface {
	Upsert(ctx context.Context, tx *gorm.DB, draft *types.AutomationPlaybookDraft) (*types.AutomationPlaybookDraft, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.AutomationPlaybookDraft, error)
	GetLatest(ctx context.Context, tx *gorm.DB, projectID uuid.UUID, playbookID, scopeID, rulesHash string) (*types.AutomationPlaybookDraft, error)
	// GetLatestByScope ignores the rules hash; used to tell "rules changed"
	// apart from "no draft at all" at apply time.
	GetLatestByScope(ctx context.Context, tx *gorm.DB, projectID uuid.UUID, playbookID, scopeID string) (*types.AutomationPlaybookDraft, error)
	MarkApplied(ctx context.Context, tx *gorm.DB, id uuid.UUID, appliedAt time.Time, expectedUpdatedAt time.Time) error
	UpdateItemFinalSuggestion(ctx context.Context, tx *gorm.DB, id uuid.UUID, itemIndex int, newFinal string) (*types.AutomationPlaybookDraft, error)
}

type draftRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDraftRepo(db *gorm.DB, baseLog *logger.Logger) DraftRepo {
	return &draftRepo{db: db, log: baseLog.With("repo", "DraftRepo")}
}

// Upsert inserts the draft or, when a row for the natural key already exists,
// replaces its content in place. Concurrent previews for the same key converge
// on one row via the ON CONFLICT clause.
func (r *draftRepo) Upsert(ctx context.Context, tx *gorm.DB, draft *types.AutomationPlaybookDraft) (*types.AutomationPlaybookDraft, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if draft == nil {
		return nil, fmt.Errorf("nil draft")
	}
	if draft.ID == uuid.Nil {
		draft.ID = uuid.New()
	}
	now := time.Now().UTC()
	draft.UpdatedAt = now
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = now
	}
	err := transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "project_id"}, {Name: "playbook_id"}, {Name: "scope_id"}, {Name: "rules_hash"},
			},
			DoUpdates: clause.AssignmentColumns([]string{
				"status", "items", "affected_total", "draft_generated", "no_suggestion_count",
				"sample_product_ids", "rules", "created_by_user_id", "applied_at", "expires_at", "updated_at",
			}),
		}).
		Create(draft).Error
	if err != nil {
		return nil, err
	}
	// Re-read so callers see the surviving row (the insert may have resolved
	// to a pre-existing id).
	return r.GetLatest(ctx, transaction, draft.ProjectID, draft.PlaybookID, draft.ScopeID, draft.RulesHash)
}

func (r *draftRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.AutomationPlaybookDraft, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var draft types.AutomationPlaybookDraft
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&draft).Error
	if err != nil {
		return nil, err
	}
	if draft.ID == uuid.Nil {
		return nil, nil
	}
	return &draft, nil
}

func (r *draftRepo) GetLatest(ctx context.Context, tx *gorm.DB, projectID uuid.UUID, playbookID, scopeID, rulesHash string) (*types.AutomationPlaybookDraft, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if projectID == uuid.Nil || playbookID == "" || scopeID == "" || rulesHash == "" {
		return nil, nil
	}
	var draft types.AutomationPlaybookDraft
	err := transaction.WithContext(ctx).
		Where("project_id = ? AND playbook_id = ? AND scope_id = ? AND rules_hash = ?", projectID, playbookID, scopeID, rulesHash).
		Order("updated_at DESC").
		Limit(1).
		Find(&draft).Error
	if err != nil {
		return nil, err
	}
	if draft.ID == uuid.Nil {
		return nil, nil
	}
	return &draft, nil
}

func (r *draftRepo) GetLatestByScope(ctx context.Context, tx *gorm.DB, projectID uuid.UUID, playbookID, scopeID string) (*types.AutomationPlaybookDraft, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if projectID == uuid.Nil || playbookID == "" || scopeID == "" {
		return nil, nil
	}
	var draft types.AutomationPlaybookDraft
	err := transaction.WithContext(ctx).
		Where("project_id = ? AND playbook_id = ? AND scope_id = ?", projectID, playbookID, scopeID).
		Order("updated_at DESC").
		Limit(1).
		Find(&draft).Error
	if err != nil {
		return nil, err
	}
	if draft.ID == uuid.Nil {
		return nil, nil
	}
	return &draft, nil
}

// MarkApplied sets applied_at with an optimistic check on updated_at so an
// apply racing a concurrent preview fails instead of consuming a draft it
// never read.
func (r *draftRepo) MarkApplied(ctx context.Context, tx *gorm.DB, id uuid.UUID, appliedAt time.Time, expectedUpdatedAt time.Time) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return fmt.Errorf("missing draft id")
	}
	res := transaction.WithContext(ctx).
		Model(&types.AutomationPlaybookDraft{}).
		Where("id = ? AND updated_at = ?", id, expectedUpdatedAt).
		Updates(map[string]interface{}{
			"applied_at": appliedAt,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrDraftRevisionChanged
	}
	return nil
}

// UpdateItemFinalSuggestion rewrites one item's final suggestion under a row
// lock, preserving the raw suggestion as the audit trail of what the AI said.
func (r *draftRepo) UpdateItemFinalSuggestion(ctx context.Context, tx *gorm.DB, id uuid.UUID, itemIndex int, newFinal string) (*types.AutomationPlaybookDraft, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var updated *types.AutomationPlaybookDraft
	err := transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		var draft types.AutomationPlaybookDraft
		qErr := txx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			First(&draft).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return fmt.Errorf("draft %s not found", id)
		}
		if qErr != nil {
			return qErr
		}
		items, dErr := playbook.DecodeItems(draft.Items)
		if dErr != nil {
			return dErr
		}
		if itemIndex < 0 || itemIndex >= len(items) {
			return fmt.Errorf("item index %d out of range (%d items)", itemIndex, len(items))
		}
		items[itemIndex].FinalSuggestion = newFinal
		encoded, eErr := playbook.EncodeItems(items)
		if eErr != nil {
			return eErr
		}
		counts := playbook.CountItems(items, draft.AffectedTotal)
		now := time.Now().UTC()
		uErr := txx.Model(&types.AutomationPlaybookDraft{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"items":               encoded,
				"draft_generated":     counts.DraftGenerated,
				"no_suggestion_count": counts.NoSuggestionCount,
				"updated_at":          now,
			}).Error
		if uErr != nil {
			return uErr
		}
		draft.Items = encoded
		draft.DraftGenerated = counts.DraftGenerated
		draft.NoSuggestionCount = counts.NoSuggestionCount
		draft.UpdatedAt = now
		updated = &draft
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
