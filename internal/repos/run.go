package repos

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/engineo-ai/engineo-backend/internal/logger"
	"github.com/engineo-ai/engineo-backend/internal/types"
)

type RunRepo interface {
	// Append inserts the run row. When a row with the same idempotency key
	// already exists the existing row is returned and created is false.
	Append(ctx context.Context, tx *gorm.DB, run *types.AutomationPlaybookRun) (row *types.AutomationPlaybookRun, created bool, err error)
	GetByIdempotencyKey(ctx context.Context, tx *gorm.DB, key string) (*types.AutomationPlaybookRun, error)
	// GetLatestGenerating returns the most recent non-reused PREVIEW_GENERATE
	// run for the exact scope/rules pair, or nil when none exists.
	GetLatestGenerating(ctx context.Context, tx *gorm.DB, projectID uuid.UUID, playbookID, scopeID, rulesHash string) (*types.AutomationPlaybookRun, error)
	ListByProject(ctx context.Context, tx *gorm.DB, projectID uuid.UUID, playbookID string, limit int) ([]*types.AutomationPlaybookRun, error)
}

type runRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRunRepo(db *gorm.DB, baseLog *logger.Logger) RunRepo {
	return &runRepo{db: db, log: baseLog.With("repo", "RunRepo")}
}

func (r *runRepo) Append(ctx context.Context, tx *gorm.DB, run *types.AutomationPlaybookRun) (*types.AutomationPlaybookRun, bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if run == nil {
		return nil, false, fmt.Errorf("nil run")
	}
	if run.IdempotencyKey == "" {
		return nil, false, fmt.Errorf("missing idempotency key")
	}
	if run.RunType == types.RunTypeApply && run.AIUsed {
		// Structural guard for the ledger invariant; the apply executor
		// cannot reach the AI collaborator in the first place.
		return nil, false, fmt.Errorf("apply run cannot record ai_used=true")
	}
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	res := transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "idempotency_key"}},
			DoNothing: true,
		}).
		Create(run)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected > 0 {
		return run, true, nil
	}
	existing, err := r.GetByIdempotencyKey(ctx, transaction, run.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *runRepo) GetByIdempotencyKey(ctx context.Context, tx *gorm.DB, key string) (*types.AutomationPlaybookRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if key == "" {
		return nil, nil
	}
	var run types.AutomationPlaybookRun
	err := transaction.WithContext(ctx).
		Where("idempotency_key = ?", key).
		Limit(1).
		Find(&run).Error
	if err != nil {
		return nil, err
	}
	if run.ID == uuid.Nil {
		return nil, nil
	}
	return &run, nil
}

func (r *runRepo) GetLatestGenerating(ctx context.Context, tx *gorm.DB, projectID uuid.UUID, playbookID, scopeID, rulesHash string) (*types.AutomationPlaybookRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if projectID == uuid.Nil || playbookID == "" || scopeID == "" {
		return nil, nil
	}
	var run types.AutomationPlaybookRun
	err := transaction.WithContext(ctx).
		Where("project_id = ? AND playbook_id = ? AND scope_id = ? AND rules_hash = ?",
			projectID, playbookID, scopeID, rulesHash).
		Where("run_type = ? AND reused = ?", types.RunTypePreviewGenerate, false).
		Order("created_at DESC").
		Limit(1).
		Find(&run).Error
	if err != nil {
		return nil, err
	}
	if run.ID == uuid.Nil {
		return nil, nil
	}
	return &run, nil
}

func (r *runRepo) ListByProject(ctx context.Context, tx *gorm.DB, projectID uuid.UUID, playbookID string, limit int) ([]*types.AutomationPlaybookRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if projectID == uuid.Nil {
		return nil, nil
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := transaction.WithContext(ctx).
		Where("project_id = ?", projectID)
	if playbookID != "" {
		q = q.Where("playbook_id = ?", playbookID)
	}
	var out []*types.AutomationPlaybookRun
	if err := q.Order("created_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
