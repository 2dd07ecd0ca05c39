package repos

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/engineo-ai/engineo-backend/internal/logger"
	"github.com/engineo-ai/engineo-backend/internal/playbook"
	"github.com/engineo-ai/engineo-backend/internal/types"
)

func seoColumn(field playbook.Field) (string, error) {
	switch field {
	case playbook.FieldSEOTitle:
		return "seo_title", nil
	case playbook.FieldSEODescription:
		return "seo_description", nil
	default:
		return "", fmt.Errorf("unknown seo field %q", field)
	}
}

type ProductRepo interface {
	CountEligible(ctx context.Context, tx *gorm.DB, projectID uuid.UUID, field playbook.Field, refs []string) (int64, error)
	ListEligible(ctx context.Context, tx *gorm.DB, projectID uuid.UUID, field playbook.Field, refs []string, limit int) ([]*types.Product, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, projectID uuid.UUID, ids []uuid.UUID) ([]*types.Product, error)
	// UpdateSEOField writes (or clears) one SEO field on one product, but only
	// while the field is still empty — the eligibility the draft was built on.
	// Returns the number of rows updated (0 = product gone or field filled
	// since preview).
	UpdateSEOField(ctx context.Context, tx *gorm.DB, projectID, productID uuid.UUID, field playbook.Field, value string) (int64, error)
}

type productRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProductRepo(db *gorm.DB, baseLog *logger.Logger) ProductRepo {
	return &productRepo{db: db, log: baseLog.With("repo", "ProductRepo")}
}

func (r *productRepo) eligibleQuery(tx *gorm.DB, projectID uuid.UUID, column string, refs []string) *gorm.DB {
	q := tx.Model(&types.Product{}).
		Where("project_id = ?", projectID).
		Where(fmt.Sprintf("(%s IS NULL OR %s = '')", column, column))
	if len(refs) > 0 {
		q = q.Where("(id::text IN ? OR handle IN ?)", refs, refs)
	}
	return q
}

func (r *productRepo) CountEligible(ctx context.Context, tx *gorm.DB, projectID uuid.UUID, field playbook.Field, refs []string) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	column, err := seoColumn(field)
	if err != nil {
		return 0, err
	}
	var count int64
	if err := r.eligibleQuery(transaction.WithContext(ctx), projectID, column, refs).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *productRepo) ListEligible(ctx context.Context, tx *gorm.DB, projectID uuid.UUID, field playbook.Field, refs []string, limit int) ([]*types.Product, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	column, err := seoColumn(field)
	if err != nil {
		return nil, err
	}
	q := r.eligibleQuery(transaction.WithContext(ctx), projectID, column, refs).
		Order("created_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []*types.Product
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *productRepo) GetByIDs(ctx context.Context, tx *gorm.DB, projectID uuid.UUID, ids []uuid.UUID) ([]*types.Product, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Product
	if len(ids) == 0 {
		return out, nil
	}
	err := transaction.WithContext(ctx).
		Where("project_id = ? AND id IN ?", projectID, ids).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *productRepo) UpdateSEOField(ctx context.Context, tx *gorm.DB, projectID, productID uuid.UUID, field playbook.Field, value string) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	column, err := seoColumn(field)
	if err != nil {
		return 0, err
	}
	res := transaction.WithContext(ctx).
		Model(&types.Product{}).
		Where("project_id = ? AND id = ?", projectID, productID).
		Where(fmt.Sprintf("(%s IS NULL OR %s = '')", column, column)).
		Updates(map[string]interface{}{
			column:       value,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
