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

func pageType(assetType playbook.AssetType) (string, error) {
	switch assetType {
	case playbook.AssetTypePages:
		return "PAGE", nil
	case playbook.AssetTypeCollections:
		return "COLLECTION", nil
	default:
		return "", fmt.Errorf("asset type %q is not backed by crawl results", assetType)
	}
}

type CrawlResultRepo interface {
	CountEligible(ctx context.Context, tx *gorm.DB, projectID uuid.UUID, assetType playbook.AssetType, field playbook.Field, refs []string) (int64, error)
	ListEligible(ctx context.Context, tx *gorm.DB, projectID uuid.UUID, assetType playbook.AssetType, field playbook.Field, refs []string, limit int) ([]*types.CrawlResult, error)
	UpdateSEOField(ctx context.Context, tx *gorm.DB, projectID, crawlResultID uuid.UUID, field playbook.Field, value string) (int64, error)
}

type crawlResultRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCrawlResultRepo(db *gorm.DB, baseLog *logger.Logger) CrawlResultRepo {
	return &crawlResultRepo{db: db, log: baseLog.With("repo", "CrawlResultRepo")}
}

func (r *crawlResultRepo) eligibleQuery(tx *gorm.DB, projectID uuid.UUID, pt, column string, refs []string) *gorm.DB {
	q := tx.Model(&types.CrawlResult{}).
		Where("project_id = ? AND page_type = ?", projectID, pt).
		Where(fmt.Sprintf("(%s IS NULL OR %s = '')", column, column))
	if len(refs) > 0 {
		q = q.Where("(id::text IN ? OR handle IN ?)", refs, refs)
	}
	return q
}

func (r *crawlResultRepo) CountEligible(ctx context.Context, tx *gorm.DB, projectID uuid.UUID, assetType playbook.AssetType, field playbook.Field, refs []string) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	pt, err := pageType(assetType)
	if err != nil {
		return 0, err
	}
	column, err := seoColumn(field)
	if err != nil {
		return 0, err
	}
	var count int64
	if err := r.eligibleQuery(transaction.WithContext(ctx), projectID, pt, column, refs).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *crawlResultRepo) ListEligible(ctx context.Context, tx *gorm.DB, projectID uuid.UUID, assetType playbook.AssetType, field playbook.Field, refs []string, limit int) ([]*types.CrawlResult, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	pt, err := pageType(assetType)
	if err != nil {
		return nil, err
	}
	column, err := seoColumn(field)
	if err != nil {
		return nil, err
	}
	q := r.eligibleQuery(transaction.WithContext(ctx), projectID, pt, column, refs).
		Order("created_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []*types.CrawlResult
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *crawlResultRepo) UpdateSEOField(ctx context.Context, tx *gorm.DB, projectID, crawlResultID uuid.UUID, field playbook.Field, value string) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	column, err := seoColumn(field)
	if err != nil {
		return 0, err
	}
	res := transaction.WithContext(ctx).
		Model(&types.CrawlResult{}).
		Where("project_id = ? AND id = ?", projectID, crawlResultID).
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
