package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/engineo-ai/engineo-backend/internal/logger"
	"github.com/engineo-ai/engineo-backend/internal/playbook"
	"github.com/engineo-ai/engineo-backend/internal/repos"
)

// AssetRef is the catalog's view of one eligible asset, enough for sampling
// and AI context.
type AssetRef struct {
	ID          string
	Title       string
	Description string
}

// AssetCatalog hides whether a playbook targets products or crawl results.
// Preview and estimate read through it; apply writes through it.
type AssetCatalog interface {
	CountEligible(ctx context.Context, projectID uuid.UUID, def playbook.Definition, refs []string) (int64, error)
	ListEligible(ctx context.Context, projectID uuid.UUID, def playbook.Definition, refs []string, limit int) ([]AssetRef, error)
	// WriteFieldIfEmpty writes value to the asset's field only when the field
	// is still empty, preserving the eligibility the draft was built on.
	// Returns false when the asset no longer qualifies (field filled since
	// preview, or asset gone).
	WriteFieldIfEmpty(ctx context.Context, tx *gorm.DB, projectID uuid.UUID, def playbook.Definition, assetID string, value string) (bool, error)
}

type assetCatalog struct {
	log          *logger.Logger
	products     repos.ProductRepo
	crawlResults repos.CrawlResultRepo
}

func NewAssetCatalog(baseLog *logger.Logger, products repos.ProductRepo, crawlResults repos.CrawlResultRepo) AssetCatalog {
	return &assetCatalog{
		log:          baseLog.With("service", "AssetCatalog"),
		products:     products,
		crawlResults: crawlResults,
	}
}

func (c *assetCatalog) CountEligible(ctx context.Context, projectID uuid.UUID, def playbook.Definition, refs []string) (int64, error) {
	if def.AssetType == playbook.AssetTypeProducts {
		return c.products.CountEligible(ctx, nil, projectID, def.TargetField, refs)
	}
	return c.crawlResults.CountEligible(ctx, nil, projectID, def.AssetType, def.TargetField, refs)
}

func (c *assetCatalog) ListEligible(ctx context.Context, projectID uuid.UUID, def playbook.Definition, refs []string, limit int) ([]AssetRef, error) {
	if def.AssetType == playbook.AssetTypeProducts {
		products, err := c.products.ListEligible(ctx, nil, projectID, def.TargetField, refs, limit)
		if err != nil {
			return nil, err
		}
		out := make([]AssetRef, 0, len(products))
		for _, p := range products {
			out = append(out, AssetRef{ID: p.ID.String(), Title: p.Title, Description: p.Description})
		}
		return out, nil
	}
	results, err := c.crawlResults.ListEligible(ctx, nil, projectID, def.AssetType, def.TargetField, refs, limit)
	if err != nil {
		return nil, err
	}
	out := make([]AssetRef, 0, len(results))
	for _, r := range results {
		out = append(out, AssetRef{ID: r.ID.String(), Title: r.Title, Description: r.URL})
	}
	return out, nil
}

func (c *assetCatalog) WriteFieldIfEmpty(ctx context.Context, tx *gorm.DB, projectID uuid.UUID, def playbook.Definition, assetID string, value string) (bool, error) {
	id, err := uuid.Parse(assetID)
	if err != nil {
		return false, fmt.Errorf("invalid asset id %q: %w", assetID, err)
	}
	var affected int64
	if def.AssetType == playbook.AssetTypeProducts {
		affected, err = c.products.UpdateSEOField(ctx, tx, projectID, id, def.TargetField, value)
	} else {
		affected, err = c.crawlResults.UpdateSEOField(ctx, tx, projectID, id, def.TargetField, value)
	}
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}
