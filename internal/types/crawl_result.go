package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CrawlResult is one crawled non-product page (shop page or collection). The
// crawler that fills these rows is an external collaborator; the playbook
// engine only reads eligibility off them and writes SEO fields back.
type CrawlResult struct {
	ID             uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ProjectID      uuid.UUID      `gorm:"type:uuid;not null;index" json:"project_id"`
	URL            string         `gorm:"column:url;not null" json:"url"`
	PageType       string         `gorm:"column:page_type;not null;index" json:"page_type"` // PAGE|COLLECTION
	Handle         string         `gorm:"column:handle;index" json:"handle"`
	Title          string         `gorm:"column:title" json:"title"`
	SEOTitle       string         `gorm:"column:seo_title" json:"seo_title"`
	SEODescription string         `gorm:"column:seo_description" json:"seo_description"`
	CrawledAt      *time.Time     `gorm:"column:crawled_at" json:"crawled_at,omitempty"`
	CreatedAt      time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (CrawlResult) TableName() string { return "crawl_result" }
