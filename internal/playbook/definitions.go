package playbook

// AssetType is the class of store asset a playbook targets.
type AssetType string

const (
	AssetTypeProducts    AssetType = "PRODUCTS"
	AssetTypePages       AssetType = "PAGES"
	AssetTypeCollections AssetType = "COLLECTIONS"
)

// Field is the SEO field a playbook rewrites.
type Field string

const (
	FieldSEOTitle       Field = "seoTitle"
	FieldSEODescription Field = "seoDescription"
)

// Definition describes one automation playbook: which assets it selects
// (assets whose target field is missing) and which field it fills.
type Definition struct {
	ID          string
	Name        string
	AssetType   AssetType
	TargetField Field
	PromptHint  string
	// TokensPerAsset is the per-asset token estimate used by the estimate
	// calculator; calibrated from production AI call logs.
	TokensPerAsset int
}

var definitions = map[string]Definition{
	"missing_seo_title": {
		ID:             "missing_seo_title",
		Name:           "Fill missing product SEO titles",
		AssetType:      AssetTypeProducts,
		TargetField:    FieldSEOTitle,
		PromptHint:     "Write a concise SEO title (max 60 chars) for this product.",
		TokensPerAsset: 220,
	},
	"missing_seo_description": {
		ID:             "missing_seo_description",
		Name:           "Fill missing product SEO descriptions",
		AssetType:      AssetTypeProducts,
		TargetField:    FieldSEODescription,
		PromptHint:     "Write a compelling SEO meta description (max 155 chars) for this product.",
		TokensPerAsset: 340,
	},
	"page_missing_seo_title": {
		ID:             "page_missing_seo_title",
		Name:           "Fill missing page SEO titles",
		AssetType:      AssetTypePages,
		TargetField:    FieldSEOTitle,
		PromptHint:     "Write a concise SEO title (max 60 chars) for this page.",
		TokensPerAsset: 220,
	},
	"page_missing_seo_description": {
		ID:             "page_missing_seo_description",
		Name:           "Fill missing page SEO descriptions",
		AssetType:      AssetTypePages,
		TargetField:    FieldSEODescription,
		PromptHint:     "Write a compelling SEO meta description (max 155 chars) for this page.",
		TokensPerAsset: 340,
	},
	"collection_missing_seo_description": {
		ID:             "collection_missing_seo_description",
		Name:           "Fill missing collection SEO descriptions",
		AssetType:      AssetTypeCollections,
		TargetField:    FieldSEODescription,
		PromptHint:     "Write a compelling SEO meta description (max 155 chars) for this collection.",
		TokensPerAsset: 340,
	},
}

// GetDefinition looks up a playbook by id.
func GetDefinition(id string) (Definition, bool) {
	def, ok := definitions[id]
	return def, ok
}

// Definitions returns all registered playbooks.
func Definitions() []Definition {
	out := make([]Definition, 0, len(definitions))
	for _, def := range definitions {
		out = append(out, def)
	}
	return out
}
