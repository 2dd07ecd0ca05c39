package playbook

import (
	"encoding/json"
	"fmt"
)

// DraftItem is the canonical per-asset entry of a draft. An empty
// FinalSuggestion with a non-empty RawSuggestion means "clear the live field on
// apply"; both empty means no suggestion was generated for this asset.
type DraftItem struct {
	AssetID         string   `json:"asset_id"`
	Field           Field    `json:"field"`
	RawSuggestion   string   `json:"raw_suggestion"`
	FinalSuggestion string   `json:"final_suggestion"`
	RuleWarnings    []string `json:"rule_warnings,omitempty"`
	FailureReason   string   `json:"failure_reason,omitempty"`
}

// HasSuggestion reports whether generation produced anything for this item.
func (it DraftItem) HasSuggestion() bool {
	return it.RawSuggestion != "" || it.FinalSuggestion != ""
}

// ClearsField reports the explicit-clear case: the AI said something but the
// rules (or a human edit) reduced it to empty.
func (it DraftItem) ClearsField() bool {
	return it.RawSuggestion != "" && it.FinalSuggestion == ""
}

// Counts is the draft's aggregate bookkeeping.
// Invariant: DraftGenerated + NoSuggestionCount <= AffectedTotal.
type Counts struct {
	AffectedTotal     int `json:"affected_total"`
	DraftGenerated    int `json:"draft_generated"`
	NoSuggestionCount int `json:"no_suggestion_count"`
}

func (c Counts) Valid() bool {
	if c.AffectedTotal < 0 || c.DraftGenerated < 0 || c.NoSuggestionCount < 0 {
		return false
	}
	return c.DraftGenerated+c.NoSuggestionCount <= c.AffectedTotal
}

// CountItems derives Counts for a set of items against the full eligible total.
func CountItems(items []DraftItem, affectedTotal int) Counts {
	counts := Counts{AffectedTotal: affectedTotal}
	for _, it := range items {
		if it.HasSuggestion() {
			counts.DraftGenerated++
		} else {
			counts.NoSuggestionCount++
		}
	}
	return counts
}

// rawItem is the tagged-union wire shape of a stored draft item. Older drafts
// carry the legacy shape (suggestedTitle/suggestedDescription); both are
// normalized to DraftItem at the read boundary and nothing deeper in the
// pipeline branches on shape.
type rawItem struct {
	Kind string `json:"kind,omitempty"`

	AssetID         string   `json:"asset_id"`
	Field           Field    `json:"field,omitempty"`
	RawSuggestion   string   `json:"raw_suggestion,omitempty"`
	FinalSuggestion string   `json:"final_suggestion,omitempty"`
	RuleWarnings    []string `json:"rule_warnings,omitempty"`
	FailureReason   string   `json:"failure_reason,omitempty"`

	// legacy shape
	ProductID            string  `json:"productId,omitempty"`
	SuggestedTitle       *string `json:"suggestedTitle,omitempty"`
	SuggestedDescription *string `json:"suggestedDescription,omitempty"`
}

// DecodeItems parses stored draft items, accepting both the canonical and the
// legacy shape.
func DecodeItems(data []byte) ([]DraftItem, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var raws []rawItem
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("decode draft items: %w", err)
	}
	out := make([]DraftItem, 0, len(raws))
	for _, r := range raws {
		out = append(out, r.normalize())
	}
	return out, nil
}

// EncodeItems serializes items in the canonical shape.
func EncodeItems(items []DraftItem) ([]byte, error) {
	if items == nil {
		items = []DraftItem{}
	}
	return json.Marshal(items)
}

func (r rawItem) normalize() DraftItem {
	if r.Kind == "legacy" || (r.Field == "" && (r.SuggestedTitle != nil || r.SuggestedDescription != nil)) {
		assetID := r.AssetID
		if assetID == "" {
			assetID = r.ProductID
		}
		item := DraftItem{AssetID: assetID}
		if r.SuggestedTitle != nil {
			item.Field = FieldSEOTitle
			item.RawSuggestion = *r.SuggestedTitle
			item.FinalSuggestion = *r.SuggestedTitle
		} else if r.SuggestedDescription != nil {
			item.Field = FieldSEODescription
			item.RawSuggestion = *r.SuggestedDescription
			item.FinalSuggestion = *r.SuggestedDescription
		}
		return item
	}
	return DraftItem{
		AssetID:         r.AssetID,
		Field:           r.Field,
		RawSuggestion:   r.RawSuggestion,
		FinalSuggestion: r.FinalSuggestion,
		RuleWarnings:    r.RuleWarnings,
		FailureReason:   r.FailureReason,
	}
}
