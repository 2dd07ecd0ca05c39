package playbook

import (
	"fmt"
	"sort"
	"strings"
)

// Rule warning tags attached to draft items when a rule fired.
const (
	WarnFindReplaceApplied = "find_replace_applied"
	WarnPrefixAdded        = "prefix_added"
	WarnSuffixAdded        = "suffix_added"
	WarnTrimmedToMaxLength = "trimmed_to_max_length"
	WarnForbiddenPhrase    = "forbidden_phrase_present"
)

// Rules is the optional deterministic shaping applied to raw AI suggestions.
// A nil or disabled Rules value hashes to one canonical no-rules value so that
// "no rules" previews and applies stay compatible across calls.
type Rules struct {
	Enabled          bool     `json:"enabled"`
	Find             string   `json:"find,omitempty"`
	Replace          string   `json:"replace,omitempty"`
	Prefix           string   `json:"prefix,omitempty"`
	Suffix           string   `json:"suffix,omitempty"`
	MaxLength        int      `json:"max_length,omitempty"`
	ForbiddenPhrases []string `json:"forbidden_phrases,omitempty"`
}

// Active reports whether the rules actually shape suggestions.
func (r *Rules) Active() bool {
	return r != nil && r.Enabled
}

// Hash produces the stable rules fingerprint over the canonicalized fields.
func (r *Rules) Hash() string {
	if !r.Active() {
		return NoRulesHash()
	}
	phrases := make([]string, 0, len(r.ForbiddenPhrases))
	for _, p := range r.ForbiddenPhrases {
		p = strings.TrimSpace(strings.ToLower(p))
		if p != "" {
			phrases = append(phrases, p)
		}
	}
	sort.Strings(phrases)
	canonical := strings.Join([]string{
		fingerprintVersion,
		"find=" + canonicalList([]string{r.Find}),
		"replace=" + canonicalList([]string{r.Replace}),
		"prefix=" + canonicalList([]string{r.Prefix}),
		"suffix=" + canonicalList([]string{r.Suffix}),
		fmt.Sprintf("maxlen=%d", r.MaxLength),
		"forbidden=" + canonicalList(phrases),
	}, "|")
	return digest(canonical)
}

// NoRulesHash is the canonical hash for absent or disabled rules.
func NoRulesHash() string {
	return digest(fingerprintVersion + "|norules")
}

// Finalize applies the deterministic rules to a raw suggestion, returning the
// final suggestion plus the tags of every rule that fired. Forbidden phrases
// are flagged, not removed.
func (r *Rules) Finalize(raw string) (string, []string) {
	final := strings.TrimSpace(raw)
	if final == "" {
		return "", nil
	}
	if !r.Active() {
		return final, nil
	}
	var warnings []string
	if r.Find != "" && strings.Contains(final, r.Find) {
		final = strings.ReplaceAll(final, r.Find, r.Replace)
		warnings = append(warnings, WarnFindReplaceApplied)
	}
	if r.Prefix != "" && !strings.HasPrefix(final, r.Prefix) {
		final = r.Prefix + final
		warnings = append(warnings, WarnPrefixAdded)
	}
	if r.Suffix != "" && !strings.HasSuffix(final, r.Suffix) {
		final = final + r.Suffix
		warnings = append(warnings, WarnSuffixAdded)
	}
	if r.MaxLength > 0 && len([]rune(final)) > r.MaxLength {
		runes := []rune(final)
		final = strings.TrimSpace(string(runes[:r.MaxLength]))
		warnings = append(warnings, WarnTrimmedToMaxLength)
	}
	lower := strings.ToLower(final)
	for _, phrase := range r.ForbiddenPhrases {
		phrase = strings.TrimSpace(strings.ToLower(phrase))
		if phrase != "" && strings.Contains(lower, phrase) {
			warnings = append(warnings, WarnForbiddenPhrase)
			break
		}
	}
	return final, warnings
}
