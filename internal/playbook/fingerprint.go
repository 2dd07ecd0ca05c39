package playbook

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

const fingerprintVersion = "v1"

// allRefsSentinel marks an all-eligible scope in the canonical form, so it can
// never collide with an explicit reference list.
const allRefsSentinel = "ALL"

// Scope identifies which assets a playbook run targets: all eligible assets of
// the playbook's type, or an explicit list of asset references (product ids or
// page/collection handles).
type Scope struct {
	ProjectID   uuid.UUID
	AssetType   AssetType
	AllEligible bool
	Refs        []string
}

// Validate rejects scopes that would otherwise silently widen to the whole
// project. PAGES and COLLECTIONS scopes must name their targets explicitly.
func (s Scope) Validate() error {
	if s.ProjectID == uuid.Nil {
		return NewError(CodeScopeInvalid, "missing project id")
	}
	switch s.AssetType {
	case AssetTypeProducts:
	case AssetTypePages, AssetTypeCollections:
		if !s.AllEligible && len(cleanRefs(s.Refs)) == 0 {
			return NewError(CodeScopeInvalid, fmt.Sprintf("explicit refs required for asset type %s", s.AssetType))
		}
	default:
		return NewError(CodeScopeInvalid, fmt.Sprintf("unknown asset type %q", s.AssetType))
	}
	return nil
}

// Fingerprint derives the stable scope id: a SHA-256 over the canonicalized
// scope. Reference order never changes the result; distinct reference sets
// never collide.
func (s Scope) Fingerprint() (string, error) {
	if err := s.Validate(); err != nil {
		return "", err
	}
	mode := allRefsSentinel
	refsPart := ""
	refs := cleanRefs(s.Refs)
	if !s.AllEligible && len(refs) > 0 {
		sort.Strings(refs)
		mode = "LIST"
		refsPart = canonicalList(refs)
	}
	canonical := strings.Join([]string{
		fingerprintVersion,
		"project=" + s.ProjectID.String(),
		"type=" + string(s.AssetType),
		"mode=" + mode,
		"refs=" + refsPart,
	}, "|")
	return digest(canonical), nil
}

// ExplicitRefs returns the deduplicated, sorted reference list, or nil for an
// all-eligible scope.
func (s Scope) ExplicitRefs() []string {
	if s.AllEligible {
		return nil
	}
	refs := cleanRefs(s.Refs)
	if len(refs) == 0 {
		return nil
	}
	sort.Strings(refs)
	return refs
}

func cleanRefs(refs []string) []string {
	seen := make(map[string]struct{}, len(refs))
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			continue
		}
		if _, dup := seen[ref]; dup {
			continue
		}
		seen[ref] = struct{}{}
		out = append(out, ref)
	}
	return out
}

// canonicalList length-prefixes each entry before joining so the canonical
// form is injective: an entry containing the separator cannot collide with a
// split pair.
func canonicalList(entries []string) string {
	var b strings.Builder
	for i, entry := range entries {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, "%d:%s", len(entry), entry)
	}
	return b.String()
}

func digest(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}
