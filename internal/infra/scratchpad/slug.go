package scratchpad

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/unicode/norm"
)

const maxSlugRunes = 80

// CacheSlug converts a work-item ID into the directory name for its cache
// entry. The mapping is purely a function of the ID — never of invocation
// time — so the same item always addresses the same cache slot.
//
// Rules: NFKC normalization, lowercase, [a-z0-9-] only, collapsed hyphens.
// When filtering loses information, an 8-hex digest of the original ID is
// appended so two distinct IDs cannot share a slot.
func CacheSlug(itemID string) string {
	slug := slugify(itemID)

	if slug == itemID {
		return slug
	}

	sum := sha256.Sum256([]byte(itemID))
	suffix := hex.EncodeToString(sum[:])[:8]
	if slug == "" {
		return "item-" + suffix
	}
	return slug + "-" + suffix
}

func slugify(s string) string {
	s = norm.NFKC.String(s)
	s = strings.ToLower(s)

	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			// Disallowed characters become a single hyphen
			if b.Len() > 0 && b.String()[b.Len()-1] != '-' {
				b.WriteRune('-')
			}
		}
	}

	slug := b.String()
	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}
	slug = strings.Trim(slug, "-")

	if runes := []rune(slug); len(runes) > maxSlugRunes {
		slug = strings.TrimRight(string(runes[:maxSlugRunes]), "-")
	}

	return slug
}
