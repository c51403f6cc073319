package notes

import (
	gosimple "github.com/gosimple/slug"
)

// Warning is the literal suffix appended to the submitted slug when a write
// would violate slug uniqueness. The full message, slug + Warning, is shown
// on the slug field of the re-rendered form.
const Warning = " - such slug already exists, please set another one!"

// MaxSlugLength bounds slugs to the stored column contract.
const MaxSlugLength = 100

// InvalidSlugMessage is the field error shown for a malformed submitted slug.
const InvalidSlugMessage = "Enter a valid slug consisting of lowercase letters, numbers, hyphens or underscores."

// DeriveSlug derives a URL-safe slug from a title: lowercase, runs of
// non-alphanumeric characters collapsed to single hyphens, non-Latin
// scripts transliterated to Latin approximations. Deterministic and pure,
// so duplicate titles reliably collide on the uniqueness constraint
// instead of silently diverging.
func DeriveSlug(title string) string {
	s := gosimple.Make(title)
	if len(s) > MaxSlugLength {
		s = trimSlug(s[:MaxSlugLength])
	}
	return s
}

// IsValidSlug reports whether s is acceptable as a user-submitted slug:
// non-empty, within MaxSlugLength, and confined to the slug alphabet
// (lowercase letters, digits, hyphens, underscores; no edge hyphens).
// Derived slugs satisfy this by construction; explicit slugs must be
// checked before they reach storage, since every per-note URL embeds the
// slug as a raw path segment.
func IsValidSlug(s string) bool {
	return s != "" && len(s) <= MaxSlugLength && gosimple.IsSlug(s)
}

// trimSlug strips a trailing separator left over from truncation.
func trimSlug(s string) string {
	for len(s) > 0 && s[len(s)-1] == '-' {
		s = s[:len(s)-1]
	}
	return s
}
