// Package fwversion provides a best-effort firmware release comparison
// used only for diagnostics (SPEC_FULL.md §4.1b); the graph builder's
// actual classification logic compares release strings for equality only,
// per spec.md §4.1/§4.1.
package fwversion

import "github.com/hashicorp/go-version"

// Compare parses a and b as version.Version (accepting forms like "1.2.3",
// "v1.2.3", "1.2"). ok is false if either string fails to parse as a
// version, in which case cmp is meaningless and callers should skip any
// diagnostic that depends on ordering.
func Compare(a, b string) (cmp int, ok bool) {
	va, err := version.NewVersion(a)
	if err != nil {
		return 0, false
	}
	vb, err := version.NewVersion(b)
	if err != nil {
		return 0, false
	}
	return va.Compare(vb), true
}

// Regressed reports whether "current" is an older release than "previous"
// according to Compare, used by internal/policy to flag the Open Question
// scenario where a Finished node's snapshot firmware has apparently gone
// backwards (spec.md §9).
func Regressed(previous, current string) bool {
	cmp, ok := Compare(current, previous)
	return ok && cmp < 0
}
