// Package safety provides the audit log, confirmation tokens and name
// filters that guard power-affecting UPS operations.
package safety

import "path/filepath"

// Filter selects named resources, such as the VMs stopped before host
// power-off, using glob allowlists and denylists (filepath.Match syntax).
//
// Rules:
//   - If both lists are empty, every name is allowed.
//   - The denylist always takes priority.
//   - A non-empty allowlist must match for a name to be allowed.
type Filter struct {
	allowlist []string
	denylist  []string
}

// NewFilter returns a Filter. Either list may be nil.
func NewFilter(allowlist, denylist []string) *Filter {
	return &Filter{
		allowlist: allowlist,
		denylist:  denylist,
	}
}

// IsAllowed reports whether name passes the filter.
func (f *Filter) IsAllowed(name string) bool {
	for _, pattern := range f.denylist {
		if matchGlob(pattern, name) {
			return false
		}
	}

	if len(f.allowlist) == 0 {
		return true
	}
	for _, pattern := range f.allowlist {
		if matchGlob(pattern, name) {
			return true
		}
	}
	return false
}

// Select returns the names that pass the filter, preserving order.
func (f *Filter) Select(names []string) []string {
	var out []string
	for _, n := range names {
		if f.IsAllowed(n) {
			out = append(out, n)
		}
	}
	return out
}

// matchGlob treats malformed patterns as non-matching.
func matchGlob(pattern, name string) bool {
	matched, err := filepath.Match(pattern, name)
	if err != nil {
		return false
	}
	return matched
}
