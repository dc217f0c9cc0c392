// Package strings provides small string-slice helpers shared across
// services.
package strings

import (
	"strings"
)

// DedupeAndTrim trims every element, drops empties and duplicates, and
// preserves first-seen order. Used to normalize data element hash lists
// before verification.
func DedupeAndTrim(values []string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; !ok {
			seen[trimmed] = struct{}{}
			result = append(result, trimmed)
		}
	}
	return result
}
