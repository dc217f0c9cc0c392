package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{
			name:     "nil slice",
			input:    nil,
			expected: nil,
		},
		{
			name:     "trims whitespace",
			input:    []string{"  h-a  ", "h-b  "},
			expected: []string{"h-a", "h-b"},
		},
		{
			name:     "removes duplicates preserving order",
			input:    []string{"h-a", "h-b", "h-a", "h-c", "h-b"},
			expected: []string{"h-a", "h-b", "h-c"},
		},
		{
			name:     "removes empty strings",
			input:    []string{"h-a", "", "  ", "h-b"},
			expected: []string{"h-a", "h-b"},
		},
		{
			name:     "preserves case",
			input:    []string{"Ab", "ab", "AB"},
			expected: []string{"Ab", "ab", "AB"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DedupeAndTrim(tt.input))
		})
	}
}
