package artifact

import (
	"strings"
	"time"

	dErrors "veda/pkg/domain-errors"
)

// CanonicalLayout is the single wire form for timestamps: ISO-8601 with
// microsecond precision and an explicit UTC offset.
const CanonicalLayout = "2006-01-02T15:04:05.000000-07:00"

var parseLayouts = []string{
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02T15:04:05-07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// CanonicalTimestamp normalizes an inbound timestamp string: a space
// separator becomes T, a trailing Z becomes +00:00, a naive value is
// assumed UTC, and the result is re-emitted in CanonicalLayout.
func CanonicalTimestamp(s string) (string, error) {
	t, err := ParseTimestamp(s)
	if err != nil {
		return "", err
	}
	return FormatTimestamp(t), nil
}

// ParseTimestamp parses any accepted inbound form into a time.Time.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, dErrors.New(dErrors.CodeInvalidInput, "empty timestamp")
	}
	s = strings.Replace(s, " ", "T", 1)
	if strings.HasSuffix(s, "Z") {
		s = strings.TrimSuffix(s, "Z") + "+00:00"
	}
	// Naive layouts parse in UTC; offset layouts keep their offset, which
	// the canonical form preserves.
	for _, layout := range parseLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, dErrors.Newf(dErrors.CodeInvalidInput, "unparseable timestamp %q", s)
}

// FormatTimestamp emits t in the canonical wire form.
func FormatTimestamp(t time.Time) string {
	return t.Format(CanonicalLayout)
}

// NowCanonical returns the current UTC instant in the canonical form.
func NowCanonical() string {
	return FormatTimestamp(time.Now().UTC())
}
