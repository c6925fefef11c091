package model

import (
	"strings"
	"time"
)

// TimeFormat is the wire/storage timestamp layout from spec.md §6:
// YYYY-MM-DDTHH:MM:SS.mmmZ, UTC, milliseconds zero-padded to three digits.
const TimeFormat = "2006-01-02T15:04:05.000Z"

// FormatTime renders t as a millisecond-precision ISO-8601 UTC string.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// ParseTime parses a millisecond-precision ISO-8601 UTC timestamp. It also
// accepts RFC3339Nano as a fallback for inbound messages that carry more or
// fewer fractional digits than the canonical form.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(TimeFormat, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// TruncateMillis drops sub-millisecond precision, matching what FormatTime
// would produce, so in-memory comparisons agree with round-tripped values.
func TruncateMillis(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// LooksLikeTimestamp is a cheap sanity check used when decoding loosely
// typed inbound JSON fields.
func LooksLikeTimestamp(s string) bool {
	return strings.HasSuffix(s, "Z") && len(s) >= len("2006-01-02T15:04:05Z")
}
