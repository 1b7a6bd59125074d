package librelinkup

import (
	"errors"
	"fmt"
	"time"
)

var ErrUnparseableTimestamp = errors.New("librelinkup: unparseable timestamp")

// Layouts tried in order. The vendor's own format is a 12-hour clock with no
// offset ("4/29/2025 6:12:40 PM"); the API documents no timezone, and the
// values are wall-clock UTC, so naive layouts are parsed as UTC by policy,
// not as a parser default.
var timestampLayouts = []string{
	"1/2/2006 3:04:05 PM",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp parses a vendor timestamp string into a UTC instant. It
// never fabricates a time: when every layout fails the caller gets
// ErrUnparseableTimestamp and decides whether to skip the point.
func ParseTimestamp(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("%w: empty string", ErrUnparseableTimestamp)
	}
	for _, layout := range timestampLayouts {
		t, err := time.ParseInLocation(layout, raw, time.UTC)
		if err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrUnparseableTimestamp, raw)
}
