package util

import (
	"strconv"
	"time"
)

// UTCMillis converts a time to Unix epoch milliseconds.
func UTCMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromMillis returns the UTC time for an epoch millisecond timestamp.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// ISOFromMillis renders an epoch millisecond timestamp as ISO-8601 UTC.
func ISOFromMillis(ms int64) string {
	return FromMillis(ms).Format(time.RFC3339Nano)
}

// ISOUTCNow returns the current UTC time as ISO-8601 without sub-second noise.
func ISOUTCNow() string {
	return time.Now().UTC().Truncate(time.Second).Format("2006-01-02T15:04:05Z")
}

// ParseTime tries RFC3339, RFC3339Nano, and unix seconds. Returns (t, true) if any worked.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		return time.Unix(ts, 0), true
	}
	return time.Time{}, false
}

// AlignWindow truncates a collection window to whole timeframe boundaries so
// bar timestamps line up with the requested interval.
func AlignWindow(from, to time.Time, step time.Duration) (time.Time, time.Time) {
	if step <= 0 {
		step = time.Minute
	}
	return from.Truncate(step), to.Truncate(step)
}
