package util

import (
	"strconv"
	"testing"
	"time"
)

func TestParseTimeRFC3339(t *testing.T) {
	s := "2026-03-10T10:10:10Z"
	got, ok := ParseTime(s)
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.UTC().Format(time.RFC3339) != s {
		t.Fatalf("unexpected time %v", got)
	}
}

func TestParseTimeUnix(t *testing.T) {
	ts := time.Date(2026, 3, 10, 10, 10, 10, 0, time.UTC).Unix()
	got, ok := ParseTime(strconv.FormatInt(ts, 10))
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.Unix() != ts {
		t.Fatalf("unexpected unix %v", got.Unix())
	}
}

func TestMillisRoundTrip(t *testing.T) {
	ms := int64(1767225600000)
	if UTCMillis(FromMillis(ms)) != ms {
		t.Fatalf("round trip mismatch")
	}
	if ISOFromMillis(ms) != "2026-01-01T00:00:00Z" {
		t.Fatalf("unexpected iso: %s", ISOFromMillis(ms))
	}
}

func TestAlignWindow(t *testing.T) {
	from := time.Date(2026, 3, 10, 10, 10, 42, 0, time.UTC)
	to := time.Date(2026, 3, 10, 12, 59, 59, 0, time.UTC)
	af, at := AlignWindow(from, to, time.Minute)
	if af.Second() != 0 || at.Second() != 0 {
		t.Fatalf("expected whole-minute boundaries, got %v %v", af, at)
	}
	if !af.Equal(time.Date(2026, 3, 10, 10, 10, 0, 0, time.UTC)) {
		t.Fatalf("unexpected from %v", af)
	}
}
