package clickhouse

import (
	"strings"
	"testing"
	"time"
)

func TestBuildDSNTimeouts(t *testing.T) {
	cfg := ClientConfig{User: "default", Host: "ch", Port: 9000, Database: "db"}

	if dsn := buildDSN(cfg); strings.Contains(dsn, "?") {
		t.Fatalf("no timeouts must mean no query string: %s", dsn)
	}

	cfg.ReadTimeout = 10 * time.Second
	if dsn := buildDSN(cfg); !strings.Contains(dsn, "?read_timeout=10s") {
		t.Fatalf("read timeout alone must still start the query string: %s", dsn)
	}

	cfg.DialTimeout = 5 * time.Second
	dsn := buildDSN(cfg)
	if !strings.Contains(dsn, "?dial_timeout=5s") || !strings.Contains(dsn, "read_timeout=10s") {
		t.Fatalf("both timeouts must be present: %s", dsn)
	}
	if strings.Count(dsn, "?") != 1 {
		t.Fatalf("query string must be well formed: %s", dsn)
	}
}
