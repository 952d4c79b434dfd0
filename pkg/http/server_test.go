package http

import (
	"testing"
	"time"
)

func TestNewServerAppliesTimeouts(t *testing.T) {
	s := NewServer(WithTimeouts(2*time.Second, 3*time.Second, time.Second))
	if got := s.echo.Server.ReadTimeout; got != 2*time.Second {
		t.Fatalf("read timeout not applied: %s", got)
	}
	if got := s.echo.Server.WriteTimeout; got != 3*time.Second {
		t.Fatalf("write timeout not applied: %s", got)
	}
}
