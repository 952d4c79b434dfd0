package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestAllowConsumesBurst(t *testing.T) {
	l := New(2, 1)
	if !l.Allow() || !l.Allow() {
		t.Fatalf("expected burst of 2")
	}
	if l.Allow() {
		t.Fatalf("expected empty bucket")
	}
}

func TestWaitRefills(t *testing.T) {
	l := New(1, 100)
	if !l.Allow() {
		t.Fatalf("expected initial token")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := l.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func TestWaitHonorsContext(t *testing.T) {
	l := New(1, 0.001)
	l.Allow()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); err == nil {
		t.Fatalf("expected context error")
	}
}
