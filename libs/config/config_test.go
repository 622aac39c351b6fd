package config

import (
	"testing"
	"time"
)

func TestDuration(t *testing.T) {
	t.Setenv("SCAN_INTERVAL", "45s")
	if d := Duration("SCAN_INTERVAL", time.Minute); d != 45*time.Second {
		t.Fatalf("expected 45s, got %s", d)
	}
	if d := Duration("SCAN_INTERVAL_MISSING", time.Minute); d != time.Minute {
		t.Fatalf("expected fallback 1m, got %s", d)
	}
	t.Setenv("SCAN_INTERVAL_BAD", "soon")
	if d := Duration("SCAN_INTERVAL_BAD", 30*time.Second); d != 30*time.Second {
		t.Fatalf("expected fallback 30s for invalid value, got %s", d)
	}
}

func TestInt(t *testing.T) {
	t.Setenv("BATCH_SIZE", "25")
	if n := Int("BATCH_SIZE", 50); n != 25 {
		t.Fatalf("expected 25, got %d", n)
	}
	t.Setenv("BATCH_SIZE_BAD", "many")
	if n := Int("BATCH_SIZE_BAD", 50); n != 50 {
		t.Fatalf("expected fallback 50, got %d", n)
	}
}
