package logger

import (
	"os"
	"testing"
)

func TestWithComponent(t *testing.T) {
	log := Logger()
	entry := log.WithComponent("test")
	if v, ok := entry.Entry.Data["component"]; !ok || v != "test" {
		t.Fatalf("component field missing: %v", entry.Entry.Data)
	}
}

func TestConfigureInvalidLevel(t *testing.T) {
	// Ensure environment variables do not override the provided level
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("invalid", "json", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestWithEnv(t *testing.T) {
	os.Setenv("FOO", "bar")
	log := Logger()
	entry := log.WithEnv("FOO")
	if v, ok := entry.Entry.Data["FOO"]; !ok || v != "bar" {
		t.Fatalf("env field not set: %v", entry.Entry.Data)
	}
}

func TestCountersAccumulate(t *testing.T) {
	IncrementFetch("test-venue")
	IncrementFetch("test-venue")
	RecordChannelMessage("test-channel")
	RecordChannelDrop("test-channel")

	if got := snapshotCounters(&fetchCounts)["test-venue"]; got != 2 {
		t.Fatalf("fetch counter = %d, want 2", got)
	}

	log := Logger()
	log.WithComponent("counter_test").Warn("warned")
	if got := snapshotCounters(&levelCounts)["counter_test|warn"]; got != 1 {
		t.Fatalf("warn counter = %d, want 1", got)
	}
}

func TestToFloat(t *testing.T) {
	if v, ok := toFloat(int64(3)); !ok || v != 3 {
		t.Fatalf("toFloat(int64) = %v %v", v, ok)
	}
	if _, ok := toFloat("x"); ok {
		t.Fatalf("strings should not convert")
	}
}
