package logx

import (
	"testing"
	"time"
)

func TestRecentEntriesFiltersByAgent(t *testing.T) {
	start := time.Now().UTC().Add(-time.Second)

	NewLogger("dev-test-a").Info("first message")
	NewLogger("dev-test-b").Warn("second message")
	NewLogger("dev-test-a").Error("third message")

	entries := RecentEntries("dev-test-a", start)
	if len(entries) != 2 {
		t.Fatalf("got %d entries for dev-test-a, want 2", len(entries))
	}
	if entries[0].Message != "first message" || entries[1].Message != "third message" {
		t.Errorf("unexpected entries: %+v", entries)
	}
	if entries[1].Level != string(LevelError) {
		t.Errorf("level = %q, want ERROR", entries[1].Level)
	}
}

func TestDebugSuppressedByDefault(t *testing.T) {
	SetDebug(false)
	start := time.Now().UTC().Add(-time.Second)

	NewLogger("dev-test-debug").Debug("hidden")
	if entries := RecentEntries("dev-test-debug", start); len(entries) != 0 {
		t.Fatalf("debug entry recorded while disabled: %+v", entries)
	}

	SetDebug(true)
	defer SetDebug(false)
	NewLogger("dev-test-debug").Debug("visible")
	if entries := RecentEntries("dev-test-debug", start); len(entries) != 1 {
		t.Fatalf("got %d debug entries, want 1", len(entries))
	}
}
