package router

import (
	"os"
	"path/filepath"
	"testing"
)

func TestHistorySnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	h := NewHistory(path)
	h.Record(DecisionRecord{Backend: "coder", Category: "code", Reason: "test"})
	h.SetPreference("u1", PreferenceRecord{QualityPreference: "high"})
	h.RecordSuccess("coder", "code")
	if err := h.Snapshot(); err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}

	reloaded := NewHistory(path)
	if got := reloaded.Recent(10); len(got) != 1 || got[0].Backend != "coder" {
		t.Errorf("reloaded decisions = %v", got)
	}
	if _, quality, ok := reloaded.Preference("u1"); !ok || quality != "high" {
		t.Errorf("reloaded preference = %q ok=%v", quality, ok)
	}
	if counts := reloaded.SuccessCounts(); counts["coder|code"] != 1 {
		t.Errorf("reloaded success = %v", counts)
	}
}

func TestHistoryCapsDecisions(t *testing.T) {
	h := NewHistory(filepath.Join(t.TempDir(), "history.json"))
	for i := 0; i < maxDecisions+50; i++ {
		h.Record(DecisionRecord{Backend: "fastchat", Category: "conversation"})
	}
	h.mu.Lock()
	n := len(h.decisions)
	h.mu.Unlock()
	if n != maxDecisions {
		t.Errorf("decisions = %d, want %d", n, maxDecisions)
	}
}

func TestHistoryClearKeepsPreferences(t *testing.T) {
	h := NewHistory(filepath.Join(t.TempDir(), "history.json"))
	h.Record(DecisionRecord{Backend: "coder", Category: "code"})
	h.SetPreference("u1", PreferenceRecord{QualityPreference: "low"})
	h.Clear()
	if got := h.Recent(10); len(got) != 0 {
		t.Errorf("Recent() after Clear = %v", got)
	}
	if _, _, ok := h.Preference("u1"); !ok {
		t.Error("preferences should survive Clear")
	}
}

func TestHistoryIgnoresCorruptSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	h := NewHistory(path)
	if got := h.Recent(10); len(got) != 0 {
		t.Errorf("corrupt snapshot should load empty, got %v", got)
	}
}
