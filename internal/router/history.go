package router

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"
)

const (
	// maxDecisions caps the append-only decision log.
	maxDecisions = 1000
	// snapshotEvery persists the history after this many decisions.
	snapshotEvery = 20
)

// DecisionRecord is one routing decision kept in history.
type DecisionRecord struct {
	Timestamp  int64   `json:"timestamp"`
	Backend    string  `json:"backend"`
	Category   string  `json:"category"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
	UserID     string  `json:"userId,omitempty"`
	MultiModel bool    `json:"multiModel,omitempty"`
}

// PreferenceRecord holds one user's routing preferences.
type PreferenceRecord struct {
	CategoryOverrides map[string]string `json:"categoryOverrides,omitempty"`
	QualityPreference string            `json:"qualityPreference,omitempty"` // low | normal | high
	PreferredModels   map[string]string `json:"preferredModels,omitempty"`
}

// historySnapshot is the single persisted document.
type historySnapshot struct {
	Decisions   []DecisionRecord             `json:"decisions"`
	Preferences map[string]*PreferenceRecord `json:"preferences"`
	Success     map[string]int64             `json:"success"` // "backend|category" → count
	SavedAt     int64                        `json:"savedAt"`
}

// History is the router's persistent memory: recent decisions, per-user
// preferences and per-(backend,category) success counters.
type History struct {
	mu            sync.Mutex
	decisions     []DecisionRecord
	prefs         map[string]*PreferenceRecord
	success       map[string]int64
	path          string
	sinceSnapshot int
}

// NewHistory loads (or initializes) history at path.
func NewHistory(path string) *History {
	h := &History{
		prefs:   make(map[string]*PreferenceRecord),
		success: make(map[string]int64),
		path:    path,
	}
	h.load()
	return h
}

func (h *History) load() {
	data, err := os.ReadFile(h.path)
	if err != nil {
		return
	}
	var snap historySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Printf("⚠️ router history: unreadable snapshot %s: %v", h.path, err)
		return
	}
	h.decisions = snap.Decisions
	if snap.Preferences != nil {
		h.prefs = snap.Preferences
	}
	if snap.Success != nil {
		h.success = snap.Success
	}
	log.Printf("📂 router history: loaded %d decisions, %d user prefs", len(h.decisions), len(h.prefs))
}

// Record appends a decision, evicting the oldest past the cap, and
// snapshots on cadence.
func (h *History) Record(rec DecisionRecord) {
	if rec.Timestamp == 0 {
		rec.Timestamp = time.Now().UnixMilli()
	}
	h.mu.Lock()
	h.decisions = append(h.decisions, rec)
	if len(h.decisions) > maxDecisions {
		h.decisions = h.decisions[len(h.decisions)-maxDecisions:]
	}
	h.sinceSnapshot++
	due := h.sinceSnapshot >= snapshotEvery
	if due {
		h.sinceSnapshot = 0
	}
	h.mu.Unlock()

	if due {
		go func() {
			if err := h.Snapshot(); err != nil {
				log.Printf("⚠️ router history: snapshot failed: %v", err)
			}
		}()
	}
}

// RecordSuccess bumps the success counter for (backend, category).
func (h *History) RecordSuccess(backendName, category string) {
	h.mu.Lock()
	h.success[backendName+"|"+category]++
	h.mu.Unlock()
}

// SetPreference replaces a user's preference record.
func (h *History) SetPreference(userID string, rec PreferenceRecord) {
	h.mu.Lock()
	h.prefs[userID] = &rec
	h.mu.Unlock()
}

// Preference returns the user's category overrides and quality setting.
// Implements classifier.PreferenceProvider.
func (h *History) Preference(userID string) (map[string]string, string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec, ok := h.prefs[userID]
	if !ok {
		return nil, "", false
	}
	return rec.CategoryOverrides, rec.QualityPreference, true
}

// PreferredModel returns the user's preferred backend for a category.
func (h *History) PreferredModel(userID, category string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec, ok := h.prefs[userID]
	if !ok || rec.PreferredModels == nil {
		return "", false
	}
	name, ok := rec.PreferredModels[category]
	return name, ok
}

// Recent returns up to limit decisions, newest first.
func (h *History) Recent(limit int) []DecisionRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	if limit <= 0 || limit > len(h.decisions) {
		limit = len(h.decisions)
	}
	out := make([]DecisionRecord, 0, limit)
	for i := len(h.decisions) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, h.decisions[i])
	}
	return out
}

// SuccessCounts returns a copy of the success counters.
func (h *History) SuccessCounts() map[string]int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]int64, len(h.success))
	for k, v := range h.success {
		out[k] = v
	}
	return out
}

// Clear drops all decisions and counters (preferences survive).
func (h *History) Clear() {
	h.mu.Lock()
	h.decisions = nil
	h.success = make(map[string]int64)
	h.mu.Unlock()
}

// Snapshot writes the history document atomically (write + rename).
func (h *History) Snapshot() error {
	h.mu.Lock()
	snap := historySnapshot{
		Decisions:   append([]DecisionRecord{}, h.decisions...),
		Preferences: make(map[string]*PreferenceRecord, len(h.prefs)),
		Success:     make(map[string]int64, len(h.success)),
		SavedAt:     time.Now().UnixMilli(),
	}
	for k, v := range h.prefs {
		snap.Preferences[k] = v
	}
	for k, v := range h.success {
		snap.Success[k] = v
	}
	h.mu.Unlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	tmp := h.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, h.path)
}
