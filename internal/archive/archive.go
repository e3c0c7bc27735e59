// Package archive is the persistent request store behind the monitor:
// every completed request becomes one document, retention is enforced by
// a janitor, and the /debug/history and /debug/analytics surfaces read
// from it.
package archive

import (
	"fmt"
	"log"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/pysugar/llm-proxy/internal/config"
	"github.com/pysugar/llm-proxy/internal/proxy/monitor"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// RedactedSentinel replaces bodies the privacy flags exclude. Stored
// instead of the text, never alongside it.
const RedactedSentinel = "[redacted]"

// janitorInterval is how often retention is enforced.
const janitorInterval = time.Hour

// Document is one archived request.
type Document struct {
	ID           string `gorm:"primaryKey" json:"id"`
	Timestamp    int64  `gorm:"index" json:"timestamp"`
	Backend      string `gorm:"index" json:"backend"`
	UserID       string `gorm:"index" json:"user_id,omitempty"`
	Dialect      string `json:"dialect,omitempty"`
	Model        string `json:"model,omitempty"`
	Category     string `json:"category,omitempty"`
	Status       int    `json:"status"`
	DurationMs   int64  `json:"duration_ms"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	Error        string `json:"error,omitempty"`
	Query        string `gorm:"type:text" json:"query,omitempty"`
	Response     string `gorm:"type:text" json:"response,omitempty"`
}

// AnalyticsRow is one aggregate bucket for /debug/analytics.
type AnalyticsRow struct {
	Backend      string  `json:"backend"`
	Category     string  `json:"category"`
	Requests     int64   `json:"requests"`
	Errors       int64   `json:"errors"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
}

// Archive wraps the document store.
type Archive struct {
	db             *gorm.DB
	storeQueries   bool
	storeResponses bool
	retentionDays  int
	maxDocuments   int
	stop           chan struct{}
}

// Open initializes the store at cfg.Path and starts the janitor.
func Open(cfg config.ArchiveConfig) (*Archive, error) {
	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %s: %w", cfg.Path, err)
	}
	if err := db.AutoMigrate(&Document{}); err != nil {
		return nil, fmt.Errorf("failed to migrate archive: %w", err)
	}
	a := &Archive{
		db:             db,
		storeQueries:   cfg.StoreQueries,
		storeResponses: cfg.StoreResponses,
		retentionDays:  cfg.RetentionDays,
		maxDocuments:   cfg.MaxDocuments,
		stop:           make(chan struct{}),
	}
	go a.janitorLoop()
	return a, nil
}

// Write stores one monitor entry as a document. Privacy flags are
// enforced here, at write time. Failures log and drop.
// Implements monitor.ArchiveSink.
func (a *Archive) Write(e monitor.Entry) {
	doc := Document{
		ID:           e.ID,
		Timestamp:    e.Timestamp,
		Backend:      e.Backend,
		UserID:       e.UserID,
		Dialect:      e.Dialect,
		Model:        e.Model,
		Category:     e.Category,
		Status:       e.Status,
		DurationMs:   e.DurationMs,
		InputTokens:  e.InputTokens,
		OutputTokens: e.OutputTokens,
		Error:        e.Error,
		Query:        RedactedSentinel,
		Response:     RedactedSentinel,
	}
	if a.storeQueries {
		doc.Query = e.RequestBody
	}
	if a.storeResponses {
		doc.Response = e.ResponseBody
	}
	if err := a.db.Create(&doc).Error; err != nil {
		log.Printf("⚠️ archive: write failed for %s: %v", e.ID, err)
	}
}

// History returns documents newest first with pagination, optional text
// search and backend/user filters. Also returns the total match count.
func (a *Archive) History(limit, offset int, search, backendName, userID string) ([]Document, int64) {
	if limit <= 0 {
		limit = 50
	}
	query := a.db.Model(&Document{})
	if search != "" {
		pattern := "%" + search + "%"
		query = query.Where("query LIKE ? OR response LIKE ? OR model LIKE ? OR error LIKE ?",
			pattern, pattern, pattern, pattern)
	}
	if backendName != "" {
		query = query.Where("backend = ?", backendName)
	}
	if userID != "" {
		query = query.Where("user_id = ?", userID)
	}
	var total int64
	query.Count(&total)
	var docs []Document
	if err := query.Order("timestamp DESC").Offset(offset).Limit(limit).Find(&docs).Error; err != nil {
		log.Printf("⚠️ archive: history query failed: %v", err)
		return nil, 0
	}
	return docs, total
}

// Get returns one document by request id.
func (a *Archive) Get(id string) (*Document, bool) {
	var doc Document
	if err := a.db.First(&doc, "id = ?", id).Error; err != nil {
		return nil, false
	}
	return &doc, true
}

// Analytics aggregates the last N days per (backend, category).
func (a *Archive) Analytics(days int) ([]AnalyticsRow, error) {
	if days <= 0 {
		days = 7
	}
	since := time.Now().AddDate(0, 0, -days).UnixMilli()
	var rows []AnalyticsRow
	err := a.db.Model(&Document{}).
		Select(`backend, category,
			COUNT(*) AS requests,
			SUM(CASE WHEN status >= 400 OR error != '' THEN 1 ELSE 0 END) AS errors,
			AVG(duration_ms) AS avg_latency_ms,
			SUM(input_tokens) AS input_tokens,
			SUM(output_tokens) AS output_tokens`).
		Where("timestamp >= ?", since).
		Group("backend, category").
		Order("requests DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("analytics query failed: %w", err)
	}
	return rows, nil
}

// Sweep enforces retention once: TTL first, then the document cap.
func (a *Archive) Sweep() {
	cutoff := time.Now().AddDate(0, 0, -a.retentionDays).UnixMilli()
	if err := a.db.Where("timestamp < ?", cutoff).Delete(&Document{}).Error; err != nil {
		log.Printf("⚠️ archive: TTL sweep failed: %v", err)
	}
	var count int64
	a.db.Model(&Document{}).Count(&count)
	if excess := count - int64(a.maxDocuments); excess > 0 {
		err := a.db.Exec(
			`DELETE FROM documents WHERE id IN (SELECT id FROM documents ORDER BY timestamp ASC LIMIT ?)`,
			excess).Error
		if err != nil {
			log.Printf("⚠️ archive: cap sweep failed: %v", err)
		}
	}
}

func (a *Archive) janitorLoop() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.Sweep()
		case <-a.stop:
			return
		}
	}
}

// Close stops the janitor.
func (a *Archive) Close() {
	close(a.stop)
}
