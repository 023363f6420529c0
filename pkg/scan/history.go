package scan

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/dockpeek/dockpeek/pkg/log"
)

const historySchema = `
CREATE TABLE IF NOT EXISTS scan_results (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	image TEXT NOT NULL,
	image_digest TEXT NOT NULL,
	scan_timestamp DATETIME NOT NULL,
	scan_duration REAL,
	critical_count INTEGER DEFAULT 0,
	high_count INTEGER DEFAULT 0,
	medium_count INTEGER DEFAULT 0,
	low_count INTEGER DEFAULT 0,
	unknown_count INTEGER DEFAULT 0,
	total_count INTEGER DEFAULT 0,
	error TEXT,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_scan_image_digest ON scan_results(image_digest);
CREATE INDEX IF NOT EXISTS idx_scan_timestamp ON scan_results(scan_timestamp);

CREATE TABLE IF NOT EXISTS fingerprint_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	image_digest TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	cve_id TEXT NOT NULL,
	severity TEXT NOT NULL,
	first_seen_at DATETIME NOT NULL,
	UNIQUE(image_digest, fingerprint)
);

CREATE INDEX IF NOT EXISTS idx_fingerprint_image ON fingerprint_history(image_digest);
CREATE INDEX IF NOT EXISTS idx_fingerprint ON fingerprint_history(fingerprint);
`

// TrendDirection classifies the security posture movement of an image.
type TrendDirection string

const (
	TrendImproving TrendDirection = "improving"
	TrendDegrading TrendDirection = "degrading"
	TrendStable    TrendDirection = "stable"
	TrendUnknown   TrendDirection = "unknown"
)

// Trend compares the two most recent scans of a digest.
type Trend struct {
	Direction     TrendDirection `json:"direction"`
	PreviousTotal int            `json:"previous_total"`
	CurrentTotal  int            `json:"current_total"`
	DeltaCritical int            `json:"delta_critical"`
	DeltaHigh     int            `json:"delta_high"`
	ScanCount     int            `json:"scan_count"`
}

// HistoryRecord is one persisted scan.
type HistoryRecord struct {
	ID            int64   `db:"id" json:"id"`
	Image         string  `db:"image" json:"image"`
	Digest        string  `db:"image_digest" json:"image_digest"`
	ScanTimestamp string  `db:"scan_timestamp" json:"scan_timestamp"`
	ScanDuration  float64 `db:"scan_duration" json:"scan_duration"`
	CriticalCount int     `db:"critical_count" json:"critical_count"`
	HighCount     int     `db:"high_count" json:"high_count"`
	MediumCount   int     `db:"medium_count" json:"medium_count"`
	LowCount      int     `db:"low_count" json:"low_count"`
	UnknownCount  int     `db:"unknown_count" json:"unknown_count"`
	TotalCount    int     `db:"total_count" json:"total_count"`
	Error         *string `db:"error" json:"error,omitempty"`
}

// FingerprintRecord marks the first sighting of a vulnerability instance in
// an image.
type FingerprintRecord struct {
	Digest      string `db:"image_digest" json:"image_digest"`
	Fingerprint string `db:"fingerprint" json:"fingerprint"`
	CVEID       string `db:"cve_id" json:"cve_id"`
	Severity    string `db:"severity" json:"severity"`
	FirstSeenAt string `db:"first_seen_at" json:"first_seen_at"`
}

// HistoryStats summarizes store contents.
type HistoryStats struct {
	Enabled      bool   `json:"enabled"`
	Path         string `json:"db_path,omitempty"`
	ScanResults  int    `json:"scan_results_count"`
	Fingerprints int    `json:"fingerprints_tracked"`
}

// HistoryStore persists scan results and fingerprint first-sightings in a
// single-file relational store. Initialization is lazy; writes are
// serialized by a process-local mutex on top of the store's transactional
// semantics.
type HistoryStore struct {
	path    string
	enabled bool
	logger  zerolog.Logger

	mu          sync.Mutex
	db          *sqlx.DB
	initialized bool
}

// NewHistoryStore creates a store at path. When enabled is false every
// operation is a no-op.
func NewHistoryStore(path string, enabled bool) *HistoryStore {
	return &HistoryStore{
		path:    path,
		enabled: enabled,
		logger:  log.WithComponent("scan-history"),
	}
}

// Enabled reports whether history tracking is on.
func (s *HistoryStore) Enabled() bool {
	return s.enabled
}

// initialize opens the database and applies the schema once. Callers must
// hold s.mu.
func (s *HistoryStore) initialize() error {
	if !s.enabled {
		return fmt.Errorf("scan history disabled")
	}
	if s.initialized {
		return nil
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	db, err := sqlx.Connect("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("failed to open scan history database: %w", err)
	}
	if _, err := db.Exec(historySchema); err != nil {
		db.Close()
		return fmt.Errorf("failed to apply scan history schema: %w", err)
	}

	s.db = db
	s.initialized = true
	s.logger.Info().Str("path", s.path).Msg("scan history database initialized")
	return nil
}

// SaveResult persists one scan row and returns its id.
func (s *HistoryStore) SaveResult(res *Result) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.initialize(); err != nil {
		return 0, err
	}

	var errStr *string
	if res.Error != "" {
		errStr = &res.Error
	}

	r, err := s.db.Exec(`
		INSERT INTO scan_results
			(image, image_digest, scan_timestamp, scan_duration,
			 critical_count, high_count, medium_count, low_count,
			 unknown_count, total_count, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.Image, res.Digest, res.Timestamp.Format(time.RFC3339Nano), res.DurationSeconds,
		res.Summary.Critical, res.Summary.High, res.Summary.Medium, res.Summary.Low,
		res.Summary.Unknown, res.Summary.Total(), errStr)
	if err != nil {
		return 0, fmt.Errorf("failed to save scan result for %s: %w", res.Image, err)
	}
	return r.LastInsertId()
}

// RecordFingerprint inserts a first-sighting row. A duplicate
// (digest, fingerprint) pair is ignored, preserving the original
// first-seen timestamp.
func (s *HistoryStore) RecordFingerprint(digest, fingerprint, cveID, severity string) error {
	if fingerprint == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.initialize(); err != nil {
		return err
	}

	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO fingerprint_history
			(image_digest, fingerprint, cve_id, severity, first_seen_at)
		VALUES (?, ?, ?, ?, ?)`,
		digest, fingerprint, cveID, severity, time.Now().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to record fingerprint: %w", err)
	}
	return nil
}

// CalculateTrend classifies the direction between the two newest error-free
// scans of a digest.
func (s *HistoryStore) CalculateTrend(digest string) Trend {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.initialize(); err != nil {
		return Trend{Direction: TrendUnknown}
	}

	var rows []struct {
		Critical int `db:"critical_count"`
		High     int `db:"high_count"`
		Total    int `db:"total_count"`
	}
	err := s.db.Select(&rows, `
		SELECT critical_count, high_count, total_count
		FROM scan_results
		WHERE image_digest = ? AND error IS NULL
		ORDER BY scan_timestamp DESC
		LIMIT 2`, digest)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to calculate trend")
		return Trend{Direction: TrendUnknown}
	}

	if len(rows) < 2 {
		trend := Trend{Direction: TrendUnknown, ScanCount: len(rows)}
		if len(rows) == 1 {
			trend.CurrentTotal = rows[0].Total
		}
		return trend
	}

	current, previous := rows[0], rows[1]
	direction := TrendStable
	switch {
	case current.Total < previous.Total:
		direction = TrendImproving
	case current.Total > previous.Total:
		direction = TrendDegrading
	}

	return Trend{
		Direction:     direction,
		PreviousTotal: previous.Total,
		CurrentTotal:  current.Total,
		DeltaCritical: current.Critical - previous.Critical,
		DeltaHigh:     current.High - previous.High,
		ScanCount:     len(rows),
	}
}

// History returns up to limit scans for a digest, newest first.
func (s *HistoryStore) History(digest string, limit int) ([]HistoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.initialize(); err != nil {
		return nil, err
	}

	var records []HistoryRecord
	err := s.db.Select(&records, `
		SELECT id, image, image_digest, scan_timestamp, scan_duration,
		       critical_count, high_count, medium_count, low_count,
		       unknown_count, total_count, error
		FROM scan_results
		WHERE image_digest = ?
		ORDER BY scan_timestamp DESC
		LIMIT ?`, digest, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get scan history: %w", err)
	}
	return records, nil
}

// NewSince returns fingerprints first seen within the lookback window,
// optionally filtered by severity.
func (s *HistoryStore) NewSince(window time.Duration, severity string) ([]FingerprintRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.initialize(); err != nil {
		return nil, err
	}

	since := time.Now().Add(-window).Format(time.RFC3339Nano)

	var records []FingerprintRecord
	var err error
	if severity != "" {
		err = s.db.Select(&records, `
			SELECT image_digest, fingerprint, cve_id, severity, first_seen_at
			FROM fingerprint_history
			WHERE first_seen_at >= ? AND severity = ?
			ORDER BY first_seen_at DESC`, since, severity)
	} else {
		err = s.db.Select(&records, `
			SELECT image_digest, fingerprint, cve_id, severity, first_seen_at
			FROM fingerprint_history
			WHERE first_seen_at >= ?
			ORDER BY first_seen_at DESC`, since)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get new vulnerabilities: %w", err)
	}
	return records, nil
}

// CleanupOldScans deletes scans older than the retention window and returns
// how many rows were removed.
func (s *HistoryStore) CleanupOldScans(retention time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.initialize(); err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-retention).Format(time.RFC3339Nano)
	r, err := s.db.Exec(`DELETE FROM scan_results WHERE scan_timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup old scans: %w", err)
	}
	return r.RowsAffected()
}

// Stats reports row counts for both tables.
func (s *HistoryStore) Stats() HistoryStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.initialize(); err != nil {
		return HistoryStats{Enabled: s.enabled}
	}

	stats := HistoryStats{Enabled: true, Path: s.path}
	if err := s.db.Get(&stats.ScanResults, `SELECT COUNT(*) FROM scan_results`); err != nil {
		s.logger.Error().Err(err).Msg("failed to count scan results")
	}
	if err := s.db.Get(&stats.Fingerprints, `SELECT COUNT(*) FROM fingerprint_history`); err != nil {
		s.logger.Error().Err(err).Msg("failed to count fingerprints")
	}
	return stats
}

// Close releases the underlying database handle.
func (s *HistoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	s.initialized = false
	return err
}
