package autoupdate

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"github.com/dockpeek/dockpeek/pkg/log"
)

// maxJournalRecords bounds journal growth by rolling truncation.
const maxJournalRecords = 500

// Record is one auto-update attempt.
type Record struct {
	Container  string `json:"container"`
	Server     string `json:"server"`
	Image      string `json:"image"`
	OldVersion string `json:"old_version,omitempty"`
	NewVersion string `json:"new_version,omitempty"`
	Status     string `json:"status"`
	Method     string `json:"method,omitempty"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// Journal is the on-disk auto-update history: a JSON array bounded to the
// most recent 500 records, written under an exclusive lock.
type Journal struct {
	path   string
	lock   *flock.Flock
	logger zerolog.Logger
}

// NewJournal creates a journal at path.
func NewJournal(path string) *Journal {
	return &Journal{
		path:   path,
		lock:   flock.New(path + ".lock"),
		logger: log.WithComponent("autoupdate"),
	}
}

// ReadAll returns every record under a shared lock. A missing or malformed
// file reads as empty.
func (j *Journal) ReadAll() []Record {
	if err := j.lock.RLock(); err != nil {
		j.logger.Warn().Err(err).Msg("failed to lock journal for reading")
		return nil
	}
	defer j.lock.Unlock()

	return j.readLocked()
}

func (j *Journal) readLocked() []Record {
	raw, err := os.ReadFile(j.path)
	if err != nil || len(raw) == 0 {
		return nil
	}
	var records []Record
	if err := json.Unmarshal(raw, &records); err != nil {
		j.logger.Warn().Err(err).Msg("journal unreadable, treating as empty")
		return nil
	}
	return records
}

// Append adds one record under an exclusive lock, truncating to the newest
// 500.
func (j *Journal) Append(record Record) {
	if err := os.MkdirAll(filepath.Dir(j.path), 0o755); err != nil {
		j.logger.Warn().Err(err).Msg("failed to create journal directory")
		return
	}
	if err := j.lock.Lock(); err != nil {
		j.logger.Warn().Err(err).Msg("failed to lock journal for writing")
		return
	}
	defer j.lock.Unlock()

	records := append(j.readLocked(), record)
	if len(records) > maxJournalRecords {
		records = records[len(records)-maxJournalRecords:]
	}

	raw, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		j.logger.Warn().Err(err).Msg("failed to serialize journal")
		return
	}
	if err := os.WriteFile(j.path, raw, 0o644); err != nil {
		j.logger.Warn().Err(err).Msg("failed to write journal")
	}
}

// History returns up to limit records, newest first.
func (j *Journal) History(limit int) []Record {
	records := j.ReadAll()
	sort.SliceStable(records, func(a, b int) bool {
		return records[a].Timestamp > records[b].Timestamp
	})
	if len(records) > limit {
		records = records[:limit]
	}
	return records
}
