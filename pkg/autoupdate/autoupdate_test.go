package autoupdate

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dockpeek/dockpeek/pkg/log"
	"github.com/dockpeek/dockpeek/pkg/types"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel})
}

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	return NewJournal(filepath.Join(t.TempDir(), "history.json"))
}

func TestJournalAppendAndRead(t *testing.T) {
	j := newTestJournal(t)

	j.Append(Record{Container: "web", Status: "success", Timestamp: "2026-01-01T00:00:00Z"})
	j.Append(Record{Container: "db", Status: "failed", Timestamp: "2026-01-02T00:00:00Z"})

	records := j.ReadAll()
	require.Len(t, records, 2)
	assert.Equal(t, "web", records[0].Container)
	assert.Equal(t, "db", records[1].Container)
}

func TestJournalHistoryNewestFirst(t *testing.T) {
	j := newTestJournal(t)

	j.Append(Record{Container: "old", Timestamp: "2026-01-01T00:00:00Z"})
	j.Append(Record{Container: "new", Timestamp: "2026-01-03T00:00:00Z"})
	j.Append(Record{Container: "mid", Timestamp: "2026-01-02T00:00:00Z"})

	history := j.History(2)
	require.Len(t, history, 2)
	assert.Equal(t, "new", history[0].Container)
	assert.Equal(t, "mid", history[1].Container)
}

func TestJournalRollingTruncation(t *testing.T) {
	j := newTestJournal(t)

	for i := 0; i < maxJournalRecords+25; i++ {
		j.Append(Record{Container: fmt.Sprintf("c%d", i), Timestamp: fmt.Sprintf("t%06d", i)})
	}

	records := j.ReadAll()
	require.Len(t, records, maxJournalRecords)
	assert.Equal(t, "c25", records[0].Container, "oldest records are dropped")
	assert.Equal(t, fmt.Sprintf("c%d", maxJournalRecords+24), records[len(records)-1].Container)
}

func TestJournalMissingFileReadsEmpty(t *testing.T) {
	j := newTestJournal(t)
	assert.Empty(t, j.ReadAll())
	assert.Empty(t, j.History(10))
}

func eligibleSnapshot(name, status, order string, auto bool, action string, newer bool) types.ContainerSnapshot {
	c := types.ContainerSnapshot{
		Name:                  name,
		Status:                status,
		Image:                 "app:1.0.0",
		NewerVersionAvailable: newer,
		Orchestration: &types.Orchestration{
			AutoUpdate:   auto,
			UpdateAction: action,
			UpdateOrder:  order,
		},
	}
	if newer {
		c.LatestVersion = "1.1.0"
	}
	return c
}

func TestEligibleContainersFiltering(t *testing.T) {
	containers := []types.ContainerSnapshot{
		eligibleSnapshot("ok", "running", "", true, "", true),
		eligibleSnapshot("not-opted-in", "running", "", false, "", true),
		eligibleSnapshot("skipped", "running", "", true, "skip", true),
		eligibleSnapshot("pinned", "running", "", true, "pin", true),
		eligibleSnapshot("stopped", "exited", "", true, "", true),
		eligibleSnapshot("unhealthy", "unhealthy", "", true, "", true),
		eligibleSnapshot("no-newer", "running", "", true, "", false),
		{Name: "no-orchestration", Status: "running", NewerVersionAvailable: true, LatestVersion: "2.0"},
	}

	eligible := EligibleContainers(containers)
	require.Len(t, eligible, 1)
	assert.Equal(t, "ok", eligible[0].Name)
}

func TestEligibleContainersOrdering(t *testing.T) {
	containers := []types.ContainerSnapshot{
		eligibleSnapshot("unordered", "running", "", true, "", true),
		eligibleSnapshot("second", "running", "20", true, "", true),
		eligibleSnapshot("first", "running", "10", true, "", true),
		eligibleSnapshot("garbage-order", "running", "soon", true, "", true),
	}

	eligible := EligibleContainers(containers)
	require.Len(t, eligible, 4)
	assert.Equal(t, "first", eligible[0].Name)
	assert.Equal(t, "second", eligible[1].Name)
	// Containers without a numeric order keep their relative order, last.
	assert.Equal(t, "unordered", eligible[2].Name)
	assert.Equal(t, "garbage-order", eligible[3].Name)
}
