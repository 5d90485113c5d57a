package history

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexuslearn/nexuslink/internal/popup"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := OpenAt(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func result(id string, status popup.Status, reason string, start time.Time, d time.Duration) popup.Result {
	return popup.Result{
		AttemptID: id,
		Status:    status,
		Reason:    reason,
		StartedAt: start,
		EndedAt:   start.Add(d),
	}
}

func TestOpenAt_CreatesSchema(t *testing.T) {
	s := openTemp(t)

	for _, table := range []string{"schema_version", "link_attempts"} {
		var name string
		err := s.conn.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		require.NoError(t, err, "table %s", table)
	}

	// Idempotent.
	require.NoError(t, runMigrations(s.conn))

	var version int
	require.NoError(t, s.conn.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version))
	assert.Equal(t, len(migrations), version)

	var mode string
	require.NoError(t, s.conn.QueryRow(`PRAGMA journal_mode;`).Scan(&mode))
	assert.Equal(t, "wal", strings.ToLower(mode))
}

func TestOpenAt_RequiresPath(t *testing.T) {
	_, err := OpenAt("  ")
	assert.Error(t, err)
}

func TestOpenAt_CorruptFileRecreated(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history.db")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("not a database "), 512), 0600))

	s, err := OpenAt(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	matches, err := filepath.Glob(path + ".corrupt.*")
	require.NoError(t, err)
	assert.NotEmpty(t, matches)

	require.NoError(t, s.Record(context.Background(),
		result("a", popup.StatusSucceeded, popup.ReasonMessage, time.Now(), time.Second)))
}

func TestDefaultPath_UsesHomeOverride(t *testing.T) {
	t.Setenv("NEXUSLINK_HOME", "/tmp/nl-home")
	assert.Equal(t, filepath.Join("/tmp/nl-home", "data", "history.db"), DefaultPath())
}

func TestRecordAndList(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.Record(ctx, result("first", popup.StatusCancelled, popup.ReasonWindowClosed, base, 3*time.Second)))
	require.NoError(t, s.Record(ctx, result("second", popup.StatusSucceeded, popup.ReasonMessage, base.Add(time.Minute), 12*time.Second)))
	require.NoError(t, s.Record(ctx, result("", popup.StatusPopupBlocked, popup.ReasonPopupBlocked, base.Add(2*time.Minute), 0)))

	entries, err := s.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, popup.StatusPopupBlocked, entries[0].Status)
	assert.Equal(t, "POPUP_BLOCKED", entries[0].StatusName)

	second := entries[1]
	assert.Equal(t, "second", second.AttemptID)
	assert.Equal(t, popup.StatusSucceeded, second.Status)
	assert.Equal(t, popup.ReasonMessage, second.Reason)
	assert.Equal(t, base.Add(time.Minute), second.StartedAt)
	assert.Equal(t, base.Add(time.Minute+12*time.Second), second.EndedAt)
	assert.Equal(t, 12*time.Second, second.Duration)
	assert.Equal(t, int64(12000), second.DurationMS)

	assert.Equal(t, "first", entries[2].AttemptID)

	limited, err := s.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestRecord_RejectsPending(t *testing.T) {
	s := openTemp(t)
	err := s.Record(context.Background(), popup.Result{AttemptID: "x", Status: popup.StatusPending})
	assert.Error(t, err)
}

func TestStats(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

	empty, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, empty.Total)
	assert.True(t, empty.LastSuccess.IsZero())

	require.NoError(t, s.Record(ctx, result("a", popup.StatusSucceeded, popup.ReasonMessage, base, time.Second)))
	require.NoError(t, s.Record(ctx, result("b", popup.StatusTimedOut, popup.ReasonDeadline, base, 5*time.Minute)))
	require.NoError(t, s.Record(ctx, result("c", popup.StatusSucceeded, popup.ReasonMessage, base.Add(time.Hour), time.Second)))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.ByStatus[popup.StatusSucceeded])
	assert.Equal(t, 1, stats.ByStatus[popup.StatusTimedOut])
	assert.Equal(t, base.Add(time.Hour+time.Second), stats.LastSuccess)
}

func TestClosedStore(t *testing.T) {
	var s *Store
	assert.NoError(t, s.Close())
	assert.Equal(t, "", s.Path())
	_, err := s.List(context.Background(), 5)
	assert.Error(t, err)
}
