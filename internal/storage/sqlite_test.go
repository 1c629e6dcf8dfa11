//go:build sqlite

package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "boardbot/pkg/logx"
)

func openTestSQLite(t *testing.T, path string) *sqliteStore {
	t.Helper()
	st, err := Open(Config{Driver: "sqlite", Path: path, BusyTimeout: time.Second}, logx.Nop())
	require.NoError(t, err)
	require.IsType(t, &sqliteStore{}, st)
	return st.(*sqliteStore)
}

func TestSQLiteRequiresPath(t *testing.T) {
	_, err := Open(Config{Driver: "sqlite3"}, logx.Nop())
	assert.ErrorContains(t, err, "path is required")
}

func TestSQLiteDedupSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "boardbot.sqlite")

	st := openTestSQLite(t, path)
	until := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	require.NoError(t, st.PutDedup(ctx, "published:abc", until))
	require.NoError(t, st.PutDedup(ctx, "published:abc", until.Add(time.Minute)))
	require.NoError(t, st.PutDedup(ctx, "", until), "empty keys are ignored")
	require.NoError(t, st.Close())

	st = openTestSQLite(t, path)
	defer st.Close()

	got, ok, err := st.GetDedup(ctx, "published:abc")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, got.Equal(until.Add(time.Minute)), "upsert keeps the latest expiry")
	assert.True(t, Seen(ctx, st, "published:abc"))

	_, ok, err = st.GetDedup(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLitePruneExpired(t *testing.T) {
	ctx := context.Background()
	st := openTestSQLite(t, filepath.Join(t.TempDir(), "boardbot.sqlite"))
	defer st.Close()

	require.NoError(t, st.PutDedup(ctx, "old", time.Now().Add(-time.Hour)))
	require.NoError(t, st.PutDedup(ctx, "new", time.Now().Add(time.Hour)))
	require.NoError(t, st.pruneExpired(ctx))

	_, ok, err := st.GetDedup(ctx, "old")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = st.GetDedup(ctx, "new")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSQLiteAppendAudit(t *testing.T) {
	ctx := context.Background()
	st := openTestSQLite(t, filepath.Join(t.TempDir(), "boardbot.sqlite"))
	defer st.Close()

	require.NoError(t, st.AppendAudit(ctx, AuditEntry{Source: "publish", Action: "publish", CardID: "c1", Ref: "log://dry/1", OK: true, TookMS: 12}))
	require.NoError(t, st.AppendAudit(ctx, AuditEntry{Source: "publish", Action: "publish", CardID: "c2", Error: "flood wait"}))

	var n, okRows int
	require.NoError(t, st.db.QueryRowContext(ctx, `SELECT COUNT(*), SUM(ok) FROM audit WHERE source = ?`, "publish").Scan(&n, &okRows))
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, okRows)

	var ref, errText any
	require.NoError(t, st.db.QueryRowContext(ctx, `SELECT ref, err FROM audit WHERE card_id = ?`, "c2").Scan(&ref, &errText))
	assert.Nil(t, ref, "blank strings are stored as NULL")
	assert.NotNil(t, errText)
}
