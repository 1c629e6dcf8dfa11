package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "boardbot/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	st, err := Open(Config{Driver: "none"}, logx.Nop())
	require.NoError(t, err)
	assert.Nil(t, st)
	assert.False(t, Seen(context.Background(), st, "anything"))
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "mongo"}, logx.Nop())
	require.Error(t, err)
}

func TestFileStoreDedupSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "boardbot.db")

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.PutDedup(ctx, "published:abc", time.Now().Add(time.Hour)))
	require.NoError(t, st.PutDedup(ctx, "expired", time.Now().Add(-time.Hour)))
	assert.True(t, Seen(ctx, st, "published:abc"))
	assert.False(t, Seen(ctx, st, "expired"))
	require.NoError(t, st.Close())

	st, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	_, ok, err := st.GetDedup(ctx, "published:abc")
	require.NoError(t, err)
	assert.True(t, ok)
	_, ok, err = st.GetDedup(ctx, "expired")
	require.NoError(t, err)
	assert.False(t, ok, "expired keys are pruned on open")
}

func TestFileStoreAppendAudit(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "boardbot.db")}, logx.Nop())
	require.NoError(t, err)

	require.NoError(t, st.AppendAudit(ctx, AuditEntry{Source: "publish", Action: "publish", CardID: "c1", OK: true}))
	require.NoError(t, st.AppendAudit(ctx, AuditEntry{Source: "publish", Action: "publish", CardID: "c2", Error: "boom"}))
	require.NoError(t, st.Close())

	f, err := os.Open(filepath.Join(dir, "boardbot.audit.jsonl"))
	require.NoError(t, err)
	defer f.Close()

	var got []AuditEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e AuditEntry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		got = append(got, e)
	}
	require.Len(t, got, 2)
	assert.Equal(t, "c1", got[0].CardID)
	assert.True(t, got[0].OK)
	assert.False(t, got[0].At.IsZero())
	assert.Equal(t, "boom", got[1].Error)

	assert.ErrorIs(t, st.AppendAudit(ctx, AuditEntry{}), ErrDisabled)
}
