package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boardbot/internal/model"
	"boardbot/internal/source"
	"boardbot/internal/source/sourcetest"
	"boardbot/internal/tracker"
)

const testConfig = `{
  "logging": {"level": "error", "console": false},
  "board": {"path": "%DIR%/board.json", "columns": ["Inbox", "Queue", "Published"], "cycle": "@every 1h"},
  "repository": {"driver": "memory"},
  "accounts": [{"platform": "log", "name": "dry"}],
  "storage": {"driver": "file", "path": "%DIR%/store"},
  "sources": [
    {"type": "issues", "columns": {"target": "Inbox"}},
    {"type": "publish", "columns": {"source": "Queue", "target": "Published"}, "schedule": [], "account_type": "log", "account_name": "dry"},
    {"type": "validator", "columns": {"source": "Queue"}, "max_length": 100}
  ]
}`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body = strings.ReplaceAll(body, "%DIR%", filepath.ToSlash(dir))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestAppLifecycle(t *testing.T) {
	path := writeConfig(t, testConfig)
	a, err := NewApp(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"issues", "publish", "validator"}, a.sources.TypeNames())
	assert.Equal(t, []string{"Queue", "Published"}, a.sources.ManagedColumnNames())

	require.NoError(t, a.Start(context.Background()))

	a.tracker.(*tracker.Memory).Open(model.Issue{Number: 1, Title: "first"})
	require.Eventually(t, func() bool { return len(sourcetest.Cards(t, a.board, "Inbox")) == 1 }, 2*time.Second, 10*time.Millisecond)

	_, err = a.board.CreateCard(context.Background(), "post", "hello", sourcetest.Column(t, a.board, "Queue"))
	require.NoError(t, err)
	require.NoError(t, a.Cycle(context.Background()))

	published := sourcetest.Cards(t, a.board, "Published")
	require.Len(t, published, 1)
	ref, ok := published[0].Published()
	assert.True(t, ok)
	assert.NotEmpty(t, ref)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(ctx, StopAppStop))

	_, err = os.Stat(filepath.Join(filepath.Dir(path), "board.json"))
	assert.NoError(t, err, "board snapshot saved")
}

func TestNewAppRejectsInvalidSource(t *testing.T) {
	path := writeConfig(t, `{
  "logging": {"level": "error"},
  "board": {"columns": ["Inbox"]},
  "sources": [{"type": "issues", "columns": {}}]
}`)
	_, err := NewApp(path)
	var le *source.SourceLoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, []string{"target"}, le.MissingColumns)
}

func TestNewAppUnknownAlertAccount(t *testing.T) {
	path := writeConfig(t, `{
  "logging": {"level": "error", "alerts": {"enabled": true, "account": "ops"}},
  "board": {"columns": ["Inbox"]},
  "sources": []
}`)
	_, err := NewApp(path)
	assert.ErrorContains(t, err, "logging.alerts.account")
}
