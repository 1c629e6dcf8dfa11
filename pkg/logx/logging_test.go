package logx

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterFieldsAndLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "info").With(String("comp", "board"))

	log.Debug("hidden")
	log.Info("card moved", Int("issue", 7), Err(errors.New("boom")), Strings("cols", []string{"a", "b"}))

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"comp":"board"`)
	assert.Contains(t, out, `"issue":7`)
	assert.Contains(t, out, `"boom"`)
	assert.Contains(t, out, `"cols":["a","b"]`)
	assert.Contains(t, out, `"message":"card moved"`)
}

func TestZeroAndNop(t *testing.T) {
	var zero Logger
	assert.True(t, zero.IsZero())
	assert.NotPanics(t, func() { zero.Warn("nothing") })
	assert.False(t, Nop().IsZero())
	assert.NotPanics(t, func() { Nop().With(String("k", "v")).Error("nothing") })
}

type recordingSender struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recordingSender) SendAlert(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, text)
	return nil
}

func (r *recordingSender) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

func TestAlertsForwardWarnings(t *testing.T) {
	cfg := Config{Level: "debug", Alerts: AlertConfig{Enabled: true, MinLevel: "warn", RatePerSec: 100}}
	svc, log := New(cfg)
	defer svc.Close()
	sender := &recordingSender{}
	svc.SetAlertSender(sender)
	svc.Apply(cfg)

	log.Info("routine")
	log.Warn("publish failed", String("card", "c1"))

	require.Eventually(t, func() bool { return len(sender.all()) == 1 }, 2*time.Second, 10*time.Millisecond)
	msg := sender.all()[0]
	assert.True(t, strings.HasPrefix(msg, "[WARN] publish failed"), msg)
	assert.Contains(t, msg, "card=c1")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.WarnLevel, parseLevel("warning", zerolog.InfoLevel))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("nonsense", zerolog.InfoLevel))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
