package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "boardbot/pkg/logx"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "cron", raw: "*/5 * * * *", want: "*/5 * * * *"},
		{name: "descriptor", raw: "@every 1m", want: "@every 1m"},
		{name: "prefixed cron", raw: "cron:0 0 * * *", want: "0 0 * * *"},
		{name: "duration", raw: "10m", want: "@every 10m0s"},
		{name: "prefixed interval", raw: "every:45s", want: "@every 45s"},
		{name: "hhmm", raw: "01:30", want: "@every 1h30m0s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSchedule(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.CronSpec())
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "00:75", "-5m", "every:"} {
		_, err := ParseSchedule(raw)
		assert.Error(t, err, raw)
	}
}

func TestAddRejectsBadCron(t *testing.T) {
	s := New("", logx.Nop())
	err := s.AddCron("bad", "61 * * * *", func(context.Context) error { return nil })
	require.Error(t, err)
	assert.Empty(t, s.Names())
}

func TestJobsRunAfterStart(t *testing.T) {
	s := New("UTC", logx.Nop())
	var runs atomic.Int32
	require.NoError(t, s.Add("tick", "every:1s", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}))
	assert.Equal(t, []string{"tick"}, s.Names())
	assert.True(t, s.Next("tick").IsZero(), "no next run before Start")

	s.Start(context.Background())
	defer s.Stop(context.Background())

	assert.False(t, s.Next("tick").IsZero())
	require.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
}

func TestRemove(t *testing.T) {
	s := New("", logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	require.NoError(t, s.AddInterval("x", time.Hour, func(context.Context) error { return nil }))
	assert.True(t, s.Remove("x"))
	assert.False(t, s.Remove("x"))
	assert.Empty(t, s.Names())
}
