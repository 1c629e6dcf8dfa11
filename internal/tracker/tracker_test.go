package tracker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boardbot/internal/eventbus"
	"boardbot/internal/model"
	logx "boardbot/pkg/logx"
)

func TestMemoryTracker(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(eventbus.New(nil))

	var opened, closed []int
	unsubOpen := m.On(EventOpened, func(is model.Issue) { opened = append(opened, is.Number) })
	defer unsubOpen()
	m.On(EventClosed, func(is model.Issue) { closed = append(closed, is.Number) })

	m.Open(model.Issue{Number: 2, Title: "b"})
	m.Open(model.Issue{Number: 1, Title: "a"})
	m.Close(model.Issue{Number: 2, Title: "b"})

	open, err := m.Issues(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, 1, open[0].Number)

	done, err := m.ClosedIssues(ctx)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.True(t, done[0].Closed)

	assert.Equal(t, []int{2, 1}, opened)
	assert.Equal(t, []int{2}, closed)
}

func newRedisTracker(t *testing.T, cacheTime time.Duration) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client := NewRedisClient(s.Addr(), "", 0)
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, RedisOptions{Prefix: "test", CacheTime: cacheTime}, eventbus.New(nil), logx.Nop()), s
}

func TestRedisListings(t *testing.T) {
	ctx := context.Background()
	r, s := newRedisTracker(t, time.Hour)

	s.HSet("test:issues:open", "5", `{"number":5,"title":"five"}`)
	s.HSet("test:issues:open", "3", `{"title":"three"}`)
	s.HSet("test:issues:open", "9", `not json`)
	s.HSet("test:issues:closed", "1", `{"number":1,"title":"one"}`)

	open, err := r.Issues(ctx)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, 3, open[0].Number, "number falls back to the hash field")
	assert.Equal(t, 5, open[1].Number)

	closed, err := r.ClosedIssues(ctx)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.True(t, closed[0].Closed)

	// Cached: a new hash entry is invisible until the cache expires or an event arrives.
	s.HSet("test:issues:open", "7", `{"number":7}`)
	open, err = r.Issues(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 2)
}

func TestRedisListenForwardsEvents(t *testing.T) {
	r, _ := newRedisTracker(t, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan model.Issue, 4)
	r.On(EventClosed, func(is model.Issue) { got <- is })

	errCh := make(chan error, 1)
	go func() { errCh <- r.Listen(ctx) }()
	select {
	case <-r.Subscribed():
	case err := <-errCh:
		t.Fatalf("listen failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("listener never subscribed")
	}

	require.NoError(t, r.Record(ctx, EventOpened, model.Issue{Number: 4, Title: "four"}))
	require.NoError(t, r.Record(ctx, EventClosed, model.Issue{Number: 4, Title: "four"}))

	select {
	case is := <-got:
		assert.Equal(t, 4, is.Number)
		assert.True(t, is.Closed)
	case <-time.After(2 * time.Second):
		t.Fatal("closed event not delivered")
	}

	require.Eventually(t, func() bool {
		closed, err := r.ClosedIssues(context.Background())
		return err == nil && len(closed) == 1
	}, 2*time.Second, 10*time.Millisecond)
	open, err := r.Issues(context.Background())
	require.NoError(t, err)
	assert.Empty(t, open)

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
}

func TestRecordRejectsUnknownAction(t *testing.T) {
	r, _ := newRedisTracker(t, 0)
	err := r.Record(context.Background(), "reopened", model.Issue{Number: 1})
	require.Error(t, err)
}
