package publish

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"boardbot/internal/account"
	"boardbot/internal/board"
	"boardbot/internal/source"
	"boardbot/internal/source/sourcetest"
	"boardbot/internal/storage"
	logx "boardbot/pkg/logx"
)

type fakeAccount struct {
	err   error
	calls int
}

func (f *fakeAccount) Platform() string { return "fake" }
func (f *fakeAccount) Name() string     { return "main" }

func (f *fakeAccount) Publish(_ context.Context, card board.Card) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "fake://" + card.ID(), nil
}

var start = time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

func newHandler(t *testing.T, b board.Board, clk *testingclock.FakeClock, acct account.Account, schedule string) *Handler {
	t.Helper()
	accts := account.NewManager()
	require.NoError(t, accts.Add(acct))
	cfg := sourcetest.SourceConfig(t, `{"type":"publish","columns":{"source":"Queue","target":"Published"},`+
		`"schedule":`+schedule+`,"account_type":"`+acct.Platform()+`","account_name":"`+acct.Name()+`"}`)
	src, err := New(source.Deps{Board: b, Accounts: accts, Clock: clk, Log: logx.Nop()}, cfg)
	require.NoError(t, err)
	return src.(*Handler)
}

func addCards(t *testing.T, b *board.Local, titles ...string) {
	t.Helper()
	col := sourcetest.Column(t, b, "Queue")
	for _, title := range titles {
		_, err := b.CreateCard(context.Background(), title, "body of "+title, col)
		require.NoError(t, err)
	}
}

func TestUTCHourMinute(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 37, 52, 123, time.UTC)
	assert.True(t, now.Truncate(time.Minute).Equal(UTCHourMinute(now, 14, 37)))

	local := now.In(time.FixedZone("UTC+9", 9*3600))
	assert.True(t, UTCHourMinute(now, 14, 37).Equal(UTCHourMinute(local, 14, 37)))

	assert.Equal(t, time.Date(2026, 3, 11, 1, 0, 0, 0, time.UTC), UTCHourMinute(now, 25, 0))
}

func TestEmptyScheduleIsUnlimited(t *testing.T) {
	clk := testingclock.NewFakeClock(start)
	h := newHandler(t, sourcetest.Board(t, "Queue", "Published"), clk, &fakeAccount{}, `[]`)
	assert.Equal(t, Unlimited, h.CurrentQuota(clk.Now()))
}

func TestCurrentQuotaCountsElapsedSlots(t *testing.T) {
	clk := testingclock.NewFakeClock(start)
	// Relative to 12:00: one minute later, one hour later, one hour earlier.
	h := newHandler(t, sourcetest.Board(t, "Queue", "Published"), clk, &fakeAccount{},
		`["12:1","13:00","11:0","bad","x:5"]`)

	assert.Zero(t, h.CurrentQuota(clk.Now()))

	clk.SetTime(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	assert.Equal(t, 1, h.CurrentQuota(clk.Now()))

	clk.Step(90 * time.Minute)
	assert.Equal(t, 3, h.CurrentQuota(clk.Now()))
}

func TestCyclePublishesOnePerCatchUp(t *testing.T) {
	ctx := context.Background()
	b := sourcetest.Board(t, "Queue", "Published")
	addCards(t, b, "a", "b", "c")
	clk := testingclock.NewFakeClock(start)
	acct := &fakeAccount{}
	h := newHandler(t, b, clk, acct, `["11:00","12:00"]`)

	require.NoError(t, h.Cycle(ctx))
	assert.Zero(t, acct.calls, "no slot elapsed yet")

	clk.SetTime(time.Date(2026, 3, 10, 12, 30, 0, 0, time.UTC))
	require.NoError(t, h.Cycle(ctx))
	assert.Equal(t, 1, acct.calls)
	assert.Len(t, sourcetest.Cards(t, b, "Queue"), 2)

	published := sourcetest.Cards(t, b, "Published")
	require.Len(t, published, 1)
	ref, ok := published[0].Published()
	assert.True(t, ok)
	assert.Equal(t, "fake://"+published[0].ID(), ref)
	assert.Equal(t, clk.Now(), h.LastUpdate())

	// Both slots are now before lastUpdate.
	require.NoError(t, h.Cycle(ctx))
	assert.Equal(t, 1, acct.calls)
}

func TestCycleUnlimitedDrainsSource(t *testing.T) {
	b := sourcetest.Board(t, "Queue", "Published")
	addCards(t, b, "a", "b", "c")
	acct := &fakeAccount{}
	h := newHandler(t, b, testingclock.NewFakeClock(start), acct, `[]`)

	require.NoError(t, h.Cycle(context.Background()))
	assert.Equal(t, 3, acct.calls)
	assert.Empty(t, sourcetest.Cards(t, b, "Queue"))
	assert.Len(t, sourcetest.Cards(t, b, "Published"), 3)
}

func TestCycleFailureReportsAndKeepsQuota(t *testing.T) {
	b := sourcetest.Board(t, "Queue", "Published")
	addCards(t, b, "a")
	clk := testingclock.NewFakeClock(start)
	acct := &fakeAccount{err: errors.New("flood wait")}
	h := newHandler(t, b, clk, acct, `["11:00"]`)

	clk.Step(2 * time.Hour)
	require.NoError(t, h.Cycle(context.Background()))
	assert.Equal(t, 1, acct.calls)

	moved := sourcetest.Cards(t, b, "Published")
	require.Len(t, moved, 1)
	_, ok := moved[0].Published()
	assert.False(t, ok)
	require.Len(t, moved[0].Errors(), 1)
	assert.Equal(t, "flood wait", moved[0].Errors()[0].Message)

	assert.Equal(t, start, h.LastUpdate())
	assert.Equal(t, 1, h.CurrentQuota(clk.Now()))
}

func TestCycleSkipsCardsSeenInStore(t *testing.T) {
	ctx := context.Background()
	st, err := storage.Open(storage.Config{Driver: "file", Path: t.TempDir() + "/state"}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	b := sourcetest.Board(t, "Queue", "Published")
	addCards(t, b, "a", "b")
	queued := sourcetest.Cards(t, b, "Queue")
	require.NoError(t, st.PutDedup(ctx, "published:"+queued[0].ID(), time.Now().Add(time.Hour)))

	acct := &fakeAccount{}
	accts := account.NewManager()
	require.NoError(t, accts.Add(acct))
	cfg := sourcetest.SourceConfig(t, `{"type":"publish","columns":{"source":"Queue","target":"Published"},"schedule":[],"account_type":"fake","account_name":"main"}`)
	src, err := New(source.Deps{Board: b, Accounts: accts, Store: st, Clock: testingclock.NewFakeClock(start), Log: logx.Nop()}, cfg)
	require.NoError(t, err)

	require.NoError(t, src.(*Handler).Cycle(ctx))
	assert.Equal(t, 1, acct.calls)
	left := sourcetest.Cards(t, b, "Queue")
	require.Len(t, left, 1)
	assert.Equal(t, queued[0].ID(), left[0].ID())
	done := sourcetest.Cards(t, b, "Published")
	require.Len(t, done, 1)
	assert.Equal(t, queued[1].ID(), done[0].ID())
}

func TestNewUnknownAccount(t *testing.T) {
	cfg := sourcetest.SourceConfig(t, `{"type":"publish","columns":{"source":"Q","target":"P"},"schedule":[],"account_type":"telegram","account_name":"nope"}`)
	_, err := New(source.Deps{Accounts: account.NewManager(), Log: logx.Nop()}, cfg)
	assert.ErrorIs(t, err, account.ErrNotFound)
}
