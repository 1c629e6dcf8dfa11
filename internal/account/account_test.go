package account

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"boardbot/internal/board"
	"boardbot/internal/config"
	"boardbot/internal/model"
	logx "boardbot/pkg/logx"
)

func testCard(t *testing.T, issue model.Issue) board.Card {
	t.Helper()
	ctx := context.Background()
	b := board.NewLocal("", logx.Nop())
	require.NoError(t, b.Open(ctx, []string{"Queue"}))
	cols, err := b.Columns(ctx)
	require.NoError(t, err)
	card, err := b.AddCard(ctx, issue, cols[0])
	require.NoError(t, err)
	return card
}

func TestManagerGet(t *testing.T) {
	m, err := Build([]config.AccountConfig{{Platform: "log", Name: "dry"}}, logx.Nop())
	require.NoError(t, err)

	a, err := m.Get("LOG", "dry")
	require.NoError(t, err)
	assert.Equal(t, "dry", a.Name())

	_, err = m.Get("telegram", "dry")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, m.Add(NewLog("dry", logx.Nop())))
	assert.Equal(t, []string{"log/dry"}, m.Names())
}

func TestBuildRejectsUnknownPlatform(t *testing.T) {
	_, err := Build([]config.AccountConfig{{Platform: "fax", Name: "x"}}, logx.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accounts[0]")
}

func TestLogPublish(t *testing.T) {
	l := NewLog("dry", logx.Nop())
	card := testCard(t, model.Issue{Number: 1, Title: "hello"})

	ref, err := l.Publish(context.Background(), card)
	require.NoError(t, err)
	assert.Equal(t, "log://dry/1", ref)
	ref, err = l.Publish(context.Background(), card)
	require.NoError(t, err)
	assert.Equal(t, "log://dry/2", ref)
}

type fakeBot struct {
	sent    []string
	to      []tele.Recipient
	lookups int
	sendErr error
}

func (f *fakeBot) Send(to tele.Recipient, what interface{}, _ ...interface{}) (*tele.Message, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, what.(string))
	f.to = append(f.to, to)
	return &tele.Message{ID: 100 + len(f.sent)}, nil
}

func (f *fakeBot) ChatByUsername(name string) (*tele.Chat, error) {
	f.lookups++
	return &tele.Chat{ID: -1001234, Username: strings.TrimPrefix(name, "@")}, nil
}

func TestTelegramPublishPermalink(t *testing.T) {
	bot := &fakeBot{}
	tg := newTelegram(config.AccountConfig{Name: "main", Channel: "@news", RatePerSec: 1000}, bot, logx.Nop())
	card := testCard(t, model.Issue{Number: 5, Title: "Title", Body: "Body", URL: "https://example.test/5"})

	ref, err := tg.Publish(context.Background(), card)
	require.NoError(t, err)
	assert.Equal(t, "https://t.me/news/101", ref)
	assert.Equal(t, []string{"<b>Title</b>\n\nBody\n\nhttps://example.test/5"}, bot.sent)

	_, err = tg.Publish(context.Background(), card)
	require.NoError(t, err)
	assert.Equal(t, 1, bot.lookups, "channel lookup is cached")
}

func TestTelegramPublishError(t *testing.T) {
	bot := &fakeBot{sendErr: errors.New("flood wait")}
	tg := newTelegram(config.AccountConfig{Name: "main", Channel: "-1009876"}, bot, logx.Nop())

	_, err := tg.Publish(context.Background(), testCard(t, model.Issue{Number: 1, Title: "x"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flood wait")
	assert.Zero(t, bot.lookups, "numeric channels need no lookup")
}

func TestTelegramAlertTarget(t *testing.T) {
	bot := &fakeBot{}
	tg := newTelegram(config.AccountConfig{Name: "main", Channel: "@news", AlertChatID: 42, RatePerSec: 1000}, bot, logx.Nop())

	require.NoError(t, tg.SendAlert(context.Background(), "disk full"))
	require.Len(t, bot.to, 1)
	assert.Equal(t, tele.ChatID(42), bot.to[0])
}

func TestCardMessages(t *testing.T) {
	chunks, mode := cardMessages(testCard(t, model.Issue{Number: 1, Title: "a < b", Body: "x & y"}))
	assert.Equal(t, tele.ModeHTML, mode)
	assert.Equal(t, []string{"<b>a &lt; b</b>\n\nx &amp; y"}, chunks)

	long := strings.Repeat("z", telegramTextLimit+10)
	chunks, mode = cardMessages(testCard(t, model.Issue{Number: 2, Title: "t", Body: long}))
	assert.Equal(t, tele.ModeDefault, mode)
	assert.Len(t, chunks, 2)
}

func TestPermalinkPrivateChannel(t *testing.T) {
	assert.Equal(t, "https://t.me/c/9876/7", permalink(&tele.Chat{ID: -1009876}, 7))
	assert.Equal(t, "https://t.me/chan/7", permalink(&tele.Chat{ID: -1009876, Username: "chan"}, 7))
}

func TestSplitText(t *testing.T) {
	assert.Equal(t, []string{"short"}, splitText("short", 10))

	long := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	assert.Equal(t, []string{"aaaaaa", "bbbbbb"}, splitText(long, 10))

	chunks := splitText(strings.Repeat("x", 25), 10)
	assert.Equal(t, []string{strings.Repeat("x", 10), strings.Repeat("x", 10), strings.Repeat("x", 5)}, chunks)
}
