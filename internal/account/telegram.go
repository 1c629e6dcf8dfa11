package account

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"boardbot/internal/board"
	"boardbot/internal/cache"
	"boardbot/internal/config"
	logx "boardbot/pkg/logx"
	"boardbot/pkg/tgui"
)

const telegramTextLimit = 4000

// sender is the part of *tele.Bot the account uses.
type sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	ChatByUsername(name string) (*tele.Chat, error)
}

// Telegram posts cards to a channel. It also implements logx.AlertSender.
type Telegram struct {
	name    string
	channel string
	alertTo int64
	log     logx.Logger

	bot     sender
	limiter *rate.Limiter
	chat    *cache.Cache[*tele.Chat]
}

func NewTelegram(cfg config.AccountConfig, log logx.Logger) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty (set token or " + config.TelegramTokenEnv + ")")
	}
	if strings.TrimSpace(cfg.Channel) == "" {
		return nil, errors.New("telegram channel is empty")
	}
	timeout, err := config.ParseDurationOrDefault("poll_timeout", cfg.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return newTelegram(cfg, b, log), nil
}

func newTelegram(cfg config.AccountConfig, bot sender, log logx.Logger) *Telegram {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	t := &Telegram{
		name:    cfg.Name,
		channel: strings.TrimSpace(cfg.Channel),
		alertTo: cfg.AlertChatID,
		log:     log,
		bot:     bot,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
	// Channel metadata rarely changes; the username is needed for permalinks.
	t.chat = cache.New(func(ctx context.Context, _ *tele.Chat) (*tele.Chat, error) {
		return t.resolveChat()
	}, time.Hour, cache.WithName("telegram_chat"))
	return t
}

func (t *Telegram) Platform() string { return "telegram" }
func (t *Telegram) Name() string     { return t.name }

func (t *Telegram) resolveChat() (*tele.Chat, error) {
	if id, err := strconv.ParseInt(t.channel, 10, 64); err == nil {
		return &tele.Chat{ID: id}, nil
	}
	name := t.channel
	if !strings.HasPrefix(name, "@") {
		name = "@" + name
	}
	return t.bot.ChatByUsername(name)
}

// Publish posts the card text and returns the permalink of the first message.
func (t *Telegram) Publish(ctx context.Context, card board.Card) (string, error) {
	chat, err := t.chat.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("telegram: resolve channel %s: %w", t.channel, err)
	}
	var first *tele.Message
	chunks, mode := cardMessages(card)
	for _, chunk := range chunks {
		if err := t.limiter.Wait(ctx); err != nil {
			return "", err
		}
		msg, err := t.bot.Send(chat, chunk, &tele.SendOptions{ParseMode: mode, DisableWebPagePreview: card.URL() == ""})
		if err != nil {
			return "", fmt.Errorf("telegram: send: %w", err)
		}
		if first == nil {
			first = msg
		}
	}
	if first == nil {
		return "", errors.New("telegram: nothing sent")
	}
	ref := permalink(chat, first.ID)
	t.log.Debug("published", logx.String("card", card.ID()), logx.String("ref", ref))
	return ref, nil
}

// SendAlert delivers a log alert to the alert chat (or the channel when unset).
func (t *Telegram) SendAlert(ctx context.Context, text string) error {
	var to tele.Recipient
	if t.alertTo != 0 {
		to = tele.ChatID(t.alertTo)
	} else {
		chat, err := t.chat.Get(ctx)
		if err != nil {
			return err
		}
		to = chat
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := t.bot.Send(to, tgui.TruncRunes(text, telegramTextLimit))
	return err
}

// cardMessages renders a card as one HTML message, or as plain text chunks
// when the HTML form does not fit one message.
func cardMessages(card board.Card) ([]string, tele.ParseMode) {
	h := tgui.JoinH("\n\n",
		tgui.B(strings.TrimSpace(card.Title())),
		tgui.Esc(strings.TrimSpace(card.Body())),
		tgui.Esc(strings.TrimSpace(card.URL())),
	)
	if tgui.RuneLen(h.String()) <= telegramTextLimit {
		return []string{h.String()}, tele.ModeHTML
	}
	return splitText(cardText(card), telegramTextLimit), tele.ModeDefault
}

func cardText(card board.Card) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{card.Title(), card.Body(), card.URL()} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "\n\n")
}

// permalink builds a t.me link. Private channels use the /c/<id> form.
func permalink(chat *tele.Chat, msgID int) string {
	if chat.Username != "" {
		return fmt.Sprintf("https://t.me/%s/%d", chat.Username, msgID)
	}
	id := strconv.FormatInt(chat.ID, 10)
	id = strings.TrimPrefix(id, "-100")
	id = strings.TrimPrefix(id, "-")
	return fmt.Sprintf("https://t.me/c/%s/%d", id, msgID)
}

// splitText cuts s into chunks of at most limit runes, preferring newline boundaries.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	out := make([]string, 0, len(rs)/limit+1)
	for start := 0; start < len(rs); {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i-start >= limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
