// Package publish moves queued cards to a published column and posts them
// through an account, at most once per elapsed schedule slot.
//
// The schedule is a list of "H:M" times of the current UTC day. Every slot
// that passed since the last successful publish allows one more publish.
// An empty schedule means no limit.
package publish

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"boardbot/internal/account"
	"boardbot/internal/board"
	"boardbot/internal/config"
	"boardbot/internal/metrics"
	"boardbot/internal/source"
	"boardbot/internal/storage"
	logx "boardbot/pkg/logx"
)

const Type = "publish"

// Unlimited is the quota of an empty schedule.
const Unlimited = math.MaxInt

// publishedTTL is how long a published card id is remembered in storage.
const publishedTTL = 90 * 24 * time.Hour

func Descriptor() source.Descriptor {
	return source.Descriptor{
		Type:            Type,
		RequiredConfig:  []string{"columns", "schedule", "account_type", "account_name"},
		RequiredColumns: []string{"source", "target"},
		ManagedColumns:  []string{"source", "target"},
		New:             New,
	}
}

type Handler struct {
	source.Base
	account account.Account

	mu         sync.Mutex
	lastUpdate time.Time
}

func New(deps source.Deps, cfg config.SourceConfig) (source.Source, error) {
	if deps.Accounts == nil {
		return nil, errors.New("publish: accounts required")
	}
	acct, err := deps.Accounts.Get(cfg.AccountType, cfg.AccountName)
	if err != nil {
		return nil, err
	}
	h := &Handler{Base: source.NewBase(deps, cfg), account: acct}
	h.lastUpdate = h.Clock.Now()
	return h, nil
}

func (h *Handler) Start(ctx context.Context) error {
	h.Log.Info("publish ready",
		logx.String("account", h.account.Platform()+"/"+h.account.Name()),
		logx.Strings("schedule", h.Config.Schedule),
	)
	return nil
}

func (h *Handler) Stop(context.Context) error { return nil }

// LastUpdate is the time of the last successful publish (or construction).
func (h *Handler) LastUpdate() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastUpdate
}

// UTCHourMinute returns hour:minute on the UTC day of now. Out of range
// values carry over (hour 25 is 01:00 the next day).
func UTCHourMinute(now time.Time, hour, minute int) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).
		Add(time.Duration(hour) * time.Hour).
		Add(time.Duration(minute) * time.Minute)
}

func parseSlot(token string) (hour, minute int, ok bool) {
	h, m, found := strings.Cut(strings.TrimSpace(token), ":")
	if !found {
		return 0, 0, false
	}
	hour, err1 := strconv.Atoi(h)
	minute, err2 := strconv.Atoi(m)
	return hour, minute, err1 == nil && err2 == nil
}

// CurrentQuota counts the slots of today in (lastUpdate, now]. Malformed
// tokens never count.
func (h *Handler) CurrentQuota(now time.Time) int {
	if len(h.Config.Schedule) == 0 {
		return Unlimited
	}
	last := h.LastUpdate()
	n := 0
	for _, tok := range h.Config.Schedule {
		hour, minute, ok := parseSlot(tok)
		if !ok {
			continue
		}
		ts := UTCHourMinute(now, hour, minute)
		if !ts.After(now) && ts.After(last) {
			n++
		}
	}
	return n
}

// Cycle publishes eligible cards of the source column while quota is left.
// A failed publish leaves the card unpublished in the target column with the
// error reported on it, and consumes no quota.
func (h *Handler) Cycle(ctx context.Context) error {
	src, err := h.Column(ctx, "source")
	if err != nil {
		return err
	}
	dst, err := h.Column(ctx, "target")
	if err != nil {
		return err
	}

	tried := map[string]bool{}
	for ctx.Err() == nil {
		if h.CurrentQuota(h.Clock.Now()) <= 0 {
			return nil
		}
		card, err := h.nextEligible(ctx, src, tried)
		if err != nil {
			return err
		}
		if card == nil {
			return nil
		}
		tried[card.ID()] = true
		h.publishOne(ctx, card, src, dst)
	}
	return ctx.Err()
}

func (h *Handler) nextEligible(ctx context.Context, src board.Column, tried map[string]bool) (board.Card, error) {
	cards, err := src.Cards(ctx)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", src.Name(), err)
	}
	for _, c := range cards {
		if tried[c.ID()] {
			continue
		}
		if _, done := c.Published(); done {
			continue
		}
		if storage.Seen(ctx, h.Store, dedupKey(c)) {
			continue
		}
		return c, nil
	}
	return nil, nil
}

func dedupKey(c board.Card) string { return "published:" + c.ID() }

func (h *Handler) publishOne(ctx context.Context, card board.Card, src, dst board.Column) {
	start := h.Clock.Now()
	audit := storage.AuditEntry{
		At:      start,
		Source:  Type,
		Action:  "publish",
		CardID:  card.ID(),
		Title:   card.Title(),
		Account: h.account.Platform() + "/" + h.account.Name(),
	}
	defer func() {
		audit.TookMS = h.Clock.Since(start).Milliseconds()
		metrics.IncPublish(src.Name(), audit.OK)
		if h.Store == nil {
			return
		}
		if err := h.Store.AppendAudit(ctx, audit); err != nil {
			h.Log.Debug("audit append failed", logx.Err(err))
		}
	}()

	if err := dst.AddCard(ctx, card); err != nil {
		audit.Error = err.Error()
		card.ReportError(ctx, "move to "+dst.Name(), err)
		return
	}
	ref, err := h.account.Publish(ctx, card)
	if err != nil {
		audit.Error = err.Error()
		card.ReportError(ctx, "publish", err)
		return
	}

	now := h.Clock.Now()
	h.mu.Lock()
	h.lastUpdate = now
	h.mu.Unlock()

	audit.OK, audit.Ref = true, ref
	if err := card.MarkPublished(ctx, ref); err != nil {
		card.ReportError(ctx, "mark published", err)
	}
	if h.Store != nil {
		if err := h.Store.PutDedup(ctx, dedupKey(card), now.Add(publishedTTL)); err != nil {
			h.Log.Debug("dedup put failed", logx.Err(err))
		}
	}
	h.Log.Info("card published", logx.String("card", card.ID()), logx.String("ref", ref))
}
