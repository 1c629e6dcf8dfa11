// Package issues keeps board cards in line with the tracker's open/closed state.
//
// Column membership is the only state: an issue is untracked until a card for
// it sits in some column, and closing it removes that card. Managed columns
// (owned by other sources) are invisible to the lookup.
package issues

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"boardbot/internal/board"
	"boardbot/internal/config"
	"boardbot/internal/metrics"
	"boardbot/internal/model"
	"boardbot/internal/runtime/supervisor"
	"boardbot/internal/source"
	"boardbot/internal/tracker"
	logx "boardbot/pkg/logx"
)

const Type = "issues"

func Descriptor() source.Descriptor {
	return source.Descriptor{
		Type:            Type,
		RequiredColumns: []string{"target"},
		New:             New,
	}
}

type event struct {
	issue  model.Issue
	closed bool
}

// Handler processes the backfill and live tracker events on one goroutine,
// so its own events never interleave.
type Handler struct {
	source.Base

	mu     sync.Mutex
	queue  []event
	unsubs []func()
	sup    *supervisor.Supervisor
	runs   int

	wake       chan struct{}
	backfilled chan struct{}
}

func New(deps source.Deps, cfg config.SourceConfig) (source.Source, error) {
	if deps.Repository == nil {
		return nil, errors.New("issues: repository required")
	}
	return &Handler{
		Base:       source.NewBase(deps, cfg),
		wake:       make(chan struct{}, 1),
		backfilled: make(chan struct{}),
	}, nil
}

// Backfilled is closed once the initial reconciliation of the current run finished.
func (h *Handler) Backfilled() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.backfilled
}

func (h *Handler) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sup != nil {
		return nil
	}
	// Each run owns its channel; a restart after Stop never closes the previous one.
	if h.runs > 0 {
		h.backfilled = make(chan struct{})
	}
	h.runs++
	done := h.backfilled
	h.sup = supervisor.New(ctx, supervisor.WithLogger(h.Log))
	h.sup.Go("issues.sync", func(ctx context.Context) error { return h.run(ctx, done) })
	return nil
}

func (h *Handler) Stop(ctx context.Context) error {
	h.mu.Lock()
	unsubs, sup := h.unsubs, h.sup
	h.unsubs, h.sup = nil, nil
	h.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	if sup == nil {
		return nil
	}
	return sup.Stop(ctx)
}

func (h *Handler) run(ctx context.Context, backfilled chan struct{}) error {
	if err := board.WaitReady(ctx, h.Board); err != nil {
		return err
	}

	unsubOpened := h.Repository.On(tracker.EventOpened, func(is model.Issue) { h.push(event{issue: is}) })
	unsubClosed := h.Repository.On(tracker.EventClosed, func(is model.Issue) { h.push(event{issue: is, closed: true}) })
	defer unsubOpened()
	defer unsubClosed()
	h.mu.Lock()
	h.unsubs = append(h.unsubs, unsubOpened, unsubClosed)
	h.mu.Unlock()

	h.backfill(ctx)
	close(backfilled)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.wake:
			for _, ev := range h.drain() {
				h.handle(ctx, ev)
			}
		}
	}
}

func (h *Handler) push(ev event) {
	h.mu.Lock()
	h.queue = append(h.queue, ev)
	h.mu.Unlock()
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

func (h *Handler) drain() []event {
	h.mu.Lock()
	defer h.mu.Unlock()
	q := h.queue
	h.queue = nil
	return q
}

func (h *Handler) backfill(ctx context.Context) {
	open, err := h.Repository.Issues(ctx)
	if err != nil {
		h.Log.Warn("backfill: list open issues failed", logx.Err(err))
	}
	for _, is := range open {
		h.handle(ctx, event{issue: is})
	}
	closed, err := h.Repository.ClosedIssues(ctx)
	if err != nil {
		h.Log.Warn("backfill: list closed issues failed", logx.Err(err))
	}
	for _, is := range closed {
		h.handle(ctx, event{issue: is, closed: true})
	}
	h.Log.Info("backfill done", logx.Int("open", len(open)), logx.Int("closed", len(closed)))
}

// handle never lets an error or panic escape.
func (h *Handler) handle(ctx context.Context, ev event) {
	defer func() {
		if r := recover(); r != nil {
			h.Log.Error("panic handling issue event", logx.Int("issue", ev.issue.Number), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	if ev.closed {
		metrics.IncIssueEvent(tracker.EventClosed)
		h.Closed(ctx, ev.issue)
		return
	}
	metrics.IncIssueEvent(tracker.EventOpened)
	if _, err := h.AddIssue(ctx, ev.issue, false); err != nil {
		h.Log.Warn("add issue failed", logx.Int("issue", ev.issue.Number), logx.Err(err))
	}
}

// HandleCard returns the first non-managed column holding a card for issue,
// or nil when no such column exists.
func (h *Handler) HandleCard(ctx context.Context, issue model.Issue) (board.Column, error) {
	managed, err := h.ManagedColumns(ctx)
	if err != nil {
		return nil, err
	}
	skip := make(map[string]bool, len(managed))
	for _, c := range managed {
		skip[c.ID()] = true
	}
	cols, err := h.Board.Columns(ctx)
	if err != nil {
		return nil, err
	}
	for _, col := range cols {
		if skip[col.ID()] {
			continue
		}
		ok, err := col.HasIssue(ctx, issue.Number)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col.Name(), err)
		}
		if ok {
			return col, nil
		}
	}
	return nil, nil
}

// AddIssue places issue on the board. An issue already in a column is
// updated there; otherwise it goes to the target column unless closed.
// A closed issue that is not on the board yields (nil, nil).
func (h *Handler) AddIssue(ctx context.Context, issue model.Issue, closed bool) (board.Card, error) {
	col, err := h.HandleCard(ctx, issue)
	if err != nil {
		return nil, err
	}
	if col == nil {
		if closed {
			return nil, nil
		}
		if col, err = h.Column(ctx, "target"); err != nil {
			return nil, err
		}
	}
	return h.Board.AddCard(ctx, issue, col)
}

// Closed removes the card of a closed issue. Failures are logged or reported
// on the card and never returned.
func (h *Handler) Closed(ctx context.Context, issue model.Issue) {
	col, err := h.HandleCard(ctx, issue)
	if err != nil {
		h.Log.Warn("closed issue lookup failed", logx.Int("issue", issue.Number), logx.Err(err))
		return
	}
	if col == nil {
		return
	}
	card, err := col.GetCard(ctx, issue.Number)
	if err != nil {
		h.Log.Warn("closed issue card missing", logx.Int("issue", issue.Number), logx.String("column", col.Name()), logx.Err(err))
		return
	}
	if err := col.RemoveCard(ctx, card); err != nil {
		card.ReportError(ctx, "remove closed issue", err)
		return
	}
	h.Log.Info("closed issue removed", logx.Int("issue", issue.Number), logx.String("column", col.Name()))
}
