// Package reminder creates a card on a cron schedule.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"boardbot/internal/config"
	"boardbot/internal/source"
	"boardbot/internal/storage"
	logx "boardbot/pkg/logx"
)

const Type = "reminder"

func Descriptor() source.Descriptor {
	return source.Descriptor{
		Type:            Type,
		RequiredConfig:  []string{"columns", "cron", "title"},
		RequiredColumns: []string{"target"},
		New:             New,
	}
}

type Handler struct {
	source.Base
	cron  string
	title string
	body  string
	job   string
}

func New(deps source.Deps, cfg config.SourceConfig) (source.Source, error) {
	if deps.Scheduler == nil {
		return nil, errors.New("reminder: scheduler required")
	}
	h := &Handler{Base: source.NewBase(deps, cfg)}
	if err := cfg.Option("cron", &h.cron); err != nil {
		return nil, fmt.Errorf("reminder: cron: %w", err)
	}
	if err := cfg.Option("title", &h.title); err != nil {
		return nil, fmt.Errorf("reminder: title: %w", err)
	}
	if err := cfg.Option("body", &h.body); err != nil {
		return nil, fmt.Errorf("reminder: body: %w", err)
	}
	h.cron, h.title = strings.TrimSpace(h.cron), strings.TrimSpace(h.title)
	if h.cron == "" || h.title == "" {
		return nil, errors.New("reminder: cron and title must not be empty")
	}
	h.job = "reminder." + cfg.Columns["target"] + "." + h.title
	return h, nil
}

// JobName is the scheduler entry name of this reminder.
func (h *Handler) JobName() string { return h.job }

func (h *Handler) Start(ctx context.Context) error {
	if err := h.Scheduler.Add(h.job, h.cron, h.Fire); err != nil {
		return fmt.Errorf("reminder %q: %w", h.title, err)
	}
	h.Log.Info("reminder scheduled", logx.String("job", h.job), logx.String("cron", h.cron))
	return nil
}

func (h *Handler) Stop(context.Context) error {
	h.Scheduler.Remove(h.job)
	return nil
}

// Fire creates the reminder card in the target column.
func (h *Handler) Fire(ctx context.Context) error {
	col, err := h.Column(ctx, "target")
	if err != nil {
		return err
	}
	card, err := h.Board.CreateCard(ctx, h.title, h.body, col)
	entry := storage.AuditEntry{At: h.Clock.Now(), Source: Type, Action: "create", Title: h.title, OK: err == nil}
	if err != nil {
		entry.Error = err.Error()
	} else {
		entry.CardID = card.ID()
	}
	if h.Store != nil {
		if aerr := h.Store.AppendAudit(ctx, entry); aerr != nil {
			h.Log.Debug("audit append failed", logx.Err(aerr))
		}
	}
	if err != nil {
		return fmt.Errorf("create reminder card: %w", err)
	}
	h.Log.Info("reminder card created", logx.String("card", card.ID()), logx.String("column", col.Name()))
	return nil
}
