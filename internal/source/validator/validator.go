// Package validator flags cards that cannot be published as they are.
package validator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"unicode/utf8"

	"boardbot/internal/config"
	"boardbot/internal/source"
)

const Type = "validator"

// DefaultMaxLength is the body limit when max_length is not set.
const DefaultMaxLength = 280

var (
	ErrEmptyBody = errors.New("card body is empty")
	ErrTooLong   = errors.New("card body is too long")
)

func Descriptor() source.Descriptor {
	return source.Descriptor{
		Type:            Type,
		RequiredColumns: []string{"source"},
		New:             New,
	}
}

type problem int

const (
	problemEmpty problem = iota + 1
	problemTooLong
)

type Handler struct {
	source.Base
	maxLength int

	mu       sync.Mutex
	reported map[string]problem // card id -> last reported problem
}

func New(deps source.Deps, cfg config.SourceConfig) (source.Source, error) {
	h := &Handler{Base: source.NewBase(deps, cfg), maxLength: DefaultMaxLength, reported: map[string]problem{}}
	if err := cfg.Option("max_length", &h.maxLength); err != nil {
		return nil, fmt.Errorf("validator: max_length: %w", err)
	}
	if h.maxLength <= 0 {
		return nil, fmt.Errorf("validator: max_length must be > 0, got %d", h.maxLength)
	}
	return h, nil
}

func (h *Handler) Start(context.Context) error { return nil }
func (h *Handler) Stop(context.Context) error  { return nil }

func (h *Handler) check(body string) (problem, error) {
	switch n := utf8.RuneCountInString(body); {
	case n == 0:
		return problemEmpty, ErrEmptyBody
	case n > h.maxLength:
		return problemTooLong, fmt.Errorf("%w: %d > %d characters", ErrTooLong, n, h.maxLength)
	}
	return 0, nil
}

// Cycle reports each card problem once. A fixed card is forgotten, so a
// later regression is reported again.
func (h *Handler) Cycle(ctx context.Context) error {
	col, err := h.Column(ctx, "source")
	if err != nil {
		return err
	}
	cards, err := col.Cards(ctx)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range cards {
		p, perr := h.check(c.Body())
		if p == 0 {
			delete(h.reported, c.ID())
			continue
		}
		if h.reported[c.ID()] == p {
			continue
		}
		h.reported[c.ID()] = p
		c.ReportError(ctx, "validate", perr)
	}
	return nil
}
