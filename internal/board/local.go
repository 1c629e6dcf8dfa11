package board

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"boardbot/internal/model"
	logx "boardbot/pkg/logx"
)

// maxCardErrors bounds the error history kept per card.
const maxCardErrors = 20

// Local is a goroutine-safe in-memory board.
type Local struct {
	path string
	log  logx.Logger

	mu     sync.RWMutex
	cols   []*localColumn
	byID   map[string]*localColumn
	byName map[string]*localColumn
	dirty  bool

	ready     chan struct{}
	readyOnce sync.Once
}

type localColumn struct {
	b     *Local
	id    string
	name  string
	cards []*localCard
}

type localCard struct {
	b         *Local
	id        string
	issue     int
	title     string
	body      string
	url       string
	ref       string
	published bool
	errs      []CardError
}

// NewLocal returns an empty board. A non-empty path enables Load and Save.
func NewLocal(path string, log logx.Logger) *Local {
	return &Local{
		path:   strings.TrimSpace(path),
		log:    log,
		byID:   map[string]*localColumn{},
		byName: map[string]*localColumn{},
		ready:  make(chan struct{}),
	}
}

// Open loads the snapshot (if any), appends configured columns that are
// missing and marks the board ready.
func (b *Local) Open(ctx context.Context, columns []string) error {
	if err := b.Load(ctx); err != nil {
		return err
	}
	b.mu.Lock()
	for _, name := range columns {
		name = strings.TrimSpace(name)
		if name == "" || b.byName[name] != nil {
			continue
		}
		b.addColumnLocked(uuid.NewString(), name)
		b.dirty = true
	}
	n := len(b.cols)
	b.mu.Unlock()

	b.readyOnce.Do(func() { close(b.ready) })
	b.log.Info("board ready", logx.Int("columns", n), logx.String("path", b.path))
	return nil
}

func (b *Local) addColumnLocked(id, name string) *localColumn {
	c := &localColumn{b: b, id: id, name: name}
	b.cols = append(b.cols, c)
	b.byID[id] = c
	b.byName[name] = c
	return c
}

func (b *Local) Ready() <-chan struct{} { return b.ready }

func (b *Local) Columns(ctx context.Context) ([]Column, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Column, 0, len(b.cols))
	for _, c := range b.cols {
		out = append(out, c)
	}
	return out, nil
}

func (b *Local) ColumnIDs(ctx context.Context) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]string, len(b.byName))
	for name, c := range b.byName {
		out[name] = c.id
	}
	return out, nil
}

func (b *Local) Column(ctx context.Context, id string) (Column, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %q", ErrColumnNotFound, id)
	}
	return c, nil
}

func (b *Local) AddCard(ctx context.Context, issue model.Issue, col Column) (Card, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	c, err := b.ownColumnLocked(col)
	if err != nil {
		return nil, err
	}
	if card := c.findLocked(issue.Number); card != nil {
		card.title, card.body, card.url = issue.Title, issue.Body, issue.URL
		b.dirty = true
		return card, nil
	}
	card := &localCard{b: b, id: uuid.NewString(), issue: issue.Number, title: issue.Title, body: issue.Body, url: issue.URL}
	c.cards = append(c.cards, card)
	b.dirty = true
	return card, nil
}

func (b *Local) CreateCard(ctx context.Context, title, body string, col Column) (Card, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	c, err := b.ownColumnLocked(col)
	if err != nil {
		return nil, err
	}
	card := &localCard{b: b, id: uuid.NewString(), title: title, body: body}
	c.cards = append(c.cards, card)
	b.dirty = true
	return card, nil
}

func (b *Local) ownColumnLocked(col Column) (*localColumn, error) {
	if col == nil {
		return nil, ErrColumnNotFound
	}
	c, ok := b.byID[col.ID()]
	if !ok {
		return nil, fmt.Errorf("%w: id %q", ErrColumnNotFound, col.ID())
	}
	return c, nil
}

// CardCount is the number of cards on the whole board.
func (b *Local) CardCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, c := range b.cols {
		n += len(c.cards)
	}
	return n
}

func (c *localColumn) ID() string   { return c.id }
func (c *localColumn) Name() string { return c.name }

func (c *localColumn) findLocked(number int) *localCard {
	if number == 0 {
		return nil
	}
	for _, card := range c.cards {
		if card.issue == number {
			return card
		}
	}
	return nil
}

func (c *localColumn) HasIssue(ctx context.Context, number int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	c.b.mu.RLock()
	defer c.b.mu.RUnlock()
	return c.findLocked(number) != nil, nil
}

func (c *localColumn) GetCard(ctx context.Context, number int) (Card, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.b.mu.RLock()
	defer c.b.mu.RUnlock()
	if card := c.findLocked(number); card != nil {
		return card, nil
	}
	return nil, fmt.Errorf("%w: issue #%d in %q", ErrCardNotFound, number, c.name)
}

func (c *localColumn) Cards(ctx context.Context) ([]Card, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.b.mu.RLock()
	defer c.b.mu.RUnlock()
	out := make([]Card, 0, len(c.cards))
	for _, card := range c.cards {
		out = append(out, card)
	}
	return out, nil
}

func (c *localColumn) AddCard(ctx context.Context, card Card) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lc, ok := card.(*localCard)
	if !ok || lc.b != c.b {
		return fmt.Errorf("%w: card %s belongs to another board", ErrCardNotFound, card.ID())
	}
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	for _, other := range c.b.cols {
		if i := slices.Index(other.cards, lc); i >= 0 {
			other.cards = slices.Delete(other.cards, i, i+1)
			break
		}
	}
	c.cards = append(c.cards, lc)
	c.b.dirty = true
	return nil
}

func (c *localColumn) RemoveCard(ctx context.Context, card Card) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	i := slices.IndexFunc(c.cards, func(x *localCard) bool { return x.id == card.ID() })
	if i < 0 {
		return fmt.Errorf("%w: card %s in %q", ErrCardNotFound, card.ID(), c.name)
	}
	c.cards = slices.Delete(c.cards, i, i+1)
	c.b.dirty = true
	return nil
}

func (k *localCard) ID() string       { return k.id }
func (k *localCard) IssueNumber() int { return k.issue }

func (k *localCard) Title() string {
	k.b.mu.RLock()
	defer k.b.mu.RUnlock()
	return k.title
}

func (k *localCard) Body() string {
	k.b.mu.RLock()
	defer k.b.mu.RUnlock()
	return k.body
}

func (k *localCard) URL() string {
	k.b.mu.RLock()
	defer k.b.mu.RUnlock()
	return k.url
}

func (k *localCard) Published() (string, bool) {
	k.b.mu.RLock()
	defer k.b.mu.RUnlock()
	return k.ref, k.published
}

func (k *localCard) MarkPublished(ctx context.Context, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	k.b.mu.Lock()
	k.ref, k.published = ref, true
	k.b.dirty = true
	k.b.mu.Unlock()
	return nil
}

func (k *localCard) ReportError(_ context.Context, where string, err error) {
	if err == nil {
		return
	}
	k.b.mu.Lock()
	k.errs = append(k.errs, CardError{At: time.Now(), Where: where, Message: err.Error()})
	if len(k.errs) > maxCardErrors {
		k.errs = slices.Clone(k.errs[len(k.errs)-maxCardErrors:])
	}
	k.b.dirty = true
	k.b.mu.Unlock()
	k.b.log.Warn("card error", logx.String("card", k.id), logx.Int("issue", k.issue), logx.String("where", where), logx.Err(err))
}

func (k *localCard) Errors() []CardError {
	k.b.mu.RLock()
	defer k.b.mu.RUnlock()
	return slices.Clone(k.errs)
}

type snapshot struct {
	Columns []snapColumn `json:"columns"`
}

type snapColumn struct {
	ID    string     `json:"id"`
	Name  string     `json:"name"`
	Cards []snapCard `json:"cards"`
}

type snapCard struct {
	ID        string      `json:"id"`
	Issue     int         `json:"issue,omitempty"`
	Title     string      `json:"title"`
	Body      string      `json:"body,omitempty"`
	URL       string      `json:"url,omitempty"`
	Ref       string      `json:"ref,omitempty"`
	Published bool        `json:"published,omitempty"`
	Errors    []CardError `json:"errors,omitempty"`
}

// Load replaces the board content with the snapshot at path.
// A missing file leaves the board empty.
func (b *Local) Load(ctx context.Context) error {
	if b.path == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := os.ReadFile(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("board: read snapshot: %w", err)
	}
	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("board: decode snapshot %s: %w", b.path, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.cols = nil
	b.byID = map[string]*localColumn{}
	b.byName = map[string]*localColumn{}
	for _, sc := range snap.Columns {
		id := sc.ID
		if id == "" {
			id = uuid.NewString()
		}
		c := b.addColumnLocked(id, sc.Name)
		for _, k := range sc.Cards {
			c.cards = append(c.cards, &localCard{
				b: b, id: k.ID, issue: k.Issue, title: k.Title, body: k.Body, url: k.URL,
				ref: k.Ref, published: k.Published, errs: k.Errors,
			})
		}
	}
	b.dirty = false
	return nil
}

// Save writes the snapshot when the board changed since the last Load/Save.
func (b *Local) Save(ctx context.Context) error {
	if b.path == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.dirty {
		return nil
	}
	snap := snapshot{Columns: make([]snapColumn, 0, len(b.cols))}
	for _, c := range b.cols {
		sc := snapColumn{ID: c.id, Name: c.name, Cards: make([]snapCard, 0, len(c.cards))}
		for _, k := range c.cards {
			sc.Cards = append(sc.Cards, snapCard{
				ID: k.id, Issue: k.issue, Title: k.title, Body: k.body, URL: k.url,
				Ref: k.ref, Published: k.published, Errors: k.errs,
			})
		}
		snap.Columns = append(snap.Columns, sc)
	}
	raw, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return err
	}
	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, b.path); err != nil {
		return err
	}
	b.dirty = false
	return nil
}
