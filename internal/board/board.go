// Package board defines the project board that sources read and write, and
// ships Local, an in-process board persisted as a JSON snapshot.
//
// The board gives no transactions: each call is atomic on its own, and which
// source owns a column is a convention the source manager tracks, not
// something the board enforces.
package board

import (
	"context"
	"errors"
	"time"

	"boardbot/internal/model"
)

var (
	ErrColumnNotFound = errors.New("board: column not found")
	ErrCardNotFound   = errors.New("board: card not found")
	ErrNotReady       = errors.New("board: not ready")
)

type Board interface {
	// Ready is closed once columns can be resolved.
	Ready() <-chan struct{}
	// Columns lists every column in board order.
	Columns(ctx context.Context) ([]Column, error)
	// ColumnIDs maps configured column names to column ids.
	ColumnIDs(ctx context.Context) (map[string]string, error)
	// Column returns the column with the given id.
	Column(ctx context.Context, id string) (Column, error)
	// AddCard places a card for issue in col, updating the card already
	// tracking that issue in col if there is one.
	AddCard(ctx context.Context, issue model.Issue, col Column) (Card, error)
	// CreateCard adds a free-form card (not tied to an issue) to col.
	CreateCard(ctx context.Context, title, body string, col Column) (Card, error)
}

type Column interface {
	ID() string
	Name() string
	HasIssue(ctx context.Context, number int) (bool, error)
	GetCard(ctx context.Context, number int) (Card, error)
	Cards(ctx context.Context) ([]Card, error)
	// AddCard moves card into this column.
	AddCard(ctx context.Context, card Card) error
	RemoveCard(ctx context.Context, card Card) error
}

type Card interface {
	ID() string
	// IssueNumber is 0 for free-form cards.
	IssueNumber() int
	Title() string
	Body() string
	URL() string
	// Published returns the reference recorded by MarkPublished.
	Published() (ref string, ok bool)
	MarkPublished(ctx context.Context, ref string) error
	// ReportError records a non-fatal failure on the card.
	ReportError(ctx context.Context, where string, err error)
	Errors() []CardError
}

// CardError is one failure reported on a card.
type CardError struct {
	At      time.Time `json:"at"`
	Where   string    `json:"where"`
	Message string    `json:"message"`
}

// WaitReady blocks until b is ready or ctx is done.
func WaitReady(ctx context.Context, b Board) error {
	select {
	case <-b.Ready():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
