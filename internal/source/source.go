// Package source wires typed source handlers against board columns.
//
// A handler type is described by a Descriptor: the config keys and column
// roles it requires, the column roles it manages exclusively, and its
// constructor. The Manager builds every configured source from a Registry,
// checks each entry against its descriptor and tracks the set of managed
// columns so other handlers can skip them.
package source

import (
	"context"
	"fmt"

	"k8s.io/utils/clock"

	"boardbot/internal/account"
	"boardbot/internal/board"
	"boardbot/internal/config"
	"boardbot/internal/scheduler"
	"boardbot/internal/storage"
	"boardbot/internal/tracker"
	logx "boardbot/pkg/logx"
)

// Source is one running integration.
//
// Construction only stores dependencies; Start does the work that needs the
// board or remote services.
type Source interface {
	Type() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Cycler is implemented by sources that act on every board cycle.
type Cycler interface {
	Cycle(ctx context.Context) error
}

// Accounts resolves publishing accounts.
type Accounts interface {
	Get(platform, name string) (account.Account, error)
}

// Deps are the shared collaborators handed to every source.
type Deps struct {
	Repository tracker.Repository
	Accounts   Accounts
	Board      board.Board
	Store      storage.Store // may be nil
	Scheduler  *scheduler.Service
	Clock      clock.Clock
	Log        logx.Logger

	// Managed resolves the columns every loaded source manages. It is set by
	// the Manager and safe to call only after construction finished.
	Managed func(ctx context.Context) ([]board.Column, error)
}

// Base carries the dependencies and config of a source. Handlers embed it.
type Base struct {
	Deps
	Config config.SourceConfig
}

func NewBase(deps Deps, cfg config.SourceConfig) Base {
	if deps.Clock == nil {
		deps.Clock = clock.RealClock{}
	}
	deps.Log = deps.Log.With(logx.String("source", cfg.Type))
	return Base{Deps: deps, Config: cfg}
}

func (b *Base) Type() string { return b.Config.Type }

// Column waits for the board, then resolves the column configured for role.
func (b *Base) Column(ctx context.Context, role string) (board.Column, error) {
	if err := board.WaitReady(ctx, b.Board); err != nil {
		return nil, err
	}
	name, ok := b.Config.Columns[role]
	if !ok {
		return nil, fmt.Errorf("%w: no %q column configured", board.ErrColumnNotFound, role)
	}
	ids, err := b.Board.ColumnIDs(ctx)
	if err != nil {
		return nil, err
	}
	id, ok := ids[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (role %s)", board.ErrColumnNotFound, name, role)
	}
	return b.Board.Column(ctx, id)
}

// ManagedColumns lists the columns managed by any loaded source.
func (b *Base) ManagedColumns(ctx context.Context) ([]board.Column, error) {
	if b.Managed == nil {
		return nil, nil
	}
	return b.Managed(ctx)
}
