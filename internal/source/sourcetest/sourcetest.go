// Package sourcetest has helpers for testing source handlers against a local board.
package sourcetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"boardbot/internal/board"
	"boardbot/internal/config"
	logx "boardbot/pkg/logx"
)

// Board opens an in-memory board with the given columns.
func Board(t testing.TB, columns ...string) *board.Local {
	t.Helper()
	b := board.NewLocal("", logx.Nop())
	require.NoError(t, b.Open(context.Background(), columns))
	return b
}

// Column resolves a column by name.
func Column(t testing.TB, b board.Board, name string) board.Column {
	t.Helper()
	ctx := context.Background()
	ids, err := b.ColumnIDs(ctx)
	require.NoError(t, err)
	id, ok := ids[name]
	require.True(t, ok, "column %q not on board", name)
	col, err := b.Column(ctx, id)
	require.NoError(t, err)
	return col
}

// Cards lists the cards of the named column.
func Cards(t testing.TB, b board.Board, name string) []board.Card {
	t.Helper()
	cards, err := Column(t, b, name).Cards(context.Background())
	require.NoError(t, err)
	return cards
}

// Managed returns a Deps.Managed accessor resolving fixed column names.
func Managed(b board.Board, names ...string) func(ctx context.Context) ([]board.Column, error) {
	return func(ctx context.Context) ([]board.Column, error) {
		ids, err := b.ColumnIDs(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]board.Column, 0, len(names))
		for _, n := range names {
			if id, ok := ids[n]; ok {
				col, err := b.Column(ctx, id)
				if err != nil {
					return nil, err
				}
				out = append(out, col)
			}
		}
		return out, nil
	}
}

// SourceConfig decodes one JSON source entry the way the config loader does.
func SourceConfig(t testing.TB, raw string) config.SourceConfig {
	t.Helper()
	var sc config.SourceConfig
	require.NoError(t, sc.UnmarshalJSON([]byte(raw)))
	return sc
}
