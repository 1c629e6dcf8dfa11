package validator

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boardbot/internal/source"
	"boardbot/internal/source/sourcetest"
	logx "boardbot/pkg/logx"
)

func TestCycleReportsOncePerProblem(t *testing.T) {
	ctx := context.Background()
	b := sourcetest.Board(t, "Queue")
	col := sourcetest.Column(t, b, "Queue")
	empty, err := b.CreateCard(ctx, "empty", "", col)
	require.NoError(t, err)
	long, err := b.CreateCard(ctx, "long", strings.Repeat("ж", 11), col)
	require.NoError(t, err)
	ok, err := b.CreateCard(ctx, "fine", strings.Repeat("ж", 10), col)
	require.NoError(t, err)

	cfg := sourcetest.SourceConfig(t, `{"type":"validator","columns":{"source":"Queue"},"max_length":10}`)
	src, err := New(source.Deps{Board: b, Log: logx.Nop()}, cfg)
	require.NoError(t, err)
	h := src.(*Handler)

	require.NoError(t, h.Cycle(ctx))
	require.NoError(t, h.Cycle(ctx))

	require.Len(t, empty.Errors(), 1)
	assert.Equal(t, ErrEmptyBody.Error(), empty.Errors()[0].Message)
	require.Len(t, long.Errors(), 1)
	assert.Contains(t, long.Errors()[0].Message, "11 > 10")
	assert.Empty(t, ok.Errors())
}

func TestDefaultMaxLength(t *testing.T) {
	cfg := sourcetest.SourceConfig(t, `{"type":"validator","columns":{"source":"Queue"}}`)
	src, err := New(source.Deps{Log: logx.Nop()}, cfg)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxLength, src.(*Handler).maxLength)

	cfg = sourcetest.SourceConfig(t, `{"type":"validator","columns":{"source":"Queue"},"max_length":0}`)
	_, err = New(source.Deps{Log: logx.Nop()}, cfg)
	assert.Error(t, err)
}
