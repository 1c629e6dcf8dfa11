package account

import (
	"context"
	"fmt"
	"sync/atomic"

	"boardbot/internal/board"
	logx "boardbot/pkg/logx"
)

// Log is a dry-run account: it logs the card and returns a synthetic reference.
type Log struct {
	name string
	log  logx.Logger
	seq  atomic.Int64
}

func NewLog(name string, log logx.Logger) *Log {
	return &Log{name: name, log: log}
}

func (l *Log) Platform() string { return "log" }
func (l *Log) Name() string     { return l.name }

func (l *Log) Publish(ctx context.Context, card board.Card) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	n := l.seq.Add(1)
	ref := fmt.Sprintf("log://%s/%d", l.name, n)
	l.log.Info("publish", logx.String("card", card.ID()), logx.String("title", card.Title()), logx.String("ref", ref))
	return ref, nil
}
