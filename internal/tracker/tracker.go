// Package tracker exposes the external issue tracker to sources.
package tracker

import (
	"context"
	"fmt"
	"slices"

	"boardbot/internal/eventbus"
	"boardbot/internal/model"
)

// Issue lifecycle events.
const (
	EventOpened = "opened"
	EventClosed = "closed"
)

// Repository is the tracker as seen by sources.
type Repository interface {
	// On calls fn for every issue event of the given kind until unsubscribe is called.
	On(event string, fn func(model.Issue)) (unsubscribe func())
	// Issues lists open issues ordered by number.
	Issues(ctx context.Context) ([]model.Issue, error)
	// ClosedIssues lists closed issues ordered by number.
	ClosedIssues(ctx context.Context) ([]model.Issue, error)
}

func busEvent(event string) string { return "issue." + event }

func onBus(bus eventbus.Bus, event string, fn func(model.Issue)) func() {
	return bus.On(busEvent(event), func(e eventbus.Event) {
		if issue, ok := e.Data.(model.Issue); ok {
			fn(issue)
		}
	})
}

func validEvent(event string) error {
	switch event {
	case EventOpened, EventClosed:
		return nil
	default:
		return fmt.Errorf("tracker: unknown event %q", event)
	}
}

func sortedIssues(m map[int]model.Issue) []model.Issue {
	out := make([]model.Issue, 0, len(m))
	for _, is := range m {
		out = append(out, is)
	}
	slices.SortFunc(out, func(a, b model.Issue) int { return a.Number - b.Number })
	return out
}
