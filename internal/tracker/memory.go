package tracker

import (
	"context"
	"sync"

	"boardbot/internal/eventbus"
	"boardbot/internal/model"
)

// Memory is an in-process tracker. Open and Close emit events on the bus
// after the listings are updated.
type Memory struct {
	bus eventbus.Bus

	mu     sync.RWMutex
	open   map[int]model.Issue
	closed map[int]model.Issue
}

func NewMemory(bus eventbus.Bus) *Memory {
	return &Memory{bus: bus, open: map[int]model.Issue{}, closed: map[int]model.Issue{}}
}

func (m *Memory) On(event string, fn func(model.Issue)) func() {
	return onBus(m.bus, event, fn)
}

// Open records issue as open and emits EventOpened.
func (m *Memory) Open(issue model.Issue) {
	issue.Closed = false
	m.mu.Lock()
	delete(m.closed, issue.Number)
	m.open[issue.Number] = issue
	m.mu.Unlock()
	m.bus.Publish(eventbus.Event{Type: busEvent(EventOpened), Data: issue})
}

// Close records issue as closed and emits EventClosed.
func (m *Memory) Close(issue model.Issue) {
	issue.Closed = true
	m.mu.Lock()
	delete(m.open, issue.Number)
	m.closed[issue.Number] = issue
	m.mu.Unlock()
	m.bus.Publish(eventbus.Event{Type: busEvent(EventClosed), Data: issue})
}

func (m *Memory) Issues(ctx context.Context) ([]model.Issue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedIssues(m.open), nil
}

func (m *Memory) ClosedIssues(ctx context.Context) ([]model.Issue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedIssues(m.closed), nil
}
