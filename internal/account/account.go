// Package account holds the outbound accounts cards are published through.
package account

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"boardbot/internal/board"
	"boardbot/internal/config"
	logx "boardbot/pkg/logx"
)

var ErrNotFound = errors.New("account: not found")

// Account publishes a card and returns a reference to the published post
// (usually a permalink).
type Account interface {
	Platform() string
	Name() string
	Publish(ctx context.Context, card board.Card) (ref string, err error)
}

// Manager indexes accounts by platform and name.
type Manager struct {
	mu       sync.RWMutex
	accounts map[string]Account
}

func NewManager() *Manager {
	return &Manager{accounts: map[string]Account{}}
}

func key(platform, name string) string {
	return strings.ToLower(strings.TrimSpace(platform)) + "/" + strings.TrimSpace(name)
}

func (m *Manager) Add(a Account) error {
	k := key(a.Platform(), a.Name())
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.accounts[k]; dup {
		return fmt.Errorf("account: duplicate %s", k)
	}
	m.accounts[k] = a
	return nil
}

// Get returns the account registered under platform and name.
func (m *Manager) Get(platform, name string) (Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[key(platform, name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key(platform, name))
	}
	return a, nil
}

// Names lists "platform/name" for every account, sorted.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.accounts))
	for k := range m.accounts {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Build creates every configured account.
func Build(cfgs []config.AccountConfig, log logx.Logger) (*Manager, error) {
	m := NewManager()
	for i, c := range cfgs {
		var (
			a   Account
			err error
		)
		alog := log.With(logx.String("account", key(c.Platform, c.Name)))
		switch strings.ToLower(strings.TrimSpace(c.Platform)) {
		case "log", "":
			a = NewLog(c.Name, alog)
		case "telegram":
			a, err = NewTelegram(c, alog)
		default:
			err = fmt.Errorf("unknown platform %q", c.Platform)
		}
		if err != nil {
			return nil, fmt.Errorf("accounts[%d]: %w", i, err)
		}
		if err := m.Add(a); err != nil {
			return nil, fmt.Errorf("accounts[%d]: %w", i, err)
		}
	}
	return m, nil
}
