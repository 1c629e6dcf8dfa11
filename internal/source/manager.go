package source

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"

	"boardbot/internal/board"
	"boardbot/internal/config"
	"boardbot/internal/metrics"
	logx "boardbot/pkg/logx"
)

// SourceLoadError reports a source entry that could not be loaded.
type SourceLoadError struct {
	Index          int
	Type           string
	MissingConfig  []string
	MissingColumns []string
	Err            error
}

func (e *SourceLoadError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "sources[%d] (%s): ", e.Index, e.Type)
	switch {
	case len(e.MissingConfig) > 0:
		b.WriteString("missing config keys: " + strings.Join(e.MissingConfig, ", "))
	case len(e.MissingColumns) > 0:
		b.WriteString("missing columns: " + strings.Join(e.MissingColumns, ", "))
	case e.Err != nil:
		b.WriteString(e.Err.Error())
	default:
		b.WriteString("invalid")
	}
	return b.String()
}

func (e *SourceLoadError) Unwrap() error { return e.Err }

// Manager owns the loaded sources and the managed column set.
type Manager struct {
	board board.Board
	log   logx.Logger

	sources []Source

	mu       sync.RWMutex
	managed  []string
	claimers map[string]string // column name -> source type
}

// NewManager builds every entry in order. The first invalid entry aborts with
// a *SourceLoadError; sources built before it are returned to nobody and must
// not have been started.
func NewManager(ctx context.Context, cfgs []config.SourceConfig, reg *Registry, deps Deps) (*Manager, error) {
	m := &Manager{
		board:    deps.Board,
		log:      deps.Log.With(logx.String("comp", "sources")),
		claimers: map[string]string{},
	}
	deps.Managed = m.ManagedColumns

	for i, cfg := range cfgs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		src, err := m.load(i, cfg, reg, deps)
		if err != nil {
			metrics.IncSourceLoadError(normType(cfg.Type))
			return nil, err
		}
		m.sources = append(m.sources, src)
	}
	m.log.Info("sources loaded", logx.Int("count", len(m.sources)), logx.Strings("managed", m.ManagedColumnNames()))
	return m, nil
}

func (m *Manager) load(i int, cfg config.SourceConfig, reg *Registry, deps Deps) (src Source, err error) {
	desc, err := reg.Lookup(cfg.Type)
	if err != nil {
		return nil, &SourceLoadError{Index: i, Type: cfg.Type, Err: err}
	}
	if missing := missingConfig(desc, cfg); len(missing) > 0 {
		return nil, &SourceLoadError{Index: i, Type: desc.Type, MissingConfig: missing}
	}
	if missing := missingColumns(desc, cfg); len(missing) > 0 {
		return nil, &SourceLoadError{Index: i, Type: desc.Type, MissingColumns: missing}
	}

	cfg.Type = desc.Type
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in source constructor", logx.String("type", desc.Type), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			src, err = nil, &SourceLoadError{Index: i, Type: desc.Type, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	src, err = desc.New(deps, cfg)
	if err != nil {
		return nil, &SourceLoadError{Index: i, Type: desc.Type, Err: err}
	}
	m.claim(desc, cfg)
	return src, nil
}

func missingConfig(d Descriptor, cfg config.SourceConfig) []string {
	var out []string
	for _, k := range d.RequiredConfig {
		if !cfg.Has(k) {
			out = append(out, k)
		}
	}
	return out
}

func missingColumns(d Descriptor, cfg config.SourceConfig) []string {
	var out []string
	for _, role := range d.RequiredColumns {
		if _, ok := cfg.Columns[role]; !ok {
			out = append(out, role)
		}
	}
	return out
}

func (m *Manager) claim(d Descriptor, cfg config.SourceConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, role := range d.ManagedColumns {
		name, ok := cfg.Columns[role]
		if !ok {
			continue
		}
		if prev, taken := m.claimers[name]; taken {
			m.log.Warn("column managed by more than one source", logx.String("column", name), logx.String("first", prev), logx.String("second", d.Type))
			continue
		}
		m.claimers[name] = d.Type
		m.managed = append(m.managed, name)
	}
}

// ManagedColumnNames returns the managed column names in claim order.
func (m *Manager) ManagedColumnNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.managed...)
}

// ManagedColumns resolves the managed names to live columns. Names missing
// from the board are skipped.
func (m *Manager) ManagedColumns(ctx context.Context) ([]board.Column, error) {
	if err := board.WaitReady(ctx, m.board); err != nil {
		return nil, err
	}
	ids, err := m.board.ColumnIDs(ctx)
	if err != nil {
		return nil, err
	}
	names := m.ManagedColumnNames()
	out := make([]board.Column, 0, len(names))
	for _, name := range names {
		id, ok := ids[name]
		if !ok {
			m.log.Debug("managed column not on board", logx.String("column", name))
			continue
		}
		col, err := m.board.Column(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, col)
	}
	return out, nil
}

func (m *Manager) Sources() []Source { return append([]Source(nil), m.sources...) }

// Start starts sources in order. On failure the already started ones are stopped.
func (m *Manager) Start(ctx context.Context) error {
	for i, s := range m.sources {
		if err := m.safeCall("start."+s.Type(), func() error { return s.Start(ctx) }); err != nil {
			for j := i - 1; j >= 0; j-- {
				started := m.sources[j]
				if serr := m.safeCall("stop."+started.Type(), func() error { return started.Stop(ctx) }); serr != nil {
					m.log.Warn("source stop failed", logx.String("type", started.Type()), logx.Err(serr))
				}
			}
			return fmt.Errorf("start source %s: %w", s.Type(), err)
		}
	}
	return nil
}

// Stop stops sources in reverse order.
func (m *Manager) Stop(ctx context.Context) error {
	var errs []error
	for i := len(m.sources) - 1; i >= 0; i-- {
		s := m.sources[i]
		if err := m.safeCall("stop."+s.Type(), func() error { return s.Stop(ctx) }); err != nil {
			errs = append(errs, fmt.Errorf("stop source %s: %w", s.Type(), err))
		}
	}
	return errors.Join(errs...)
}

// Cycle runs every Cycler. A failing source does not stop the others.
func (m *Manager) Cycle(ctx context.Context) error {
	var errs []error
	for _, s := range m.sources {
		c, ok := s.(Cycler)
		if !ok {
			continue
		}
		if err := m.safeCall("cycle."+s.Type(), func() error { return c.Cycle(ctx) }); err != nil {
			m.log.Warn("source cycle failed", logx.String("type", s.Type()), logx.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", s.Type(), err))
		}
	}
	return errors.Join(errs...)
}

// TypeNames lists loaded source types in load order.
func (m *Manager) TypeNames() []string {
	out := make([]string, 0, len(m.sources))
	for _, s := range m.sources {
		out = append(out, s.Type())
	}
	return out
}

// ClaimedBy returns the source type managing column name.
func (m *Manager) ClaimedBy(name string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.claimers[name]
	return t, ok
}

func (m *Manager) safeCall(label string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in source call",
				logx.String("call", label),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("panic in %s: %v", label, r)
		}
	}()
	return fn()
}
