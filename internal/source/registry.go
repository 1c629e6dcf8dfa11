package source

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"boardbot/internal/config"
)

var (
	ErrUnknownType = errors.New("unknown source type")
	ErrNotBuilt    = errors.New("source type not built into this binary")
	ErrDenied      = errors.New("not a source type")
)

// KnownTypes is the closed set of source type names.
var KnownTypes = []string{"issues", "mentions", "publish", "events", "feed", "squad", "reminder", "discourse", "validator"}

// deniedTypes name parts of the source machinery, never a handler.
var deniedTypes = []string{"base", "manager", "source"}

// Descriptor declares a source type.
type Descriptor struct {
	Type string
	// RequiredConfig keys must be present in the entry. "columns" is always required.
	RequiredConfig []string
	// RequiredColumns roles must be present in the entry's columns mapping.
	RequiredColumns []string
	// ManagedColumns roles are claimed exclusively by this source.
	ManagedColumns []string
	New            func(deps Deps, cfg config.SourceConfig) (Source, error)
}

func (d Descriptor) normalize() Descriptor {
	d.Type = normType(d.Type)
	if !slices.Contains(d.RequiredConfig, "columns") {
		d.RequiredConfig = append([]string{"columns"}, d.RequiredConfig...)
	}
	return d
}

func normType(t string) string { return strings.ToLower(strings.TrimSpace(t)) }

// Registry maps type names to descriptors.
type Registry struct {
	mu    sync.RWMutex
	descs map[string]Descriptor
}

func NewRegistry() *Registry {
	return &Registry{descs: map[string]Descriptor{}}
}

func (r *Registry) Register(d Descriptor) error {
	d = d.normalize()
	if err := checkType(d.Type); err != nil {
		return err
	}
	if d.New == nil {
		return fmt.Errorf("source %s: constructor required", d.Type)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.descs[d.Type]; dup {
		return fmt.Errorf("source %s: already registered", d.Type)
	}
	r.descs[d.Type] = d
	return nil
}

func (r *Registry) MustRegister(ds ...Descriptor) *Registry {
	for _, d := range ds {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
	return r
}

// Lookup returns the descriptor registered for t.
func (r *Registry) Lookup(t string) (Descriptor, error) {
	t = normType(t)
	if err := checkType(t); err != nil {
		return Descriptor{}, err
	}
	r.mu.RLock()
	d, ok := r.descs[t]
	r.mu.RUnlock()
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrNotBuilt, t)
	}
	return d, nil
}

// Types lists the registered type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.descs))
	for t := range r.descs {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func checkType(t string) error {
	if slices.Contains(deniedTypes, t) {
		return fmt.Errorf("%w: %q", ErrDenied, t)
	}
	if !slices.Contains(KnownTypes, t) {
		return fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	return nil
}
