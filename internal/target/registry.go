package target

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// ErrNotFound is returned when no target has the requested code
var ErrNotFound = errors.New("target not found")

// Store is the read interface the engine uses. Returned targets are private
// copies; mutating them never affects other readers.
type Store interface {
	Target(code string) (*Target, error)
	Targets() []*Target
}

type snapshot struct {
	targets map[string]*Target
}

// Registry is a read-optimized store of loaded targets. Reads are lock-free
// through an atomic snapshot pointer; writers copy the snapshot.
type Registry struct {
	mu   sync.Mutex // serializes writers
	snap atomic.Pointer[snapshot]
}

// NewRegistry creates a Registry holding the given targets
func NewRegistry(targets []*Target) (*Registry, error) {
	r := &Registry{}
	if err := r.Replace(targets); err != nil {
		return nil, err
	}
	return r, nil
}

// Replace atomically swaps the registry contents
func (r *Registry) Replace(targets []*Target) error {
	s := &snapshot{targets: make(map[string]*Target, len(targets))}
	for _, t := range targets {
		if _, dup := s.targets[t.Code]; dup {
			return fmt.Errorf("duplicate target code %q", t.Code)
		}
		s.targets[t.Code] = t.Clone()
	}
	r.mu.Lock()
	r.snap.Store(s)
	r.mu.Unlock()
	return nil
}

// Target returns a copy of the target with the given code
func (r *Registry) Target(code string) (*Target, error) {
	s := r.snap.Load()
	t, ok := s.targets[code]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, code)
	}
	return t.Clone(), nil
}

// Targets returns copies of all targets ordered by code
func (r *Registry) Targets() []*Target {
	s := r.snap.Load()
	out := make([]*Target, 0, len(s.targets))
	for _, t := range s.targets {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Put validates and adds or replaces one target
func (r *Registry) Put(t *Target) error {
	if err := Validate(t); err != nil {
		return err
	}
	r.update(func(m map[string]*Target) { m[t.Code] = t.Clone() })
	return nil
}

// Remove deletes a target together with everything it owns
func (r *Registry) Remove(code string) bool {
	removed := false
	r.update(func(m map[string]*Target) {
		if _, ok := m[code]; ok {
			delete(m, code)
			removed = true
		}
	})
	return removed
}

// MarkTested records when a connection test last ran against a target
func (r *Registry) MarkTested(code string, at time.Time) {
	r.update(func(m map[string]*Target) {
		if t, ok := m[code]; ok {
			c := t.Clone()
			c.LastTestedAt = &at
			m[code] = c
		}
	})
}

func (r *Registry) update(fn func(map[string]*Target)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.snap.Load()
	next := &snapshot{targets: make(map[string]*Target, len(old.targets))}
	for k, v := range old.targets {
		next.targets[k] = v
	}
	fn(next.targets)
	r.snap.Store(next)
}
