// Package registry keeps provisioned test entities under scenario-chosen aliases,
// so independent steps can pass backend identifiers to each other.
// The registry is a best-effort cache: it never evicts on its own and has no
// invalidation channel, callers revalidate through Ensure.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrIdentifierChanged is returned by Update when the mutation touched the entity id.
var ErrIdentifierChanged = errors.New("entity identifier is immutable")

// MissingError reports an alias that was referenced but never registered.
type MissingError struct {
	Kind       Kind
	Alias      string
	Registered string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("no %s registered under alias %q, %s", e.Kind, e.Alias, e.Registered)
}

// Registry maps aliases to entities per kind, plus version snapshots keyed by version id.
type Registry struct {
	mu        sync.RWMutex
	entities  map[Kind]map[string]Entity
	snapshots map[int]VersionSnapshot
}

var (
	sharedOnce sync.Once
	shared     *Registry
)

// New makes an empty registry.
func New() *Registry {
	return &Registry{
		entities:  map[Kind]map[string]Entity{},
		snapshots: map[int]VersionSnapshot{},
	}
}

// Shared returns the process-wide registry, for suites that opt into cross-scenario reuse.
func Shared() *Registry {
	sharedOnce.Do(func() { shared = New() })
	return shared
}

// Reset drops all entities and snapshots.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entities = map[Kind]map[string]Entity{}
	r.snapshots = map[int]VersionSnapshot{}
}

// Save stores e under alias within its kind, replacing any previous entry.
func (r *Registry) Save(alias string, e Entity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saveLocked(alias, e)
}

func (r *Registry) saveLocked(alias string, e Entity) {
	byAlias, ok := r.entities[e.Kind()]
	if !ok {
		byAlias = map[string]Entity{}
		r.entities[e.Kind()] = byAlias
	}
	byAlias[alias] = e
}

// Get returns the entity stored under alias, ok is false on a miss.
func (r *Registry) Get(kind Kind, alias string) (Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[kind][alias]
	return e, ok
}

// Has reports whether alias is registered for kind.
func (r *Registry) Has(kind Kind, alias string) bool {
	_, ok := r.Get(kind, alias)
	return ok
}

// Discard removes alias from kind. Removing an unknown alias is a no-op.
func (r *Registry) Discard(kind Kind, alias string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entities[kind], alias)
}

// Aliases returns the sorted aliases registered for kind.
func (r *Registry) Aliases(kind Kind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]string, 0, len(r.entities[kind]))
	for alias := range r.entities[kind] {
		res = append(res, alias)
	}
	sort.Strings(res)
	return res
}

// SaveSnapshot stores s under its version id, replacing any previous snapshot.
func (r *Registry) SaveSnapshot(s VersionSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots[s.VersionID] = s
}

// Snapshot returns the snapshot captured for versionID.
func (r *Registry) Snapshot(versionID int) (VersionSnapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.snapshots[versionID]
	return s, ok
}

// DebugInfo summarizes registered kinds with their aliases, for failure messages.
func (r *Registry) DebugInfo() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.debugInfoLocked()
}

func (r *Registry) debugInfoLocked() string {
	kinds := make([]string, 0, len(r.entities))
	for k, byAlias := range r.entities {
		if len(byAlias) > 0 {
			kinds = append(kinds, string(k))
		}
	}
	sort.Strings(kinds)

	parts := make([]string, 0, len(kinds)+1)
	for _, k := range kinds {
		byAlias := r.entities[Kind(k)]
		aliases := make([]string, 0, len(byAlias))
		for alias, e := range byAlias {
			aliases = append(aliases, fmt.Sprintf("%s=#%d", alias, e.EntityID()))
		}
		sort.Strings(aliases)
		parts = append(parts, fmt.Sprintf("%s(%d): %s", k, len(byAlias), strings.Join(aliases, ", ")))
	}

	if len(r.snapshots) > 0 {
		ids := make([]int, 0, len(r.snapshots))
		for id := range r.snapshots {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		parts = append(parts, fmt.Sprintf("snapshots: %v", ids))
	}

	if len(parts) == 0 {
		return "registry is empty"
	}
	return "registered " + strings.Join(parts, "; ")
}

// Lookup returns the entity of type T stored under alias.
// A stored entity of another variant is reported as a miss.
func Lookup[T Entity](r *Registry, alias string) (T, bool) {
	var zero T
	e, ok := r.Get(zero.Kind(), alias)
	if !ok {
		return zero, false
	}
	v, ok := e.(T)
	return v, ok
}

// Require is Lookup for hard preconditions, a miss becomes *MissingError.
func Require[T Entity](r *Registry, alias string) (T, error) {
	v, ok := Lookup[T](r, alias)
	if !ok {
		return v, &MissingError{Kind: v.Kind(), Alias: alias, Registered: r.DebugInfo()}
	}
	return v, nil
}

// Update applies fn to a copy of the entity under alias and stores the result.
// Only names and linkage fields may change, an id change is rejected and nothing is stored.
func Update[T Entity](r *Registry, alias string, fn func(*T)) error {
	var zero T
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entities[zero.Kind()][alias]
	cur, isT := e.(T)
	if !ok || !isT {
		return &MissingError{Kind: zero.Kind(), Alias: alias, Registered: r.debugInfoLocked()}
	}

	next := cur
	fn(&next)
	if next.EntityID() != cur.EntityID() {
		return fmt.Errorf("update %s %q: %w (%d -> %d)", zero.Kind(), alias, ErrIdentifierChanged,
			cur.EntityID(), next.EntityID())
	}
	r.saveLocked(alias, next)
	return nil
}
