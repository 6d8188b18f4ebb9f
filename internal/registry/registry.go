// Package registry maps stored type tags back to live auditable types. A
// stored change record carries only a (type, id) pair; the registry supplies
// the factory and live-storage capabilities needed to reconstruct or undo
// against that type. It is an owned instance injected into components, not
// ambient global state.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrNotFound is returned by live stores when no record exists for an id.
	ErrNotFound = errors.New("record not found")
	// ErrUnknownType is returned when a type tag has not been registered.
	ErrUnknownType = errors.New("type tag not registered")
	// ErrDuplicateTag is returned when a tag is registered twice.
	ErrDuplicateTag = errors.New("type tag already registered")
)

// Auditable is the capability surface a domain type exposes to the auditing
// engine. SetAttribute is the direct slot write used during reconstruction;
// it reports false for fields the type does not recognize, which callers
// treat as a silent skip, not an error.
type Auditable interface {
	// AuditID returns the record's id within its type.
	AuditID() string
	// SetAuditID assigns the id, used when recreating a destroyed record.
	SetAuditID(id string)
	// AttributeNames lists the physical attributes of the type.
	AttributeNames() []string
	// Attribute reads one attribute by name.
	Attribute(name string) (any, bool)
	// SetAttribute writes one attribute directly, bypassing any domain
	// validation. Returns false when the name is not a physical attribute.
	SetAttribute(name string, value any) bool
	// Persisted reports whether the instance is backed by live storage.
	Persisted() bool
	// Frozen reports whether the instance must not be mutated in place.
	Frozen() bool
	// Clone returns a mutable deep copy.
	Clone() Auditable
}

// AttributeAssigner is an optional fallback for fields that are not physical
// attributes: a conventional setter the type routes unknown names through.
// Types that do not implement it simply have such fields skipped.
type AttributeAssigner interface {
	AssignAttribute(name string, value any) bool
}

// LiveStore is the live-storage boundary for one auditable type. Undo and
// reconstruction go through it; failures propagate to the caller unchanged.
type LiveStore interface {
	Find(ctx context.Context, id string) (Auditable, error)
	Create(ctx context.Context, rec Auditable) error
	Update(ctx context.Context, rec Auditable) error
	Delete(ctx context.Context, id string) error
}

// Entry binds a type tag to its factory and live store.
type Entry struct {
	// Tag is the stored type name, e.g. "note".
	Tag string
	// New constructs a fresh, not-yet-persisted instance.
	New func() Auditable
	// Store accesses live records of the type.
	Store LiveStore
}

// Registry is the process-wide set of audited types. Insertion is
// thread-safe; lookups are lock-free reads under RWMutex.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register adds a type. Registering the same tag twice is a wiring bug and
// fails loudly.
func (r *Registry) Register(e Entry) error {
	if e.Tag == "" || e.New == nil {
		return fmt.Errorf("registry entry requires tag and factory")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[e.Tag]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTag, e.Tag)
	}
	r.entries[e.Tag] = e
	return nil
}

// Lookup resolves a type tag.
func (r *Registry) Lookup(tag string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[tag]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrUnknownType, tag)
	}
	return e, nil
}

// Types enumerates the registered type tags, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.entries))
	for tag := range r.entries {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
