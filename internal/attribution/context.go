package attribution

import (
	"context"
)

// actorKey is the context key for the current actor override.
type actorKey struct{}

// With returns a context carrying actor as the innermost attribution override.
// Earlier overrides on parent contexts remain visible once the derived context
// goes out of scope, which is what gives RunAs its stack discipline.
func With(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// Current returns the innermost attribution override on ctx. The second
// return is false when no override is active.
func Current(ctx context.Context) (Actor, bool) {
	if actor, ok := ctx.Value(actorKey{}).(Actor); ok {
		return actor, true
	}
	return Actor{}, false
}

// RunAs runs fn with actor installed as the current attribution and yields
// fn's result. The override is visible only within fn's dynamic extent: fn
// receives a derived context, so the caller's context is untouched no matter
// how fn exits, including error returns and panics. Nested RunAs calls shadow
// the outer actor for their own extent only. Goroutines started with other
// contexts never observe the override.
func RunAs[T any](ctx context.Context, actor Actor, fn func(context.Context) (T, error)) (T, error) {
	return fn(With(ctx, actor))
}

// Provider supplies the ambient notion of "current user" when no explicit
// override is active, typically wired to the host's session lookup.
type Provider func() Actor

// Resolver resolves the actor to credit: innermost context override first,
// then the ambient provider, then absent.
type Resolver struct {
	provider Provider
}

// NewResolver builds a Resolver. provider may be nil.
func NewResolver(provider Provider) *Resolver {
	return &Resolver{provider: provider}
}

// Resolve returns the actor for ctx per the precedence above.
func (r *Resolver) Resolve(ctx context.Context) Actor {
	if actor, ok := Current(ctx); ok {
		return actor
	}
	if r != nil && r.provider != nil {
		return r.provider()
	}
	return Actor{}
}
