// Package attribution answers "who is acting right now" for change record
// creation. Overrides are carried on the context, so nesting, restoration on
// error, and isolation between goroutines follow from context immutability
// rather than from a shared mutable cell.
package attribution

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates the possible actor representations.
type Kind string

const (
	// KindAbsent means no actor was resolved for the event.
	KindAbsent Kind = ""
	// KindRef points at a durable record (type tag + id).
	KindRef Kind = "ref"
	// KindSnapshot carries inline attributes for an actor with no durable identity.
	KindSnapshot Kind = "snapshot"
	// KindName is a bare display-name string.
	KindName Kind = "name"
)

// Actor identifies who is credited with a change. Exactly one representation
// is populated; the zero value means absent.
type Actor struct {
	Kind       Kind           `json:"kind,omitempty"`
	Type       string         `json:"type,omitempty"`
	ID         string         `json:"id,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Display    string         `json:"display,omitempty"`
}

// Ref builds an actor referencing a durable record.
func Ref(typeTag, id string) Actor {
	return Actor{Kind: KindRef, Type: typeTag, ID: id}
}

// Snapshot builds an actor from inline attributes, for actors that have no
// durable identity to reference.
func Snapshot(attrs map[string]any) Actor {
	copied := make(map[string]any, len(attrs))
	for k, v := range attrs {
		copied[k] = v
	}
	return Actor{Kind: KindSnapshot, Attributes: copied}
}

// Name builds a display-name actor.
func Name(display string) Actor {
	return Actor{Kind: KindName, Display: display}
}

// IsAbsent reports whether no actor is set.
func (a Actor) IsAbsent() bool {
	return a.Kind == KindAbsent
}

// String renders a short human-readable form for logs.
func (a Actor) String() string {
	switch a.Kind {
	case KindRef:
		return fmt.Sprintf("%s/%s", a.Type, a.ID)
	case KindSnapshot:
		return "snapshot"
	case KindName:
		return a.Display
	default:
		return "<absent>"
	}
}

// MarshalJSON renders absent actors as JSON null so the stored column stays
// NULL rather than an empty object.
func (a Actor) MarshalJSON() ([]byte, error) {
	if a.IsAbsent() {
		return []byte("null"), nil
	}
	type alias Actor
	return json.Marshal(alias(a))
}

// UnmarshalJSON accepts null as the absent actor.
func (a *Actor) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*a = Actor{}
		return nil
	}
	type alias Actor
	var decoded alias
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*a = Actor(decoded)
	return nil
}
