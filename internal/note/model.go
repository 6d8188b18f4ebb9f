// Package note is a small domain type wired through the auditing engine end
// to end: its service performs live mutations and its lifecycle hooks hand
// field-level diffs to the audit recorder. It doubles as the fixture type for
// integration-style tests.
package note

import (
	"time"

	"github.com/ledgerline/recordtrail/internal/registry"
)

// TypeTag is the stored type name for notes.
const TypeTag = "note"

// Note is an audited domain record.
type Note struct {
	ID     string
	Title  string
	Body   string
	Status string

	// AuditVersion holds the synthetic version number after reconstruction.
	// It is not a physical attribute and is assigned via AssignAttribute.
	AuditVersion int

	CreatedAt time.Time
	UpdatedAt time.Time

	persisted bool
	frozen    bool
}

// attributeNames are the physical attributes exposed to the auditing engine.
var attributeNames = []string{"id", "title", "body", "status"}

// AuditID returns the note's id.
func (n *Note) AuditID() string { return n.ID }

// SetAuditID assigns the note's id.
func (n *Note) SetAuditID(id string) { n.ID = id }

// AttributeNames lists the physical attributes.
func (n *Note) AttributeNames() []string {
	names := make([]string, len(attributeNames))
	copy(names, attributeNames)
	return names
}

// Attribute reads one physical attribute by name.
func (n *Note) Attribute(name string) (any, bool) {
	switch name {
	case "id":
		return n.ID, true
	case "title":
		return n.Title, true
	case "body":
		return n.Body, true
	case "status":
		return n.Status, true
	}
	return nil, false
}

// SetAttribute writes one physical attribute directly, bypassing validation.
// Returns false for names that are not physical attributes.
func (n *Note) SetAttribute(name string, value any) bool {
	s, isString := value.(string)
	switch name {
	case "id":
		if isString {
			n.ID = s
		}
	case "title":
		if isString {
			n.Title = s
		}
	case "body":
		if isString {
			n.Body = s
		}
	case "status":
		if isString {
			n.Status = s
		}
	default:
		return false
	}
	return true
}

// AssignAttribute is the conventional-setter fallback for non-physical
// fields. It accepts the synthetic audit_version (as int, or float64 after a
// JSON round trip) and rejects everything else.
func (n *Note) AssignAttribute(name string, value any) bool {
	if name != "audit_version" {
		return false
	}
	switch v := value.(type) {
	case int:
		n.AuditVersion = v
	case int64:
		n.AuditVersion = int(v)
	case float64:
		n.AuditVersion = int(v)
	default:
		return false
	}
	return true
}

// ReconstructedVersion returns the audit version assigned during
// reconstruction, 0 on live instances.
func (n *Note) ReconstructedVersion() int { return n.AuditVersion }

// Persisted reports whether the note is backed by live storage.
func (n *Note) Persisted() bool { return n.persisted }

// Frozen reports whether in-place mutation is forbidden.
func (n *Note) Frozen() bool { return n.frozen }

// Freeze marks the note immutable; reconstruction will clone it instead of
// writing through.
func (n *Note) Freeze() { n.frozen = true }

// Clone returns a mutable copy.
func (n *Note) Clone() registry.Auditable {
	copied := *n
	copied.frozen = false
	return &copied
}

// Snapshot returns the note's physical attributes as a map, the form the
// lifecycle hooks diff and record.
func (n *Note) Snapshot() map[string]any {
	return map[string]any{
		"id":     n.ID,
		"title":  n.Title,
		"body":   n.Body,
		"status": n.Status,
	}
}

// markPersisted is set by stores once the note is live.
func (n *Note) markPersisted() { n.persisted = true }
