// Package audit owns the change record: the persisted, immutable entity
// describing one audited create/update/destroy event, plus version
// sequencing and the repository interfaces used to persist and query records.
package audit

import (
	"strings"
	"time"

	"github.com/ledgerline/recordtrail/internal/attribution"
)

// Action is the lifecycle event kind a change record describes.
type Action string

const (
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionDestroy Action = "destroy"
)

// Valid reports whether the action is one of the three lifecycle kinds.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDestroy:
		return true
	}
	return false
}

// Identity names an audited entity independent of its field contents.
type Identity struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// String renders the identity as type/id for logs and lock keys.
func (i Identity) String() string {
	return i.Type + "/" + i.ID
}

// ChangeRecord is one audit entry. All fields are immutable once the record
// has been persisted; reconstruction and undo are pure reads over them.
type ChangeRecord struct {
	ID            string
	Auditable     Identity
	Associated    *Identity
	Actor         attribution.Actor
	Action        Action
	Changes       Changes
	Version       int
	Comment       string
	RemoteAddress string
	RequestID     string
	CreatedAt     time.Time
}

// Attributes is a field→value mapping extracted from a change record.
// Lookup is case-insensitive so callers can use whichever key spelling the
// diff producer happened to emit.
type Attributes map[string]any

// Get returns the value for key, matching case-insensitively when no exact
// key exists.
func (a Attributes) Get(key string) (any, bool) {
	if v, ok := a[key]; ok {
		return v, true
	}
	for k, v := range a {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

// NewAttributes extracts the post-change value per field. For updates that is
// the second element of each [old, new] pair; for create and destroy the
// changes already map each field to a single value and are returned as-is.
func (r *ChangeRecord) NewAttributes() Attributes {
	return r.Changes.extract(r.Action, 1)
}

// OldAttributes extracts the pre-change value per field for updates (first
// pair element). For create and destroy it returns the changes unchanged,
// mirroring NewAttributes: there is no prior state to extract for those
// actions, and the asymmetry is kept deliberately.
func (r *ChangeRecord) OldAttributes() Attributes {
	return r.Changes.extract(r.Action, 0)
}
