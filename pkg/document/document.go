// Package document declares the contracts the engine consumes from the
// editing application's object graph. The engine never depends on rendering;
// it only needs to apply events and their inverses, resolve objects by id and
// read the live selection.
package document

import (
	"encoding/json"

	"github.com/wilhg/atelier/pkg/event"
)

// Object is a read view of one node in the document graph.
type Object interface {
	ID() string
	Type() string
	// Get reads a property at a gjson path. ok is false when the path is unset.
	Get(path string) (value json.RawMessage, ok bool)
}

// Document is the mutable object graph being edited. Implementations must be
// safe for concurrent readers; a single execution context holds commit intent
// at a time.
type Document interface {
	ID() string
	// ApplyEvent applies every delta of the event to the live graph.
	ApplyEvent(ev event.Event) error
	// ApplyInverse undoes the event's effect. Equivalent to applying
	// ev.Inverse() and fails for irreversible events.
	ApplyInverse(ev event.Event) error
	GetObject(id string) (Object, bool)
	// ObjectsByType lists objects of a type in stable insertion order.
	ObjectsByType(typ string) []Object
	// Selection returns the currently selected objects in selection order.
	Selection() []Object
	// SetSelection replaces the selection; unknown ids are dropped.
	SetSelection(ids []string)
}
