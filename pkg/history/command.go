package history

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wilhg/atelier/pkg/document"
	"github.com/wilhg/atelier/pkg/event"
)

// Command is a simple undoable unit outside tool chains: direct manipulation
// gestures (drags, nudges) that never pass through an execution context.
type Command interface {
	// Do applies the command's forward operation.
	Do(doc document.Document) error
	// Undo reverses the command.
	Undo(doc document.Document) error
	// Describe returns a human-readable description for history UIs.
	Describe() string
	// Merge tries to absorb next into the receiver, returning the merged
	// command. Merging keeps the receiver's previous value and next's new
	// value so the inverse stays correct. ok is false when the commands are
	// not mergeable (different kind or target).
	Merge(next Command) (merged Command, ok bool)
}

// SetProperty is a Command that changes one property on one object. Two
// consecutive SetProperty commands on the same object and path merge, so a
// continuous slider drag collapses into one undo step.
type SetProperty struct {
	ID        string
	Timestamp time.Time
	ObjectID  string
	Path      string
	Old       json.RawMessage
	New       json.RawMessage
}

// NewSetProperty builds a SetProperty command, marshaling both values.
func NewSetProperty(objectID, path string, oldVal, newVal any) (*SetProperty, error) {
	delta, err := event.SetProperty(objectID, path, oldVal, newVal)
	if err != nil {
		return nil, err
	}
	return &SetProperty{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		ObjectID:  objectID,
		Path:      path,
		Old:       delta.Old,
		New:       delta.New,
	}, nil
}

func (c *SetProperty) delta() event.Delta {
	return event.Delta{ObjectID: c.ObjectID, Path: c.Path, Old: c.Old, New: c.New}
}

func (c *SetProperty) Do(doc document.Document) error {
	return doc.ApplyEvent(event.New("command.set", c.delta()))
}

func (c *SetProperty) Undo(doc document.Document) error {
	return doc.ApplyEvent(event.New("command.set", c.delta().Invert()))
}

func (c *SetProperty) Describe() string {
	return fmt.Sprintf("Set %s on %s", c.Path, c.ObjectID)
}

func (c *SetProperty) Merge(next Command) (Command, bool) {
	n, ok := next.(*SetProperty)
	if !ok || n.ObjectID != c.ObjectID || n.Path != c.Path {
		return nil, false
	}
	return &SetProperty{
		ID:        c.ID,
		Timestamp: n.Timestamp,
		ObjectID:  c.ObjectID,
		Path:      c.Path,
		Old:       c.Old, // first command's previous value
		New:       n.New, // last command's new value
	}, true
}
