// Package event defines the immutable change records the engine is built on.
// An Event captures one document mutation as a list of plain previous/new
// value deltas. Payloads never carry rendering-engine handles, so events stay
// backend-independent and replayable.
package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/wilhg/atelier/pkg/errmodel"
)

// Actor identifies the originator of an operation.
type Actor string

const (
	ActorUser   Actor = "user"
	ActorAI     Actor = "ai"
	ActorSystem Actor = "system"
)

// PathObject is the delta path that addresses a whole object rather than a
// single property. Old/New then hold the full object JSON (see ObjectState),
// which makes creation and deletion invertible like any property change.
const PathObject = "@object"

// Delta records one previous-value/new-value change on an object property.
// Path uses gjson path syntax (e.g. "adjustments.brightness").
type Delta struct {
	ObjectID string          `json:"object_id"`
	Path     string          `json:"path"`
	Old      json.RawMessage `json:"old,omitempty"`
	New      json.RawMessage `json:"new,omitempty"`
}

// Invert swaps the delta's previous and new values.
func (d Delta) Invert() Delta {
	return Delta{ObjectID: d.ObjectID, Path: d.Path, Old: d.New, New: d.Old}
}

// ObjectState is the full-object JSON carried by PathObject deltas.
type ObjectState struct {
	Type  string          `json:"type"`
	Props json.RawMessage `json:"props"`
}

// Event is an immutable record of one document change. Seq is zero until the
// store assigns it at commit; a stored event is never mutated again.
type Event struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	DocumentID    string    `json:"document_id"`
	WorkflowID    string    `json:"workflow_id,omitempty"`
	Seq           int64     `json:"seq"`
	Timestamp     time.Time `json:"timestamp"`
	Actor         Actor     `json:"actor"`
	Deltas        []Delta   `json:"deltas,omitempty"`
	Reversible    bool      `json:"reversible"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// New creates a reversible event of the given type. Document, workflow and
// actor fields are stamped by the execution context on emit.
func New(typ string, deltas ...Delta) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       typ,
		Timestamp:  time.Now().UTC(),
		Deltas:     deltas,
		Reversible: true,
	}
}

// Irreversible marks the event as having no computable inverse and returns it.
// An irreversible event makes any history entry containing it non-undoable.
func (e Event) Irreversible() Event {
	e.Reversible = false
	return e
}

// Inverse returns the event that undoes this one: deltas are swapped and
// applied in reverse order. The inverse is unsequenced; it is applied to
// documents directly and never stored.
func (e Event) Inverse() (Event, error) {
	if !e.Reversible {
		return Event{}, errmodel.History(errmodel.CodeIrreversible, "event has no inverse", map[string]any{
			"event_id": e.ID,
			"type":     e.Type,
		})
	}
	inv := Event{
		ID:            uuid.NewString(),
		Type:          e.Type,
		DocumentID:    e.DocumentID,
		WorkflowID:    e.WorkflowID,
		Timestamp:     time.Now().UTC(),
		Actor:         e.Actor,
		Reversible:    true,
		CorrelationID: e.CorrelationID,
	}
	inv.Deltas = make([]Delta, len(e.Deltas))
	for i, d := range e.Deltas {
		inv.Deltas[len(e.Deltas)-1-i] = d.Invert()
	}
	return inv, nil
}

// SetProperty builds a property-change delta, marshaling both values.
func SetProperty(objectID, path string, oldVal, newVal any) (Delta, error) {
	old, err := marshalValue(oldVal)
	if err != nil {
		return Delta{}, err
	}
	nv, err := marshalValue(newVal)
	if err != nil {
		return Delta{}, err
	}
	return Delta{ObjectID: objectID, Path: path, Old: old, New: nv}, nil
}

// CreateObject builds a whole-object delta for adding an object.
func CreateObject(objectID string, state ObjectState) (Delta, error) {
	b, err := json.Marshal(state)
	if err != nil {
		return Delta{}, err
	}
	return Delta{ObjectID: objectID, Path: PathObject, New: b}, nil
}

// RemoveObject builds a whole-object delta for deleting an object. The prior
// state is retained so the deletion can be inverted.
func RemoveObject(objectID string, prior ObjectState) (Delta, error) {
	b, err := json.Marshal(prior)
	if err != nil {
		return Delta{}, err
	}
	return Delta{ObjectID: objectID, Path: PathObject, Old: b}, nil
}

func marshalValue(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errmodel.System("marshal", "delta value is not serializable", nil, err)
	}
	return b, nil
}
