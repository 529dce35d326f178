// Package memdoc is an in-memory reference implementation of the document
// contracts. Objects are typed JSON property blobs addressed with gjson
// paths, which keeps event deltas plain values end to end.
package memdoc

import (
	"encoding/json"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/wilhg/atelier/pkg/document"
	"github.com/wilhg/atelier/pkg/errmodel"
	"github.com/wilhg/atelier/pkg/event"
)

// Object is one node of the in-memory graph.
type Object struct {
	id    string
	typ   string
	props []byte
}

func (o *Object) ID() string   { return o.id }
func (o *Object) Type() string { return o.typ }

// Get reads a property at a gjson path.
func (o *Object) Get(path string) (json.RawMessage, bool) {
	res := gjson.GetBytes(o.props, path)
	if !res.Exists() {
		return nil, false
	}
	return json.RawMessage(res.Raw), true
}

// Props returns the object's full property blob.
func (o *Object) Props() json.RawMessage {
	return json.RawMessage(o.props)
}

// Doc is an in-memory document. A RWMutex guards the graph so previews may
// read concurrently while one context mutates.
type Doc struct {
	mu        sync.RWMutex
	id        string
	objects   map[string]*Object
	order     []string
	selection []string
}

// New creates an empty document.
func New(id string) *Doc {
	return &Doc{id: id, objects: map[string]*Object{}}
}

func (d *Doc) ID() string { return d.id }

// AddObject inserts an object with the given properties and returns it.
func (d *Doc) AddObject(id, typ string, props map[string]any) (*Object, error) {
	b, err := json.Marshal(props)
	if err != nil {
		return nil, errmodel.System("marshal", "object properties are not serializable", map[string]any{"object_id": id}, err)
	}
	if props == nil {
		b = []byte(`{}`)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.objects[id]; exists {
		return nil, errmodel.Validation("duplicate_object", "object id already in use", map[string]any{"object_id": id})
	}
	obj := &Object{id: id, typ: typ, props: b}
	d.objects[id] = obj
	d.order = append(d.order, id)
	return obj, nil
}

// ApplyEvent applies every delta in order. The first failing delta aborts;
// callers invert via buffered events, so partial application stays visible
// only inside the owning context.
func (d *Doc) ApplyEvent(ev event.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, delta := range ev.Deltas {
		if err := d.applyDelta(delta); err != nil {
			return err
		}
	}
	return nil
}

// ApplyInverse undoes the event by applying its inverse.
func (d *Doc) ApplyInverse(ev event.Event) error {
	inv, err := ev.Inverse()
	if err != nil {
		return err
	}
	return d.ApplyEvent(inv)
}

func (d *Doc) applyDelta(delta event.Delta) error {
	if delta.Path == event.PathObject {
		return d.applyObjectDelta(delta)
	}
	obj, ok := d.objects[delta.ObjectID]
	if !ok {
		return errmodel.Validation("unknown_object", "delta targets a missing object", map[string]any{
			"object_id": delta.ObjectID,
			"path":      delta.Path,
		})
	}
	if delta.New == nil {
		props, err := sjson.DeleteBytes(obj.props, delta.Path)
		if err != nil {
			return errmodel.System("apply", "delete property", map[string]any{"path": delta.Path}, err)
		}
		obj.props = props
		return nil
	}
	props, err := sjson.SetRawBytes(obj.props, delta.Path, delta.New)
	if err != nil {
		return errmodel.System("apply", "set property", map[string]any{"path": delta.Path}, err)
	}
	obj.props = props
	return nil
}

func (d *Doc) applyObjectDelta(delta event.Delta) error {
	if delta.New == nil {
		// Deletion. Selection keeps the id until SetSelection; readers
		// resolving through the document simply stop seeing it.
		if _, ok := d.objects[delta.ObjectID]; !ok {
			return errmodel.Validation("unknown_object", "deletion targets a missing object", map[string]any{"object_id": delta.ObjectID})
		}
		delete(d.objects, delta.ObjectID)
		for i, id := range d.order {
			if id == delta.ObjectID {
				d.order = append(d.order[:i], d.order[i+1:]...)
				break
			}
		}
		return nil
	}
	var state event.ObjectState
	if err := json.Unmarshal(delta.New, &state); err != nil {
		return errmodel.System("apply", "decode object state", map[string]any{"object_id": delta.ObjectID}, err)
	}
	if _, exists := d.objects[delta.ObjectID]; exists {
		return errmodel.Validation("duplicate_object", "creation targets an existing object", map[string]any{"object_id": delta.ObjectID})
	}
	props := state.Props
	if props == nil {
		props = json.RawMessage(`{}`)
	}
	d.objects[delta.ObjectID] = &Object{id: delta.ObjectID, typ: state.Type, props: props}
	d.order = append(d.order, delta.ObjectID)
	return nil
}

func (d *Doc) GetObject(id string) (document.Object, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	obj, ok := d.objects[id]
	if !ok {
		return nil, false
	}
	return obj, true
}

func (d *Doc) ObjectsByType(typ string) []document.Object {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []document.Object
	for _, id := range d.order {
		if obj := d.objects[id]; obj != nil && obj.typ == typ {
			out = append(out, obj)
		}
	}
	return out
}

// Selection resolves the selected ids against the live graph. Ids whose
// objects were deleted concurrently are skipped, never cached.
func (d *Doc) Selection() []document.Object {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []document.Object
	for _, id := range d.selection {
		if obj, ok := d.objects[id]; ok {
			out = append(out, obj)
		}
	}
	return out
}

func (d *Doc) SetSelection(ids []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	kept := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := d.objects[id]; ok {
			kept = append(kept, id)
		}
	}
	d.selection = kept
}

// SelectedIDs returns the raw selected ids (including ids of deleted objects).
func (d *Doc) SelectedIDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, len(d.selection))
	copy(out, d.selection)
	return out
}

// Len reports the number of live objects.
func (d *Doc) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.objects)
}
