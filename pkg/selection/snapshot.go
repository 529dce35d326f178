// Package selection captures "what is selected" as an immutable snapshot.
// Execution contexts lock a snapshot for their whole lifetime, so tools
// resolve targets consistently no matter what the live selection does
// underneath them.
package selection

import (
	"sort"
	"time"

	"github.com/wilhg/atelier/pkg/document"
	"github.com/wilhg/atelier/pkg/errmodel"
)

// Snapshot is a frozen capture of selected objects plus derived id and type
// sets. It never mutates after construction.
type Snapshot struct {
	objects []document.Object
	ids     map[string]struct{}
	byType  map[string][]document.Object
	takenAt time.Time
}

func freeze(objs []document.Object) *Snapshot {
	s := &Snapshot{
		objects: make([]document.Object, 0, len(objs)),
		ids:     make(map[string]struct{}, len(objs)),
		byType:  map[string][]document.Object{},
		takenAt: time.Now().UTC(),
	}
	for _, obj := range objs {
		if obj == nil {
			continue
		}
		if _, dup := s.ids[obj.ID()]; dup {
			continue
		}
		s.objects = append(s.objects, obj)
		s.ids[obj.ID()] = struct{}{}
		s.byType[obj.Type()] = append(s.byType[obj.Type()], obj)
	}
	return s
}

// FromDocument captures the document's live selection.
func FromDocument(doc document.Document) *Snapshot {
	return freeze(doc.Selection())
}

// FromObjects captures an explicit object list.
func FromObjects(objs []document.Object) *Snapshot {
	return freeze(objs)
}

// FromDocumentOrType captures the live selection, falling back to every
// object of the given type when nothing is selected. Used by operations that
// default to "all images" and the like.
func FromDocumentOrType(doc document.Document, typ string) *Snapshot {
	if sel := doc.Selection(); len(sel) > 0 {
		return freeze(sel)
	}
	return freeze(doc.ObjectsByType(typ))
}

// Contains reports whether the object id was selected at capture time.
func (s *Snapshot) Contains(id string) bool {
	_, ok := s.ids[id]
	return ok
}

// GetByType returns the captured objects of a type, in selection order.
func (s *Snapshot) GetByType(typ string) []document.Object {
	src := s.byType[typ]
	out := make([]document.Object, len(src))
	copy(out, src)
	return out
}

// Objects returns the captured objects in selection order.
func (s *Snapshot) Objects() []document.Object {
	out := make([]document.Object, len(s.objects))
	copy(out, s.objects)
	return out
}

// IDs returns the captured object ids, sorted for determinism.
func (s *Snapshot) IDs() []string {
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// OrderedIDs returns the captured ids in selection order.
func (s *Snapshot) OrderedIDs() []string {
	out := make([]string, len(s.objects))
	for i, obj := range s.objects {
		out[i] = obj.ID()
	}
	return out
}

// Types returns the distinct captured object types, sorted.
func (s *Snapshot) Types() []string {
	out := make([]string, 0, len(s.byType))
	for typ := range s.byType {
		out = append(out, typ)
	}
	sort.Strings(out)
	return out
}

// Count returns how many objects were captured.
func (s *Snapshot) Count() int { return len(s.objects) }

// TakenAt returns the capture timestamp.
func (s *Snapshot) TakenAt() time.Time { return s.takenAt }

// VerifyIntegrity reports whether every captured object still exists in the
// document. False means something was deleted concurrently.
func (s *Snapshot) VerifyIntegrity(doc document.Document) bool {
	for id := range s.ids {
		if _, ok := doc.GetObject(id); !ok {
			return false
		}
	}
	return true
}

// Requirements describes what a tool needs from a selection.
type Requirements struct {
	// MinCount is the minimum number of selected objects; zero means no
	// minimum beyond the AllowEmpty rule.
	MinCount int
	// MaxCount caps the selection size when positive.
	MaxCount int
	// RequiredTypes must each be present in the snapshot.
	RequiredTypes []string
	// AllowEmpty permits an empty snapshot.
	AllowEmpty bool
}

// Validate checks a snapshot against requirements. Every tool invocation
// validates before acting; failures are validation/selection errors carrying
// the concrete mismatch.
func Validate(s *Snapshot, req Requirements) error {
	if s.Count() == 0 {
		if req.AllowEmpty && req.MinCount == 0 {
			return nil
		}
		return errmodel.Validation(errmodel.CodeSelection, "selection is empty", map[string]any{
			"min_count": req.MinCount,
		})
	}
	if req.MinCount > 0 && s.Count() < req.MinCount {
		return errmodel.Validation(errmodel.CodeSelection, "too few objects selected", map[string]any{
			"count":     s.Count(),
			"min_count": req.MinCount,
		})
	}
	if req.MaxCount > 0 && s.Count() > req.MaxCount {
		return errmodel.Validation(errmodel.CodeSelection, "too many objects selected", map[string]any{
			"count":     s.Count(),
			"max_count": req.MaxCount,
		})
	}
	for _, typ := range req.RequiredTypes {
		if len(s.byType[typ]) == 0 {
			return errmodel.Validation(errmodel.CodeSelection, "selection is missing a required type", map[string]any{
				"required_type": typ,
				"types":         s.Types(),
			})
		}
	}
	return nil
}
