// Package toolchain sequences named tool invocations inside one execution
// context. Tools are resolved by stable string id from an explicit registry,
// validated against their declared schema and selection requirements, and
// mutate the document only through the events they return.
package toolchain

import (
	"context"

	"github.com/wilhg/atelier/pkg/document"
	"github.com/wilhg/atelier/pkg/event"
	"github.com/wilhg/atelier/pkg/selection"
)

// Descriptor declares the static interface of a tool.
// ParamsSchema is a JSON Schema (draft 2020-12) in UTF-8 bytes.
type Descriptor struct {
	Name         string                 `json:"name"`
	Description  string                 `json:"description,omitempty"`
	ParamsSchema []byte                 `json:"params_schema"`
	Selection    selection.Requirements `json:"-"`
}

// Tool is a unit of document-mutation logic invoked by id with parameters.
// Tools express mutations as returned events; the chain emits them into the
// owning execution context, so a tool never mutates the document directly.
type Tool interface {
	// Describe returns the public descriptor (schema, selection needs).
	Describe() Descriptor
	// Execute runs the tool against the locked selection snapshot. The
	// document is passed for reads; params already conform to ParamsSchema.
	Execute(ctx context.Context, params map[string]any, snap *selection.Snapshot, doc document.Document) (Result, error)
}

// Result carries a tool invocation's outcome.
type Result struct {
	Payload map[string]any
	Events  []event.Event
}
