// Package execution provides the isolated unit of work that makes a sequence
// of document mutations atomic, selection-consistent and undoable. A Context
// locks a selection snapshot, buffers proposed events while applying them
// optimistically to the live document, and either commits the whole buffer to
// the event store as one batch or inverts every applied mutation.
package execution

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wilhg/atelier/pkg/document"
	"github.com/wilhg/atelier/pkg/errmodel"
	"github.com/wilhg/atelier/pkg/event"
	"github.com/wilhg/atelier/pkg/eventstore"
	"github.com/wilhg/atelier/pkg/selection"
)

// State is the context lifecycle state.
type State int

const (
	Open State = iota
	Committing
	Committed
	RolledBack
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Committing:
		return "committing"
	case Committed:
		return "committed"
	case RolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// Options configures context creation.
type Options struct {
	// Workflow tags the committed batch; generated when empty.
	Workflow string
	// Selection locks an explicit snapshot instead of capturing the live
	// selection at creation time.
	Selection *selection.Snapshot
	// CorrelationID is stamped onto emitted events that lack one.
	CorrelationID string
}

// Context is a single unit of work against one document. One logical
// goroutine drives a context instance; the internal mutex turns misuse into
// state errors rather than races.
type Context struct {
	mu sync.Mutex

	id          string
	actor       event.Actor
	doc         document.Document
	store       *eventstore.Store
	parent      *Context
	snapshot    *selection.Snapshot
	buffer      []event.Event
	state       State
	workflow    string
	correlation string
}

// New opens a context on a document. The selection snapshot is captured at
// this instant and stays locked for the context's lifetime.
func New(doc document.Document, store *eventstore.Store, actor event.Actor, opts Options) (*Context, error) {
	if doc == nil {
		return nil, errmodel.Validation("document", "document is nil", nil)
	}
	if store == nil {
		return nil, errmodel.Validation("store", "event store is nil", nil)
	}
	snap := opts.Selection
	if snap == nil {
		snap = selection.FromDocument(doc)
	}
	wf := opts.Workflow
	if wf == "" {
		wf = "wf-" + uuid.NewString()
	}
	return &Context{
		id:          "ctx-" + uuid.NewString(),
		actor:       actor,
		doc:         doc,
		store:       store,
		snapshot:    snap,
		state:       Open,
		workflow:    wf,
		correlation: opts.CorrelationID,
	}, nil
}

// Fork opens a child context. The child inherits the parent's locked
// selection by default and keeps its own buffer; committing the child merges
// its events into the parent's buffer, never into the store, so outer
// atomicity is preserved.
func (c *Context) Fork(opts Options) (*Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Open {
		return nil, c.stateError("fork")
	}
	snap := opts.Selection
	if snap == nil {
		snap = c.snapshot
	}
	return &Context{
		id:          "ctx-" + uuid.NewString(),
		actor:       c.actor,
		doc:         c.doc,
		parent:      c,
		snapshot:    snap,
		state:       Open,
		workflow:    c.workflow,
		correlation: c.correlation,
	}, nil
}

func (c *Context) ID() string                    { return c.id }
func (c *Context) Actor() event.Actor            { return c.actor }
func (c *Context) Workflow() string              { return c.workflow }
func (c *Context) Document() document.Document   { return c.doc }
func (c *Context) Snapshot() *selection.Snapshot { return c.snapshot }

// State returns the current lifecycle state.
func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Buffered returns a copy of the uncommitted event buffer.
func (c *Context) Buffered() []event.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]event.Event, len(c.buffer))
	copy(out, c.buffer)
	return out
}

// Emit stamps the event with the context's scope, applies it to the live
// document immediately (so later steps observe up-to-date state) and buffers
// it. Buffered events stay invisible to the rest of the system until Commit.
func (c *Context) Emit(ev event.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Open {
		return c.stateError("emit")
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	ev.DocumentID = c.doc.ID()
	ev.WorkflowID = c.workflow
	if ev.Actor == "" {
		ev.Actor = c.actor
	}
	if ev.CorrelationID == "" {
		ev.CorrelationID = c.correlation
	}
	if err := c.doc.ApplyEvent(ev); err != nil {
		// Not buffered: the document rejected the mutation, so there is
		// nothing to invert.
		return err
	}
	c.buffer = append(c.buffer, ev)
	return nil
}

// Commit makes the buffered events visible atomically. For a root context the
// whole buffer is appended to the store as one workflow-tagged batch under
// the store's exclusive append section. If the append fails, the
// optimistically applied mutations are inverted and the context rolls back,
// returning store/commit_failed.
//
// A child context's commit merges its buffer into the parent instead.
func (c *Context) Commit(ctx context.Context) ([]event.Event, error) {
	c.mu.Lock()
	if c.state != Open {
		defer c.mu.Unlock()
		return nil, c.stateError("commit")
	}
	c.state = Committing
	buffer := c.buffer
	c.mu.Unlock()

	if c.parent != nil {
		if err := c.parent.absorb(buffer); err != nil {
			c.mu.Lock()
			c.state = Open // parent refused; nothing was applied twice
			c.mu.Unlock()
			return nil, err
		}
		c.mu.Lock()
		c.state = Committed
		c.buffer = nil
		c.mu.Unlock()
		return buffer, nil
	}

	tr := otel.Tracer("atelier/execution")
	_, span := tr.Start(ctx, "Context.Commit", trace.WithAttributes(
		attribute.String("context.id", c.id),
		attribute.String("workflow.id", c.workflow),
		attribute.String("document.id", c.doc.ID()),
		attribute.Int("events", len(buffer)),
	))
	defer span.End()

	stored, err := c.store.AppendBatch(buffer)
	if err != nil {
		span.RecordError(err)
		c.mu.Lock()
		revertErr := c.invertLocked()
		c.state = RolledBack
		c.buffer = nil
		c.mu.Unlock()
		ce := errmodel.Store(errmodel.CodeCommitFailed, "event batch append failed, workflow rolled back", map[string]any{
			"workflow_id": c.workflow,
		}, err)
		if revertErr != nil {
			ce.Causes = append(ce.Causes, *errmodel.From(revertErr))
		}
		return nil, ce
	}

	c.mu.Lock()
	c.state = Committed
	c.buffer = nil
	c.mu.Unlock()
	return stored, nil
}

// Rollback replays the buffered events' inverses in reverse order against the
// live document and discards the buffer. Legal from Open; a rollback after a
// failed commit (state already RolledBack) is a no-op, as is cancelling an
// Open context with an empty buffer.
func (c *Context) Rollback() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case RolledBack:
		return nil
	case Open:
	default:
		return c.stateError("rollback")
	}
	err := c.invertLocked()
	c.state = RolledBack
	c.buffer = nil
	return err
}

// invertLocked applies inverses of the buffer in reverse order. Called with
// c.mu held.
func (c *Context) invertLocked() error {
	var first error
	for i := len(c.buffer) - 1; i >= 0; i-- {
		if err := c.doc.ApplyInverse(c.buffer[i]); err != nil && first == nil {
			first = errmodel.System("revert", "failed to invert buffered event", map[string]any{
				"event_id": c.buffer[i].ID,
			}, err)
		}
	}
	return first
}

// absorb merges a committed child's events into this context's buffer. The
// child already applied them to the document, so they are only recorded here.
func (c *Context) absorb(evs []event.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Open {
		return c.stateError("absorb child commit")
	}
	c.buffer = append(c.buffer, evs...)
	return nil
}

func (c *Context) stateError(op string) error {
	return errmodel.Validation(errmodel.CodeState, "context is not open", map[string]any{
		"context_id": c.id,
		"state":      c.state.String(),
		"op":         op,
	})
}
