// Package engine is the top-level application context. It owns the event
// store, the tool registry and per-document history managers as explicitly
// constructed, dependency-injected instances, so isolated documents and
// isolated tests never share ambient state.
package engine

import (
	"context"
	"sync"

	"github.com/wilhg/atelier/pkg/document"
	"github.com/wilhg/atelier/pkg/errmodel"
	"github.com/wilhg/atelier/pkg/event"
	"github.com/wilhg/atelier/pkg/eventstore"
	"github.com/wilhg/atelier/pkg/execution"
	"github.com/wilhg/atelier/pkg/history"
	"github.com/wilhg/atelier/pkg/toolchain"
)

// Options configures an Engine.
type Options struct {
	// Store overrides the event store; a fresh one is created when nil.
	Store *eventstore.Store
	// Registry overrides the tool registry; a fresh one is created when nil.
	Registry *toolchain.Registry
	// History options are applied to every document's history manager.
	History []history.Option
}

// Engine owns the engine-wide collaborators.
type Engine struct {
	store    *eventstore.Store
	registry *toolchain.Registry
	hopts    []history.Option

	mu        sync.Mutex
	histories map[string]*history.Manager
}

// New constructs an Engine.
func New(opts Options) *Engine {
	st := opts.Store
	if st == nil {
		st = eventstore.New()
	}
	reg := opts.Registry
	if reg == nil {
		reg = toolchain.NewRegistry()
	}
	return &Engine{
		store:     st,
		registry:  reg,
		hopts:     opts.History,
		histories: make(map[string]*history.Manager),
	}
}

// Store returns the engine's event store.
func (e *Engine) Store() *eventstore.Store { return e.store }

// Registry returns the engine's tool registry.
func (e *Engine) Registry() *toolchain.Registry { return e.registry }

// CreateContext opens an execution context on a document.
func (e *Engine) CreateContext(doc document.Document, actor event.Actor, opts execution.Options) (*Context, error) {
	ec, err := execution.New(doc, e.store, actor, opts)
	if err != nil {
		return nil, err
	}
	return &Context{Context: ec, eng: e}, nil
}

// History returns the document's history manager, creating and subscribing
// it on first use.
func (e *Engine) History(doc document.Document) (*history.Manager, error) {
	if doc == nil {
		return nil, errmodel.Validation(errmodel.CodeInvalidInput, "document is nil", nil)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if m, ok := e.histories[doc.ID()]; ok {
		return m, nil
	}
	m, err := history.NewManager(doc, e.store, e.hopts...)
	if err != nil {
		return nil, err
	}
	e.histories[doc.ID()] = m
	return m, nil
}

// Close tears down history subscriptions and the store.
func (e *Engine) Close() error {
	e.mu.Lock()
	for _, m := range e.histories {
		m.Close()
	}
	e.histories = make(map[string]*history.Manager)
	e.mu.Unlock()
	return e.store.Close()
}

// Context couples an execution context with the engine's registry so chains
// can run directly on it.
type Context struct {
	*execution.Context
	eng *Engine
}

// Run executes the steps inside this context. The commit/rollback decision
// stays with the caller: inspect the result, then Commit or Rollback.
func (c *Context) Run(ctx context.Context, steps []toolchain.Step, opts toolchain.Options) (toolchain.ChainResult, error) {
	chain := toolchain.NewChain(c.eng.registry, opts)
	return chain.Run(ctx, c.Context, steps)
}
