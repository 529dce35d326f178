package toolchain

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/wilhg/atelier/pkg/document"
	"github.com/wilhg/atelier/pkg/errmodel"
	"github.com/wilhg/atelier/pkg/selection"
)

// Registry keeps tools by name. It is an explicitly constructed instance, not
// a package global, so isolated documents and tests get isolated tool sets.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: map[string]Tool{}}
}

// Register adds a tool under its descriptor name.
func (r *Registry) Register(t Tool) error {
	if t == nil {
		return errmodel.Validation("tool", "tool is nil", nil)
	}
	d := t.Describe()
	if d.Name == "" {
		return errmodel.Validation("tool", "tool name is empty", nil)
	}
	if err := CompileSchema(d.ParamsSchema); err != nil {
		return errmodel.Validation("tool", "params schema does not compile", map[string]any{
			"tool":  d.Name,
			"error": err.Error(),
		})
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[d.Name]; exists {
		return errmodel.Validation("tool", fmt.Sprintf("tool %q already registered", d.Name), nil)
	}
	r.tools[d.Name] = t
	return nil
}

// Resolve returns a tool by name.
func (r *Registry) Resolve(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Range calls fn for every registered tool.
func (r *Registry) Range(fn func(name string, t Tool)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, t := range r.tools {
		fn(name, t)
	}
}

// SafeInvoke validates the selection against the tool's requirements and the
// params against its schema, then executes the tool. Panics and plain errors
// are contained as tool/execution; a deadline hit becomes tool/timeout.
func SafeInvoke(ctx context.Context, t Tool, params map[string]any, snap *selection.Snapshot, doc document.Document, validate ValidateFunc) (res Result, err error) {
	if t == nil {
		return Result{}, errmodel.Validation("tool", "tool is nil", nil)
	}
	d := t.Describe()
	if verr := selection.Validate(snap, d.Selection); verr != nil {
		return Result{}, verr
	}
	if validate == nil {
		validate = SchemaValidator
	}
	if verr := validate(d.ParamsSchema, params); verr != nil {
		return Result{}, errmodel.Validation(errmodel.CodeInvalidInput, "tool input validation failed", map[string]any{
			"tool":  d.Name,
			"error": verr.Error(),
		})
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = errmodel.Tool(errmodel.CodeExecution, "tool panicked", map[string]any{
				"tool":  d.Name,
				"panic": fmt.Sprint(rec),
			})
		}
	}()
	res, err = t.Execute(ctx, params, snap, doc)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return Result{}, errmodel.Tool(errmodel.CodeTimeout, "tool exceeded its deadline", map[string]any{"tool": d.Name}, err)
		}
		var ce *errmodel.Error
		if errors.As(err, &ce) {
			return Result{}, ce
		}
		return Result{}, errmodel.Tool(errmodel.CodeExecution, "tool execution failed", map[string]any{"tool": d.Name}, err)
	}
	return res, nil
}
