package toolchain

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wilhg/atelier/pkg/errmodel"
	"github.com/wilhg/atelier/pkg/execution"
)

// Step names one tool invocation in a chain.
type Step struct {
	// Tool is the registered tool id.
	Tool string
	// Params are validated against the tool's schema before execution.
	Params map[string]any
	// ContinueOnError keeps the chain going when this step fails.
	ContinueOnError bool
	// Timeout bounds the step when positive; a timeout is a step failure.
	Timeout time.Duration
}

// StepResult records one step's outcome.
type StepResult struct {
	Tool    string
	Success bool
	Payload map[string]any
	Err     *errmodel.Error
	Elapsed time.Duration
}

// ChainResult aggregates a whole run. Steps never invoked (aborted after a
// failure) have no entry.
type ChainResult struct {
	Steps   []StepResult
	Success bool
	Elapsed time.Duration
}

// Options configures a chain run.
type Options struct {
	// PreserveSelection restores the selection that existed when the chain
	// started after the whole chain completes. Intermediate tools routinely
	// narrow or replace the selection for their own purposes; callers
	// generally expect their original selection to survive an automated
	// multi-step edit.
	PreserveSelection bool
	// Validate overrides the schema validator (tests inject fakes here).
	Validate ValidateFunc
}

// Chain executes steps strictly sequentially inside one execution context.
// Later steps may depend on objects mutated earlier, so there is no
// reordering and no implicit parallelism.
type Chain struct {
	reg  *Registry
	opts Options
}

// NewChain creates a chain runner over a registry.
func NewChain(reg *Registry, opts Options) *Chain {
	return &Chain{reg: reg, opts: opts}
}

// Run executes the steps inside ec. Tool-level failures are returned as
// structured step results, never as an error; the error return is reserved
// for infrastructure misuse (nil/closed context). A chain failure implies no
// commit decision: the caller inspects the result and commits or rolls back.
func (c *Chain) Run(ctx context.Context, ec *execution.Context, steps []Step) (ChainResult, error) {
	if ec == nil {
		return ChainResult{}, errmodel.Validation(errmodel.CodeInvalidInput, "execution context is nil", nil)
	}
	if ec.State() != execution.Open {
		return ChainResult{}, errmodel.Validation(errmodel.CodeState, "execution context is not open", map[string]any{
			"state": ec.State().String(),
		})
	}

	tr := otel.Tracer("atelier/toolchain")
	ctx, span := tr.Start(ctx, "Chain.Run", trace.WithAttributes(
		attribute.String("workflow.id", ec.Workflow()),
		attribute.String("document.id", ec.Document().ID()),
		attribute.Int("steps", len(steps)),
	))
	defer span.End()

	doc := ec.Document()
	var savedSelection []string
	if c.opts.PreserveSelection {
		for _, obj := range doc.Selection() {
			savedSelection = append(savedSelection, obj.ID())
		}
	}

	started := time.Now()
	result := ChainResult{Success: true}
	for _, step := range steps {
		sr := c.runStep(ctx, ec, step)
		result.Steps = append(result.Steps, sr)
		if !sr.Success {
			result.Success = false
			if !step.ContinueOnError {
				break
			}
		}
	}
	result.Elapsed = time.Since(started)

	if c.opts.PreserveSelection {
		doc.SetSelection(savedSelection)
	}
	if !result.Success {
		span.SetAttributes(attribute.Bool("chain.failed", true))
	}
	return result, nil
}

func (c *Chain) runStep(ctx context.Context, ec *execution.Context, step Step) StepResult {
	started := time.Now()
	fail := func(err error) StepResult {
		return StepResult{Tool: step.Tool, Err: errmodel.From(err), Elapsed: time.Since(started)}
	}

	tool, ok := c.reg.Resolve(step.Tool)
	if !ok {
		return fail(errmodel.Tool(errmodel.CodeUnknownTool, "no tool registered under this id", map[string]any{
			"tool": step.Tool,
		}))
	}

	stepCtx := ctx
	if step.Timeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}

	res, err := SafeInvoke(stepCtx, tool, step.Params, ec.Snapshot(), ec.Document(), c.opts.Validate)
	if err != nil {
		return fail(err)
	}
	// Emitting applies each event to the live document and buffers it; a
	// rejected event fails the step with the mutations so far still captured
	// in the buffer, so rollback can invert them.
	for _, ev := range res.Events {
		if err := ec.Emit(ev); err != nil {
			return fail(err)
		}
	}
	return StepResult{Tool: step.Tool, Success: true, Payload: res.Payload, Elapsed: time.Since(started)}
}
