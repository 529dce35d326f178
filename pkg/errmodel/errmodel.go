// Package errmodel defines the compact error payload used across the engine.
// Errors carry a category (coarse routing), a stable code (programmatic
// matching) and a bounded message/context so they stay cheap to log and to
// return through chain step results.
package errmodel

import (
	"encoding/json"
	"errors"
	"strings"
)

// Category values for compact errors.
const (
	CategoryValidation = "validation"
	CategoryTool       = "tool"
	CategoryStore      = "store"
	CategoryHistory    = "history"
	CategorySystem     = "system"
)

// Well-known codes. Codes are stable identifiers; messages are not.
const (
	CodeSelection     = "selection"       // selection unsuitable for a tool
	CodeState         = "state"           // illegal lifecycle transition
	CodeInvalidInput  = "invalid_input"   // params failed schema validation
	CodeUnknownTool   = "unknown_tool"    // no tool registered under the id
	CodeExecution     = "execution"       // tool-specific failure
	CodeTimeout       = "timeout"         // step exceeded its deadline
	CodeCommitFailed  = "commit_failed"   // store append failed, batch rolled back
	CodeClosed        = "closed"          // store torn down
	CodeNothingToUndo = "nothing_to_undo" // undo stack empty
	CodeNothingToRedo = "nothing_to_redo" // redo stack empty
	CodeIrreversible  = "irreversible"    // entry contains an event without an inverse
)

// Error is the compact error payload used internally and surfaced to callers.
// It implements the error interface.
type Error struct {
	Category string         `json:"category"`
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Context  map[string]any `json:"context,omitempty"`
	Causes   []Error        `json:"causes,omitempty"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return e.Category + "/" + e.Code + ": " + e.Message
	}
	return e.Message
}

// New constructs a new compact error.
func New(category, code, message string, ctx map[string]any, causes ...error) *Error {
	ce := &Error{Category: category, Code: code, Message: truncate(message, 512)}
	if len(ctx) > 0 {
		ce.Context = truncateContext(ctx)
	}
	for _, c := range causes {
		if c == nil {
			continue
		}
		ce.Causes = append(ce.Causes, *From(c))
	}
	return ce
}

// From converts any error into a compact Error. If err is already *Error, it's returned as-is.
func From(err error) *Error {
	var ce *Error
	if err == nil {
		return nil
	}
	if errors.As(err, &ce) {
		return ce
	}
	// Default to system/internal for unknown error types.
	return &Error{Category: CategorySystem, Code: "internal", Message: truncate(err.Error(), 512)}
}

// Convenience constructors.
func Validation(code, message string, ctx map[string]any) *Error {
	return New(CategoryValidation, code, message, ctx)
}

func Tool(code, message string, ctx map[string]any, causes ...error) *Error {
	return New(CategoryTool, code, message, ctx, causes...)
}

func Store(code, message string, ctx map[string]any, causes ...error) *Error {
	return New(CategoryStore, code, message, ctx, causes...)
}

func History(code, message string, ctx map[string]any) *Error {
	return New(CategoryHistory, code, message, ctx)
}

func System(code, message string, ctx map[string]any, cause error) *Error {
	if cause != nil {
		return New(CategorySystem, code, message, ctx, cause)
	}
	return New(CategorySystem, code, message, ctx)
}

// IsCategory checks if err belongs to a specific category.
func IsCategory(err error, category string) bool {
	ce := From(err)
	return ce != nil && strings.EqualFold(ce.Category, category)
}

// IsCode checks if err carries a specific code, regardless of category.
func IsCode(err error, code string) bool {
	ce := From(err)
	return ce != nil && ce.Code == code
}

// truncate trims a string to max characters.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

// truncateContext trims long string values in the context map.
func truncateContext(ctx map[string]any) map[string]any {
	out := make(map[string]any, len(ctx))
	for k, v := range ctx {
		switch t := v.(type) {
		case string:
			out[k] = truncate(t, 256)
		default:
			// Stringify non-primitive values to keep payloads compact.
			b, err := json.Marshal(t)
			if err == nil && len(b) > 256 {
				out[k] = truncate(string(b), 256)
			} else {
				out[k] = t
			}
		}
	}
	return out
}
