//go:build !mcp

package mcpserver

import (
	"context"
	"errors"

	"github.com/wilhg/atelier/pkg/document"
	"github.com/wilhg/atelier/pkg/engine"
	"github.com/wilhg/atelier/pkg/event"
)

// Server is a placeholder when the mcp build tag is not set. It lets the
// rest of the repo compile without the SDK.
type Server struct{}

// New creates a new MCP server (no-op without the mcp tag).
func New(_ *engine.Engine, _ document.Document, _, _ string) *Server { return &Server{} }

// RegisterTools is a no-op that would export the registry's tools.
func (s *Server) RegisterTools(_ event.Actor) error { return nil }

// Serve reports that MCP support is not compiled in.
func (s *Server) Serve(_ context.Context) error {
	return errors.New("mcp server not enabled in this build")
}
