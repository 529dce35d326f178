//go:build mcp

package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	mcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wilhg/atelier/pkg/document"
	"github.com/wilhg/atelier/pkg/engine"
	"github.com/wilhg/atelier/pkg/event"
	"github.com/wilhg/atelier/pkg/execution"
	"github.com/wilhg/atelier/pkg/toolchain"
)

// Server exposes the engine's tool registry over MCP so external agents can
// drive a document. Every tool call runs in its own execution context and
// commits atomically, so a failing call leaves the document untouched.
type Server struct {
	eng *engine.Engine
	doc document.Document
	srv *mcp.Server
}

// New builds an MCP server over one engine and one document.
func New(eng *engine.Engine, doc document.Document, name, version string) *Server {
	return &Server{
		eng: eng,
		doc: doc,
		srv: mcp.NewServer(&mcp.Implementation{Name: name, Version: version}, nil),
	}
}

// RegisterTools exports every registered tool. Calls are attributed to actor.
func (s *Server) RegisterTools(actor event.Actor) error {
	var regErr error
	s.eng.Registry().Range(func(_ string, t toolchain.Tool) {
		if regErr != nil {
			return
		}
		d := t.Describe()
		tool := &mcp.Tool{Name: d.Name, Description: d.Description}
		if len(d.ParamsSchema) > 0 {
			var schema jsonschema.Schema
			if err := json.Unmarshal(d.ParamsSchema, &schema); err != nil {
				regErr = fmt.Errorf("tool %s: params schema: %w", d.Name, err)
				return
			}
			tool.InputSchema = &schema
		}
		s.srv.AddTool(tool, s.handler(d.Name, actor))
	})
	return regErr
}

// Serve runs the server on stdio until the context ends.
func (s *Server) Serve(ctx context.Context) error {
	return s.ServeTransport(ctx, &mcp.StdioTransport{})
}

// ServeTransport runs the server on an arbitrary transport, which lets tests
// and embedders wire it up in process.
func (s *Server) ServeTransport(ctx context.Context, transport mcp.Transport) error {
	err := s.srv.Run(ctx, transport)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}
	return err
}

func (s *Server) handler(name string, actor event.Actor) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var params map[string]any
		if req.Params != nil && req.Params.Arguments != nil {
			raw, err := json.Marshal(req.Params.Arguments)
			if err != nil {
				return nil, err
			}
			if err := json.Unmarshal(raw, &params); err != nil {
				return nil, err
			}
		}
		ec, err := s.eng.CreateContext(s.doc, actor, execution.Options{})
		if err != nil {
			return nil, err
		}
		res, err := ec.Run(ctx, []toolchain.Step{{Tool: name, Params: params}}, toolchain.Options{})
		if err != nil {
			_ = ec.Rollback()
			return nil, err
		}
		if !res.Success {
			_ = ec.Rollback()
			return errorResult(res.Steps[len(res.Steps)-1].Err), nil
		}
		if _, err := ec.Commit(ctx); err != nil {
			return errorResult(err), nil
		}
		return &mcp.CallToolResult{
			StructuredContent: res.Steps[len(res.Steps)-1].Payload,
		}, nil
	}
}

func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
	}
}
