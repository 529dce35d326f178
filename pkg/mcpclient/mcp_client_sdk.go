//go:build mcp

package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	mcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Client is the minimal MCP client surface the engine needs.
type Client interface {
	ListTools(ctx context.Context) ([]ToolDescriptor, error)
	CallTool(ctx context.Context, name string, args map[string]any) (map[string]any, error)
	Close() error
}

// ToolDescriptor is a subset of the MCP tool schema.
type ToolDescriptor struct {
	Name        string
	Description string
	InputSchema []byte
}

type sdkClient struct {
	session *mcp.ClientSession
}

// New spawns an MCP server process and connects to it over stdio.
func New(ctx context.Context, command string, args ...string) (Client, error) {
	cmd := exec.Command(command, args...)
	return Connect(ctx, &mcp.CommandTransport{Command: cmd})
}

// Connect attaches to an already established transport.
func Connect(ctx context.Context, transport mcp.Transport) (Client, error) {
	client := mcp.NewClient(&mcp.Implementation{Name: "atelier", Version: "dev"}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, err
	}
	return &sdkClient{session: session}, nil
}

func (s *sdkClient) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	res, err := s.session.ListTools(ctx, nil)
	if err != nil {
		return nil, err
	}
	out := make([]ToolDescriptor, 0, len(res.Tools))
	for _, t := range res.Tools {
		var schema []byte
		if t.InputSchema != nil {
			schema, err = json.Marshal(t.InputSchema)
			if err != nil {
				return nil, err
			}
		}
		out = append(out, ToolDescriptor{Name: t.Name, Description: t.Description, InputSchema: schema})
	}
	return out, nil
}

func (s *sdkClient) CallTool(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	res, err := s.session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, err
	}
	if res.IsError {
		return nil, fmt.Errorf("tool %s: %s", name, contentText(res.Content))
	}
	if res.StructuredContent == nil {
		return nil, nil
	}
	raw, err := json.Marshal(res.StructuredContent)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *sdkClient) Close() error { return s.session.Close() }

func contentText(content []mcp.Content) string {
	for _, c := range content {
		if tc, ok := c.(*mcp.TextContent); ok {
			return tc.Text
		}
	}
	return "remote call failed"
}
