//go:build !mcp

package mcpclient

import (
	"context"
	"errors"
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

// New returns a stub client unless built with the mcp tag. command and args
// name the server process to spawn over stdio.
func New(_ context.Context, command string, args ...string) (Client, error) {
	return &noopClient{}, nil
}

type noopClient struct{}

func (noopClient) ListTools(context.Context) ([]ToolDescriptor, error) {
	return nil, errors.New("mcp not enabled in this build")
}

func (noopClient) CallTool(context.Context, string, map[string]any) (map[string]any, error) {
	return nil, errors.New("mcp not enabled in this build")
}

func (noopClient) Close() error { return nil }
