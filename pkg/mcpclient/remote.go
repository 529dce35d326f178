package mcpclient

import (
	"context"

	"github.com/wilhg/atelier/pkg/document"
	"github.com/wilhg/atelier/pkg/selection"
	"github.com/wilhg/atelier/pkg/toolchain"
)

// Remote adapts a tool exported by an MCP server into a chain tool. Remote
// tools never touch the document, so their results carry a payload but no
// events and they place no requirements on the selection.
type Remote struct {
	client Client
	desc   ToolDescriptor
}

func (r Remote) Describe() toolchain.Descriptor {
	return toolchain.Descriptor{
		Name:         r.desc.Name,
		Description:  r.desc.Description,
		ParamsSchema: r.desc.InputSchema,
		Selection:    selection.Requirements{AllowEmpty: true},
	}
}

func (r Remote) Execute(ctx context.Context, params map[string]any, _ *selection.Snapshot, _ document.Document) (toolchain.Result, error) {
	out, err := r.client.CallTool(ctx, r.desc.Name, params)
	if err != nil {
		return toolchain.Result{}, err
	}
	return toolchain.Result{Payload: out}, nil
}

// RegisterRemote lists the server's tools and registers each one locally.
func RegisterRemote(ctx context.Context, reg *toolchain.Registry, client Client) error {
	descs, err := client.ListTools(ctx)
	if err != nil {
		return err
	}
	for _, d := range descs {
		if err := reg.Register(Remote{client: client, desc: d}); err != nil {
			return err
		}
	}
	return nil
}
