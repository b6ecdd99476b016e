package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"relay/internal/session"
	"relay/internal/tool"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RemoteError is a tool-level error reported by an MCP server
type RemoteError struct {
	Server  string
	Tool    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s/%s: %s", e.Server, e.Tool, e.Message)
}

// Adapter exposes a remote MCP tool as a tool.Callable
type Adapter struct {
	client     *Client
	mcpTool    *mcp.Tool
	descriptor tool.Descriptor
	schema     *jsonschema.Resolved
}

// NewAdapter creates an adapter for an MCP tool. The registered name is
// namespaced as <server>_<tool>.
func NewAdapter(client *Client, mcpTool *mcp.Tool) (*Adapter, error) {
	schema, err := inputSchema(mcpTool)
	if err != nil {
		return nil, fmt.Errorf("tool %s: invalid input schema: %w", mcpTool.Name, err)
	}

	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("tool %s: invalid input schema: %w", mcpTool.Name, err)
	}

	return &Adapter{
		client:     client,
		mcpTool:    mcpTool,
		descriptor: describe(client.Name(), mcpTool, schema),
		schema:     resolved,
	}, nil
}

// Descriptor returns the descriptor to register the adapter under
func (a *Adapter) Descriptor() tool.Descriptor {
	return a.descriptor
}

func (a *Adapter) Required() []string {
	return a.descriptor.RequiredParams()
}

// Call validates args against the remote input schema and calls the tool.
// A structured {"result": v} is returned as v, other structured content as
// is, and text content otherwise.
func (a *Adapter) Call(ctx context.Context, _ *session.State, args tool.Args) (any, error) {
	plain, err := normalize(args)
	if err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if err := a.schema.Validate(plain); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	result, err := a.client.CallTool(ctx, a.mcpTool.Name, plain)
	if err != nil {
		return nil, err
	}

	if result.IsError {
		return nil, &RemoteError{
			Server:  a.client.Name(),
			Tool:    a.mcpTool.Name,
			Message: formatError(result),
		}
	}

	switch sc := result.StructuredContent.(type) {
	case nil:
		return formatContent(result.Content), nil
	case map[string]any:
		if v, ok := sc["result"]; ok {
			return v, nil
		}
		return sc, nil
	default:
		return sc, nil
	}
}

// normalize round-trips args through JSON so numbers and nested values have
// the plain types schema validation expects
func normalize(args tool.Args) (map[string]any, error) {
	if len(args) == 0 {
		return map[string]any{}, nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	var plain map[string]any
	if err := json.Unmarshal(data, &plain); err != nil {
		return nil, err
	}
	return plain, nil
}

// inputSchema decodes the SDK's untyped InputSchema
func inputSchema(t *mcp.Tool) (*jsonschema.Schema, error) {
	schema := &jsonschema.Schema{Type: "object"}
	if t.InputSchema == nil {
		return schema, nil
	}

	data, err := json.Marshal(t.InputSchema)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, schema); err != nil {
		return nil, err
	}
	return schema, nil
}

// describe converts an MCP tool into a Descriptor. Properties are listed in
// name order; the schema's required list marks required ones.
func describe(server string, t *mcp.Tool, schema *jsonschema.Schema) tool.Descriptor {
	desc := t.Description
	if desc == "" {
		desc = fmt.Sprintf("MCP tool from %s server", server)
	}

	names := make([]string, 0, len(schema.Properties))
	for name := range schema.Properties {
		names = append(names, name)
	}
	slices.Sort(names)

	params := make([]tool.Param, 0, len(names))
	for _, name := range names {
		prop := schema.Properties[name]
		params = append(params, tool.Param{
			Name:        name,
			Type:        schemaType(prop),
			Description: prop.Description,
			Required:    slices.Contains(schema.Required, name),
		})
	}

	return tool.Descriptor{
		Name:        fmt.Sprintf("%s_%s", server, t.Name),
		Description: fmt.Sprintf("%s [MCP server: %s]", desc, server),
		Params:      params,
	}
}

// schemaType picks the first non-null type of a property
func schemaType(s *jsonschema.Schema) string {
	if s == nil {
		return ""
	}
	if s.Type != "" {
		return s.Type
	}
	for _, t := range s.Types {
		if t != "null" {
			return t
		}
	}
	return ""
}

// formatContent converts MCP content array to string
func formatContent(content []mcp.Content) string {
	var parts []string

	for _, item := range content {
		switch c := item.(type) {
		case *mcp.TextContent:
			parts = append(parts, c.Text)

		case *mcp.ImageContent:
			parts = append(parts, fmt.Sprintf("[Image: %s]", c.MIMEType))

		case *mcp.AudioContent:
			parts = append(parts, fmt.Sprintf("[Audio: %s]", c.MIMEType))

		default:
			data, err := json.Marshal(item)
			if err != nil {
				parts = append(parts, fmt.Sprintf("[Unknown content type: %T]", item))
			} else {
				parts = append(parts, string(data))
			}
		}
	}

	return strings.Join(parts, "\n")
}

// formatError extracts error message from MCP result
func formatError(result *mcp.CallToolResult) string {
	if len(result.Content) > 0 {
		return formatContent(result.Content)
	}
	return "MCP tool returned an error"
}
