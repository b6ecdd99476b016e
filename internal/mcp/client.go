package mcp

import (
	"context"
	"fmt"
	"os/exec"
	"sort"

	"relay/internal/config"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Implementation identifies relay to MCP peers
var Implementation = &mcp.Implementation{
	Name:    "relay",
	Version: "1.0.0",
}

// Client wraps the official MCP SDK client session of one server
type Client struct {
	name    string
	session *mcp.ClientSession
	tools   []*mcp.Tool
}

// NewClient starts the configured server as a subprocess and connects to it
// over stdio
func NewClient(ctx context.Context, cfg config.MCPServerConfig) (*Client, error) {
	cmd := exec.Command(cfg.Command, cfg.Args...)

	if len(cfg.Env) > 0 {
		cmd.Env = append(cmd.Environ(), formatEnvVars(cfg.Env)...)
	}

	return Connect(ctx, cfg.Name, &mcp.CommandTransport{Command: cmd})
}

// Connect opens a session over transport and caches the server's tool list
func Connect(ctx context.Context, name string, transport mcp.Transport) (*Client, error) {
	client := mcp.NewClient(Implementation, nil)

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MCP server: %w", err)
	}

	// Collect tools from server
	var tools []*mcp.Tool
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			session.Close()
			return nil, fmt.Errorf("failed to list tools: %w", err)
		}
		tools = append(tools, tool)
	}

	return &Client{
		name:    name,
		session: session,
		tools:   tools,
	}, nil
}

// formatEnvVars converts env map to KEY=VALUE slice
func formatEnvVars(env map[string]string) []string {
	result := make([]string, 0, len(env))
	for key, value := range env {
		result = append(result, fmt.Sprintf("%s=%s", key, value))
	}
	sort.Strings(result)
	return result
}

// Name returns the server name
func (c *Client) Name() string {
	return c.name
}

// Tools returns the tool list fetched at connect time
func (c *Client) Tools() []*mcp.Tool {
	return c.tools
}

// CallTool executes a tool with given arguments
func (c *Client) CallTool(ctx context.Context, toolName string, arguments map[string]any) (*mcp.CallToolResult, error) {
	params := &mcp.CallToolParams{
		Name:      toolName,
		Arguments: arguments,
	}

	result, err := c.session.CallTool(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("call tool request failed: %w", err)
	}

	return result, nil
}

// Ping checks that the server still answers
func (c *Client) Ping(ctx context.Context) error {
	return c.session.Ping(ctx, nil)
}

// Close shuts down the session and, for subprocess servers, the process
func (c *Client) Close() error {
	if c.session != nil {
		return c.session.Close()
	}
	return nil
}
