// Package container wires relay services using go.uber.org/dig.
package container

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/dig"

	"relay/internal/config"
	"relay/internal/dispatch"
	"relay/internal/hook"
	"relay/internal/hook/handlers"
	"relay/internal/llm/openai"
	"relay/internal/logger"
	"relay/internal/mcp"
	"relay/internal/oracle"
	"relay/internal/tool"
	"relay/internal/tool/builtin"
)

// Options override pieces of the graph, mostly for tests
type Options struct {
	// Completer replaces the OpenAI client
	Completer oracle.Completer
	// Connect replaces how MCP servers are started
	Connect mcp.ConnectFunc
	// Input is the terminal the confirmation prompt reads answers from. It
	// must be the scanner the REPL reads requests from. Nil disables
	// confirmation: front ends without a terminal (web) cannot answer.
	Input *bufio.Scanner
	// Output receives confirmation prompts (default stdout)
	Output io.Writer
}

// Container resolves services lazily: a command that only lists tools never
// builds an oracle client. Callers never need to import dig directly.
type Container struct {
	dig *dig.Container
	mcp *mcp.Manager
}

// readyRegistry is the registry after built-in toolsets and every MCP server
// have been registered
type readyRegistry struct{ *tool.Registry }

// New builds the service graph for cfg. Nothing is constructed until a
// getter asks for it.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, opts Options) (*Container, error) {
	c := &Container{dig: dig.New()}

	providers := []any{
		func() context.Context { return ctx },
		func() *config.Config { return cfg },
		func() *logger.Logger { return log },
		func() Options { return opts },
		newRegistry,
		c.newMCPManager,
		newReadyRegistry,
		newHooks,
		newCompleter,
		newOracle,
		newDispatcher,
	}
	for _, p := range providers {
		if err := c.dig.Provide(p); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Registry returns the fully populated tool registry
func (c *Container) Registry() (*tool.Registry, error) {
	var reg *tool.Registry
	err := c.dig.Invoke(func(r readyRegistry) { reg = r.Registry })
	return reg, unwrap(err)
}

// Dispatcher returns the intent dispatcher
func (c *Container) Dispatcher() (*dispatch.Dispatcher, error) {
	var d *dispatch.Dispatcher
	err := c.dig.Invoke(func(v *dispatch.Dispatcher) { d = v })
	return d, unwrap(err)
}

// Health pings every connected MCP server. It starts them if no getter has
// yet.
func (c *Container) Health(ctx context.Context) error {
	if err := c.dig.Invoke(func(*mcp.Manager) {}); err != nil {
		return unwrap(err)
	}
	return c.mcp.Health(ctx)
}

// MCPServers returns the names of connected MCP servers
func (c *Container) MCPServers() []string {
	if c.mcp == nil {
		return nil
	}
	return c.mcp.ListServers()
}

// Close shuts down MCP servers started by the container
func (c *Container) Close() error {
	if c.mcp == nil {
		return nil
	}
	return c.mcp.Close()
}

// unwrap strips dig's wrapping so callers can match sentinel errors
func unwrap(err error) error {
	if err == nil {
		return nil
	}
	return dig.RootCause(err)
}

func newRegistry(cfg *config.Config) (*tool.Registry, error) {
	reg := tool.NewRegistry()

	toolsets := cfg.Toolsets
	if len(toolsets) == 0 {
		toolsets = builtin.Names()
	}
	if err := builtin.Register(reg, toolsets...); err != nil {
		return nil, fmt.Errorf("register toolsets: %w", err)
	}
	return reg, nil
}

func (c *Container) newMCPManager(ctx context.Context, cfg *config.Config, reg *tool.Registry, log *logger.Logger, opts Options) (*mcp.Manager, error) {
	m := mcp.NewManager(reg, log)
	if opts.Connect != nil {
		m.WithConnector(opts.Connect)
	}
	if err := m.Initialize(ctx, cfg.EnabledServers()); err != nil {
		return nil, fmt.Errorf("start MCP servers: %w", err)
	}
	c.mcp = m
	return m, nil
}

func newReadyRegistry(reg *tool.Registry, _ *mcp.Manager) readyRegistry {
	return readyRegistry{reg}
}

func newHooks(cfg *config.Config, opts Options, log *logger.Logger) *hook.Manager {
	m := hook.NewManager()

	var tools []string
	switch {
	case cfg.Hooks.ConfirmAll:
	case len(cfg.Hooks.ToolConfirm) > 0:
		tools = cfg.Hooks.ToolConfirm
	default:
		return m
	}

	if opts.Input == nil {
		log.Warn("Tool confirmation is configured but this front end has no terminal; tools run unconfirmed")
		return m
	}

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	m.Register(handlers.NewToolConfirmHandler(opts.Input, out, tools...))
	return m
}

// ErrNoAPIKey is returned when the oracle is needed but no key is configured
var ErrNoAPIKey = errors.New("oracle.api_key is not set (export OPENAI_API_KEY or set it in relay.yaml)")

func newCompleter(cfg *config.Config, opts Options) (oracle.Completer, error) {
	if opts.Completer != nil {
		return opts.Completer, nil
	}
	if cfg.Oracle.APIKey == "" {
		return nil, ErrNoAPIKey
	}

	client := openai.NewClient(cfg.Oracle.APIKey, cfg.Oracle.Model, cfg.Oracle.BaseURL)
	client.SetTemperature(cfg.Oracle.Temperature)
	client.SetMaxTokens(cfg.Oracle.MaxTokens)
	return client, nil
}

func newOracle(cfg *config.Config, completer oracle.Completer) oracle.Oracle {
	return oracle.New(completer, oracle.WithNativeTools(cfg.Oracle.NativeTools))
}

func newDispatcher(cfg *config.Config, reg readyRegistry, o oracle.Oracle, hooks *hook.Manager, log *logger.Logger) *dispatch.Dispatcher {
	return dispatch.New(reg.Registry, o,
		dispatch.WithHooks(hooks),
		dispatch.WithLogger(log),
		dispatch.WithOracleTimeout(cfg.Oracle.Timeout),
	)
}
