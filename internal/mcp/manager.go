// Package mcp connects relay to MCP tool servers and serves relay's own
// tools over MCP.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"relay/internal/config"
	"relay/internal/logger"
	"relay/internal/tool"

	"golang.org/x/sync/errgroup"
)

// ConnectFunc opens a client for one configured server
type ConnectFunc func(ctx context.Context, cfg config.MCPServerConfig) (*Client, error)

// Manager coordinates multiple MCP servers and registers their tools
type Manager struct {
	registry *tool.Registry
	logger   *logger.Logger
	connect  ConnectFunc

	mu      sync.RWMutex
	clients []*Client // configuration order
}

// NewManager creates a new MCP manager registering into registry
func NewManager(registry *tool.Registry, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Discard()
	}
	return &Manager{
		registry: registry,
		logger:   log,
		connect:  NewClient,
	}
}

// WithConnector replaces how servers are connected, e.g. for in-memory
// transports
func (m *Manager) WithConnector(fn ConnectFunc) *Manager {
	m.connect = fn
	return m
}

// Initialize connects to every enabled server concurrently, then registers
// their tools in configuration order. Any failure closes all connections
// and is returned: the registry must not be used half-populated.
func (m *Manager) Initialize(ctx context.Context, servers []config.MCPServerConfig) error {
	var enabled []config.MCPServerConfig
	names := make(map[string]bool)
	for _, s := range servers {
		if s.Disabled {
			continue
		}
		if names[s.Name] {
			return fmt.Errorf("duplicate server name: %s", s.Name)
		}
		names[s.Name] = true
		enabled = append(enabled, s)
	}
	if len(enabled) == 0 {
		return nil
	}

	// Sessions outlive this call, so connect with ctx rather than a
	// context that errgroup cancels when Wait returns.
	clients := make([]*Client, len(enabled))
	var g errgroup.Group
	for i, cfg := range enabled {
		g.Go(func() error {
			c, err := m.connect(ctx, cfg)
			if err != nil {
				return fmt.Errorf("server %s: %w", cfg.Name, err)
			}
			clients[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		closeAll(clients)
		return err
	}

	for _, c := range clients {
		if err := m.register(c); err != nil {
			closeAll(clients)
			return fmt.Errorf("server %s: %w", c.Name(), err)
		}
		m.logger.Info("MCP server %s: %d tools", c.Name(), len(c.Tools()))
	}

	m.mu.Lock()
	m.clients = append(m.clients, clients...)
	m.mu.Unlock()

	return nil
}

func (m *Manager) register(c *Client) error {
	for _, t := range c.Tools() {
		adapter, err := NewAdapter(c, t)
		if err != nil {
			return err
		}
		if err := m.registry.Register(adapter.Descriptor(), adapter); err != nil {
			return fmt.Errorf("failed to register tool: %w", err)
		}
	}
	return nil
}

func closeAll(clients []*Client) error {
	var g errgroup.Group
	errs := make([]error, len(clients))
	for i, c := range clients {
		if c == nil {
			continue
		}
		g.Go(func() error {
			if err := c.Close(); err != nil {
				errs[i] = fmt.Errorf("server %s: %w", c.Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Close shuts down all MCP servers concurrently
func (m *Manager) Close() error {
	m.mu.Lock()
	clients := m.clients
	m.clients = nil
	m.mu.Unlock()

	if err := closeAll(clients); err != nil {
		return fmt.Errorf("errors closing servers: %w", err)
	}
	return nil
}

// ListServers returns all active server names in configuration order
func (m *Manager) ListServers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, len(m.clients))
	for i, c := range m.clients {
		names[i] = c.Name()
	}
	return names
}

// Health pings every connected server
func (m *Manager) Health(ctx context.Context) error {
	m.mu.RLock()
	clients := m.clients
	m.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range clients {
		g.Go(func() error {
			if err := c.Ping(gctx); err != nil {
				return fmt.Errorf("server %s: %w", c.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}
