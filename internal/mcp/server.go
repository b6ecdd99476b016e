package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"relay/internal/logger"
	"relay/internal/session"
	"relay/internal/tool"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Server exposes every tool of a registry to MCP clients. Each client
// session gets its own session state.
type Server struct {
	server   *mcp.Server
	registry *tool.Registry
	logger   *logger.Logger

	mu     sync.Mutex
	states map[*mcp.ServerSession]*session.State
}

// NewServer registers a handler for every descriptor in registry
func NewServer(name, version string, registry *tool.Registry, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Discard()
	}

	s := &Server{
		server:   mcp.NewServer(&mcp.Implementation{Name: name, Version: version}, nil),
		registry: registry,
		logger:   log,
		states:   make(map[*mcp.ServerSession]*session.State),
	}

	for d := range registry.DescribeAll() {
		s.server.AddTool(&mcp.Tool{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.Schema(),
		}, s.handler(d.Name))
	}

	return s
}

// Serve runs the server over stdin/stdout until ctx is done or the client
// disconnects
func (s *Server) Serve(ctx context.Context) error {
	return s.ServeTransport(ctx, &mcp.StdioTransport{})
}

// ServeTransport serves one client session over t until ctx is done or the
// client disconnects. The session's state is dropped when it ends.
func (s *Server) ServeTransport(ctx context.Context, t mcp.Transport) error {
	ss, err := s.server.Connect(ctx, t, nil)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer s.forget(ss)

	done := make(chan error, 1)
	go func() {
		done <- ss.Wait()
	}()

	select {
	case <-ctx.Done():
		ss.Close()
		<-done
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func (s *Server) forget(ss *mcp.ServerSession) {
	s.mu.Lock()
	delete(s.states, ss)
	s.mu.Unlock()
}

func (s *Server) state(ss *mcp.ServerSession) *session.State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[ss]
	if !ok {
		st = session.NewState()
		s.states[ss] = st
	}
	return st
}

func (s *Server) handler(name string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		desc, fn, err := s.registry.Resolve(name)
		if err != nil {
			return nil, err
		}

		args, err := decodeArgs(req.Params.Arguments)
		if err != nil {
			return faultResult(fmt.Errorf("invalid arguments: %w", err)), nil
		}
		for _, p := range desc.RequiredParams() {
			if v, ok := args[p]; !ok || v == nil {
				return faultResult(fmt.Errorf("missing required argument: %s", p)), nil
			}
		}

		s.logger.Debug("mcp call %s %s", name, string(req.Params.Arguments))

		out, err := call(ctx, fn, s.state(req.Session), args)
		if err != nil {
			s.logger.Warn("mcp call %s failed: %v", name, err)
			return faultResult(err), nil
		}

		text, err := presentText(out)
		if err != nil {
			return faultResult(err), nil
		}

		return &mcp.CallToolResult{
			Content:           []mcp.Content{&mcp.TextContent{Text: text}},
			StructuredContent: map[string]any{"result": out},
		}, nil
	}
}

func decodeArgs(raw json.RawMessage) (tool.Args, error) {
	args := tool.Args{}
	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return args, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&args); err != nil {
		return nil, err
	}
	return args, nil
}

func call(ctx context.Context, fn tool.Callable, state *session.State, args tool.Args) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn.Call(ctx, state, args)
}

func presentText(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(data), nil
}

func faultResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
	}
}
