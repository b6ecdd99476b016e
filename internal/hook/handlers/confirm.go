package handlers

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"relay/internal/hook"
)

// ToolConfirmHandler prompts user for confirmation before executing a tool.
// Answers are read from a scanner shared with whatever else reads the same
// input, so a line is never buffered away from the reader that needs it.
type ToolConfirmHandler struct {
	mu        sync.Mutex
	scanner   *bufio.Scanner
	writer    io.Writer
	toolNames map[string]bool // Only confirm these tools (empty = all)
}

// NewToolConfirmHandler reads answers from in and writes prompts to out.
// Only the listed tools are confirmed; none listed means every tool.
func NewToolConfirmHandler(in *bufio.Scanner, out io.Writer, tools ...string) *ToolConfirmHandler {
	toolNames := make(map[string]bool)
	for _, t := range tools {
		toolNames[t] = true
	}
	return &ToolConfirmHandler{
		scanner:   in,
		writer:    out,
		toolNames: toolNames,
	}
}

func (h *ToolConfirmHandler) Name() string {
	return "tool_confirm"
}

func (h *ToolConfirmHandler) Points() []hook.Point {
	return []hook.Point{hook.BeforeToolExecution}
}

func (h *ToolConfirmHandler) Priority() int {
	return 100
}

func (h *ToolConfirmHandler) Handle(ctx context.Context, data *hook.Data) (*hook.Feedback, error) {
	// If specific tools are configured, check if this tool needs confirmation
	if len(h.toolNames) > 0 && !h.toolNames[data.ToolName] {
		return hook.Allow(), nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	fmt.Fprintf(h.writer, "\n\033[33m⚠️  Tool '%s' requires confirmation:\033[0m\n", data.ToolName)
	if args := data.GetString(hook.KeyArguments); args != "" {
		fmt.Fprintf(h.writer, "    Arguments: %s\n", args)
	}
	fmt.Fprintf(h.writer, "\nAllow? [y/N]: ")

	if !h.scanner.Scan() {
		return hook.Deny("No input received"), nil
	}

	switch strings.TrimSpace(strings.ToLower(h.scanner.Text())) {
	case "y", "yes", "s", "si", "sí":
		fmt.Fprintf(h.writer, "\033[32m✓ Allowed\033[0m\n\n")
		return hook.Allow(), nil
	default:
		fmt.Fprintf(h.writer, "\033[31m✗ Denied\033[0m\n\n")
		return hook.Deny("User denied tool execution"), nil
	}
}
