// Package llm holds the provider-neutral chat types the oracle completers
// are built on. Providers live in subpackages.
package llm

import "context"

// Client is a chat completion provider
type Client interface {
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	Provider() string
	Model() string
}

type ChatRequest struct {
	Messages    []Message
	Tools       []*ToolDefinition
	Temperature float32
	MaxTokens   int // 0 = provider default
}

type ChatResponse struct {
	Message    Message
	StopReason StopReason
	Usage      Usage
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat turn. ToolCalls is only set on assistant replies.
type Message struct {
	Role      Role
	Content   string
	Name      string
	ToolCalls []*ToolCall
}

// ToolDefinition advertises one function to the model
type ToolDefinition struct {
	Type     string
	Function *FunctionDef
}

type FunctionDef struct {
	Name        string
	Description string
	Parameters  any // JSON Schema object
}

// ToolCall is a function the model chose to call
type ToolCall struct {
	ID       string
	Type     string
	Function *FunctionCall
}

type FunctionCall struct {
	Name      string
	Arguments string // raw JSON object, as produced by the model
}

type StopReason string

const (
	StopReasonStop      StopReason = "stop"
	StopReasonLength    StopReason = "length"
	StopReasonToolCalls StopReason = "tool_calls"
)

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}
