package openai

import (
	"context"
	"errors"
	"math"

	"relay/internal/llm"
	"relay/internal/oracle"
	"relay/internal/tool"

	openai "github.com/sashabaranov/go-openai"
)

var errNoChoices = errors.New("no choices in completion response")

var _ llm.Client = (*Client)(nil)

type Client struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
}

// NewClient creates a new OpenAI client with the given API key and model.
// If baseURL is empty, it uses the default OpenAI API endpoint.
// If baseURL is provided, it uses the custom endpoint (useful for OpenAI-compatible APIs).
func NewClient(apiKey, model string, baseURL ...string) *Client {
	var client *openai.Client

	if len(baseURL) > 0 && baseURL[0] != "" {
		config := openai.DefaultConfig(apiKey)
		config.BaseURL = baseURL[0]
		client = openai.NewClientWithConfig(config)
	} else {
		client = openai.NewClient(apiKey)
	}

	return &Client{
		client: client,
		model:  model,
	}
}

// SetTemperature sets the sampling temperature used by Complete
func (c *Client) SetTemperature(t float32) {
	c.temperature = t
}

// SetMaxTokens caps the completion length used by Complete (0 = provider default)
func (c *Client) SetMaxTokens(n int) {
	c.maxTokens = n
}

func (c *Client) Provider() string {
	return "openai"
}

func (c *Client) Model() string {
	return c.model
}

func (c *Client) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    c.convertMessages(req.Messages),
		Tools:       c.convertTools(req.Tools),
		Temperature: temperature(req.Temperature),
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	return c.convertResponse(resp)
}

// Complete sends prompt as a single user message and returns the reply text
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.Chat(ctx, c.request(prompt, nil))
	if err != nil {
		return "", err
	}
	return resp.Message.Content, nil
}

// CompleteWithTools advertises tools as functions. The first function call
// of the reply, if any, is returned instead of the text.
func (c *Client) CompleteWithTools(ctx context.Context, prompt string, tools []tool.Descriptor) (*oracle.Completion, error) {
	resp, err := c.Chat(ctx, c.request(prompt, ToolDefinitions(tools)))
	if err != nil {
		return nil, err
	}

	for _, tc := range resp.Message.ToolCalls {
		if tc.Function == nil {
			continue
		}
		return &oracle.Completion{
			ToolName:  tc.Function.Name,
			Arguments: tc.Function.Arguments,
		}, nil
	}

	return &oracle.Completion{Text: resp.Message.Content}, nil
}

func (c *Client) request(prompt string, tools []*llm.ToolDefinition) *llm.ChatRequest {
	return &llm.ChatRequest{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Tools:       tools,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
}

// ToolDefinitions converts descriptors to function definitions
func ToolDefinitions(tools []tool.Descriptor) []*llm.ToolDefinition {
	defs := make([]*llm.ToolDefinition, len(tools))
	for i, t := range tools {
		defs[i] = &llm.ToolDefinition{
			Type: "function",
			Function: &llm.FunctionDef{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Schema(),
			},
		}
	}
	return defs
}

// temperature works around omitempty on the request field: a literal zero
// would be dropped and the provider default used instead
func temperature(t float32) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return t
}

// Helper method: message format conversion
func (c *Client) convertMessages(msgs []llm.Message) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, len(msgs))
	for i, msg := range msgs {
		result[i] = openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
			Name:    msg.Name,
		}
	}
	return result
}

// Helper method: tool definition conversion
func (c *Client) convertTools(tools []*llm.ToolDefinition) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}

	result := make([]openai.Tool, len(tools))
	for i, t := range tools {
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			},
		}
	}
	return result
}

// Helper method: response conversion
func (c *Client) convertResponse(resp openai.ChatCompletionResponse) (*llm.ChatResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, errNoChoices
	}

	choice := resp.Choices[0]
	msg := choice.Message

	result := &llm.ChatResponse{
		Message: llm.Message{
			Role:    llm.Role(msg.Role),
			Content: msg.Content,
		},
		Usage: llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}

	if len(msg.ToolCalls) > 0 {
		result.Message.ToolCalls = make([]*llm.ToolCall, len(msg.ToolCalls))
		for i, tc := range msg.ToolCalls {
			result.Message.ToolCalls[i] = &llm.ToolCall{
				ID:   tc.ID,
				Type: string(tc.Type),
				Function: &llm.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			}
		}
		result.StopReason = llm.StopReasonToolCalls
	} else {
		result.StopReason = llm.StopReason(choice.FinishReason)
	}

	return result, nil
}
