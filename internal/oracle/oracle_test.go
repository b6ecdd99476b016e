package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"relay/internal/tool"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Response
	}{
		{
			name: "tool call",
			raw:  `{"tool":"add","arguments":{"a":10,"b":5}}`,
			want: ToolCall{Invocation: Invocation{Tool: "add", Arguments: tool.Args{"a": json.Number("10"), "b": json.Number("5")}}},
		},
		{
			name: "tool call without arguments",
			raw:  `{"tool":"get_status"}`,
			want: ToolCall{Invocation: Invocation{Tool: "get_status", Arguments: tool.Args{}}},
		},
		{
			name: "tool call in code fence",
			raw:  "```json\n{\"tool\": \"get_horoscope\", \"arguments\": {\"sign\": \"Libra\"}}\n```",
			want: ToolCall{Invocation: Invocation{Tool: "get_horoscope", Arguments: tool.Args{"sign": "Libra"}}},
		},
		{
			name: "free response",
			raw:  `{"response": "Albert Einstein was a physicist."}`,
			want: FreeText{Text: "Albert Einstein was a physicist."},
		},
		{
			name: "plain text",
			raw:  "I'm not sure what you mean",
			want: FreeText{Text: "I'm not sure what you mean"},
		},
		{
			name: "text starting with a number",
			raw:  "42 is the answer",
			want: FreeText{Text: "42 is the answer"},
		},
		{
			name: "JSON string",
			raw:  `"hello there"`,
			want: FreeText{Text: "hello there"},
		},
		{
			name: "broken JSON is text",
			raw:  `{"tool": "add", "arguments": {`,
			want: FreeText{Text: `{"tool": "add", "arguments": {`},
		},
		{name: "blank", raw: "  \n ", want: Malformed{}},
		{name: "number", raw: "42", want: Malformed{}},
		{name: "array", raw: `[{"tool":"add"}]`, want: Malformed{}},
		{name: "unknown object", raw: `{"answer": "yes"}`, want: Malformed{}},
		{name: "non-string tool", raw: `{"tool": 7}`, want: Malformed{}},
		{name: "empty tool", raw: `{"tool": " "}`, want: Malformed{}},
		{name: "arguments not an object", raw: `{"tool": "add", "arguments": [1, 2]}`, want: Malformed{}},
		{name: "non-string response", raw: `{"response": {"nested": true}}`, want: Malformed{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.raw)
			require.Equal(t, tt.want.Kind(), got.Kind(), "got %#v", got)

			if m, ok := got.(Malformed); ok {
				assert.Equal(t, tt.raw, m.Raw)
				assert.NotEmpty(t, m.Reason)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

var descriptors = []tool.Descriptor{
	{
		Name:        "add",
		Description: "Add two numbers.",
		Params: []tool.Param{
			{Name: "a", Type: "integer", Description: "First number", Required: true},
			{Name: "b", Type: "integer", Required: true},
		},
	},
	{
		Name: "get_status",
	},
	{
		Name:        "search",
		Description: "Search\nthe web.",
		Params: []tool.Param{
			{Name: "query", Type: "string", Required: true},
			{Name: "num_results", Type: "integer"},
		},
	},
}

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt("What is 10 plus 5?", slices.Values(descriptors))

	assert.Contains(t, prompt, "1. add(a: integer, b: integer) - Add two numbers.")
	assert.Contains(t, prompt, "   - a: First number")
	assert.Contains(t, prompt, "2. get_status()")
	assert.Contains(t, prompt, "3. search(query: string, num_results?: integer) - Search the web.")
	assert.Contains(t, prompt, `{"tool": "<tool name>"`)
	assert.Contains(t, prompt, `{"response": "<your answer>"}`)
	assert.True(t, strings.HasSuffix(prompt, "User: What is 10 plus 5?\n"))

	assert.Less(t, strings.Index(prompt, "add("), strings.Index(prompt, "search("))
}

func TestBuildPrompt_NoTools(t *testing.T) {
	prompt := BuildPrompt("hi", slices.Values([]tool.Descriptor(nil)))
	assert.Contains(t, prompt, "(none)")
}

type stubCompleter struct {
	reply   string
	err     error
	prompts []string
}

func (s *stubCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	s.prompts = append(s.prompts, prompt)
	return s.reply, s.err
}

type stubToolCompleter struct {
	stubCompleter
	completion *Completion
	tools      []tool.Descriptor
}

func (s *stubToolCompleter) CompleteWithTools(ctx context.Context, prompt string, tools []tool.Descriptor) (*Completion, error) {
	s.tools = tools
	return s.completion, s.err
}

func TestPromptOracle_Interpret(t *testing.T) {
	completer := &stubCompleter{reply: `{"tool":"add","arguments":{"a":1,"b":2}}`}
	o := New(completer)

	resp, err := o.Interpret(context.Background(), "add 1 and 2", slices.Values(descriptors))
	require.NoError(t, err)

	call, ok := resp.(ToolCall)
	require.True(t, ok, "got %#v", resp)
	assert.Equal(t, "add", call.Invocation.Tool)
	require.Len(t, completer.prompts, 1)
	assert.Contains(t, completer.prompts[0], "User: add 1 and 2")
}

func TestPromptOracle_MalformedIsNotAnError(t *testing.T) {
	o := New(&stubCompleter{reply: "[]"})

	resp, err := o.Interpret(context.Background(), "?", slices.Values(descriptors))
	require.NoError(t, err)
	assert.Equal(t, KindMalformed, resp.Kind())
}

func TestPromptOracle_Errors(t *testing.T) {
	t.Run("unavailable", func(t *testing.T) {
		o := New(&stubCompleter{err: errors.New("401 unauthorized")})

		_, err := o.Interpret(context.Background(), "hi", slices.Values(descriptors))
		assert.ErrorIs(t, err, ErrUnavailable)
		assert.NotErrorIs(t, err, ErrTimeout)
	})

	t.Run("deadline", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
		defer cancel()
		<-ctx.Done()

		o := New(&stubCompleter{err: ctx.Err()})
		_, err := o.Interpret(ctx, "hi", slices.Values(descriptors))
		assert.ErrorIs(t, err, ErrTimeout)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		o := New(&stubCompleter{err: ctx.Err()})
		_, err := o.Interpret(ctx, "hi", slices.Values(descriptors))
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, ErrUnavailable)
	})
}

func TestPromptOracle_NativeTools(t *testing.T) {
	completer := &stubToolCompleter{completion: &Completion{ToolName: "add", Arguments: `{"a":10,"b":5}`}}

	resp, err := New(completer, WithNativeTools(true)).Interpret(context.Background(), "10+5", slices.Values(descriptors))
	require.NoError(t, err)
	assert.Equal(t, ToolCall{Invocation: Invocation{Tool: "add", Arguments: tool.Args{"a": json.Number("10"), "b": json.Number("5")}}}, resp)
	assert.Len(t, completer.tools, len(descriptors))
	assert.Empty(t, completer.prompts, "plain completion should not be used")
}

func TestPromptOracle_NativeToolsText(t *testing.T) {
	completer := &stubToolCompleter{completion: &Completion{Text: "Hello!"}}

	resp, err := New(completer, WithNativeTools(true)).Interpret(context.Background(), "hi", slices.Values(descriptors))
	require.NoError(t, err)
	assert.Equal(t, FreeText{Text: "Hello!"}, resp)
}

func TestPromptOracle_NativeToolsBadArguments(t *testing.T) {
	completer := &stubToolCompleter{completion: &Completion{ToolName: "add", Arguments: `{"a":`}}

	resp, err := New(completer, WithNativeTools(true)).Interpret(context.Background(), "hi", slices.Values(descriptors))
	require.NoError(t, err)
	assert.Equal(t, KindMalformed, resp.Kind())
}

func TestPromptOracle_NativeToolsDisabled(t *testing.T) {
	completer := &stubToolCompleter{stubCompleter: stubCompleter{reply: "plain"}}

	resp, err := New(completer).Interpret(context.Background(), "hi", slices.Values(descriptors))
	require.NoError(t, err)
	assert.Equal(t, FreeText{Text: "plain"}, resp)
	assert.Nil(t, completer.tools)
}
