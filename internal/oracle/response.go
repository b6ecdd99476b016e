package oracle

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"relay/internal/tool"
)

// Kind tags the three shapes a model reply can take
type Kind int

const (
	KindToolCall Kind = iota
	KindFreeText
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindToolCall:
		return "tool_call"
	case KindFreeText:
		return "free_text"
	case KindMalformed:
		return "malformed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Invocation names a tool and the arguments to call it with
type Invocation struct {
	Tool      string    `json:"tool"`
	Arguments tool.Args `json:"arguments"`
}

// Response is the classified reply of the oracle. It is always one of
// ToolCall, FreeText or Malformed.
type Response interface {
	Kind() Kind
	isResponse()
}

// ToolCall asks the dispatcher to run a tool
type ToolCall struct {
	Invocation Invocation
}

// FreeText is an answer to show to the user as is
type FreeText struct {
	Text string
}

// Malformed is a reply that parsed into an unexpected shape. Raw is kept for
// logging only and must never be acted upon.
type Malformed struct {
	Raw    string
	Reason string
}

func (ToolCall) Kind() Kind  { return KindToolCall }
func (FreeText) Kind() Kind  { return KindFreeText }
func (Malformed) Kind() Kind { return KindMalformed }

func (ToolCall) isResponse()  {}
func (FreeText) isResponse()  {}
func (Malformed) isResponse() {}

// Classify turns raw model output into a Response:
//
//   - {"tool": "...", "arguments": {...}} is a ToolCall
//   - {"response": "..."} and JSON strings are FreeText
//   - text that is not JSON at all is FreeText with the text itself
//   - blank output and any other JSON value is Malformed
//
// A Markdown code fence around the JSON is ignored.
func Classify(raw string) Response {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Malformed{Raw: raw, Reason: "empty reply"}
	}

	var value any
	if !decodeJSON(stripFence(text), &value) {
		return FreeText{Text: text}
	}

	switch v := value.(type) {
	case string:
		return FreeText{Text: v}

	case map[string]any:
		if name, present := v["tool"]; present {
			return classifyToolCall(raw, name, v["arguments"])
		}
		if answer, ok := v["response"].(string); ok {
			return FreeText{Text: answer}
		}
		return Malformed{Raw: raw, Reason: "object has neither a tool nor a response field"}

	default:
		return Malformed{Raw: raw, Reason: fmt.Sprintf("unexpected JSON value of type %T", value)}
	}
}

func classifyToolCall(raw string, name, arguments any) Response {
	toolName, ok := name.(string)
	if !ok || strings.TrimSpace(toolName) == "" {
		return Malformed{Raw: raw, Reason: "tool field is not a non-empty string"}
	}

	args := tool.Args{}
	switch a := arguments.(type) {
	case nil:
	case map[string]any:
		for k, v := range a {
			args[k] = v
		}
	default:
		return Malformed{Raw: raw, Reason: fmt.Sprintf("arguments must be an object, got %T", arguments)}
	}

	return ToolCall{Invocation: Invocation{Tool: toolName, Arguments: args}}
}

// decodeJSON reports whether text is exactly one JSON value
func decodeJSON(text string, v any) bool {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()

	if err := dec.Decode(v); err != nil {
		return false
	}
	_, err := dec.Token()
	return err == io.EOF
}

func stripFence(text string) string {
	if !strings.HasPrefix(text, "```") || !strings.HasSuffix(text, "```") || len(text) < 6 {
		return text
	}

	body := strings.TrimSuffix(text[3:], "```")
	// drop the info string, e.g. "json"
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	}
	return strings.TrimSpace(body)
}
