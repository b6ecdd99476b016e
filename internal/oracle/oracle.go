package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"slices"

	"relay/internal/tool"
)

var (
	// ErrParse marks a turn rejected because the reply was Malformed
	ErrParse = errors.New("oracle reply could not be interpreted")
	// ErrUnavailable is returned when the model could not be reached
	ErrUnavailable = errors.New("oracle unavailable")
	// ErrTimeout is returned when the model did not answer before the deadline
	ErrTimeout = errors.New("oracle timed out")
)

// Oracle maps a user utterance to a classified Response
type Oracle interface {
	// Interpret never fails because of what the model said; malformed output
	// is reported as Malformed. It fails with ErrUnavailable or ErrTimeout when
	// the model call itself does not complete.
	Interpret(ctx context.Context, utterance string, tools iter.Seq[tool.Descriptor]) (Response, error)
}

// Completer is the hosted language model: prompt in, text out
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// ToolCompleter is a Completer that can also advertise tools natively
type ToolCompleter interface {
	Completer

	// CompleteWithTools returns either the model's text or, when the model
	// chose a tool, a single function call
	CompleteWithTools(ctx context.Context, prompt string, tools []tool.Descriptor) (*Completion, error)
}

// Completion is the reply of a ToolCompleter
type Completion struct {
	Text      string
	ToolName  string
	Arguments string // raw JSON object
}

// PromptOracle asks a Completer using the JSON reply protocol of BuildPrompt
type PromptOracle struct {
	completer   Completer
	nativeTools bool
}

// Option configures a PromptOracle
type Option func(*PromptOracle)

// WithNativeTools advertises tools through the model's function calling API
// when the completer supports it
func WithNativeTools(enabled bool) Option {
	return func(o *PromptOracle) {
		o.nativeTools = enabled
	}
}

func New(completer Completer, opts ...Option) *PromptOracle {
	o := &PromptOracle{completer: completer}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *PromptOracle) Interpret(ctx context.Context, utterance string, tools iter.Seq[tool.Descriptor]) (Response, error) {
	prompt := BuildPrompt(utterance, tools)

	if tc, ok := o.completer.(ToolCompleter); ok && o.nativeTools {
		completion, err := tc.CompleteWithTools(ctx, prompt, slices.Collect(tools))
		if err != nil {
			return nil, callError(ctx, err)
		}
		if completion == nil {
			return Classify(""), nil
		}
		return Classify(completion.canonical()), nil
	}

	raw, err := o.completer.Complete(ctx, prompt)
	if err != nil {
		return nil, callError(ctx, err)
	}

	return Classify(raw), nil
}

// canonical renders a native function call in the same JSON shape the
// prompt protocol uses, so classification has a single code path
func (c *Completion) canonical() string {
	if c.ToolName == "" {
		return c.Text
	}

	args := json.RawMessage(c.Arguments)
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	data, err := json.Marshal(struct {
		Tool      string          `json:"tool"`
		Arguments json.RawMessage `json:"arguments"`
	}{c.ToolName, args})
	if err != nil {
		// invalid argument JSON from the model
		return fmt.Sprintf(`{"tool": %q, "arguments": "unparseable"}`, c.ToolName)
	}
	return string(data)
}

func callError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case errors.Is(err, context.Canceled), errors.Is(ctx.Err(), context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
}
