package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"relay/internal/oracle"
)

// State is a dispatcher state. Completed, Answered and Rejected are terminal.
type State int

const (
	Received State = iota
	Classified
	Executing
	Completed
	Answered
	Rejected
)

func (s State) String() string {
	switch s {
	case Received:
		return "received"
	case Classified:
		return "classified"
	case Executing:
		return "executing"
	case Completed:
		return "completed"
	case Answered:
		return "answered"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Result is the outcome of one turn
type Result struct {
	State State
	// Path lists every state the turn went through, ending with State
	Path []State
	// Text is what the presentation layer shows. It never contains raw
	// model output for a Malformed reply nor the raw error of a tool fault.
	Text string
	// Payload is the value returned by the tool for Completed turns
	Payload    any
	Invocation *oracle.Invocation
	// Err is set for Rejected turns
	Err      error
	Duration time.Duration
}

// ErrorKind names the error class of a Rejected result, "" otherwise
func (r *Result) ErrorKind() string {
	switch err := r.Err; {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnknownTool):
		return "unknown_tool"
	case errors.Is(err, ErrMissingArgument):
		return "missing_argument"
	case errors.Is(err, ErrOracleParse):
		return "oracle_parse"
	case errors.Is(err, ErrOracleTimeout):
		return "oracle_timeout"
	case errors.Is(err, ErrOracleUnavailable):
		return "oracle_unavailable"
	case errors.Is(err, ErrToolExecution):
		return "tool_execution"
	case errors.Is(err, ErrToolDenied):
		return "tool_denied"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "internal"
	}
}

// Messages shown for Rejected turns
const (
	msgOracleParse       = "Sorry, I could not understand the reply from the language model. Please rephrase your request."
	msgOracleUnavailable = "The language model integration is unavailable right now. Please try again later."
	msgOracleTimeout     = "The language model took too long to answer. Please try again."
	msgCancelled         = "The request was cancelled."
	msgInternal          = "Something went wrong while handling your request."
)

func userMessage(err error, inv *oracle.Invocation) string {
	name := ""
	if inv != nil {
		name = inv.Tool
	}

	switch {
	case errors.Is(err, ErrUnknownTool):
		return fmt.Sprintf("There is no tool called %q, so I cannot do that.", name)
	case errors.Is(err, ErrMissingArgument):
		var missing *missingArgs
		if errors.As(err, &missing) {
			return fmt.Sprintf("The %s tool needs a value for %s. Please include it in your request.", name, missing.list())
		}
		return fmt.Sprintf("The %s tool is missing a required value.", name)
	case errors.Is(err, ErrOracleParse):
		return msgOracleParse
	case errors.Is(err, ErrOracleTimeout):
		return msgOracleTimeout
	case errors.Is(err, ErrOracleUnavailable):
		return msgOracleUnavailable
	case errors.Is(err, ErrToolExecution):
		return fmt.Sprintf("The %s tool could not complete the request.", name)
	case errors.Is(err, ErrToolDenied):
		return fmt.Sprintf("Running %s was not allowed.", name)
	case errors.Is(err, context.Canceled):
		return msgCancelled
	default:
		return msgInternal
	}
}

// present renders a tool result: strings as is, anything else as JSON
func present(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
