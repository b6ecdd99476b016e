package dispatch

import (
	"errors"
	"fmt"

	"relay/internal/oracle"
	"relay/internal/tool"
)

// Per-turn error kinds. Every Rejected result carries an error matching
// exactly one of these with errors.Is, or context.Canceled.
var (
	ErrUnknownTool       = tool.ErrUnknownTool
	ErrMissingArgument   = errors.New("missing required argument")
	ErrOracleParse       = oracle.ErrParse
	ErrOracleUnavailable = oracle.ErrUnavailable
	ErrOracleTimeout     = oracle.ErrTimeout
	ErrToolExecution     = errors.New("tool execution fault")
	ErrToolDenied        = errors.New("tool execution denied")
)

// ToolFault wraps an error returned, or a panic raised, by a tool callable
type ToolFault struct {
	Tool string
	Err  error
}

func (f *ToolFault) Error() string {
	return fmt.Sprintf("tool %s: %v", f.Tool, f.Err)
}

func (f *ToolFault) Unwrap() error {
	return f.Err
}

// Is makes every ToolFault match ErrToolExecution
func (f *ToolFault) Is(target error) bool {
	return target == ErrToolExecution
}
