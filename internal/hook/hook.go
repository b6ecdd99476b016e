package hook

import (
	"context"
	"time"
)

// Point defines when a hook is triggered
type Point string

const (
	// Tool execution hooks
	BeforeToolExecution Point = "before_tool_execution"
	AfterToolExecution  Point = "after_tool_execution"

	// Turn lifecycle hooks
	OnTurnStart Point = "on_turn_start"
	OnTurnEnd   Point = "on_turn_end"
)

// Well-known Data keys
const (
	KeySession   = "session"
	KeyUtterance = "utterance"
	KeyArguments = "arguments" // JSON-encoded invocation arguments
	KeyResult    = "result"    // presented text of a finished tool call
	KeyError     = "error"
	KeyState     = "state" // terminal dispatch state
	KeyDuration  = "duration"
)

// Data carries point-specific information for hooks
type Data struct {
	Point     Point
	Timestamp time.Time
	ToolName  string
	Values    map[string]any
}

// NewData creates a new Data instance
func NewData(point Point, toolName string) *Data {
	return &Data{
		Point:     point,
		Timestamp: time.Now(),
		ToolName:  toolName,
		Values:    make(map[string]any),
	}
}

// Set sets a value
func (d *Data) Set(key string, value any) *Data {
	d.Values[key] = value
	return d
}

// Get retrieves a value
func (d *Data) Get(key string) any {
	return d.Values[key]
}

// GetString retrieves a string value
func (d *Data) GetString(key string) string {
	if v, ok := d.Values[key].(string); ok {
		return v
	}
	return ""
}

// Feedback is returned by handlers to control execution flow
type Feedback struct {
	Allow   bool   // Whether to allow the operation to continue
	Message string // Optional message to display
}

// Allow creates an allow feedback
func Allow() *Feedback {
	return &Feedback{Allow: true}
}

// Deny creates a deny feedback with message
func Deny(message string) *Feedback {
	return &Feedback{Allow: false, Message: message}
}

// Handler is the interface for hook handlers
type Handler interface {
	// Name returns the handler name
	Name() string

	// Points returns which hook points this handler listens to
	Points() []Point

	// Handle processes the hook event and returns feedback. Feedback is
	// only honoured at BeforeToolExecution; other points are notifications.
	Handle(ctx context.Context, data *Data) (*Feedback, error)

	// Priority returns the handler priority (higher = earlier execution)
	Priority() int
}

// HandlerFunc adapts a function to a Handler listening on the given points
type HandlerFunc struct {
	HandlerName string
	On          []Point
	Order       int
	Fn          func(ctx context.Context, data *Data) (*Feedback, error)
}

func (h HandlerFunc) Name() string    { return h.HandlerName }
func (h HandlerFunc) Points() []Point { return h.On }
func (h HandlerFunc) Priority() int   { return h.Order }

func (h HandlerFunc) Handle(ctx context.Context, data *Data) (*Feedback, error) {
	return h.Fn(ctx, data)
}
