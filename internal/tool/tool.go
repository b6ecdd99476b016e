package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"relay/internal/session"

	"github.com/google/jsonschema-go/jsonschema"
)

// Param describes one named parameter of a tool
type Param struct {
	Name        string
	Type        string // JSON Schema type: "integer", "number", "string", ...
	Description string
	Required    bool
}

// Descriptor advertises a tool to the oracle and validates its invocations
type Descriptor struct {
	Name        string
	Description string
	Params      []Param
}

// RequiredParams returns the names of required parameters in declaration order
func (d Descriptor) RequiredParams() []string {
	var names []string
	for _, p := range d.Params {
		if p.Required {
			names = append(names, p.Name)
		}
	}
	return names
}

// Schema renders the parameter list as a JSON Schema object
func (d Descriptor) Schema() *jsonschema.Schema {
	schema := &jsonschema.Schema{
		Type:       "object",
		Properties: make(map[string]*jsonschema.Schema, len(d.Params)),
	}

	for _, p := range d.Params {
		schema.Properties[p.Name] = &jsonschema.Schema{
			Type:        p.Type,
			Description: p.Description,
		}
		if p.Required {
			schema.Required = append(schema.Required, p.Name)
		}
	}

	return schema
}

func (d Descriptor) clone() Descriptor {
	d.Params = slices.Clone(d.Params)
	return d
}

// Args are the arguments of one invocation, keyed by parameter name
type Args map[string]any

// Callable is the executable half of a registered tool
type Callable interface {
	// Required returns the parameter names the callable cannot run without
	Required() []string

	// Call runs the tool. state is the calling session's state; tools that
	// do not share state ignore it.
	Call(ctx context.Context, state *session.State, args Args) (any, error)
}

// Func adapts a typed Go function to Callable. Arguments are decoded into In
// through JSON; required parameters are the fields of In without omitempty.
type Func[In, Out any] struct {
	required []string
	fn       func(ctx context.Context, state *session.State, in In) (Out, error)
}

// NewFunc wraps fn. It panics if no JSON Schema can be inferred for In.
func NewFunc[In, Out any](fn func(ctx context.Context, state *session.State, in In) (Out, error)) *Func[In, Out] {
	schema, err := jsonschema.For[In](nil)
	if err != nil {
		var zero In
		panic(fmt.Sprintf("tool: cannot infer schema for %T: %v", zero, err))
	}

	return &Func[In, Out]{
		required: schema.Required,
		fn:       fn,
	}
}

func (f *Func[In, Out]) Required() []string {
	return slices.Clone(f.required)
}

func (f *Func[In, Out]) Call(ctx context.Context, state *session.State, args Args) (any, error) {
	var in In

	if len(args) > 0 {
		data, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
		if err := json.Unmarshal(data, &in); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
	}

	return f.fn(ctx, state, in)
}
