package builtin

import (
	"context"
	"errors"

	"relay/internal/session"
	"relay/internal/tool"
)

// ErrDivisionByZero is the fault raised by divide when b is zero
var ErrDivisionByZero = errors.New("division by zero")

type operands struct {
	A int `json:"a"`
	B int `json:"b"`
}

func operandParams(a, b string) []tool.Param {
	return []tool.Param{
		{Name: "a", Type: "integer", Description: a, Required: true},
		{Name: "b", Type: "integer", Description: b, Required: true},
	}
}

func registerCalculator(r *tool.Registry) error {
	tools := []struct {
		desc tool.Descriptor
		fn   tool.Callable
	}{
		{
			desc: tool.Descriptor{
				Name:        "add",
				Description: "Add two numbers.",
				Params:      operandParams("First number to add", "Second number to add"),
			},
			fn: tool.NewFunc(func(_ context.Context, _ *session.State, in operands) (int, error) {
				return in.A + in.B, nil
			}),
		},
		{
			desc: tool.Descriptor{
				Name:        "subtract",
				Description: "Subtract two numbers.",
				Params:      operandParams("Number to subtract from", "Number to subtract"),
			},
			fn: tool.NewFunc(func(_ context.Context, _ *session.State, in operands) (int, error) {
				return in.A - in.B, nil
			}),
		},
		{
			desc: tool.Descriptor{
				Name:        "multiply",
				Description: "Multiply two numbers.",
				Params:      operandParams("First number to multiply", "Second number to multiply"),
			},
			fn: tool.NewFunc(func(_ context.Context, _ *session.State, in operands) (int, error) {
				return in.A * in.B, nil
			}),
		},
		{
			desc: tool.Descriptor{
				Name:        "divide",
				Description: "Divide two numbers. Fails when the divisor is zero.",
				Params:      operandParams("Number to divide (dividend)", "Number to divide by (divisor)"),
			},
			fn: tool.NewFunc(divide),
		},
	}

	for _, t := range tools {
		if err := r.Register(t.desc, t.fn); err != nil {
			return err
		}
	}
	return nil
}

func divide(_ context.Context, _ *session.State, in operands) (float64, error) {
	if in.B == 0 {
		return 0, ErrDivisionByZero
	}
	return float64(in.A) / float64(in.B), nil
}
