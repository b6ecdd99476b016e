package builtin

import (
	"context"

	"relay/internal/session"
	"relay/internal/tool"
)

// User is an entry of the static user directory
type User struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

var users = map[string]User{
	"1": {Name: "Amin", Role: "Teacher"},
	"2": {Name: "Felipe", Role: "Course Director"},
	"3": {Name: "Agus", Role: "Course Director"},
	"4": {Name: "Jhon", Role: "Coordinator"},
}

type userArgs struct {
	UserID string `json:"user_id"`
}

type squareArgs struct {
	Number int `json:"number"`
}

func registerDirectory(r *tool.Registry) error {
	if err := r.Register(tool.Descriptor{
		Name:        "get_status",
		Description: "Return the server status.",
	}, tool.NewFunc(func(_ context.Context, _ *session.State, _ struct{}) (map[string]string, error) {
		return map[string]string{"status": "Running", "version": "1.0.0"}, nil
	})); err != nil {
		return err
	}

	if err := r.Register(tool.Descriptor{
		Name:        "get_user_info",
		Description: "Look up a user by id.",
		Params: []tool.Param{
			{Name: "user_id", Type: "string", Description: "User id, e.g. \"1\"", Required: true},
		},
	}, tool.NewFunc(func(_ context.Context, _ *session.State, in userArgs) (any, error) {
		if u, ok := users[in.UserID]; ok {
			return u, nil
		}
		return map[string]string{"error": "user not found"}, nil
	})); err != nil {
		return err
	}

	return r.Register(tool.Descriptor{
		Name:        "calculate_square",
		Description: "Return the square of a number.",
		Params: []tool.Param{
			{Name: "number", Type: "integer", Description: "Number to square", Required: true},
		},
	}, tool.NewFunc(func(_ context.Context, _ *session.State, in squareArgs) (map[string]int, error) {
		return map[string]int{"number": in.Number, "square": in.Number * in.Number}, nil
	}))
}
