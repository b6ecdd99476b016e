package builtin

import (
	"context"
	"errors"

	"relay/internal/session"
	"relay/internal/tool"
)

const (
	keyMessage  = "message"
	keyUserData = "user_data"

	welcomeMessage = "Welcome!"
)

var errNoSession = errors.New("tool needs a session state")

type updateContextArgs struct {
	UserID     string `json:"user_id"`
	NewMessage string `json:"new_message"`
}

func registerContext(r *tool.Registry) error {
	if err := r.Register(tool.Descriptor{
		Name:        "update_context",
		Description: "Store a message for a user in the session context and return the whole context.",
		Params: []tool.Param{
			{Name: "user_id", Type: "string", Description: "User id", Required: true},
			{Name: "new_message", Type: "string", Description: "Message to store", Required: true},
		},
	}, tool.NewFunc(updateContext)); err != nil {
		return err
	}

	return r.Register(tool.Descriptor{
		Name:        "get_root_context",
		Description: "Return the session context.",
	}, tool.NewFunc(func(_ context.Context, state *session.State, _ struct{}) (map[string]any, error) {
		if state == nil {
			return nil, errNoSession
		}
		return rootContext(state.Snapshot()), nil
	}))
}

func updateContext(ctx context.Context, state *session.State, in updateContextArgs) (map[string]any, error) {
	if state == nil {
		return nil, errNoSession
	}

	err := state.Update(ctx, func(tx map[string]any) error {
		userData, _ := tx[keyUserData].(map[string]any)
		if userData == nil {
			userData = make(map[string]any)
		}
		userData[in.UserID] = in.NewMessage
		tx[keyUserData] = userData

		if _, ok := tx[keyMessage]; !ok {
			tx[keyMessage] = welcomeMessage
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return rootContext(state.Snapshot()), nil
}

// rootContext fills in defaults for a state that was never written
func rootContext(values map[string]any) map[string]any {
	root := map[string]any{
		keyMessage:  welcomeMessage,
		keyUserData: map[string]any{},
	}
	if v, ok := values[keyMessage]; ok {
		root[keyMessage] = v
	}
	if v, ok := values[keyUserData].(map[string]any); ok {
		root[keyUserData] = v
	}
	return root
}
