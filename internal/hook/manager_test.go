package hook

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func recorder(name string, order int, seen *[]string, fb *Feedback, points ...Point) HandlerFunc {
	return HandlerFunc{
		HandlerName: name,
		On:          points,
		Order:       order,
		Fn: func(ctx context.Context, data *Data) (*Feedback, error) {
			*seen = append(*seen, name)
			return fb, nil
		},
	}
}

func TestManager_PriorityOrder(t *testing.T) {
	var seen []string
	m := NewManager()
	m.Register(recorder("low", 1, &seen, Allow(), BeforeToolExecution))
	m.Register(recorder("high", 10, &seen, Allow(), BeforeToolExecution))
	m.Register(recorder("mid", 5, &seen, Allow(), BeforeToolExecution, OnTurnEnd))

	fb, err := m.Trigger(context.Background(), NewData(BeforeToolExecution, "add"))
	if err != nil {
		t.Fatalf("Trigger() error = %v", err)
	}
	if !fb.Allow {
		t.Errorf("Trigger() denied")
	}
	if diff := cmp.Diff([]string{"high", "mid", "low"}, seen); diff != "" {
		t.Errorf("call order mismatch (-want +got):\n%s", diff)
	}

	seen = nil
	m.Notify(context.Background(), NewData(OnTurnEnd, ""))
	if diff := cmp.Diff([]string{"mid"}, seen); diff != "" {
		t.Errorf("turn end handlers mismatch (-want +got):\n%s", diff)
	}
}

func TestManager_DenyStopsChain(t *testing.T) {
	var seen []string
	m := NewManager()
	m.Register(recorder("deny", 10, &seen, Deny("nope"), BeforeToolExecution))
	m.Register(recorder("after", 1, &seen, Allow(), BeforeToolExecution))

	fb, err := m.Trigger(context.Background(), NewData(BeforeToolExecution, "add"))
	if err != nil {
		t.Fatalf("Trigger() error = %v", err)
	}
	if fb.Allow || fb.Message != "nope" {
		t.Errorf("Trigger() = %+v, want denial", fb)
	}
	if diff := cmp.Diff([]string{"deny"}, seen); diff != "" {
		t.Errorf("call order mismatch (-want +got):\n%s", diff)
	}
}

func TestManager_HandlerError(t *testing.T) {
	boom := errors.New("boom")
	m := NewManager()
	m.Register(HandlerFunc{
		HandlerName: "broken",
		On:          []Point{BeforeToolExecution},
		Fn: func(ctx context.Context, data *Data) (*Feedback, error) {
			return nil, boom
		},
	})

	if _, err := m.Trigger(context.Background(), NewData(BeforeToolExecution, "add")); !errors.Is(err, boom) {
		t.Errorf("Trigger() error = %v, want %v", err, boom)
	}
}

func TestManager_Nil(t *testing.T) {
	var m *Manager

	fb, err := m.Trigger(context.Background(), NewData(BeforeToolExecution, "add"))
	if err != nil || !fb.Allow {
		t.Errorf("nil manager Trigger() = %+v, %v; want allow", fb, err)
	}
	m.Notify(context.Background(), NewData(OnTurnEnd, ""))
}
