package dispatch

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"relay/internal/hook"
	"relay/internal/oracle"
	"relay/internal/session"
	"relay/internal/tool"
	"relay/internal/tool/builtin"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedOracle always returns the same response
type fixedOracle struct {
	resp  oracle.Response
	err   error
	calls atomic.Int32
	tools []string
}

func (o *fixedOracle) Interpret(ctx context.Context, utterance string, tools iter.Seq[tool.Descriptor]) (oracle.Response, error) {
	o.calls.Add(1)
	o.tools = o.tools[:0]
	for d := range tools {
		o.tools = append(o.tools, d.Name)
	}
	return o.resp, o.err
}

func toolCall(name string, args tool.Args) oracle.Response {
	return oracle.ToolCall{Invocation: oracle.Invocation{Tool: name, Arguments: args}}
}

// completerFunc lets a test act as the hosted model behind a PromptOracle
type completerFunc func(ctx context.Context, prompt string) (string, error)

func (f completerFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// countingCallable records invocations of the wrapped callable
type countingCallable struct {
	tool.Callable
	calls atomic.Int32
}

func (c *countingCallable) Call(ctx context.Context, state *session.State, args tool.Args) (any, error) {
	c.calls.Add(1)
	return c.Callable.Call(ctx, state, args)
}

type addArgs struct {
	A int `json:"a"`
	B int `json:"b"`
}

var addDescriptor = tool.Descriptor{
	Name:        "add",
	Description: "Add two numbers.",
	Params: []tool.Param{
		{Name: "a", Type: "integer", Required: true},
		{Name: "b", Type: "integer", Required: true},
	},
}

func newAdd() *countingCallable {
	return &countingCallable{Callable: tool.NewFunc(func(_ context.Context, _ *session.State, in addArgs) (int, error) {
		return in.A + in.B, nil
	})}
}

func calculatorRegistry(t *testing.T) *tool.Registry {
	t.Helper()
	r := tool.NewRegistry()
	require.NoError(t, builtin.Register(r, "calculator"))
	return r
}

func TestScenario_AddCompletes(t *testing.T) {
	r := tool.NewRegistry()
	add := newAdd()
	require.NoError(t, r.Register(addDescriptor, add))

	o := oracle.New(completerFunc(func(ctx context.Context, prompt string) (string, error) {
		return `{"tool":"add","arguments":{"a":10,"b":5}}`, nil
	}))

	res := New(r, o).Dispatch(context.Background(), session.New(), "What is 10 plus 5?")

	require.Equal(t, Completed, res.State, "err: %v", res.Err)
	assert.Equal(t, "15", res.Text)
	assert.Equal(t, 15, res.Payload)
	assert.NoError(t, res.Err)
	assert.Equal(t, "add", res.Invocation.Tool)
	assert.EqualValues(t, 1, add.calls.Load())
	if diff := cmp.Diff([]State{Received, Classified, Executing, Completed}, res.Path); diff != "" {
		t.Errorf("path mismatch (-want +got):\n%s", diff)
	}
}

func TestScenario_DivideByZeroIsFault(t *testing.T) {
	o := &fixedOracle{resp: toolCall("divide", tool.Args{"a": 10, "b": 0})}

	res := New(calculatorRegistry(t), o).Dispatch(context.Background(), session.New(), "10 divided by 0")

	require.Equal(t, Rejected, res.State)
	assert.ErrorIs(t, res.Err, ErrToolExecution)
	assert.ErrorIs(t, res.Err, builtin.ErrDivisionByZero)

	var fault *ToolFault
	require.ErrorAs(t, res.Err, &fault)
	assert.Equal(t, "divide", fault.Tool)

	assert.NotContains(t, res.Text, builtin.ErrDivisionByZero.Error())
	assert.Equal(t, "tool_execution", res.ErrorKind())
	assert.Equal(t, []State{Received, Classified, Executing, Rejected}, res.Path)
}

func TestScenario_PlainTextAnswered(t *testing.T) {
	const reply = "I'm not sure what you mean"
	o := oracle.New(completerFunc(func(ctx context.Context, prompt string) (string, error) {
		return reply, nil
	}))

	res := New(calculatorRegistry(t), o).Dispatch(context.Background(), session.New(), "blorp")

	require.Equal(t, Answered, res.State)
	assert.Equal(t, reply, res.Text)
	assert.Nil(t, res.Invocation)
	assert.Nil(t, res.Payload)
	assert.Equal(t, []State{Received, Classified, Answered}, res.Path)
}

func TestScenario_OracleTimeout(t *testing.T) {
	r := tool.NewRegistry()
	add := newAdd()
	require.NoError(t, r.Register(addDescriptor, add))

	o := oracle.New(completerFunc(func(ctx context.Context, prompt string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}))

	d := New(r, o, WithOracleTimeout(20*time.Millisecond))
	res := d.Dispatch(context.Background(), session.New(), "What is 10 plus 5?")

	require.Equal(t, Rejected, res.State)
	assert.ErrorIs(t, res.Err, ErrOracleTimeout)
	assert.Equal(t, msgOracleTimeout, res.Text)
	assert.Zero(t, add.calls.Load())
	assert.Equal(t, []State{Received, Rejected}, res.Path)
}

func TestDispatch_UnknownTool(t *testing.T) {
	r := tool.NewRegistry()
	add := newAdd()
	require.NoError(t, r.Register(addDescriptor, add))

	res := New(r, &fixedOracle{resp: toolCall("rm_rf", tool.Args{"path": "/"})}).
		Dispatch(context.Background(), session.New(), "delete everything")

	require.Equal(t, Rejected, res.State)
	assert.ErrorIs(t, res.Err, ErrUnknownTool)
	assert.Contains(t, res.Text, "rm_rf")
	assert.Zero(t, add.calls.Load())
}

func TestDispatch_MissingArgument(t *testing.T) {
	tests := []struct {
		name    string
		args    tool.Args
		missing string
	}{
		{name: "one missing", args: tool.Args{"a": 3}, missing: "b"},
		{name: "all missing", args: tool.Args{}, missing: "a, b"},
		{name: "null counts as missing", args: tool.Args{"a": 3, "b": nil}, missing: "b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := tool.NewRegistry()
			add := newAdd()
			require.NoError(t, r.Register(addDescriptor, add))

			res := New(r, &fixedOracle{resp: toolCall("add", tt.args)}).
				Dispatch(context.Background(), session.New(), "add 3")

			require.Equal(t, Rejected, res.State)
			assert.ErrorIs(t, res.Err, ErrMissingArgument)
			assert.Contains(t, res.Text, tt.missing)
			assert.Zero(t, add.calls.Load())
			assert.NotContains(t, res.Path, Executing)
		})
	}
}

func TestDispatch_ExtraArgumentsIgnored(t *testing.T) {
	var got tool.Args
	status := tool.NewFunc(func(_ context.Context, _ *session.State, in struct{}) (string, error) {
		return "Running", nil
	})
	spy := callableFunc{Callable: status, seen: &got}

	r := tool.NewRegistry()
	require.NoError(t, r.Register(tool.Descriptor{Name: "get_status"}, spy))

	res := New(r, &fixedOracle{resp: toolCall("get_status", tool.Args{"verbose": true})}).
		Dispatch(context.Background(), session.New(), "status?")

	require.Equal(t, Completed, res.State, "err: %v", res.Err)
	assert.Equal(t, "Running", res.Text)
	assert.Empty(t, got)
}

type callableFunc struct {
	tool.Callable
	seen *tool.Args
}

func (c callableFunc) Call(ctx context.Context, state *session.State, args tool.Args) (any, error) {
	*c.seen = args
	return c.Callable.Call(ctx, state, args)
}

func TestDispatch_Malformed(t *testing.T) {
	raw := `{"cmd": "rm -rf /"}`
	r := tool.NewRegistry()
	add := newAdd()
	require.NoError(t, r.Register(addDescriptor, add))

	res := New(r, &fixedOracle{resp: oracle.Classify(raw)}).
		Dispatch(context.Background(), session.New(), "hello")

	require.Equal(t, Rejected, res.State)
	assert.ErrorIs(t, res.Err, ErrOracleParse)
	assert.Equal(t, msgOracleParse, res.Text)
	assert.NotContains(t, res.Text, "rm -rf")
	assert.Zero(t, add.calls.Load())
}

func TestDispatch_OracleUnavailable(t *testing.T) {
	o := oracle.New(completerFunc(func(ctx context.Context, prompt string) (string, error) {
		return "", errors.New("dial tcp: connection refused")
	}))

	res := New(calculatorRegistry(t), o).Dispatch(context.Background(), session.New(), "hi")

	require.Equal(t, Rejected, res.State)
	assert.ErrorIs(t, res.Err, ErrOracleUnavailable)
	assert.Equal(t, msgOracleUnavailable, res.Text)
	assert.NotEqual(t, msgOracleParse, res.Text)
	assert.Equal(t, "oracle_unavailable", res.ErrorKind())
}

func TestDispatch_RawOracleErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
		kind string
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: ErrOracleTimeout, kind: "oracle_timeout"},
		{name: "cancelled", err: context.Canceled, want: context.Canceled, kind: "cancelled"},
		{name: "other", err: errors.New("quota exceeded"), want: ErrOracleUnavailable, kind: "oracle_unavailable"},
		{name: "already mapped", err: ErrOracleTimeout, want: ErrOracleTimeout, kind: "oracle_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := New(calculatorRegistry(t), &fixedOracle{err: tt.err}).
				Dispatch(context.Background(), session.New(), "hi")

			require.Equal(t, Rejected, res.State)
			assert.ErrorIs(t, res.Err, tt.want)
			assert.Equal(t, tt.kind, res.ErrorKind())
		})
	}
}

func TestDispatch_NilResponseIsMalformed(t *testing.T) {
	res := New(calculatorRegistry(t), &fixedOracle{}).Dispatch(context.Background(), session.New(), "hi")

	assert.Equal(t, Rejected, res.State)
	assert.ErrorIs(t, res.Err, ErrOracleParse)
}

func TestDispatch_Idempotent(t *testing.T) {
	o := &fixedOracle{resp: toolCall("multiply", tool.Args{"a": 6, "b": 7})}
	d := New(calculatorRegistry(t), o)
	sess := session.New()

	first := d.Dispatch(context.Background(), sess, "6 times 7")
	second := d.Dispatch(context.Background(), sess, "6 times 7")

	require.Equal(t, Completed, first.State)
	assert.Equal(t, "42", first.Text)
	assert.Equal(t, first.Text, second.Text)
	assert.Equal(t, first.State, second.State)
}

func TestDispatch_PanicIsFault(t *testing.T) {
	boom := tool.NewFunc(func(_ context.Context, _ *session.State, in struct{}) (int, error) {
		panic("kaboom")
	})
	r := tool.NewRegistry()
	require.NoError(t, r.Register(tool.Descriptor{Name: "boom"}, boom))

	res := New(r, &fixedOracle{resp: toolCall("boom", nil)}).Dispatch(context.Background(), session.New(), "explode")

	require.Equal(t, Rejected, res.State)
	assert.ErrorIs(t, res.Err, ErrToolExecution)
	assert.NotContains(t, res.Text, "kaboom")
}

func TestDispatch_StructuredPayload(t *testing.T) {
	r := tool.NewRegistry()
	require.NoError(t, builtin.Register(r, "directory"))

	res := New(r, &fixedOracle{resp: toolCall("get_status", nil)}).Dispatch(context.Background(), session.New(), "status")

	require.Equal(t, Completed, res.State, "err: %v", res.Err)
	assert.JSONEq(t, `{"status":"Running","version":"1.0.0"}`, res.Text)
	assert.NotNil(t, res.Payload)
}

func TestDispatch_SessionState(t *testing.T) {
	r := tool.NewRegistry()
	require.NoError(t, builtin.Register(r, "context"))

	o := &fixedOracle{resp: toolCall("update_context", tool.Args{"user_id": "ana", "new_message": "hola"})}
	d := New(r, o)
	sess := session.New()

	res := d.Dispatch(context.Background(), sess, "remember hola for ana")
	require.Equal(t, Completed, res.State, "err: %v", res.Err)

	other := session.New()
	o.resp = toolCall("get_root_context", nil)

	mine := d.Dispatch(context.Background(), sess, "show context")
	theirs := d.Dispatch(context.Background(), other, "show context")

	require.Equal(t, Completed, mine.State)
	require.Equal(t, Completed, theirs.State)
	assert.Contains(t, mine.Text, "hola")
	assert.NotContains(t, theirs.Text, "hola")
}

func TestDispatch_Hooks(t *testing.T) {
	t.Run("denied", func(t *testing.T) {
		r := tool.NewRegistry()
		add := newAdd()
		require.NoError(t, r.Register(addDescriptor, add))

		hooks := hook.NewManager()
		hooks.Register(hook.HandlerFunc{
			HandlerName: "deny",
			On:          []hook.Point{hook.BeforeToolExecution},
			Fn: func(ctx context.Context, data *hook.Data) (*hook.Feedback, error) {
				return hook.Deny("not today"), nil
			},
		})

		res := New(r, &fixedOracle{resp: toolCall("add", tool.Args{"a": 1, "b": 2})}, WithHooks(hooks)).
			Dispatch(context.Background(), session.New(), "1+2")

		require.Equal(t, Rejected, res.State)
		assert.ErrorIs(t, res.Err, ErrToolDenied)
		assert.Zero(t, add.calls.Load())
	})

	t.Run("lifecycle", func(t *testing.T) {
		var mu sync.Mutex
		var seen []string
		hooks := hook.NewManager()
		hooks.Register(hook.HandlerFunc{
			HandlerName: "record",
			On:          []hook.Point{hook.OnTurnStart, hook.BeforeToolExecution, hook.AfterToolExecution, hook.OnTurnEnd},
			Fn: func(ctx context.Context, data *hook.Data) (*hook.Feedback, error) {
				mu.Lock()
				defer mu.Unlock()
				entry := string(data.Point)
				if v := data.GetString(hook.KeyResult); v != "" {
					entry += "=" + v
				}
				if v := data.GetString(hook.KeyState); v != "" {
					entry += "=" + v
				}
				seen = append(seen, entry)
				return hook.Allow(), nil
			},
		})

		res := New(calculatorRegistry(t), &fixedOracle{resp: toolCall("subtract", tool.Args{"a": 5, "b": 7})}, WithHooks(hooks)).
			Dispatch(context.Background(), session.New(), "5-7")

		require.Equal(t, Completed, res.State)
		assert.Equal(t, []string{
			"on_turn_start",
			"before_tool_execution",
			"after_tool_execution=-2",
			"on_turn_end=completed",
		}, seen)
	})
}

func TestDispatch_AdvertisesRegistryInOrder(t *testing.T) {
	o := &fixedOracle{resp: oracle.FreeText{Text: "ok"}}
	New(calculatorRegistry(t), o).Dispatch(context.Background(), session.New(), "hi")

	assert.Equal(t, []string{"add", "subtract", "multiply", "divide"}, o.tools)
}

func TestDispatch_SerialisesSessionTurns(t *testing.T) {
	var active, maxActive atomic.Int32
	slow := tool.NewFunc(func(_ context.Context, _ *session.State, in struct{}) (string, error) {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		return "done", nil
	})
	r := tool.NewRegistry()
	require.NoError(t, r.Register(tool.Descriptor{Name: "slow"}, slow))

	d := New(r, &fixedOracle{resp: toolCall("slow", nil)})
	sess := session.New()

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Dispatch(context.Background(), sess, "go")
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, maxActive.Load())
}

func TestDispatch_CancelledDuringTool(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	wait := tool.NewFunc(func(ctx context.Context, _ *session.State, in struct{}) (string, error) {
		cancel()
		<-ctx.Done()
		return "", ctx.Err()
	})
	r := tool.NewRegistry()
	require.NoError(t, r.Register(tool.Descriptor{Name: "wait"}, wait))

	res := New(r, &fixedOracle{resp: toolCall("wait", nil)}).Dispatch(ctx, session.New(), "wait")

	require.Equal(t, Rejected, res.State)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.NotErrorIs(t, res.Err, ErrToolExecution)
	assert.Equal(t, msgCancelled, res.Text)
}

func TestPresent(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{in: "plain", want: "plain"},
		{in: 15, want: "15"},
		{in: 2.5, want: "2.5"},
		{in: map[string]int{"result": 4}, want: `{"result":4}`},
		{in: nil, want: "null"},
	}
	for _, tt := range tests {
		if got := present(tt.in); got != tt.want {
			t.Errorf("present(%#v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDescribe(t *testing.T) {
	res := &Result{
		State:      Rejected,
		Invocation: &oracle.Invocation{Tool: "add", Arguments: tool.Args{"a": 3}},
		Err:        &missingArgs{names: []string{"b"}},
	}
	got := Describe(res)
	for _, want := range []string{"state=rejected", "tool=add", `args={"a":3}`, `error="missing_argument"`} {
		if !strings.Contains(got, want) {
			t.Errorf("Describe() = %q, missing %q", got, want)
		}
	}
}
