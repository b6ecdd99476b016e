// Package dispatch turns one user utterance into exactly one Result: it asks
// the oracle what to do, validates a suggested tool call against the
// registry, runs it and shapes the outcome for presentation.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"relay/internal/hook"
	"relay/internal/logger"
	"relay/internal/oracle"
	"relay/internal/session"
	"relay/internal/tool"
)

// DefaultOracleTimeout bounds a single oracle call
const DefaultOracleTimeout = 30 * time.Second

// Dispatcher runs turns against a fixed registry and oracle. It is safe for
// concurrent use by many sessions; turns of one session are serialised.
type Dispatcher struct {
	registry      *tool.Registry
	oracle        oracle.Oracle
	hooks         *hook.Manager
	logger        *logger.Logger
	oracleTimeout time.Duration
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithHooks attaches a hook manager
func WithHooks(m *hook.Manager) Option {
	return func(d *Dispatcher) {
		d.hooks = m
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithOracleTimeout sets the deadline of each oracle call. Zero or negative
// values keep DefaultOracleTimeout.
func WithOracleTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.oracleTimeout = timeout
		}
	}
}

func New(registry *tool.Registry, o oracle.Oracle, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry:      registry,
		oracle:        o,
		logger:        logger.Discard(),
		oracleTimeout: DefaultOracleTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Registry returns the registry the dispatcher resolves tools from
func (d *Dispatcher) Registry() *tool.Registry {
	return d.registry
}

// turn accumulates the state path of one Dispatch call
type turn struct {
	sess   *session.Session
	result *Result
}

func (t *turn) enter(s State) {
	t.result.State = s
	t.result.Path = append(t.result.Path, s)
}

// Dispatch runs one turn for sess. It never returns nil and never panics
// because of a tool or the oracle.
func (d *Dispatcher) Dispatch(ctx context.Context, sess *session.Session, utterance string) *Result {
	sess.Lock()
	defer sess.Unlock()

	start := time.Now()
	t := &turn{sess: sess, result: &Result{}}
	t.enter(Received)

	d.logger.TurnStart(sess.ID(), utterance)
	d.hooks.Notify(ctx, hook.NewData(hook.OnTurnStart, "").
		Set(hook.KeySession, sess.ID()).
		Set(hook.KeyUtterance, utterance))

	d.run(ctx, t, utterance)

	res := t.result
	res.Duration = time.Since(start)

	d.logger.TurnEnd(sess.ID(), res.State.String(), res.Duration)
	end := hook.NewData(hook.OnTurnEnd, "").
		Set(hook.KeySession, sess.ID()).
		Set(hook.KeyState, res.State.String()).
		Set(hook.KeyDuration, res.Duration)
	if res.Invocation != nil {
		end.ToolName = res.Invocation.Tool
	}
	if res.Err != nil {
		end.Set(hook.KeyError, res.Err.Error())
	}
	d.hooks.Notify(ctx, end)

	return res
}

func (d *Dispatcher) run(ctx context.Context, t *turn, utterance string) {
	resp, err := d.interpret(ctx, utterance)
	if err != nil {
		d.reject(t, err)
		return
	}
	t.enter(Classified)

	switch r := resp.(type) {
	case oracle.ToolCall:
		inv := r.Invocation
		t.result.Invocation = &inv
		d.execute(ctx, t, inv)

	case oracle.FreeText:
		t.result.Text = r.Text
		t.enter(Answered)

	case oracle.Malformed:
		d.logger.Debug("malformed oracle reply (%s): %q", r.Reason, r.Raw)
		d.reject(t, fmt.Errorf("%w: %s", ErrOracleParse, r.Reason))

	default:
		d.reject(t, fmt.Errorf("%w: unexpected response type %T", ErrOracleParse, resp))
	}
}

func (d *Dispatcher) interpret(ctx context.Context, utterance string) (oracle.Response, error) {
	octx, cancel := context.WithTimeout(ctx, d.oracleTimeout)
	defer cancel()

	resp, err := d.oracle.Interpret(octx, utterance, d.registry.DescribeAll())
	if err != nil {
		return nil, oracleError(err)
	}
	if resp == nil {
		return oracle.Malformed{Reason: "no response"}, nil
	}
	return resp, nil
}

// oracleError normalises errors from Oracle implementations that do not map
// context errors themselves
func oracleError(err error) error {
	switch {
	case errors.Is(err, ErrOracleTimeout), errors.Is(err, ErrOracleUnavailable):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrOracleTimeout, err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrOracleUnavailable, err)
	}
}

func (d *Dispatcher) execute(ctx context.Context, t *turn, inv oracle.Invocation) {
	desc, fn, err := d.registry.Resolve(inv.Tool)
	if err != nil {
		d.reject(t, err)
		return
	}

	args, err := bind(desc, fn, inv.Arguments)
	if err != nil {
		d.reject(t, fmt.Errorf("tool %s: %w", inv.Tool, err))
		return
	}
	argsJSON := present(args)

	before := hook.NewData(hook.BeforeToolExecution, inv.Tool).
		Set(hook.KeySession, t.sess.ID()).
		Set(hook.KeyArguments, argsJSON)
	feedback, err := d.hooks.Trigger(ctx, before)
	if err != nil {
		d.reject(t, fmt.Errorf("%w: %w", ErrToolDenied, err))
		return
	}
	if !feedback.Allow {
		d.reject(t, fmt.Errorf("%w: %s", ErrToolDenied, feedback.Message))
		return
	}

	t.enter(Executing)
	d.logger.ToolCall(inv.Tool, argsJSON)

	start := time.Now()
	out, err := call(ctx, fn, t.sess.State(), args)
	elapsed := time.Since(start)

	after := hook.NewData(hook.AfterToolExecution, inv.Tool).
		Set(hook.KeySession, t.sess.ID()).
		Set(hook.KeyArguments, argsJSON).
		Set(hook.KeyDuration, elapsed)

	if err != nil {
		d.logger.ToolResult(inv.Tool, false, err.Error(), elapsed)
		d.hooks.Notify(ctx, after.Set(hook.KeyError, err.Error()))

		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			d.reject(t, err)
			return
		}
		d.reject(t, &ToolFault{Tool: inv.Tool, Err: err})
		return
	}

	t.result.Payload = out
	t.result.Text = present(out)
	t.enter(Completed)

	d.logger.ToolResult(inv.Tool, true, t.result.Text, elapsed)
	d.hooks.Notify(ctx, after.Set(hook.KeyResult, t.result.Text))
}

func (d *Dispatcher) reject(t *turn, err error) {
	t.result.Err = err
	t.result.Text = userMessage(err, t.result.Invocation)
	t.enter(Rejected)
	d.logger.Warn("turn rejected: %v", err)
}

// missingArgs lists required parameters absent from an invocation
type missingArgs struct {
	names []string
}

func (e *missingArgs) Error() string {
	return fmt.Sprintf("%v: %s", ErrMissingArgument, e.list())
}

func (e *missingArgs) Is(target error) bool {
	return target == ErrMissingArgument
}

func (e *missingArgs) list() string {
	return strings.Join(e.names, ", ")
}

// bind checks that every required parameter has a non-null value and drops
// arguments the descriptor does not declare
func bind(desc tool.Descriptor, fn tool.Callable, supplied tool.Args) (tool.Args, error) {
	required := desc.RequiredParams()
	for _, name := range fn.Required() {
		if !slices.Contains(required, name) {
			required = append(required, name)
		}
	}

	var missing []string
	for _, name := range required {
		if v, ok := supplied[name]; !ok || v == nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, &missingArgs{names: missing}
	}

	args := make(tool.Args, len(desc.Params))
	for _, p := range desc.Params {
		if v, ok := supplied[p.Name]; ok {
			args[p.Name] = v
		}
	}
	return args, nil
}

// call invokes fn, turning a panic into an error
func call(ctx context.Context, fn tool.Callable, state *session.State, args tool.Args) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn.Call(ctx, state, args)
}

// Describe renders a Result for logs and debugging output
func Describe(r *Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "state=%s", r.State)
	if r.Invocation != nil {
		args, _ := json.Marshal(r.Invocation.Arguments)
		fmt.Fprintf(&b, " tool=%s args=%s", r.Invocation.Tool, args)
	}
	if r.Err != nil {
		fmt.Fprintf(&b, " error=%q", r.ErrorKind())
	}
	return b.String()
}
