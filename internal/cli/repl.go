// Package cli is the terminal front end: one prompt, one dispatched turn,
// one rendered result.
package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"relay/internal/dispatch"
	"relay/internal/logger"
	"relay/internal/session"
)

// ExitWords end the REPL
var ExitWords = []string{"exit", "quit", "salir"}

// Dispatcher runs one turn
type Dispatcher interface {
	Dispatch(ctx context.Context, sess *session.Session, utterance string) *dispatch.Result
}

// REPL reads utterances line by line and prints one result per turn
type REPL struct {
	dispatcher Dispatcher
	session    *session.Session
	in         *bufio.Scanner
	out        *Writer
	logger     *logger.Logger
	verbose    bool
	progress   bool

	turns     int
	toolCalls int
}

// Option configures a REPL
type Option func(*REPL)

// WithVerbose shows the structured payload and dispatch summary of each turn
func WithVerbose(v bool) Option {
	return func(r *REPL) { r.verbose = v }
}

func WithColor(enabled bool) Option {
	return func(r *REPL) { r.out.SetColorMode(enabled) }
}

func WithLogger(l *logger.Logger) Option {
	return func(r *REPL) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithInput reads requests from in instead of the REPL's own reader. Pass
// the scanner the confirmation prompt reads from so both consume the same
// lines in order.
func WithInput(in *bufio.Scanner) Option {
	return func(r *REPL) {
		if in != nil {
			r.in = in
		}
	}
}

// WithProgress shows a "Thinking..." line while a turn runs
func WithProgress(enabled bool) Option {
	return func(r *REPL) { r.progress = enabled }
}

func NewREPL(d Dispatcher, in io.Reader, out io.Writer, opts ...Option) *REPL {
	r := &REPL{
		dispatcher: d,
		session:    session.New(),
		in:         bufio.NewScanner(in),
		out:        NewWriter(out),
		logger:     logger.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Session returns the session all turns of this REPL share
func (r *REPL) Session() *session.Session {
	return r.session
}

// Run serves turns until an exit word, end of input or ctx is done
func (r *REPL) Run(ctx context.Context) error {
	start := time.Now()
	r.logger.SessionStart("Session Started", fmt.Sprintf("Type %s to leave", strings.Join(ExitWords, ", ")))
	defer func() {
		r.logger.SessionEnd(time.Since(start), r.turns, r.toolCalls)
	}()

	scanner := r.in
	for {
		if ctx.Err() != nil {
			return nil
		}

		r.out.WriteColored("You: ", ColorBold)
		if !scanner.Scan() {
			r.out.WriteLine("")
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if IsExit(line) {
			r.out.WriteLine("Bye!")
			return nil
		}

		r.Turn(ctx, line)
	}
}

// Turn dispatches one utterance and renders the result
func (r *REPL) Turn(ctx context.Context, utterance string) *dispatch.Result {
	indicator := NewProgressIndicator(r.out)
	if r.progress {
		indicator.Start()
		indicator.Show("Thinking...")
	}

	res := r.dispatcher.Dispatch(ctx, r.session, utterance)
	indicator.Stop()

	r.turns++
	if slices.Contains(res.Path, dispatch.Executing) {
		r.toolCalls++
	}

	r.Render(res)
	return res
}

// Render prints a result
func (r *REPL) Render(res *dispatch.Result) {
	switch res.State {
	case dispatch.Completed:
		r.out.WriteColored(fmt.Sprintf("[%s] ", res.Invocation.Tool), ColorCyan)
		r.out.WriteLine(res.Text)
	case dispatch.Answered:
		r.out.WriteColored("Assistant: ", ColorGreen)
		r.out.WriteLine(res.Text)
	default:
		r.out.WriteColored("! ", ColorYellow)
		r.out.WriteLine(res.Text)
	}

	if !r.verbose {
		return
	}
	if res.Payload != nil {
		if data, err := json.MarshalIndent(res.Payload, "  ", "  "); err == nil {
			r.out.WriteColored("  payload: "+string(data)+"\n", ColorGray)
		}
	}
	r.out.WriteColored(fmt.Sprintf("  %s (%s)\n", dispatch.Describe(res), res.Duration.Round(time.Millisecond)), ColorGray)
}

// IsExit reports whether line asks to leave the REPL
func IsExit(line string) bool {
	return slices.Contains(ExitWords, strings.ToLower(strings.TrimSpace(line)))
}
