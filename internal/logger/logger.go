package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// Level represents the log level
type Level int

const (
	LevelDebug Level = iota // Debug information (only shown with --verbose)
	LevelInfo               // Important steps
	LevelTool               // Tool call related
	LevelWarn               // Rejected turns and recoverable problems
	LevelError              // Error messages
	LevelSilent             // Nothing at all
)

// ParseLevel maps a config or flag value to a Level
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "tool":
		return LevelTool, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	case "silent", "off":
		return LevelSilent, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// ANSI color codes for terminal output
const (
	ColorReset   = "\033[0m"
	ColorRed     = "\033[31m"
	ColorGreen   = "\033[32m"
	ColorYellow  = "\033[33m"
	ColorBlue    = "\033[34m"
	ColorMagenta = "\033[35m"
	ColorCyan    = "\033[36m"
	ColorGray    = "\033[90m"
	ColorBold    = "\033[1m"
)

// Logger writes leveled, optionally colored lines. It is safe for
// concurrent use.
type Logger struct {
	mu        sync.Mutex
	writer    io.Writer
	level     Level
	showTime  bool
	colorMode bool
}

// NewLogger creates a new Logger instance
func NewLogger(w io.Writer, level Level) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return &Logger{
		writer:    w,
		level:     level,
		showTime:  true,
		colorMode: true,
	}
}

// Discard returns a logger that drops everything
func Discard() *Logger {
	return NewLogger(io.Discard, LevelSilent)
}

// SetColorMode enables or disables colored output
func (l *Logger) SetColorMode(enabled bool) {
	l.mu.Lock()
	l.colorMode = enabled
	l.mu.Unlock()
}

// SetShowTime enables or disables timestamp display
func (l *Logger) SetShowTime(enabled bool) {
	l.mu.Lock()
	l.showTime = enabled
	l.mu.Unlock()
}

// Debug logs debug information (only shown in verbose mode)
func (l *Logger) Debug(format string, args ...any) {
	if l.level <= LevelDebug {
		l.log(ColorGray, "DEBUG", format, args...)
	}
}

// Info logs general information
func (l *Logger) Info(format string, args ...any) {
	if l.level <= LevelInfo {
		l.log(ColorBlue, "INFO", format, args...)
	}
}

func (l *Logger) Warn(format string, args ...any) {
	if l.level <= LevelWarn {
		l.log(ColorYellow, "WARN", format, args...)
	}
}

// Error logs error messages
func (l *Logger) Error(format string, args ...any) {
	if l.level <= LevelError {
		l.log(ColorRed, "ERROR", format, args...)
	}
}

// TurnStart logs an incoming utterance
func (l *Logger) TurnStart(sessionID, utterance string) {
	if l.level <= LevelDebug {
		l.log(ColorMagenta, "TURN", "session=%s utterance=%q", shortID(sessionID), utterance)
	}
}

// TurnEnd logs the terminal state of a turn
func (l *Logger) TurnEnd(sessionID, state string, duration time.Duration) {
	if l.level <= LevelDebug {
		l.log(ColorMagenta, "TURN", "session=%s state=%s duration=%s",
			shortID(sessionID), state, duration.Round(time.Millisecond))
	}
}

// ToolCall logs a tool call with its arguments
func (l *Logger) ToolCall(toolName string, args string) {
	if l.level <= LevelTool {
		l.printSection(ColorCyan, fmt.Sprintf("🔧 Tool Call: %s", toolName), l.formatJSON(args))
	}
}

// ToolResult logs a tool execution result
func (l *Logger) ToolResult(toolName string, success bool, output string, duration time.Duration) {
	if l.level <= LevelTool {
		status := "✅ Success"
		color := ColorGreen
		if !success {
			status = "❌ Failed"
			color = ColorRed
		}

		header := fmt.Sprintf("📊 Tool Result: %s [%s] (%s)", toolName, status, duration)
		l.printSection(color, header, truncate(output))
	}
}

// SessionStart logs the beginning of an interactive session
func (l *Logger) SessionStart(title, subtitle string) {
	if l.level <= LevelInfo {
		l.printBanner(ColorCyan, "🚀 "+title, subtitle)
	}
}

// SessionEnd logs the end of an interactive session with statistics
func (l *Logger) SessionEnd(duration time.Duration, turns, toolCalls int) {
	if l.level <= LevelInfo {
		summary := fmt.Sprintf("Duration: %s | Turns: %d | Tool Calls: %d", duration.Round(time.Millisecond), turns, toolCalls)
		l.printBanner(ColorGreen, "✨ Session Ended", summary)
	}
}

// truncate limits output to 2 lines and 500 characters
func truncate(output string) string {
	const maxLines = 2
	const maxLength = 500

	lines := strings.Split(strings.TrimRight(output, "\n"), "\n")
	display := output
	truncatedLines := false

	if len(lines) > maxLines {
		display = strings.Join(lines[:maxLines], "\n")
		truncatedLines = true
	}

	if len(display) > maxLength {
		cut := maxLength
		for cut > 0 && !utf8.RuneStart(display[cut]) {
			cut--
		}
		display = display[:cut] + "..."
	} else if truncatedLines {
		display += "\n..."
	}
	return display
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// log is the core logging method
func (l *Logger) log(color, level, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := ""
	if l.showTime {
		timestamp = time.Now().Format("15:04:05") + " "
	}

	msg := fmt.Sprintf(format, args...)

	if l.colorMode {
		fmt.Fprintf(l.writer, "%s%s[%s]%s %s\n",
			color, timestamp, level, ColorReset, msg)
	} else {
		fmt.Fprintf(l.writer, "%s[%s] %s\n", timestamp, level, msg)
	}
}

// printSection prints a formatted section with header and content
func (l *Logger) printSection(color, header, content string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	separator := strings.Repeat("─", 60)

	if l.colorMode {
		fmt.Fprintf(l.writer, "\n%s%s%s%s\n", ColorBold, color, header, ColorReset)
		fmt.Fprintf(l.writer, "%s%s%s\n", color, separator, ColorReset)
		fmt.Fprintf(l.writer, "%s\n", content)
		fmt.Fprintf(l.writer, "%s%s%s\n\n", color, separator, ColorReset)
	} else {
		fmt.Fprintf(l.writer, "\n%s\n%s\n%s\n%s\n\n", header, separator, content, separator)
	}
}

// printBanner prints a prominent banner for session start/end
func (l *Logger) printBanner(color, title, subtitle string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	separator := strings.Repeat("═", 70)

	if l.colorMode {
		fmt.Fprintf(l.writer, "\n%s%s%s%s\n", ColorBold, color, separator, ColorReset)
		fmt.Fprintf(l.writer, "%s%s  %s%s\n", ColorBold, color, title, ColorReset)
		if subtitle != "" {
			fmt.Fprintf(l.writer, "%s  %s%s\n", color, subtitle, ColorReset)
		}
		fmt.Fprintf(l.writer, "%s%s%s%s\n\n", ColorBold, color, separator, ColorReset)
	} else {
		fmt.Fprintf(l.writer, "\n%s\n  %s\n", separator, title)
		if subtitle != "" {
			fmt.Fprintf(l.writer, "  %s\n", subtitle)
		}
		fmt.Fprintf(l.writer, "%s\n\n", separator)
	}
}

// formatJSON formats JSON strings adaptively based on length
// Short JSON (< 80 chars) stays compact, long JSON gets pretty-printed
func (l *Logger) formatJSON(jsonStr string) string {
	compact := strings.TrimSpace(jsonStr)
	if len(compact) < 80 {
		return compact
	}

	var obj any
	if err := json.Unmarshal([]byte(compact), &obj); err != nil {
		return compact
	}

	pretty, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		return compact
	}

	return string(pretty)
}
