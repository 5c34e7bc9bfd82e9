package progress

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
)

// Sink consumes messages on the orchestrator side.
type Sink interface {
	Message(channel, text string)
	CloseAll()
}

// LogSink forwards messages to a logger: counter updates at debug level,
// everything else at info.
type LogSink struct {
	Logger *slog.Logger
}

// Message logs one message.
func (s LogSink) Message(channel, text string) {
	logger := s.logger()

	if done, total, label, ok := ParseProgress(text); ok {
		logger.Debug("progress", "channel", channel, "done", done, "total", total, "label", label)

		return
	}

	logger.Info("progress", "channel", channel, "text", text)
}

// CloseAll logs the close request.
func (s LogSink) CloseAll() {
	s.logger().Debug("progress: channels closed")
}

func (s LogSink) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}

	return s.Logger
}

// DiscardSink drops everything.
type DiscardSink struct{}

// Message does nothing.
func (DiscardSink) Message(string, string) {}

// CloseAll does nothing.
func (DiscardSink) CloseAll() {}

// Progress bar characters.
const (
	BarFilled = "█"
	BarEmpty  = "░"

	defaultBarWidth = 20
)

// DrawBar draws a bar of the given width for a 0..1 fraction.
// Example: DrawBar(0.7, 10) returns "███████░░░".
func DrawBar(value float64, width int) string {
	value = min(max(value, 0), 1)

	filled := int(value * float64(width))

	return strings.Repeat(BarFilled, filled) + strings.Repeat(BarEmpty, width-filled)
}

// TerminalSink renders counter updates as bars, one line per update:
//
//	decompile [████░░░░░░░░░░░░░░░░] 12/60 foo/Bar
//
// Other messages are printed as "channel text". CloseAll prints a summary of
// the channels seen since the previous CloseAll.
type TerminalSink struct {
	mu       sync.Mutex
	out      io.Writer
	width    int
	channels map[string]int
}

// NewTerminalSink returns a TerminalSink writing to out.
func NewTerminalSink(out io.Writer) *TerminalSink {
	return &TerminalSink{out: out, width: defaultBarWidth, channels: make(map[string]int)}
}

// Message renders one message.
func (t *TerminalSink) Message(channel, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.channels[channel]++

	done, total, label, ok := ParseProgress(text)
	if !ok {
		_, _ = fmt.Fprintf(t.out, "%s %s\n", channel, text)

		return
	}

	line := fmt.Sprintf("%s [%s] %d/%d", channel, DrawBar(float64(done)/float64(total), t.width), done, total)
	if label != "" {
		line += " " + label
	}

	_, _ = fmt.Fprintln(t.out, line)
}

// CloseAll prints the summary and resets the channel set.
func (t *TerminalSink) CloseAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.channels) == 0 {
		return
	}

	names := make([]string, 0, len(t.channels))
	updates := 0

	for name, n := range t.channels {
		names = append(names, name)
		updates += n
	}

	slices.Sort(names)

	_, _ = fmt.Fprintf(t.out, "progress: %d updates on %s\n", updates, strings.Join(names, ", "))

	clear(t.channels)
}
