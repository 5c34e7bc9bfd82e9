package progress

import (
	"fmt"
	"io"
	"net"
	"sync"
)

// Reporter is the worker-side progress abstraction. Implementations never
// block the caller on delivery and never fail the run.
type Reporter interface {
	Send(channel, text string)
	Progress(channel string, done, total int, label string)
	CloseAll()
	Close() error
}

// Client writes progress lines to a Server.
type Client struct {
	mu   sync.Mutex
	conn net.Conn
	err  error
}

// Dial connects to the server socket at path.
func Dial(t Transport, path string) (*Client, error) {
	conn, err := t.Dial(path)
	if err != nil {
		return nil, err
	}

	return &Client{conn: conn}, nil
}

func (c *Client) write(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return
	}

	_, err := io.WriteString(c.conn, line)
	if err != nil {
		c.err = fmt.Errorf("progress write: %w", err)
	}
}

// Send writes one message. After the first write error every later message
// is dropped.
func (c *Client) Send(channel, text string) {
	c.write(Message{Channel: channel, Text: text}.Encode())
}

// Progress sends a counter update.
func (c *Client) Progress(channel string, done, total int, label string) {
	c.Send(channel, FormatProgress(done, total, label))
}

// CloseAll sends the sentinel.
func (c *Client) CloseAll() {
	c.write(Sentinel + lineEnd)
}

// Err returns the first write error, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.err
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.conn.Close()
	if err != nil {
		return fmt.Errorf("progress close: %w", err)
	}

	return nil
}

// DirectReporter writes progress straight to an output stream. It stands in
// for the socket channel when the host has no local sockets.
type DirectReporter struct {
	mu  sync.Mutex
	out io.Writer
}

// NewDirectReporter returns a reporter writing "[channel] text" lines to out.
func NewDirectReporter(out io.Writer) *DirectReporter {
	return &DirectReporter{out: out}
}

// Send writes one line. Write errors are ignored.
func (d *DirectReporter) Send(channel, text string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, _ = fmt.Fprintf(d.out, "[%s] %s\n", sanitize(channel), sanitizeLine(text))
}

// Progress writes a counter update.
func (d *DirectReporter) Progress(channel string, done, total int, label string) {
	d.Send(channel, FormatProgress(done, total, label))
}

// CloseAll is a no-op; direct output has nothing to flush.
func (d *DirectReporter) CloseAll() {}

// Close is a no-op.
func (d *DirectReporter) Close() error { return nil }

// Discard returns a Reporter that drops everything.
func Discard() Reporter { return discardReporter{} }

type discardReporter struct{}

func (discardReporter) Send(string, string)               {}
func (discardReporter) Progress(string, int, int, string) {}
func (discardReporter) CloseAll()                         {}
func (discardReporter) Close() error                      { return nil }
