package progress

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

const (
	maxLineSize = 1 << 20
	// acceptGrace is how long Close keeps accepting so that a client that
	// already connected, wrote and hung up is still read.
	acceptGrace = 100 * time.Millisecond
	// drainTimeout bounds how long Close waits for an attached client to
	// finish sending before the connection is cut.
	drainTimeout = 2 * time.Second
)

// Server receives progress lines on a local socket and forwards them to a
// Sink. A single goroutine accepts connections and reads them one at a time.
type Server struct {
	path   string
	ln     net.Listener
	sink   Sink
	logger *slog.Logger

	received atomic.Bool
	count    atomic.Int64
	closing  atomic.Bool
	cut      atomic.Bool

	mu     sync.Mutex
	active net.Conn

	done      chan struct{}
	closeOnce sync.Once
}

// Listen binds a Server to path. A stale socket file at path is removed
// first. A nil logger means slog.Default().
func Listen(t Transport, path string, sink Sink, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	ln, err := t.Listen(path)
	if err != nil {
		return nil, err
	}

	s := &Server{
		path:   path,
		ln:     ln,
		sink:   sink,
		logger: logger,
		done:   make(chan struct{}),
	}

	go s.loop()

	return s, nil
}

// Path returns the socket path clients dial.
func (s *Server) Path() string { return s.path }

// Received reports whether at least one line arrived.
func (s *Server) Received() bool { return s.received.Load() }

// Messages returns the number of lines received, sentinels included.
func (s *Server) Messages() int64 { return s.count.Load() }

// deadliner is implemented by listeners whose Accept can time out, such as
// *net.UnixListener.
type deadliner interface {
	SetDeadline(t time.Time) error
}

func (s *Server) loop() {
	defer close(s.done)

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if !s.closing.Load() || !isDone(err) {
				s.logger.Warn("progress: accept failed", "path", s.path, "error", err)
			}

			return
		}

		s.setActive(conn)
		s.serve(conn)
		s.setActive(nil)

		if s.cut.Load() {
			return
		}
	}
}

func (s *Server) setActive(conn net.Conn) {
	s.mu.Lock()
	s.active = conn
	s.mu.Unlock()
}

func (s *Server) serve(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), maxLineSize)

	for scanner.Scan() {
		s.received.Store(true)
		s.count.Add(1)

		msg, closeAll := Decode(scanner.Text())
		if closeAll {
			s.sink.CloseAll()

			continue
		}

		s.sink.Message(msg.Channel, msg.Text)
	}

	err := scanner.Err()
	if err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Warn("progress: read failed, connection abandoned", "path", s.path, "error", err)
	}
}

func isDone(err error) bool {
	var netErr net.Error

	return errors.Is(err, net.ErrClosed) || (errors.As(err, &netErr) && netErr.Timeout())
}

// Close keeps accepting for a short grace period so queued connections are
// still read, lets an attached client drain for a while, then stops the
// listener, waits for the read loop and removes the socket file.
func (s *Server) Close() error {
	var closeErr error

	s.closeOnce.Do(func() {
		s.closing.Store(true)

		dl, ok := s.ln.(deadliner)
		if !ok || dl.SetDeadline(time.Now().Add(acceptGrace)) != nil {
			closeErr = s.ln.Close()
		}

		select {
		case <-s.done:
		case <-time.After(drainTimeout):
			s.cut.Store(true)
			s.mu.Lock()
			if s.active != nil {
				_ = s.active.Close()
			}
			s.mu.Unlock()

			<-s.done
		}

		lnErr := s.ln.Close()
		if lnErr != nil && !errors.Is(lnErr, net.ErrClosed) {
			closeErr = errors.Join(closeErr, lnErr)
		}

		removeErr := os.Remove(s.path)
		if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			closeErr = errors.Join(closeErr, removeErr)
		}
	})

	return closeErr
}
