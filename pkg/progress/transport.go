package progress

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
)

// ErrTransportUnavailable is returned when the host cannot provide local
// sockets. Callers recover by reporting progress directly.
var ErrTransportUnavailable = errors.New("local socket transport unavailable")

const (
	socketPrefix  = "srcforge-"
	socketSuffix  = ".sock"
	socketHashLen = 12
	unixNetwork   = "unix"
)

// Transport opens the local byte stream used by the progress channel.
type Transport interface {
	Available() bool
	Listen(path string) (net.Listener, error)
	Dial(path string) (net.Conn, error)
}

type unixTransport struct{}

// UnixTransport returns a transport over Unix domain sockets.
func UnixTransport() Transport { return unixTransport{} }

func (unixTransport) Available() bool { return true }

func (unixTransport) Listen(path string) (net.Listener, error) {
	removeErr := os.Remove(path)
	if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket: %w", removeErr)
	}

	ln, err := net.Listen(unixNetwork, path)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", path, err)
	}

	return ln, nil
}

func (unixTransport) Dial(path string) (net.Conn, error) {
	conn, err := net.Dial(unixNetwork, path)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", path, err)
	}

	return conn, nil
}

type unavailableTransport struct{}

// UnavailableTransport returns a transport that never connects. It models a
// host without local socket support.
func UnavailableTransport() Transport { return unavailableTransport{} }

func (unavailableTransport) Available() bool { return false }

func (unavailableTransport) Listen(string) (net.Listener, error) {
	return nil, ErrTransportUnavailable
}

func (unavailableTransport) Dial(string) (net.Conn, error) {
	return nil, ErrTransportUnavailable
}

// DetectTransport probes a throwaway socket and returns UnixTransport when it
// works, UnavailableTransport otherwise.
func DetectTransport() Transport {
	dir, err := os.MkdirTemp("", socketPrefix+"probe-")
	if err != nil {
		return UnavailableTransport()
	}
	defer os.RemoveAll(dir)

	ln, err := net.Listen(unixNetwork, filepath.Join(dir, "p"+socketSuffix))
	if err != nil {
		return UnavailableTransport()
	}

	_ = ln.Close()

	return UnixTransport()
}

// SocketPath returns the deterministic socket path for an output key, under
// the system temp dir. The name is hashed to stay within socket path limits.
func SocketPath(key string) string {
	sum := sha256.Sum256([]byte(key))

	return filepath.Join(os.TempDir(), socketPrefix+hex.EncodeToString(sum[:])[:socketHashLen]+socketSuffix)
}
