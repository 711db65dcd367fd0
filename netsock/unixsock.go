package netsock

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// CreateBoundUnixSocket creates a UNIX-domain socket bound to path,
// unlinking any stale socket file left behind by a prior run first. When
// dgram is false the socket is SOCK_STREAM and put into the listening
// state; when true it is SOCK_DGRAM and left unconnected.
func CreateBoundUnixSocket(path string, dgram bool) (int, error) {
	if fi, err := os.Lstat(path); err == nil {
		if fi.Mode()&os.ModeSocket == 0 {
			return -1, fmt.Errorf("netsock: refusing to unlink non-socket at %s", path)
		}
		if err := os.Remove(path); err != nil {
			return -1, fmt.Errorf("netsock: removing stale socket %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return -1, fmt.Errorf("netsock: stat %s: %w", path, err)
	}

	typ := unix.SOCK_STREAM
	if dgram {
		typ = unix.SOCK_DGRAM
	}
	fd, err := unix.Socket(unix.AF_UNIX, typ, 0)
	if err != nil {
		return -1, fmt.Errorf("netsock: socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("netsock: bind %s: %w", path, err)
	}
	if !dgram {
		if err := unix.Listen(fd, listenBacklog); err != nil {
			unix.Close(fd)
			return -1, fmt.Errorf("netsock: listen: %w", err)
		}
	}
	if err := SetNonblocking(fd, true); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}
