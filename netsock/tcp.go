// Package netsock provides raw-fd socket helpers and a reference-counted
// listening-socket registry. Helpers return bare ints rather than net.Conn
// because the scheduler package multiplexes raw fds directly.
package netsock

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

const listenBacklog = 5

// CreateBoundTCPSocket creates a TCP socket bound to 0.0.0.0:port with
// SO_REUSEADDR set and puts it into the listening state.
func CreateBoundTCPSocket(port uint16) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, fmt.Errorf("netsock: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("netsock: setsockopt SO_REUSEADDR: %w", err)
	}
	sa := &unix.SockaddrInet4{Port: int(port)}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("netsock: bind: %w", err)
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("netsock: listen: %w", err)
	}
	if err := SetNonblocking(fd, true); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// AcceptFull accepts one pending connection on a non-blocking listening fd,
// disabling keepalive on the new connection (it is opt-in per accepted
// client, not inherited from the listener).
func AcceptFull(fd int) (connFD int, remoteIP net.IP, remotePort uint16, err error) {
	nfd, sa, err := unix.Accept(fd)
	if err != nil {
		return -1, nil, 0, err
	}
	if err := SetNonblocking(nfd, true); err != nil {
		unix.Close(nfd)
		return -1, nil, 0, err
	}
	if err := SetKeepAlive(nfd, false); err != nil {
		unix.Close(nfd)
		return -1, nil, 0, err
	}
	switch addr := sa.(type) {
	case *unix.SockaddrInet4:
		ip := net.IPv4(addr.Addr[0], addr.Addr[1], addr.Addr[2], addr.Addr[3])
		return nfd, ip, uint16(addr.Port), nil
	default:
		unix.Close(nfd)
		return -1, nil, 0, fmt.Errorf("netsock: unexpected accept sockaddr type %T", sa)
	}
}

// ConnectNonblocking creates a non-blocking TCP socket and begins an async
// connect to ip:port. The caller watches the returned fd for writability
// (or error) via the scheduler to learn when the connect completes.
func ConnectNonblocking(ip net.IP, port uint16) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, fmt.Errorf("netsock: socket: %w", err)
	}
	if err := SetNonblocking(fd, true); err != nil {
		unix.Close(fd)
		return -1, err
	}
	v4 := ip.To4()
	if v4 == nil {
		unix.Close(fd)
		return -1, fmt.Errorf("netsock: connect target %s is not IPv4", ip)
	}
	sa := &unix.SockaddrInet4{Port: int(port), Addr: [4]byte{v4[0], v4[1], v4[2], v4[3]}}
	err = unix.Connect(fd, sa)
	if err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return -1, fmt.Errorf("netsock: connect: %w", err)
	}
	return fd, nil
}

// ConnectSucceeded checks SO_ERROR on a socket whose non-blocking connect
// has just become writable, distinguishing a completed connect from a
// failed one.
func ConnectSucceeded(fd int) (bool, error) {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return false, err
	}
	if errno != 0 {
		return false, unix.Errno(errno)
	}
	return true, nil
}

// SetNonblocking toggles O_NONBLOCK on fd.
func SetNonblocking(fd int, nb bool) error {
	return unix.SetNonblock(fd, nb)
}

// SetKeepAlive toggles SO_KEEPALIVE on fd.
func SetKeepAlive(fd int, on bool) error {
	v := 0
	if on {
		v = 1
	}
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, v)
}

// Send writes data to fd, looping until the full payload is written, a hard
// error occurs, or the peer returns zero (closed). MSG_NOSIGNAL suppresses
// SIGPIPE on a peer that has already closed its read side.
func Send(fd int, data []byte) (int, error) {
	total := 0
	for total < len(data) {
		n, err := unix.Send(fd, data[total:], unix.MSG_NOSIGNAL)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
				continue
			}
			return total, err
		}
		if n == 0 {
			return total, net.ErrClosed
		}
		total += n
	}
	return total, nil
}

// Receive performs a single non-blocking read into buf.
func Receive(fd int, buf []byte) (int, error) {
	return unix.Read(fd, buf)
}

// IsWouldBlock reports whether err is EAGAIN/EWOULDBLOCK: no data is ready
// on a non-blocking fd right now, not a real error.
func IsWouldBlock(err error) bool {
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK
}

// LocalAddr returns the address a bound fd is listening on, useful for
// recovering the kernel-assigned port after binding to port 0.
func LocalAddr(fd int) (net.IP, uint16, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return nil, 0, err
	}
	addr, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return nil, 0, fmt.Errorf("netsock: unexpected getsockname type %T", sa)
	}
	return net.IPv4(addr.Addr[0], addr.Addr[1], addr.Addr[2], addr.Addr[3]), uint16(addr.Port), nil
}

// Close closes fd, ignoring EBADF (already closed).
func Close(fd int) error {
	err := unix.Close(fd)
	if err == unix.EBADF {
		return nil
	}
	return err
}
