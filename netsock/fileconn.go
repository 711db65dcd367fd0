package netsock

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// netFile is an unexported alias so wrappedConn can hold the duplicate file
// without exposing os.File in the package's public surface.
type netFile = os.File

// fileConnFromFD builds a *net.UDPConn over a duplicate of fd. Both the
// intermediate os.File and the dup it wraps are only ever used to construct
// the net.UDPConn (itself holding its own further duplicate); closing the
// returned conn never affects the caller's original fd.
func fileConnFromFD(fd int) (*netFile, *net.UDPConn, error) {
	dup, err := unix.Dup(fd)
	if err != nil {
		return nil, nil, fmt.Errorf("netsock: dup: %w", err)
	}
	f := os.NewFile(uintptr(dup), "netsock-udp")
	conn, err := net.FileConn(f)
	f.Close()
	if err != nil {
		return nil, nil, fmt.Errorf("netsock: FileConn: %w", err)
	}
	udpConn, ok := conn.(*net.UDPConn)
	if !ok {
		conn.Close()
		return nil, nil, fmt.Errorf("netsock: fd %d is not a UDP socket", fd)
	}
	return f, udpConn, nil
}
