package netsock

import (
	"fmt"
	"net"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
)

// CreateBoundUDPSocket creates a UDP socket bound to 0.0.0.0:port with
// SO_REUSEADDR set, returning its raw fd.
func CreateBoundUDPSocket(port uint16) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return -1, fmt.Errorf("netsock: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("netsock: setsockopt SO_REUSEADDR: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: int(port)}); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("netsock: bind: %w", err)
	}
	if err := SetNonblocking(fd, true); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// JoinMulticastGroup joins fd to groupIP on the interface owning localIP (or
// the default interface when localIP is nil), via IP_ADD_MEMBERSHIP.
func JoinMulticastGroup(fd int, localIP, groupIP net.IP) error {
	pc, err := wrapPacketConn(fd)
	if err != nil {
		return err
	}
	defer pc.unwrap()

	var ifi *net.Interface
	if localIP != nil {
		ifi, err = interfaceForIP(localIP)
		if err != nil {
			return err
		}
	}
	return pc.conn.JoinGroup(ifi, &net.UDPAddr{IP: groupIP})
}

// LeaveMulticastGroup leaves groupIP via IP_DROP_MEMBERSHIP.
func LeaveMulticastGroup(fd int, localIP, groupIP net.IP) error {
	pc, err := wrapPacketConn(fd)
	if err != nil {
		return err
	}
	defer pc.unwrap()

	var ifi *net.Interface
	if localIP != nil {
		ifi, err = interfaceForIP(localIP)
		if err != nil {
			return err
		}
	}
	return pc.conn.LeaveGroup(ifi, &net.UDPAddr{IP: groupIP})
}

// wrappedConn lets us drive golang.org/x/net/ipv4's richer multicast API
// (JoinGroup/LeaveGroup) against a raw fd created via the unix socket
// syscalls above, by round-tripping it through os.NewFile/net.FileConn.
type wrappedConn struct {
	file *netFile
	udp  *net.UDPConn
	conn *ipv4.PacketConn
}

func (w *wrappedConn) unwrap() {
	// The fd remains owned by the caller; FileConn dup'd it, so close the
	// dup without touching the original.
	w.udp.Close()
}

func wrapPacketConn(fd int) (*wrappedConn, error) {
	f, udpConn, err := fileConnFromFD(fd)
	if err != nil {
		return nil, err
	}
	return &wrappedConn{file: f, udp: udpConn, conn: ipv4.NewPacketConn(udpConn)}, nil
}

func interfaceForIP(ip net.IP) (*net.Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for i := range ifaces {
		addrs, err := ifaces[i].Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if ipNet, ok := a.(*net.IPNet); ok && ipNet.IP.Equal(ip) {
				return &ifaces[i], nil
			}
		}
	}
	return nil, fmt.Errorf("netsock: no interface owns %s", ip)
}
