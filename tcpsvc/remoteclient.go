package tcpsvc

import (
	"net"
	"sync"

	"github.com/malbeclabs/svckit/ioscheduler"
	"github.com/malbeclabs/svckit/netsock"
)

// RemoteClient represents one connection accepted by a Listener.
type RemoteClient struct {
	listener    *Listener
	fd          int
	remoteIP    net.IP
	remotePort  uint16
	userData    any
	task        *ioscheduler.Task
	closeOnce   sync.Once
}

func newRemoteClient(l *Listener, fd int, ip net.IP, port uint16) *RemoteClient {
	return &RemoteClient{listener: l, fd: fd, remoteIP: ip, remotePort: port}
}

// FD returns the accepted connection's raw file descriptor.
func (c *RemoteClient) FD() int { return c.fd }

// RemoteAddr returns the peer's address.
func (c *RemoteClient) RemoteAddr() (net.IP, uint16) { return c.remoteIP, c.remotePort }

// SetUserData attaches an opaque value to the client, retrievable with
// UserData. Not used by the scheduler's own dispatch path.
func (c *RemoteClient) SetUserData(v any) { c.userData = v }

// UserData returns the value set by SetUserData.
func (c *RemoteClient) UserData() any { return c.userData }

// Send writes data to the client, blocking the caller's goroutine until the
// full payload is written or an error occurs.
func (c *RemoteClient) Send(data []byte) (int, error) {
	return netsock.Send(c.fd, data)
}

// Disconnect drops the client from its listener, same as
// Listener.DropClient(c).
func (c *RemoteClient) Disconnect() {
	c.listener.DropClient(c)
}

func (c *RemoteClient) close() {
	c.closeOnce.Do(func() {
		if c.task != nil {
			c.listener.sched.Unschedule(c.task)
		}
		netsock.Close(c.fd)
	})
}
