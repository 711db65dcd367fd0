package tcpsvc

import (
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/malbeclabs/svckit/ioscheduler"
	"github.com/malbeclabs/svckit/netsock"
)

// ErrConnectTimeout is the sentinel error delivered to a Client's connect
// callback when the deadline passed to Connect elapses before the socket
// becomes writable. It stands in for the original implementation's magic
// errcode 1: it is an error value, and the callback never sees the integer 1.
var ErrConnectTimeout = errors.New("tcpsvc: connect timed out")

// Client is an outbound TCP connection with an async, deadline-bounded
// connect and a read loop once connected.
type Client struct {
	log   *slog.Logger
	sched *ioscheduler.Scheduler

	fd         int
	remoteIP   net.IP
	remotePort uint16

	onConnected func(c *Client, err error)
	onResponse  func(c *Client, data []byte) bool
	onClosed    func(c *Client)

	readTask *ioscheduler.Task

	reconnect backoff.BackOff
	met       *Metrics
}

// ClientOption configures a Client at construction time.
type ClientOption func(*Client)

// WithClientLogger attaches a logger.
func WithClientLogger(log *slog.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

// OnConnected installs the callback invoked once after Connect either
// succeeds (err == nil) or fails (err == ErrConnectTimeout or a socket
// error from SO_ERROR).
func OnConnected(f func(c *Client, err error)) ClientOption {
	return func(c *Client) { c.onConnected = f }
}

// OnServerResponded installs the callback invoked with each chunk of data
// read from the connected server. A true return means the transaction is
// done and triggers a local Disconnect; false keeps the connection open.
func OnServerResponded(f func(c *Client, data []byte) bool) ClientOption {
	return func(c *Client) { c.onResponse = f }
}

// OnClosed installs the callback invoked when the connection is torn down,
// whether by peer close, read error, or explicit Disconnect.
func OnClosed(f func(c *Client)) ClientOption {
	return func(c *Client) { c.onClosed = f }
}

// WithReconnect arms a retry policy: if Connect fails or the connection is
// later dropped, the client redials using b's backoff schedule. b is
// consulted for each attempt and is not shared across Clients.
func WithReconnect(b backoff.BackOff) ClientOption {
	return func(c *Client) { c.reconnect = b }
}

// WithClientMetrics attaches optional prometheus instrumentation.
func WithClientMetrics(m *Metrics) ClientOption {
	return func(c *Client) { c.met = m }
}

// Connect begins an async, non-blocking connect to ip:port, enforcing
// deadline as the maximum time to wait for the connect to complete.
func Connect(sched *ioscheduler.Scheduler, ip net.IP, port uint16, deadline time.Duration, opts ...ClientOption) (*Client, error) {
	c := &Client{
		log:        slog.Default(),
		sched:      sched,
		remoteIP:   ip,
		remotePort: port,
	}
	for _, o := range opts {
		o(c)
	}
	if err := c.dial(deadline); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) dial(deadline time.Duration) error {
	c.met.incConnects()
	fd, err := netsock.ConnectNonblocking(c.remoteIP, c.remotePort)
	if err != nil {
		return err
	}
	c.fd = fd

	task, err := c.sched.CreateTask(fd, ioscheduler.OptWrite|ioscheduler.OptError, deadline, c,
		nil, c.onConnectWritable, c.onConnectError, c.onConnectTimeout)
	if err != nil {
		netsock.Close(fd)
		return err
	}
	return c.sched.Schedule(task)
}

func (c *Client) onConnectWritable(t *ioscheduler.Task, errcode int) bool {
	ok, err := netsock.ConnectSucceeded(c.fd)
	if !ok {
		c.finishConnect(err)
		return true
	}
	c.finishConnect(nil)
	return true
}

func (c *Client) onConnectError(t *ioscheduler.Task, errcode int) bool {
	_, err := netsock.ConnectSucceeded(c.fd)
	c.finishConnect(err)
	return true
}

func (c *Client) onConnectTimeout(t *ioscheduler.Task, errcode int) bool {
	c.finishConnect(ErrConnectTimeout)
	return true
}

func (c *Client) finishConnect(err error) {
	if err != nil {
		netsock.Close(c.fd)
		if c.onConnected != nil {
			c.onConnected(c, err)
		}
		c.maybeReconnect()
		return
	}

	readTask, rerr := c.sched.CreateReaderTask(c.fd, ioscheduler.NoTimeout, c, c.onReadable)
	if rerr != nil {
		netsock.Close(c.fd)
		if c.onConnected != nil {
			c.onConnected(c, rerr)
		}
		return
	}
	if serr := c.sched.Schedule(readTask); serr != nil {
		netsock.Close(c.fd)
		if c.onConnected != nil {
			c.onConnected(c, serr)
		}
		return
	}
	c.readTask = readTask

	if c.onConnected != nil {
		c.onConnected(c, nil)
	}
}

func (c *Client) onReadable(t *ioscheduler.Task, errcode int) bool {
	buf := make([]byte, 4096)
	n, err := netsock.Receive(c.fd, buf)
	if err != nil {
		if netsock.IsWouldBlock(err) {
			return false
		}
		c.Disconnect()
		return true
	}
	if n <= 0 {
		c.Disconnect()
		return true
	}
	if c.onResponse != nil && c.onResponse(c, buf[:n]) {
		c.Disconnect()
		return true
	}
	return false
}

// Send writes data to the connected server.
func (c *Client) Send(data []byte) (int, error) {
	return netsock.Send(c.fd, data)
}

// FD returns the connection's raw file descriptor.
func (c *Client) FD() int { return c.fd }

// Disconnect tears down the connection. Idempotent.
func (c *Client) Disconnect() {
	if c.fd < 0 {
		return
	}
	if c.readTask != nil {
		c.sched.Unschedule(c.readTask)
		c.readTask = nil
	}
	netsock.Close(c.fd)
	c.fd = -1
	if c.onClosed != nil {
		c.onClosed(c)
	}
	c.maybeReconnect()
}

func (c *Client) maybeReconnect() {
	if c.reconnect == nil {
		return
	}
	d := c.reconnect.NextBackOff()
	if d == backoff.Stop {
		return
	}
	timer, err := c.sched.CreateTimerTask(d, c, func(t *ioscheduler.Task, errcode int) bool {
		_ = c.dial(d)
		return true
	})
	if err != nil {
		c.log.Warn("tcpsvc: failed to arm reconnect timer", "error", err)
		return
	}
	if err := c.sched.Schedule(timer); err != nil {
		c.log.Warn("tcpsvc: failed to schedule reconnect timer", "error", err)
	}
}
