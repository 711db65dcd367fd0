// Package tcpsvc implements the TCP service layer: a listening socket that
// accepts and manages client connections, and an outbound client with
// async, deadline-bounded connect. Both layer directly on top of
// ioscheduler.Task rather than net.Conn, since accept/connect readiness is
// driven by the scheduler's select loop.
package tcpsvc

import (
	"log/slog"
	"net"
	"sync"

	"github.com/malbeclabs/svckit/ioscheduler"
	"github.com/malbeclabs/svckit/netsock"
)

// Listener accepts inbound TCP connections on a bound, listening fd and
// manages the resulting RemoteClients.
type Listener struct {
	log   *slog.Logger
	sched *ioscheduler.Scheduler
	fd    int
	port  uint16

	onClientWaiting      func(remoteIP net.IP, remotePort uint16) bool
	onClientConnected    func(c *RemoteClient) bool
	onClientRequest      func(c *RemoteClient, data []byte) bool
	onClientDisconnected func(c *RemoteClient)
	onClosed             func()

	sockReg *netsock.Registry

	mu      sync.Mutex
	clients map[*RemoteClient]struct{}
	task    *ioscheduler.Task

	met *Metrics
}

// ListenerOption configures a Listener at construction time.
type ListenerOption func(*Listener)

// WithLogger attaches a logger.
func WithLogger(log *slog.Logger) ListenerOption {
	return func(l *Listener) { l.log = log }
}

// OnClientWaiting installs the admission check run right after a pending
// connection has been accepted, with the peer's address. Returning false
// closes the accepted connection; accept itself has already been called.
func OnClientWaiting(f func(remoteIP net.IP, remotePort uint16) bool) ListenerOption {
	return func(l *Listener) { l.onClientWaiting = f }
}

// OnClientConnected installs the callback run once a RemoteClient has been
// constructed for an accepted connection. Returning false destroys the
// client immediately instead of admitting it to the listener's client set.
func OnClientConnected(f func(c *RemoteClient) bool) ListenerOption {
	return func(l *Listener) { l.onClientConnected = f }
}

// OnClientRequest installs the callback invoked with each chunk of data read
// from an accepted client. A true return means the transaction is done and
// the client should be disconnected; false keeps it connected.
func OnClientRequest(f func(c *RemoteClient, data []byte) bool) ListenerOption {
	return func(l *Listener) { l.onClientRequest = f }
}

// OnClientDisconnected installs the callback invoked just before a
// RemoteClient is dropped, whether by peer close, read error, or Stop.
func OnClientDisconnected(f func(c *RemoteClient)) ListenerOption {
	return func(l *Listener) { l.onClientDisconnected = f }
}

// OnListenerClosed installs the callback invoked once Destroy has released
// the listener's fd back through its registry and the underlying socket has
// actually been closed (last reference released).
func OnListenerClosed(f func()) ListenerOption {
	return func(l *Listener) { l.onClosed = f }
}

// WithRegistry attaches the netsock.Registry the listener's fd was obtained
// from, enabling Destroy to release it through the refcounted path instead
// of closing the fd directly.
func WithRegistry(r *netsock.Registry) ListenerOption {
	return func(l *Listener) { l.sockReg = r }
}

// WithMetrics attaches optional prometheus instrumentation.
func WithMetrics(m *Metrics) ListenerOption {
	return func(l *Listener) { l.met = m }
}

// NewListener wraps an already-bound, listening, non-blocking fd (typically
// obtained from netsock.Registry.GetOrCreateTCP).
func NewListener(sched *ioscheduler.Scheduler, fd int, port uint16, opts ...ListenerOption) *Listener {
	l := &Listener{
		log:     slog.Default(),
		sched:   sched,
		fd:      fd,
		port:    port,
		clients: make(map[*RemoteClient]struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Start schedules the listener's accept task.
func (l *Listener) Start() error {
	task, err := l.sched.CreateReaderTask(l.fd, ioscheduler.NoTimeout, nil, l.onAcceptReady)
	if err != nil {
		return err
	}
	if err := l.sched.Schedule(task); err != nil {
		return err
	}
	l.mu.Lock()
	l.task = task
	l.mu.Unlock()
	return nil
}

// Stop unschedules the accept task and drops every currently accepted
// client. Safe to call more than once.
func (l *Listener) Stop() {
	l.mu.Lock()
	if l.task != nil {
		l.sched.Unschedule(l.task)
		l.task = nil
	}
	clients := make([]*RemoteClient, 0, len(l.clients))
	for c := range l.clients {
		clients = append(clients, c)
	}
	l.mu.Unlock()

	for _, c := range clients {
		l.DropClient(c)
	}
}

// Destroy stops the listener (implying Stop) and releases its fd back
// through the netsock.Registry it was created against, firing OnClosed once
// the socket's refcount reaches zero. Without a registry attached via
// WithRegistry, Destroy closes the fd directly and fires OnClosed
// immediately. Safe to call more than once.
func (l *Listener) Destroy() {
	l.Stop()
	if l.fd < 0 {
		return
	}
	fd := l.fd
	l.fd = -1

	if l.sockReg == nil {
		netsock.Close(fd)
		if l.onClosed != nil {
			l.onClosed()
		}
		return
	}

	if l.onClosed != nil {
		port, cb := l.port, l.onClosed
		l.sockReg.AddCloseHandler(func(p uint16, fd int) {
			if p == port {
				cb()
			}
		})
	}
	l.sockReg.CloseTCP(l.port)
}

// DropClient disconnects and removes c from the listener's client set.
// Idempotent: dropping an already-dropped client is a no-op.
func (l *Listener) DropClient(c *RemoteClient) {
	l.mu.Lock()
	if _, ok := l.clients[c]; !ok {
		l.mu.Unlock()
		return
	}
	delete(l.clients, c)
	l.mu.Unlock()
	l.met.incDropped()

	if l.onClientDisconnected != nil {
		l.onClientDisconnected(c)
	}
	c.close()
}

// onAcceptReady is the scheduler callback for the listener's fd becoming
// readable, meaning a connection is pending accept().
func (l *Listener) onAcceptReady(t *ioscheduler.Task, errcode int) bool {
	connFD, remoteIP, remotePort, err := netsock.AcceptFull(l.fd)
	if err != nil {
		l.log.Debug("tcpsvc: accept failed", "error", err)
		return false
	}

	if l.onClientWaiting != nil && !l.onClientWaiting(remoteIP, remotePort) {
		netsock.Close(connFD)
		l.met.incDropped()
		return false
	}

	c := newRemoteClient(l, connFD, remoteIP, remotePort)

	admit := true
	if l.onClientConnected != nil {
		admit = l.onClientConnected(c)
	}
	if !admit {
		l.log.Debug("tcpsvc: client not admitted by OnClientConnected, closing", "remote", remoteIP, "port", remotePort)
		c.close()
		l.met.incDropped()
		return false
	}

	readTask, err := l.sched.CreateReaderTask(connFD, ioscheduler.NoTimeout, c, l.onClientReadable)
	if err != nil {
		l.log.Warn("tcpsvc: failed to schedule accepted client", "error", err)
		c.close()
		return false
	}
	if err := l.sched.Schedule(readTask); err != nil {
		c.close()
		return false
	}
	c.task = readTask

	l.mu.Lock()
	l.clients[c] = struct{}{}
	l.mu.Unlock()
	l.met.incAccepted()

	return false // listener task itself stays scheduled for the next connection
}

// onClientReadable is the scheduler callback for an accepted client's fd
// becoming readable. A zero-length or hard-error read drops the client;
// data triggers OnClientRequest.
func (l *Listener) onClientReadable(t *ioscheduler.Task, errcode int) bool {
	c := t.UserData().(*RemoteClient)
	buf := make([]byte, 4096)
	n, err := netsock.Receive(c.fd, buf)
	if err != nil {
		if netsock.IsWouldBlock(err) {
			return false
		}
		l.DropClient(c)
		return true
	}
	if n <= 0 {
		l.DropClient(c)
		return true
	}
	if l.onClientRequest != nil && l.onClientRequest(c, buf[:n]) {
		l.DropClient(c)
		return true
	}
	return false
}
