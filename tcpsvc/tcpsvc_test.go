package tcpsvc

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/malbeclabs/svckit/ioscheduler"
	"github.com/malbeclabs/svckit/netsock"
	"github.com/stretchr/testify/require"
)

func startScheduler(t *testing.T) (*ioscheduler.Scheduler, context.CancelFunc) {
	t.Helper()
	sched, err := ioscheduler.New(64, 64)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	sched.StartThread(ctx)
	t.Cleanup(func() {
		cancel()
		sched.Stop()
	})
	return sched, cancel
}

func TestListener_EchoesRequestBackToClient(t *testing.T) {
	sched, _ := startScheduler(t)

	fd, err := netsock.CreateBoundTCPSocket(0)
	require.NoError(t, err)
	_, port, err := netsock.LocalAddr(fd)
	require.NoError(t, err)

	echoed := make(chan []byte, 1)
	l := NewListener(sched, fd, port,
		OnClientRequest(func(c *RemoteClient, data []byte) bool {
			cp := append([]byte(nil), data...)
			_, _ = c.Send(cp)
			echoed <- cp
			return false
		}),
	)
	require.NoError(t, l.Start())
	defer l.Stop()

	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(int(port))))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("ping"))
	require.NoError(t, err)

	select {
	case data := <-echoed:
		require.Equal(t, "ping", string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("listener never received the request")
	}

	buf := make([]byte, 16)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf[:n]))
}

func TestClient_ConnectSucceeds(t *testing.T) {
	sched, _ := startScheduler(t)

	fd, err := netsock.CreateBoundTCPSocket(0)
	require.NoError(t, err)
	_, port, err := netsock.LocalAddr(fd)
	require.NoError(t, err)

	l := NewListener(sched, fd, port)
	require.NoError(t, l.Start())
	defer l.Stop()

	connected := make(chan error, 1)
	_, err = Connect(sched, net.ParseIP("127.0.0.1"), port, 2*time.Second,
		OnConnected(func(c *Client, err error) { connected <- err }),
	)
	require.NoError(t, err)

	select {
	case err := <-connected:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("connect never completed")
	}
}

func TestListener_RequestHandlerReturningTrueDisconnectsClient(t *testing.T) {
	sched, _ := startScheduler(t)

	fd, err := netsock.CreateBoundTCPSocket(0)
	require.NoError(t, err)
	_, port, err := netsock.LocalAddr(fd)
	require.NoError(t, err)

	disconnected := make(chan struct{}, 1)
	l := NewListener(sched, fd, port,
		OnClientRequest(func(c *RemoteClient, data []byte) bool {
			return true
		}),
		OnClientDisconnected(func(c *RemoteClient) {
			disconnected <- struct{}{}
		}),
	)
	require.NoError(t, l.Start())
	defer l.Stop()

	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(int(port))))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("bye"))
	require.NoError(t, err)

	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("on_client_request returning true never triggered disconnect")
	}

	l.mu.Lock()
	n := len(l.clients)
	l.mu.Unlock()
	require.Equal(t, 0, n)
}

func TestListener_Destroy_ReleasesSocketThroughRegistry(t *testing.T) {
	sched, _ := startScheduler(t)

	// The registry keys sockets by the port they were requested with, so
	// the listener must be given that same port for Destroy to release it.
	const port = uint16(18845)
	sockReg := netsock.NewRegistry()
	fd, err := sockReg.GetOrCreateTCP(port)
	require.NoError(t, err)
	_, boundPort, err := netsock.LocalAddr(fd)
	require.NoError(t, err)
	require.Equal(t, port, boundPort)

	closed := make(chan struct{}, 1)
	l := NewListener(sched, fd, port,
		WithRegistry(sockReg),
		OnListenerClosed(func() { closed <- struct{}{} }),
	)
	require.NoError(t, l.Start())

	l.Destroy()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Destroy never released the socket through the registry")
	}
}

func TestClient_ResponseHandlerReturningTrueDisconnects(t *testing.T) {
	sched, _ := startScheduler(t)

	fd, err := netsock.CreateBoundTCPSocket(0)
	require.NoError(t, err)
	_, port, err := netsock.LocalAddr(fd)
	require.NoError(t, err)

	l := NewListener(sched, fd, port,
		OnClientConnected(func(c *RemoteClient) bool {
			_, _ = c.Send([]byte("hi"))
			return true
		}),
	)
	require.NoError(t, l.Start())
	defer l.Stop()

	closed := make(chan struct{}, 1)
	_, err = Connect(sched, net.ParseIP("127.0.0.1"), port, 2*time.Second,
		OnServerResponded(func(c *Client, data []byte) bool { return true }),
		OnClosed(func(c *Client) { closed <- struct{}{} }),
	)
	require.NoError(t, err)

	select {
	case <-closed:
	case <-time.After(3 * time.Second):
		t.Fatal("on_server_responded returning true never triggered disconnect")
	}
}

func TestClient_ConnectTimesOut(t *testing.T) {
	sched, _ := startScheduler(t)

	// 10.255.255.1 is a non-routable address chosen to never answer SYN or
	// RST within the test's short deadline, forcing the timeout path.
	connected := make(chan error, 1)
	_, err := Connect(sched, net.ParseIP("10.255.255.1"), 9, 200*time.Millisecond,
		OnConnected(func(c *Client, err error) { connected <- err }),
	)
	require.NoError(t, err)

	select {
	case err := <-connected:
		require.ErrorIs(t, err, ErrConnectTimeout)
	case <-time.After(3 * time.Second):
		t.Fatal("connect never completed")
	}
}
