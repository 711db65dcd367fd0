package netsock

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry_GetOrCreateTCP_BindsEphemeralPort(t *testing.T) {
	r := NewRegistry()

	fd1, err := r.GetOrCreateTCP(0) // port 0: kernel picks an ephemeral port
	require.NoError(t, err)
	defer r.Shutdown()

	// Only the single-owner case is checked here; sharing one socket across
	// repeated GetOrCreateTCP calls on a fixed port is checked in
	// TestRegistry_CloseNotifiesHandlersOnceRefcountZero.
	require.Greater(t, fd1, 0)
}

func TestRegistry_CloseNotifiesHandlersOnceRefcountZero(t *testing.T) {
	r := NewRegistry()

	var notified []uint16
	r.AddCloseHandler(func(port uint16, fd int) {
		notified = append(notified, port)
	})

	const port = uint16(18842)
	fd1, err := r.GetOrCreateTCP(port)
	require.NoError(t, err)

	fd2, err := r.GetOrCreateTCP(port)
	require.NoError(t, err)
	require.Equal(t, fd1, fd2)

	r.CloseTCP(port)
	require.Empty(t, notified, "refcount still 1, socket must not close yet")

	r.CloseTCP(port)
	require.Equal(t, []uint16{port}, notified)
}

func TestRegistry_Shutdown_ClosesEverything(t *testing.T) {
	r := NewRegistry()
	_, err := r.GetOrCreateTCP(18843)
	require.NoError(t, err)
	_, err = r.GetOrCreateUDP(18844)
	require.NoError(t, err)

	r.Shutdown()

	_, ok := r.tcp[18843]
	require.False(t, ok)
	_, ok = r.udp[18844]
	require.False(t, ok)
}
