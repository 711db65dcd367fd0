package childmon

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/malbeclabs/svckit/ioscheduler"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestMonitor_ReapsExitedChild(t *testing.T) {
	sched, err := ioscheduler.New(8, 8)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.StartThread(ctx)
	defer sched.Stop()

	cmd := exec.Command("/bin/sh", "-c", "exit 7")
	require.NoError(t, cmd.Start())

	m := New(sched, WithTick(20*time.Millisecond))
	exited := make(chan unix.WaitStatus, 1)
	require.NoError(t, m.MonitorPID(cmd.Process.Pid, nil, func(pid int, status unix.WaitStatus) {
		exited <- status
	}))
	require.NoError(t, m.Start())
	defer m.Stop()

	select {
	case status := <-exited:
		require.Equal(t, 7, status.ExitStatus())
	case <-time.After(3 * time.Second):
		t.Fatal("monitor never reaped the child")
	}
}

func TestMonitor_RejectsDuplicatePID(t *testing.T) {
	sched, err := ioscheduler.New(8, 8)
	require.NoError(t, err)

	m := New(sched)
	require.NoError(t, m.MonitorPID(12345, nil, nil))
	require.Error(t, m.MonitorPID(12345, nil, nil))
}
