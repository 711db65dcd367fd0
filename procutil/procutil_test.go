package procutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSpawn_CapturesStdout(t *testing.T) {
	sp, err := Spawn("/bin/echo", []string{"hello"})
	require.NoError(t, err)
	require.NoError(t, sp.Wait())
	require.Equal(t, "hello\n", string(sp.Stdout()))
}

func TestRunCaptured_ReturnsStdoutAndStderr(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	out, _, err := RunCaptured(ctx, "/bin/echo", "-n", "hi")
	require.NoError(t, err)
	require.Equal(t, "hi", string(out))
}

func TestPIDFile_RecordAndRead(t *testing.T) {
	dir := t.TempDir()
	old := pidFileDir
	pidFileDir = dir
	defer func() { pidFileDir = old }()

	require.NoError(t, RecordPID("svckit-test", 4242))

	pid, ok, err := ReadPID("svckit-test")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 4242, pid)

	_, err = os.Stat(filepath.Join(dir, "svckit-test.pid"))
	require.NoError(t, err)
}

func TestPIDFile_ReadMissingReturnsNotOK(t *testing.T) {
	dir := t.TempDir()
	old := pidFileDir
	pidFileDir = dir
	defer func() { pidFileDir = old }()

	_, ok, err := ReadPID("does-not-exist")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestIsPIDAlive_CurrentProcess(t *testing.T) {
	require.True(t, IsPIDAlive(os.Getpid()))
}
