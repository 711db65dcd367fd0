package procutil

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// pidFileDir is the directory PID files are recorded in, matching the
// original daemon convention of /var/run/<process_name>.pid.
var pidFileDir = "/var/run"

// RecordMyPID writes the calling process's pid to
// <pidFileDir>/<processName>.pid, overwriting any existing file.
func RecordMyPID(processName string) error {
	return RecordPID(processName, os.Getpid())
}

// RecordPID writes pid to <pidFileDir>/<processName>.pid.
func RecordPID(processName string, pid int) error {
	path := pidFilePath(processName)
	return os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0o644)
}

// ReadPID reads the pid recorded for processName. ok is false if no PID
// file exists.
func ReadPID(processName string) (pid int, ok bool, err error) {
	path := pidFilePath(processName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	pid, err = strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false, fmt.Errorf("procutil: malformed pid file %s: %w", path, err)
	}
	return pid, true, nil
}

// IsPIDAlive reports whether a process with the given pid currently exists,
// via a zero-signal kill.
func IsPIDAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}

// IsProcessAlive reads processName's PID file and checks whether the
// recorded pid is still alive.
func IsProcessAlive(processName string) bool {
	pid, ok, err := ReadPID(processName)
	if err != nil || !ok {
		return false
	}
	return IsPIDAlive(pid)
}

func pidFilePath(processName string) string {
	return fmt.Sprintf("%s/%s.pid", pidFileDir, processName)
}
