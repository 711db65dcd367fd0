// Package childmon monitors a set of child process ids and reports exit
// status via callback, reaping them with a non-blocking waitpid loop driven
// by a scheduler timer tick.
package childmon

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/malbeclabs/svckit/ioscheduler"
	"golang.org/x/sys/unix"
)

// ExitCallback is invoked once a monitored pid has been reaped.
// status is the raw wait status. It is not invoked when waitpid itself
// fails; that failure is only logged.
type ExitCallback func(pid int, status unix.WaitStatus)

type monitoredProc struct {
	pid      int
	userData any
	onExit   ExitCallback
}

// Monitor tracks a set of child pids and reaps them on a periodic tick.
type Monitor struct {
	log   *slog.Logger
	sched *ioscheduler.Scheduler

	tick time.Duration

	mu       sync.Mutex
	children map[int]*monitoredProc
	timer    *ioscheduler.Task

	met *Metrics
}

// Option configures a Monitor at construction time.
type Option func(*Monitor)

// WithLogger attaches a logger.
func WithLogger(log *slog.Logger) Option {
	return func(m *Monitor) { m.log = log }
}

// WithTick overrides the default 1-second reap tick.
func WithTick(d time.Duration) Option {
	return func(m *Monitor) { m.tick = d }
}

// WithMetrics attaches optional prometheus instrumentation.
func WithMetrics(met *Metrics) Option {
	return func(m *Monitor) { m.met = met }
}

// New creates a Monitor bound to sched. Call Start to begin reaping.
func New(sched *ioscheduler.Scheduler, opts ...Option) *Monitor {
	m := &Monitor{
		log:      slog.Default(),
		sched:    sched,
		tick:     1 * time.Second,
		children: make(map[int]*monitoredProc),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// MonitorPID registers pid for monitoring. Registering a pid already being
// monitored is rejected: duplicate admission is a configuration error, not
// silently merged.
func (m *Monitor) MonitorPID(pid int, userData any, onExit ExitCallback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.children[pid]; exists {
		m.log.Warn("childmon: pid already monitored, rejecting", "pid", pid)
		return fmt.Errorf("childmon: pid %d already monitored", pid)
	}
	m.children[pid] = &monitoredProc{pid: pid, userData: userData, onExit: onExit}
	return nil
}

// MonitorChild registers sp (a process spawned via procutil.Spawn) for
// monitoring.
func (m *Monitor) MonitorChild(sp interface{ PID() int }, userData any, onExit ExitCallback) error {
	return m.MonitorPID(sp.PID(), userData, onExit)
}

// Start arms the periodic reap-tick timer task.
func (m *Monitor) Start() error {
	timer, err := m.sched.CreateTimerTask(m.tick, nil, m.onTick)
	if err != nil {
		return err
	}
	if err := m.sched.Schedule(timer); err != nil {
		return err
	}
	m.mu.Lock()
	m.timer = timer
	m.mu.Unlock()
	return nil
}

// Stop unschedules the reap-tick timer. Already-monitored children are
// simply no longer reaped; it does not kill them.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		m.sched.Unschedule(m.timer)
		m.timer = nil
	}
}

// onTick drains every pid that has already exited via a non-blocking
// waitpid loop, invoking the matching callback and forgetting the pid.
// Always returns false (incomplete) so the timer re-arms for the next tick.
func (m *Monitor) onTick(t *ioscheduler.Task, errcode int) bool {
	for {
		var status unix.WaitStatus
		pid, err := unix.Wait4(-1, &status, unix.WNOHANG, nil)
		if err != nil {
			if err == unix.ECHILD {
				return false // nothing currently being watched by the OS
			}
			m.log.Error("childmon: waitpid failed", "error", err)
			return false
		}
		if pid <= 0 {
			return false // no exited child pending right now
		}

		m.mu.Lock()
		proc, ok := m.children[pid]
		if ok {
			delete(m.children, pid)
		}
		m.mu.Unlock()

		if ok {
			m.met.incReaped()
			if proc.onExit != nil {
				proc.onExit(pid, status)
			}
		}
	}
}
