package ioscheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Scheduler pumps a bounded set of Tasks: on each pass it waits for fd
// readiness or timer expiry and dispatches the matching callback. All state
// mutation happens under one mutex; only one goroutine pumps at a time.
type Scheduler struct {
	log *slog.Logger
	met *Metrics

	taskPool  *taskPool
	timerPool *timerIDPool
	clock     clockwork.Clock

	mu    sync.Mutex
	tasks []*Task

	stopped bool
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

// Option configures a Scheduler at construction time.
type Option func(*Scheduler)

// WithLogger attaches a logger; nil falls back to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(s *Scheduler) { s.log = log }
}

// WithMetrics attaches optional prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(s *Scheduler) { s.met = m }
}

// WithClock overrides the scheduler's time source, for deterministic tests
// against a clockwork.FakeClock.
func WithClock(c clockwork.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// New creates a Scheduler with pre-allocated capacity for maxTasks live
// tasks and maxTimers concurrently outstanding timer-only tasks.
func New(maxTasks, maxTimers int, opts ...Option) (*Scheduler, error) {
	if maxTasks <= 0 || maxTimers <= 0 {
		return nil, ErrInvalidOpts
	}
	s := &Scheduler{
		log:       slog.Default(),
		taskPool:  newTaskPool(maxTasks),
		timerPool: newTimerIDPool(maxTimers),
		clock:     clockwork.NewRealClock(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	return s, nil
}

func (s *Scheduler) newTask(fd int, opts TaskOpts, timeout time.Duration, user any, onRead, onWrite, onErr, onTimeout Callback) (*Task, error) {
	if opts == OptNone && onRead == nil && onWrite == nil && onErr == nil && onTimeout == nil {
		return nil, ErrInvalidOpts
	}
	if !s.taskPool.acquire() {
		s.met.incExhausted()
		return nil, ErrPoolExhausted
	}
	t := &Task{
		fd:        fd,
		id:        fd,
		opts:      opts,
		timeout:   timeout,
		userData:  user,
		onRead:    onRead,
		onWrite:   onWrite,
		onError:   onErr,
		onTimeout: onTimeout,
		sched:     s,
	}
	return t, nil
}

// CreateTask builds a general-purpose task watching fd for the given opts.
func (s *Scheduler) CreateTask(fd int, opts TaskOpts, timeout time.Duration, user any, onRead, onWrite, onErr, onTimeout Callback) (*Task, error) {
	return s.newTask(fd, opts, timeout, user, onRead, onWrite, onErr, onTimeout)
}

// CreateReaderTask builds a task that waits for fd to become readable.
func (s *Scheduler) CreateReaderTask(fd int, timeout time.Duration, user any, onRead Callback) (*Task, error) {
	return s.CreateReaderTaskEx(fd, timeout, user, onRead, nil)
}

// CreateReaderTaskEx is CreateReaderTask plus an explicit error callback.
// onTimeout is aliased to onRead, so a timeout is delivered through the same
// entry point as a readable fd, distinguished only by errcode.
func (s *Scheduler) CreateReaderTaskEx(fd int, timeout time.Duration, user any, onRead, onErr Callback) (*Task, error) {
	opts := OptRead | OptError
	return s.newTask(fd, opts, timeout, user, onRead, nil, onErr, onRead)
}

// CreateWriterTask builds a task that waits for fd to become writable.
// onTimeout is aliased to onWrite for the same reason CreateReaderTaskEx
// aliases it to onRead.
func (s *Scheduler) CreateWriterTask(fd int, timeout time.Duration, user any, onWrite, onErr Callback) (*Task, error) {
	opts := OptWrite | OptError
	return s.newTask(fd, opts, timeout, user, nil, onWrite, onErr, onWrite)
}

// CreateTimerTask builds a timer-only task: it never watches an fd and
// fires onTimeout every time it expires.
func (s *Scheduler) CreateTimerTask(timeout time.Duration, user any, onTimeout Callback) (*Task, error) {
	if timeout < 0 {
		return nil, ErrInvalidOpts
	}
	if !s.taskPool.acquire() {
		s.met.incExhausted()
		return nil, ErrPoolExhausted
	}
	id, ok := s.timerPool.acquire()
	if !ok {
		s.taskPool.release()
		s.met.incExhausted()
		return nil, ErrPoolExhausted
	}
	t := &Task{
		fd:        id,
		id:        id,
		opts:      OptTimer,
		timeout:   timeout,
		userData:  user,
		onTimeout: onTimeout,
		sched:     s,
	}
	return t, nil
}

// Schedule computes t's expiration and adds it to the scheduler's watch
// list. It does not inspect t's opts or callbacks: an opt whose callback is
// nil stays set. A task with OptNone and no callbacks never reaches here,
// since CreateTask rejects it with ErrInvalidOpts.
func (s *Scheduler) Schedule(t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrSchedulerStopped
	}
	t.populateExpiration(s.clock.Now())
	s.tasks = append(s.tasks, t)
	s.met.incScheduled()
	return nil
}

// Reschedule re-arms t's expiration and keeps it in the watch list; used by
// callbacks that return false (incomplete) but want a fresh deadline.
func (s *Scheduler) Reschedule(t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrSchedulerStopped
	}
	t.populateExpiration(s.clock.Now())
	return nil
}

// Unschedule flags t for removal on the next pump pass. Safe to call more
// than once. Any task can be flagged, whatever its fd; the pump removes
// every flagged task, with no fd value exempt.
func (s *Scheduler) Unschedule(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.opts |= optRemove
}

// FindTask linearly scans the watch list for a task on fd, matching the
// original's O(n) find semantics.
func (s *Scheduler) FindTask(fd int) (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.fd == fd && t.opts&optRemove == 0 {
			return t, true
		}
	}
	return nil, false
}

func (s *Scheduler) destroyTask(t *Task) {
	if t.isTimerOnly() {
		s.timerPool.release(t.id)
	}
	s.taskPool.release()
	s.met.incCompleted()
}

// Close releases scheduler resources. Safe to call after Stop.
func (s *Scheduler) Close() error {
	s.Stop()
	return nil
}
