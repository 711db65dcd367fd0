package ioscheduler

import (
	"context"
	"time"

	"golang.org/x/sys/unix"
)

const (
	selectWait     = 10 * time.Millisecond
	idleSleep      = 1 * time.Millisecond
	fdSetBitsPerWord = 64
)

func fdSet(fd int, set *unix.FdSet) {
	set.Bits[fd/fdSetBitsPerWord] |= 1 << (uint(fd) % fdSetBitsPerWord)
}

func fdIsSet(fd int, set *unix.FdSet) bool {
	return set.Bits[fd/fdSetBitsPerWord]&(1<<(uint(fd)%fdSetBitsPerWord)) != 0
}

// Run pumps the scheduler inline until ctx is canceled or Stop is called.
// It is the synchronous counterpart to StartThread; callers that want their
// own goroutine should call Run directly instead.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.flagAllForRemoval()
			s.drainRemoved()
			return
		default:
		}
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		if !s.pumpOnce() {
			return
		}
	}
}

// StartThread spawns Run on its own goroutine, returning immediately. Stop
// joins it.
func (s *Scheduler) StartThread(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Run(ctx)
	}()
}

// Stop flags every scheduled task for removal, stops the pump, and blocks
// until any goroutine started via StartThread has exited.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()

	s.flagAllForRemoval()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.drainRemoved()
}

func (s *Scheduler) flagAllForRemoval() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		t.opts |= optRemove
	}
}

// drainRemoved coalesces out every task flagged optRemove, returning their
// pool slots. Called both mid-pump and at Stop.
func (s *Scheduler) drainRemoved() {
	s.mu.Lock()
	survivors := s.tasks[:0]
	var removed []*Task
	for _, t := range s.tasks {
		if t.opts&optRemove != 0 {
			removed = append(removed, t)
			continue
		}
		survivors = append(survivors, t)
	}
	s.tasks = survivors
	s.mu.Unlock()

	for _, t := range removed {
		s.destroyTask(t)
	}
}

// pumpOnce runs a single pass of the pump: drain removed tasks, wait for
// readiness or the next timer tick, then dispatch callbacks. Returns false
// if the scheduler has nothing left and has been stopped.
func (s *Scheduler) pumpOnce() bool {
	s.drainRemoved()
	s.met.incPump()

	s.mu.Lock()
	if len(s.tasks) == 0 {
		stopped := s.stopped
		s.mu.Unlock()
		time.Sleep(idleSleep)
		return !stopped
	}

	var rfds, wfds, efds unix.FdSet
	maxfd := -1
	hasFDTasks := false
	for _, t := range s.tasks {
		if t.isTimerOnly() || t.opts&optRemove != 0 {
			continue
		}
		hasFDTasks = true
		if t.opts.has(OptRead) {
			fdSet(t.fd, &rfds)
		}
		if t.opts.has(OptWrite) {
			fdSet(t.fd, &wfds)
		}
		if t.opts.has(OptError) {
			fdSet(t.fd, &efds)
		}
		if t.fd > maxfd {
			maxfd = t.fd
		}
	}
	tasksSnapshot := append([]*Task(nil), s.tasks...)
	s.mu.Unlock()

	if hasFDTasks {
		tv := unix.NsecToTimeval(selectWait.Nanoseconds())
		_, err := unix.Select(maxfd+1, &rfds, &wfds, &efds, &tv)
		if err != nil && err != unix.EINTR {
			s.log.Warn("ioscheduler: select failed", "error", err)
		}
	} else {
		time.Sleep(selectWait)
	}

	now := s.clock.Now()
	for _, t := range tasksSnapshot {
		s.processTask(t, now, &rfds, &wfds, &efds)
	}
	return true
}

func (s *Scheduler) processTask(t *Task, now time.Time, rfds, wfds, efds *unix.FdSet) {
	if t.opts&optRemove != 0 {
		return
	}

	if t.isTimerOnly() {
		if t.expired(now) {
			s.fireTimeout(t, ErrNone)
		}
		return
	}

	ready := false
	if t.opts.has(OptError) && fdIsSet(t.fd, efds) {
		ready = true
		if t.onError != nil && t.onError(t, ErrFDClosed) {
			s.Unschedule(t)
			return
		}
	}
	if t.opts.has(OptRead) && fdIsSet(t.fd, rfds) {
		ready = true
		if t.onRead != nil && t.onRead(t, ErrNone) {
			s.Unschedule(t)
			return
		}
	}
	if t.opts.has(OptWrite) && fdIsSet(t.fd, wfds) {
		ready = true
		if t.onWrite != nil && t.onWrite(t, ErrNone) {
			s.Unschedule(t)
			return
		}
	}
	if !ready && t.expired(now) {
		s.fireTimeout(t, ErrOpTimeout)
	}
}

func (s *Scheduler) fireTimeout(t *Task, errcode int) {
	done := true
	if t.onTimeout != nil {
		done = t.onTimeout(t, errcode)
	}
	if done {
		s.Unschedule(t)
	} else {
		s.mu.Lock()
		t.populateExpiration(s.clock.Now())
		s.mu.Unlock()
	}
}
