package ioscheduler

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestScheduler_TimerTask_FiresOnFakeClockAdvance(t *testing.T) {
	fc := clockwork.NewFakeClock()
	s, err := New(4, 4, WithClock(fc))
	require.NoError(t, err)

	fired := make(chan struct{}, 1)
	timer, err := s.CreateTimerTask(time.Minute, nil, func(tk *Task, errcode int) bool {
		fired <- struct{}{}
		return true
	})
	require.NoError(t, err)
	require.NoError(t, s.Schedule(timer))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.StartThread(ctx)
	defer s.Stop()

	time.Sleep(20 * time.Millisecond) // let the pump goroutine start watching
	fc.Advance(time.Minute + time.Second)

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timer task never fired after fake clock advance")
	}
}

func TestScheduler_TimerTask_FiresRepeatedlyUntilComplete(t *testing.T) {
	s, err := New(4, 4)
	require.NoError(t, err)

	fired := 0
	done := make(chan struct{})
	timer, err := s.CreateTimerTask(5*time.Millisecond, nil, func(tk *Task, errcode int) bool {
		fired++
		if fired >= 3 {
			close(done)
			return true
		}
		return false
	})
	require.NoError(t, err)
	require.NoError(t, s.Schedule(timer))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.StartThread(ctx)
	defer s.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timer task never fired 3 times")
	}
	require.Equal(t, 3, fired)
}

func TestScheduler_PoolExhaustion(t *testing.T) {
	s, err := New(1, 1)
	require.NoError(t, err)

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	t1, err := s.CreateReaderTask(int(r.Fd()), NoTimeout, nil, func(*Task, int) bool { return false })
	require.NoError(t, err)
	require.NoError(t, s.Schedule(t1))

	_, err = s.CreateReaderTask(int(r.Fd()), NoTimeout, nil, func(*Task, int) bool { return false })
	require.ErrorIs(t, err, ErrPoolExhausted)
}

func TestScheduler_ReaderTask_FiresOnWrite(t *testing.T) {
	s, err := New(4, 4)
	require.NoError(t, err)

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	gotData := make(chan []byte, 1)
	task, err := s.CreateReaderTask(int(r.Fd()), NoTimeout, nil, func(tk *Task, errcode int) bool {
		buf := make([]byte, 16)
		n, _ := r.Read(buf)
		gotData <- buf[:n]
		return true
	})
	require.NoError(t, err)
	require.NoError(t, s.Schedule(task))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.StartThread(ctx)
	defer s.Stop()

	_, err = w.Write([]byte("hello"))
	require.NoError(t, err)

	select {
	case data := <-gotData:
		require.Equal(t, "hello", string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("reader task never fired")
	}
}

func TestScheduler_ReaderTask_TimeoutAliasesToOnRead(t *testing.T) {
	s, err := New(4, 4)
	require.NoError(t, err)

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	gotErrcode := make(chan int, 1)
	task, err := s.CreateReaderTask(int(r.Fd()), 20*time.Millisecond, nil, func(tk *Task, errcode int) bool {
		gotErrcode <- errcode
		return true
	})
	require.NoError(t, err)
	require.NoError(t, s.Schedule(task))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.StartThread(ctx)
	defer s.Stop()

	select {
	case errcode := <-gotErrcode:
		require.Equal(t, ErrOpTimeout, errcode)
	case <-time.After(2 * time.Second):
		t.Fatal("reader task never timed out via onRead")
	}
}

func TestScheduler_WriterTask_TimeoutAliasesToOnWrite(t *testing.T) {
	s, err := New(4, 4)
	require.NoError(t, err)

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	// Fill the pipe's buffer so the write end never becomes writable again,
	// forcing the timeout path instead of an immediate onWrite fire.
	require.NoError(t, unix.SetNonblock(int(w.Fd()), true))
	buf := make([]byte, 4096)
	for {
		if _, err := unix.Write(int(w.Fd()), buf); err != nil {
			require.ErrorIs(t, err, unix.EAGAIN)
			break
		}
	}

	gotErrcode := make(chan int, 1)
	task, err := s.CreateWriterTask(int(w.Fd()), 20*time.Millisecond, nil, func(tk *Task, errcode int) bool {
		gotErrcode <- errcode
		return true
	}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Schedule(task))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.StartThread(ctx)
	defer s.Stop()

	select {
	case errcode := <-gotErrcode:
		require.Equal(t, ErrOpTimeout, errcode)
	case <-time.After(2 * time.Second):
		t.Fatal("writer task never timed out via onWrite")
	}
}

func TestScheduler_Unschedule_RemovesTaskFromWatchList(t *testing.T) {
	s, err := New(4, 4)
	require.NoError(t, err)

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	calls := 0
	task, err := s.CreateReaderTask(int(r.Fd()), NoTimeout, nil, func(tk *Task, errcode int) bool {
		calls++
		return false
	})
	require.NoError(t, err)
	require.NoError(t, s.Schedule(task))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.StartThread(ctx)
	defer s.Stop()

	_, err = w.Write([]byte("x"))
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	s.Unschedule(task)
	time.Sleep(50 * time.Millisecond)

	_, found := s.FindTask(int(r.Fd()))
	require.False(t, found)
}
