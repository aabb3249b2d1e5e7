package sched

import (
	"testing"

	"github.com/zboralski/galago/internal/backend"
	"github.com/zboralski/galago/internal/log"
)

func TestUnixSigSetAddContainsRemove(t *testing.T) {
	var s UnixSigSet
	s.AddSigNumber(2)
	s.AddSigNumber(11)
	s.AddSigNumber(15)

	for _, n := range []int{2, 11, 15} {
		if !s.ContainsSigNumber(n) {
			t.Fatalf("expected signal %d to be a member", n)
		}
	}

	s.RemoveSigNumber(11)
	if s.ContainsSigNumber(11) {
		t.Fatalf("signal 11 still a member after removal")
	}
	// The bug this fixes: removing one signal must not clear every
	// other member of the set.
	if !s.ContainsSigNumber(2) || !s.ContainsSigNumber(15) {
		t.Fatalf("removing signal 11 disturbed other members: %v", s.Signals())
	}
}

func TestUnixSigSetAscendingIteration(t *testing.T) {
	var s UnixSigSet
	s.AddSigNumber(30)
	s.AddSigNumber(2)
	s.AddSigNumber(17)

	got := s.Signals()
	want := []int{2, 17, 30}
	if len(got) != len(want) {
		t.Fatalf("Signals() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Signals() = %v, want %v", got, want)
		}
	}
}

func TestFutexWaitThenWakeUnblocksWaiter(t *testing.T) {
	table := NewFutexTable()
	waiter := NewTask(1, 0x1000, 0x2000)
	table.Wait(waiter, 0x5000, FutexIndefinite{Addr: 0x5000})

	if waiter.Status() != StatusWaiting {
		t.Fatalf("task status = %v, want StatusWaiting", waiter.Status())
	}

	woken := table.Wake(0x5000, 1)
	if woken != 1 {
		t.Fatalf("Wake returned %d, want 1", woken)
	}
	if waiter.Status() != StatusRunnable {
		t.Fatalf("task status after wake = %v, want StatusRunnable", waiter.Status())
	}
}

func TestFutexWakeOnEmptyAddrIsNoop(t *testing.T) {
	table := NewFutexTable()
	if n := table.Wake(0x1234, 1); n != 0 {
		t.Fatalf("Wake on address with no waiters returned %d, want 0", n)
	}
}

func TestDispatcherRoundRobinsRunnableTasks(t *testing.T) {
	cpu := backend.NewMock()
	d, err := NewDispatcher(cpu, 4, log.NewNop())
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}

	a := NewTask(1, 0x1000, 0x9000)
	b := NewTask(2, 0x2000, 0x9000)
	d.AddTask(a)
	d.AddTask(b)

	first := d.pickNext()
	if first != a {
		t.Fatalf("pickNext() = task %d, want task %d", first.TID, a.TID)
	}
	d.current = first
	second := d.pickNext()
	if second != b {
		t.Fatalf("pickNext() after a = task %d, want task %d", second.TID, b.TID)
	}
}

func TestDispatcherReturnsDeadlockWhenNothingRunnable(t *testing.T) {
	cpu := backend.NewMock()
	d, err := NewDispatcher(cpu, 4, log.NewNop())
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	blocked := NewTask(1, 0x1000, 0x9000)
	blocked.SetWaiter(FutexIndefinite{Addr: 0x5000})
	d.AddTask(blocked)

	err = d.Run()
	if _, ok := err.(ErrDeadlock); !ok {
		t.Fatalf("Run() error = %v, want ErrDeadlock", err)
	}
}
