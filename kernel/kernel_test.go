package kernel

import (
	"bytes"
	"errors"
	"testing"

	"orion/hal"
	"orion/kernel/sched"
)

func newTestSystem(t *testing.T) *System {
	t.Helper()
	sys, err := New(hal.NewHost())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return sys
}

func TestSystemBoot(t *testing.T) {
	sys := newTestSystem(t)

	st := sys.Snapshot()
	if st.Processes != 1 {
		t.Fatalf("Processes = %d at boot, want 1 (init)", st.Processes)
	}
	if st.Threads != 0 {
		t.Fatalf("Threads = %d at boot, want 0", st.Threads)
	}
	if st.ActivePorts != 0 {
		t.Fatalf("ActivePorts = %d at boot, want 0", st.ActivePorts)
	}
	if sys.Sched().InitProcess().PID != 1 {
		t.Fatalf("init PID = %d, want 1", sys.Sched().InitProcess().PID)
	}
}

func TestSpawn(t *testing.T) {
	sys := newTestSystem(t)

	p, err := sys.Spawn(0x1000, 7, 5)
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	if p.Main() == nil {
		t.Fatalf("spawned process has no main thread")
	}
	if p.Main().Nice() != 5 {
		t.Fatalf("main thread nice = %d, want 5", p.Main().Nice())
	}
	if p.Main().State() != sched.StateReady {
		t.Fatalf("main thread state = %v, want %v", p.Main().State(), sched.StateReady)
	}

	st := sys.Snapshot()
	if st.Processes != 2 || st.Threads != 1 {
		t.Fatalf("Snapshot() = %d procs %d threads, want 2/1", st.Processes, st.Threads)
	}
}

func TestCreatePortInstallsHandle(t *testing.T) {
	sys := newTestSystem(t)

	p, err := sys.Spawn(0x1000, 0, 0)
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	port, err := sys.CreatePort(p)
	if err != nil {
		t.Fatalf("CreatePort() error = %v", err)
	}

	h, ok := p.Handle(0)
	if !ok {
		t.Fatalf("no handle installed for the new port")
	}
	if h.Kind != sched.HandleIPCPort || h.Object != port {
		t.Fatalf("handle = %+v, want IPC port %d", h, port)
	}

	if _, err := sys.CreatePort(nil); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("CreatePort(nil) error = %v, want ErrInvalidArgument", err)
	}
}

// TestScheduledMessaging runs the whole stack: spawned processes share the
// CPU through the tick/yield loop while messages flow through a port owned
// by one of them.
func TestScheduledMessaging(t *testing.T) {
	sys := newTestSystem(t)

	owner, err := sys.Spawn(0x1000, 0, 0)
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	other, err := sys.Spawn(0x2000, 0, 5)
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}

	port, err := sys.CreatePort(owner)
	if err != nil {
		t.Fatalf("CreatePort() error = %v", err)
	}

	want := []byte("scheduled hello")
	buf := make([]byte, 64)
	var delivered []byte
	sent := false

	for i := 0; i < 200 && delivered == nil; i++ {
		sys.Tick()
		sys.Yield()

		cur := sys.Sched().CurrentProcess()
		if cur == other && !sent {
			if err := sys.IPC().Send(port, want, 0); err != nil {
				t.Fatalf("Send() error = %v", err)
			}
			sent = true
		}
		if cur == owner && sent {
			n, err := sys.IPC().Receive(port, buf, 0)
			if err != nil {
				t.Fatalf("Receive() error = %v", err)
			}
			delivered = buf[:n]
		}
	}

	if delivered == nil {
		t.Fatalf("message never delivered; both processes must get CPU time")
	}
	if !bytes.Equal(delivered, want) {
		t.Fatalf("delivered %q, want %q", delivered, want)
	}

	st := sys.Snapshot()
	if st.MessagesSent != 1 {
		t.Fatalf("MessagesSent = %d, want 1", st.MessagesSent)
	}
	if st.ActivePorts != 1 {
		t.Fatalf("ActivePorts = %d, want 1", st.ActivePorts)
	}
}

func TestReceiveRequiresOwner(t *testing.T) {
	sys := newTestSystem(t)

	owner, _ := sys.Spawn(0x1000, 0, 0)
	intruder, _ := sys.Spawn(0x2000, 0, 0)
	port, err := sys.CreatePort(owner)
	if err != nil {
		t.Fatalf("CreatePort() error = %v", err)
	}
	if err := sys.IPC().Send(port, []byte("x"), 0); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	// Drive the scheduler until the non-owner holds the CPU, then try to
	// read the owner's port.
	buf := make([]byte, 8)
	for i := 0; i < 200; i++ {
		sys.Tick()
		sys.Yield()
		if sys.Sched().CurrentProcess() != intruder {
			continue
		}
		_, err := sys.IPC().Receive(port, buf, 0)
		if !errors.Is(err, ErrPermission) {
			t.Fatalf("Receive() by non-owner error = %v, want ErrPermission", err)
		}
		return
	}
	t.Fatalf("non-owner process never scheduled")
}

func TestErrorAliases(t *testing.T) {
	sys := newTestSystem(t)

	if err := sys.IPC().Send(9999, []byte("x"), 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Send() to unknown capability error = %v, want ErrNotFound", err)
	}
}
