// Package kernel boots and owns the two core subsystems: the fair
// scheduler and the capability IPC layer. Everything hardware-shaped
// comes in through the hal collaborators so the same kernel runs on a
// host process or bare metal.
package kernel

import (
	"orion/hal"
	"orion/kernel/ipc"
	"orion/kernel/sched"
)

// System is one booted kernel instance.
type System struct {
	_ [0]func() // no copies

	hal   hal.HAL
	sched *sched.Scheduler
	ipc   *ipc.IPC
	boot  uint64
}

// Stats is a point-in-time snapshot for monitors and tests.
type Stats struct {
	UptimeNS      uint64
	Processes     uint64
	Threads       uint64
	ActivePorts   int64
	PortsCreated  uint64
	MessagesSent  uint64
	PoolFreePages int
}

// New boots a kernel over the given HAL: scheduler with its init
// process, then the IPC subsystem with its shared pool.
func New(h hal.HAL) (*System, error) {
	s, err := sched.New(h, h, h, h)
	if err != nil {
		return nil, err
	}
	k, err := ipc.New(h, h, h, s)
	if err != nil {
		return nil, err
	}
	return &System{hal: h, sched: s, ipc: k, boot: h.Now()}, nil
}

// Sched returns the scheduler.
func (sys *System) Sched() *sched.Scheduler { return sys.sched }

// IPC returns the message-passing subsystem.
func (sys *System) IPC() *ipc.IPC { return sys.ipc }

// Spawn creates a process with one thread at entry and makes it
// runnable.
func (sys *System) Spawn(entry, arg uint64, nice int) (*sched.Process, error) {
	p, err := sys.sched.CreateProcess()
	if err != nil {
		return nil, err
	}
	t, err := sys.sched.CreateThread(p, entry, 0, arg)
	if err != nil {
		sys.sched.DestroyProcess(p)
		return nil, err
	}
	sys.sched.SetNice(t, nice)
	sys.sched.Start(t)
	return p, nil
}

// CreatePort creates a port owned by owner and records it in the
// owner's handle table.
func (sys *System) CreatePort(owner *sched.Process) (uint64, error) {
	if owner == nil {
		return 0, ErrInvalidArgument
	}
	id, err := sys.ipc.CreatePort(owner.PID)
	if err != nil {
		return 0, err
	}
	if _, ok := owner.AddHandle(sched.HandleIPCPort, id); !ok {
		sys.ipc.DestroyPort(id)
		return 0, ErrExhausted
	}
	return id, nil
}

// Tick advances scheduler time accounting by one tick.
func (sys *System) Tick() { sys.sched.Tick() }

// Yield runs one scheduling decision on the calling context.
func (sys *System) Yield() { sys.sched.Yield() }

// Snapshot captures current counters.
func (sys *System) Snapshot() Stats {
	return Stats{
		UptimeNS:      sys.hal.Now() - sys.boot,
		Processes:     sys.sched.ProcessCount(),
		Threads:       sys.sched.ThreadCount(),
		ActivePorts:   sys.ipc.Registry().Active(),
		PortsCreated:  sys.ipc.Registry().Created(),
		MessagesSent:  sys.ipc.Registry().TotalSent(),
		PoolFreePages: sys.ipc.Pool().FreePages(),
	}
}
