package sched

import "orion/hal"

// State is the lifecycle state of a thread.
//
// Transitions: New -> Ready -> Running -> {Ready | Blocked | Terminated},
// Blocked -> Ready. Terminated is reachable from Running only, and a
// thread leaving Blocked always passes through Ready.
type State uint8

const (
	StateNew State = iota
	StateReady
	StateRunning
	StateBlocked
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateBlocked:
		return "blocked"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// ProcState is the lifecycle state of a process.
type ProcState uint8

const (
	ProcActive ProcState = iota
	ProcBlocked
	ProcZombie
)

func (s ProcState) String() string {
	switch s {
	case ProcActive:
		return "active"
	case ProcBlocked:
		return "blocked"
	case ProcZombie:
		return "zombie"
	default:
		return "unknown"
	}
}

// Thread is one schedulable unit of execution. Entry, stack and argument
// are consumed opaquely by the context-switch collaborator; the scheduler
// never interprets them.
type Thread struct {
	TID uint64

	state State
	nice  int
	// weight derived from nice; controls how fast vruntime grows.
	weight uint64
	// vruntime and runtime are unsigned nanosecond accumulators.
	vruntime uint64
	runtime  uint64
	// lastEvent is the timestamp of the last scheduling event.
	lastEvent uint64
	// sliceStart snapshots runtime at dispatch; the tick compares the
	// difference against the current time slice.
	sliceStart uint64
	sleepUntil uint64
	affinity   uint64

	entry, stack, arg uint64
	stackMem          []byte

	proc *Process

	// Red-black tree linkage. A thread is in at most one runqueue tree,
	// and never while Running.
	parent, left, right *Thread
	red                 bool
	rq                  *RunQueue
	onRQ                bool

	// Process thread list.
	next, prev *Thread

	// Port wait-list link, used only while blocked on a port.
	waitNext *Thread
	onWait   bool
}

// State returns the thread's lifecycle state.
func (t *Thread) State() State { return t.state }

// Nice returns the thread's nice value.
func (t *Thread) Nice() int { return t.nice }

// Weight returns the scheduling weight derived from the nice value.
func (t *Thread) Weight() uint64 { return t.weight }

// VRuntime returns the accumulated virtual runtime in nanoseconds.
func (t *Thread) VRuntime() uint64 { return t.vruntime }

// Runtime returns the accumulated actual runtime in nanoseconds.
func (t *Thread) Runtime() uint64 { return t.runtime }

// Process returns the owning process.
func (t *Thread) Process() *Process { return t.proc }

// Affinity returns the CPU affinity bitmask.
func (t *Thread) Affinity() uint64 { return t.affinity }

// Handle kinds stored in a process handle table.
type HandleKind uint8

const (
	HandleNone HandleKind = iota
	HandleProcess
	HandleThread
	HandleIPCPort
	HandleMemory
)

// Handle is one entry of a process's fixed capability/handle table.
type Handle struct {
	Kind   HandleKind
	Object uint64
}

// MaxHandles is the size of the per-process handle table.
const MaxHandles = 64

// Process owns an address space, a thread list and a handle table.
type Process struct {
	PID uint64

	state    ProcState
	exitCode int

	threads     *Thread
	main        *Thread
	threadCount int

	space hal.AddressSpace

	handles [MaxHandles]Handle

	parent              *Process
	firstChild, sibling *Process

	pendingSignals uint64

	// Global process list link.
	nextProc *Process
}

// State returns the process lifecycle state.
func (p *Process) State() ProcState { return p.state }

// Main returns the designated main thread, nil before the first thread is
// created.
func (p *Process) Main() *Thread { return p.main }

// ThreadCount returns the number of live threads.
func (p *Process) ThreadCount() int { return p.threadCount }

// Parent returns the parent process, nil for a root process.
func (p *Process) Parent() *Process { return p.parent }

// ExitCode returns the recorded exit code.
func (p *Process) ExitCode() int { return p.exitCode }

// PendingSignals returns the pending-signal bitmask.
func (p *Process) PendingSignals() uint64 { return p.pendingSignals }

// AddHandle installs a handle in the first free table slot and returns its
// index, or false if the table is full.
func (p *Process) AddHandle(kind HandleKind, object uint64) (int, bool) {
	for i := range p.handles {
		if p.handles[i].Kind == HandleNone {
			p.handles[i] = Handle{Kind: kind, Object: object}
			return i, true
		}
	}
	return 0, false
}

// Handle returns the table entry at index i.
func (p *Process) Handle(i int) (Handle, bool) {
	if i < 0 || i >= MaxHandles || p.handles[i].Kind == HandleNone {
		return Handle{}, false
	}
	return p.handles[i], true
}

// CloseHandle clears the table entry at index i.
func (p *Process) CloseHandle(i int) {
	if i >= 0 && i < MaxHandles {
		p.handles[i] = Handle{}
	}
}
