// Package hal declares the narrow interfaces through which the kernel core
// talks to its external collaborators: the timestamp source, the machine
// context switch, physical memory, the capability authority, and the CPU
// topology. The core never reaches past these.
package hal

import "errors"

var ErrNoMemory = errors.New("out of memory")

// PageSize is the granularity of all physical page operations.
const PageSize = 4096

// Clock is the monotonic timestamp source. Scheduler accounting and IPC
// timeout budgets both measure against the same clock, so fairness and
// deadline arithmetic cannot drift apart.
type Clock interface {
	// Now returns monotonic nanoseconds since an arbitrary origin.
	Now() uint64
}

// CPU exposes the processor topology and low-power wait primitives.
type CPU interface {
	// ID returns the index of the CPU executing the caller.
	ID() int
	// Count returns the number of logical CPUs.
	Count() int
	// Pause briefly relinquishes the CPU inside a retry loop.
	Pause()
	// Idle waits until the next interrupt when nothing is runnable.
	Idle()
}

// ContextSwitcher performs the opaque register save/restore between two
// threads, identified by their thread ids. The previous id is zero when
// the CPU was idle.
type ContextSwitcher interface {
	Switch(prev, next uint64)
}

// AddressSpace is an opaque handle to a process virtual address space.
type AddressSpace interface {
	Destroy()
}

// Memory is the physical/virtual memory collaborator.
type Memory interface {
	// AllocPages returns a zeroed region of count pages, or ErrNoMemory.
	AllocPages(count int) ([]byte, error)
	// FreePages releases a region previously returned by AllocPages.
	FreePages(region []byte)
	// CreateSpace builds a fresh address space for a new process.
	CreateSpace() (AddressSpace, error)
}

// Right is a single permission bit checked against a capability.
type Right uint32

const (
	RightSend Right = 1 << iota
	RightRecv
	RightDestroy
)

// RightsChecker is the capability/authorization collaborator. A capability
// id is an opaque handle; whether a principal may exercise a right on it is
// always answered here, never inferred from the id value.
type RightsChecker interface {
	Check(cap uint64, right Right) bool
}

// HAL bundles every collaborator the kernel core consumes.
type HAL interface {
	Clock
	CPU
	Memory
	RightsChecker
	ContextSwitcher
}
