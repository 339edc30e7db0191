package ipc

import (
	"sync"
	"sync/atomic"

	"orion/kernel/sched"
)

const (
	// MaxPorts is the size of the port table; a power of two so the hash
	// can mask instead of dividing.
	MaxPorts = 4096

	// firstCapID starts the capability counter above the reserved range.
	firstCapID = 1000
)

// PortState is the lifecycle of a port slot. The zero value is Closed, so
// a fresh table is all free slots.
type PortState uint32

const (
	PortClosed PortState = iota
	PortActive
	PortClosing
)

func (s PortState) String() string {
	switch s {
	case PortClosed:
		return "closed"
	case PortActive:
		return "active"
	case PortClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Port is one communication endpoint: a capability id, an owner, the
// message queue and the wait lists of threads parked on it. Traffic runs
// lock-free against the queue; only the wait lists take their own locks,
// and structural changes go through the registry.
type Port struct {
	capID atomic.Uint64
	state atomic.Uint32

	owner     uint64
	createdAt uint64

	recvQ *Queue

	sendersMu      sync.Mutex
	waitingSenders sched.WaitList

	receiversMu      sync.Mutex
	waitingReceivers sched.WaitList

	sent     atomic.Uint64
	received atomic.Uint64
	bytes    atomic.Uint64
}

// Owner returns the owning process id.
func (p *Port) Owner() uint64 { return p.owner }

// State returns the port lifecycle state.
func (p *Port) State() PortState { return PortState(p.state.Load()) }

// hashCap avalanches a capability id into a table index.
func hashCap(cap uint64) uint32 {
	h := cap
	h ^= h >> 33
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33
	h *= 0xc4ceb9fe1a85ec53
	h ^= h >> 33
	return uint32(h) & (MaxPorts - 1)
}

// Hash table entry encoding: 0 empty (terminates probes), -1 tombstone
// (probes continue), otherwise slot index + 1.
const idxTombstone = -1

// Registry is the fixed port table plus the capability hash index. One
// lock guards structural changes; lookups and per-port traffic are
// lock-free against it.
type Registry struct {
	mu    sync.Mutex
	ports [MaxPorts]Port
	index [MaxPorts]atomic.Int32

	nextCap   atomic.Uint64
	active    atomic.Int64
	created   atomic.Uint64
	totalSent atomic.Uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	r.nextCap.Store(firstCapID)
	return r
}

// create claims a free slot, assigns the next capability id, initializes
// both queues and publishes the port as Active. Returns zero when the
// table is full.
func (r *Registry) create(owner, now uint64) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot := -1
	for i := range r.ports {
		p := &r.ports[i]
		if p.State() == PortClosed && p.capID.Load() == 0 {
			slot = i
			break
		}
	}
	if slot < 0 {
		return 0
	}

	capID := r.nextCap.Add(1) - 1
	p := &r.ports[slot]
	p.owner = owner
	p.createdAt = now
	p.recvQ = NewQueue(QueueCapacity)
	p.sent.Store(0)
	p.received.Store(0)
	p.bytes.Store(0)

	// Open addressing: first reusable probe slot takes the entry.
	h := hashCap(capID)
	for i := uint32(0); i < MaxPorts; i++ {
		e := &r.index[(h+i)&(MaxPorts-1)]
		if v := e.Load(); v == 0 || v == idxTombstone {
			e.Store(int32(slot) + 1)
			break
		}
	}

	p.capID.Store(capID)
	p.state.Store(uint32(PortActive))

	r.created.Add(1)
	r.active.Add(1)
	return capID
}

// find resolves a capability id to its Active port. Probing stops at a
// never-populated index slot; tombstones keep the chain alive.
func (r *Registry) find(cap uint64) *Port {
	if cap == 0 {
		return nil
	}
	h := hashCap(cap)
	for i := uint32(0); i < MaxPorts; i++ {
		v := r.index[(h+i)&(MaxPorts-1)].Load()
		if v == 0 {
			return nil
		}
		if v == idxTombstone {
			continue
		}
		p := &r.ports[v-1]
		if p.capID.Load() == cap && p.State() == PortActive {
			return p
		}
	}
	return nil
}

// release retires a Closing port: the index entry becomes a tombstone and
// the slot returns to the free pool.
func (r *Registry) release(p *Port) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cap := p.capID.Load()
	if cap != 0 {
		h := hashCap(cap)
		for i := uint32(0); i < MaxPorts; i++ {
			e := &r.index[(h+i)&(MaxPorts-1)]
			v := e.Load()
			if v == 0 {
				break
			}
			if v > 0 && &r.ports[v-1] == p {
				e.Store(idxTombstone)
				break
			}
		}
	}

	p.capID.Store(0)
	p.owner = 0
	// Queues stay in place until the slot is reused: a thread parked on
	// the port may still poll them before observing the state change.
	p.state.Store(uint32(PortClosed))
	r.active.Add(-1)
}

// Active returns the number of Active ports.
func (r *Registry) Active() int64 { return r.active.Load() }

// Created returns the number of ports ever created.
func (r *Registry) Created() uint64 { return r.created.Load() }

// TotalSent returns the registry-wide count of successful sends.
func (r *Registry) TotalSent() uint64 { return r.totalSent.Load() }
