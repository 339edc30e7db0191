// Package sched implements the per-CPU fair scheduler: virtual-runtime
// accounting over a red-black runqueue, the periodic tick, and the
// thread/process lifecycle. Preemption is decided at tick time and takes
// effect at the next explicit yield point.
package sched

import (
	"sync"
	"sync/atomic"

	"orion/hal"
)

const (
	// LatencyTarget is the scheduling period every runnable thread should
	// run once within.
	LatencyTarget = 6_000_000 // 6ms
	// MinGranularity floors the per-thread time slice and is the fairness
	// threshold for leftmost preemption.
	MinGranularity = 750_000 // 0.75ms

	// loadUpdateTicks is the tick interval for recomputing the aggregate
	// load weight.
	loadUpdateTicks = 100

	// kernelStackPages is allocated when a thread is created without an
	// explicit stack.
	kernelStackPages = 2
)

// Scheduler drives the per-CPU runqueues and owns the process table.
// Construct one per kernel instance; there is no package-level state.
type Scheduler struct {
	clock hal.Clock
	cpu   hal.CPU
	mem   hal.Memory
	sw    hal.ContextSwitcher

	rqs []RunQueue

	nextPID atomic.Uint64
	nextTID atomic.Uint64

	mu       sync.Mutex
	procs    *Process
	nprocs   uint64
	nthreads uint64
	initProc *Process
}

// New creates a scheduler with one runqueue per CPU and the init process
// as PID 1.
func New(clock hal.Clock, cpu hal.CPU, mem hal.Memory, sw hal.ContextSwitcher) (*Scheduler, error) {
	s := &Scheduler{
		clock: clock,
		cpu:   cpu,
		mem:   mem,
		sw:    sw,
		rqs:   make([]RunQueue, cpu.Count()),
	}
	now := clock.Now()
	for i := range s.rqs {
		s.rqs[i].lastUpdate = now
	}
	s.nextPID.Store(1)
	s.nextTID.Store(1)

	init, err := s.CreateProcess()
	if err != nil {
		return nil, err
	}
	s.initProc = init
	return s, nil
}

func (s *Scheduler) rq() *RunQueue {
	return &s.rqs[s.cpu.ID()]
}

// RunQueue returns the runqueue of the given CPU.
func (s *Scheduler) RunQueue(cpu int) *RunQueue {
	return &s.rqs[cpu]
}

// InitProcess returns the init process (PID 1).
func (s *Scheduler) InitProcess() *Process { return s.initProc }

// CreateProcess allocates a process with a fresh address space and an
// empty handle table and links it into the process list. The parent is
// the process of the calling thread, if any.
func (s *Scheduler) CreateProcess() (*Process, error) {
	space, err := s.mem.CreateSpace()
	if err != nil {
		return nil, err
	}
	p := &Process{
		PID:   s.nextPID.Add(1) - 1,
		state: ProcActive,
		space: space,
	}
	if cur := s.CurrentProcess(); cur != nil {
		p.parent = cur
		s.mu.Lock()
		p.sibling = cur.firstChild
		cur.firstChild = p
		s.mu.Unlock()
	}

	s.mu.Lock()
	p.nextProc = s.procs
	s.procs = p
	s.nprocs++
	s.mu.Unlock()
	return p, nil
}

// CreateThread allocates a thread in the process. Entry, stack and arg are
// stored for the context-switch collaborator. When stack is zero a kernel
// stack is allocated from the memory collaborator. The first thread of a
// process becomes its main thread.
func (s *Scheduler) CreateThread(p *Process, entry, stack, arg uint64) (*Thread, error) {
	t := &Thread{
		TID:       s.nextTID.Add(1) - 1,
		state:     StateNew,
		nice:      0,
		weight:    niceWeight(0),
		lastEvent: s.clock.Now(),
		affinity:  ^uint64(0),
		entry:     entry,
		stack:     stack,
		arg:       arg,
		proc:      p,
	}
	if stack == 0 {
		mem, err := s.mem.AllocPages(kernelStackPages)
		if err != nil {
			return nil, err
		}
		t.stackMem = mem
	}

	s.mu.Lock()
	t.next = p.threads
	if p.threads != nil {
		p.threads.prev = t
	}
	p.threads = t
	p.threadCount++
	if p.main == nil {
		p.main = t
	}
	s.nthreads++
	s.mu.Unlock()
	return t, nil
}

// Start moves a New thread to Ready and enqueues it.
func (s *Scheduler) Start(t *Thread) {
	if t.state != StateNew && t.state != StateReady {
		return
	}
	t.state = StateReady
	s.AddToRunQueue(t)
}

// AddToRunQueue inserts a Ready thread into the least-loaded runqueue its
// affinity mask allows, falling back to the calling CPU when the mask
// excludes every CPU.
func (s *Scheduler) AddToRunQueue(t *Thread) {
	best := s.rq()
	var bestLoad uint64
	found := false
	for i := range s.rqs {
		if t.affinity&(1<<uint(i)) == 0 {
			continue
		}
		load := s.rqs[i].LoadWeight()
		if !found || load < bestLoad {
			best = &s.rqs[i]
			bestLoad = load
			found = true
		}
	}
	best.Insert(t)
}

// SetNice changes a thread's nice value, clamped to [-20, 19], and
// recomputes its weight.
func (s *Scheduler) SetNice(t *Thread, nice int) {
	nice = clampNice(nice)
	rq := t.rq
	if rq != nil {
		rq.mu.Lock()
		if t.onRQ {
			rq.loadWeight -= t.weight
			t.nice = nice
			t.weight = niceWeight(nice)
			rq.loadWeight += t.weight
			rq.mu.Unlock()
			return
		}
		rq.mu.Unlock()
	}
	t.nice = nice
	t.weight = niceWeight(nice)
}

// SetAffinity replaces the thread's CPU affinity bitmask. A zero mask is
// rejected; the change steers the next enqueue, it does not migrate a
// thread already queued or running.
func (s *Scheduler) SetAffinity(t *Thread, mask uint64) bool {
	if mask == 0 {
		return false
	}
	t.affinity = mask
	return true
}

// Current returns the thread running on the calling CPU, nil when idle.
func (s *Scheduler) Current() *Thread {
	return s.rq().Current()
}

// CurrentProcess returns the process of the running thread, nil when idle.
func (s *Scheduler) CurrentProcess() *Process {
	if t := s.Current(); t != nil {
		return t.proc
	}
	return nil
}

// account charges elapsed real time to t, weighted into virtual time.
// Caller holds the runqueue lock.
func (s *Scheduler) account(rq *RunQueue, t *Thread, now uint64) {
	if now <= t.lastEvent {
		return
	}
	delta := now - t.lastEvent
	t.runtime += delta
	t.vruntime += calcDeltaFair(delta, t.weight)
	t.lastEvent = now
}

// Tick performs the periodic fairness pass for the calling CPU: charge
// the running thread, raise the watermark, and mark it Ready when it has
// outrun its slice or the leftmost thread. The actual switch happens at
// the next yield, not here.
func (s *Scheduler) Tick() {
	rq := s.rq()
	rq.mu.Lock()
	rq.tickCount++

	t := rq.current
	if t == nil {
		rq.mu.Unlock()
		return
	}

	now := s.clock.Now()
	s.account(rq, t, now)

	// The watermark only moves when the running thread is not behind the
	// tree's leftmost; it is a monotonic floor, never a decrease.
	leftmost := rq.pickNext()
	if (leftmost == nil || t.vruntime <= leftmost.vruntime) && t.vruntime > rq.minVruntime {
		rq.minVruntime = t.vruntime
	}

	slice := uint64(LatencyTarget)
	if rq.nrRunning > 1 {
		slice = LatencyTarget / uint64(rq.nrRunning)
	}
	if slice < MinGranularity {
		slice = MinGranularity
	}

	preempt := t.runtime-t.sliceStart >= slice
	if leftmost != nil && leftmost.vruntime+MinGranularity < t.vruntime {
		preempt = true
	}

	if rq.tickCount%loadUpdateTicks == 0 {
		load := uint64(0)
		for n := rq.pickNext(); n != nil; n = nextInOrder(n) {
			if n.state == StateReady || n.state == StateRunning {
				load += n.weight
			}
		}
		if t.state == StateRunning {
			load += t.weight
		}
		rq.loadWeight = load
		rq.lastUpdate = now
	}

	if preempt && t.state == StateRunning {
		t.state = StateReady
	}
	rq.mu.Unlock()
}

// Yield is the cooperative dispatch point: charge the current thread,
// requeue it if still runnable, dispatch the minimum-vruntime thread, and
// switch machine context. With nothing runnable the CPU idles.
func (s *Scheduler) Yield() {
	rq := s.rq()
	rq.mu.Lock()

	now := s.clock.Now()
	prev := rq.current
	var prevTID uint64
	if prev != nil {
		prevTID = prev.TID
		s.account(rq, prev, now)
		if prev.state == StateRunning {
			prev.state = StateReady
		}
		if prev.state == StateReady {
			rq.insert(prev)
		}
		rq.current = nil
	}

	next := rq.pickNext()
	if next == nil {
		rq.mu.Unlock()
		s.cpu.Idle()
		return
	}
	rq.remove(next)
	next.state = StateRunning
	next.lastEvent = now
	next.sliceStart = next.runtime
	rq.current = next
	rq.mu.Unlock()

	if next != prev {
		s.sw.Switch(prevTID, next.TID)
	}
}

// BlockCurrent marks the running thread (and its process) Blocked. The
// caller still owns the CPU until it yields.
func (s *Scheduler) BlockCurrent() {
	rq := s.rq()
	rq.mu.Lock()
	if t := rq.current; t != nil {
		t.state = StateBlocked
		if t.proc != nil {
			t.proc.state = ProcBlocked
		}
	}
	rq.mu.Unlock()
}

// Wake moves a Blocked thread back to Ready and enqueues it.
func (s *Scheduler) Wake(t *Thread) {
	if t == nil || t.state != StateBlocked {
		return
	}
	t.state = StateReady
	if t.proc != nil {
		t.proc.state = ProcActive
	}
	s.AddToRunQueue(t)
}

// WakeProcess wakes a process via its main thread.
func (s *Scheduler) WakeProcess(p *Process) {
	if p == nil {
		return
	}
	s.Wake(p.main)
}

// SleepNS is a cooperative polling sleep: record the deadline, block,
// yield, and return once the quantum has passed. Callers re-check their
// condition on every return; there is no timer-expiry wake.
func (s *Scheduler) SleepNS(d uint64) {
	rq := s.rq()
	rq.mu.Lock()
	t := rq.current
	if t != nil {
		t.sleepUntil = s.clock.Now() + d
		t.state = StateBlocked
		if t.proc != nil {
			t.proc.state = ProcBlocked
		}
	}
	rq.mu.Unlock()

	s.Yield()
	s.cpu.Pause()

	if t != nil {
		for s.clock.Now() < t.sleepUntil {
			s.cpu.Pause()
		}
		t.sleepUntil = 0
		s.Wake(t)
	}
}

// ExitCurrent terminates the running thread, records the exit code on its
// process, and dispatches the next thread. Terminated is reachable from
// Running only.
func (s *Scheduler) ExitCurrent(code int) {
	rq := s.rq()
	rq.mu.Lock()
	t := rq.current
	if t != nil && t.state == StateRunning {
		t.state = StateTerminated
		if t.proc != nil {
			t.proc.exitCode = code
			t.proc.state = ProcZombie
		}
		rq.current = nil
	}
	rq.mu.Unlock()
	s.Yield()
}

// Signal sets a pending-signal bit on the process and wakes it if it is
// blocked. Signal numbers 1..63 are valid.
func (s *Scheduler) Signal(p *Process, sig uint) bool {
	if p == nil || sig == 0 || sig > 63 {
		return false
	}
	s.mu.Lock()
	p.pendingSignals |= 1 << sig
	s.mu.Unlock()
	if p.state == ProcBlocked {
		s.WakeProcess(p)
	}
	return true
}

// TakeSignal clears and returns the lowest pending signal, or 0.
func (s *Scheduler) TakeSignal(p *Process) uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sig := uint(1); sig <= 63; sig++ {
		if p.pendingSignals&(1<<sig) != 0 {
			p.pendingSignals &^= 1 << sig
			return sig
		}
	}
	return 0
}

// FindProcess returns the process with the given pid, or nil.
func (s *Scheduler) FindProcess(pid uint64) *Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	for p := s.procs; p != nil; p = p.nextProc {
		if p.PID == pid {
			return p
		}
	}
	return nil
}

// ProcessCount returns the number of live processes.
func (s *Scheduler) ProcessCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nprocs
}

// ThreadCount returns the number of live threads.
func (s *Scheduler) ThreadCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nthreads
}

// DestroyProcess tears down every thread of the process (dequeuing any
// that are enqueued or current), releases the address space, and unlinks
// the process. Safe on a process with zero threads.
func (s *Scheduler) DestroyProcess(p *Process) {
	if p == nil {
		return
	}

	// Unlink from the global list first so no lookup sees a dying process.
	s.mu.Lock()
	pp := &s.procs
	for *pp != nil && *pp != p {
		pp = &(*pp).nextProc
	}
	if *pp == p {
		*pp = p.nextProc
		s.nprocs--
	}
	threads := p.threads
	p.threads = nil
	p.main = nil
	n := p.threadCount
	p.threadCount = 0
	s.nthreads -= uint64(n)
	s.mu.Unlock()

	for t := threads; t != nil; {
		next := t.next
		s.detachThread(t)
		if t.stackMem != nil {
			s.mem.FreePages(t.stackMem)
			t.stackMem = nil
		}
		t.state = StateTerminated
		t.next, t.prev, t.proc = nil, nil, nil
		t = next
	}

	if p.space != nil {
		p.space.Destroy()
		p.space = nil
	}
	p.state = ProcZombie
}

// detachThread removes a thread from whatever runqueue holds it, whether
// enqueued or current.
func (s *Scheduler) detachThread(t *Thread) {
	for i := range s.rqs {
		rq := &s.rqs[i]
		rq.mu.Lock()
		if rq.current == t {
			rq.current = nil
		}
		if t.onRQ && t.rq == rq {
			rq.remove(t)
		}
		rq.mu.Unlock()
	}
}
