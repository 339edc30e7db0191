// Package ipc implements the capability-addressed message-passing core:
// bounded lock-free queues of message slots, a shared page pool for
// zero-copy payloads, and the port registry with its send/receive API.
// Blocking is layered on top of the non-blocking queues as bounded
// retry loops with cooperative sleeps.
package ipc

import (
	"orion/hal"
	"orion/kernel/sched"
)

const (
	// MaxMessageBytes bounds a single message payload.
	MaxMessageBytes = 64 * 1024

	// retryQuantum is the cooperative sleep between publish/consume
	// retries while a timeout budget remains.
	retryQuantum = 1000 // 1µs
)

// PortStats is a snapshot of one port's traffic counters.
type PortStats struct {
	Sent      uint64
	Received  uint64
	Bytes     uint64
	CreatedAt uint64
}

// IPC composes queue, pool, registry and scheduler into the
// message-passing API. Construct one per kernel instance.
type IPC struct {
	clock  hal.Clock
	rights hal.RightsChecker
	sched  *sched.Scheduler
	pool   *Pool
	reg    *Registry
}

// New creates the IPC subsystem, allocating the shared pool arena from
// the memory collaborator.
func New(clock hal.Clock, rights hal.RightsChecker, mem hal.Memory, s *sched.Scheduler) (*IPC, error) {
	pool, err := NewPool(mem, PoolBytes)
	if err != nil {
		return nil, err
	}
	return &IPC{
		clock:  clock,
		rights: rights,
		sched:  s,
		pool:   pool,
		reg:    NewRegistry(),
	}, nil
}

// Pool returns the shared zero-copy page pool.
func (k *IPC) Pool() *Pool { return k.pool }

// Registry returns the port registry.
func (k *IPC) Registry() *Registry { return k.reg }

// CreatePort allocates a new port owned by the given process and returns
// its capability id. Fails with ErrExhausted when the table is full.
func (k *IPC) CreatePort(owner uint64) (uint64, error) {
	id := k.reg.create(owner, k.clock.Now())
	if id == 0 {
		return 0, ErrExhausted
	}
	return id, nil
}

// Send delivers data to the port with no transferred capabilities.
func (k *IPC) Send(portCap uint64, data []byte, timeout uint64) error {
	return k.SendCaps(portCap, data, nil, 0, timeout)
}

// SendCaps delivers data plus up to MaxTransferCaps capability ids.
// Payloads above InlineBytes go zero-copy through the shared pool. A zero
// timeout polls once; a positive timeout bounds the total wait against
// the same clock the scheduler accounts with.
func (k *IPC) SendCaps(portCap uint64, data []byte, caps []uint64, flags Flags, timeout uint64) error {
	if len(data) > MaxMessageBytes || len(caps) > MaxTransferCaps {
		return ErrInvalidArgument
	}
	port := k.reg.find(portCap)
	if port == nil {
		return ErrNotFound
	}
	if !k.rights.Check(portCap, hal.RightSend) {
		return ErrPermission
	}

	var msg Message
	if cur := k.sched.CurrentProcess(); cur != nil {
		msg.Sender = cur.PID
	}
	msg.Flags = flags &^ FlagZeroCopy
	msg.Size = uint32(len(data))
	msg.Timestamp = k.clock.Now()
	copy(msg.Caps[:], caps)
	msg.CapCount = uint32(len(caps))

	if len(data) > InlineBytes {
		addr := k.pool.AllocSpan(pagesFor(len(data)))
		if addr == 0 {
			return ErrExhausted
		}
		copy(k.pool.Span(addr, 0, len(data)), data)
		msg.Flags |= FlagZeroCopy
		msg.Page = addr
	} else {
		copy(msg.Inline[:], data)
	}

	start := msg.Timestamp
	cur := k.sched.Current()
	unpark := func() {
		if cur != nil {
			port.sendersMu.Lock()
			port.waitingSenders.Remove(cur)
			port.sendersMu.Unlock()
		}
	}
	for {
		if port.State() != PortActive {
			unpark()
			k.releasePages(&msg)
			return ErrNotFound
		}
		if port.recvQ.TryPublish(&msg) {
			break
		}
		if timeout == 0 || k.clock.Now()-start >= timeout {
			unpark()
			k.releasePages(&msg)
			return ErrTimedOut
		}
		if cur != nil {
			port.sendersMu.Lock()
			port.waitingSenders.Push(cur)
			port.sendersMu.Unlock()
			k.sched.BlockCurrent()
		}
		k.sched.SleepNS(retryQuantum)
	}
	unpark()

	port.receiversMu.Lock()
	waiter := port.waitingReceivers.Pop()
	port.receiversMu.Unlock()
	k.sched.Wake(waiter)

	port.sent.Add(1)
	port.bytes.Add(uint64(len(data)))
	k.reg.totalSent.Add(1)
	return nil
}

// Receive delivers the oldest pending message into buf and returns the
// byte count.
func (k *IPC) Receive(portCap uint64, buf []byte, timeout uint64) (int, error) {
	n, _, err := k.ReceiveCaps(portCap, buf, timeout)
	return n, err
}

// ReceiveCaps is Receive plus the message's transferred capability ids.
// Only the owning process may receive. A buffer smaller than the pending
// message fails with ErrInvalidArgument and delivers nothing; any
// zero-copy page is returned to the pool.
func (k *IPC) ReceiveCaps(portCap uint64, buf []byte, timeout uint64) (int, []uint64, error) {
	port := k.reg.find(portCap)
	if port == nil {
		return 0, nil, ErrNotFound
	}
	if !k.rights.Check(portCap, hal.RightRecv) {
		return 0, nil, ErrPermission
	}
	if cur := k.sched.CurrentProcess(); cur != nil && cur.PID != port.owner {
		return 0, nil, ErrPermission
	}

	var msg Message
	start := k.clock.Now()
	cur := k.sched.Current()
	unpark := func() {
		if cur != nil {
			port.receiversMu.Lock()
			port.waitingReceivers.Remove(cur)
			port.receiversMu.Unlock()
		}
	}
	for {
		if port.recvQ.TryConsume(&msg) {
			break
		}
		if port.State() != PortActive {
			unpark()
			return 0, nil, ErrNotFound
		}
		if timeout == 0 || k.clock.Now()-start >= timeout {
			unpark()
			return 0, nil, ErrTimedOut
		}
		if cur != nil {
			port.receiversMu.Lock()
			port.waitingReceivers.Push(cur)
			port.receiversMu.Unlock()
			k.sched.BlockCurrent()
		}
		k.sched.SleepNS(retryQuantum)
	}
	unpark()

	// Space freed: promote one parked sender.
	port.sendersMu.Lock()
	sender := port.waitingSenders.Pop()
	port.sendersMu.Unlock()
	k.sched.Wake(sender)

	size := int(msg.Size)
	if len(buf) < size {
		k.releasePages(&msg)
		return 0, nil, ErrInvalidArgument
	}

	if msg.Flags&FlagZeroCopy != 0 {
		span := k.pool.Span(msg.Page, msg.Offset, size)
		if span == nil {
			return 0, nil, ErrFault
		}
		copy(buf, span)
		k.pool.FreeSpan(msg.Page, pagesFor(size))
	} else {
		copy(buf, msg.Inline[:size])
	}

	port.received.Add(1)

	var caps []uint64
	if msg.CapCount > 0 {
		caps = append(caps, msg.Caps[:msg.CapCount]...)
	}
	return size, caps, nil
}

// DestroyPort closes the port: every parked thread is woken with no
// message delivered, queued zero-copy pages return to the pool, and the
// slot is recycled. Threads observing the port mid-teardown get
// ErrNotFound on their next retry.
func (k *IPC) DestroyPort(portCap uint64) error {
	port := k.reg.find(portCap)
	if port == nil {
		return ErrNotFound
	}
	if !k.rights.Check(portCap, hal.RightDestroy) {
		return ErrPermission
	}
	port.state.Store(uint32(PortClosing))

	port.sendersMu.Lock()
	for {
		t := port.waitingSenders.Pop()
		if t == nil {
			break
		}
		k.sched.Wake(t)
	}
	port.sendersMu.Unlock()

	port.receiversMu.Lock()
	for {
		t := port.waitingReceivers.Pop()
		if t == nil {
			break
		}
		k.sched.Wake(t)
	}
	port.receiversMu.Unlock()

	var msg Message
	for port.recvQ.TryConsume(&msg) {
		k.releasePages(&msg)
	}

	k.reg.release(port)
	return nil
}

// Stats returns the traffic counters of an Active port.
func (k *IPC) Stats(portCap uint64) (PortStats, error) {
	port := k.reg.find(portCap)
	if port == nil {
		return PortStats{}, ErrNotFound
	}
	return PortStats{
		Sent:      port.sent.Load(),
		Received:  port.received.Load(),
		Bytes:     port.bytes.Load(),
		CreatedAt: port.createdAt,
	}, nil
}

func (k *IPC) releasePages(msg *Message) {
	if msg.Flags&FlagZeroCopy != 0 && msg.Page != 0 {
		k.pool.FreeSpan(msg.Page, pagesFor(int(msg.Size)))
	}
}
