package ipc

import "sync/atomic"

const (
	// QueueCapacity is the slot count of every port queue. Must stay a
	// power of two for the index mask.
	QueueCapacity = 256

	// InlineBytes is the inline payload threshold; anything larger rides
	// in a shared pool page.
	InlineBytes = 256

	// MaxTransferCaps bounds the capabilities carried by one message.
	MaxTransferCaps = 8
)

// Flags carried by a message.
type Flags uint32

const (
	FlagZeroCopy Flags = 1 << iota
	FlagUrgent
)

// Message is the content of one queue slot. Payloads at or below
// InlineBytes live in Inline; larger payloads are referenced by a shared
// pool page address plus offset.
type Message struct {
	Sender    uint64
	Flags     Flags
	Size      uint32
	Timestamp uint64

	Page   uint64
	Offset uint32

	Caps     [MaxTransferCaps]uint64
	CapCount uint32

	Inline [InlineBytes]byte
}

type slot struct {
	seq atomic.Uint64
	msg Message
}

// Queue is a bounded lock-free ring of message slots safe for concurrent
// producers and consumers. Each slot's sequence number, compared against
// the head or tail cursor, is the sole synchronization point: it says
// whether the slot is writable for this lap, readable, or stale.
//
// Per-producer publish order is preserved; across racing producers the
// CAS winner order is the delivery order. Consumption is FIFO over
// successful publishes.
type Queue struct {
	_     [0]func() // prevent accidental copying.
	head  atomic.Uint64
	tail  atomic.Uint64
	mask  uint64
	slots []slot
}

// NewQueue allocates a queue whose capacity must be a power of two;
// otherwise it panics so the index mask stays valid. Slot sequence
// numbers start at their own index, marking every slot writable for
// lap zero.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		panic("ipc: queue capacity must be >0 and a power of two")
	}
	q := &Queue{
		mask:  uint64(capacity - 1),
		slots: make([]slot, capacity),
	}
	for i := range q.slots {
		q.slots[i].seq.Store(uint64(i))
	}
	return q
}

// Cap returns the slot count.
func (q *Queue) Cap() int { return len(q.slots) }

// TryPublish copies m into the next free slot and publishes it, returning
// false when the queue is full. Never blocks; waiting policy is the
// caller's.
func (q *Queue) TryPublish(m *Message) bool {
	head := q.head.Load()
	for {
		s := &q.slots[head&q.mask]
		seq := s.seq.Load()
		diff := int64(seq) - int64(head)

		switch {
		case diff == 0:
			// Writable for this head value; reserve it by advancing the
			// cursor. The slot cannot be handed out twice for one lap.
			if q.head.CompareAndSwap(head, head+1) {
				s.msg = *m
				// Publish: must be the last write to the slot.
				s.seq.Store(head + 1)
				return true
			}
			head = q.head.Load()
		case diff < 0:
			// Consumer has not freed the slot for this lap: full.
			return false
		default:
			// Another producer advanced past us; retry with a fresh head.
			head = q.head.Load()
		}
	}
}

// TryConsume copies the oldest published slot into m and frees the slot
// for the next lap, returning false when the queue is empty.
func (q *Queue) TryConsume(m *Message) bool {
	tail := q.tail.Load()
	for {
		s := &q.slots[tail&q.mask]
		seq := s.seq.Load()
		diff := int64(seq) - int64(tail+1)

		switch {
		case diff == 0:
			if q.tail.CompareAndSwap(tail, tail+1) {
				*m = s.msg
				s.seq.Store(tail + uint64(len(q.slots)))
				return true
			}
			tail = q.tail.Load()
		case diff < 0:
			return false
		default:
			tail = q.tail.Load()
		}
	}
}
