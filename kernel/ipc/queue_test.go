package ipc

import (
	"encoding/binary"
	"sync"
	"sync/atomic"
	"testing"
)

func TestQueueCapacityMustBePowerOfTwo(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("NewQueue(12) did not panic")
		}
	}()
	NewQueue(12)
}

func TestQueueFillAndDrain(t *testing.T) {
	q := NewQueue(8)

	var m Message
	for i := 0; i < q.Cap(); i++ {
		m.Size = uint32(i)
		if ok := q.TryPublish(&m); !ok {
			t.Fatalf("TryPublish() ok = false at slot %d, want true", i)
		}
	}
	if ok := q.TryPublish(&m); ok {
		t.Fatalf("TryPublish() ok = true when full, want false")
	}

	for i := 0; i < q.Cap(); i++ {
		var out Message
		if ok := q.TryConsume(&out); !ok {
			t.Fatalf("TryConsume() ok = false at slot %d, want true", i)
		}
		if out.Size != uint32(i) {
			t.Fatalf("consumed Size = %d at position %d, want FIFO order", out.Size, i)
		}
	}
	var out Message
	if ok := q.TryConsume(&out); ok {
		t.Fatalf("TryConsume() ok = true when empty, want false")
	}
}

func TestQueueSlotReuseAcrossLaps(t *testing.T) {
	q := NewQueue(4)

	// Cycle well past one lap so every slot is reused several times.
	var m, out Message
	for i := 0; i < 40; i++ {
		m.Size = uint32(i)
		if !q.TryPublish(&m) {
			t.Fatalf("TryPublish() ok = false at iteration %d", i)
		}
		if !q.TryConsume(&out) {
			t.Fatalf("TryConsume() ok = false at iteration %d", i)
		}
		if out.Size != uint32(i) {
			t.Fatalf("consumed Size = %d at iteration %d", out.Size, i)
		}
	}
}

func TestQueueConcurrentProducersConsumers(t *testing.T) {
	const (
		producers = 4
		consumers = 2
		perProd   = 5_000
		total     = producers * perProd
	)

	q := NewQueue(QueueCapacity)

	var wg sync.WaitGroup
	start := make(chan struct{})

	wg.Add(producers)
	for id := 0; id < producers; id++ {
		go func(id int) {
			defer wg.Done()
			<-start
			var m Message
			for i := 0; i < perProd; i++ {
				binary.LittleEndian.PutUint32(m.Inline[:4], uint32(id))
				binary.LittleEndian.PutUint32(m.Inline[4:8], uint32(i))
				for !q.TryPublish(&m) {
				}
			}
		}(id)
	}

	results := make(chan [2]uint32, total)
	var consumed atomic.Int64
	var cwg sync.WaitGroup
	cwg.Add(consumers)
	for c := 0; c < consumers; c++ {
		go func() {
			defer cwg.Done()
			var m Message
			for consumed.Load() < total {
				if !q.TryConsume(&m) {
					continue
				}
				consumed.Add(1)
				results <- [2]uint32{
					binary.LittleEndian.Uint32(m.Inline[:4]),
					binary.LittleEndian.Uint32(m.Inline[4:8]),
				}
			}
		}()
	}

	close(start)
	wg.Wait()
	cwg.Wait()
	close(results)

	seen := make(map[uint32]map[uint32]bool, producers)
	n := 0
	for r := range results {
		if seen[r[0]] == nil {
			seen[r[0]] = make(map[uint32]bool, perProd)
		}
		if seen[r[0]][r[1]] {
			t.Fatalf("message %d from producer %d delivered twice", r[1], r[0])
		}
		seen[r[0]][r[1]] = true
		n++
	}
	if n != total {
		t.Fatalf("delivered %d messages, want %d", n, total)
	}
}

func TestQueueSingleConsumerSeesProducerOrder(t *testing.T) {
	const perProd = 2_000
	q := NewQueue(64)

	var wg sync.WaitGroup
	wg.Add(2)
	for id := 0; id < 2; id++ {
		go func(id int) {
			defer wg.Done()
			var m Message
			for i := 0; i < perProd; i++ {
				binary.LittleEndian.PutUint32(m.Inline[:4], uint32(id))
				binary.LittleEndian.PutUint32(m.Inline[4:8], uint32(i))
				for !q.TryPublish(&m) {
				}
			}
		}(id)
	}

	last := map[uint32]int{0: -1, 1: -1}
	var m Message
	for n := 0; n < 2*perProd; {
		if !q.TryConsume(&m) {
			continue
		}
		id := binary.LittleEndian.Uint32(m.Inline[:4])
		seq := int(binary.LittleEndian.Uint32(m.Inline[4:8]))
		if seq <= last[id] {
			t.Fatalf("producer %d message %d arrived after %d", id, seq, last[id])
		}
		last[id] = seq
		n++
	}
	wg.Wait()
}
