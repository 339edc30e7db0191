package ipc

import (
	"sync"

	"orion/hal"
)

// PoolBytes is the size of the shared zero-copy arena.
const PoolBytes = 16 << 20

// poolBase offsets every page address so that zero stays the "no page"
// sentinel.
const poolBase = uint64(hal.PageSize)

// Pool is the shared page arena for zero-copy payloads. A page belongs to
// exactly one in-flight message from the moment a send reserves it until
// the receiver (or an error path) frees it. The bitmap scan is linear;
// the pool is sized for in-flight messages, not general allocation.
type Pool struct {
	mu     sync.Mutex
	arena  []byte
	bitmap []uint64
	pages  int
	free   int
}

// NewPool allocates the arena from the memory collaborator.
func NewPool(mem hal.Memory, size int) (*Pool, error) {
	if size <= 0 {
		size = PoolBytes
	}
	pages := size / hal.PageSize
	arena, err := mem.AllocPages(pages)
	if err != nil {
		return nil, err
	}
	return &Pool{
		arena:  arena,
		bitmap: make([]uint64, (pages+63)/64),
		pages:  pages,
		free:   pages,
	}, nil
}

// Pages returns the pool capacity in pages.
func (p *Pool) Pages() int { return p.pages }

// FreePages returns the current number of unallocated pages.
func (p *Pool) FreePages() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.free
}

// AllocPage reserves one page and returns its address, or zero when the
// pool is exhausted.
func (p *Pool) AllocPage() uint64 {
	return p.AllocSpan(1)
}

// AllocSpan reserves count contiguous pages and returns the address of
// the first, or zero when no run is free. Payloads larger than one page
// need a contiguous span so a single page reference covers them.
func (p *Pool) AllocSpan(count int) uint64 {
	if count <= 0 || count > p.pages {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	run := 0
	for i := 0; i < p.pages; i++ {
		if p.bitmap[i/64]&(1<<(i%64)) != 0 {
			run = 0
			continue
		}
		run++
		if run == count {
			start := i - count + 1
			for j := start; j <= i; j++ {
				p.bitmap[j/64] |= 1 << (j % 64)
			}
			p.free -= count
			return poolBase + uint64(start)*hal.PageSize
		}
	}
	return 0
}

// FreePage releases one page. Out-of-range addresses and already-free
// pages are silent no-ops so teardown paths can free unconditionally.
func (p *Pool) FreePage(addr uint64) {
	p.FreeSpan(addr, 1)
}

// FreeSpan releases count pages starting at addr, with the same silent
// no-op behavior as FreePage for bad inputs.
func (p *Pool) FreeSpan(addr uint64, count int) {
	if count <= 0 {
		return
	}
	start, ok := p.index(addr)
	if !ok || start+count > p.pages {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := start; i < start+count; i++ {
		if p.bitmap[i/64]&(1<<(i%64)) != 0 {
			p.bitmap[i/64] &^= 1 << (i % 64)
			p.free++
		}
	}
}

// Span returns the arena bytes backing size bytes at addr plus offset.
// Returns nil when the range does not fall inside the pool.
func (p *Pool) Span(addr uint64, offset uint32, size int) []byte {
	start, ok := p.index(addr)
	if !ok {
		return nil
	}
	begin := start*hal.PageSize + int(offset)
	if size < 0 || begin+size > len(p.arena) {
		return nil
	}
	return p.arena[begin : begin+size]
}

// pagesFor returns the page count covering size bytes.
func pagesFor(size int) int {
	return (size + hal.PageSize - 1) / hal.PageSize
}

func (p *Pool) index(addr uint64) (int, bool) {
	if addr < poolBase || (addr-poolBase)%hal.PageSize != 0 {
		return 0, false
	}
	i := int((addr - poolBase) / hal.PageSize)
	if i >= p.pages {
		return 0, false
	}
	return i, true
}
