package ipc

import (
	"bytes"
	"testing"

	"orion/hal"
)

func newTestPool(t *testing.T, pages int) *Pool {
	t.Helper()
	p, err := NewPool(hal.NewHost(), pages*hal.PageSize)
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	return p
}

func TestPoolAllocFree(t *testing.T) {
	p := newTestPool(t, 8)

	if p.Pages() != 8 || p.FreePages() != 8 {
		t.Fatalf("fresh pool pages = %d free = %d, want 8/8", p.Pages(), p.FreePages())
	}

	addrs := make([]uint64, 0, 8)
	for i := 0; i < 8; i++ {
		addr := p.AllocPage()
		if addr == 0 {
			t.Fatalf("AllocPage() = 0 at page %d, want address", i)
		}
		addrs = append(addrs, addr)
	}
	if got := p.FreePages(); got != 0 {
		t.Fatalf("FreePages() = %d after filling, want 0", got)
	}
	if addr := p.AllocPage(); addr != 0 {
		t.Fatalf("AllocPage() = %#x on exhausted pool, want 0", addr)
	}

	for _, addr := range addrs {
		p.FreePage(addr)
	}
	if got := p.FreePages(); got != 8 {
		t.Fatalf("FreePages() = %d after freeing all, want 8", got)
	}
}

func TestPoolFreeBadInputs(t *testing.T) {
	p := newTestPool(t, 4)
	addr := p.AllocPage()

	// Double free, unallocated, unaligned and out-of-range addresses are
	// all silent no-ops.
	p.FreePage(addr)
	before := p.FreePages()
	p.FreePage(addr)
	p.FreePage(0)
	p.FreePage(addr + 1)
	p.FreePage(poolBase + 100*hal.PageSize)
	if got := p.FreePages(); got != before {
		t.Fatalf("FreePages() = %d after bad frees, want unchanged %d", got, before)
	}
}

func TestPoolSpanAddressing(t *testing.T) {
	p := newTestPool(t, 4)
	addr := p.AllocPage()

	span := p.Span(addr, 0, hal.PageSize)
	if span == nil || len(span) != hal.PageSize {
		t.Fatalf("Span() = %d bytes, want %d", len(span), hal.PageSize)
	}
	for i := range span {
		span[i] = byte(i)
	}
	again := p.Span(addr, 0, hal.PageSize)
	if !bytes.Equal(span, again) {
		t.Fatalf("Span() does not return the same backing bytes")
	}

	if p.Span(0, 0, 1) != nil {
		t.Fatalf("Span(0) != nil, want nil for the sentinel address")
	}
	if p.Span(addr, 0, -1) != nil {
		t.Fatalf("Span() with negative size != nil")
	}
	if p.Span(poolBase+100*hal.PageSize, 0, 1) != nil {
		t.Fatalf("Span() out of range != nil")
	}
	if p.Span(addr, uint32(4*hal.PageSize), 1) != nil {
		t.Fatalf("Span() past the arena end != nil")
	}
}

func TestPoolSpanContiguous(t *testing.T) {
	p := newTestPool(t, 16)

	addr := p.AllocSpan(4)
	if addr == 0 {
		t.Fatalf("AllocSpan(4) = 0, want address")
	}
	if got := p.FreePages(); got != 12 {
		t.Fatalf("FreePages() = %d after span alloc, want 12", got)
	}

	// The span is one contiguous byte range across all four pages.
	span := p.Span(addr, 0, 4*hal.PageSize)
	if span == nil {
		t.Fatalf("Span() = nil for allocated span")
	}
	for i := range span {
		span[i] = byte(i % 251)
	}
	for i, b := range p.Span(addr, 0, 4*hal.PageSize) {
		if b != byte(i%251) {
			t.Fatalf("span byte %d = %d, want %d", i, b, byte(i%251))
		}
	}

	p.FreeSpan(addr, 4)
	if got := p.FreePages(); got != 16 {
		t.Fatalf("FreePages() = %d after span free, want 16", got)
	}
}

func TestPoolSpanSkipsFragmentation(t *testing.T) {
	p := newTestPool(t, 8)

	// Fill the pool, then free every second page so no 2-page run exists.
	addrs := make([]uint64, 8)
	for i := range addrs {
		addrs[i] = p.AllocPage()
	}
	for i := 1; i < 8; i += 2 {
		p.FreePage(addrs[i])
	}

	if addr := p.AllocSpan(2); addr != 0 {
		t.Fatalf("AllocSpan(2) = %#x on fragmented pool, want 0", addr)
	}
	if addr := p.AllocSpan(1); addr == 0 {
		t.Fatalf("AllocSpan(1) = 0 with free pages available")
	}
}

func TestPoolAllocSpanBadCounts(t *testing.T) {
	p := newTestPool(t, 4)

	if addr := p.AllocSpan(0); addr != 0 {
		t.Fatalf("AllocSpan(0) = %#x, want 0", addr)
	}
	if addr := p.AllocSpan(5); addr != 0 {
		t.Fatalf("AllocSpan(5) = %#x beyond pool size, want 0", addr)
	}
}

func TestPagesFor(t *testing.T) {
	cases := []struct {
		size, pages int
	}{
		{1, 1},
		{hal.PageSize, 1},
		{hal.PageSize + 1, 2},
		{64 * 1024, 16},
	}
	for _, c := range cases {
		if got := pagesFor(c.size); got != c.pages {
			t.Fatalf("pagesFor(%d) = %d, want %d", c.size, got, c.pages)
		}
	}
}
