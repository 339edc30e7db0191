package hal

import (
	"runtime"
	"time"
)

// Host is the hosted (non-bare-metal) implementation of the HAL: the
// process clock as timebase, heap slices as physical pages, a no-op
// context switch, and an allow-all capability authority. It is what the
// host monitor and the tests boot against.
type Host struct {
	origin time.Time
}

// NewHost creates a hosted HAL.
func NewHost() *Host {
	return &Host{origin: time.Now()}
}

func (h *Host) Now() uint64 {
	return uint64(time.Since(h.origin))
}

func (h *Host) ID() int    { return 0 }
func (h *Host) Count() int { return 1 }

func (h *Host) Pause() { runtime.Gosched() }
func (h *Host) Idle()  { runtime.Gosched() }

func (h *Host) AllocPages(count int) ([]byte, error) {
	if count <= 0 {
		return nil, ErrNoMemory
	}
	return make([]byte, count*PageSize), nil
}

func (h *Host) FreePages(region []byte) {}

func (h *Host) CreateSpace() (AddressSpace, error) {
	return hostSpace{}, nil
}

func (h *Host) Check(cap uint64, right Right) bool { return true }

func (h *Host) Switch(prev, next uint64) {}

type hostSpace struct{}

func (hostSpace) Destroy() {}
