package arena

import (
	"sync"

	"github.com/pkg/errors"
)

// Heap is the general-purpose allocator behind an arena. Arenas take their
// overflow pages and their big allocations from it and hand every block back
// through Free once they are done with it.
//
// Blocks returned by Alloc must be 8-byte aligned and have len == cap == size.
type Heap interface {
	Alloc(size int) ([]byte, error)
	Free(b []byte)
}

// Reserver is implemented by heaps that also account for the Go-managed
// memory an arena holds outside its pages: root control blocks and defer
// tables.
type Reserver interface {
	Reserve(n int) error
	Unreserve(n int)
}

// MaxAllocSize is the largest block GoHeap and LimitedHeap hand out. Bigger
// requests fail with ErrOutOfMemory rather than reaching make, which panics
// on lengths the runtime cannot satisfy.
const MaxAllocSize = 1 << 40

type goHeap struct{}

// GoHeap allocates straight from the Go runtime. It only fails for requests
// above MaxAllocSize.
var GoHeap Heap = goHeap{}

func (goHeap) Alloc(size int) ([]byte, error) {
	if err := checkAllocSize(size); err != nil {
		return nil, err
	}
	return make([]byte, size), nil
}

func (goHeap) Free([]byte) {}

func checkAllocSize(size int) error {
	if size < 0 || size > MaxAllocSize {
		return errors.Wrapf(ErrOutOfMemory, "%d bytes exceeds the %d byte allocation limit", size, MaxAllocSize)
	}
	return nil
}

// LimitedHeap is a Heap with a fixed byte budget. Requests that would exceed
// the budget fail with ErrOutOfMemory. It is safe for concurrent use so that
// several arenas on different goroutines can share one budget.
type LimitedHeap struct {
	mu    sync.Mutex
	limit int64
	inUse int64
	peak  int64
}

// NewLimitedHeap returns a heap that hands out at most limit bytes at a time.
func NewLimitedHeap(limit int64) *LimitedHeap {
	return &LimitedHeap{limit: limit}
}

func (h *LimitedHeap) Alloc(size int) ([]byte, error) {
	if err := checkAllocSize(size); err != nil {
		return nil, err
	}
	if err := h.Reserve(size); err != nil {
		return nil, err
	}
	return make([]byte, size), nil
}

func (h *LimitedHeap) Free(b []byte) {
	h.Unreserve(cap(b))
}

// Reserve charges n bytes against the budget.
func (h *LimitedHeap) Reserve(n int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.inUse+int64(n) > h.limit {
		return errors.Wrapf(ErrOutOfMemory, "heap limit %d exceeded: %d in use, %d requested", h.limit, h.inUse, n)
	}
	h.inUse += int64(n)
	if h.inUse > h.peak {
		h.peak = h.inUse
	}
	return nil
}

// Unreserve returns n bytes to the budget.
func (h *LimitedHeap) Unreserve(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inUse -= int64(n)
	if h.inUse < 0 {
		panic("arena: LimitedHeap released more than it handed out")
	}
}

// InUse reports the bytes currently charged against the budget.
func (h *LimitedHeap) InUse() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inUse
}

// Peak reports the highest InUse value observed.
func (h *LimitedHeap) Peak() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.peak
}

func (h *LimitedHeap) Limit() int64 { return h.limit }

func reserve(h Heap, n int) error {
	if r, ok := h.(Reserver); ok && n > 0 {
		return r.Reserve(n)
	}
	return nil
}

func unreserve(h Heap, n int) {
	if r, ok := h.(Reserver); ok && n > 0 {
		r.Unreserve(n)
	}
}
