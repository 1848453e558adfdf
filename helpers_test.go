package arena

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

// recordingHeap records the sizes of blocks it hands out.
type recordingHeap struct {
	allocs []int
	frees  int
}

func (h *recordingHeap) Alloc(size int) ([]byte, error) {
	h.allocs = append(h.allocs, size)
	return make([]byte, size), nil
}

func (h *recordingHeap) Free([]byte) { h.frees++ }

func newTestArena(t *testing.T, opts ...Option) *Arena {
	t.Helper()
	a, err := New(nil, opts...)
	require.NoError(t, err)
	return a
}

func dataPtr(b []byte) unsafe.Pointer {
	return unsafe.Pointer(unsafe.SliceData(b))
}
