package arena

import (
	"math"
	"unsafe"

	"github.com/pkg/errors"
)

// AllocUninit returns size*count bytes whose contents are undefined. The
// returned slice has len size*count and cap equal to the allocation's
// capacity, so appending within cap stays inside the allocation.
// A zero-byte request returns nil.
func (a *Arena) AllocUninit(size, count int) ([]byte, error) {
	a.check()
	total, err := totalSize(size, count)
	if err != nil || total == 0 {
		return nil, err
	}
	return a.alloc(total)
}

// Alloc is AllocUninit with the memory zeroed.
func (a *Arena) Alloc(size, count int) ([]byte, error) {
	b, err := a.AllocUninit(size, count)
	if err != nil {
		return nil, err
	}
	clear(b)
	return b, nil
}

// AllocCopy allocates size*count bytes and fills them from src. A nil src
// zero-fills; a short src is zero-extended.
func (a *Arena) AllocCopy(size, count int, src []byte) ([]byte, error) {
	b, err := a.AllocUninit(size, count)
	if err != nil {
		return nil, err
	}
	copyOrZero(b, src)
	return b, nil
}

// AllocCString copies s into the arena followed by a NUL byte.
func (a *Arena) AllocCString(s string) ([]byte, error) {
	b, err := a.AllocUninit(1, len(s)+1)
	if err != nil {
		return nil, err
	}
	copy(b, s)
	b[len(s)] = 0
	return b, nil
}

// AllocString copies s into the arena. The result aliases arena memory and
// must not be used after the arena is freed.
func (a *Arena) AllocString(s string) (string, error) {
	b, err := a.AllocUninit(1, len(s))
	if err != nil || len(b) == 0 {
		return "", err
	}
	copy(b, s)
	return unsafe.String(unsafe.SliceData(b), len(b)), nil
}

// Realloc grows b to hold size*count bytes. If the allocation's capacity is
// already large enough b is returned resliced. Otherwise a new block with
// at least twice the old capacity is allocated, the old capacity is copied
// over and b is released. Realloc never shrinks. A nil b is a plain
// AllocUninit.
func (a *Arena) Realloc(size, count int, b []byte) ([]byte, error) {
	p := unsafe.SliceData(b)
	if p == nil {
		return a.AllocUninit(size, count)
	}
	a.check()
	total, err := totalSize(size, count)
	if err != nil {
		return nil, err
	}
	capacity := Capacity(b)
	old := unsafe.Slice(p, capacity)
	if total <= capacity {
		return old[:total], nil
	}

	newCap := capacity * 2
	if total > newCap {
		newCap = total
	}
	nb, err := a.alloc(newCap)
	if err != nil {
		return nil, err
	}
	copy(nb, old)
	a.Release(old)
	return nb[:total], nil
}

// Release returns b to the arena. b must be an allocation from this arena,
// sliced from its start. Small blocks go back on their size class free list
// and big blocks are unlinked and handed back to the heap. Releasing nil is a
// no-op; releasing a block twice panics.
func (a *Arena) Release(b []byte) {
	p := unsafe.Pointer(unsafe.SliceData(b))
	if p == nil {
		return
	}
	a.check()
	hdr := capacityWord(p)
	if *hdr&freedMark != 0 {
		panic("arena: double Release()")
	}
	capacity := int(*hdr)
	if capacity > maxSmallCapacity {
		a.big.release(a.pager.heap, p, capacity)
		return
	}
	class := classOf(capacity + headerSize)
	if chunkSize(class)-headerSize != capacity {
		panic("arena: Release() of corrupt or foreign allocation")
	}
	*hdr |= freedMark
	chunk := unsafe.Slice((*byte)(unsafe.Pointer(hdr)), headerSize+capacity)
	a.free[class] = append(a.free[class], chunk)
	a.smallLive--
}

func (a *Arena) alloc(total int) ([]byte, error) {
	if total > maxSmallCapacity {
		b, err := a.big.alloc(a.pager.heap, total)
		if err != nil {
			a.log.Error(err, "big allocation failed", "bytes", total)
			return nil, err
		}
		a.log.V(2).Info("big allocation", "bytes", total, "live", a.big.live)
		return b, nil
	}

	class := classOf(total + headerSize)
	var chunk []byte
	if n := len(a.free[class]); n > 0 {
		chunk = a.free[class][n-1]
		a.free[class][n-1] = nil
		a.free[class] = a.free[class][:n-1]
	} else {
		var err error
		chunk, err = a.pager.bump(chunkSize(class))
		if err != nil {
			a.log.Error(err, "page allocation failed", "bytes", total)
			return nil, err
		}
	}
	capacity := len(chunk) - headerSize
	*(*uint64)(unsafe.Pointer(unsafe.SliceData(chunk))) = uint64(capacity)
	a.smallLive++
	return chunk[headerSize : headerSize+total : headerSize+capacity], nil
}

func totalSize(size, count int) (int, error) {
	if size < 0 || count < 0 {
		return 0, errors.Wrapf(ErrInvalidSize, "size %d count %d", size, count)
	}
	if count != 0 && size > (math.MaxInt-largestSizeClass)/count {
		return 0, errors.Wrapf(ErrOutOfMemory, "size %d count %d overflows", size, count)
	}
	return size * count, nil
}

func copyOrZero(dst, src []byte) {
	n := copy(dst, src)
	clear(dst[n:])
}
