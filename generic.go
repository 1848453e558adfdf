package arena

import "unsafe"

// The typed helpers below place values in arena memory, which the garbage
// collector does not scan. T must not contain Go pointers (pointers, slices,
// strings, maps, channels, funcs or interfaces).

func sizeOf[T any]() int {
	var zero T
	return int(unsafe.Sizeof(zero))
}

func bytesOf[T any](s []T) []byte {
	p := unsafe.SliceData(s)
	if p == nil {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(p)), len(s)*sizeOf[T]())
}

// sliceOf views b as n elements of T, with the cap the allocation allows.
func sliceOf[T any](b []byte, n int) []T {
	size := sizeOf[T]()
	if size == 0 {
		return make([]T, n)
	}
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(b))), cap(b)/size)[:n]
}

// NewValue returns a pointer to a zeroed T stored in the arena.
func NewValue[T any](a *Arena) (*T, error) {
	s, err := MakeSlice[T](a, 1)
	if err != nil {
		return nil, err
	}
	return &s[0], nil
}

// NewValueUninit returns a pointer to a T in the arena without zeroing it.
func NewValueUninit[T any](a *Arena) (*T, error) {
	s, err := MakeSliceUninit[T](a, 1)
	if err != nil {
		return nil, err
	}
	return &s[0], nil
}

// MakeSlice allocates n zeroed elements of T. Returns nil for n == 0.
func MakeSlice[T any](a *Arena, n int) ([]T, error) {
	b, err := a.Alloc(sizeOf[T](), n)
	if err != nil {
		return nil, err
	}
	return sliceOf[T](b, n), nil
}

// MakeSliceUninit allocates n elements of T with undefined contents.
func MakeSliceUninit[T any](a *Arena, n int) ([]T, error) {
	b, err := a.AllocUninit(sizeOf[T](), n)
	if err != nil {
		return nil, err
	}
	return sliceOf[T](b, n), nil
}

// CopySlice copies src into a new arena slice.
func CopySlice[T any](a *Arena, src []T) ([]T, error) {
	b, err := a.AllocCopy(sizeOf[T](), len(src), bytesOf(src))
	if err != nil {
		return nil, err
	}
	return sliceOf[T](b, len(src)), nil
}

// GrowSlice returns s extended to n elements, reallocating in the arena when
// n exceeds cap(s). s must be nil or a slice previously returned by one of
// the arena slice helpers. Elements past len(s) are undefined.
func GrowSlice[T any](a *Arena, s []T, n int) ([]T, error) {
	if n <= cap(s) {
		return s[:n], nil
	}
	size := sizeOf[T]()
	if size == 0 {
		return make([]T, n), nil
	}
	b, err := a.Realloc(size, n, bytesOf(s[:cap(s)]))
	if err != nil {
		return nil, err
	}
	return sliceOf[T](b, n), nil
}

// FreeValue releases a value allocated with NewValue.
func FreeValue[T any](a *Arena, p *T) {
	if p == nil || sizeOf[T]() == 0 {
		return
	}
	a.Release(unsafe.Slice((*byte)(unsafe.Pointer(p)), sizeOf[T]()))
}

// FreeSlice releases a slice allocated by the arena slice helpers.
func FreeSlice[T any](a *Arena, s []T) {
	if sizeOf[T]() == 0 {
		return
	}
	a.Release(bytesOf(s[:cap(s)]))
}
