package arena

import "sync"

// SafeArena is a mutex-protected wrapper around a root Arena for callers
// that share one arena between goroutines. Every operation takes the lock;
// deferred callbacks run under it when the arena is freed.
type SafeArena struct {
	mu sync.Mutex
	a  *Arena
}

// NewSafeArena creates a root arena wrapped for concurrent access.
func NewSafeArena(opts ...Option) (*SafeArena, error) {
	a, err := New(nil, opts...)
	if err != nil {
		return nil, err
	}
	return &SafeArena{a: a}, nil
}

func (s *SafeArena) AllocUninit(size, count int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.a.AllocUninit(size, count)
}

func (s *SafeArena) Alloc(size, count int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.a.Alloc(size, count)
}

func (s *SafeArena) AllocCopy(size, count int, src []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.a.AllocCopy(size, count, src)
}

func (s *SafeArena) Realloc(size, count int, b []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.a.Realloc(size, count, b)
}

func (s *SafeArena) Release(b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.a.Release(b)
}

func (s *SafeArena) Defer(fn DeferFunc, data any) (Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.a.Defer(fn, data)
}

func (s *SafeArena) Cancel(slot Slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.a.Cancel(slot)
}

// Stats thread-safely returns a snapshot of the arena.
func (s *SafeArena) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.a.Stats()
}

// Free frees the underlying arena.
func (s *SafeArena) Free() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.a.Free()
}

// SafeMakeSlice thread-safely allocates n zeroed elements of T.
func SafeMakeSlice[T any](s *SafeArena, n int) ([]T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return MakeSlice[T](s.a, n)
}

// SafeNewValue thread-safely allocates a zeroed T.
func SafeNewValue[T any](s *SafeArena) (*T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return NewValue[T](s.a)
}
