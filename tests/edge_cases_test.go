package arena_test

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"
	"testing"
	"time"
	"unsafe"

	"github.com/fbxview/arena"
)

// TestEdgeCases covers allocation corner cases through the public API only.
func TestEdgeCases(t *testing.T) {
	t.Run("ZeroSizedAllocations", func(t *testing.T) {
		a := mustNew(t, nil)
		defer a.Free()

		for _, tc := range []struct{ size, count int }{{0, 0}, {0, 10}, {10, 0}} {
			b, err := a.AllocUninit(tc.size, tc.count)
			if err != nil || b != nil {
				t.Errorf("AllocUninit(%d, %d) = %v, %v; want nil, nil", tc.size, tc.count, b, err)
			}
		}
		if s, _ := arena.MakeSlice[int](a, 0); s != nil {
			t.Error("MakeSlice(0) should return nil")
		}
	})

	t.Run("NegativeSizes", func(t *testing.T) {
		a := mustNew(t, nil)
		defer a.Free()

		if _, err := a.AllocUninit(-1, 1); !errors.Is(err, arena.ErrInvalidSize) {
			t.Errorf("AllocUninit(-1, 1): got %v, want ErrInvalidSize", err)
		}
		if _, err := arena.MakeSlice[int](a, -1); !errors.Is(err, arena.ErrInvalidSize) {
			t.Errorf("MakeSlice(-1): got %v, want ErrInvalidSize", err)
		}
	})

	t.Run("IntegerOverflowProtection", func(t *testing.T) {
		a := mustNew(t, nil)
		defer a.Free()

		if _, err := a.AllocUninit(math.MaxInt/2, 3); !errors.Is(err, arena.ErrOutOfMemory) {
			t.Errorf("overflowing request: got %v, want ErrOutOfMemory", err)
		}
	})

	t.Run("SizeClassBoundary", func(t *testing.T) {
		a := mustNew(t, nil)
		defer a.Free()

		for n, want := range map[int]int{503: 504, 504: 504, 505: 505, 512: 512} {
			b, err := a.AllocUninit(1, n)
			if err != nil {
				t.Fatal(err)
			}
			if got := arena.Capacity(b); got != want {
				t.Errorf("Capacity after AllocUninit(1, %d) = %d, want %d", n, got, want)
			}
		}
	})

	t.Run("Alignment", func(t *testing.T) {
		a := mustNew(t, nil)
		defer a.Free()

		for _, n := range []int{1, 3, 7, 13, 100, 600} {
			b, err := a.AllocUninit(1, n)
			if err != nil {
				t.Fatal(err)
			}
			if addr := uintptr(unsafe.Pointer(unsafe.SliceData(b))); addr%8 != 0 {
				t.Errorf("allocation of %d bytes not 8-byte aligned: %x", n, addr)
			}
		}
	})

	t.Run("UseAfterFree", func(t *testing.T) {
		a := mustNew(t, nil)
		a.Free()

		testPanic := func(name string, fn func()) {
			defer func() {
				if r := recover(); r == nil {
					t.Errorf("%s: expected panic after Free()", name)
				}
			}()
			fn()
		}

		testPanic("AllocUninit", func() { _, _ = a.AllocUninit(1, 100) })
		testPanic("Realloc", func() { _, _ = a.Realloc(1, 100, []byte{1}) })
		testPanic("Defer", func() { _, _ = a.Defer(func(any) {}, nil) })
		testPanic("NewValue", func() { _, _ = arena.NewValue[int](a) })
		testPanic("New child", func() { _, _ = arena.New(a) })
		testPanic("Free", func() { a.Free() })
	})
}

// TestMemoryCorruption checks that live allocations never overlap.
func TestMemoryCorruption(t *testing.T) {
	a := mustNew(t, nil)
	defer a.Free()

	ptrs := make([]*[64]byte, 100)
	for i := range ptrs {
		p, err := arena.NewValue[[64]byte](a)
		if err != nil {
			t.Fatal(err)
		}
		for j := range p {
			p[j] = byte(i)
		}
		ptrs[i] = p
	}
	for i := 0; i < len(ptrs); i += 3 {
		arena.FreeValue(a, ptrs[i])
		ptrs[i] = nil
	}
	for i := 0; i < 40; i++ {
		p, err := arena.NewValue[[64]byte](a)
		if err != nil {
			t.Fatal(err)
		}
		for j := range p {
			p[j] = 0xFF
		}
	}

	for i, p := range ptrs {
		if p == nil {
			continue
		}
		for j, b := range p {
			if b != byte(i) {
				t.Fatalf("memory corruption at ptrs[%d][%d]: got %d, want %d", i, j, b, byte(i))
			}
		}
	}
}

// TestArenaTree builds a deep tree of arenas and frees it from the root.
func TestArenaTree(t *testing.T) {
	heap := arena.NewLimitedHeap(1 << 20)
	root := mustNew(t, nil, arena.WithHeap(heap))

	freed := 0
	var build func(parent *arena.Arena, depth int)
	build = func(parent *arena.Arena, depth int) {
		if depth == 0 {
			return
		}
		for i := 0; i < 3; i++ {
			child := mustNew(t, parent)
			if _, err := child.Defer(func(any) { freed++ }, nil); err != nil {
				t.Fatal(err)
			}
			if _, err := child.AllocUninit(1, 1500); err != nil {
				t.Fatal(err)
			}
			build(child, depth-1)
		}
	}
	build(root, 4)

	root.Free()
	if want := 3 + 9 + 27 + 81; freed != want {
		t.Errorf("freed %d arenas, want %d", freed, want)
	}
	if heap.InUse() != 0 {
		t.Errorf("%d bytes still in use after freeing the tree", heap.InUse())
	}
}

// TestOutOfMemoryRecovery checks that a failed allocation leaves the arena
// usable once memory is returned.
func TestOutOfMemoryRecovery(t *testing.T) {
	heap := arena.NewLimitedHeap(64 << 10)
	a := mustNew(t, nil, arena.WithHeap(heap))
	defer a.Free()

	var bufs [][]byte
	for {
		b, err := a.AllocUninit(1, 4000)
		if errors.Is(err, arena.ErrOutOfMemory) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		bufs = append(bufs, b)
	}
	if len(bufs) == 0 {
		t.Fatal("no allocation succeeded")
	}
	a.Release(bufs[0])
	if _, err := a.AllocUninit(1, 4000); err != nil {
		t.Errorf("allocation after release: %v", err)
	}
}

// TestConcurrencyStress performs stress testing on SafeArena.
func TestConcurrencyStress(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping stress test in short mode")
	}

	s, err := arena.NewSafeArena()
	if err != nil {
		t.Fatal(err)
	}
	defer s.Free()

	const (
		numWorkers      = 20
		numOpsPerWorker = 1000
	)

	var wg sync.WaitGroup
	errs := make(chan error, numWorkers)

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			var keep [][]byte
			for j := 0; j < numOpsPerWorker; j++ {
				switch j % 5 {
				case 0:
					buf, err := s.Alloc(1, 64)
					if err != nil || len(buf) != 64 {
						errs <- fmt.Errorf("worker %d: Alloc failed: %v", workerID, err)
						return
					}
					keep = append(keep, buf)
				case 1:
					p, err := arena.SafeNewValue[int64](s)
					if err != nil {
						errs <- fmt.Errorf("worker %d: SafeNewValue failed: %v", workerID, err)
						return
					}
					*p = int64(workerID*1000 + j)
				case 2:
					xs, err := arena.SafeMakeSlice[int32](s, 10)
					if err != nil || len(xs) != 10 {
						errs <- fmt.Errorf("worker %d: SafeMakeSlice failed: %v", workerID, err)
						return
					}
				case 3:
					if n := len(keep); n > 0 {
						s.Release(keep[n-1])
						keep = keep[:n-1]
					}
				case 4:
					_ = s.Stats().Utilization()
				}

				if j%50 == 0 {
					runtime.Gosched()
				}
			}
		}(i)
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

// TestSafeArenaDeadlock tests for potential deadlocks in SafeArena.
func TestSafeArenaDeadlock(t *testing.T) {
	s, err := arena.NewSafeArena()
	if err != nil {
		t.Fatal(err)
	}
	defer s.Free()

	done := make(chan bool, 2)
	timeout := time.After(5 * time.Second)

	go func() {
		for i := 0; i < 1000; i++ {
			_, _ = s.AllocUninit(1, 32)
			if i%100 == 0 {
				runtime.Gosched()
			}
		}
		done <- true
	}()

	go func() {
		for i := 0; i < 1000; i++ {
			_ = s.Stats()
			if i%100 == 0 {
				runtime.Gosched()
			}
		}
		done <- true
	}()

	completed := 0
	for completed < 2 {
		select {
		case <-done:
			completed++
		case <-timeout:
			t.Fatal("Test timed out - possible deadlock")
		}
	}
}

func mustNew(t *testing.T, parent *arena.Arena, opts ...arena.Option) *arena.Arena {
	t.Helper()
	a, err := arena.New(parent, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return a
}
