package arena

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name   string
		parent bool
		pages  int
	}{
		{"root", false, 1},
		{"child", true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var parent *Arena
			if tt.parent {
				parent = newTestArena(t)
				defer parent.Free()
			}
			a, err := New(parent)
			require.NoError(t, err)
			require.Equal(t, parent, a.Parent())

			s := a.Stats()
			require.Equal(t, tt.pages, s.Pages)
			require.Equal(t, initialPageSize, s.PageBytes)
			require.Zero(t, s.PageUsed)
			a.Free()
		})
	}
}

func TestChildTakesBlockFromParent(t *testing.T) {
	parent := newTestArena(t)
	defer parent.Free()

	child, err := New(parent)
	require.NoError(t, err)
	s := parent.Stats()
	require.Equal(t, 1, s.SmallLive, "child block lives in the parent")
	require.Equal(t, 1, s.Defers, "parent holds the child's free callback")

	child.Free()
	s = parent.Stats()
	require.Zero(t, s.SmallLive)
	require.Equal(t, 1, s.SmallFree)
	require.Zero(t, s.Defers)
}

func TestInitInPlace(t *testing.T) {
	var a Arena
	require.NoError(t, a.Init(nil))
	b, err := a.AllocCopy(1, 3, []byte("abc"))
	require.NoError(t, err)
	require.Equal(t, "abc", string(b))
	require.Equal(t, 1, a.Stats().Pages)
	a.Free()

	// Storage can be reused once freed.
	require.NoError(t, a.Init(nil))
	a.Free()
}

func TestInitInPlaceWithParent(t *testing.T) {
	parent := newTestArena(t)
	var tmp Arena
	require.NoError(t, tmp.Init(parent))
	require.Equal(t, 1, parent.Stats().Defers)
	require.Zero(t, parent.Stats().SmallLive, "in-place arenas use caller storage")

	tmp.Free()
	require.Zero(t, parent.Stats().Defers, "early free cancels the parent slot")
	parent.Free()
}

func TestInitLiveArenaPanics(t *testing.T) {
	a := newTestArena(t)
	defer a.Free()
	require.PanicsWithValue(t, "arena: Init() of live arena", func() { _ = a.Init(nil) })
}

func TestInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"first page below largest class", Config{FirstPageSize: 256}},
		{"first page not quantized", Config{FirstPageSize: 1001}},
		{"max below first", Config{FirstPageSize: 2048, MaxPageSize: 1024}},
		{"negative heap limit", Config{HeapLimit: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(nil, WithConfig(tt.cfg))
			require.ErrorIs(t, err, ErrInvalidConfig)

			var a Arena
			require.ErrorIs(t, a.Init(nil, WithConfig(tt.cfg)), ErrInvalidConfig)
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	a := newTestArena(t, WithConfig(Config{FirstPageSize: 8192}))
	defer a.Free()
	require.Equal(t, 8192, a.cfg.FirstPageSize)
	require.Equal(t, 8192, a.cfg.MaxPageSize)

	child, err := New(a)
	require.NoError(t, err)
	require.Equal(t, a.cfg, child.cfg, "children inherit the parent's config")
}

func TestConfigHeapLimit(t *testing.T) {
	a := newTestArena(t, WithConfig(Config{HeapLimit: 1 << 20}))
	defer a.Free()
	h, ok := a.Heap().(*LimitedHeap)
	require.True(t, ok)
	require.Equal(t, int64(1<<20), h.Limit())
}

func TestDoubleFreePanics(t *testing.T) {
	a := newTestArena(t)
	a.Free()
	require.PanicsWithValue(t, "arena: double Free()", a.Free)
}

func TestFreeUninitializedPanics(t *testing.T) {
	var a Arena
	require.PanicsWithValue(t, "arena: Free() of uninitialized arena", a.Free)
}

func TestFreeNil(t *testing.T) {
	var a *Arena
	require.NotPanics(t, a.Free)
}

func TestUseAfterFreePanics(t *testing.T) {
	a := newTestArena(t)
	a.Free()
	require.PanicsWithValue(t, "arena: use after Free()", func() { _, _ = a.AllocUninit(1, 8) })
	require.PanicsWithValue(t, "arena: use after Free()", func() { _, _ = a.Defer(func(any) {}, nil) })
	require.Equal(t, Stats{}, a.Stats())
}

func TestChildCascade(t *testing.T) {
	root := newTestArena(t)
	child, err := New(root)
	require.NoError(t, err)
	grandchild, err := New(child)
	require.NoError(t, err)

	var fired []string
	_, err = child.Defer(func(any) { fired = append(fired, "child") }, nil)
	require.NoError(t, err)
	_, err = grandchild.Defer(func(any) { fired = append(fired, "grandchild") }, nil)
	require.NoError(t, err)

	root.Free()
	require.Equal(t, []string{"grandchild", "child"}, fired)
	require.PanicsWithValue(t, "arena: double Free()", child.Free)
	require.PanicsWithValue(t, "arena: double Free()", grandchild.Free)
}

func TestEarlyChildFree(t *testing.T) {
	root := newTestArena(t)
	child, err := New(root)
	require.NoError(t, err)

	calls := 0
	_, err = child.Defer(func(any) { calls++ }, nil)
	require.NoError(t, err)

	child.Free()
	require.Equal(t, 1, calls)
	require.NotPanics(t, root.Free)
	require.Equal(t, 1, calls)
}

func TestHeapReturnsToZero(t *testing.T) {
	h := NewLimitedHeap(1 << 20)
	root := newTestArena(t, WithHeap(h))

	for i := 0; i < 64; i++ {
		_, err := root.AllocUninit(1, 100)
		require.NoError(t, err)
	}
	_, err := root.AllocUninit(1, 10000)
	require.NoError(t, err)
	child, err := New(root)
	require.NoError(t, err)
	_, err = child.AllocUninit(1, 5000)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		_, err = child.Defer(func(any) {}, nil)
		require.NoError(t, err)
	}
	require.Greater(t, h.InUse(), int64(0))

	root.Free()
	require.Zero(t, h.InUse())
	require.Greater(t, h.Peak(), int64(10000))
}

func TestRootOutOfMemory(t *testing.T) {
	h := NewLimitedHeap(16)
	_, err := New(nil, WithHeap(h))
	require.ErrorIs(t, err, ErrOutOfMemory)
	require.Zero(t, h.InUse())
}

func TestChildCreationUnwinds(t *testing.T) {
	// Room for the parent and one more page, but not for the parent's
	// defer table.
	h := NewLimitedHeap(int64(controlBlockSize) + 1024 + 100)
	parent := newTestArena(t, WithHeap(h))

	_, err := New(parent)
	require.ErrorIs(t, err, ErrOutOfMemory)
	s := parent.Stats()
	require.Zero(t, s.SmallLive, "child block is returned on failure")
	require.Equal(t, 1, s.SmallFree)
	require.Zero(t, s.Defers)

	parent.Free()
	require.Zero(t, h.InUse())
}

// TestEndToEnd walks a root arena through a small and a big allocation and
// then tears it down together with a child holding a deferred write.
func TestEndToEnd(t *testing.T) {
	r := newTestArena(t)

	small, err := r.AllocUninit(40, 1)
	require.NoError(t, err)
	require.Equal(t, 40, Capacity(small))
	big, err := r.AllocUninit(1, 10000)
	require.NoError(t, err)
	require.Equal(t, 10000, Capacity(big))

	s := r.Stats()
	require.Equal(t, 1, s.SmallLive)
	require.Equal(t, 1, s.BigLive)

	r.Release(small)
	r.Release(big)
	s = r.Stats()
	require.Zero(t, s.SmallLive)
	require.Zero(t, s.BigLive)

	c, err := New(r)
	require.NoError(t, err)
	var sentinel uint32
	writes := 0
	_, err = c.Defer(func(data any) {
		*data.(*uint32) = 0xC0FFEE
		writes++
	}, &sentinel)
	require.NoError(t, err)

	r.Free()
	require.Equal(t, uint32(0xC0FFEE), sentinel)
	require.Equal(t, 1, writes)
}

func TestErrorsWrapContext(t *testing.T) {
	h := NewLimitedHeap(int64(controlBlockSize))
	a := newTestArena(t, WithHeap(h))
	defer a.Free()

	_, err := a.AllocUninit(1, 4096)
	require.True(t, errors.Is(err, ErrOutOfMemory))
	require.Contains(t, err.Error(), "big allocation of 4096 bytes")
}
