package arena

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSafeArenaConcurrent(t *testing.T) {
	s, err := NewSafeArena()
	require.NoError(t, err)

	const workers, perWorker = 8, 200
	var wg sync.WaitGroup
	var mu sync.Mutex
	deferred := 0
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				b, err := s.Alloc(1, 16+i%600)
				if err != nil {
					t.Error(err)
					return
				}
				b[0] = byte(w)
				if i%2 == 0 {
					s.Release(b)
				}
			}
			_, err := s.Defer(func(any) {
				mu.Lock()
				deferred++
				mu.Unlock()
			}, nil)
			if err != nil {
				t.Error(err)
			}
		}(w)
	}
	wg.Wait()

	st := s.Stats()
	require.Equal(t, workers*perWorker/2, st.SmallLive+st.BigLive)
	require.Equal(t, workers, st.Defers)

	s.Free()
	require.Equal(t, workers, deferred)
}

func TestSafeArenaHelpers(t *testing.T) {
	s, err := NewSafeArena(WithConfig(Config{FirstPageSize: 2048}))
	require.NoError(t, err)
	defer s.Free()

	v, err := SafeNewValue[vertex](s)
	require.NoError(t, err)
	require.Equal(t, vertex{}, *v)

	xs, err := SafeMakeSlice[uint32](s, 64)
	require.NoError(t, err)
	require.Len(t, xs, 64)

	b, err := s.AllocCopy(1, 4, []byte("abcd"))
	require.NoError(t, err)
	b, err = s.Realloc(1, 600, b)
	require.NoError(t, err)
	require.Equal(t, []byte("abcd"), b[:4])

	slot, err := s.Defer(func(any) { t.Fatal("cancelled") }, nil)
	require.NoError(t, err)
	s.Cancel(slot)

	u, err := s.AllocUninit(1, 8)
	require.NoError(t, err)
	s.Release(u)
}
