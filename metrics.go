package arena

// Stats is a snapshot of an arena's bookkeeping.
type Stats struct {
	Pages      int // pages served from, including the initial page
	PageBytes  int // capacity of all pages
	PageUsed   int // bytes bump-allocated from pages, headers included
	SmallLive  int // size-classed allocations outstanding
	SmallFree  int // chunks waiting on free lists
	BigLive    int // big allocations outstanding
	BigBytes   int // bytes held by big allocations
	Defers     int // active defer slots
	DeferSlots int // defer table length, active and free
}

// Utilization returns the ratio of bump-allocated bytes to page capacity
// (0.0 to 1.0), or 0 for an arena without pages.
func (s Stats) Utilization() float64 {
	if s.PageBytes == 0 {
		return 0
	}
	return float64(s.PageUsed) / float64(s.PageBytes)
}

// SizeInUse returns the bytes taken from pages, chunks parked on free lists
// included, plus the bytes held by big allocations.
func (s Stats) SizeInUse() int {
	return s.PageUsed + s.BigBytes
}

// Stats returns a snapshot of the arena. A freed arena reports zeros.
func (a *Arena) Stats() Stats {
	if a.magic != magicArena {
		return Stats{}
	}
	free := 0
	for _, l := range a.free {
		free += len(l)
	}
	return Stats{
		Pages:      a.pager.pages,
		PageBytes:  a.pager.total,
		PageUsed:   a.pager.used,
		SmallLive:  a.smallLive,
		SmallFree:  free,
		BigLive:    a.big.live,
		BigBytes:   a.big.bytes,
		Defers:     a.defers.active,
		DeferSlots: len(a.defers.slots),
	}
}
