package arena

import (
	"github.com/go-logr/logr"
	"github.com/pkg/errors"
)

// pager is the bump allocator under the size classes. It serves chunks from
// the current page by advancing pos and requests a new page from the heap
// when the current one runs out. Page sizes double from FirstPageSize up to
// MaxPageSize. The tail of an exhausted page is abandoned.
type pager struct {
	heap Heap
	log  logr.Logger

	page     []byte // current page
	pos      int    // bump cursor within page
	nextSize int
	maxSize  int

	owned [][]byte // pages obtained from heap, released on Free
	pages int      // pages served from, including the first one
	total int      // capacity of every page
	used  int      // bytes handed out across every page
}

func (p *pager) init(first []byte, cfg Config, h Heap, log logr.Logger) {
	*p = pager{
		heap:     h,
		log:      log,
		page:     first,
		nextSize: cfg.FirstPageSize / 2,
		maxSize:  cfg.MaxPageSize,
		pages:    1,
		total:    len(first),
	}
}

// bump returns n bytes from the current page, growing it if needed.
// n never exceeds largestSizeClass, which every page can hold.
func (p *pager) bump(n int) ([]byte, error) {
	if len(p.page)-p.pos < n {
		if err := p.grow(); err != nil {
			return nil, err
		}
	}
	b := p.page[p.pos : p.pos+n : p.pos+n]
	p.pos += n
	p.used += n
	return b, nil
}

func (p *pager) grow() error {
	size := p.nextSize * 2
	if size > p.maxSize {
		size = p.maxSize
	}
	page, err := p.heap.Alloc(size)
	if err != nil {
		return errors.Wrapf(err, "grow page to %d bytes", size)
	}
	p.log.V(1).Info("arena page grown", "size", size, "pages", p.pages+1, "abandoned", len(p.page)-p.pos)
	p.nextSize = size
	p.owned = append(p.owned, page)
	p.page, p.pos = page, 0
	p.pages++
	p.total += size
	return nil
}

// release returns every heap page and leaves the pager empty.
func (p *pager) release() {
	for i, page := range p.owned {
		p.heap.Free(page)
		p.owned[i] = nil
	}
	p.owned = nil
	p.page = nil
	p.pos, p.pages, p.total, p.used = 0, 0, 0, 0
}
