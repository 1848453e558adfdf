package arena

import (
	"unsafe"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
)

const (
	magicArena = 0x6e657261
	magicFreed = 0x65657266
	magicDefer = 0x66656461

	// initialPageSize is the first page of every arena: inline in the
	// control block for roots and in-place arenas, carved from the parent
	// for children. It matches the capacity of the largest size class.
	initialPageSize = maxSmallCapacity

	controlBlockSize = int(unsafe.Sizeof(Arena{}))
)

// noCopy makes go vet flag copies of an Arena: the control block points into
// itself.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Arena is a region allocator. Memory comes from the arena's pages through
// size-classed free lists, or from the heap for requests above
// the largest size class, and it can be released individually or all at once
// by Free. Callbacks registered with Defer run when the arena is freed.
//
// Arenas form a tree: a child created with New(parent) is freed automatically
// when its parent is freed. An Arena is not safe for concurrent use; use one
// arena per goroutine or wrap it in a SafeArena.
//
// The zero value is not usable until Init is called. An Arena must not be
// copied after Init.
type Arena struct {
	_     noCopy
	magic uint32

	pager  pager
	free   [numSizeClasses][][]byte
	big    bigList
	defers deferTable

	parent     *Arena
	parentSlot Slot
	block      []byte // first page when it was carved from parent
	allocated  bool   // control block owned by New rather than the caller
	reserved   int    // control block bytes charged to the heap

	cfg       Config
	log       logr.Logger
	smallLive int

	// First page of roots and in-place arenas. Unused by children.
	inline [initialPageSize / 8]uint64
}

// New creates an arena. With a nil parent the arena is a root whose control
// block comes from the heap. With a parent, the arena's first page is
// allocated from the parent and the parent frees the child when it is itself
// freed. Children inherit the parent's heap, logger and config unless opts
// override them.
//
// On error nothing is left allocated.
func New(parent *Arena, opts ...Option) (*Arena, error) {
	if parent != nil {
		parent.check()
	}
	o, err := buildOptions(parent, opts)
	if err != nil {
		return nil, err
	}

	a := new(Arena)
	a.allocated = true
	var first []byte
	if parent != nil {
		block, err := parent.AllocUninit(1, initialPageSize)
		if err != nil {
			return nil, errors.Wrap(err, "allocate child arena")
		}
		a.block = block
		first = block[:cap(block)]
	} else {
		if err := reserve(o.heap, controlBlockSize); err != nil {
			return nil, errors.Wrap(err, "allocate arena")
		}
		a.reserved = controlBlockSize
		first = a.inlinePage()
	}

	if err := a.setup(parent, first, o); err != nil {
		if parent != nil {
			parent.Release(a.block)
		} else {
			unreserve(o.heap, a.reserved)
		}
		a.magic = magicFreed
		return nil, err
	}
	return a, nil
}

// Init prepares a caller-owned Arena, typically a local or a struct field,
// so that no control block has to be allocated. With a non-nil parent the
// arena is registered in the parent exactly like a child from New.
func (a *Arena) Init(parent *Arena, opts ...Option) error {
	if a.magic == magicArena {
		panic("arena: Init() of live arena")
	}
	if parent != nil {
		parent.check()
	}
	o, err := buildOptions(parent, opts)
	if err != nil {
		return err
	}
	a.allocated = false
	a.block = nil
	a.reserved = 0
	return a.setup(parent, a.inlinePage(), o)
}

func (a *Arena) setup(parent *Arena, first []byte, o options) error {
	a.cfg = o.cfg
	a.log = o.log
	a.pager.init(first, o.cfg, o.heap, o.log)
	a.free = [numSizeClasses][][]byte{}
	a.big.init()
	a.defers.init()
	a.smallLive = 0
	a.parent = nil
	a.parentSlot = NoSlot

	if parent != nil {
		slot, err := parent.Defer(freeChild, a)
		if err != nil {
			a.pager.release()
			a.defers.release(o.heap)
			return errors.Wrap(err, "register child arena")
		}
		a.parent = parent
		a.parentSlot = slot
	}
	a.magic = magicArena
	a.log.V(1).Info("arena created", "child", parent != nil, "allocated", a.allocated)
	return nil
}

func freeChild(data any) {
	data.(*Arena).Free()
}

func (a *Arena) inlinePage() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(&a.inline[0])), initialPageSize)
}

// Free runs every active deferred callback in slot order, releases all big
// allocations and pages and, for arenas that belong to a parent, returns
// the control block to it. Freeing an arena frees all of its children.
// Calling Free twice panics. Free on a nil arena is a no-op.
func (a *Arena) Free() {
	if a == nil {
		return
	}
	switch a.magic {
	case magicArena:
	case magicFreed:
		panic("arena: double Free()")
	default:
		panic("arena: Free() of uninitialized arena")
	}
	a.magic = magicFreed
	a.log.V(1).Info("freeing arena", "defers", a.defers.active, "big", a.big.live, "pages", a.pager.pages)

	heap := a.pager.heap
	a.defers.runAll()
	a.big.releaseAll(heap)
	a.pager.release()
	a.defers.release(heap)
	a.free = [numSizeClasses][][]byte{}
	a.smallLive = 0

	// A parent that is being torn down is already past caring about its
	// children: its slot table and pages go away wholesale.
	if p := a.parent; p != nil && p.magic == magicArena {
		p.Cancel(a.parentSlot)
		if a.block != nil {
			p.Release(a.block)
		}
	}
	if a.allocated && a.parent == nil {
		unreserve(heap, a.reserved)
	}
	a.parent = nil
	a.parentSlot = NoSlot
	a.block = nil
	a.reserved = 0
}

// Parent returns the arena that owns a, or nil for roots.
func (a *Arena) Parent() *Arena {
	return a.parent
}

// Heap returns the heap backing the arena.
func (a *Arena) Heap() Heap {
	return a.pager.heap
}

// check panics if the arena is not live.
func (a *Arena) check() {
	if a.magic != magicArena {
		if a.magic == magicFreed {
			panic("arena: use after Free()")
		}
		panic("arena: use of uninitialized arena")
	}
}
