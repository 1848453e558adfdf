package arena

import (
	"unsafe"

	"github.com/pkg/errors"
)

// Slot identifies a deferred callback registered in an arena. Slots stay
// valid until cancelled, run, or the arena is freed, and are recycled
// afterwards.
type Slot int

// NoSlot is returned when registration fails.
const NoSlot Slot = -1

// DeferFunc is a cleanup callback. It receives the data it was registered with.
type DeferFunc func(data any)

const minDeferSlots = 8

type slotState uint8

const (
	slotFree slotState = iota
	slotActive
)

// deferSlot is active (fn and data set) or free (next links the free list).
type deferSlot struct {
	state slotState
	fn    DeferFunc
	data  any
	next  Slot
}

type deferTable struct {
	slots    []deferSlot
	free     Slot // head of the free slot list
	active   int
	reserved int // table bytes charged to the heap
}

func (t *deferTable) init() {
	*t = deferTable{free: NoSlot}
}

func (t *deferTable) add(h Heap, fn DeferFunc, data any) (Slot, error) {
	var s Slot
	if t.free != NoSlot {
		s = t.free
		t.free = t.slots[s].next
	} else {
		if len(t.slots) == cap(t.slots) {
			if err := t.grow(h); err != nil {
				return NoSlot, err
			}
		}
		s = Slot(len(t.slots))
		t.slots = t.slots[:s+1]
	}
	t.slots[s] = deferSlot{state: slotActive, fn: fn, data: data}
	t.active++
	return s, nil
}

func (t *deferTable) grow(h Heap) error {
	n := 2 * cap(t.slots)
	if n < minDeferSlots {
		n = minDeferSlots
	}
	bytes := (n - cap(t.slots)) * int(unsafe.Sizeof(deferSlot{}))
	if err := reserve(h, bytes); err != nil {
		return errors.Wrap(err, "grow defer table")
	}
	t.reserved += bytes
	slots := make([]deferSlot, len(t.slots), n)
	copy(slots, t.slots)
	t.slots = slots
	return nil
}

func (t *deferTable) get(s Slot, op string) *deferSlot {
	if s < 0 || int(s) >= len(t.slots) || t.slots[s].state != slotActive {
		panic("arena: " + op + "() of inactive defer slot")
	}
	return &t.slots[s]
}

func (t *deferTable) cancel(s Slot) {
	ds := t.get(s, "Cancel")
	*ds = deferSlot{state: slotFree, next: t.free}
	t.free = s
	t.active--
}

// runAll invokes every active slot in index order, each at most once.
func (t *deferTable) runAll() {
	for i := range t.slots {
		ds := &t.slots[i]
		if ds.state != slotActive {
			continue
		}
		fn, data := ds.fn, ds.data
		*ds = deferSlot{state: slotFree, next: NoSlot}
		t.active--
		fn(data)
	}
}

func (t *deferTable) release(h Heap) {
	unreserve(h, t.reserved)
	t.init()
}

// Defer registers fn to be called with data when the arena is freed.
// Callbacks run in slot order, which is registration order unless cancelled
// slots were reused.
func (a *Arena) Defer(fn DeferFunc, data any) (Slot, error) {
	a.check()
	if fn == nil {
		panic("arena: Defer() with nil function")
	}
	s, err := a.defers.add(a.pager.heap, fn, data)
	if err != nil {
		a.log.Error(err, "defer registration failed", "slots", len(a.defers.slots))
	}
	return s, err
}

// Redefer replaces the callback and data of an active slot in place.
func (a *Arena) Redefer(s Slot, fn DeferFunc, data any) {
	a.check()
	if fn == nil {
		panic("arena: Redefer() with nil function")
	}
	ds := a.defers.get(s, "Redefer")
	ds.fn, ds.data = fn, data
}

// Cancel drops slot s without running its callback.
func (a *Arena) Cancel(s Slot) {
	a.check()
	a.defers.cancel(s)
}

// Run cancels slot s and runs its callback immediately.
func (a *Arena) Run(s Slot) {
	a.check()
	ds := a.defers.get(s, "Run")
	fn, data := ds.fn, ds.data
	a.defers.cancel(s)
	fn(data)
}

// deferHeader precedes payloads registered through DeferBytes.
type deferHeader struct {
	magic uint64
	slot  Slot
}

const deferHeaderSize = int(unsafe.Sizeof(deferHeader{}))

// DeferBytes copies size bytes of data (zero-filled if data is nil) into the
// arena and registers fn to be called with that copy when the arena is freed.
// It returns the copy, which identifies the registration for CancelBytes.
func (a *Arena) DeferBytes(fn func(payload []byte), size int, data []byte) ([]byte, error) {
	a.check()
	if size < 0 {
		return nil, errors.Wrapf(ErrInvalidSize, "payload size %d", size)
	}
	// At least one payload byte keeps the payload pointer inside the
	// allocation, where the header can be found from it.
	n := size
	if n == 0 {
		n = 1
	}
	b, err := a.AllocUninit(1, deferHeaderSize+n)
	if err != nil {
		return nil, err
	}
	payload := b[deferHeaderSize : deferHeaderSize+size : deferHeaderSize+n]
	copyOrZero(payload, data)

	s, err := a.Defer(func(any) { fn(payload) }, nil)
	if err != nil {
		a.Release(b)
		return nil, err
	}
	hdr := (*deferHeader)(unsafe.Pointer(unsafe.SliceData(b)))
	hdr.magic = magicDefer
	hdr.slot = s
	return payload, nil
}

// CancelBytesRetain cancels the registration made by DeferBytes for payload
// but keeps the payload allocated. With run set the callback is invoked
// first. A nil payload is a no-op.
func (a *Arena) CancelBytesRetain(payload []byte, run bool) {
	a.cancelPayload(unsafe.Pointer(unsafe.SliceData(payload)), run, true)
}

// CancelBytes is CancelBytesRetain followed by releasing the payload.
func (a *Arena) CancelBytes(payload []byte, run bool) {
	a.cancelPayload(unsafe.Pointer(unsafe.SliceData(payload)), run, false)
}

func (a *Arena) cancelPayload(p unsafe.Pointer, run, retain bool) {
	if p == nil {
		return
	}
	a.check()
	hdr := (*deferHeader)(unsafe.Add(p, -deferHeaderSize))
	if hdr.magic != magicDefer {
		panic("arena: cancel of a payload that is not deferred")
	}
	s := hdr.slot
	hdr.magic = magicFreed
	hdr.slot = NoSlot
	if run {
		a.Run(s)
	} else {
		a.Cancel(s)
	}
	if !retain {
		a.Release(unsafe.Slice((*byte)(unsafe.Pointer(hdr)), deferHeaderSize))
	}
}

// DeferValue copies *v (or a zero T if v is nil) into the arena and calls fn
// with a pointer to the copy when the arena is freed. T must not contain Go
// pointers: arena memory is not scanned by the garbage collector.
func DeferValue[T any](a *Arena, fn func(*T), v *T) (*T, error) {
	size := sizeOf[T]()
	var src []byte
	if v != nil && size > 0 {
		src = unsafe.Slice((*byte)(unsafe.Pointer(v)), size)
	}
	payload, err := a.DeferBytes(func(b []byte) {
		fn((*T)(unsafe.Pointer(unsafe.SliceData(b))))
	}, size, src)
	if err != nil {
		return nil, err
	}
	return (*T)(unsafe.Pointer(unsafe.SliceData(payload))), nil
}

// CancelValue cancels a DeferValue registration and releases the copy.
func CancelValue[T any](a *Arena, p *T, run bool) {
	a.cancelPayload(unsafe.Pointer(p), run, false)
}

// CancelValueRetain cancels a DeferValue registration and keeps the copy.
func CancelValueRetain[T any](a *Arena, p *T, run bool) {
	a.cancelPayload(unsafe.Pointer(p), run, true)
}
