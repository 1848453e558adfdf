package arena

import (
	"unsafe"

	"github.com/pkg/errors"
)

// bigHeaderSize is the node id word followed by the capacity word.
const bigHeaderSize = 16

// bigNode tracks one allocation too large for the size classes.
type bigNode struct {
	prev, next *bigNode
	block      []byte // header and data, exactly as the heap returned it
	id         int
}

// bigList is a circular doubly linked list of big allocations between two
// sentinels. The id stored in each allocation's header indexes nodes, so a
// block can be unlinked in O(1) from its data pointer alone.
type bigList struct {
	head, tail bigNode
	nodes      []*bigNode
	freeIDs    []int
	live       int
	bytes      int
}

func (l *bigList) init() {
	l.head = bigNode{next: &l.tail, prev: &l.tail, id: -1}
	l.tail = bigNode{next: &l.head, prev: &l.head, id: -1}
	l.nodes = nil
	l.freeIDs = nil
	l.live, l.bytes = 0, 0
}

func (l *bigList) alloc(h Heap, total int) ([]byte, error) {
	block, err := h.Alloc(bigHeaderSize + total)
	if err != nil {
		return nil, errors.Wrapf(err, "big allocation of %d bytes", total)
	}

	n := &bigNode{block: block}
	if k := len(l.freeIDs); k > 0 {
		n.id = l.freeIDs[k-1]
		l.freeIDs = l.freeIDs[:k-1]
		l.nodes[n.id] = n
	} else {
		n.id = len(l.nodes)
		l.nodes = append(l.nodes, n)
	}

	head := &l.head
	next := head.next
	n.prev, n.next = head, next
	next.prev = n
	head.next = n

	base := unsafe.Pointer(unsafe.SliceData(block))
	*(*uint64)(base) = uint64(n.id)
	*(*uint64)(unsafe.Add(base, 8)) = uint64(total)
	l.live++
	l.bytes += total
	return block[bigHeaderSize : bigHeaderSize+total : bigHeaderSize+total], nil
}

// release unlinks the allocation whose data starts at p and frees it.
func (l *bigList) release(h Heap, p unsafe.Pointer, capacity int) {
	id := int(*(*uint64)(unsafe.Add(p, -bigHeaderSize)))
	if id < 0 || id >= len(l.nodes) || l.nodes[id] == nil {
		panic("arena: Release() of unknown big allocation")
	}
	n := l.nodes[id]
	if unsafe.Pointer(&n.block[bigHeaderSize]) != p {
		panic("arena: Release() of corrupt or foreign allocation")
	}
	if n.prev.next != n || n.next.prev != n {
		panic("arena: big allocation list corrupted")
	}
	n.prev.next = n.next
	n.next.prev = n.prev
	l.nodes[id] = nil
	l.freeIDs = append(l.freeIDs, id)
	l.live--
	l.bytes -= capacity

	h.Free(n.block)
	n.prev, n.next, n.block = nil, nil, nil
}

// releaseAll frees every outstanding big allocation.
func (l *bigList) releaseAll(h Heap) {
	for n := l.head.next; n != &l.tail; {
		next := n.next
		h.Free(n.block)
		n.prev, n.next, n.block = nil, nil, nil
		n = next
	}
	l.init()
}
