package arena

import "unsafe"

const (
	// headerSize is the capacity word stored in front of every allocation.
	headerSize = 8

	sizeClassQuantum = 8
	numSizeClasses   = 11

	// largestSizeClass is the biggest small chunk, header included.
	largestSizeClass = 512

	// maxSmallCapacity is the largest request served from the size classes.
	// Anything bigger goes to the big allocation list.
	maxSmallCapacity = largestSizeClass - headerSize

	// freedMark is or'ed into the capacity word of small chunks sitting on a
	// free list so a second Release of the same block is caught.
	freedMark = uint64(1) << 63
)

// sizeClasses are chunk sizes in quanta, header included:
// 16, 24, 32, 48, 64, 96, 128, 192, 256, 384 and 512 bytes.
var sizeClasses = [numSizeClasses]uint8{2, 3, 4, 6, 8, 12, 16, 24, 32, 48, 64}

// sizeToClass maps a quantized total to the smallest class that holds it.
var sizeToClass = func() (t [largestSizeClass/sizeClassQuantum + 1]uint8) {
	c := 0
	for q := range t {
		for int(sizeClasses[c]) < q {
			c++
		}
		t[q] = uint8(c)
	}
	return t
}()

// classOf returns the size class for total bytes including the header.
// total must not exceed largestSizeClass.
func classOf(total int) int {
	return int(sizeToClass[(total+sizeClassQuantum-1)/sizeClassQuantum])
}

func chunkSize(class int) int {
	return int(sizeClasses[class]) * sizeClassQuantum
}

// capacityWord returns the header in front of the allocation starting at p.
func capacityWord(p unsafe.Pointer) *uint64 {
	return (*uint64)(unsafe.Add(p, -headerSize))
}

// Capacity returns the usable byte capacity recorded for an allocation made
// by an arena. b must start at the beginning of the allocation. A nil slice
// has capacity 0.
func Capacity(b []byte) int {
	p := unsafe.Pointer(unsafe.SliceData(b))
	if p == nil {
		return 0
	}
	w := *capacityWord(p)
	if w&freedMark != 0 {
		panic("arena: Capacity() of released allocation")
	}
	return int(w)
}
