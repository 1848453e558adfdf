package arena

// List is a growable array whose storage lives in an arena. The zero value is
// an empty list. Every call that may grow the list takes the arena to grow it
// in, which must be the same arena each time. T must not contain Go pointers.
type List[T any] struct {
	Data []T
}

// Len returns the number of elements.
func (l *List[T]) Len() int { return len(l.Data) }

// Push appends v and returns a pointer to the stored element.
func (l *List[T]) Push(a *Arena, v T) (*T, error) {
	s, err := l.PushN(a, 1)
	if err != nil {
		return nil, err
	}
	s[0] = v
	return &s[0], nil
}

// PushN appends n zeroed elements and returns them.
func (l *List[T]) PushN(a *Arena, n int) ([]T, error) {
	count := len(l.Data)
	data, err := GrowSlice(a, l.Data, count+n)
	if err != nil {
		return nil, err
	}
	l.Data = data
	tail := data[count:]
	clear(tail)
	return tail, nil
}

// PushCopy appends a copy of vs and returns the stored elements.
func (l *List[T]) PushCopy(a *Arena, vs []T) ([]T, error) {
	s, err := l.PushN(a, len(vs))
	if err != nil {
		return nil, err
	}
	copy(s, vs)
	return s, nil
}

// Pop removes and returns the last element.
func (l *List[T]) Pop() (T, bool) {
	var zero T
	n := len(l.Data)
	if n == 0 {
		return zero, false
	}
	v := l.Data[n-1]
	l.Data = l.Data[:n-1]
	return v, true
}

// PopN removes the last n elements and returns them. The returned slice
// aliases the list storage and is overwritten by the next push. It returns
// nil if the list has fewer than n elements.
func (l *List[T]) PopN(n int) []T {
	count := len(l.Data)
	if n < 0 || n > count {
		return nil
	}
	tail := l.Data[count-n : count : count]
	l.Data = l.Data[:count-n]
	return tail
}

// Remove deletes the element at index i, keeping the order of the rest.
func (l *List[T]) Remove(i int) bool {
	if i < 0 || i >= len(l.Data) {
		return false
	}
	copy(l.Data[i:], l.Data[i+1:])
	l.Data = l.Data[:len(l.Data)-1]
	return true
}

// Free releases the list storage back to a and empties the list.
func (l *List[T]) Free(a *Arena) {
	FreeSlice(a, l.Data)
	l.Data = nil
}
