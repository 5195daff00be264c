package buffer

// Ring is a fixed-capacity FIFO. When full, Push overwrites the oldest item.
// Ring is not safe for concurrent use; owners guard it with their own lock.
type Ring[T any] struct {
	data  []T
	head  int // index of the oldest item
	count int
}

// New creates a Ring with the specified capacity (minimum 1).
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{data: make([]T, capacity)}
}

// Push appends an item. If the ring is full, the oldest item is dropped and
// returned with true.
func (r *Ring[T]) Push(item T) (dropped T, ok bool) {
	if r.count == len(r.data) {
		dropped = r.data[r.head]
		r.data[r.head] = item
		r.head = (r.head + 1) % len(r.data)
		return dropped, true
	}
	r.data[(r.head+r.count)%len(r.data)] = item
	r.count++
	return dropped, false
}

// Last returns the newest item.
func (r *Ring[T]) Last() (T, bool) {
	if r.count == 0 {
		var zero T
		return zero, false
	}
	return r.data[(r.head+r.count-1)%len(r.data)], true
}

// Pop removes and returns the oldest item.
func (r *Ring[T]) Pop() (T, bool) {
	var zero T
	if r.count == 0 {
		return zero, false
	}
	item := r.data[r.head]
	r.data[r.head] = zero
	r.head = (r.head + 1) % len(r.data)
	r.count--
	return item, true
}

// DropWhile pops items from the front while pred holds and returns how many
// were removed.
func (r *Ring[T]) DropWhile(pred func(T) bool) int {
	removed := 0
	for r.count > 0 && pred(r.data[r.head]) {
		r.Pop()
		removed++
	}
	return removed
}

// Items returns a copy of the contents, oldest first.
func (r *Ring[T]) Items() []T {
	out := make([]T, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.data[(r.head+i)%len(r.data)]
	}
	return out
}

// Len returns the current number of items.
func (r *Ring[T]) Len() int {
	return r.count
}
