package stats

// CircularBuffer is a fixed-capacity ring of samples. Once full, every Put
// overwrites the oldest sample.
type CircularBuffer[T any] struct {
	data  []T
	next  int // slot the next Put writes
	count int
}

// NewCircularBuffer creates a buffer holding up to capacity samples.
// A capacity below 1 is raised to 1.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &CircularBuffer[T]{data: make([]T, capacity)}
}

// Put stores v, evicting the oldest sample when the buffer is full.
func (b *CircularBuffer[T]) Put(v T) {
	b.data[b.next] = v
	b.next = (b.next + 1) % len(b.data)
	if b.count < len(b.data) {
		b.count++
	}
}

// Get returns the sample at idx, where 0 is the oldest held sample and
// Len()-1 the newest.
func (b *CircularBuffer[T]) Get(idx int) (T, bool) {
	var zero T
	if idx < 0 || idx >= b.count {
		return zero, false
	}
	start := 0
	if b.count == len(b.data) {
		start = b.next
	}
	return b.data[(start+idx)%len(b.data)], true
}

func (b *CircularBuffer[T]) Len() int { return b.count }

func (b *CircularBuffer[T]) Cap() int { return len(b.data) }

func (b *CircularBuffer[T]) IsFull() bool { return b.count == len(b.data) }

// Values copies the held samples, oldest first.
func (b *CircularBuffer[T]) Values() []T {
	out := make([]T, 0, b.count)
	for i := 0; i < b.count; i++ {
		v, _ := b.Get(i)
		out = append(out, v)
	}
	return out
}

// Reset empties the buffer without releasing its storage.
func (b *CircularBuffer[T]) Reset() {
	var zero T
	for i := range b.data {
		b.data[i] = zero
	}
	b.next = 0
	b.count = 0
}
