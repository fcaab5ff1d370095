package collections

// ============================================================================
// Stack - Generic LIFO worklist
// ============================================================================

// Stack is a generic LIFO stack.
type Stack[T any] struct {
	data []T
}

// NewStack creates a new stack with the given capacity.
func NewStack[T any](capacity int) *Stack[T] {
	return &Stack[T]{
		data: make([]T, 0, capacity),
	}
}

// Push pushes values onto the stack.
func (s *Stack[T]) Push(v ...T) {
	s.data = append(s.data, v...)
}

// Pop pops a value from the stack.
func (s *Stack[T]) Pop() (T, bool) {
	if len(s.data) == 0 {
		var zero T
		return zero, false
	}
	v := s.data[len(s.data)-1]
	s.data = s.data[:len(s.data)-1]
	return v, true
}

// Len returns the number of items in the stack.
func (s *Stack[T]) Len() int {
	return len(s.data)
}

// ============================================================================
// Queue - Generic FIFO with head pointer
// ============================================================================

// Queue is a generic FIFO queue.
type Queue[T any] struct {
	data []T
	head int
}

// NewQueue creates a new queue with the given capacity.
func NewQueue[T any](capacity int) *Queue[T] {
	return &Queue[T]{
		data: make([]T, 0, capacity),
	}
}

// Enqueue adds values to the back of the queue.
func (q *Queue[T]) Enqueue(v ...T) {
	q.data = append(q.data, v...)
}

// Dequeue removes and returns the front value.
func (q *Queue[T]) Dequeue() (T, bool) {
	if q.head >= len(q.data) {
		var zero T
		return zero, false
	}
	v := q.data[q.head]
	var zero T
	q.data[q.head] = zero
	q.head++
	if q.head == len(q.data) {
		q.data = q.data[:0]
		q.head = 0
	}
	return v, true
}

// Len returns the number of items in the queue.
func (q *Queue[T]) Len() int {
	return len(q.data) - q.head
}
