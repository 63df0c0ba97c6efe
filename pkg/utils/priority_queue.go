package utils

import "container/heap"

// Compares the priority of two items.
// Returns a negative number if a should be popped before b.
type PriorityFunc[T any] func(a, b T) int

// Returns true if two items are identical.
type EqualityFunc[T any] func(a, b T) bool

// A priority queue.
type PriorityQueue[T any] struct {
	// The heap used to implement the priority queue.
	heap priorityHeap[T]

	// The function used to determine if two items are identical.
	equals EqualityFunc[T]
}

// Creates a new priority queue.
func NewPriorityQueue[T any](compare PriorityFunc[T], equals EqualityFunc[T]) *PriorityQueue[T] {
	return &PriorityQueue[T]{
		heap: priorityHeap[T]{
			items:   make([]T, 0),
			compare: compare,
		},
		equals: equals,
	}
}

// Pushes an item onto the priority queue.
func (pq *PriorityQueue[T]) Push(item T) {
	heap.Push(&pq.heap, item)
}

// Pops the highest priority item from the priority queue.
func (pq *PriorityQueue[T]) Pop() T {
	return heap.Pop(&pq.heap).(T)
}

// Returns the highest priority item without removing it.
// The second return value is false if the queue is empty.
func (pq *PriorityQueue[T]) Peek() (T, bool) {
	if pq.heap.Len() == 0 {
		var zero T
		return zero, false
	}
	return pq.heap.items[0], true
}

// Returns the number of items in the priority queue.
func (pq *PriorityQueue[T]) Len() int {
	return pq.heap.Len()
}

// Removes an item from the priority queue.
// Returns false if the item was not queued.
func (pq *PriorityQueue[T]) Remove(item T) bool {
	for i, x := range pq.heap.items {
		if pq.equals(x, item) {
			heap.Remove(&pq.heap, i)
			return true
		}
	}
	return false
}

// Returns true if an item is in the priority queue.
func (pq *PriorityQueue[T]) Contains(item T) bool {
	for _, x := range pq.heap.items {
		if pq.equals(x, item) {
			return true
		}
	}
	return false
}

// Returns the items in the priority queue in heap order.
func (pq *PriorityQueue[T]) Items() []T {
	return pq.heap.items
}

// Returns a copy of the queued items in pop order.
// The queue itself is left untouched.
func (pq *PriorityQueue[T]) Sorted() []T {
	clone := priorityHeap[T]{
		items:   append(make([]T, 0, len(pq.heap.items)), pq.heap.items...),
		compare: pq.heap.compare,
	}
	sorted := make([]T, 0, len(clone.items))
	for clone.Len() > 0 {
		sorted = append(sorted, heap.Pop(&clone).(T))
	}
	return sorted
}

// Reorders the priority queue.
// Must be called if the priority of queued items has changed.
func (pq *PriorityQueue[T]) Reorder() {
	heap.Init(&pq.heap)
}

type priorityHeap[T any] struct {
	// The items in the heap.
	items []T

	// The function used to compare items.
	compare PriorityFunc[T]
}

func (pq priorityHeap[T]) Len() int {
	return len(pq.items)
}

func (pq priorityHeap[T]) Less(i, j int) bool {
	return pq.compare(pq.items[i], pq.items[j]) < 0
}

func (pq priorityHeap[T]) Swap(i, j int) {
	pq.items[i], pq.items[j] = pq.items[j], pq.items[i]
}

func (pq *priorityHeap[T]) Push(x any) {
	pq.items = append(pq.items, x.(T))
}

func (pq *priorityHeap[T]) Pop() any {
	n := len(pq.items)
	x := pq.items[n-1]
	pq.items = pq.items[:n-1]
	return x
}
