package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPriorityQueue(t *testing.T) {
	// Highest number first
	compareFunc := func(a, b int) int {
		return b - a
	}

	equalityFunc := func(a, b int) bool {
		return a == b
	}

	pq := NewPriorityQueue(compareFunc, equalityFunc)

	pq.Push(3)
	pq.Push(1)
	pq.Push(2)

	head, ok := pq.Peek()
	assert.True(t, ok)
	assert.Equal(t, 3, head)
	assert.Equal(t, []int{3, 2, 1}, pq.Sorted())
	assert.Equal(t, 3, pq.Len())

	// Verify pop order
	assert.Equal(t, 3, pq.Pop())
	assert.Equal(t, 2, pq.Pop())
	assert.Equal(t, 1, pq.Pop())

	_, ok = pq.Peek()
	assert.False(t, ok)

	// Remove an item from the priority queue
	pq.Push(1)
	pq.Push(4)
	pq.Push(5)
	assert.True(t, pq.Remove(4))
	assert.False(t, pq.Remove(4))
	assert.False(t, pq.Contains(4))
	assert.True(t, pq.Contains(5))

	// Verify pop order after removal
	assert.Equal(t, 5, pq.Pop())
	assert.Equal(t, 1, pq.Pop())
}
