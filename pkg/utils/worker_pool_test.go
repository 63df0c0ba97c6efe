package utils

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorkerPool(t *testing.T) {
	numResults := 10000

	pool := NewWorkerPool(0)
	pool.Start()
	defer pool.Stop()

	var mu sync.Mutex
	results := make([]int, 0)

	for i := 0; i < numResults; i++ {
		n := i
		pool.SubmitOrRun(func() {
			mu.Lock()
			results = append(results, n)
			mu.Unlock()
		})
	}

	pool.Wait()

	if len(results) != numResults {
		t.Errorf("Expected %d results, got %d", numResults, len(results))
	}

	resultSet := make(map[int]struct{})
	for _, r := range results {
		resultSet[r] = struct{}{}
	}

	for i := 0; i < numResults; i++ {
		if _, ok := resultSet[i]; !ok {
			t.Errorf("Missing result: %d", i)
		}
	}
}

func TestParallelMap(t *testing.T) {
	pool := NewWorkerPool(4)
	pool.Start()
	defer pool.Stop()

	squares := ParallelMap(pool, []int{1, 2, 3, 4, 5}, func(n int) int {
		return n * n
	})
	assert.Equal(t, []int{1, 4, 9, 16, 25}, squares)
}

func TestWorkerPoolStopped(t *testing.T) {
	pool := NewWorkerPool(2)
	pool.Start()
	pool.Stop()

	ran := false
	pool.SubmitOrRun(func() { ran = true })
	pool.Wait()
	assert.True(t, ran)
}
