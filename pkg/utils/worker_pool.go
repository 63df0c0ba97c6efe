package utils

import (
	"runtime"
	"sync"
)

// A fixed set of goroutines executing submitted functions.
// When all workers are busy, submitted functions run on the caller's goroutine.
type WorkerPool struct {
	workerCount int
	tasks       chan func()
	done        chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

// Creates a new worker pool.
// A non-positive worker count selects GOMAXPROCS workers.
func NewWorkerPool(workerCount int) *WorkerPool {
	if workerCount <= 0 {
		workerCount = runtime.GOMAXPROCS(0)
	}
	return &WorkerPool{
		workerCount: workerCount,
		tasks:       make(chan func(), workerCount),
		done:        make(chan struct{}),
	}
}

func (wp *WorkerPool) Start() {
	for i := 0; i < wp.workerCount; i++ {
		go func() {
			for {
				select {
				case task := <-wp.tasks:
					task()
					wp.wg.Done()
				case <-wp.done:
					wp.drain()
					return
				}
			}
		}()
	}
}

// Runs tasks still queued when the pool was stopped.
func (wp *WorkerPool) drain() {
	for {
		select {
		case task := <-wp.tasks:
			task()
			wp.wg.Done()
		default:
			return
		}
	}
}

// Queues the task for a worker, or runs it on the caller's goroutine
// if all workers are busy or the pool is stopped.
func (wp *WorkerPool) SubmitOrRun(task func()) {
	wp.wg.Add(1)
	select {
	case <-wp.done:
	default:
		select {
		case wp.tasks <- task:
			return
		default:
		}
	}
	task()
	wp.wg.Done()
}

// Stops the workers. Functions submitted afterwards run on the caller's goroutine.
func (wp *WorkerPool) Stop() {
	wp.stopOnce.Do(func() { close(wp.done) })
}

// Waits for all submitted functions to return.
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

// Applies fn to every item using the pool and returns the results in input order.
func ParallelMap[T, R any](wp *WorkerPool, items []T, fn func(T) R) []R {
	results := make([]R, len(items))
	var wg sync.WaitGroup
	for i, item := range items {
		i, item := i, item
		wg.Add(1)
		wp.SubmitOrRun(func() {
			defer wg.Done()
			results[i] = fn(item)
		})
	}
	wg.Wait()
	return results
}
