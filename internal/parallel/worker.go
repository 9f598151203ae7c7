// Package parallel provides the worker pool used by column-wise transforms.
//
// Column transforms are independent of each other, so a stage can fan its
// columns out to a fixed set of goroutines and collect the results by
// position. Results are always returned in input order, which keeps the
// parallel path bit-identical to the sequential one.
package parallel

import (
	"context"
	"runtime"
	"sync"
)

// WorkerPool manages a pool of goroutines for parallel processing
type WorkerPool struct {
	numWorkers int
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewWorkerPool creates a new worker pool. A non-positive size uses the CPU count.
func NewWorkerPool(numWorkers int) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		numWorkers: numWorkers,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Size returns the number of workers.
func (wp *WorkerPool) Size() int {
	return wp.numWorkers
}

// ProcessIndexed executes worker over items in parallel while preserving
// order. After Close, remaining items are processed on the calling goroutine.
func ProcessIndexed[T, R any](
	wp *WorkerPool,
	items []T,
	worker func(int, T) R,
) []R {
	if len(items) == 0 {
		return nil
	}

	results := make([]R, len(items))
	done := make([]bool, len(items))

	workers := wp.numWorkers
	if workers > len(items) {
		workers = len(items)
	}

	indexCh := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexCh {
				results[i] = worker(i, items[i])
				done[i] = true
			}
		}()
	}

feed:
	for i := range items {
		select {
		case <-wp.ctx.Done():
			break feed
		case indexCh <- i:
		}
	}
	close(indexCh)
	wg.Wait()

	for i := range items {
		if !done[i] {
			results[i] = worker(i, items[i])
		}
	}

	return results
}

// Map runs worker over items, in parallel when pool is non-nil and parallel
// is true, sequentially otherwise.
func Map[T, R any](wp *WorkerPool, parallel bool, items []T, worker func(int, T) R) []R {
	if wp == nil || !parallel || len(items) < 2 {
		results := make([]R, len(items))
		for i, item := range items {
			results[i] = worker(i, item)
		}
		return results
	}
	return ProcessIndexed(wp, items, worker)
}

// Close shuts down the worker pool
func (wp *WorkerPool) Close() {
	wp.cancel()
}
