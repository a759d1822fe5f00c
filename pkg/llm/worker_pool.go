package llm

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// WorkerPoolConfig configures the LLM worker pool.
type WorkerPoolConfig struct {
	MaxConcurrent int // Maximum concurrent model calls (default: 4)
}

// DefaultWorkerPoolConfig returns defaults sized for solver fan-out.
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		MaxConcurrent: 4,
	}
}

// WorkerPool runs independent model calls with bounded parallelism.
type WorkerPool struct {
	config WorkerPoolConfig
	logger *zap.Logger
}

// NewWorkerPool creates a new LLM worker pool.
func NewWorkerPool(config WorkerPoolConfig, logger *zap.Logger) *WorkerPool {
	if config.MaxConcurrent < 1 {
		config.MaxConcurrent = DefaultWorkerPoolConfig().MaxConcurrent
	}
	return &WorkerPool{
		config: config,
		logger: logger.Named("llm-worker-pool"),
	}
}

// WorkItem represents a unit of work to be processed.
type WorkItem[T any] struct {
	ID      string                               // For logging/tracking
	Execute func(ctx context.Context) (T, error) // The work to be executed
}

// WorkResult is the outcome of one work item. Index is the item's position
// in the submitted slice.
type WorkResult[T any] struct {
	ID     string
	Index  int
	Result T
	Err    error
}

// Process executes all work items with bounded parallelism and returns the
// results in submission order. A failing item never stops the others.
// Items that have not started when ctx is cancelled report ctx.Err().
func Process[T any](
	ctx context.Context,
	pool *WorkerPool,
	items []WorkItem[T],
	onProgress func(completed, total int),
) []WorkResult[T] {
	if len(items) == 0 {
		return nil
	}

	results := make([]WorkResult[T], len(items))
	sem := make(chan struct{}, pool.config.MaxConcurrent)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
	)

	for i, item := range items {
		wg.Add(1)
		go func(i int, item WorkItem[T]) {
			defer wg.Done()

			res := WorkResult[T]{ID: item.ID, Index: i}
			select {
			case sem <- struct{}{}:
				res.Result, res.Err = item.Execute(ctx)
				<-sem
			case <-ctx.Done():
				res.Err = ctx.Err()
			}
			if res.Err != nil {
				pool.logger.Debug("Work item failed", zap.String("id", item.ID), zap.Error(res.Err))
			}

			mu.Lock()
			results[i] = res
			completed++
			done := completed
			mu.Unlock()

			if onProgress != nil {
				onProgress(done, len(items))
			}
		}(i, item)
	}

	wg.Wait()
	return results
}
