package ingest

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// RunPool hands items to a fixed number of workers that each pull the next
// item as soon as they finish one. Completion order is not defined.
//
// ctx only stops workers from pulling more items. It is not passed to fn, so
// work already in flight is never cancelled by it.
func RunPool[T any](ctx context.Context, items []T, workers int, fn func(item T)) {
	if len(items) == 0 {
		return
	}
	if workers < 1 {
		workers = 1
	}
	if workers > len(items) {
		workers = len(items)
	}

	queue := make(chan T, len(items))
	for _, item := range items {
		queue <- item
	}
	close(queue)

	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for item := range queue {
				if ctx.Err() != nil {
					return nil
				}
				fn(item)
			}
			return nil
		})
	}
	_ = g.Wait()
}
