package fn

import (
	"context"
	"sync"
)

// ParMapResult applies f to each item with bounded concurrency,
// returning Results in input order. Once ctx is cancelled no further
// items are dispatched; their slots carry ctx.Err(). In-flight calls
// observe the cancelled ctx and are abandoned by their own logic.
func ParMapResult[T, U any](ctx context.Context, items []T, workers int, f func(context.Context, T) Result[U]) []Result[U] {
	out := make([]Result[U], len(items))
	if len(items) == 0 {
		return out
	}
	if workers <= 0 {
		workers = len(items)
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, workers)
	for i, v := range items {
		if err := ctx.Err(); err != nil {
			for j := i; j < len(items); j++ {
				out[j] = Err[U](err)
			}
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, v T) {
			defer func() { <-sem; wg.Done() }()
			out[i] = f(ctx, v)
		}(i, v)
	}
	wg.Wait()
	return out
}
