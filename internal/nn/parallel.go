package nn

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// parallelFor splits [0, n) into contiguous chunks and runs fn on each chunk
// with at most GOMAXPROCS goroutines. Cancellation is checked before every chunk.
func parallelFor(ctx context.Context, n int, fn func(lo, hi int)) error {
	if n <= 0 {
		return ctx.Err()
	}
	workers := runtime.GOMAXPROCS(0)
	if workers > n {
		workers = n
	}
	chunk := (n + workers*4 - 1) / (workers * 4)
	if chunk < 1 {
		chunk = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for lo := 0; lo < n; lo += chunk {
		lo := lo
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fn(lo, hi)
			return nil
		})
	}
	return g.Wait()
}
