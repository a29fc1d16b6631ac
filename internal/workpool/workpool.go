// Package workpool implements the bounded CPU-bound worker pool shared
// by the tile partitioner (row-band diffing) and the tile encoder
// (per-tile compression), per the concurrency model's split between
// the scheduler (fan-out, registry) and the pool (CPU-bound work).
package workpool

import (
	"context"
	"runtime"
	"sync"
)

// Pool runs a fixed number of jobs concurrently and waits for all of
// them, propagating the first error encountered (others are still
// allowed to finish, matching the "row-band parallel, independent
// per-tile" shape of C2/C3).
type Pool struct {
	size int
}

// New returns a pool sized to extra CPU headroom above NumCPU, per
// SPEC_FULL.md's C3 sizing note.
func New(extra int) *Pool {
	n := runtime.NumCPU() + extra
	if n < 1 {
		n = 1
	}
	return &Pool{size: n}
}

// Run executes fn(i) for i in [0, n) across the pool, blocking until
// all complete or ctx is cancelled. The first non-nil error returned
// by any job is returned; all jobs still run to completion.
func (p *Pool) Run(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	if n == 0 {
		return nil
	}

	sem := make(chan struct{}, p.size)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			wg.Wait()
			return err
		}
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := fn(ctx, idx); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(i)
	}

	wg.Wait()
	return firstErr
}
