package syncengine

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// ApplyFunc applies one hunk and reports its outcome.
type ApplyFunc func(ctx context.Context, h Hunk) error

// RunPool applies hunks with at most w in flight at once. Completion order
// is unspecified. A hunk's failure never cancels the others: each apply is
// wrapped so its error is captured into the returned []HunkResult rather
// than propagated to the errgroup. There is no retry at this layer.
//
// If ctx is cancelled, in-flight hunks are allowed to finish; no new ones
// start, and the result only contains hunks that completed.
func RunPool(ctx context.Context, w int, hunks []Hunk, apply ApplyFunc, onDone func(Hunk, error)) []HunkResult {
	if w <= 0 {
		w = 1
	}
	results := make([]HunkResult, 0, len(hunks))
	var mu sync.Mutex

	sem := semaphore.NewWeighted(int64(w))
	g, gctx := errgroup.WithContext(context.Background()) // a hunk's own error must never cancel siblings

	for _, h := range hunks {
		h := h
		if err := sem.Acquire(ctx, 1); err != nil {
			// Controller cancelled before this hunk could start: it is
			// simply omitted from the report.
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			var err error
			select {
			case <-ctx.Done():
				err = ctx.Err()
			default:
				err = apply(gctx, h)
			}
			if onDone != nil {
				onDone(h, err)
			}
			mu.Lock()
			results = append(results, HunkResult{Hunk: h, Err: err})
			mu.Unlock()
			return nil // never propagate: a hunk failure must not cancel siblings
		})
	}
	_ = g.Wait()
	return results
}
