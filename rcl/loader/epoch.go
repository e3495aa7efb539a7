package loader

import (
	"context"
	"sync/atomic"

	"github.com/sourcegraph/conc/stream"
)

// Epoch passes every batch to fn in index order. Up to the configured number
// of workers build batches ahead of fn; fn itself is never called
// concurrently. Epoch stops at the first error from a batch build or from fn,
// or when ctx is done, and returns that error. Batches built but never handed
// to fn are released. A loader built with Options.Shuffle reshuffles first.
func (l *Loader) Epoch(ctx context.Context, fn func(*Batch) error) error {
	if l.shuffle {
		l.Shuffle()
	}
	n := l.NumBatches()
	epochID := l.EpochID()

	var stopped atomic.Bool
	var firstErr error
	delivered := 0

	s := stream.New().WithMaxGoroutines(l.workers)
	for i := 0; i < n; i++ {
		if stopped.Load() || ctx.Err() != nil {
			break
		}
		s.Go(func() stream.Callback {
			if stopped.Load() {
				return func() {}
			}
			b, err := l.Batch(i)
			// callbacks run one at a time, in submission order
			return func() {
				if firstErr == nil && err == nil {
					err = ctx.Err()
				}
				if firstErr != nil || err != nil {
					if b != nil {
						_ = b.Release()
					}
					if firstErr == nil {
						firstErr = err
						stopped.Store(true)
					}
					return
				}
				delivered++
				if err := fn(b); err != nil {
					firstErr = err
					stopped.Store(true)
				}
			}
		})
	}
	s.Wait()

	if firstErr == nil && delivered < n {
		firstErr = ctx.Err()
	}

	l.log.Debug().
		Str("epoch_id", epochID.String()).
		Int("batches", delivered).
		Int("batch_num", n).
		Err(firstErr).
		Msg("epoch finished")

	return firstErr
}
