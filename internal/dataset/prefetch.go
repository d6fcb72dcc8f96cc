package dataset

import "context"

// Prefetcher pulls batches from a Source on a background goroutine so
// tokenization and batching overlap with the forward/backward work.
type Prefetcher struct {
	ch     chan Batch
	errCh  chan error
	cancel context.CancelFunc
}

// NewPrefetcher starts prefetching up to depth batches ahead. Close must
// be called to release the goroutine.
func NewPrefetcher(ctx context.Context, src Source, depth int) *Prefetcher {
	if depth < 1 {
		depth = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	p := &Prefetcher{
		ch:     make(chan Batch, depth),
		errCh:  make(chan error, 1),
		cancel: cancel,
	}
	go func() {
		defer close(p.ch)
		for {
			b, err := src.Next(ctx)
			if err != nil {
				p.errCh <- err
				return
			}
			select {
			case p.ch <- b:
			case <-ctx.Done():
				return
			}
		}
	}()
	return p
}

// Next returns the next prefetched batch, the source's error, or the
// context's error, whichever comes first.
func (p *Prefetcher) Next(ctx context.Context) (Batch, error) {
	select {
	case b, ok := <-p.ch:
		if !ok {
			select {
			case err := <-p.errCh:
				return Batch{}, err
			default:
				return Batch{}, context.Canceled
			}
		}
		return b, nil
	case err := <-p.errCh:
		return Batch{}, err
	case <-ctx.Done():
		return Batch{}, ctx.Err()
	}
}

// Close stops the background goroutine.
func (p *Prefetcher) Close() { p.cancel() }
