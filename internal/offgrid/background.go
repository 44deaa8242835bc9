package offgrid

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// background runs detached work (refreshes, pin writes, eviction, trimming)
// on a bounded pool. Tasks outlive the request that spawned them but are
// cancelled by Close; a cancelled task is simply lost.
type background struct {
	ctx     context.Context
	cancel  context.CancelFunc
	sem     chan struct{}
	timeout time.Duration
	log     zerolog.Logger

	wg sync.WaitGroup
}

func newBackground(workers int, timeout time.Duration, log zerolog.Logger) *background {
	ctx, cancel := context.WithCancel(context.Background())
	return &background{
		ctx:     ctx,
		cancel:  cancel,
		sem:     make(chan struct{}, workers),
		timeout: timeout,
		log:     log,
	}
}

// Go schedules fn. It never blocks the caller.
func (b *background) Go(name string, fn func(ctx context.Context)) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		select {
		case b.sem <- struct{}{}:
		case <-b.ctx.Done():
			b.log.Debug().Str("task", name).Msg("dropped on shutdown")
			return
		}
		defer func() { <-b.sem }()

		ctx, cancel := context.WithTimeout(b.ctx, b.timeout)
		defer cancel()
		fn(ctx)
	}()
}

// Wait blocks until every scheduled task has finished.
func (b *background) Wait() {
	b.wg.Wait()
}

func (b *background) Close() {
	b.cancel()
	b.wg.Wait()
}
