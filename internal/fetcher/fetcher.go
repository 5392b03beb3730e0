// Package fetcher runs independent per-item detail fetches under a bounded
// worker pool and gathers their outputs once every worker has returned.
package fetcher

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultWorkers is the pool size used when no worker count is configured.
const DefaultWorkers = 8

// defaultPollInterval is how often a progress observer is sampled.
const defaultPollInterval = 250 * time.Millisecond

// FetchFunc fetches the detail for one id and returns zero or more items.
type FetchFunc[T any] func(ctx context.Context, id string) ([]T, error)

// ProgressFunc observes how many ids have completed out of total.
type ProgressFunc func(done, total int)

// Result holds the concatenated outputs of a dispatch.
type Result[T any] struct {
	// Items are the outputs of every successful fetch, in no particular order.
	Items []T
	// Failed maps each id whose fetch returned an error to that error.
	Failed map[string]error
	// Attempted is the number of fetch invocations made.
	Attempted int
}

// Executor is a bounded pool configuration shared by every caller that fans
// out detail fetches.
type Executor struct {
	workers  int
	progress ProgressFunc
	interval time.Duration
}

// Option configures an Executor.
type Option func(*Executor)

// WithWorkers sets the maximum number of concurrent fetches. Values below one
// are treated as one.
func WithWorkers(n int) Option {
	return func(e *Executor) {
		if n < 1 {
			n = 1
		}
		e.workers = n
	}
}

// WithProgress registers an observer sampled every interval while a dispatch
// runs, plus once after it completes. A zero interval uses a default.
func WithProgress(fn ProgressFunc, interval time.Duration) Option {
	return func(e *Executor) {
		e.progress = fn
		if interval > 0 {
			e.interval = interval
		}
	}
}

// NewExecutor creates an Executor with the given options.
func NewExecutor(opts ...Option) *Executor {
	e := &Executor{workers: DefaultWorkers, interval: defaultPollInterval}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Workers returns the configured upper bound on concurrency.
func (e *Executor) Workers() int { return e.workers }

// With returns a copy of e with additional options applied.
func (e *Executor) With(opts ...Option) *Executor {
	cp := *e
	for _, opt := range opts {
		opt(&cp)
	}
	return &cp
}

// Dispatch runs fn once for every id using the default executor settings
// adjusted by opts.
func Dispatch[T any](ctx context.Context, ids []string, fn FetchFunc[T], opts ...Option) Result[T] {
	return Run(ctx, NewExecutor(opts...), ids, fn)
}

// Run invokes fn exactly once per id on e's pool. Errors are recorded per id
// and never stop other fetches. Run returns after every worker has finished.
func Run[T any](ctx context.Context, e *Executor, ids []string, fn FetchFunc[T]) Result[T] {
	res := Result[T]{Failed: make(map[string]error)}
	if len(ids) == 0 {
		return res
	}

	workers := e.workers
	if workers > len(ids) {
		workers = len(ids)
	}

	// Worker-private sinks; merged after the barrier.
	type sink struct {
		items  []T
		failed map[string]error
		n      int
	}
	sinks := make([]sink, workers)

	var done atomic.Int64
	stopProgress := e.watch(&done, len(ids))

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			s := &sinks[w]
			for i := w; i < len(ids); i += workers {
				id := ids[i]
				items, err := fn(ctx, id)
				s.n++
				if err != nil {
					if s.failed == nil {
						s.failed = make(map[string]error)
					}
					s.failed[id] = err
				} else {
					s.items = append(s.items, items...)
				}
				done.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	stopProgress()

	for _, s := range sinks {
		res.Items = append(res.Items, s.items...)
		for id, err := range s.failed {
			res.Failed[id] = err
		}
		res.Attempted += s.n
	}
	return res
}

// watch starts polling done for the progress observer and returns a func that
// stops polling and reports the final count.
func (e *Executor) watch(done *atomic.Int64, total int) func() {
	if e.progress == nil {
		return func() {}
	}
	stop := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				e.progress(int(done.Load()), total)
			}
		}
	}()
	return func() {
		close(stop)
		<-finished
		e.progress(int(done.Load()), total)
	}
}
