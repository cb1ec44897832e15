// Package ingest implements the ingest dispatch engine: a queue-and-worker
// pipeline that reserves log space, routes mutation work to a pool of
// workers, and honors flush/sync fences for a log-structured key/value
// store's durability layer.
package ingest

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luxfi/kvingest/log"
)

// errBox lets the engine latch an error behind an atomic pointer; error
// values themselves are not safe to store in atomic.Value because
// concrete error types vary between stores.
type errBox struct{ err error }

// Engine is the ingest dispatch engine (spec.md section 3, "Engine
// state"). It owns a fixed pool of workers and a free list of work items,
// and serializes all tree-space reservations through spaceMu so that
// mutation ids stay monotonic per tree.
type Engine struct {
	trees Trees
	sizer RecordSizer
	clock Clock
	log   log.Logger

	mpoolName string

	metrics *Metrics

	spaceMu sync.Mutex
	pool    *pool

	pending atomic.Int64
	errBox  atomic.Pointer[errBox]

	kmetaSz, vmetaSz, kvbmetaSz, txnmetaSz uint32

	workers []*worker
	wg      sync.WaitGroup

	closed atomic.Bool
}

// NewEngine creates the engine, preallocates the work-item pool, queries
// the record-size oracle, and starts cfg.Threads workers. It mirrors
// c1_io_create's (parent, dtime, mpname, threads) signature; dtime is
// accepted and carried for parity with the source (which does not use it
// within this component either) but otherwise unused.
func NewEngine(trees Trees, dtime time.Duration, sizer RecordSizer, cfg Config, opts ...Option) (*Engine, error) {
	_ = dtime

	if cfg.Threads <= 0 {
		return nil, fmt.Errorf("ingest: threads must be positive, got %d", cfg.Threads)
	}

	e := &Engine{
		trees:     trees,
		sizer:     sizer,
		clock:     systemClock{},
		log:       log.Root(),
		mpoolName: cfg.MpoolName,
		pool:      newPool(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = NewMetrics(cfg.MpoolName)
	}

	var err error
	if e.kmetaSz, err = sizer.RecordLen(RecordKVT, 1); err != nil {
		return nil, fmt.Errorf("%w: KVT: %w", ErrRecordSize, err)
	}
	if e.vmetaSz, err = sizer.RecordLen(RecordVT, 1); err != nil {
		return nil, fmt.Errorf("%w: VT: %w", ErrRecordSize, err)
	}
	if e.kvbmetaSz, err = sizer.RecordLen(RecordKVB, 1); err != nil {
		return nil, fmt.Errorf("%w: KVB: %w", ErrRecordSize, err)
	}
	if e.txnmetaSz, err = sizer.RecordLen(RecordTXN, 1); err != nil {
		return nil, fmt.Errorf("%w: TXN: %w", ErrRecordSize, err)
	}

	e.workers = make([]*worker, cfg.Threads)
	for i := range e.workers {
		e.workers[i] = newWorker(i, e)
	}
	e.wg.Add(cfg.Threads)
	for _, w := range e.workers {
		w := w
		go func() {
			defer e.wg.Done()
			w.run()
		}()
	}

	return e, nil
}

// Close stops every worker, waits for them to drain, and splices whatever
// is left on their FIFOs back into the free pool. Teardown never fails
// observably (spec.md section 7).
func (e *Engine) Close() {
	if !e.closed.CompareAndSwap(false, true) {
		return
	}

	for _, w := range e.workers {
		w.mu.Lock()
		w.stop = true
		w.mu.Unlock()
		w.cv.Signal()
	}

	e.wg.Wait()

	e.spaceMu.Lock()
	for _, w := range e.workers {
		e.pool.putAll(w.residual())
	}
	e.spaceMu.Unlock()
}

func (e *Engine) latch(err error) {
	if err == nil {
		return
	}
	e.errBox.Store(&errBox{err: err})
	if e.metrics != nil {
		e.metrics.IOErrors.Inc()
	}
}

// latchedErr reads the poison flag. Once non-nil it stays non-nil for the
// life of the engine (invariant 5, spec.md section 3).
func (e *Engine) latchedErr() error {
	b := e.errBox.Load()
	if b == nil {
		return nil
	}
	return b.err
}

func (e *Engine) logTreeWriteError(err error) {
	e.log.Error("ingest: tree write failed", "err", err)
}

// acquireItem implements the shared prologue of every dispatcher
// operation: take a free item from the pool, falling back to an overflow
// allocation if the cache is empty.
func (e *Engine) acquireItem() *workItem {
	e.spaceMu.Lock()
	it, overflowed := e.pool.get()
	e.spaceMu.Unlock()
	if overflowed && e.metrics != nil {
		e.metrics.Overflows.Inc()
	}
	return it
}

func (e *Engine) releaseItem(it *workItem) {
	e.spaceMu.Lock()
	e.pool.put(it)
	e.spaceMu.Unlock()
}

// dispatch implements the shared epilogue: stamp enqueue time, bump
// pending, hand the item to its chosen worker, and bump the enqueue
// counter.
func (e *Engine) dispatch(it *workItem) {
	e.pending.Add(1)
	it.enqueueTime = e.clock.NowNS()
	e.workers[it.workerIdx].enqueue(it)
	if e.metrics != nil {
		e.metrics.Enqueued.Inc()
	}
}

func (e *Engine) recordQueueLatency(it *workItem) int64 {
	now := e.clock.NowNS()
	if e.metrics != nil {
		e.metrics.QueueLatency.Observe(float64(now-it.enqueueTime) / 1e9)
	}
	return now
}

// recordCompletion mirrors c1_io_rec_perf: latency is only meaningful for
// work that actually succeeded.
func (e *Engine) recordCompletion(it *workItem, start int64, err error) {
	if err != nil || e.metrics == nil {
		return
	}
	now := e.clock.NowNS()
	e.metrics.TotalLatency.Observe(float64(now-it.enqueueTime) / 1e9)
	e.metrics.ProcessLatency.Observe(float64(now-start) / 1e9)
}

// pumpIterator repeatedly pulls bundles from it.iter and writes each to
// the tree, stopping at end of stream or on the first error (spec.md
// section 4.4.1).
func (e *Engine) pumpIterator(it *workItem) error {
	for {
		bundle, err := it.iter.GetNext()
		if err != nil {
			it.iter.Put()
			wrapped := fmt.Errorf("%w: %w", ErrIterator, err)
			e.latch(wrapped)
			return wrapped
		}
		if bundle == nil {
			// Legitimate end of stream.
			it.iter.Put()
			return nil
		}

		err = it.tree.IssueKVB(it.iter.IngestID(), it.iter.VSize(), it.workerIdx, it.txnID, it.mutationID, bundle, it.sync, it.workerIdx)
		if err != nil {
			it.iter.Put()
			wrapped := fmt.Errorf("%w: %w", ErrTreeWrite, err)
			e.logTreeWriteError(wrapped)
			e.latch(wrapped)
			return wrapped
		}
	}
}
