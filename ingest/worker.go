package ingest

import (
	"fmt"
	"sync"
)

// worker owns one FIFO of pending work items and makes independent
// progress against it. Workers never touch each other's FIFOs; ordering
// guarantees are per-worker only (spec.md section 5).
type worker struct {
	mu   sync.Mutex
	cv   *sync.Cond
	head *workItem
	tail *workItem
	stop bool

	idx    int
	engine *Engine // non-owning back-reference, for metrics and pool access
}

func newWorker(idx int, e *Engine) *worker {
	w := &worker{idx: idx, engine: e}
	w.cv = sync.NewCond(&w.mu)
	return w
}

// enqueue appends it to the FIFO and wakes the worker.
func (w *worker) enqueue(it *workItem) {
	w.mu.Lock()
	it.next = nil
	if w.tail == nil {
		w.head = it
	} else {
		w.tail.next = it
	}
	w.tail = it
	w.mu.Unlock()
	w.cv.Signal()
}

// awaitFence appends a fence item to the FIFO and blocks until the worker
// marks it done. it is typically stack-resident in the caller; once this
// returns, the worker has promised not to touch it again.
func (w *worker) awaitFence(it *workItem) {
	w.mu.Lock()
	it.next = nil
	if w.tail == nil {
		w.head = it
	} else {
		w.tail.next = it
	}
	w.tail = it
	w.cv.Signal()
	for !it.fenceDone {
		w.cv.Wait()
	}
	w.mu.Unlock()
}

// popFrontLocked removes and returns the head item. Caller must hold mu
// and must have already verified the FIFO is non-empty.
func (w *worker) popFrontLocked() *workItem {
	it := w.head
	w.head = it.next
	if w.head == nil {
		w.tail = nil
	}
	it.next = nil
	return it
}

// run is the worker's main loop (spec.md section 4.4). It processes items
// until stop is signaled, then splices any items it was about to return
// to the free pool into its own FIFO so destroy can reclaim them
// uniformly.
func (w *worker) run() {
	e := w.engine

	var qfreeHead, qfreeTail *workItem
	nfree := 0

	appendFree := func(it *workItem) {
		it.next = nil
		if qfreeTail == nil {
			qfreeHead = it
		} else {
			qfreeTail.next = it
		}
		qfreeTail = it
	}

	for {
		w.mu.Lock()
		w.cv.Broadcast() // wake any fence waiter blocked on this worker

		for w.head == nil {
			if w.stop {
				// Hand back anything still queued in qfree plus
				// whatever never got spliced to the engine pool, via
				// this worker's own (now-empty) FIFO so destroy can
				// drain it uniformly.
				w.head, w.tail = qfreeHead, qfreeTail
				w.mu.Unlock()
				return
			}
			w.cv.Wait()
		}

		it := w.popFrontLocked()
		w.mu.Unlock()

		if it.workerIdx != w.idx {
			panic("ingest: work item routed to the wrong worker")
		}

		e.pending.Add(-1)
		start := e.recordQueueLatency(it)

		switch it.kind {
		case kindTxnRecord:
			err := it.tree.IssueTxn(it.workerIdx, it.mutationID, it.txnRecord, it.sync)
			if err != nil {
				err = fmt.Errorf("%w: %w", ErrTreeWrite, err)
				e.logTreeWriteError(err)
				e.latch(err)
			}
			e.recordCompletion(it, start, err)

			appendFree(it)
			if nfree++; nfree > 1 {
				e.spaceMu.Lock()
				e.pool.putAll(qfreeHead)
				e.spaceMu.Unlock()
				qfreeHead, qfreeTail = nil, nil
				nfree = 0
			}

		case kindFence:
			// This item is stack-resident on the caller's goroutine.
			// Once fenceDone is published the caller may reuse or
			// discard that memory immediately -- do not touch it
			// again (invariant 4, spec.md section 3). It never goes
			// on the qfree list.
			w.mu.Lock()
			it.fenceDone = true
			w.mu.Unlock()
			// Not broadcast here: the top-of-loop broadcast on the next
			// iteration wakes the fence waiter, matching the source.

		case kindKVBIter:
			var err error
			if e.latchedErr() != nil {
				it.iter.Put()
			} else {
				err = e.pumpIterator(it)
			}
			e.recordCompletion(it, start, err)

			appendFree(it)
			if nfree++; nfree > 1 {
				e.spaceMu.Lock()
				e.pool.putAll(qfreeHead)
				e.spaceMu.Unlock()
				qfreeHead, qfreeTail = nil, nil
				nfree = 0
			}
		}
	}
}

// residual returns whatever is left on the worker's FIFO after run has
// returned. Only safe to call once the worker goroutine has exited.
func (w *worker) residual() *workItem {
	return w.head
}
