package ingest

import "fmt"

// IssueIter reserves space for and dispatches one batch of key/value
// bundles pulled from iter. A nil iter is the sentinel null iterator: the
// call degenerates to a plain sync fence (spec.md section 4.3.1).
func (e *Engine) IssueIter(iter Iterator, txnID uint64, kv KVInfo, sync SyncMode) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if iter == nil {
		return e.IssueSync(sync, false)
	}

	it := e.acquireItem()
	it.kind = kindKVBIter
	it.iter = iter
	it.txnID = txnID
	it.sync = sync

	tree, workerIdx, mutationID, err := e.getTree(kv)
	if err != nil {
		e.releaseItem(it)
		return err
	}
	if lerr := e.latchedErr(); lerr != nil {
		e.releaseItem(it)
		return lerr
	}

	it.tree = tree
	it.workerIdx = workerIdx
	it.mutationID = mutationID
	e.dispatch(it)
	return nil
}

// IssueSync is a fence: for sync == Sync, it blocks until worker 0 has
// processed every item on its own FIFO enqueued before this call,
// optionally flushing the current tree afterward (spec.md section 4.3.2).
// The fence is placed on worker 0 only; items queued on other workers are
// not waited for.
//
// Reading pending without synchronization before deciding whether to wait
// is a deliberate, documented race inherited from the source: a
// concurrently enqueued item may be dispatched after this check and the
// fence will not wait for it. The fence's contract is "work enqueued
// before this call", not "all outstanding work at any instant".
func (e *Engine) IssueSync(sync SyncMode, skipFlush bool) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if sync != Sync {
		return e.latchedErr()
	}

	if e.pending.Load() == 0 {
		if !skipFlush {
			e.spaceMu.Lock()
			err := e.trees.Current().Flush()
			e.spaceMu.Unlock()
			if err != nil {
				return fmt.Errorf("%w: %w", ErrTreeFlush, err)
			}
		}
		return e.latchedErr()
	}

	it := &workItem{kind: kindFence, workerIdx: 0, enqueueTime: e.clock.NowNS()}
	e.pending.Add(1)
	e.workers[0].awaitFence(it)

	if lerr := e.latchedErr(); lerr != nil {
		return lerr
	}
	if !skipFlush {
		e.spaceMu.Lock()
		err := e.trees.Current().Flush()
		e.spaceMu.Unlock()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrTreeFlush, err)
		}
	}
	return nil
}

// TxnBegin reserves contiguous space for an entire mutation set and
// dispatches its begin record (spec.md section 4.3.3).
func (e *Engine) TxnBegin(txnID uint64, ci IterInfo, sync SyncMode) error {
	if e.closed.Load() {
		return ErrClosed
	}
	it := e.acquireItem()
	it.kind = kindTxnRecord
	it.txnID = txnID
	it.sync = sync
	it.txnRecord = TxnRecord{IngestID: InvalidID, TxnID: txnID, Cmd: CmdBegin, Flag: sync}

	tree, workerIdx, mutationID, err := e.getTreeTxn(ci)
	if err != nil {
		e.releaseItem(it)
		return err
	}

	it.tree = tree
	it.workerIdx = workerIdx
	it.mutationID = mutationID
	it.txnRecord.Segno = tree.Seqno()
	it.txnRecord.Gen = tree.Gen()

	e.dispatch(it)
	if e.metrics != nil {
		e.metrics.TxnBegins.Inc()
	}
	return nil
}

// TxnCommit dispatches a commit record, then, for sync == Sync, issues a
// fence on worker 0 without flushing, and finally refreshes the tree's
// free-space estimate (spec.md section 4.3.4). The fence waits for the
// commit only when the commit was routed to worker 0; for Async no fence
// is issued.
func (e *Engine) TxnCommit(txnID, ingestID uint64, sync SyncMode) error {
	if e.closed.Load() {
		return ErrClosed
	}
	it := e.acquireItem()
	it.kind = kindTxnRecord
	it.txnID = txnID
	it.sync = sync
	it.txnRecord = TxnRecord{IngestID: ingestID, TxnID: txnID, Cmd: CmdCommit, Flag: sync}

	kv := KVInfo{KVSize: 2 * uint64(e.txnmetaSz)}
	tree, workerIdx, mutationID, err := e.getTree(kv)
	if err != nil {
		e.releaseItem(it)
		return err
	}

	it.tree = tree
	it.workerIdx = workerIdx
	it.mutationID = mutationID
	it.txnRecord.Segno = tree.Seqno()
	it.txnRecord.Gen = tree.Gen()

	e.dispatch(it)
	if e.metrics != nil {
		e.metrics.TxnCommits.Inc()
	}

	if err := e.IssueSync(sync, true); err != nil {
		return err
	}
	tree.RefreshSpace()
	return nil
}

// TxnAbort dispatches an abort record, asynchronously, with no fence
// (spec.md section 4.3.5). Abort records are always written even under a
// latched engine error, to preserve abort semantics for in-flight
// transactions.
func (e *Engine) TxnAbort(txnID uint64) error {
	if e.closed.Load() {
		return ErrClosed
	}
	it := e.acquireItem()
	it.kind = kindTxnRecord
	it.txnID = txnID
	it.sync = Async
	it.txnRecord = TxnRecord{IngestID: InvalidID, TxnID: txnID, Cmd: CmdAbort, Flag: Async}

	kv := KVInfo{KVSize: 2 * uint64(e.txnmetaSz)}
	tree, workerIdx, mutationID, err := e.getTree(kv)
	if err != nil {
		e.releaseItem(it)
		return err
	}

	it.tree = tree
	it.workerIdx = workerIdx
	it.mutationID = mutationID
	it.txnRecord.Segno = tree.Seqno()
	it.txnRecord.Gen = tree.Gen()

	e.dispatch(it)
	if e.metrics != nil {
		e.metrics.TxnAborts.Inc()
	}
	return nil
}
