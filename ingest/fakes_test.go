package ingest

import (
	"sync"
)

// fakeClock is a manually advanced Clock for deterministic latency tests.
type fakeClock struct {
	mu  sync.Mutex
	now int64
}

func (c *fakeClock) NowNS() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(ns int64) {
	c.mu.Lock()
	c.now += ns
	c.mu.Unlock()
}

// issueTxnCall and issueKVBCall record the arguments a fakeTree observed,
// for assertions.
type issueTxnCall struct {
	workerIdx  int
	mutationID uint64
	rec        TxnRecord
	sync       SyncMode
}

type issueKVBCall struct {
	ingestID, vsize       uint64
	workerIdx             int
	txnID, mutationID     uint64
	bundle                KVBundle
	sync                  SyncMode
	tidx                  int
}

// fakeTree is a hand-written Tree double. By default every reservation
// succeeds; tests set the *Err fields to exercise rollover and error-latch
// paths. Reservation errors fire once and are then cleared; write and
// flush errors persist.
type fakeTree struct {
	mu sync.Mutex

	seqno, gen uint64

	nextMutationID uint64
	nextWorkerIdx  int
	numWorkers     int

	reserveSpaceTxnErr   error
	reserveSpaceErr      error
	reserveSpaceIterErr  error
	issueTxnErr          error
	issueKVBErr          error
	flushErr             error

	txnCalls  []issueTxnCall
	kvbCalls  []issueKVBCall
	flushes   int
	refreshes int
}

func newFakeTree(numWorkers int) *fakeTree {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	return &fakeTree{numWorkers: numWorkers}
}

func (t *fakeTree) ReserveSpace(size uint64, spare bool) (int, uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.reserveSpaceErr != nil {
		err := t.reserveSpaceErr
		t.reserveSpaceErr = nil
		return 0, 0, err
	}
	idx := t.nextWorkerIdx
	t.nextWorkerIdx = (t.nextWorkerIdx + 1) % t.numWorkers
	t.nextMutationID++
	return idx, t.nextMutationID, nil
}

func (t *fakeTree) ReserveSpaceTxn(size uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.reserveSpaceTxnErr != nil {
		err := t.reserveSpaceTxnErr
		t.reserveSpaceTxnErr = nil
		return err
	}
	return nil
}

func (t *fakeTree) ReserveSpaceIter(kmeta, vmeta, kvbmeta uint32, stripeSize uint64, info IterInfo) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.reserveSpaceIterErr != nil {
		err := t.reserveSpaceIterErr
		t.reserveSpaceIterErr = nil
		return err
	}
	return nil
}

func (t *fakeTree) IssueTxn(workerIdx int, mutationID uint64, rec TxnRecord, sync SyncMode) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.txnCalls = append(t.txnCalls, issueTxnCall{workerIdx, mutationID, rec, sync})
	if t.issueTxnErr != nil {
		err := t.issueTxnErr
		return err
	}
	return nil
}

func (t *fakeTree) IssueKVB(ingestID, vsize uint64, workerIdx int, txnID, mutationID uint64, bundle KVBundle, sync SyncMode, tidx int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.kvbCalls = append(t.kvbCalls, issueKVBCall{ingestID, vsize, workerIdx, txnID, mutationID, bundle, sync, tidx})
	if t.issueKVBErr != nil {
		return t.issueKVBErr
	}
	return nil
}

func (t *fakeTree) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.flushes++
	return t.flushErr
}

func (t *fakeTree) RefreshSpace() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.refreshes++
}

func (t *fakeTree) Seqno() uint64 { return t.seqno }
func (t *fakeTree) Gen() uint64   { return t.gen }

// fakeTrees is a hand-written Trees double backed by a small slice of
// fakeTree instances, rolling over on MarkComplete/AllocNext.
type fakeTrees struct {
	mu         sync.Mutex
	stripeSize uint64
	cur        *fakeTree
	completed  []*fakeTree
	nextGen    uint64
	numWorkers int

	// newTreeTxnErr, when set, is stamped onto every tree AllocNext
	// produces (not the initial tree), to model a persistently full log.
	newTreeTxnErr error
}

func newFakeTrees(stripeSize uint64, numWorkers int) *fakeTrees {
	ft := &fakeTrees{stripeSize: stripeSize, numWorkers: numWorkers}
	ft.cur = newFakeTree(numWorkers)
	ft.cur.gen = ft.nextGen
	ft.nextGen++
	return ft
}

func (ft *fakeTrees) Current() Tree {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.cur
}

func (ft *fakeTrees) StripeSize() uint64 { return ft.stripeSize }

func (ft *fakeTrees) MarkComplete(cur Tree) error {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.completed = append(ft.completed, cur.(*fakeTree))
	return nil
}

func (ft *fakeTrees) AllocNext() error {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.cur = newFakeTree(ft.numWorkers)
	ft.cur.gen = ft.nextGen
	ft.nextGen++
	if ft.newTreeTxnErr != nil {
		ft.cur.reserveSpaceTxnErr = ft.newTreeTxnErr
	}
	return nil
}

// fakeSizer is a RecordSizer double returning fixed small sizes.
type fakeSizer struct{}

func (fakeSizer) RecordLen(rt RecordType, version int) (uint32, error) {
	switch rt {
	case RecordKVT:
		return 8, nil
	case RecordVT:
		return 4, nil
	case RecordKVB:
		return 16, nil
	case RecordTXN:
		return 32, nil
	default:
		return 0, nil
	}
}

// fakeIterator replays a fixed slice of bundles, then ends the stream. A
// configured error is returned instead of ending cleanly if set.
type fakeIterator struct {
	mu       sync.Mutex
	ingestID uint64
	vsize    uint64
	bundles  []KVBundle
	idx      int
	err      error
	putCalls int
}

func (it *fakeIterator) GetNext() (KVBundle, error) {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.idx >= len(it.bundles) {
		if it.err != nil {
			return nil, it.err
		}
		return nil, nil
	}
	b := it.bundles[it.idx]
	it.idx++
	return b, nil
}

func (it *fakeIterator) Put() {
	it.mu.Lock()
	it.putCalls++
	it.mu.Unlock()
}

func (it *fakeIterator) IngestID() uint64 { return it.ingestID }
func (it *fakeIterator) VSize() uint64    { return it.vsize }
