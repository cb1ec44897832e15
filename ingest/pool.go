package ingest

// poolSize is the number of preallocated work items, matching c1io_ioqv's
// 61-element array in the source: enough to absorb the common case
// without hitting the overflow allocator.
const poolSize = 61

// pool is the engine's work-item free list: a fixed preallocated array
// plus an overflow path for when the cache runs dry. All methods assume
// the caller holds Engine.spaceMu; pool itself has no lock of its own,
// mirroring how c1io_qfree is always touched under c1io_space_mtx.
type pool struct {
	items [poolSize]workItem
	free  *workItem
}

func newPool() *pool {
	p := &pool{}
	for i := range p.items {
		p.items[i].fromPool = true
		p.items[i].next = p.free
		p.free = &p.items[i]
	}
	return p
}

// get returns a free item, or a freshly allocated one if the cache is
// empty. The second return value reports whether the overflow path was
// used, for metrics.
func (p *pool) get() (*workItem, bool) {
	if p.free == nil {
		return &workItem{}, true
	}
	it := p.free
	p.free = it.next
	it.next = nil
	return it, false
}

// put returns a single item to the free list, zeroing it first so no
// stale Tree/Iterator references outlive the work item's use.
func (p *pool) put(it *workItem) {
	fromPool := it.fromPool
	*it = workItem{fromPool: fromPool}
	if !fromPool {
		// Not part of the preallocated array; drop the reference and let
		// the garbage collector reclaim it, matching the free() branch
		// of c1_io_queue_free.
		return
	}
	it.next = p.free
	p.free = it
}

// putAll splices an entire singly-linked list (head..tail) back onto the
// free list in one pass, discarding overflow items along the way. Used by
// the worker loop's batched qfree return.
func (p *pool) putAll(head *workItem) {
	for head != nil {
		next := head.next
		p.put(head)
		head = next
	}
}
