package ingest

import "time"

// RecordType names the record kinds whose encoded length the engine must
// know up front to size reservations.
type RecordType int

const (
	RecordKVT RecordType = iota
	RecordVT
	RecordKVB
	RecordTXN
)

// RecordSizer is the record-length oracle: record_type2len in spec.md
// section 6. It is queried once at engine creation and the results are
// cached.
type RecordSizer interface {
	RecordLen(rt RecordType, version int) (uint32, error)
}

// KVBundle is an opaque key/value batch produced by an Iterator. The
// engine never inspects it; it only forwards it to Tree.IssueKVB.
type KVBundle any

// Iterator pulls key/value bundles out of a client-supplied batch, one at
// a time. GetNext returns (nil, nil) at legitimate end of stream.
type Iterator interface {
	GetNext() (KVBundle, error)
	Put()
	IngestID() uint64
	VSize() uint64
}

// Tree is a single append-only log segment. The dispatcher writes records
// and bundles into whichever tree is current at reservation time.
type Tree interface {
	// ReserveSpace reserves size bytes, optionally drawing on spare
	// capacity reserved for finishing an in-flight mutation set. It
	// returns the worker slot the mutation must route through and the
	// mutation id the tree layer will use to order this write.
	ReserveSpace(size uint64, spare bool) (workerIdx int, mutationID uint64, err error)

	// ReserveSpaceTxn pre-checks that the tree has room for an entire
	// mutation set before any of its individual records are reserved.
	ReserveSpaceTxn(size uint64) error

	// ReserveSpaceIter stages per-bundle reservations for a transactional
	// batch that must fit contiguously.
	ReserveSpaceIter(kmeta, vmeta, kvbmeta uint32, stripeSize uint64, info IterInfo) error

	// IssueTxn writes a transaction boundary record.
	IssueTxn(workerIdx int, mutationID uint64, rec TxnRecord, sync SyncMode) error

	// IssueKVB writes one key/value bundle.
	IssueKVB(ingestID, vsize uint64, workerIdx int, txnID, mutationID uint64, bundle KVBundle, sync SyncMode, tidx int) error

	// Flush forces durability of everything written so far.
	Flush() error

	// RefreshSpace recomputes the tree's free-space estimate after a
	// mutation set has committed.
	RefreshSpace()

	// Seqno and Gen identify the tree for boundary records.
	Seqno() uint64
	Gen() uint64
}

// Trees is the enclosing log's tree manager: it knows which tree is
// current, how much room a mutation set needs to leave between bundles,
// and how to roll over once the current tree is exhausted.
type Trees interface {
	// Current returns the tree new work should be reserved against.
	Current() Tree

	// StripeSize returns the striping unit used to compute how many
	// kvb-meta headers a mutation set's bytes will require.
	StripeSize() uint64

	// MarkComplete marks cur as full so it can be sealed/compacted
	// upstream, and AllocNext installs a new current tree.
	MarkComplete(cur Tree) error
	AllocNext() error
}

// Clock abstracts the monotonic time source used for queue-latency
// metrics (now_ns in spec.md section 6).
type Clock interface {
	NowNS() int64
}

type systemClock struct{}

func (systemClock) NowNS() int64 { return time.Now().UnixNano() }
