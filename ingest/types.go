package ingest

import "github.com/luxfi/kvingest/log"

// SyncMode selects whether a caller wants durability confirmation before a
// call returns.
type SyncMode int

const (
	Async SyncMode = iota
	Sync
)

// TxnCmd tags the kind of transaction boundary record carried by a
// txn-record work item.
type TxnCmd int

const (
	CmdBegin TxnCmd = iota
	CmdCommit
	CmdAbort
)

// InvalidID marks an unset ingest/sequence id, mirroring C1_INVALID_SEQNO.
const InvalidID = ^uint64(0)

// KVInfo describes the size of a key/value bundle for reservation
// purposes.
type KVInfo struct {
	KVSize uint64 // total encoded kv byte size
	KCount uint32 // number of keys
	VCount uint32 // number of values
}

// IterInfo describes the aggregate size of an entire mutation set (all
// bundles a transaction will emit), used to reserve contiguous space for
// a transaction up front.
type IterInfo struct {
	Total KVInfo
}

// TxnRecord is the inline-owned boundary record for a transaction
// begin/commit/abort, corresponding to struct c1_ttxn.
type TxnRecord struct {
	IngestID uint64
	TxnID    uint64
	Cmd      TxnCmd
	Flag     SyncMode
	Segno    uint64
	Gen      uint64
}

// kind tags the mutually-exclusive payload a work item carries.
type kind int

const (
	kindTxnRecord kind = iota
	kindKVBIter
	kindFence
)

// workItem is a unit of work routed to exactly one worker. It lives on
// exactly one of: the engine's free pool, a worker's FIFO, or a local
// splice list inside the worker loop (invariant 1, spec.md section 3).
//
// fence items are stack-resident on the issuing goroutine and must not be
// touched by the worker after fenceDone is published -- the waiter may
// reinterpret or discard the memory the instant it observes fenceDone.
type workItem struct {
	next *workItem

	kind       kind
	tree       Tree
	workerIdx  int
	mutationID uint64
	txnID      uint64
	sync       SyncMode

	iter      Iterator // set only for kindKVBIter
	txnRecord TxnRecord // set only for kindTxnRecord

	enqueueTime int64 // ns, for queue-latency metrics

	fenceDone bool // set only for kindFence, guarded by its worker's mutex

	fromPool bool // true if this item lives inside the preallocated array
}

// Config holds the engine's required construction parameters.
type Config struct {
	// Threads is the number of workers to start, fixed for the life of
	// the engine.
	Threads int

	// MpoolName identifies the backing mpool, passed through to metrics
	// labels only -- this layer does not touch the mpool directly.
	MpoolName string
}

// Option customizes Engine construction beyond the required Config.
type Option func(*Engine)

// WithLogger overrides the default root logger.
func WithLogger(l log.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithClock overrides the time source used for enqueue-latency metrics.
// Tests use this to make latency assertions deterministic.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithMetrics attaches a Metrics sink. If omitted, a Metrics value is
// created but never registered with any Prometheus registry.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}
