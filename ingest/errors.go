package ingest

import "errors"

// Sentinel errors implementing the taxonomy in spec.md section 7. Tree and
// Iterator implementations should wrap one of these with fmt.Errorf's %w
// so callers can errors.Is against them regardless of the underlying
// collaborator.
var (
	// ErrClosed is returned by any dispatcher operation called after
	// Close.
	ErrClosed = errors.New("ingest: engine is closed")

	// ErrNoSpace is the "NoSpace" subkind of Reservation failures: a
	// tree has no room for a requested reservation. The transaction
	// reservation path (TxnBegin) rolls over to a new tree once before this
	// propagates; the single-reservation path retries once against spare
	// capacity and does not roll over.
	ErrNoSpace = errors.New("ingest: tree has no space for reservation")

	// ErrOOM covers work-item pool exhaustion combined with overflow
	// allocation failure. The engine stays healthy; it is the caller's
	// reservation that failed.
	ErrOOM = errors.New("ingest: out of memory reserving a work item")

	// ErrIterator covers a failing or malformed Iterator.
	ErrIterator = errors.New("ingest: iterator failure")

	// ErrTreeWrite covers a failing Tree.IssueTxn/IssueKVB call. Worker
	// side, this latches the engine.
	ErrTreeWrite = errors.New("ingest: tree write failure")

	// ErrTreeFlush covers a failing Tree.Flush call.
	ErrTreeFlush = errors.New("ingest: tree flush failure")

	// ErrRecordSize covers a failing RecordSizer.RecordLen call, surfaced
	// only during engine construction.
	ErrRecordSize = errors.New("ingest: record size oracle failure")
)
