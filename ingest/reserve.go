package ingest

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

// reservationSize computes the encoded byte size of a reservation: the raw
// kv payload plus per-record metadata overhead plus one kvb-meta header per
// stripe the payload spans. It accumulates in 256-bit arithmetic because
// the inputs come from client-controlled counts and sizes that could, in
// principle, overflow a native uint64 sum before the overflow is visible;
// the final result is range-checked back down to uint64.
func reservationSize(kv KVInfo, kmetaSz, vmetaSz, kvbmetaSz uint32, stripeSize uint64) (uint64, error) {
	if stripeSize == 0 {
		return 0, fmt.Errorf("%w: zero stripe size", ErrRecordSize)
	}

	total := uint256.NewInt(kv.KVSize)
	total.Add(total, new(uint256.Int).Mul(uint256.NewInt(uint64(kmetaSz)), uint256.NewInt(uint64(kv.KCount))))
	total.Add(total, new(uint256.Int).Mul(uint256.NewInt(uint64(vmetaSz)), uint256.NewInt(uint64(kv.VCount))))

	stripCount := kv.KVSize/stripeSize + 1
	total.Add(total, new(uint256.Int).Mul(uint256.NewInt(uint64(kvbmetaSz)), uint256.NewInt(stripCount)))

	if !total.IsUint64() {
		return 0, fmt.Errorf("%w: reservation size overflows 64 bits", ErrRecordSize)
	}
	return total.Uint64(), nil
}

// getTree implements the single-reservation path used for kvb-iter work
// items and transaction boundary records (spec.md section 4.5, get_tree).
func (e *Engine) getTree(kv KVInfo) (Tree, int, uint64, error) {
	size, err := reservationSize(kv, e.kmetaSz, e.vmetaSz, e.kvbmetaSz, e.trees.StripeSize())
	if err != nil {
		return nil, 0, 0, err
	}

	e.spaceMu.Lock()
	defer e.spaceMu.Unlock()

	tree := e.trees.Current()
	workerIdx, mutationID, err := tree.ReserveSpace(size, false)
	if errors.Is(err, ErrNoSpace) {
		workerIdx, mutationID, err = tree.ReserveSpace(size, true)
	}
	if err != nil {
		return nil, 0, 0, err
	}
	return tree, workerIdx, mutationID, nil
}

// getTreeTxn implements the contiguous whole-mutation-set reservation path
// used by txn_begin (spec.md section 4.5, get_tree_txn). It retries exactly
// once, rolling over to a fresh tree, if the tree reports NoSpace at any
// step.
func (e *Engine) getTreeTxn(ci IterInfo) (Tree, int, uint64, error) {
	size, err := reservationSize(ci.Total, e.kmetaSz, e.vmetaSz, e.kvbmetaSz, e.trees.StripeSize())
	if err != nil {
		return nil, 0, 0, err
	}
	recsz := 2 * uint64(e.txnmetaSz)
	totalSize := size + recsz
	if totalSize < size {
		return nil, 0, 0, fmt.Errorf("%w: reservation size overflows 64 bits", ErrRecordSize)
	}

	e.spaceMu.Lock()
	defer e.spaceMu.Unlock()

	retried := false
	for {
		tree := e.trees.Current()

		err = tree.ReserveSpaceTxn(totalSize)

		var workerIdx int
		var mutationID uint64
		if err == nil {
			workerIdx, mutationID, err = tree.ReserveSpace(recsz, false)
		}
		if err == nil {
			err = tree.ReserveSpaceIter(e.kmetaSz, e.vmetaSz, e.kvbmetaSz, e.trees.StripeSize(), ci)
		}
		if err == nil {
			return tree, workerIdx, mutationID, nil
		}

		if errors.Is(err, ErrNoSpace) && !retried {
			retried = true
			oldSeqno, oldGen := tree.Seqno(), tree.Gen()
			if merr := e.trees.MarkComplete(tree); merr != nil {
				return nil, 0, 0, merr
			}
			if aerr := e.trees.AllocNext(); aerr != nil {
				return nil, 0, 0, aerr
			}
			next := e.trees.Current()
			e.log.Debug("ingest: rolled over to a new tree after NoSpace",
				"oldSeqno", oldSeqno, "oldGen", oldGen,
				"newSeqno", next.Seqno(), "newGen", next.Gen())
			continue
		}
		return nil, 0, 0, err
	}
}
