package ingest

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReservationSizeBasic(t *testing.T) {
	size, err := reservationSize(KVInfo{KVSize: 100, KCount: 2, VCount: 3}, 8, 4, 16, 64)
	require.NoError(t, err)
	// 100 + 8*2 + 4*3 + 16*(100/64+1) = 100+16+12+32 = 160
	require.Equal(t, uint64(160), size)
}

func TestReservationSizeOverflowDetected(t *testing.T) {
	_, err := reservationSize(KVInfo{KVSize: math.MaxUint64, KCount: math.MaxUint32, VCount: math.MaxUint32}, math.MaxUint32, math.MaxUint32, math.MaxUint32, 64)
	require.Error(t, err)
}

func TestGetTreeRetriesWithSpareOnNoSpace(t *testing.T) {
	trees := newFakeTrees(4096, 1)
	trees.cur.reserveSpaceErr = ErrNoSpace
	e := newTestEngine(t, 1, trees)

	tree, _, mutationID, err := e.getTree(KVInfo{KVSize: 10, KCount: 1, VCount: 1})
	require.NoError(t, err)
	require.Same(t, trees.cur, tree)
	require.Equal(t, uint64(1), mutationID)
}
