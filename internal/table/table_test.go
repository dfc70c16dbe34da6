package table

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/lstore-engine/internal/buffer"
	"github.com/zhukovaskychina/lstore-engine/internal/bufferpool"
	"github.com/zhukovaskychina/lstore-engine/internal/disk"
	"github.com/zhukovaskychina/lstore-engine/internal/errs"
	"github.com/zhukovaskychina/lstore-engine/internal/index"
	"github.com/zhukovaskychina/lstore-engine/internal/rid"
)

func newTestTable(t *testing.T, numDataCols, pkCol int) *Table {
	t.Helper()
	dir := t.TempDir()
	d, err := disk.Open(dir, rid.EncodedSize)
	require.NoError(t, err)

	uidGen, err := rid.NewGenerator(filepath.Join(dir, "uid.json"), 0, 1, 16)
	require.NoError(t, err)
	baseGen, err := rid.NewGenerator(filepath.Join(dir, "base.json"), 0, 2, 4)
	require.NoError(t, err)
	tailGen, err := rid.NewGenerator(filepath.Join(dir, "tail.json"), 1, 2, 4)
	require.NoError(t, err)

	cfg := bufferpool.Config{
		PageSize:   rid.EncodedSize * 64,
		RecordSize: rid.EncodedSize,
		Layout:     bufferpool.Layout{NumDataCols: numDataCols},
	}
	pool := bufferpool.New(cfg, d, uidGen, baseGen, tailGen)
	buf := buffer.New(pool)
	pk := index.NewHashIndex(2)
	return New("t", numDataCols, pkCol, pk, buf, nil)
}

func TestInsertRejectsDuplicateKey(t *testing.T) {
	tbl := newTestTable(t, 2, 0)
	_, err := tbl.Insert([]int64{1, 100})
	require.NoError(t, err)

	_, err = tbl.Insert([]int64{1, 200})
	assert.ErrorIs(t, err, errs.ErrDuplicateKey)
}

func TestUpdateUnknownKeyErrors(t *testing.T) {
	tbl := newTestTable(t, 2, 0)
	err := tbl.Update(99, []*int64{nil, nil})
	assert.ErrorIs(t, err, errs.ErrMissingKey)
}

func TestUpdateAndSelectPoint(t *testing.T) {
	tbl := newTestTable(t, 2, 0)
	_, err := tbl.Insert([]int64{1, 100})
	require.NoError(t, err)

	newVal := int64(200)
	require.NoError(t, tbl.Update(1, []*int64{nil, &newVal}))

	rows, err := tbl.SelectPoint(0, 1, nil, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []int64{1, 200}, rows[0])
}

func TestDeleteFreesKeyForReinsertAndTracksIt(t *testing.T) {
	tbl := newTestTable(t, 2, 0)
	_, err := tbl.Insert([]int64{1, 100})
	require.NoError(t, err)
	require.NoError(t, tbl.Delete(1))

	rows, err := tbl.SelectPoint(0, 1, nil, 0)
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, err = tbl.Insert([]int64{1, 999})
	require.NoError(t, err)

	assert.Equal(t, []int64{1}, tbl.DeletedKeys())
}

func TestRollbackUpdateRestoresPreviousValue(t *testing.T) {
	tbl := newTestTable(t, 2, 0)
	_, err := tbl.Insert([]int64{1, 100})
	require.NoError(t, err)

	newVal := int64(200)
	require.NoError(t, tbl.Update(1, []*int64{nil, &newVal}))
	require.NoError(t, tbl.RollbackUpdate(1))

	rows, err := tbl.SelectPoint(0, 1, nil, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []int64{1, 100}, rows[0])
}

func TestRollbackInsertRemovesRow(t *testing.T) {
	tbl := newTestTable(t, 2, 0)
	_, err := tbl.Insert([]int64{1, 100})
	require.NoError(t, err)

	require.NoError(t, tbl.RollbackInsert(1))

	rows, err := tbl.SelectPoint(0, 1, nil, 0)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSecondaryIndexSelectRangeAndSum(t *testing.T) {
	tbl := newTestTable(t, 2, 0)
	require.NoError(t, tbl.CreateIndex(1, index.NewBPlusTreeIndex(4)))

	for k := int64(0); k < 10; k++ {
		_, err := tbl.Insert([]int64{k, k * 10})
		require.NoError(t, err)
	}

	rows, err := tbl.SelectRange(1, 20, 50, false, []int{0}, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 4) // values 20,30,40,50

	total, err := tbl.Sum(0, 0, 9, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(450), total)
}
