package bufferpool

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/lstore-engine/internal/disk"
	"github.com/zhukovaskychina/lstore-engine/internal/errs"
	"github.com/zhukovaskychina/lstore-engine/internal/rid"
)

func newTestPool(t *testing.T, numDataCols int) *Bufferpool {
	t.Helper()
	dir := t.TempDir()
	d, err := disk.Open(dir, rid.EncodedSize)
	require.NoError(t, err)

	uidGen, err := rid.NewGenerator(filepath.Join(dir, "uid.json"), 0, 1, 8)
	require.NoError(t, err)
	baseGen, err := rid.NewGenerator(filepath.Join(dir, "base.json"), 0, 2, 4)
	require.NoError(t, err)
	tailGen, err := rid.NewGenerator(filepath.Join(dir, "tail.json"), 1, 2, 4)
	require.NoError(t, err)

	cfg := Config{
		PageSize:   rid.EncodedSize * 16,
		RecordSize: rid.EncodedSize,
		Layout:     Layout{NumDataCols: numDataCols},
	}
	return New(cfg, d, uidGen, baseGen, tailGen)
}

func TestInsertAndRead(t *testing.T) {
	bp := newTestPool(t, 3)

	r, err := bp.Insert([]int64{1, 2, 3})
	require.NoError(t, err)
	assert.True(t, r.IsBase)

	vals, err := bp.Read(r, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, vals)
}

func TestUpdateAppliesPartialOverrides(t *testing.T) {
	bp := newTestPool(t, 3)
	r, err := bp.Insert([]int64{1, 2, 3})
	require.NoError(t, err)

	newVal := int64(99)
	_, err = bp.Update(r, []*int64{nil, &newVal, nil})
	require.NoError(t, err)

	vals, err := bp.Read(r, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 99, 3}, vals)
}

func TestReadRelativeVersionWalksChain(t *testing.T) {
	bp := newTestPool(t, 1)
	r, err := bp.Insert([]int64{1})
	require.NoError(t, err)

	for v := int64(2); v <= 4; v++ {
		vv := v
		_, err := bp.Update(r, []*int64{&vv})
		require.NoError(t, err)
	}

	latest, err := bp.Read(r, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{4}, latest)

	prev, err := bp.Read(r, -1)
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, prev)

	oldest, err := bp.Read(r, -3)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, oldest)
}

func TestDeleteTombstonesAndBlocksFurtherOps(t *testing.T) {
	bp := newTestPool(t, 1)
	r, err := bp.Insert([]int64{1})
	require.NoError(t, err)

	require.NoError(t, bp.Delete(r))

	_, err = bp.Read(r, 0)
	assert.ErrorIs(t, err, errs.ErrDeleted)

	err = bp.Delete(r)
	assert.ErrorIs(t, err, errs.ErrDeleted)
}

func TestRestoreDeleteUndoesTombstone(t *testing.T) {
	bp := newTestPool(t, 1)
	r, err := bp.Insert([]int64{1})
	require.NoError(t, err)
	require.NoError(t, bp.Delete(r))

	require.NoError(t, bp.RestoreDelete(r))
	vals, err := bp.Read(r, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, vals)
}

func TestRestoreUpdateRewindsHead(t *testing.T) {
	bp := newTestPool(t, 1)
	r, err := bp.Insert([]int64{1})
	require.NoError(t, err)

	prevHead, err := bp.CurrentHead(r)
	require.NoError(t, err)

	two := int64(2)
	_, err = bp.Update(r, []*int64{&two})
	require.NoError(t, err)

	require.NoError(t, bp.RestoreUpdate(r, prevHead))
	vals, err := bp.Read(r, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, vals)
}

func TestSnapshotBaseRowOverlaysLatestTail(t *testing.T) {
	bp := newTestPool(t, 1)
	r, err := bp.Insert([]int64{1})
	require.NoError(t, err)
	two := int64(2)
	_, err = bp.Update(r, []*int64{&two})
	require.NoError(t, err)

	row, err := bp.SnapshotBaseRow(r.PagesID, r.Offset)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, row.Data)
	assert.False(t, row.Indir.Zero())
}

func TestFlushAllPersistsDirtyPagesWithoutEvicting(t *testing.T) {
	bp := newTestPool(t, 1)
	r, err := bp.Insert([]int64{1})
	require.NoError(t, err)

	require.NoError(t, bp.FlushAll())

	// still resident after flush, and still readable without hitting disk
	ids := bp.pt.ResidentIDs()
	assert.NotEmpty(t, ids)

	vals, err := bp.Read(r, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, vals)
}

func TestResidentBaseStripesExcludesOpenStripe(t *testing.T) {
	bp := newTestPool(t, 1)
	_, err := bp.Insert([]int64{1})
	require.NoError(t, err)

	ids := bp.ResidentBaseStripes()
	assert.Empty(t, ids)
}
