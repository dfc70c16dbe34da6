package disk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/lstore-engine/internal/errs"
	"github.com/zhukovaskychina/lstore-engine/internal/page"
	"github.com/zhukovaskychina/lstore-engine/internal/rid"
)

func TestPutGetPageRoundTrip(t *testing.T) {
	d, err := Open(t.TempDir(), 8)
	require.NoError(t, err)

	p := page.New(page.DefaultSize, 8)
	p.Write(42)
	p.Write(-1)

	require.NoError(t, d.PutPage(p, true, 3, 1))

	got, err := d.GetPage(true, 3, 1)
	require.NoError(t, err)
	v0, _ := got.Read(0)
	v1, _ := got.Read(8)
	assert.Equal(t, int64(42), v0)
	assert.Equal(t, int64(-1), v1)
}

func TestGetPageMissingReturnsNotFound(t *testing.T) {
	d, err := Open(t.TempDir(), 8)
	require.NoError(t, err)

	_, err = d.GetPage(true, 99, 0)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestStagingAndPromote(t *testing.T) {
	d, err := Open(t.TempDir(), 8)
	require.NoError(t, err)

	original := page.New(page.DefaultSize, 8)
	original.Write(1)
	require.NoError(t, d.PutPage(original, true, 1, 0))

	stagingDir, err := d.StagingDir("batch-1")
	require.NoError(t, err)

	staged := page.New(page.DefaultSize, 8)
	staged.Write(999)
	require.NoError(t, PutStagedPage(stagingDir, staged, true, 1, 0))

	require.NoError(t, d.PromoteStaged(stagingDir, true, []uint64{1}, 1))

	got, err := d.GetPage(true, 1, 0)
	require.NoError(t, err)
	v, _ := got.Read(0)
	assert.Equal(t, int64(999), v)
}

func TestListBaseStripeIDs(t *testing.T) {
	d, err := Open(t.TempDir(), 8)
	require.NoError(t, err)

	for _, id := range []uint64{0, 2, 4} {
		p := page.New(page.DefaultSize, 8)
		p.Write(int64(id))
		require.NoError(t, d.PutPage(p, true, id, 1))
	}

	ids, err := d.ListBaseStripeIDs(1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint64{0, 2, 4}, ids)
}

func TestScanBaseRecords(t *testing.T) {
	d, err := Open(t.TempDir(), rid.EncodedSize)
	require.NoError(t, err)

	ridPage := page.New(page.DefaultSize, rid.EncodedSize)
	dataPage := page.New(page.DefaultSize, rid.EncodedSize)

	r1 := rid.RID{UID: 1, PagesID: 0, Offset: 0, IsBase: true}
	r2 := rid.RID{UID: 2, PagesID: 0, Offset: 1, IsBase: true}
	ridPage.WriteRID(r1)
	ridPage.WriteRID(r2)
	dataPage.Write(100)
	dataPage.Write(200)

	require.NoError(t, d.PutPage(ridPage, true, 0, 1))
	require.NoError(t, d.PutPage(dataPage, true, 0, 4))

	var got []BaseRecord
	err = d.ScanBaseRecords([]uint64{0}, 1, []int{4}, func(rec BaseRecord) bool {
		got = append(got, rec)
		return true
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(100), got[0].Columns[0])
	assert.Equal(t, int64(200), got[1].Columns[0])
}
