package merge

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/lstore-engine/internal/bufferpool"
	"github.com/zhukovaskychina/lstore-engine/internal/disk"
	"github.com/zhukovaskychina/lstore-engine/internal/rid"
)

func newTestPool(t *testing.T) (*bufferpool.Bufferpool, *disk.Disk) {
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
		// exactly two rows per stripe so a third insert rolls a new one,
		// leaving the first resident and eligible for merge
		PageSize:   rid.EncodedSize * 3,
		RecordSize: rid.EncodedSize,
		Layout:     bufferpool.Layout{NumDataCols: 1},
	}
	return bufferpool.New(cfg, d, uidGen, baseGen, tailGen), d
}

func TestRunOnceMergesClosedStripe(t *testing.T) {
	pool, d := newTestPool(t)

	mgr, err := NewManager(pool, d, 0, 4, "")
	require.NoError(t, err)
	defer mgr.Stop()

	r1, err := pool.Insert([]int64{1})
	require.NoError(t, err)
	_, err = pool.Insert([]int64{2})
	require.NoError(t, err)
	// a third insert opens a new stripe, leaving r1's stripe closed
	_, err = pool.Insert([]int64{3})
	require.NoError(t, err)

	updated := int64(99)
	_, err = pool.Update(r1, []*int64{&updated})
	require.NoError(t, err)

	closed := pool.ResidentBaseStripes()
	require.Len(t, closed, 1)
	require.Equal(t, r1.PagesID, closed[0])

	require.NoError(t, mgr.RunOnce())

	// the merged stripe is no longer resident in memory
	assert.Empty(t, pool.ResidentBaseStripes())

	vals, err := pool.Read(r1, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{99}, vals)
}

func TestNotifyUpdateTriggersOnThreshold(t *testing.T) {
	pool, d := newTestPool(t)
	mgr, err := NewManager(pool, d, 2, 4, "")
	require.NoError(t, err)
	defer mgr.Stop()

	r1, err := pool.Insert([]int64{1})
	require.NoError(t, err)
	_, err = pool.Insert([]int64{2})
	require.NoError(t, err)

	mgr.NotifyUpdate()
	mgr.NotifyUpdate()

	// the background pass is asynchronous; run it synchronously too so
	// the assertion below doesn't race the triggered goroutine
	require.NoError(t, mgr.RunOnce())

	_, err = pool.Read(r1, 0)
	assert.NoError(t, err)
}
