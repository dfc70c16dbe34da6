package buffer

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/lstore-engine/internal/bufferpool"
	"github.com/zhukovaskychina/lstore-engine/internal/disk"
	"github.com/zhukovaskychina/lstore-engine/internal/rid"
)

func newTestBuffer(t *testing.T) *Buffer {
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

	cfg := bufferpool.Config{
		PageSize:   rid.EncodedSize * 16,
		RecordSize: rid.EncodedSize,
		Layout:     bufferpool.Layout{NumDataCols: 2},
	}
	pool := bufferpool.New(cfg, d, uidGen, baseGen, tailGen)
	return New(pool)
}

func TestBufferDelegatesToBufferpool(t *testing.T) {
	buf := newTestBuffer(t)

	r, err := buf.Insert([]int64{1, 2})
	require.NoError(t, err)

	prevHead, err := buf.CurrentHead(r)
	require.NoError(t, err)

	three := int64(3)
	_, err = buf.Update(r, []*int64{nil, &three})
	require.NoError(t, err)

	vals, err := buf.Read(r)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, vals)

	require.NoError(t, buf.Restore(r, prevHead))
	vals, err = buf.Read(r)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, vals)

	require.NoError(t, buf.Delete(r))
	_, err = buf.Read(r)
	assert.Error(t, err)

	require.NoError(t, buf.RestoreDelete(r))
	vals, err = buf.Read(r)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, vals)
}
