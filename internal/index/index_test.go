package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/lstore-engine/internal/rid"
)

func ridFor(n int64) rid.RID {
	return rid.RID{UID: uint64(n), IsBase: true}
}

func newIndexes() map[string]Index {
	return map[string]Index{
		"hash":  NewHashIndex(2),
		"btree": NewBPlusTreeIndex(4),
	}
}

func TestIndexInsertGetDelete(t *testing.T) {
	for name, idx := range newIndexes() {
		t.Run(name, func(t *testing.T) {
			r := ridFor(1)
			require.NoError(t, idx.Insert(10, r))

			got, err := idx.Get(10)
			require.NoError(t, err)
			assert.Equal(t, []rid.RID{r}, got)

			require.NoError(t, idx.Delete(10, r))
			got, err = idx.Get(10)
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestIndexMultiValueBucket(t *testing.T) {
	for name, idx := range newIndexes() {
		t.Run(name, func(t *testing.T) {
			r1, r2 := ridFor(1), ridFor(2)
			require.NoError(t, idx.Insert(5, r1))
			require.NoError(t, idx.Insert(5, r2))

			got, err := idx.Get(5)
			require.NoError(t, err)
			assert.ElementsMatch(t, []rid.RID{r1, r2}, got)
		})
	}
}

func TestIndexUpdateMovesKey(t *testing.T) {
	for name, idx := range newIndexes() {
		t.Run(name, func(t *testing.T) {
			r := ridFor(1)
			require.NoError(t, idx.Insert(1, r))
			require.NoError(t, idx.Update(1, 2, r))

			old, _ := idx.Get(1)
			assert.Empty(t, old)
			got, _ := idx.Get(2)
			assert.Equal(t, []rid.RID{r}, got)
		})
	}
}

func TestIndexGetRangeKeyAndVal(t *testing.T) {
	for name, idx := range newIndexes() {
		t.Run(name, func(t *testing.T) {
			for k := int64(0); k < 20; k++ {
				require.NoError(t, idx.Insert(k, ridFor(k)))
			}

			byKey, err := idx.GetRangeKey(5, 9)
			require.NoError(t, err)
			assert.Len(t, byKey, 5)

			byVal, err := idx.GetRangeVal(5, 9)
			require.NoError(t, err)
			assert.ElementsMatch(t, byKey, byVal)
		})
	}
}

func TestIndexClear(t *testing.T) {
	for name, idx := range newIndexes() {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, idx.Insert(1, ridFor(1)))
			idx.Clear()
			got, _ := idx.Get(1)
			assert.Empty(t, got)
		})
	}
}

func TestIndexScanAll(t *testing.T) {
	for name, idx := range newIndexes() {
		t.Run(name, func(t *testing.T) {
			for k := int64(0); k < 5; k++ {
				require.NoError(t, idx.Insert(k, ridFor(k)))
			}
			seen := make(map[int64]bool)
			idx.ScanAll(func(key int64, rids []rid.RID) {
				seen[key] = true
				assert.Len(t, rids, 1)
			})
			assert.Len(t, seen, 5)
		})
	}
}

func TestIndexBulkInsert(t *testing.T) {
	for name, idx := range newIndexes() {
		t.Run(name, func(t *testing.T) {
			pairs := []struct {
				v int64
				r rid.RID
			}{{1, ridFor(1)}, {2, ridFor(2)}, {3, ridFor(3)}}

			idx.BulkInsert(func(yield func(value int64, r rid.RID) bool) {
				for _, p := range pairs {
					if !yield(p.v, p.r) {
						return
					}
				}
			})

			got, err := idx.Get(2)
			require.NoError(t, err)
			assert.Equal(t, []rid.RID{ridFor(2)}, got)
		})
	}
}

func TestBPlusTreeSplitsAcrossLevels(t *testing.T) {
	tr := NewBPlusTreeIndex(4)
	for k := int64(0); k < 100; k++ {
		require.NoError(t, tr.Insert(k, ridFor(k)))
	}
	got, err := tr.GetRangeKey(0, 99)
	require.NoError(t, err)
	assert.Len(t, got, 100)
}

func TestHashIndexShardsIndependentKeys(t *testing.T) {
	h := NewHashIndex(3)
	for k := int64(0); k < 50; k++ {
		require.NoError(t, h.Insert(k, ridFor(k)))
	}
	got, err := h.GetRangeVal(0, 49)
	require.NoError(t, err)
	assert.Len(t, got, 50)
}
