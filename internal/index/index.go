// Package index implements the pluggable index layer of spec.md §4.6:
// one capability interface shared by a bucketed HashIndex and an
// ordered BPlusTreeIndex, so Table can swap implementations per column
// without changing call sites.
package index

import "github.com/zhukovaskychina/lstore-engine/internal/rid"

// Index is the capability set every index variant implements
// (spec.md §4.6): get, get_range_key, get_range_val, insert, update,
// delete, clear, scan_all.
type Index interface {
	// Get returns every RID inserted under key, oldest first.
	Get(key int64) ([]rid.RID, error)

	// GetRangeKey returns RIDs for every key in [low, high], ordered by
	// key. This is the index's native ordering traversal: a B+tree
	// walks its leaf list directly; a hash index iterates the integer
	// key range and probes its bucket map one key at a time.
	GetRangeKey(low, high int64) ([]rid.RID, error)

	// GetRangeVal returns RIDs whose key falls in [low, high] without
	// relying on the index's native ordering — for HashIndex this is
	// an O(n) scan of every bucket (spec.md §4.6), for BPlusTreeIndex
	// it is identical to GetRangeKey since the tree is already ordered.
	GetRangeVal(low, high int64) ([]rid.RID, error)

	// Insert adds one (key, rid) pair.
	Insert(key int64, r rid.RID) error

	// Update is delete(old, rid) followed by insert(new, rid)
	// (spec.md §4.6 update contract).
	Update(oldKey, newKey int64, r rid.RID) error

	// Delete removes one (key, rid) pair. Deleting the last RID under a
	// key removes the key entirely.
	Delete(key int64, r rid.RID) error

	// Clear discards every entry, used as the first step of a rebuild.
	Clear()

	// ScanAll visits every (key, rids) pair in the index. Order is
	// unspecified for HashIndex, ascending for BPlusTreeIndex.
	ScanAll(fn func(key int64, rids []rid.RID))

	// BulkInsert rebuilds the index from a stream of (value, rid) pairs
	// produced by a base-record scan (spec.md §4.6 rebuild contract).
	// Callers call Clear first.
	BulkInsert(pairs func(yield func(value int64, r rid.RID) bool))
}

// removeRID returns rids with the first occurrence of target removed.
func removeRID(rids []rid.RID, target rid.RID) []rid.RID {
	for i, r := range rids {
		if r == target {
			return append(rids[:i], rids[i+1:]...)
		}
	}
	return rids
}
