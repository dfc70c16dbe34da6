package index

import (
	"encoding/binary"
	"sync"

	"github.com/OneOfOne/xxhash"

	"github.com/zhukovaskychina/lstore-engine/internal/rid"
)

// HashIndex is a sharded hash map from int64 key to a bucket of RIDs
// (spec.md §4.6): unique for a primary-key index (bucket length 1),
// multi-valued for a secondary index. Keys are distributed across
// shards by xxhash of their big-endian encoding so point lookups only
// ever contend with the one shard they land in.
type HashIndex struct {
	shards []*hashShard
	mask   uint64
}

type hashShard struct {
	mu sync.RWMutex
	m  map[int64][]rid.RID
}

// NewHashIndex creates a hash index with 2^shardBits shards.
func NewHashIndex(shardBits uint) *HashIndex {
	if shardBits == 0 {
		shardBits = 4
	}
	n := uint64(1) << shardBits
	shards := make([]*hashShard, n)
	for i := range shards {
		shards[i] = &hashShard{m: make(map[int64][]rid.RID)}
	}
	return &HashIndex{shards: shards, mask: n - 1}
}

func (h *HashIndex) shardFor(key int64) *hashShard {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(key))
	sum := xxhash.Checksum64(buf[:])
	return h.shards[sum&h.mask]
}

// Get returns the bucket of RIDs stored under key.
func (h *HashIndex) Get(key int64) ([]rid.RID, error) {
	s := h.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]rid.RID, len(s.m[key]))
	copy(out, s.m[key])
	return out, nil
}

// GetRangeKey iterates every integer key in [low, high] and probes its
// shard directly, which is cheap because the key domain is the range
// itself rather than the whole index.
func (h *HashIndex) GetRangeKey(low, high int64) ([]rid.RID, error) {
	var out []rid.RID
	for k := low; k <= high; k++ {
		rids, _ := h.Get(k)
		out = append(out, rids...)
	}
	return out, nil
}

// GetRangeVal scans every shard in full (spec.md §4.6: "range by value
// is O(n)" for a hash index, since entries aren't ordered by key).
func (h *HashIndex) GetRangeVal(low, high int64) ([]rid.RID, error) {
	var out []rid.RID
	for _, s := range h.shards {
		s.mu.RLock()
		for k, rids := range s.m {
			if k >= low && k <= high {
				out = append(out, rids...)
			}
		}
		s.mu.RUnlock()
	}
	return out, nil
}

// Insert adds r to key's bucket.
func (h *HashIndex) Insert(key int64, r rid.RID) error {
	s := h.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = append(s.m[key], r)
	return nil
}

// Update is delete(old, rid) followed by insert(new, rid).
func (h *HashIndex) Update(oldKey, newKey int64, r rid.RID) error {
	if err := h.Delete(oldKey, r); err != nil {
		return err
	}
	return h.Insert(newKey, r)
}

// Delete removes r from key's bucket, dropping the key if it empties.
func (h *HashIndex) Delete(key int64, r rid.RID) error {
	s := h.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	rids := removeRID(s.m[key], r)
	if len(rids) == 0 {
		delete(s.m, key)
	} else {
		s.m[key] = rids
	}
	return nil
}

// Clear discards every entry.
func (h *HashIndex) Clear() {
	for _, s := range h.shards {
		s.mu.Lock()
		s.m = make(map[int64][]rid.RID)
		s.mu.Unlock()
	}
}

// ScanAll visits every (key, rids) pair, in no particular order.
func (h *HashIndex) ScanAll(fn func(key int64, rids []rid.RID)) {
	for _, s := range h.shards {
		s.mu.RLock()
		for k, rids := range s.m {
			fn(k, rids)
		}
		s.mu.RUnlock()
	}
}

// BulkInsert rebuilds the index from a stream of (value, rid) pairs.
func (h *HashIndex) BulkInsert(pairs func(yield func(value int64, r rid.RID) bool)) {
	pairs(func(value int64, r rid.RID) bool {
		_ = h.Insert(value, r)
		return true
	})
}
