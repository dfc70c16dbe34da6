package index

import (
	"sort"
	"sync"

	"github.com/zhukovaskychina/lstore-engine/internal/rid"
)

// defaultFanout mirrors the teacher's B+tree manager default branching
// factor before a table overrides it via per-index configuration.
const defaultFanout = 64

// noNode is the arena sentinel for "no node" — used for a leaf's
// forward link and a node's parent link.
const noNode = -1

type bucket struct {
	rids []rid.RID
}

// bptNode is one arena-owned node, stored by value in BPlusTreeIndex.nodes
// and addressed everywhere else by its integer slice index rather than a
// pointer (spec.md §9 "replacing pointer-rich B+-tree" design note). Leaf
// nodes hold buckets and link forward to their right sibling via an arena
// index (spec.md §4.6: "leaves form a forward-linked list"); internal
// nodes hold child arena indices instead. next/parent use noNode (-1) in
// place of a nil pointer.
type bptNode struct {
	leaf bool

	keys []int64

	values   []bucket // leaf only, parallel to keys
	next     int      // leaf only: arena index of right sibling, or noNode
	children []int    // internal only: arena indices, len == len(keys)+1
	parent   int      // arena index of parent node, or noNode for the root
}

// BPlusTreeIndex is an ordered, fixed-fanout B+tree over int64 keys.
// Nodes live in one arena slice addressed by index; deletions remove the
// key/value pair without rebalancing the tree (spec.md §4.6, §9 —
// permitted but not required).
type BPlusTreeIndex struct {
	mu     sync.RWMutex
	nodes  []bptNode // arena: every live node occupies a fixed slot for its lifetime
	root   int       // arena index of the current root
	fanout int
}

// NewBPlusTreeIndex creates an empty tree with the given fanout (0
// selects defaultFanout).
func NewBPlusTreeIndex(fanout int) *BPlusTreeIndex {
	if fanout <= 2 {
		fanout = defaultFanout
	}
	t := &BPlusTreeIndex{fanout: fanout}
	t.root = t.alloc(bptNode{leaf: true, next: noNode, parent: noNode})
	return t
}

// alloc appends n to the arena and returns its index. Any *bptNode or
// cached slice header obtained before a call to alloc must be re-fetched
// from t.nodes afterward, since append may reallocate the backing array;
// arena indices themselves stay valid across reallocation.
func (t *BPlusTreeIndex) alloc(n bptNode) int {
	t.nodes = append(t.nodes, n)
	return len(t.nodes) - 1
}

func searchKeys(keys []int64, key int64) int {
	return sort.Search(len(keys), func(i int) bool { return keys[i] >= key })
}

func (t *BPlusTreeIndex) findLeaf(key int64) int {
	n := t.root
	for !t.nodes[n].leaf {
		node := t.nodes[n]
		i := sort.Search(len(node.keys), func(i int) bool { return key < node.keys[i] })
		n = node.children[i]
	}
	return n
}

// Get returns the bucket stored under key.
func (t *BPlusTreeIndex) Get(key int64) ([]rid.RID, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	leaf := t.nodes[t.findLeaf(key)]
	i := searchKeys(leaf.keys, key)
	if i < len(leaf.keys) && leaf.keys[i] == key {
		out := make([]rid.RID, len(leaf.values[i].rids))
		copy(out, leaf.values[i].rids)
		return out, nil
	}
	return nil, nil
}

func (t *BPlusTreeIndex) rangeScan(low, high int64) []rid.RID {
	var out []rid.RID
	leafIdx := t.findLeaf(low)
	i := searchKeys(t.nodes[leafIdx].keys, low)
	for leafIdx != noNode {
		node := t.nodes[leafIdx]
		for ; i < len(node.keys); i++ {
			if node.keys[i] > high {
				return out
			}
			out = append(out, node.values[i].rids...)
		}
		leafIdx = node.next
		i = 0
	}
	return out
}

// GetRangeKey returns RIDs for every key in [low, high] via leaf
// traversal.
func (t *BPlusTreeIndex) GetRangeKey(low, high int64) ([]rid.RID, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rangeScan(low, high), nil
}

// GetRangeVal is identical to GetRangeKey: the tree is already ordered
// by key, so there is no separate unordered scan to fall back to
// (spec.md §4.6).
func (t *BPlusTreeIndex) GetRangeVal(low, high int64) ([]rid.RID, error) {
	return t.GetRangeKey(low, high)
}

// Insert adds (key, r), splitting nodes on overflow and growing the
// tree by one level when the root splits.
func (t *BPlusTreeIndex) Insert(key int64, r rid.RID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	oldRoot := t.root
	promoted, right, split := t.insertRec(oldRoot, key, r)
	if split {
		newRoot := t.alloc(bptNode{
			leaf:     false,
			keys:     []int64{promoted},
			children: []int{oldRoot, right},
			parent:   noNode,
		})
		t.nodes[oldRoot].parent = newRoot
		t.nodes[right].parent = newRoot
		t.root = newRoot
	}
	return nil
}

// insertRec inserts (key, r) under the subtree rooted at arena index
// nIdx, returning the key promoted to the parent and the arena index of
// the new right sibling when nIdx's node overflows and splits.
func (t *BPlusTreeIndex) insertRec(nIdx int, key int64, r rid.RID) (promoted int64, rightIdx int, split bool) {
	if t.nodes[nIdx].leaf {
		i := searchKeys(t.nodes[nIdx].keys, key)
		if i < len(t.nodes[nIdx].keys) && t.nodes[nIdx].keys[i] == key {
			t.nodes[nIdx].values[i].rids = append(t.nodes[nIdx].values[i].rids, r)
		} else {
			node := &t.nodes[nIdx]
			node.keys = append(node.keys, 0)
			copy(node.keys[i+1:], node.keys[i:])
			node.keys[i] = key
			node.values = append(node.values, bucket{})
			copy(node.values[i+1:], node.values[i:])
			node.values[i] = bucket{rids: []rid.RID{r}}
		}
		if len(t.nodes[nIdx].keys) <= t.fanout {
			return 0, noNode, false
		}

		mid := len(t.nodes[nIdx].keys) / 2
		siblingKeys := append([]int64(nil), t.nodes[nIdx].keys[mid:]...)
		siblingVals := append([]bucket(nil), t.nodes[nIdx].values[mid:]...)
		siblingNext := t.nodes[nIdx].next
		parent := t.nodes[nIdx].parent
		rIdx := t.alloc(bptNode{leaf: true, keys: siblingKeys, values: siblingVals, next: siblingNext, parent: parent})

		t.nodes[nIdx].keys = t.nodes[nIdx].keys[:mid]
		t.nodes[nIdx].values = t.nodes[nIdx].values[:mid]
		t.nodes[nIdx].next = rIdx
		return t.nodes[rIdx].keys[0], rIdx, true
	}

	node := t.nodes[nIdx]
	i := sort.Search(len(node.keys), func(i int) bool { return key < node.keys[i] })
	childIdx := node.children[i]
	childPromoted, childRight, childSplit := t.insertRec(childIdx, key, r)
	if !childSplit {
		return 0, noNode, false
	}

	n := &t.nodes[nIdx]
	n.keys = append(n.keys, 0)
	copy(n.keys[i+1:], n.keys[i:])
	n.keys[i] = childPromoted
	n.children = append(n.children, 0)
	copy(n.children[i+2:], n.children[i+1:])
	n.children[i+1] = childRight
	t.nodes[childRight].parent = nIdx

	if len(t.nodes[nIdx].keys) <= t.fanout {
		return 0, noNode, false
	}

	mid := len(t.nodes[nIdx].keys) / 2
	promotedKey := t.nodes[nIdx].keys[mid]
	siblingKeys := append([]int64(nil), t.nodes[nIdx].keys[mid+1:]...)
	siblingChildren := append([]int(nil), t.nodes[nIdx].children[mid+1:]...)
	parent := t.nodes[nIdx].parent
	rIdx := t.alloc(bptNode{leaf: false, keys: siblingKeys, children: siblingChildren, parent: parent})
	for _, c := range siblingChildren {
		t.nodes[c].parent = rIdx
	}

	t.nodes[nIdx].keys = t.nodes[nIdx].keys[:mid]
	t.nodes[nIdx].children = t.nodes[nIdx].children[:mid+1]
	return promotedKey, rIdx, true
}

// Update is delete(old, rid) followed by insert(new, rid).
func (t *BPlusTreeIndex) Update(oldKey, newKey int64, r rid.RID) error {
	if err := t.Delete(oldKey, r); err != nil {
		return err
	}
	return t.Insert(newKey, r)
}

// Delete removes r from key's bucket. The key/value slot is dropped
// once its bucket empties; no rebalancing is performed (spec.md §9).
func (t *BPlusTreeIndex) Delete(key int64, r rid.RID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	leafIdx := t.findLeaf(key)
	i := searchKeys(t.nodes[leafIdx].keys, key)
	if i >= len(t.nodes[leafIdx].keys) || t.nodes[leafIdx].keys[i] != key {
		return nil
	}
	node := &t.nodes[leafIdx]
	node.values[i].rids = removeRID(node.values[i].rids, r)
	if len(node.values[i].rids) == 0 {
		node.keys = append(node.keys[:i], node.keys[i+1:]...)
		node.values = append(node.values[:i], node.values[i+1:]...)
	}
	return nil
}

// Clear discards the tree, replacing the arena with a fresh empty root
// leaf.
func (t *BPlusTreeIndex) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nodes = nil
	t.root = t.alloc(bptNode{leaf: true, next: noNode, parent: noNode})
}

// ScanAll visits every (key, rids) pair in ascending key order by
// walking the leaf list from the leftmost leaf.
func (t *BPlusTreeIndex) ScanAll(fn func(key int64, rids []rid.RID)) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := t.root
	for !t.nodes[n].leaf {
		n = t.nodes[n].children[0]
	}
	for n != noNode {
		node := t.nodes[n]
		for i, k := range node.keys {
			fn(k, node.values[i].rids)
		}
		n = node.next
	}
}

// BulkInsert rebuilds the tree from a stream of (value, rid) pairs.
func (t *BPlusTreeIndex) BulkInsert(pairs func(yield func(value int64, r rid.RID) bool)) {
	pairs(func(value int64, r rid.RID) bool {
		_ = t.Insert(value, r)
		return true
	})
}
