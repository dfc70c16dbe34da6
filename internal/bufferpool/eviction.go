package bufferpool

import "container/list"

// pageKey identifies a single column page within a stripe.
type pageKey struct {
	pagesID uint64
	col     int
}

// evictionQueue orders pageKeys by recency of access (spec.md §4.5):
// on overflow the policy's victim is evicted, written through to disk
// if dirty, and dropped from the page table. Pinned pages are exempt —
// Victim skips them itself, using the isPinned check the caller passes.
type evictionQueue struct {
	policy   EvictionPolicy
	list     *list.List
	elements map[pageKey]*list.Element
}

func newEvictionQueue(policy EvictionPolicy) *evictionQueue {
	return &evictionQueue{
		policy:   policy,
		list:     list.New(),
		elements: make(map[pageKey]*list.Element),
	}
}

// Touch moves a key to the "most recently used" end, inserting it if
// new.
func (q *evictionQueue) Touch(k pageKey) {
	if elem, ok := q.elements[k]; ok {
		q.list.MoveToBack(elem)
		return
	}
	q.elements[k] = q.list.PushBack(k)
}

// Remove drops a key from tracking. The bufferpool does not call it:
// FinalizeMerge leaves the keys of the stripes it drops in the queue.
func (q *evictionQueue) Remove(k pageKey) {
	if elem, ok := q.elements[k]; ok {
		q.list.Remove(elem)
		delete(q.elements, k)
	}
}

// Len reports how many keys are tracked.
func (q *evictionQueue) Len() int { return q.list.Len() }

// Victim returns (and removes) the next eviction candidate for which
// isPinned returns false, or ok=false if every tracked key is pinned.
func (q *evictionQueue) Victim(isPinned func(pageKey) bool) (pageKey, bool) {
	var elem *list.Element
	switch q.policy {
	case MRU:
		elem = q.list.Back()
	default: // LRU
		elem = q.list.Front()
	}

	for elem != nil {
		k := elem.Value.(pageKey)
		if !isPinned(k) {
			q.list.Remove(elem)
			delete(q.elements, k)
			return k, true
		}
		if q.policy == MRU {
			elem = elem.Prev()
		} else {
			elem = elem.Next()
		}
	}
	return pageKey{}, false
}
