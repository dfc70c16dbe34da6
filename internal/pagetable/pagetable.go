// Package pagetable implements the PageTable and PageEntry described in
// spec.md §4.3: the in-memory materialization layer owning groups of M
// row-aligned pages ("stripes") keyed by pages_id.
package pagetable

import (
	"errors"
	"sync"

	"github.com/zhukovaskychina/lstore-engine/internal/page"
	"github.com/zhukovaskychina/lstore-engine/internal/rid"
)

// Entry is a stripe: M pages sharing one pages_id and one write offset
// (spec.md invariant 5 — all M pages share the same bytes-used offset).
type Entry struct {
	PagesID uint64
	Pages   []*page.Page // length M: one per data column + metadata columns
}

// IsFull reports whether the stripe's shared row slot is exhausted.
func (e *Entry) IsFull() bool {
	for _, p := range e.Pages {
		if p.Full() {
			return true
		}
	}
	return false
}

// IsEmpty reports whether no rows have been written to the stripe yet.
func (e *Entry) IsEmpty() bool {
	return e.Pages[0].BytesUsed() == 0
}

// WriteVals writes one value per column, advancing the shared offset by
// one record. values[i] corresponds to e.Pages[i]. A column that holds a
// RID rather than a plain int64 is written with WriteRIDCol instead.
func (e *Entry) WriteVals(values []int64) (offset int, err error) {
	if len(values) != len(e.Pages) {
		return 0, errNColumns
	}
	for i, v := range values {
		off, werr := e.Pages[i].Write(v)
		if werr != nil {
			return 0, werr
		}
		offset = off
	}
	return offset, nil
}

// WriteRIDCol writes a RID into column col at the stripe's current
// shared offset. Callers writing a full row call this for RID/INDIR
// columns and WriteVals (or repeated Page.Write) for the rest, all
// before advancing past that row.
func (e *Entry) WriteRIDCol(col int, r rid.RID) (int, error) {
	return e.Pages[col].WriteRID(r)
}

// Table owns stripes keyed by pages_id (spec.md §4.3: "map pages_id →
// PageEntry").
type Table struct {
	mu      sync.Mutex
	entries map[uint64]*Entry
}

var errNColumns = errors.New("pagetable: value count does not match column count")

// New creates an empty page table.
func New() *Table {
	return &Table{entries: make(map[uint64]*Entry)}
}

// Get returns the stripe for pagesID, if resident.
func (t *Table) Get(pagesID uint64) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[pagesID]
	return e, ok
}

// Put installs a stripe (used after allocation or after a disk-backed
// rematerialization).
func (t *Table) Put(e *Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[e.PagesID] = e
}

// Delete drops a stripe from memory (used by eviction and by merge
// finalization, which then expects reads to fall through to disk).
func (t *Table) Delete(pagesID uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, pagesID)
}

// DeleteColumn drops a single column page from a resident stripe,
// keeping its siblings — per-column eviction (spec.md §4.3).
func (t *Table) DeleteColumn(pagesID uint64, col int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[pagesID]
	if !ok {
		return
	}
	e.Pages[col] = nil
	for _, p := range e.Pages {
		if p != nil {
			return
		}
	}
	delete(t.entries, pagesID)
}

// ResidentIDs returns the pages_ids currently resident, in no
// particular order — used by merge to snapshot the batch of base
// stripes to consolidate (spec.md §4.7 step 1).
func (t *Table) ResidentIDs() []uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]uint64, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	return ids
}

// All returns every resident stripe, in no particular order — used to
// flush every dirty column page to disk on a clean shutdown.
func (t *Table) All() []*Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	return out
}
