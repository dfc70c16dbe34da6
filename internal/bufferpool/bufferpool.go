// Package bufferpool implements the Bufferpool described in spec.md
// §4.5: the single coarse-mutex-protected engine that owns every
// resident stripe, allocates new base/tail stripes as they fill, walks
// indirection chains to answer versioned reads, and spills/rematerializes
// column pages to/from disk under an LRU or MRU eviction policy.
package bufferpool

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/zhukovaskychina/lstore-engine/internal/disk"
	"github.com/zhukovaskychina/lstore-engine/internal/errs"
	"github.com/zhukovaskychina/lstore-engine/internal/page"
	"github.com/zhukovaskychina/lstore-engine/internal/pagetable"
	"github.com/zhukovaskychina/lstore-engine/internal/rid"
)

// Bufferpool coordinates the page table, the disk store and the two
// pages_id generators (base and tail advance by 2, so parity encodes
// kind per spec.md §4.1, which also means base and tail pages_ids never
// collide and can share one pagetable.Table).
type Bufferpool struct {
	mu sync.Mutex

	cfg  Config
	pt   *pagetable.Table
	disk *disk.Disk

	uidGen      *rid.Generator
	basePageGen *rid.Generator
	tailPageGen *rid.Generator

	curBase *pagetable.Entry
	curTail *pagetable.Entry

	evict *evictionQueue
}

// New wires a Bufferpool over an already-open disk store and the three
// persistent generators (spec.md §6: rid_gen.json, base_pages_id_gen.json,
// tail_pages_id_gen.json).
func New(cfg Config, d *disk.Disk, uidGen, basePageGen, tailPageGen *rid.Generator) *Bufferpool {
	return &Bufferpool{
		cfg:         cfg,
		pt:          pagetable.New(),
		disk:        d,
		uidGen:      uidGen,
		basePageGen: basePageGen,
		tailPageGen: tailPageGen,
		evict:       newEvictionQueue(cfg.EvictionPolicy),
	}
}

// rowData is one decoded row: the four metadata columns plus the
// projected data columns, read at a single shared offset.
type rowData struct {
	Indir  rid.RID
	RID    rid.RID
	Schema int64
	Time   int64
	Data   []int64
}

// Insert writes a new base record and its first tail snapshot — a full
// copy of the inserted values (DESIGN.md Open Question: tail chains
// start with a copy made at insert time, not at first update). Returns
// the new record's base RID.
func (bp *Bufferpool) Insert(values []int64) (rid.RID, error) {
	if len(values) != bp.cfg.Layout.NumDataCols {
		return rid.RID{}, errors.Errorf("bufferpool: insert expects %d columns, got %d", bp.cfg.Layout.NumDataCols, len(values))
	}

	bp.mu.Lock()
	defer bp.mu.Unlock()

	baseEntry, err := bp.openStripe(true)
	if err != nil {
		return rid.RID{}, err
	}
	tailEntry, err := bp.openStripe(false)
	if err != nil {
		return rid.RID{}, err
	}

	baseUID, err := bp.uidGen.Next()
	if err != nil {
		return rid.RID{}, err
	}
	tailUID, err := bp.uidGen.Next()
	if err != nil {
		return rid.RID{}, err
	}

	baseOffset := baseEntry.Pages[ColRID].BytesUsed()
	baseRID := rid.RID{UID: baseUID, PagesID: baseEntry.PagesID, Offset: uint32(baseOffset), IsBase: true}

	tailOffset := tailEntry.Pages[ColRID].BytesUsed()
	tailRID := rid.RID{UID: tailUID, PagesID: tailEntry.PagesID, Offset: uint32(tailOffset), IsBase: false}

	now := time.Now().Unix()

	if err := bp.writeRow(baseEntry, tailRID, baseRID, 0, now, values); err != nil {
		return rid.RID{}, err
	}
	if err := bp.writeRow(tailEntry, rid.RID{}, tailRID, 0, now, values); err != nil {
		return rid.RID{}, err
	}

	return baseRID, nil
}

// writeRow appends one full row to every column of entry at its shared
// offset. Callers must already have verified entry has room (openStripe
// only ever hands back a non-full stripe, and each Insert/Update call
// writes at most one row per entry before releasing the lock).
func (bp *Bufferpool) writeRow(entry *pagetable.Entry, indir, self rid.RID, schema, ts int64, data []int64) error {
	if _, err := entry.Pages[ColINDIR].WriteRID(indir); err != nil {
		return err
	}
	if _, err := entry.Pages[ColRID].WriteRID(self); err != nil {
		return err
	}
	if _, err := entry.Pages[ColSCHEMA].Write(schema); err != nil {
		return err
	}
	if _, err := entry.Pages[ColTIME].Write(ts); err != nil {
		return err
	}
	for i, v := range data {
		if _, err := entry.Pages[bp.cfg.Layout.DataCol(i)].Write(v); err != nil {
			return err
		}
	}
	for col := range entry.Pages {
		bp.touch(pageKey{entry.PagesID, col})
	}
	bp.evictIfNeeded()
	return nil
}

// Update appends a new cumulative tail snapshot on top of the current
// head of the indirection chain. values[i] == nil leaves column i
// unchanged from the latest visible version (spec.md §4.5 update
// semantics). Returns the new tail RID, which becomes the chain's head.
func (bp *Bufferpool) Update(baseRID rid.RID, values []*int64) (rid.RID, error) {
	if len(values) != bp.cfg.Layout.NumDataCols {
		return rid.RID{}, errors.Errorf("bufferpool: update expects %d columns, got %d", bp.cfg.Layout.NumDataCols, len(values))
	}

	bp.mu.Lock()
	defer bp.mu.Unlock()

	base, err := bp.readRowLocked(baseRID.IsBase, baseRID.PagesID, baseRID.Offset)
	if err != nil {
		return rid.RID{}, err
	}
	if base.RID.Tombstone {
		return rid.RID{}, errs.ErrDeleted
	}

	head := base.Indir
	var latest []int64
	if base.Schema == -1 || head.Zero() {
		latest = base.Data
	} else {
		headRow, err := bp.readRowLocked(head.IsBase, head.PagesID, head.Offset)
		if err != nil {
			return rid.RID{}, err
		}
		latest = headRow.Data
	}

	merged := make([]int64, len(latest))
	copy(merged, latest)
	var schema int64
	for i, v := range values {
		if v != nil {
			merged[i] = *v
			schema |= 1 << uint(i)
		}
	}

	tailEntry, err := bp.openStripe(false)
	if err != nil {
		return rid.RID{}, err
	}
	tailUID, err := bp.uidGen.Next()
	if err != nil {
		return rid.RID{}, err
	}
	tailOffset := tailEntry.Pages[ColRID].BytesUsed()
	newTail := rid.RID{UID: tailUID, PagesID: tailEntry.PagesID, Offset: uint32(tailOffset), IsBase: false}

	if err := bp.writeRow(tailEntry, head, newTail, schema, time.Now().Unix(), merged); err != nil {
		return rid.RID{}, err
	}

	baseEntry, ok := bp.pt.Get(baseRID.PagesID)
	if !ok {
		return rid.RID{}, errs.ErrNotFound
	}
	if err := baseEntry.Pages[ColINDIR].UpdateRID(newTail, int(baseRID.Offset)); err != nil {
		return rid.RID{}, err
	}
	bp.touch(pageKey{baseRID.PagesID, ColINDIR})

	// A base still marked -1 by a merge stops being authoritative once a
	// newer tail exists: record the updated columns' bits instead.
	baseSchema := base.Schema
	if baseSchema == -1 {
		baseSchema = 0
	}
	schemaPage, err := bp.fetchPageLocked(true, baseRID.PagesID, ColSCHEMA)
	if err != nil {
		return rid.RID{}, err
	}
	if err := schemaPage.Update(baseSchema|schema, int(baseRID.Offset)); err != nil {
		return rid.RID{}, err
	}

	return newTail, nil
}

// Delete tombstones a base record, leaving its column pages in place.
// Subsequent Read/Update calls against this RID fail with
// errs.ErrDeleted (spec.md §4.5).
func (bp *Bufferpool) Delete(baseRID rid.RID) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	entry, ok := bp.pt.Get(baseRID.PagesID)
	if !ok {
		if _, err := bp.fetchPageLocked(true, baseRID.PagesID, ColRID); err != nil {
			return err
		}
		entry, _ = bp.pt.Get(baseRID.PagesID)
	}
	cur, err := entry.Pages[ColRID].ReadRID(int(baseRID.Offset))
	if err != nil {
		return err
	}
	if cur.Tombstone {
		return errs.ErrDeleted
	}
	return bp.setTombstoneLocked(entry, baseRID.Offset, cur, true)
}

// setTombstoneLocked overwrites the tombstone bit of the RID stored at
// offset, leaving every other field as read. Caller holds bp.mu.
func (bp *Bufferpool) setTombstoneLocked(entry *pagetable.Entry, offset uint32, cur rid.RID, tombstone bool) error {
	cur.Tombstone = tombstone
	if err := entry.Pages[ColRID].UpdateRID(cur, int(offset)); err != nil {
		return err
	}
	bp.touch(pageKey{entry.PagesID, ColRID})
	return nil
}

// RestoreDelete clears a base row's tombstone bit, used by transaction
// rollback to undo an uncommitted delete.
func (bp *Bufferpool) RestoreDelete(baseRID rid.RID) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	entry, ok := bp.pt.Get(baseRID.PagesID)
	if !ok {
		if _, err := bp.fetchPageLocked(true, baseRID.PagesID, ColRID); err != nil {
			return err
		}
		entry, _ = bp.pt.Get(baseRID.PagesID)
	}
	cur, err := entry.Pages[ColRID].ReadRID(int(baseRID.Offset))
	if err != nil {
		return err
	}
	return bp.setTombstoneLocked(entry, baseRID.Offset, cur, false)
}

// Read resolves the column values visible relVersion steps behind the
// latest committed version: 0 is the newest, -1 the previous snapshot,
// and so on (spec.md §4.5). Walking past the oldest tail stops at the
// oldest available snapshot rather than erroring, matching the engine's
// documented end-to-end behavior for over-negative relative versions.
func (bp *Bufferpool) Read(baseRID rid.RID, relVersion int) ([]int64, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	base, err := bp.readRowLocked(true, baseRID.PagesID, baseRID.Offset)
	if err != nil {
		return nil, err
	}
	if base.RID.Tombstone {
		return nil, errs.ErrDeleted
	}

	// A merged base has already absorbed every tail update; SCHEMA is
	// set to -1 to mark it and the indirection chain below it is stale.
	if relVersion == 0 && base.Schema == -1 {
		return base.Data, nil
	}

	hops := 1 - relVersion
	cur := base.Indir
	latest := base.Data
	for h := 0; h < hops; h++ {
		if cur.Zero() {
			break
		}
		row, err := bp.readRowLocked(cur.IsBase, cur.PagesID, cur.Offset)
		if err != nil {
			return nil, err
		}
		latest = row.Data
		cur = row.Indir
	}
	return latest, nil
}

// CurrentHead returns the base row's current INDIR value — the RID of
// the head of its tail chain — without walking any further. Table uses
// this to remember the pre-update head for rollback before calling
// Update.
func (bp *Bufferpool) CurrentHead(baseRID rid.RID) (rid.RID, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	base, err := bp.readRowLocked(true, baseRID.PagesID, baseRID.Offset)
	if err != nil {
		return rid.RID{}, err
	}
	return base.Indir, nil
}

// RestoreUpdate removes the current head-of-chain tail and rewinds the
// base's INDIR to the one before it, used by transaction rollback to
// undo an uncommitted update (spec.md §4.9 rollback log replay). It
// does not reclaim the abandoned tail row's storage; merge will not
// revisit it once it is unreachable from the chain.
func (bp *Bufferpool) RestoreUpdate(baseRID rid.RID, previousHead rid.RID) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	entry, ok := bp.pt.Get(baseRID.PagesID)
	if !ok {
		if _, err := bp.fetchPageLocked(true, baseRID.PagesID, ColINDIR); err != nil {
			return err
		}
		entry, _ = bp.pt.Get(baseRID.PagesID)
	}
	if err := entry.Pages[ColINDIR].UpdateRID(previousHead, int(baseRID.Offset)); err != nil {
		return err
	}
	bp.touch(pageKey{baseRID.PagesID, ColINDIR})
	return nil
}

func (bp *Bufferpool) readRowLocked(isBase bool, pagesID uint64, offset uint32) (rowData, error) {
	off := int(offset)

	indirPage, err := bp.fetchPageLocked(isBase, pagesID, ColINDIR)
	if err != nil {
		return rowData{}, err
	}
	ridPage, err := bp.fetchPageLocked(isBase, pagesID, ColRID)
	if err != nil {
		return rowData{}, err
	}
	schemaPage, err := bp.fetchPageLocked(isBase, pagesID, ColSCHEMA)
	if err != nil {
		return rowData{}, err
	}
	timePage, err := bp.fetchPageLocked(isBase, pagesID, ColTIME)
	if err != nil {
		return rowData{}, err
	}

	indir, err := indirPage.ReadRID(off)
	if err != nil {
		return rowData{}, err
	}
	self, err := ridPage.ReadRID(off)
	if err != nil {
		return rowData{}, err
	}
	schema, err := schemaPage.Read(off)
	if err != nil {
		return rowData{}, err
	}
	ts, err := timePage.Read(off)
	if err != nil {
		return rowData{}, err
	}

	data := make([]int64, bp.cfg.Layout.NumDataCols)
	for i := range data {
		dp, err := bp.fetchPageLocked(isBase, pagesID, bp.cfg.Layout.DataCol(i))
		if err != nil {
			return rowData{}, err
		}
		v, err := dp.Read(off)
		if err != nil {
			return rowData{}, err
		}
		data[i] = v
	}

	return rowData{Indir: indir, RID: self, Schema: schema, Time: ts, Data: data}, nil
}

// fetchPageLocked returns the resident column page for (pagesID, col),
// rematerializing it from disk into a (possibly new) page table entry
// if it isn't already resident. Caller must hold bp.mu.
func (bp *Bufferpool) fetchPageLocked(isBase bool, pagesID uint64, col int) (*page.Page, error) {
	entry, ok := bp.pt.Get(pagesID)
	if !ok {
		entry = &pagetable.Entry{PagesID: pagesID, Pages: make([]*page.Page, bp.cfg.Layout.M())}
		bp.pt.Put(entry)
	}
	if entry.Pages[col] == nil {
		p, err := bp.disk.GetPage(isBase, pagesID, col)
		if err != nil {
			return nil, err
		}
		entry.Pages[col] = p
	}
	bp.touch(pageKey{pagesID, col})
	bp.evictIfNeeded()
	return entry.Pages[col], nil
}

// openStripe returns the currently open (not-yet-full) stripe of the
// requested kind, allocating a fresh one first if none is open or the
// open one is full.
func (bp *Bufferpool) openStripe(isBase bool) (*pagetable.Entry, error) {
	cur := bp.curTail
	if isBase {
		cur = bp.curBase
	}
	if cur != nil && !cur.IsFull() {
		return cur, nil
	}

	gen := bp.tailPageGen
	if isBase {
		gen = bp.basePageGen
	}
	id, err := gen.Next()
	if err != nil {
		return nil, err
	}

	pages := make([]*page.Page, bp.cfg.Layout.M())
	for i := range pages {
		pages[i] = page.New(bp.cfg.PageSize, bp.cfg.RecordSize)
	}
	entry := &pagetable.Entry{PagesID: id, Pages: pages}
	bp.pt.Put(entry)

	if isBase {
		bp.curBase = entry
	} else {
		bp.curTail = entry
	}
	return entry, nil
}

// MergeRow is one base row's fully-overlaid state, produced for the
// merge manager's staging pass (spec.md §4.7 step 3). Indir and Time
// are copied through unchanged: the indirection chain is left intact
// so versioned reads below rel_version 0 keep working against the
// pre-merge tails after the merge lands.
type MergeRow struct {
	Indir rid.RID
	RID   rid.RID
	Time  int64
	Data  []int64
}

// ResidentBaseStripes returns the pages_ids of every base stripe
// currently resident in memory, excluding whichever one is still open
// for writes (spec.md §4.7 step 1).
func (bp *Bufferpool) ResidentBaseStripes() []uint64 {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	var openID uint64
	hasOpen := bp.curBase != nil
	if hasOpen {
		openID = bp.curBase.PagesID
	}

	ids := bp.pt.ResidentIDs()
	out := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if id%2 != 0 {
			continue // tail stripe
		}
		if hasOpen && id == openID {
			continue
		}
		out = append(out, id)
	}
	return out
}

// StripeRowCount reports how many rows are occupied in base stripe
// pagesID.
func (bp *Bufferpool) StripeRowCount(pagesID uint64) (int, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	p, err := bp.fetchPageLocked(true, pagesID, ColRID)
	if err != nil {
		return 0, err
	}
	return p.BytesUsed() / bp.cfg.RecordSize, nil
}

// SnapshotBaseRow reads one base row, overlaying the latest tail's
// columns onto it exactly as Read(rel_version=0) would, for the merge
// manager to write into a staged replacement stripe.
func (bp *Bufferpool) SnapshotBaseRow(pagesID uint64, offset uint32) (MergeRow, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	base, err := bp.readRowLocked(true, pagesID, offset)
	if err != nil {
		return MergeRow{}, err
	}
	data := base.Data
	if base.Schema != -1 && !base.Indir.Zero() {
		head, err := bp.readRowLocked(base.Indir.IsBase, base.Indir.PagesID, base.Indir.Offset)
		if err != nil {
			return MergeRow{}, err
		}
		data = head.Data
	}
	return MergeRow{Indir: base.Indir, RID: base.RID, Time: base.Time, Data: data}, nil
}

// FinalizeMerge promotes a merge's staged base stripes over the live
// ones and drops their in-memory residency so the next access
// rematerializes the merged version from disk (spec.md §4.7 step 5).
// Must be called after every staged page for pagesIDs has already been
// written via disk.PutStagedPage.
func (bp *Bufferpool) FinalizeMerge(stagingDir string, pagesIDs []uint64) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if err := bp.disk.PromoteStaged(stagingDir, true, pagesIDs, bp.cfg.Layout.M()); err != nil {
		return err
	}
	for _, id := range pagesIDs {
		bp.pt.Delete(id)
	}
	return nil
}

// FlushAll writes every dirty resident column page to disk, without
// dropping any of them from memory. Database.Close calls this so a
// clean shutdown leaves nothing only in memory, independent of whether
// Config.MaxPages-driven eviction ever ran.
func (bp *Bufferpool) FlushAll() error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	for _, entry := range bp.pt.All() {
		isBase := entry.PagesID%2 == 0
		for col, p := range entry.Pages {
			if p == nil || !p.Dirty() {
				continue
			}
			if err := bp.disk.PutPage(p, isBase, entry.PagesID, col); err != nil {
				return err
			}
			p.ClearDirty()
		}
	}
	return nil
}

// Layout exposes the bufferpool's column layout for callers outside the
// package (the merge manager builds staged pages using it directly).
func (bp *Bufferpool) Layout() Layout { return bp.cfg.Layout }

// RecordSize exposes the configured record width.
func (bp *Bufferpool) RecordSize() int { return bp.cfg.RecordSize }

// PageSize exposes the configured page size.
func (bp *Bufferpool) PageSize() int { return bp.cfg.PageSize }

func (bp *Bufferpool) touch(k pageKey) {
	bp.evict.Touch(k)
}

// evictIfNeeded spills the eviction policy's unpinned victim (the least
// recently touched page under LRU, the most recently touched under MRU)
// to disk and drops it from the page table whenever the resident set exceeds
// Config.MaxPages. A nil MaxPages disables eviction entirely.
func (bp *Bufferpool) evictIfNeeded() {
	if bp.cfg.MaxPages == nil {
		return
	}
	for bp.evict.Len() > *bp.cfg.MaxPages {
		k, ok := bp.evict.Victim(func(k pageKey) bool {
			entry, ok := bp.pt.Get(k.pagesID)
			if !ok || entry.Pages[k.col] == nil {
				return false
			}
			return entry.Pages[k.col].Pinned()
		})
		if !ok {
			return
		}
		entry, ok := bp.pt.Get(k.pagesID)
		if !ok || entry.Pages[k.col] == nil {
			continue
		}
		p := entry.Pages[k.col]
		if p.Dirty() {
			isBase := k.pagesID%2 == 0
			if err := bp.disk.PutPage(p, isBase, k.pagesID, k.col); err != nil {
				// Put the key back so a later pass retries; losing an
				// update silently would violate durability.
				bp.touch(k)
				continue
			}
			p.ClearDirty()
		}
		bp.pt.DeleteColumn(k.pagesID, k.col)
	}
}
