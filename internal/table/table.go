// Package table implements the Table described in spec.md §4.8:
// primary-key uniqueness on insert, existence checks on update/delete,
// and delegation to the buffer façade for the actual column I/O.
package table

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/zhukovaskychina/lstore-engine/internal/buffer"
	"github.com/zhukovaskychina/lstore-engine/internal/errs"
	"github.com/zhukovaskychina/lstore-engine/internal/index"
	"github.com/zhukovaskychina/lstore-engine/internal/merge"
	"github.com/zhukovaskychina/lstore-engine/internal/rid"
)

type mutationKind int

const (
	kindUpdate mutationKind = iota
	kindDelete
)

// undoEntry is one table-owned rollback record. Table keeps its own
// per-key undo stack rather than relying on the transaction to carry
// bufferpool-level state, so a transaction only ever needs to pass the
// key back to rollback_update/rollback_insert (spec.md §4.9).
type undoEntry struct {
	kind         mutationKind
	baseRID      rid.RID
	previousHead rid.RID
}

// Table owns one primary-key index, any number of secondary indexes,
// and the per-table mutex that serializes index mutation around the
// primary-key uniqueness and existence invariants (spec.md §4.8).
type Table struct {
	Name          string
	numDataCols   int
	primaryKeyCol int

	buf   *buffer.Buffer
	merge *merge.Manager

	mu        sync.Mutex
	pk        index.Index
	secondary map[int]index.Index

	undoMu sync.Mutex
	undo   map[int64][]undoEntry

	deletedMu   sync.Mutex
	deletedKeys []int64
}

// New creates a table backed by buf/mgr, with pk as its primary-key
// index over column primaryKeyCol.
func New(name string, numDataCols, primaryKeyCol int, pk index.Index, buf *buffer.Buffer, mgr *merge.Manager) *Table {
	return &Table{
		Name:          name,
		numDataCols:   numDataCols,
		primaryKeyCol: primaryKeyCol,
		buf:           buf,
		merge:         mgr,
		pk:            pk,
		secondary:     make(map[int]index.Index),
		undo:          make(map[int64][]undoEntry),
	}
}

// NumDataCols returns the table's column count.
func (t *Table) NumDataCols() int { return t.numDataCols }

// PrimaryKeyColumn returns the index of the primary-key column.
func (t *Table) PrimaryKeyColumn() int { return t.primaryKeyCol }

// PrimaryIndex returns the table's primary-key index.
func (t *Table) PrimaryIndex() index.Index { return t.pk }

// SecondaryIndex returns the index registered on col, if any.
func (t *Table) SecondaryIndex(col int) (index.Index, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx, ok := t.secondary[col]
	return idx, ok
}

// CreateIndex registers a secondary index on col.
func (t *Table) CreateIndex(col int, idx index.Index) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if col == t.primaryKeyCol {
		return errors.New("table: primary key column already has a unique index")
	}
	t.secondary[col] = idx
	return nil
}

// DropIndex removes a secondary index.
func (t *Table) DropIndex(col int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.secondary, col)
}

func (t *Table) indexFor(col int) (index.Index, error) {
	if col == t.primaryKeyCol {
		return t.pk, nil
	}
	if idx, ok := t.secondary[col]; ok {
		return idx, nil
	}
	return nil, errors.Errorf("table: no index on column %d", col)
}

// Insert enforces primary-key uniqueness, then writes the row and
// indexes it on every registered column.
func (t *Table) Insert(values []int64) (rid.RID, error) {
	if len(values) != t.numDataCols {
		return rid.RID{}, errors.Errorf("table: insert expects %d columns, got %d", t.numDataCols, len(values))
	}
	key := values[t.primaryKeyCol]

	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, _ := t.pk.Get(key); len(existing) > 0 {
		return rid.RID{}, errs.ErrDuplicateKey
	}

	r, err := t.buf.Insert(values)
	if err != nil {
		return rid.RID{}, err
	}
	_ = t.pk.Insert(key, r)
	for col, idx := range t.secondary {
		_ = idx.Insert(values[col], r)
	}
	return r, nil
}

// Update applies values (nil entries leave a column unchanged),
// maintaining secondary indexes for any column that actually changed
// and, if the primary-key column itself changed, the primary index.
func (t *Table) Update(key int64, values []*int64) error {
	if len(values) != t.numDataCols {
		return errors.Errorf("table: update expects %d columns, got %d", t.numDataCols, len(values))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	rids, _ := t.pk.Get(key)
	if len(rids) == 0 {
		return errs.ErrMissingKey
	}
	target := rids[0]

	oldVals, err := t.buf.Read(target)
	if err != nil {
		return err
	}
	prevHead, err := t.buf.CurrentHead(target)
	if err != nil {
		return err
	}

	if _, err := t.buf.Update(target, values); err != nil {
		return err
	}
	t.pushUndo(key, undoEntry{kind: kindUpdate, baseRID: target, previousHead: prevHead})

	if newKeyPtr := values[t.primaryKeyCol]; newKeyPtr != nil && *newKeyPtr != key {
		_ = t.pk.Update(key, *newKeyPtr, target)
	}
	for col, idx := range t.secondary {
		if v := values[col]; v != nil {
			_ = idx.Update(oldVals[col], *v, target)
		}
	}

	if t.merge != nil {
		t.merge.NotifyUpdate()
	}
	return nil
}

// Delete tombstones the record under key and frees key in the primary
// index so a later Insert can reuse it — point lookups never see the
// deleted key again, while the tombstoned row stays reachable through
// any RID a transaction already holds, for rollback. The key is also
// appended to the table's delete tracker (spec.md §4.8), see DeletedKeys.
func (t *Table) Delete(key int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rids, _ := t.pk.Get(key)
	if len(rids) == 0 {
		return errs.ErrMissingKey
	}
	target := rids[0]

	vals, err := t.buf.Read(target)
	if err != nil {
		return err
	}
	if err := t.buf.Delete(target); err != nil {
		return err
	}
	t.pushUndo(key, undoEntry{kind: kindDelete, baseRID: target})

	_ = t.pk.Delete(key, target)
	for col, idx := range t.secondary {
		_ = idx.Delete(vals[col], target)
	}
	t.deletedMu.Lock()
	t.deletedKeys = append(t.deletedKeys, key)
	t.deletedMu.Unlock()

	if t.merge != nil {
		t.merge.NotifyUpdate()
	}
	return nil
}

// DeletedKeys returns every primary-key value ever logically deleted
// from this table, for persisting into metadata.json's delete_tracker
// (spec.md §6).
func (t *Table) DeletedKeys() []int64 {
	t.deletedMu.Lock()
	defer t.deletedMu.Unlock()
	out := make([]int64, len(t.deletedKeys))
	copy(out, t.deletedKeys)
	return out
}

// SelectPoint returns the projected columns of every record whose
// searchCol equals key.
func (t *Table) SelectPoint(searchCol int, key int64, projection []int, relVersion int) ([][]int64, error) {
	idx, err := t.indexFor(searchCol)
	if err != nil {
		return nil, err
	}
	rids, err := idx.Get(key)
	if err != nil {
		return nil, err
	}
	return t.readAll(rids, projection, relVersion)
}

// SelectRange returns the projected columns of every record whose
// searchCol falls in [low, high]. byValue selects index.GetRangeVal
// instead of the default GetRangeKey traversal (spec.md §4.6).
func (t *Table) SelectRange(searchCol int, low, high int64, byValue bool, projection []int, relVersion int) ([][]int64, error) {
	idx, err := t.indexFor(searchCol)
	if err != nil {
		return nil, err
	}
	var rids []rid.RID
	if byValue {
		rids, err = idx.GetRangeVal(low, high)
	} else {
		rids, err = idx.GetRangeKey(low, high)
	}
	if err != nil {
		return nil, err
	}
	return t.readAll(rids, projection, relVersion)
}

// Sum totals sumCol across every record whose searchCol falls in
// [low, high], at the given relative version.
func (t *Table) Sum(searchCol int, low, high int64, sumCol int, relVersion int) (int64, error) {
	idx, err := t.indexFor(searchCol)
	if err != nil {
		return 0, err
	}
	rids, err := idx.GetRangeKey(low, high)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, r := range rids {
		vals, err := t.buf.ReadVersion(r, relVersion)
		if err != nil {
			if errors.Is(err, errs.ErrDeleted) {
				continue
			}
			return 0, err
		}
		total += vals[sumCol]
	}
	return total, nil
}

func (t *Table) readAll(rids []rid.RID, projection []int, relVersion int) ([][]int64, error) {
	out := make([][]int64, 0, len(rids))
	for _, r := range rids {
		full, err := t.buf.ReadVersion(r, relVersion)
		if err != nil {
			if errors.Is(err, errs.ErrDeleted) {
				continue
			}
			return nil, err
		}
		if projection == nil {
			out = append(out, full)
			continue
		}
		row := make([]int64, len(projection))
		for i, c := range projection {
			row[i] = full[c]
		}
		out = append(out, row)
	}
	return out, nil
}

func (t *Table) pushUndo(key int64, e undoEntry) {
	t.undoMu.Lock()
	t.undo[key] = append(t.undo[key], e)
	t.undoMu.Unlock()
}

// RollbackUpdate undoes the most recent logged update or delete against
// key (spec.md §4.9 abort: "iterate the update log in reverse calling
// table.rollback_update(key)").
func (t *Table) RollbackUpdate(key int64) error {
	t.undoMu.Lock()
	stack := t.undo[key]
	if len(stack) == 0 {
		t.undoMu.Unlock()
		return nil
	}
	last := stack[len(stack)-1]
	t.undo[key] = stack[:len(stack)-1]
	t.undoMu.Unlock()

	if last.kind == kindDelete {
		return t.buf.RestoreDelete(last.baseRID)
	}
	return t.buf.Restore(last.baseRID, last.previousHead)
}

// RollbackInsert undoes a logged insert against key: the row is
// tombstoned and dropped from every index (physical reclamation is out
// of scope per spec.md §3's Destroy semantics).
func (t *Table) RollbackInsert(key int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rids, _ := t.pk.Get(key)
	if len(rids) == 0 {
		return nil
	}
	target := rids[len(rids)-1]

	if vals, err := t.buf.Read(target); err == nil {
		for col, idx := range t.secondary {
			_ = idx.Delete(vals[col], target)
		}
	}
	_ = t.pk.Delete(key, target)
	return t.buf.Delete(target)
}
