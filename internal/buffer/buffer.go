// Package buffer is the thin façade the table layer uses instead of
// talking to the bufferpool directly (spec.md §4.5's "Buffer façade"):
// it owns no state of its own, just narrows Bufferpool's interface down
// to the operations a table needs (insert, update, delete and read, plus
// the rollback helpers) and supplies read's default relative version.
package buffer

import (
	"github.com/zhukovaskychina/lstore-engine/internal/bufferpool"
	"github.com/zhukovaskychina/lstore-engine/internal/rid"
)

// Buffer adapts a Bufferpool for table-level use.
type Buffer struct {
	pool *bufferpool.Bufferpool
}

// New wraps a Bufferpool.
func New(pool *bufferpool.Bufferpool) *Buffer {
	return &Buffer{pool: pool}
}

// Insert stores a new record and returns its base RID.
func (b *Buffer) Insert(values []int64) (rid.RID, error) {
	return b.pool.Insert(values)
}

// Update appends a new version of record baseRID. A nil entry in
// values leaves that column at its current value.
func (b *Buffer) Update(baseRID rid.RID, values []*int64) (rid.RID, error) {
	return b.pool.Update(baseRID, values)
}

// Delete tombstones a record.
func (b *Buffer) Delete(baseRID rid.RID) error {
	return b.pool.Delete(baseRID)
}

// Read returns the latest committed column values for baseRID.
func (b *Buffer) Read(baseRID rid.RID) ([]int64, error) {
	return b.pool.Read(baseRID, 0)
}

// ReadVersion returns the column values relVersion steps behind the
// latest committed version (relVersion <= 0).
func (b *Buffer) ReadVersion(baseRID rid.RID, relVersion int) ([]int64, error) {
	return b.pool.Read(baseRID, relVersion)
}

// Restore undoes one update, used by transaction rollback.
func (b *Buffer) Restore(baseRID, previousHead rid.RID) error {
	return b.pool.RestoreUpdate(baseRID, previousHead)
}

// RestoreDelete undoes one delete, used by transaction rollback.
func (b *Buffer) RestoreDelete(baseRID rid.RID) error {
	return b.pool.RestoreDelete(baseRID)
}

// CurrentHead returns the base row's current chain head, used to
// remember the pre-update state before calling Update.
func (b *Buffer) CurrentHead(baseRID rid.RID) (rid.RID, error) {
	return b.pool.CurrentHead(baseRID)
}
