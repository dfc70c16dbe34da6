package bufferpool

import (
	"github.com/shirou/gopsutil/mem"

	"github.com/zhukovaskychina/lstore-engine/logger"
)

// EvictionPolicy selects how the eviction queue picks a victim when the
// bufferpool is over capacity (spec.md §4.5, §6).
type EvictionPolicy int

const (
	// LRU evicts the least-recently-touched unpinned column page.
	LRU EvictionPolicy = iota
	// MRU evicts the most-recently-touched unpinned column page —
	// useful for merge's large sequential base scans, which would
	// otherwise thrash an LRU queue (DESIGN.md Open Question decisions).
	MRU
)

// Layout describes the fixed column arrangement of a table: four
// metadata columns (INDIR, RID, SCHEMA, TIME) followed by NumDataCols
// signed-integer data columns (spec.md §3).
type Layout struct {
	NumDataCols int
}

const (
	ColINDIR  = 0
	ColRID    = 1
	ColSCHEMA = 2
	ColTIME   = 3
	// ColDataBase is the index of the first data column.
	ColDataBase = 4
)

// M returns the total column count of a stripe.
func (l Layout) M() int { return ColDataBase + l.NumDataCols }

// DataCol returns the stripe column index for logical data column i.
func (l Layout) DataCol(i int) int { return ColDataBase + i }

// Config configures a Bufferpool.
type Config struct {
	PageSize   int
	RecordSize int
	Layout     Layout

	// MaxPages bounds the number of resident (pages_id, col) entries.
	// nil means unbounded (eviction disabled), per spec.md §4.5/§6.
	MaxPages *int

	EvictionPolicy EvictionPolicy
}

// AutoDetectMaxPages estimates a page cap from available system memory
// when the caller wants a bounded pool but hasn't sized it explicitly,
// mirroring other_examples' sqlexec buffer pool's memory-fraction
// auto-sizing (SPEC_FULL.md DOMAIN STACK), upgraded to a real OS
// reading via gopsutil instead of runtime.MemStats.
func AutoDetectMaxPages(pageSize int, fraction float64) int {
	const minPages = 256
	vm, err := mem.VirtualMemory()
	if err != nil || vm == nil || vm.Available == 0 {
		logger.Warnf("bufferpool: failed to read system memory, falling back to %d pages: %v", minPages, err)
		return minPages
	}
	budget := float64(vm.Available) * fraction
	pages := int(budget) / pageSize
	if pages < minPages {
		pages = minPages
	}
	return pages
}
