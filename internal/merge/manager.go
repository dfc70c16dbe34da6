// Package merge implements the background merge manager of spec.md
// §4.7: consolidating tail updates into freshly written base stripes
// and atomically promoting them over the live files.
package merge

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/zhukovaskychina/lstore-engine/internal/bufferpool"
	"github.com/zhukovaskychina/lstore-engine/internal/disk"
	"github.com/zhukovaskychina/lstore-engine/internal/page"
	"github.com/zhukovaskychina/lstore-engine/logger"
)

// Manager triggers and executes merge passes for one table. It is
// triggered either by a table's update counter crossing Threshold or by
// an idle-time cron sweep, matching the original engine's background
// merge daemon (SPEC_FULL.md SUPPLEMENTED FEATURES).
type Manager struct {
	pool *bufferpool.Bufferpool
	disk *disk.Disk

	threshold   int32
	batchSize   int
	updateCount int32 // atomic

	runMu sync.Mutex // at most one merge pass in flight at a time
	cron  *cron.Cron
}

// NewManager creates a merge manager. idleSchedule is a standard cron
// expression (e.g. "@every 30s"); an empty string disables the idle
// sweep and leaves only threshold-triggered merges.
func NewManager(pool *bufferpool.Bufferpool, d *disk.Disk, threshold, batchSize int, idleSchedule string) (*Manager, error) {
	m := &Manager{
		pool:      pool,
		disk:      d,
		threshold: int32(threshold),
		batchSize: batchSize,
	}
	if batchSize <= 0 {
		m.batchSize = 1
	}

	if idleSchedule != "" {
		c := cron.New()
		if _, err := c.AddFunc(idleSchedule, func() {
			if err := m.RunOnce(); err != nil {
				logger.Errorf("merge: idle sweep failed: %v", err)
			}
		}); err != nil {
			return nil, errors.Wrap(err, "merge: scheduling idle sweep")
		}
		c.Start()
		m.cron = c
	}
	return m, nil
}

// Stop cancels the idle-sweep scheduler, if one was configured.
func (m *Manager) Stop() {
	if m.cron != nil {
		m.cron.Stop()
	}
}

// NotifyUpdate increments the table's update counter and kicks off a
// merge pass in the background once it crosses Threshold (spec.md
// §4.7: "Triggered when the table's update counter passes a configured
// threshold").
func (m *Manager) NotifyUpdate() {
	if m.threshold <= 0 {
		return
	}
	if atomic.AddInt32(&m.updateCount, 1) >= m.threshold {
		go func() {
			if err := m.RunOnce(); err != nil {
				logger.Errorf("merge: triggered pass failed: %v", err)
			}
		}()
	}
}

// RunOnce executes one merge pass over every eligible resident base
// stripe, in batches of batchSize, and resets the update counter on
// success.
func (m *Manager) RunOnce() error {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	ids := m.pool.ResidentBaseStripes()
	if len(ids) == 0 {
		return nil
	}

	for start := 0; start < len(ids); start += m.batchSize {
		end := start + m.batchSize
		if end > len(ids) {
			end = len(ids)
		}
		if err := m.mergeBatch(ids[start:end]); err != nil {
			return errors.Wrap(err, "merge: batch failed")
		}
	}

	atomic.StoreInt32(&m.updateCount, 0)
	return nil
}

// mergeBatch implements spec.md §4.7 steps 2-5 for one batch of base
// stripes: overlay each row's latest tail values, write the result to
// a fresh staging directory, then finalize atomically.
func (m *Manager) mergeBatch(ids []uint64) error {
	stagingDir, err := m.disk.StagingDir(uuid.NewString())
	if err != nil {
		return err
	}

	layout := m.pool.Layout()
	numCols := layout.M()
	recordSize := m.pool.RecordSize()

	for _, id := range ids {
		rows, err := m.pool.StripeRowCount(id)
		if err != nil {
			return err
		}

		pages := make([]*page.Page, numCols)
		for c := range pages {
			pages[c] = page.New(m.pool.PageSize(), recordSize)
		}

		for row := 0; row < rows; row++ {
			snap, err := m.pool.SnapshotBaseRow(id, uint32(row*recordSize))
			if err != nil {
				return err
			}
			if _, err := pages[bufferpool.ColINDIR].WriteRID(snap.Indir); err != nil {
				return err
			}
			if _, err := pages[bufferpool.ColRID].WriteRID(snap.RID); err != nil {
				return err
			}
			if _, err := pages[bufferpool.ColSCHEMA].Write(-1); err != nil {
				return err
			}
			if _, err := pages[bufferpool.ColTIME].Write(snap.Time); err != nil {
				return err
			}
			for i, v := range snap.Data {
				if _, err := pages[layout.DataCol(i)].Write(v); err != nil {
					return err
				}
			}
		}

		for c, p := range pages {
			if err := disk.PutStagedPage(stagingDir, p, true, id, c); err != nil {
				return err
			}
		}
	}

	return m.pool.FinalizeMerge(stagingDir, ids)
}
