package database

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/zhukovaskychina/lstore-engine/internal/buffer"
	"github.com/zhukovaskychina/lstore-engine/internal/bufferpool"
	"github.com/zhukovaskychina/lstore-engine/internal/disk"
	"github.com/zhukovaskychina/lstore-engine/internal/errs"
	"github.com/zhukovaskychina/lstore-engine/internal/merge"
	"github.com/zhukovaskychina/lstore-engine/internal/rid"
	"github.com/zhukovaskychina/lstore-engine/internal/table"
	"github.com/zhukovaskychina/lstore-engine/internal/txn"
	"github.com/zhukovaskychina/lstore-engine/logger"
)

// openTable bundles one table's in-memory handle with the resources
// Close/DropTable need to tear it down cleanly.
type openTable struct {
	t     *table.Table
	pool  *bufferpool.Bufferpool
	disk  *disk.Disk
	merge *merge.Manager

	uidGen  *rid.Generator
	baseGen *rid.Generator
	tailGen *rid.Generator

	dir       string
	keyIndex  int
	indexCols []int
}

// Database is the top-level registry described in spec.md §6: every
// table lives in its own subdirectory (DESIGN.md Open Question: one
// database directory per spec.md's wording would make every table share
// one set of uid/pages_id generators and one pages/ directory, so each
// table gets its own pages/ and its own three generator files instead),
// sharing one engine-wide configuration,
// lock manager and transaction clock.
type Database struct {
	mu  sync.Mutex
	dir string

	engineCfg EngineConfig
	tables    map[string]*openTable

	cron *cron.Cron

	LockManager *txn.LockManager
	Clock       *txn.Clock
	RedoLog     *txn.RedoLog
}

// NewWorker returns a worker bound to this database's shared lock
// manager and redo log, ready to run transactions built against its
// tables.
func (db *Database) NewWorker(id int) *txn.Worker {
	return txn.NewWorker(id, db.LockManager, db.RedoLog)
}

// Open loads (or bootstraps) the database rooted at dir: engine.ini,
// metadata.json, and every persisted table's bufferpool/index state.
func Open(dir string) (*Database, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "database: creating %s", dir)
	}

	cfg, err := LoadEngineConfig(dir)
	if err != nil {
		return nil, err
	}
	meta, err := loadMetadataFile(dir)
	if err != nil {
		return nil, err
	}

	redoLog, err := txn.NewRedoLog(filepath.Join(dir, "wal"))
	if err != nil {
		return nil, err
	}

	db := &Database{
		dir:         dir,
		engineCfg:   cfg,
		tables:      make(map[string]*openTable),
		LockManager: txn.NewLockManager(),
		Clock:       &txn.Clock{},
		RedoLog:     redoLog,
	}

	for name, tm := range meta.Tables {
		ot, err := db.instantiateTable(name, tm.NumColumns, tm.KeyIndex, tm.IndexCols, true)
		if err != nil {
			return nil, errors.Wrapf(err, "database: opening table %s", name)
		}
		db.tables[name] = ot
	}

	db.cron = cron.New()
	if _, err := db.cron.AddFunc("@every 1m", db.housekeep); err != nil {
		return nil, errors.Wrap(err, "database: scheduling housekeeping")
	}
	db.cron.Start()

	return db, nil
}

func (db *Database) housekeep() {
	db.mu.Lock()
	tables := make([]*openTable, 0, len(db.tables))
	for _, ot := range db.tables {
		tables = append(tables, ot)
	}
	db.mu.Unlock()

	for _, ot := range tables {
		if err := ot.pool.FlushAll(); err != nil {
			logger.Warnf("database: flushing dirty pages for table dir %s: %v", ot.dir, err)
		}
		if err := ot.uidGen.Flush(); err != nil {
			logger.Warnf("database: flushing uid generator for table dir %s: %v", ot.dir, err)
		}
		if err := ot.baseGen.Flush(); err != nil {
			logger.Warnf("database: flushing base pages_id generator for table dir %s: %v", ot.dir, err)
		}
		if err := ot.tailGen.Flush(); err != nil {
			logger.Warnf("database: flushing tail pages_id generator for table dir %s: %v", ot.dir, err)
		}
	}
}

// instantiateTable wires one table's disk/bufferpool/buffer/merge/index
// stack and, when rebuild is true, repopulates its indexes by scanning
// base stripes already on disk (the path taken when re-opening an
// existing table; CreateTable passes false since there is nothing to
// scan yet).
func (db *Database) instantiateTable(name string, numColumns, keyIndex int, indexCols []int, rebuild bool) (*openTable, error) {
	tableDir := filepath.Join(db.dir, name)
	if err := os.MkdirAll(filepath.Join(tableDir, "pages"), 0o755); err != nil {
		return nil, errors.Wrapf(err, "database: creating table directory %s", tableDir)
	}

	d, err := disk.Open(tableDir, db.engineCfg.RecordSize)
	if err != nil {
		return nil, err
	}

	uidGen, err := rid.NewGenerator(filepath.Join(tableDir, "rid_gen.json"), 0, 1, 1000)
	if err != nil {
		return nil, err
	}
	baseGen, err := rid.NewGenerator(filepath.Join(tableDir, "base_pages_id_gen.json"), 0, 2, 100)
	if err != nil {
		return nil, err
	}
	tailGen, err := rid.NewGenerator(filepath.Join(tableDir, "tail_pages_id_gen.json"), 1, 2, 100)
	if err != nil {
		return nil, err
	}

	poolCfg := bufferpool.Config{
		PageSize:       db.engineCfg.PageSize,
		RecordSize:     db.engineCfg.RecordSize,
		Layout:         bufferpool.Layout{NumDataCols: numColumns},
		MaxPages:       db.engineCfg.MaxBufferPages,
		EvictionPolicy: db.engineCfg.EvictionPolicy,
	}
	pool := bufferpool.New(poolCfg, d, uidGen, baseGen, tailGen)
	buf := buffer.New(pool)

	mgr, err := merge.NewManager(pool, d, db.engineCfg.MergeUpdateThreshold, db.engineCfg.MergeBatchSize, db.engineCfg.IdleMergeSchedule)
	if err != nil {
		return nil, err
	}

	idxCfg, err := loadIndexConfig(filepath.Join(tableDir, "index.toml"))
	if err != nil {
		return nil, err
	}
	idxByCol := make(map[int]ColumnIndexConfig, len(idxCfg.Indexes))
	for _, c := range idxCfg.Indexes {
		idxByCol[c.Column] = c
	}

	pkCfg, ok := idxByCol[keyIndex]
	if !ok {
		pkCfg = ColumnIndexConfig{Column: keyIndex, Type: "hash"}
	}
	pk := buildIndex(pkCfg)

	tbl := table.New(name, numColumns, keyIndex, pk, buf, mgr)
	for _, col := range indexCols {
		if col == keyIndex {
			continue
		}
		c, ok := idxByCol[col]
		if !ok {
			c = ColumnIndexConfig{Column: col, Type: "hash"}
		}
		if err := tbl.CreateIndex(col, buildIndex(c)); err != nil {
			return nil, err
		}
	}

	if rebuild {
		if err := rebuildIndexes(d, tbl, numColumns, keyIndex, indexCols); err != nil {
			return nil, errors.Wrapf(err, "database: rebuilding indexes for table %s", name)
		}
	}

	if len(idxCfg.Indexes) == 0 {
		full := make([]ColumnIndexConfig, 0, 1+len(indexCols))
		full = append(full, pkCfg)
		for _, col := range indexCols {
			if col == keyIndex {
				continue
			}
			full = append(full, idxByCol[col])
		}
		if err := saveIndexConfig(filepath.Join(tableDir, "index.toml"), IndexConfig{Indexes: full}); err != nil {
			return nil, err
		}
	}

	return &openTable{
		t:         tbl,
		pool:      pool,
		disk:      d,
		merge:     mgr,
		uidGen:    uidGen,
		baseGen:   baseGen,
		tailGen:   tailGen,
		dir:       tableDir,
		keyIndex:  keyIndex,
		indexCols: indexCols,
	}, nil
}

// rebuildIndexes repopulates a freshly opened table's primary and
// secondary indexes by scanning every persisted base stripe. Base
// columns already reflect any merged tail history (merge writes
// SCHEMA=-1 rows with the latest values in place), so this recovers the
// merged state. Index values come from the base columns alone: a column
// changed by an update that no merge has folded into the base yet is
// indexed under its base value, not its latest one.
func rebuildIndexes(d *disk.Disk, tbl *table.Table, numColumns, keyIndex int, indexCols []int) error {
	ids, err := d.ListBaseStripeIDs(bufferpool.ColRID)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	dataCols := make([]int, numColumns)
	for i := range dataCols {
		dataCols[i] = bufferpool.ColDataBase + i
	}

	return d.ScanBaseRecords(ids, bufferpool.ColRID, dataCols, func(rec disk.BaseRecord) bool {
		if rec.RID.Tombstone {
			return true
		}
		key := rec.Columns[keyIndex]
		_ = tbl.PrimaryIndex().Insert(key, rec.RID)
		for _, col := range indexCols {
			if col == keyIndex {
				continue
			}
			if idx, ok := tbl.SecondaryIndex(col); ok {
				_ = idx.Insert(rec.Columns[col], rec.RID)
			}
		}
		return true
	})
}

// CreateTable registers a brand-new table, persisting its metadata and
// directory layout immediately.
func (db *Database) CreateTable(name string, numColumns, keyIndex int, indexCols []int) (*table.Table, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, exists := db.tables[name]; exists {
		return nil, errors.Errorf("database: table %s already exists", name)
	}

	ot, err := db.instantiateTable(name, numColumns, keyIndex, indexCols, false)
	if err != nil {
		return nil, err
	}
	db.tables[name] = ot

	if err := db.persistMetadataLocked(); err != nil {
		return nil, err
	}
	return ot.t, nil
}

// DropTable removes a table and every file backing it.
func (db *Database) DropTable(name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	ot, ok := db.tables[name]
	if !ok {
		return errs.ErrMissingKey
	}
	ot.merge.Stop()
	delete(db.tables, name)

	if err := db.persistMetadataLocked(); err != nil {
		return err
	}
	return os.RemoveAll(ot.dir)
}

// GetTable returns the named table, if open.
func (db *Database) GetTable(name string) (*table.Table, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	ot, ok := db.tables[name]
	if !ok {
		return nil, false
	}
	return ot.t, true
}

// Close stops all background activity and flushes every generator and
// metadata.json to disk.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.cron != nil {
		db.cron.Stop()
	}
	for _, ot := range db.tables {
		ot.merge.Stop()
		if err := ot.pool.FlushAll(); err != nil {
			return err
		}
		if err := ot.uidGen.Flush(); err != nil {
			return err
		}
		if err := ot.baseGen.Flush(); err != nil {
			return err
		}
		if err := ot.tailGen.Flush(); err != nil {
			return err
		}
	}
	return db.persistMetadataLocked()
}

// persistMetadataLocked rewrites metadata.json from the live table
// registry. Callers must hold db.mu.
func (db *Database) persistMetadataLocked() error {
	m := metadataFile{Tables: make(map[string]TableMeta, len(db.tables))}
	for name, ot := range db.tables {
		m.Tables[name] = TableMeta{
			NumColumns:    ot.t.NumDataCols(),
			KeyIndex:      ot.keyIndex,
			IndexCols:     ot.indexCols,
			DeleteTracker: ot.t.DeletedKeys(),
		}
	}
	return saveMetadataFile(db.dir, m)
}
