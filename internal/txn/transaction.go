package txn

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/zhukovaskychina/lstore-engine/internal/errs"
	"github.com/zhukovaskychina/lstore-engine/internal/table"
	"github.com/zhukovaskychina/lstore-engine/logger"
)

// logEntry records which table and key a transaction mutated, in the
// order the mutation happened, so abort can undo in reverse.
type logEntry struct {
	table *table.Table
	key   int64
}

// redoEntry is logEntry plus its operation kind, kept in actual
// execution order for RedoLog.Persist (logEntry alone is split across
// insertLog/updateLog for abort's ordering needs and loses that detail).
type redoEntry struct {
	op    OpKind
	table *table.Table
	key   int64
}

// query is one accumulated operation: a closure that performs the work
// and, on success, appends to the transaction's insert or update log.
type query func() (bool, error)

// Transaction is an ordered list of operations accumulated by
// AddInsert/AddUpdate/AddDelete/AddQuery, executed in order by a
// Worker (spec.md §4.9).
type Transaction struct {
	ID        uint64
	Timestamp int64

	queries   []query
	lockKeys  []ResourceKey
	insertLog []logEntry
	updateLog []logEntry
	redoLog   []redoEntry
}

// New creates a transaction with the given id and timestamp. Timestamps
// must be strictly monotone across all transactions (use a shared
// Clock).
func New(id uint64, timestamp int64) *Transaction {
	return &Transaction{ID: id, Timestamp: timestamp}
}

// AddInsert queues an insert and declares its lock key up front so the
// worker can acquire every lock before running any query (two-phase
// locking, spec.md §4.9).
func (tx *Transaction) AddInsert(t *table.Table, values []int64) {
	key := values[t.PrimaryKeyColumn()]
	tx.lockKeys = append(tx.lockKeys, ResourceKey{Table: t.Name, Key: key})
	tx.queries = append(tx.queries, func() (bool, error) {
		if _, err := t.Insert(values); err != nil {
			return false, err
		}
		tx.insertLog = append(tx.insertLog, logEntry{table: t, key: key})
		tx.redoLog = append(tx.redoLog, redoEntry{op: OpInsert, table: t, key: key})
		return true, nil
	})
}

// AddUpdate queues an update against key.
func (tx *Transaction) AddUpdate(t *table.Table, key int64, values []*int64) {
	tx.lockKeys = append(tx.lockKeys, ResourceKey{Table: t.Name, Key: key})
	tx.queries = append(tx.queries, func() (bool, error) {
		if err := t.Update(key, values); err != nil {
			return false, err
		}
		tx.updateLog = append(tx.updateLog, logEntry{table: t, key: key})
		tx.redoLog = append(tx.redoLog, redoEntry{op: OpUpdate, table: t, key: key})
		return true, nil
	})
}

// AddDelete queues a delete against key.
func (tx *Transaction) AddDelete(t *table.Table, key int64) {
	tx.lockKeys = append(tx.lockKeys, ResourceKey{Table: t.Name, Key: key})
	tx.queries = append(tx.queries, func() (bool, error) {
		if err := t.Delete(key); err != nil {
			return false, err
		}
		tx.updateLog = append(tx.updateLog, logEntry{table: t, key: key})
		tx.redoLog = append(tx.redoLog, redoEntry{op: OpDelete, table: t, key: key})
		return true, nil
	})
}

// AddRead queues a read-only operation. Reads take no lock key of their
// own — callers that need read stability under 2PL should route the
// read through AddQuery with an explicit key on the table they read.
func (tx *Transaction) AddRead(fn func() error) {
	tx.queries = append(tx.queries, func() (bool, error) {
		if err := fn(); err != nil {
			return false, err
		}
		return true, nil
	})
}

// AddQuery queues an arbitrary operation guarded by an explicit lock
// key, for callers composing operations Table doesn't expose directly.
func (tx *Transaction) AddQuery(t *table.Table, key int64, fn func() (bool, error)) {
	tx.lockKeys = append(tx.lockKeys, ResourceKey{Table: t.Name, Key: key})
	tx.queries = append(tx.queries, fn)
}

// lockKeysSorted returns the transaction's declared lock keys, deduped
// and sorted ascending by key so a worker acquires them in ascending
// primary-key order (spec.md §4.9).
func (tx *Transaction) lockKeysSorted() []ResourceKey {
	keys := append([]ResourceKey(nil), tx.lockKeys...)
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Key != keys[j].Key {
			return keys[i].Key < keys[j].Key
		}
		return keys[i].Table < keys[j].Table
	})
	out := keys[:0]
	for i, k := range keys {
		if i == 0 || k != out[len(out)-1] {
			out = append(out, k)
		}
	}
	return out
}

// run executes every queued operation in order, aborting early if
// abortSignal reports this transaction has been wounded by an older
// transaction waiting on a lock it holds.
func (tx *Transaction) run(abortSignal func() bool) bool {
	for _, q := range tx.queries {
		if abortSignal != nil && abortSignal() {
			tx.abort()
			return false
		}
		ok, err := q()
		if !ok || err != nil {
			tx.abort()
			return false
		}
	}
	return true
}

// abort iterates the update log in reverse calling table.RollbackUpdate,
// then the insert log in reverse calling table.RollbackInsert
// (spec.md §4.9).
func (tx *Transaction) abort() {
	for i := len(tx.updateLog) - 1; i >= 0; i-- {
		e := tx.updateLog[i]
		_ = e.table.RollbackUpdate(e.key)
	}
	for i := len(tx.insertLog) - 1; i >= 0; i-- {
		e := tx.insertLog[i]
		_ = e.table.RollbackInsert(e.key)
	}
	tx.insertLog = nil
	tx.updateLog = nil
	tx.redoLog = nil
}

// commit discards the rollback logs, returning the redo records for the
// caller to persist before they're dropped.
func (tx *Transaction) commit() []redoRecord {
	tx.insertLog = nil
	tx.updateLog = nil
	records := make([]redoRecord, len(tx.redoLog))
	for i, e := range tx.redoLog {
		records[i] = redoRecord{Op: e.op, Table: e.table.Name, Key: e.key}
	}
	tx.redoLog = nil
	return records
}

// Worker runs transactions on its own goroutine-as-OS-thread slot,
// acquiring every lock a transaction declared before running any of its
// queries (spec.md §4.9).
type Worker struct {
	ID  int
	lm  *LockManager
	log *RedoLog // optional; nil disables redo persistence
}

// NewWorker creates a worker bound to a shared lock manager. log may be
// nil, disabling redo-log persistence for this worker.
func NewWorker(id int, lm *LockManager, log *RedoLog) *Worker {
	return &Worker{ID: id, lm: lm, log: log}
}

// Run executes tx to completion, retrying lock acquisition as long as
// wound-wait decides this transaction is the younger party and must
// back off (spec.md §4.9). It returns true on commit, false on abort.
func (w *Worker) Run(tx *Transaction) bool {
	keys := tx.lockKeysSorted()

	for {
		w.lm.Register(tx.ID, tx.Timestamp)
		acquired, err := w.acquireAll(tx, keys)
		if err == nil {
			break
		}
		w.releaseAll(acquired, tx.ID)
		w.lm.Unregister(tx.ID)
		if !errors.Is(err, errs.ErrConflict) {
			return false
		}
	}

	ok := tx.run(func() bool { return w.lm.IsWounded(tx.ID) })
	w.releaseAll(keys, tx.ID)
	w.lm.Unregister(tx.ID)

	if ok {
		records := tx.commit()
		if w.log != nil {
			if err := w.log.Persist(tx.ID, records); err != nil {
				logger.Warnf("txn: persisting redo log for transaction %d: %v", tx.ID, err)
			}
		}
	}
	return ok
}

func (w *Worker) acquireAll(tx *Transaction, keys []ResourceKey) ([]ResourceKey, error) {
	acquired := make([]ResourceKey, 0, len(keys))
	for _, k := range keys {
		if err := w.lm.Acquire(k, tx.ID, tx.Timestamp); err != nil {
			return acquired, err
		}
		acquired = append(acquired, k)
	}
	return acquired, nil
}

func (w *Worker) releaseAll(keys []ResourceKey, txnID uint64) {
	for _, k := range keys {
		w.lm.Release(k, txnID)
	}
}
