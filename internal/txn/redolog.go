package txn

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
)

// OpKind identifies the kind of a logged mutation.
type OpKind int

const (
	OpInsert OpKind = iota
	OpUpdate
	OpDelete
)

// redoRecord is one mutation recorded for replay/audit, keyed by table
// name and primary key rather than by *table.Table so it gob-encodes
// without dragging the whole table graph along.
type redoRecord struct {
	Op    OpKind
	Table string
	Key   int64
}

// RedoLog persists a transaction's committed mutation sequence,
// lz4-compressed, one file per transaction (spec.md §4.9's rollback/redo
// log; SPEC_FULL.md DOMAIN STACK). It exists for audit/replay tooling
// built on top of this engine, not for crash recovery of in-flight
// transactions — Worker only calls Persist after a transaction commits.
type RedoLog struct {
	mu  sync.Mutex
	dir string
}

// NewRedoLog opens a redo log rooted at dir, creating it if needed.
func NewRedoLog(dir string) (*RedoLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "txn: creating redo log directory %s", dir)
	}
	return &RedoLog{dir: dir}, nil
}

// Persist writes txnID's recorded mutations to disk, lz4-compressed.
// Transactions that committed nothing (read-only, or aborted before any
// write) leave no file.
func (l *RedoLog) Persist(txnID uint64, records []redoRecord) error {
	if len(records) == 0 {
		return nil
	}

	var raw bytes.Buffer
	if err := gob.NewEncoder(&raw).Encode(records); err != nil {
		return errors.Wrap(err, "txn: encoding redo log")
	}

	var compressed bytes.Buffer
	w := lz4.NewWriter(&compressed)
	if _, err := w.Write(raw.Bytes()); err != nil {
		return errors.Wrap(err, "txn: compressing redo log")
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, "txn: closing redo log writer")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	path := filepath.Join(l.dir, fmt.Sprintf("txn_%d.lz4", txnID))
	return os.WriteFile(path, compressed.Bytes(), 0o644)
}

// ReadEntries decompresses and decodes a previously persisted redo log,
// for tooling that wants to inspect what a committed transaction did.
func ReadEntries(path string) ([]redoRecord, error) {
	compressed, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "txn: reading redo log %s", path)
	}
	r := lz4.NewReader(bytes.NewReader(compressed))
	var records []redoRecord
	if err := gob.NewDecoder(r).Decode(&records); err != nil {
		return nil, errors.Wrapf(err, "txn: decoding redo log %s", path)
	}
	return records, nil
}
