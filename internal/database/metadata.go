package database

import (
	"encoding/json"
	"path/filepath"

	"github.com/pkg/errors"
)

// TableMeta is one table's entry in metadata.json (spec.md §6).
// DeleteTracker records every primary-key value this table has ever
// logically deleted, the persisted half of the in-memory tracker
// table.Table keeps to free a key for reinsertion.
type TableMeta struct {
	NumColumns    int     `json:"num_columns"`
	KeyIndex      int     `json:"key_index"`
	IndexCols     []int   `json:"index_cols"`
	DeleteTracker []int64 `json:"delete_tracker"`
}

// metadataFile is the on-disk shape of metadata.json.
type metadataFile struct {
	Tables map[string]TableMeta `json:"tables"`
}

func loadMetadataFile(dir string) (metadataFile, error) {
	path := filepath.Join(dir, "metadata.json")
	data, err := readFileIfExists(path)
	if err != nil {
		return metadataFile{}, err
	}
	if data == nil {
		return metadataFile{Tables: make(map[string]TableMeta)}, nil
	}
	var m metadataFile
	if err := json.Unmarshal(data, &m); err != nil {
		return metadataFile{}, errors.Wrapf(err, "database: decoding %s", path)
	}
	if m.Tables == nil {
		m.Tables = make(map[string]TableMeta)
	}
	return m, nil
}

func saveMetadataFile(dir string, m metadataFile) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.Wrap(err, "database: encoding metadata.json")
	}
	return writeFileAtomic(filepath.Join(dir, "metadata.json"), data)
}
