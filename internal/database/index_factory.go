package database

import "github.com/zhukovaskychina/lstore-engine/internal/index"

func buildIndex(cfg ColumnIndexConfig) index.Index {
	if cfg.Type == "btree" {
		return index.NewBPlusTreeIndex(cfg.Fanout)
	}
	return index.NewHashIndex(4)
}
