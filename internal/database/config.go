// Package database implements the Database described in spec.md §6:
// the table registry, its on-disk metadata and configuration files, and
// table lifecycle (open/close/create/drop).
package database

import (
	"path/filepath"
	"strconv"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"gopkg.in/ini.v1"

	"github.com/zhukovaskychina/lstore-engine/internal/bufferpool"
)

// autoDetectMaxPagesFraction is the share of currently available system
// memory the engine is willing to dedicate to resident column pages
// when max_buffer_pages is left unconfigured (spec.md §4.5, §6).
const autoDetectMaxPagesFraction = 0.25

// EngineConfig is the database-wide bootstrap configuration persisted
// to engine.ini (spec.md §6 "Configuration options").
type EngineConfig struct {
	PageSize            int
	RecordSize          int
	MaxBufferPages      *int // nil means unbounded
	EvictionPolicy      bufferpool.EvictionPolicy
	MergeUpdateThreshold int
	MergeBatchSize       int
	IdleMergeSchedule    string // robfig/cron expression, "" disables
}

// DefaultEngineConfig matches spec.md §6's stated defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		PageSize:             4096,
		RecordSize:           16,
		MaxBufferPages:       nil,
		EvictionPolicy:       bufferpool.LRU,
		MergeUpdateThreshold: 100,
		MergeBatchSize:       16,
		IdleMergeSchedule:    "@every 30s",
	}
}

// LoadEngineConfig reads engine.ini from dir, filling any missing key with
// its default, then writes the resulting configuration back to engine.ini
// (creating the file if it doesn't already exist).
func LoadEngineConfig(dir string) (EngineConfig, error) {
	path := filepath.Join(dir, "engine.ini")
	cfg := DefaultEngineConfig()

	file, err := ini.LooseLoad(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "database: loading %s", path)
	}
	sec := file.Section("engine")

	cfg.PageSize = sec.Key("page_size").MustInt(cfg.PageSize)
	cfg.RecordSize = sec.Key("record_size").MustInt(cfg.RecordSize)
	cfg.MergeUpdateThreshold = sec.Key("merge_update_threshold").MustInt(cfg.MergeUpdateThreshold)
	cfg.MergeBatchSize = sec.Key("merge_batch_size").MustInt(cfg.MergeBatchSize)
	cfg.IdleMergeSchedule = sec.Key("idle_merge_schedule").MustString(cfg.IdleMergeSchedule)
	if sec.Key("eviction_policy").MustString("LRU") == "MRU" {
		cfg.EvictionPolicy = bufferpool.MRU
	}
	if maxPages := sec.Key("max_buffer_pages").MustInt(0); maxPages > 0 {
		cfg.MaxBufferPages = &maxPages
	} else {
		detected := bufferpool.AutoDetectMaxPages(cfg.PageSize, autoDetectMaxPagesFraction)
		cfg.MaxBufferPages = &detected
	}

	return cfg, saveEngineConfig(path, cfg)
}

func saveEngineConfig(path string, cfg EngineConfig) error {
	file := ini.Empty()
	sec, err := file.NewSection("engine")
	if err != nil {
		return errors.Wrap(err, "database: creating engine.ini section")
	}
	sec.Key("page_size").SetValue(strconv.Itoa(cfg.PageSize))
	sec.Key("record_size").SetValue(strconv.Itoa(cfg.RecordSize))
	sec.Key("merge_update_threshold").SetValue(strconv.Itoa(cfg.MergeUpdateThreshold))
	sec.Key("merge_batch_size").SetValue(strconv.Itoa(cfg.MergeBatchSize))
	sec.Key("idle_merge_schedule").SetValue(cfg.IdleMergeSchedule)
	policy := "LRU"
	if cfg.EvictionPolicy == bufferpool.MRU {
		policy = "MRU"
	}
	sec.Key("eviction_policy").SetValue(policy)
	if cfg.MaxBufferPages != nil {
		sec.Key("max_buffer_pages").SetValue(strconv.Itoa(*cfg.MaxBufferPages))
	}
	return file.SaveTo(path)
}

// ColumnIndexConfig describes one column's index choice, persisted in
// a table's index.toml (spec.md §6: "index_type per column with node
// fanout for the tree").
type ColumnIndexConfig struct {
	Column int    `toml:"column"`
	Type   string `toml:"type"` // "hash" or "btree"
	Fanout int    `toml:"fanout,omitempty"`
}

// IndexConfig is the full contents of a table's index.toml.
type IndexConfig struct {
	Indexes []ColumnIndexConfig `toml:"indexes"`
}

func loadIndexConfig(path string) (IndexConfig, error) {
	var cfg IndexConfig
	data, err := readFileIfExists(path)
	if err != nil {
		return cfg, err
	}
	if data == nil {
		return cfg, nil
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "database: decoding %s", path)
	}
	return cfg, nil
}

func saveIndexConfig(path string, cfg IndexConfig) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "database: encoding index.toml")
	}
	return writeFileAtomic(path, data)
}

