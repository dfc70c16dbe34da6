// Package disk persists individual column pages as files, per
// spec.md §4.4 and §6: one file per (kind, pages_id, col), named
// "{base|tail}_{pages_id}_{col}.bin" under the database directory.
// Page bodies are snappy-compressed at rest (SPEC_FULL.md DOMAIN STACK)
// since pages are immutable once spilled.
package disk

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang/snappy"
	"github.com/pkg/errors"

	"github.com/zhukovaskychina/lstore-engine/internal/errs"
	"github.com/zhukovaskychina/lstore-engine/internal/page"
	"github.com/zhukovaskychina/lstore-engine/internal/rid"
)

// Disk is the on-disk store for column pages under one database
// directory. It is safe for concurrent use; callers requiring
// single-writer semantics for a given file serialize through the
// bufferpool mutex or the merge finalizer, as described in spec.md §5.
type Disk struct {
	dir        string
	recordSize int
}

// Open returns a Disk rooted at dir, creating the pages/ and
// pages/temp/ subdirectories if needed.
func Open(dir string, recordSize int) (*Disk, error) {
	pagesDir := filepath.Join(dir, "pages")
	tempDir := filepath.Join(pagesDir, "temp")
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "disk: creating pages directory")
	}
	return &Disk{dir: dir, recordSize: recordSize}, nil
}

func fileName(isBase bool, pagesID uint64, col int) string {
	kind := "tail"
	if isBase {
		kind = "base"
	}
	return fmt.Sprintf("%s_%d_%d.bin", kind, pagesID, col)
}

func (d *Disk) pagePath(isBase bool, pagesID uint64, col int) string {
	return filepath.Join(d.dir, "pages", fileName(isBase, pagesID, col))
}

// GetPage reads one column page from disk. Returns errs.ErrNotFound if
// the file is absent.
func (d *Disk) GetPage(isBase bool, pagesID uint64, col int) (*page.Page, error) {
	path := d.pagePath(isBase, pagesID, col)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.ErrNotFound
		}
		return nil, errors.Wrapf(err, "disk: reading %s", path)
	}
	data, err := snappy.Decode(nil, raw)
	if err != nil {
		return nil, errors.Wrapf(err, "disk: decompressing %s", path)
	}
	return page.FromBytes(data, d.recordSize), nil
}

// PutPage persists one column page to disk, compressed.
func (d *Disk) PutPage(p *page.Page, isBase bool, pagesID uint64, col int) error {
	return writePageTo(d.pagePath(isBase, pagesID, col), p)
}

func writePageTo(path string, p *page.Page) error {
	compressed := snappy.Encode(nil, p.Bytes())
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, compressed, 0o644); err != nil {
		return errors.Wrapf(err, "disk: writing %s", tmp)
	}
	return os.Rename(tmp, path)
}

// StagingDir returns a fresh, uniquely named directory under
// pages/temp for an in-flight merge (spec.md §4.7 step 4, §6
// "pages/temp/…"). PromoteStaged removes it once its files are
// promoted; a staging directory whose merge fails before promotion stays
// under pages/temp.
func (d *Disk) StagingDir(name string) (string, error) {
	dir := filepath.Join(d.dir, "pages", "temp", name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "disk: creating staging dir %s", dir)
	}
	return dir, nil
}

// PutStagedPage writes a column page into a merge's staging directory,
// using the same final file name it will have once promoted.
func PutStagedPage(stagingDir string, p *page.Page, isBase bool, pagesID uint64, col int) error {
	return writePageTo(filepath.Join(stagingDir, fileName(isBase, pagesID, col)), p)
}

// PromoteStaged atomically moves every staged file over its live
// counterpart (spec.md §4.7 step 5: "atomically move staged files over
// the originals"), then removes the now-empty staging directory.
func (d *Disk) PromoteStaged(stagingDir string, isBase bool, pagesIDs []uint64, numCols int) error {
	for _, id := range pagesIDs {
		for col := 0; col < numCols; col++ {
			src := filepath.Join(stagingDir, fileName(isBase, id, col))
			if _, err := os.Stat(src); err != nil {
				if os.IsNotExist(err) {
					continue
				}
				return errors.Wrapf(err, "disk: stat staged %s", src)
			}
			dst := d.pagePath(isBase, id, col)
			if err := os.Rename(src, dst); err != nil {
				return errors.Wrapf(err, "disk: promoting %s", src)
			}
		}
	}
	return os.RemoveAll(stagingDir)
}

// RemoveStripe deletes every column file for a stripe, used when a
// stripe becomes fully empty (not exercised by normal merge/evict
// paths, which only ever replace stripes, but kept for completeness of
// the on-disk lifecycle in spec.md §3 "Destroy").
func (d *Disk) RemoveStripe(isBase bool, pagesID uint64, numCols int) error {
	for col := 0; col < numCols; col++ {
		if err := os.Remove(d.pagePath(isBase, pagesID, col)); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "disk: removing column %d of stripe %d", col, pagesID)
		}
	}
	return nil
}

// ListBaseStripeIDs returns every base pages_id that has a persisted
// column file for ridCol, discovered by listing the pages directory —
// used by Database.Open to know which stripes to rebuild indexes from
// without a separate directory index (spec.md §6 persistent layout).
func (d *Disk) ListBaseStripeIDs(ridCol int) ([]uint64, error) {
	entries, err := os.ReadDir(filepath.Join(d.dir, "pages"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "disk: listing pages directory")
	}

	var ids []uint64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		var col int
		var id uint64
		if _, err := fmt.Sscanf(e.Name(), "base_%d_%d.bin", &id, &col); err != nil {
			continue
		}
		if col == ridCol {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// BaseRecord is one row yielded by ScanBaseRecords: the RID and the
// values of the requested projected columns, in projection order.
type BaseRecord struct {
	RID     rid.RID
	Columns []int64
}

// ScanBaseRecords streams (rid, projected_values) for every base stripe
// named in pagesIDs by reading the RID column pages and, for each
// contained RID, reading the projected columns at the same offset
// (spec.md §4.4). ridCol and dataCols are column indexes within the
// base stripe layout. It calls fn for each record; fn returning false
// stops the scan early.
func (d *Disk) ScanBaseRecords(pagesIDs []uint64, ridCol int, dataCols []int, fn func(BaseRecord) bool) error {
	for _, id := range pagesIDs {
		ridPage, err := d.GetPage(true, id, ridCol)
		if err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				continue
			}
			return err
		}
		dataPages := make([]*page.Page, len(dataCols))
		for i, col := range dataCols {
			dp, err := d.GetPage(true, id, col)
			if err != nil {
				return err
			}
			dataPages[i] = dp
		}

		used := ridPage.BytesUsed() / d.recordSize
		stop := false
		for row := 0; row < used && !stop; row++ {
			off := row * d.recordSize
			r, err := ridPage.ReadRID(off)
			if err != nil {
				return err
			}
			values := make([]int64, len(dataPages))
			for i, dp := range dataPages {
				v, err := dp.Read(off)
				if err != nil {
					return err
				}
				values[i] = v
			}
			if !fn(BaseRecord{RID: r, Columns: values}) {
				stop = true
			}
		}
	}
	return nil
}
