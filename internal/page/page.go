// Package page implements the fixed-size, append-only column page
// described in spec.md §4.2: a byte buffer with a header recording
// bytes-used, holding an array of fixed-width signed integers.
package page

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/zhukovaskychina/lstore-engine/internal/errs"
	"github.com/zhukovaskychina/lstore-engine/internal/rid"
)

const (
	// DefaultSize is the default page size in bytes (spec.md §6).
	DefaultSize = 4096
	// DefaultRecordSize is the default fixed-width record size in bytes
	// (spec.md §6) — wide enough to hold an encoded RID (§4.1).
	DefaultRecordSize = 16
	// The bytes-used header has no constant of its own: it is stored as
	// a big-endian signed integer of RecordSize width (spec.md §6:
	// "first record_size bytes are the bytes-used header").
)

// Page is a fixed-size append-only column page. It is safe for
// concurrent use; callers needing atomic read-modify-write sequences
// should use Bufferpool, which serializes mutation under its own mutex.
type Page struct {
	mu sync.Mutex

	recordSize int
	capacity   int // usable body bytes, excluding the header

	buf   []byte // header + body, len == recordSize + capacity
	dirty bool
	pins  int32
}

// New creates an empty page of the given total size and record width.
// size must be greater than recordSize.
func New(size, recordSize int) *Page {
	if recordSize <= 0 {
		recordSize = DefaultRecordSize
	}
	if size <= recordSize {
		size = recordSize + recordSize*256
	}
	p := &Page{
		recordSize: recordSize,
		capacity:   size - recordSize,
		buf:        make([]byte, size),
	}
	p.setBytesUsed(0)
	return p
}

// FromBytes reconstructs a page from a previously persisted byte slice
// (spec.md §6 page file format): the header is the bytes-used field.
func FromBytes(data []byte, recordSize int) *Page {
	if recordSize <= 0 {
		recordSize = DefaultRecordSize
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return &Page{
		recordSize: recordSize,
		capacity:   len(data) - recordSize,
		buf:        buf,
	}
}

// RecordSize returns the fixed width, in bytes, of each stored value.
func (p *Page) RecordSize() int { return p.recordSize }

// BytesUsed returns the current write offset into the page body.
func (p *Page) BytesUsed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bytesUsed()
}

func (p *Page) bytesUsed() int {
	return int(decodeHeaderInt(p.buf[:p.recordSize]))
}

func (p *Page) setBytesUsed(n int) {
	encodeHeaderInt(p.buf[:p.recordSize], int64(n))
}

// Full reports whether another record of recordSize bytes would
// overflow the page body.
func (p *Page) Full() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bytesUsed()+p.recordSize > p.capacity
}

// Write appends one fixed-width signed integer and returns its byte
// offset into the body (not including the header). Returns
// errs.ErrPageFull when the page has no room.
func (p *Page) Write(value int64) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	used := p.bytesUsed()
	if used+p.recordSize > p.capacity {
		return 0, errs.ErrPageFull
	}
	start := p.recordSize + used
	encodeHeaderInt(p.buf[start:start+p.recordSize], value)
	p.setBytesUsed(used + p.recordSize)
	p.dirty = true
	return used, nil
}

// WriteRID appends a full 128-bit RID. The page's record size must be
// at least rid.EncodedSize.
func (p *Page) WriteRID(r rid.RID) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	used := p.bytesUsed()
	if used+p.recordSize > p.capacity {
		return 0, errs.ErrPageFull
	}
	start := p.recordSize + used
	encoded := r.Encode()
	copy(p.buf[start:start+p.recordSize], encoded[:])
	p.setBytesUsed(used + p.recordSize)
	p.dirty = true
	return used, nil
}

// Read decodes the integer at the given body offset.
func (p *Page) Read(offset int) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.read(offset)
}

func (p *Page) read(offset int) (int64, error) {
	if offset < 0 || offset+p.recordSize > p.bytesUsed() {
		return 0, errs.ErrNotFound
	}
	start := p.recordSize + offset
	return decodeHeaderInt(p.buf[start : start+p.recordSize]), nil
}

// ReadRID decodes a RID at the given body offset.
func (p *Page) ReadRID(offset int) (rid.RID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if offset < 0 || offset+p.recordSize > p.bytesUsed() {
		return rid.RID{}, errs.ErrNotFound
	}
	start := p.recordSize + offset
	return rid.DecodeBytes(p.buf[start : start+p.recordSize])
}

// Update overwrites the value at the given offset in place.
func (p *Page) Update(value int64, offset int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if offset < 0 || offset+p.recordSize > p.bytesUsed() {
		return errs.ErrNotFound
	}
	start := p.recordSize + offset
	encodeHeaderInt(p.buf[start:start+p.recordSize], value)
	p.dirty = true
	return nil
}

// UpdateRID overwrites the RID at the given offset in place.
func (p *Page) UpdateRID(r rid.RID, offset int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if offset < 0 || offset+p.recordSize > p.bytesUsed() {
		return errs.ErrNotFound
	}
	start := p.recordSize + offset
	encoded := r.Encode()
	copy(p.buf[start:start+p.recordSize], encoded[:])
	p.dirty = true
	return nil
}

// Iter yields every written value, in write order.
func (p *Page) Iter(fn func(offset int, value int64)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	used := p.bytesUsed()
	for off := 0; off < used; off += p.recordSize {
		fn(off, decodeHeaderInt(p.buf[p.recordSize+off:p.recordSize+off+p.recordSize]))
	}
}

// Bytes returns the page's raw on-disk representation (header + body).
func (p *Page) Bytes() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]byte, len(p.buf))
	copy(out, p.buf)
	return out
}

// Dirty reports whether the page has unflushed writes.
func (p *Page) Dirty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dirty
}

// ClearDirty marks the page as flushed.
func (p *Page) ClearDirty() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dirty = false
}

// Pin increments the pin count, exempting the page from eviction.
func (p *Page) Pin() { atomic.AddInt32(&p.pins, 1) }

// Unpin decrements the pin count.
func (p *Page) Unpin() { atomic.AddInt32(&p.pins, -1) }

// Pinned reports whether the page is currently pinned.
func (p *Page) Pinned() bool { return atomic.LoadInt32(&p.pins) > 0 }

func encodeHeaderInt(dst []byte, v int64) {
	// Big-endian signed encoding (spec.md §4.1/§6): store as unsigned
	// two's-complement bits, sign-extended/truncated to len(dst) bytes.
	u := uint64(v)
	n := len(dst)
	for i := 0; i < n; i++ {
		shift := uint((n - 1 - i) * 8)
		if shift < 64 {
			dst[i] = byte(u >> shift)
		} else {
			// sign-extend beyond 64 bits
			if v < 0 {
				dst[i] = 0xFF
			} else {
				dst[i] = 0x00
			}
		}
	}
}

func decodeHeaderInt(src []byte) int64 {
	n := len(src)
	if n >= 8 {
		return int64(binary.BigEndian.Uint64(src[n-8:]))
	}
	var u uint64
	for _, b := range src {
		u = u<<8 | uint64(b)
	}
	// sign-extend
	signBit := uint(n*8 - 1)
	if n*8 < 64 && u&(1<<signBit) != 0 {
		u |= ^uint64(0) << uint(n*8)
	}
	return int64(u)
}
