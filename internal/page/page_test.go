package page

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zhukovaskychina/lstore-engine/internal/errs"
	"github.com/zhukovaskychina/lstore-engine/internal/rid"
)

func TestWriteReadValues(t *testing.T) {
	p := New(DefaultSize, 8)

	off1, err := p.Write(100)
	assert.NoError(t, err)
	off2, err := p.Write(-7)
	assert.NoError(t, err)

	v1, err := p.Read(off1)
	assert.NoError(t, err)
	assert.Equal(t, int64(100), v1)

	v2, err := p.Read(off2)
	assert.NoError(t, err)
	assert.Equal(t, int64(-7), v2)
}

func TestWriteRIDRoundTrip(t *testing.T) {
	p := New(DefaultSize, rid.EncodedSize)
	r := rid.RID{UID: 9, PagesID: 2, Offset: 3, IsBase: true}

	off, err := p.WriteRID(r)
	assert.NoError(t, err)

	got, err := p.ReadRID(off)
	assert.NoError(t, err)
	assert.Equal(t, r, got)
}

func TestPageFullError(t *testing.T) {
	p := New(32, 16) // capacity 16 bytes == one record
	_, err := p.Write(1)
	assert.NoError(t, err)
	_, err = p.Write(2)
	assert.ErrorIs(t, err, errs.ErrPageFull)
}

func TestReadPastBytesUsed(t *testing.T) {
	p := New(DefaultSize, 8)
	_, err := p.Read(0)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestUpdateInPlace(t *testing.T) {
	p := New(DefaultSize, 8)
	off, _ := p.Write(5)
	assert.NoError(t, p.Update(55, off))
	v, _ := p.Read(off)
	assert.Equal(t, int64(55), v)
}

func TestBytesRoundTripViaFromBytes(t *testing.T) {
	p := New(DefaultSize, 8)
	p.Write(123)
	p.Write(-456)

	reloaded := FromBytes(p.Bytes(), 8)
	v0, err := reloaded.Read(0)
	assert.NoError(t, err)
	assert.Equal(t, int64(123), v0)
	v1, err := reloaded.Read(8)
	assert.NoError(t, err)
	assert.Equal(t, int64(-456), v1)
}

func TestPinUnpin(t *testing.T) {
	p := New(DefaultSize, 8)
	assert.False(t, p.Pinned())
	p.Pin()
	assert.True(t, p.Pinned())
	p.Unpin()
	assert.False(t, p.Pinned())
}

func TestDirtyTracking(t *testing.T) {
	p := New(DefaultSize, 8)
	assert.False(t, p.Dirty())
	p.Write(1)
	assert.True(t, p.Dirty())
	p.ClearDirty()
	assert.False(t, p.Dirty())
}

func TestIterYieldsInWriteOrder(t *testing.T) {
	p := New(DefaultSize, 8)
	p.Write(1)
	p.Write(2)
	p.Write(3)

	var got []int64
	p.Iter(func(_ int, v int64) { got = append(got, v) })
	assert.Equal(t, []int64{1, 2, 3}, got)
}
