package rid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	{
		r := RID{UID: 42, PagesID: 7, Offset: 128, IsBase: true, Tombstone: false}
		got := Decode(r.Encode())
		assert.Equal(t, r, got)
	}

	{
		r := RID{UID: maxUID, PagesID: maxPagesID, Offset: maxOffset, IsBase: false, Tombstone: true}
		got := Decode(r.Encode())
		assert.Equal(t, r, got)
	}

	{
		r := RID{}
		assert.True(t, r.Zero())
		got := Decode(r.Encode())
		assert.True(t, got.Zero())
	}
}

func TestDecodeBytesShortBuffer(t *testing.T) {
	_, err := DecodeBytes([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	ok := RID{UID: 1, PagesID: 1, Offset: 1}
	assert.NoError(t, ok.Validate())

	bad := RID{UID: maxUID + 1}
	assert.Error(t, bad.Validate())
}

func TestParityEncodesKind(t *testing.T) {
	base := RID{PagesID: 10, IsBase: true}
	tail := RID{PagesID: 11, IsBase: false}
	assert.Equal(t, uint64(0), base.PagesID%2)
	assert.Equal(t, uint64(1), tail.PagesID%2)
}
