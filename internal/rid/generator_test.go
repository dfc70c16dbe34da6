package rid

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratorSequenceAndStep(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gen.json")
	g, err := NewGenerator(path, 0, 2, 4)
	require.NoError(t, err)

	v1, err := g.Next()
	require.NoError(t, err)
	v2, err := g.Next()
	require.NoError(t, err)
	v3, err := g.Next()
	require.NoError(t, err)

	assert.Equal(t, uint64(0), v1)
	assert.Equal(t, uint64(2), v2)
	assert.Equal(t, uint64(4), v3)
}

func TestGeneratorPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gen.json")
	g1, err := NewGenerator(path, 0, 1, 2)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := g1.Next()
		require.NoError(t, err)
	}
	require.NoError(t, g1.Flush())

	g2, err := NewGenerator(path, 0, 1, 2)
	require.NoError(t, err)
	v, err := g2.Next()
	require.NoError(t, err)
	assert.Equal(t, uint64(5), v)
}
