package linker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_LaysOutGlobalsInDeclarationOrderAfterSegments(t *testing.T) {
	table := Build([]string{"a", "b", "c"}, nil, 100)

	a, err := table.Find("a")
	require.NoError(t, err)
	b, err := table.Find("b")
	require.NoError(t, err)
	c, err := table.Find("c")
	require.NoError(t, err)

	assert.Equal(t, uint32(100), table.OffsetOf(a))
	assert.Equal(t, uint32(101), table.OffsetOf(b))
	assert.Equal(t, uint32(102), table.OffsetOf(c))
}

func TestBuild_RespectsPerGlobalSizes(t *testing.T) {
	table := Build([]string{"small", "wide"}, []uint32{1, 4}, 0)

	small, err := table.Find("small")
	require.NoError(t, err)
	wide, err := table.Find("wide")
	require.NoError(t, err)

	assert.Equal(t, uint32(0), table.OffsetOf(small))
	assert.Equal(t, uint32(1), table.OffsetOf(wide))
}

func TestFind_UndefinedSymbolReturnsError(t *testing.T) {
	table := Build([]string{"only"}, nil, 0)
	_, err := table.Find("missing")
	assert.Error(t, err)
}

func TestBuild_EmptyTableResolvesNothing(t *testing.T) {
	table := Build(nil, nil, 50)
	_, err := table.Find("anything")
	assert.Error(t, err)
}
