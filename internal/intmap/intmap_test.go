package intmap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInsertGetIsFunctionalMap(t *testing.T) {
	m := New[string]()

	m.Insert(42, "v1")
	v, ok := m.Get(42)
	require.True(t, ok)
	require.Equal(t, "v1", v)

	m.Insert(42, "v2")
	v, ok = m.Get(42)
	require.True(t, ok)
	require.Equal(t, "v2", v)
	require.Equal(t, 1, m.Len())
}

func TestLenCountsDistinctKeysOnly(t *testing.T) {
	m := New[int]()
	for i := 0; i < 1000; i++ {
		m.Insert(uint64(i%250), i)
	}
	require.Equal(t, 250, m.Len())
}

func TestGetMissing(t *testing.T) {
	m := New[int]()
	_, ok := m.Get(7)
	require.False(t, ok)
}

func TestGrowthPreservesEntries(t *testing.T) {
	m := WithCapacity[int](2)
	for i := uint64(0); i < 500; i++ {
		m.Insert(i, int(i)*2)
	}
	require.Equal(t, 500, m.Len())
	for i := uint64(0); i < 500; i++ {
		v, ok := m.Get(i)
		require.True(t, ok)
		require.Equal(t, int(i)*2, v)
	}
}

func TestRemove(t *testing.T) {
	m := New[int]()
	m.Insert(1, 10)
	require.True(t, m.Remove(1))
	_, ok := m.Get(1)
	require.False(t, ok)
	require.False(t, m.Remove(1))
}
