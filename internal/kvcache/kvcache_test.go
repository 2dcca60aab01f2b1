package kvcache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func rows(n, width int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		out[i] = make([]float32, width)
	}
	return out
}

func TestAppendUpdatesSeqLenAndPageCount(t *testing.T) {
	c := New(4, 8, 128)

	require.NoError(t, c.Append(rows(5, 32), rows(5, 32)))
	require.Equal(t, 5, c.CurrentSeqLen())
	require.Equal(t, 1, c.PageCount())

	require.NoError(t, c.Append(rows(20, 32), rows(20, 32)))
	require.Equal(t, 25, c.CurrentSeqLen())
	require.Equal(t, (25+PageSize-1)/PageSize, c.PageCount())
}

func TestAppendRejectsOverCapacity(t *testing.T) {
	c := New(1, 1, 16)
	err := c.Append(rows(17, 1), rows(17, 1))
	require.Error(t, err)
}

func TestResetClearsPages(t *testing.T) {
	c := New(1, 1, 64)
	require.NoError(t, c.Append(rows(10, 1), rows(10, 1)))
	c.Reset()
	require.Equal(t, 0, c.CurrentSeqLen())
	require.Equal(t, 0, c.PageCount())
}

func TestRowRoundTrip(t *testing.T) {
	c := New(1, 2, 32)
	k := [][]float32{{1, 2}, {3, 4}}
	v := [][]float32{{5, 6}, {7, 8}}
	require.NoError(t, c.Append(k, v))

	gotK, gotV, ok := c.Row(1)
	require.True(t, ok)
	require.Equal(t, []float32{3, 4}, gotK)
	require.Equal(t, []float32{7, 8}, gotV)
}
