package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeadDimGuessPrefersWideHeads(t *testing.T) {
	require.Equal(t, 128, headDimGuess(4096))
	require.Equal(t, 96, headDimGuess(192))
	require.Equal(t, 7, headDimGuess(7)) // no divisor fits, falls back to itself
}

func TestRMSNormUnitScaleRoundTrips(t *testing.T) {
	x := []float32{1, 2, 3, 4}
	weight := []float32{1, 1, 1, 1}
	out := rmsnorm(x, weight, 1e-5)

	var sumSq float64
	for _, v := range out {
		sumSq += float64(v) * float64(v)
	}
	require.InDelta(t, 1.0, sumSq/float64(len(out)), 1e-3)
}

func TestMatVecIdentityRow(t *testing.T) {
	w := []float32{1, 0, 0, 1}
	x := []float32{3, 5}
	out := matVec(w, x, 2, 2)
	require.Equal(t, []float32{3, 5}, out)
}

func TestAddVec(t *testing.T) {
	require.Equal(t, []float32{4, 6}, addVec([]float32{1, 2}, []float32{3, 4}))
}

func TestSiluZeroIsZero(t *testing.T) {
	require.Equal(t, float32(0), silu(0))
}

func TestApplyRoPEPreservesNorm(t *testing.T) {
	v := []float32{1, 0, 0, 1}
	before := norm(v)
	applyRoPE(v, 4, 3, 10000)
	require.InDelta(t, float64(before), float64(norm(v)), 1e-4)
}

func TestCausalAttentionAttendsOnlyToSelfWhenSingleKey(t *testing.T) {
	q := []float32{1, 0}
	keys := [][]float32{{1, 0}}
	values := [][]float32{{5, 6}}
	out := causalAttention(q, keys, values, 1, 2)
	require.Equal(t, []float32{5, 6}, out)
}

func TestCausalDepthwiseConvAppliesLastTapToMostRecentEntry(t *testing.T) {
	// width 1, kernel size 2: kernel = [w_earlier, w_latest].
	kernel := []float32{10, 100}
	history := [][]float32{{1}, {2}}
	out := causalDepthwiseConv(history, kernel, 1, 2)
	require.Equal(t, []float32{1*10 + 2*100}, out)
}

func TestCausalDepthwiseConvHandlesShortHistory(t *testing.T) {
	kernel := []float32{10, 100}
	history := [][]float32{{3}}
	out := causalDepthwiseConv(history, kernel, 1, 2)
	require.Equal(t, []float32{3 * 100}, out)
}

func norm(v []float32) float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	return float32(math.Sqrt(sumSq))
}
