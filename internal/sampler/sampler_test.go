package sampler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestArgMaxIsDeterministic(t *testing.T) {
	s := New(0, 42)
	logits := []float32{0.1, 5.0, -2.0, 3.0}
	for i := 0; i < 5; i++ {
		require.Equal(t, int32(1), s.Sample(logits))
	}
}

func TestSampleStaysInVocabRange(t *testing.T) {
	s := New(0.8, 7, WithTopK(3))
	logits := make([]float32, 50)
	for i := range logits {
		logits[i] = float32(i%7) - 3
	}
	for i := 0; i < 20; i++ {
		id := s.Sample(logits)
		require.GreaterOrEqual(t, id, int32(0))
		require.Less(t, id, int32(len(logits)))
	}
}

func TestSameSeedSameSequence(t *testing.T) {
	logits := []float32{1, 2, 3, 4, 5, 1, 2}

	a := New(0.9, 123)
	b := New(0.9, 123)

	for i := 0; i < 10; i++ {
		require.Equal(t, a.Sample(logits), b.Sample(logits))
	}
}

func TestApplyRepeatPenaltyShrinksSeenLogits(t *testing.T) {
	logits := []float32{2.0, -2.0, 1.0}
	ApplyRepeatPenalty(logits, []int32{0, 1}, 2.0)
	require.Equal(t, float32(1.0), logits[0])
	require.Equal(t, float32(-4.0), logits[1])
	require.Equal(t, float32(1.0), logits[2])
}

func TestApplyRepeatPenaltyNoopAtOne(t *testing.T) {
	logits := []float32{2.0, -2.0}
	orig := append([]float32(nil), logits...)
	ApplyRepeatPenalty(logits, []int32{0, 1}, 1.0)
	require.Equal(t, orig, logits)
}
