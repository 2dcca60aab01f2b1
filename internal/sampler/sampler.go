// Package sampler turns a logits vector into a next token ID under one of
// argmax, full-softmax, top-k, top-p, or combined top-k-then-top-p
// strategies, plus the repeat-penalty rescaling the generator applies
// before sampling.
package sampler

import (
	"math"
	"math/rand"
	"sort"

	"github.com/pdevine/tensor"
	"gonum.org/v1/gonum/stat/sampleuv"
)

// Sampler is configured once with temperature/top-k/top-p and a seed;
// Sample is deterministic given that configuration and input.
type Sampler struct {
	temperature float32
	topK        int // 0 means "absent"
	topP        float32 // 0 means "absent"
	rng         *rand.Rand
}

// Option configures optional fields on New.
type Option func(*Sampler)

func WithTopK(k int) Option { return func(s *Sampler) { s.topK = k } }
func WithTopP(p float32) Option { return func(s *Sampler) { s.topP = p } }

// New builds a Sampler. seed fixes the PRNG so Sample is reproducible
// across runs with temperature > 0.
func New(temperature float32, seed int64, opts ...Option) *Sampler {
	s := &Sampler{temperature: temperature, rng: rand.New(rand.NewSource(seed))}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Sample dispatches on the spec.md §4.5 table and returns a token ID in
// [0, len(logits)).
func (s *Sampler) Sample(logits []float32) int32 {
	if s.temperature <= 0 {
		return argmax(logits)
	}

	probs := softmax(logits, s.temperature)

	switch {
	case s.topK > 0 && s.topP > 0:
		idx, p := topKIndices(probs, s.topK)
		idx, p = topPFilter(idx, p, s.topP)
		return s.draw(idx, p)
	case s.topK > 0:
		idx, p := topKIndices(probs, s.topK)
		return s.draw(idx, p)
	case s.topP > 0:
		idx := identityIndices(len(probs))
		idx, p := topPFilter(idx, probs, s.topP)
		return s.draw(idx, p)
	default:
		idx := identityIndices(len(probs))
		return s.draw(idx, probs)
	}
}

// ApplyRepeatPenalty scales logits in-place for every ID present in
// recent (typically the last repeat_last_n entries of the running token
// sequence): positive logits are divided by penalty, negative logits are
// multiplied, shrinking recently-seen tokens' probability mass. A no-op
// when penalty == 1.0.
func ApplyRepeatPenalty(logits []float32, recent []int32, penalty float32) {
	if penalty == 1.0 {
		return
	}
	seen := make(map[int32]struct{}, len(recent))
	for _, id := range recent {
		seen[id] = struct{}{}
	}
	for id := range seen {
		if int(id) < 0 || int(id) >= len(logits) {
			continue
		}
		if logits[id] > 0 {
			logits[id] /= penalty
		} else {
			logits[id] *= penalty
		}
	}
}

func argmax(logits []float32) int32 {
	best, bestIdx := float32(math.Inf(-1)), int32(0)
	for i, v := range logits {
		if v > best {
			best, bestIdx = v, int32(i)
		}
	}
	return bestIdx
}

// softmax computes temperature-scaled softmax over logits, doing the
// max-shift, exponentiation, and normalisation as pdevine/tensor.Dense
// arithmetic (Sub/Apply/Div) rather than unwrapping to a raw slice first.
func softmax(logits []float32, temperature float32) []float32 {
	n := len(logits)
	scaled := make([]float32, n)
	var maxV float32 = float32(math.Inf(-1))
	for i, v := range logits {
		scaled[i] = v / temperature
		if scaled[i] > maxV {
			maxV = scaled[i]
		}
	}
	maxFill := make([]float32, n)
	for i := range maxFill {
		maxFill[i] = maxV
	}

	d := tensor.New(tensor.WithShape(n), tensor.WithBacking(scaled))
	maxT := tensor.New(tensor.WithShape(n), tensor.WithBacking(maxFill))

	shifted, err := d.Sub(maxT)
	if err != nil {
		return softmaxFallback(scaled, maxV)
	}

	exped, err := shifted.Apply(func(x float32) float32 { return float32(math.Exp(float64(x))) })
	if err != nil {
		return softmaxFallback(scaled, maxV)
	}
	expData, _ := exped.Data().([]float32)

	var sum float64
	for _, v := range expData {
		sum += float64(v)
	}
	sumFill := make([]float32, n)
	for i := range sumFill {
		sumFill[i] = float32(sum)
	}
	sumT := tensor.New(tensor.WithShape(n), tensor.WithBacking(sumFill))

	normalized, err := exped.Div(sumT)
	if err != nil {
		return softmaxFallback(scaled, maxV)
	}
	data, _ := normalized.Data().([]float32)

	out := make([]float32, n)
	copy(out, data)
	return out
}

// softmaxFallback replicates the same max-shift/exp/normalise arithmetic
// with plain loops. It only runs if Sub/Apply/Div above ever error on
// operands softmax constructed itself (same shape throughout), which
// shouldn't happen in practice.
func softmaxFallback(scaled []float32, maxV float32) []float32 {
	out := make([]float32, len(scaled))
	var sum float64
	for i, v := range scaled {
		e := float32(math.Exp(float64(v - maxV)))
		out[i] = e
		sum += float64(e)
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out
}

func identityIndices(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

// topKIndices returns the k highest-probability indices (and their
// probabilities), sorted descending.
func topKIndices(probs []float32, k int) ([]int, []float32) {
	idx := identityIndices(len(probs))
	sort.Slice(idx, func(i, j int) bool { return probs[idx[i]] > probs[idx[j]] })
	if k < len(idx) {
		idx = idx[:k]
	}
	p := make([]float32, len(idx))
	for i, id := range idx {
		p[i] = probs[id]
	}
	return idx, p
}

// topPFilter keeps the smallest prefix (after sorting idx/p descending by
// p) whose cumulative probability reaches p, renormalising the kept mass.
func topPFilter(idx []int, p []float32, topP float32) ([]int, []float32) {
	order := identityIndices(len(idx))
	sort.Slice(order, func(i, j int) bool { return p[order[i]] > p[order[j]] })

	var cum float32
	cut := len(order)
	for i, oi := range order {
		cum += p[oi]
		if cum >= topP {
			cut = i + 1
			break
		}
	}
	order = order[:cut]

	outIdx := make([]int, len(order))
	outP := make([]float32, len(order))
	var sum float32
	for i, oi := range order {
		outIdx[i] = idx[oi]
		outP[i] = p[oi]
		sum += p[oi]
	}
	if sum > 0 {
		for i := range outP {
			outP[i] /= sum
		}
	}
	return outIdx, outP
}

func (s *Sampler) draw(idx []int, probs []float32) int32 {
	weights := make([]float64, len(probs))
	for i, p := range probs {
		weights[i] = float64(p)
	}
	w := sampleuv.NewWeighted(weights, s.rng)
	picked, ok := w.Take()
	if !ok {
		picked = 0
	}
	return int32(idx[picked])
}
