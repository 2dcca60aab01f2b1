package model

import (
	"fmt"
	"math"
	"sync"

	"github.com/noxlabs/noxrun/internal/nerr"
	"github.com/noxlabs/noxrun/internal/runtime"
)

// Backend is the contract spec.md §1 calls out as an external collaborator:
// "Quantized matrix kernels are assumed to be provided by an external
// tensor library." Forward takes the absolute position of the first token
// in tokens and returns logits for the last position only.
type Backend interface {
	Forward(tokens []int32, position int) ([]float32, error)
	Reset()
}

// referenceBackend is the in-tree stand-in for that external library: a
// plain, unoptimised float32 decoder-only transformer loop. It only
// operates on tensors loadTensorSet was able to materialise to dense
// float32 (F32/F16/BF16); quantized weights surface InferenceError, same
// as a missing weight would.
type referenceBackend struct {
	md      Metadata
	weights *tensorSet
	kind    variantKind

	hiddenSize, numHeads, numKVHeads, headDim int
	eps, ropeBase                             float32

	// cache holds per-layer K/V history, appended to on every Forward call
	// and cleared by Reset. Shape per layer: [seqLen][numKVHeads*headDim].
	// Only populated/read for variantLlamaFamily layers.
	cache []layerCache

	// convCache holds each LFM2 layer's short-convolution history (the last
	// lfm2ConvKernel value-half vectors), standing in for attention's K/V
	// cache in the variantLFM2 forward path. Only populated/read for
	// variantLFM2 layers.
	convCache []convCache

	// pool is the process-global pinned worker pool spec.md §5 describes;
	// the per-token q/k/v projection in forwardLayerLlama is embarrassingly
	// parallel (no cross-token dependency until causal attention), so it's
	// the one piece of kernel work this reference backend actually
	// dispatches onto it rather than running inline.
	pool *runtime.Pool
}

type layerCache struct {
	k, v [][]float32
}

// convCache is the LFM2 short-convolution mixer's per-layer history: the
// most recent value-half vectors (before gating), oldest first, capped at
// lfm2ConvKernel including the current position's.
type convCache struct {
	recent [][]float32
}

// lfm2ConvKernel is the causal depthwise convolution width the LFM2 mixer
// uses in place of attention on its short-convolution layers.
const lfm2ConvKernel = 4

func newReferenceBackend(md Metadata, ts *tensorSet, kind variantKind) (*referenceBackend, error) {
	hiddenSize := int(md.NEmbd)
	numHeads := hiddenSize / headDimGuess(hiddenSize)
	if numHeads == 0 {
		numHeads = 1
	}
	headDim := hiddenSize / numHeads

	b := &referenceBackend{
		md:         md,
		weights:    ts,
		kind:       kind,
		hiddenSize: hiddenSize,
		numHeads:   numHeads,
		numKVHeads: numHeads,
		headDim:    headDim,
		eps:        1e-5,
		ropeBase:   10000,
		cache:      make([]layerCache, md.NLayer),
		convCache:  make([]convCache, md.NLayer),
		pool:       runtime.Init(nil),
	}
	return b, nil
}

// headDimGuess picks a head width that divides hiddenSize evenly, trying
// 128, 96, 80, then 64 in that order (widest first) and falling back to
// the hidden size itself (single head) when none divides.
func headDimGuess(hiddenSize int) int {
	for _, d := range []int{128, 96, 80, 64} {
		if hiddenSize%d == 0 {
			return d
		}
	}
	return hiddenSize
}

func (b *referenceBackend) Reset() {
	for i := range b.cache {
		b.cache[i] = layerCache{}
	}
	for i := range b.convCache {
		b.convCache[i] = convCache{}
	}
}

func (b *referenceBackend) Forward(tokens []int32, position int) ([]float32, error) {
	if len(tokens) == 0 {
		return nil, &nerr.InferenceError{Detail: "forward called with no tokens"}
	}
	if uint64(position+len(tokens)) > b.md.ContextLength {
		return nil, &nerr.InferenceError{Detail: fmt.Sprintf("position %d + %d tokens exceeds context_length %d", position, len(tokens), b.md.ContextLength)}
	}

	embd, err := b.weights.Dense("token_embd.weight")
	if err != nil {
		return nil, err
	}
	hidden := make([][]float32, len(tokens))
	for i, tok := range tokens {
		row, err := rowAt(embd, int(tok), b.hiddenSize)
		if err != nil {
			return nil, err
		}
		hidden[i] = row
	}

	for l := 0; l < int(b.md.NLayer); l++ {
		if b.kind == variantLFM2 {
			hidden, err = b.forwardLayerLFM2(l, hidden, position)
		} else {
			hidden, err = b.forwardLayerLlama(l, hidden, position)
		}
		if err != nil {
			return nil, err
		}
	}

	normW, err := b.weights.Dense("output_norm.weight")
	if err != nil {
		return nil, err
	}
	last := rmsnorm(hidden[len(hidden)-1], asSlice(normW), b.eps)

	outW, err := b.weights.Dense("output.weight")
	if err != nil {
		// Many GGUF exports tie output weights to the embedding table
		// ("output,alt:token_embd" in the teacher lineage's tag syntax).
		outW, err = b.weights.Dense("token_embd.weight")
		if err != nil {
			return nil, err
		}
	}
	logits := matVec(asSlice(outW), last, int(b.md.VocabSize), b.hiddenSize)
	return logits, nil
}

// forwardLayerLlama is the uniform attention+gated-MLP decoder layer every
// llama-family architecture tag resolves to.
func (b *referenceBackend) forwardLayerLlama(l int, hidden [][]float32, position int) ([][]float32, error) {
	prefix := fmt.Sprintf("blk.%d.", l)

	attnNorm, err := b.weights.Dense(prefix + "attn_norm.weight")
	if err != nil {
		return nil, err
	}
	wq, err := b.weights.Dense(prefix + "attn_q.weight")
	if err != nil {
		return nil, err
	}
	wk, err := b.weights.Dense(prefix + "attn_k.weight")
	if err != nil {
		return nil, err
	}
	wv, err := b.weights.Dense(prefix + "attn_v.weight")
	if err != nil {
		return nil, err
	}
	wo, err := b.weights.Dense(prefix + "attn_output.weight")
	if err != nil {
		return nil, err
	}
	ffnNorm, err := b.weights.Dense(prefix + "ffn_norm.weight")
	if err != nil {
		return nil, err
	}
	gate, err := b.weights.Dense(prefix + "ffn_gate.weight")
	if err != nil {
		return nil, err
	}
	up, err := b.weights.Dense(prefix + "ffn_up.weight")
	if err != nil {
		return nil, err
	}
	down, err := b.weights.Dense(prefix + "ffn_down.weight")
	if err != nil {
		return nil, err
	}

	kvDim := b.numKVHeads * b.headDim

	// q/k/v projection + RoPE has no cross-token dependency (unlike the
	// causal attention step below), so it's dispatched onto the pinned
	// worker pool one token at a time and gathered before continuing.
	qs := make([][]float32, len(hidden))
	ks := make([][]float32, len(hidden))
	vs := make([][]float32, len(hidden))
	var wg sync.WaitGroup
	for i, h := range hidden {
		i, h := i, h
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.pool.Submit(func() {
				normed := rmsnorm(h, asSlice(attnNorm), b.eps)
				q := matVec(asSlice(wq), normed, b.hiddenSize, b.hiddenSize)
				k := matVec(asSlice(wk), normed, kvDim, b.hiddenSize)
				v := matVec(asSlice(wv), normed, kvDim, b.hiddenSize)
				applyRoPE(q, b.headDim, position+i, b.ropeBase)
				applyRoPE(k, b.headDim, position+i, b.ropeBase)
				qs[i], ks[i], vs[i] = q, k, v
			})
		}()
	}
	wg.Wait()

	out := make([][]float32, len(hidden))
	for i, h := range hidden {
		b.cache[l].k = append(b.cache[l].k, ks[i])
		b.cache[l].v = append(b.cache[l].v, vs[i])

		attnOut := causalAttention(qs[i], b.cache[l].k, b.cache[l].v, b.numHeads, b.headDim)
		proj := matVec(asSlice(wo), attnOut, b.hiddenSize, b.hiddenSize)

		residual1 := addVec(h, proj)

		normed2 := rmsnorm(residual1, asSlice(ffnNorm), b.eps)
		gateOut := matVec(asSlice(gate), normed2, len(asSlice(gate))/b.hiddenSize, b.hiddenSize)
		upOut := matVec(asSlice(up), normed2, len(asSlice(up))/b.hiddenSize, b.hiddenSize)
		for j := range gateOut {
			gateOut[j] = silu(gateOut[j]) * upOut[j]
		}
		downOut := matVec(asSlice(down), gateOut, b.hiddenSize, len(gateOut))

		out[i] = addVec(residual1, downOut)
	}
	return out, nil
}

// forwardLayerLFM2 is the LFM2 decoder layer: a causal short-convolution
// token mixer in place of self-attention, feeding the same gated-MLP block
// forwardLayerLlama uses. LFM2 tensors follow the mamba/SSM-style naming
// convention GGUF exports use for non-attention token mixers (ssm_in,
// ssm_conv1d, ...), renamed here to the shortconv_* prefix: in_proj splits
// into a gate half and a value half, the value half is causally convolved
// over a small window of recent positions, then gated and projected back.
func (b *referenceBackend) forwardLayerLFM2(l int, hidden [][]float32, position int) ([][]float32, error) {
	prefix := fmt.Sprintf("blk.%d.", l)

	mixNorm, err := b.weights.Dense(prefix + "shortconv_norm.weight")
	if err != nil {
		return nil, err
	}
	inProj, err := b.weights.Dense(prefix + "shortconv_in.weight")
	if err != nil {
		return nil, err
	}
	convKernel, err := b.weights.Dense(prefix + "shortconv_conv.weight")
	if err != nil {
		return nil, err
	}
	outProj, err := b.weights.Dense(prefix + "shortconv_out.weight")
	if err != nil {
		return nil, err
	}
	ffnNorm, err := b.weights.Dense(prefix + "ffn_norm.weight")
	if err != nil {
		return nil, err
	}
	gate, err := b.weights.Dense(prefix + "ffn_gate.weight")
	if err != nil {
		return nil, err
	}
	up, err := b.weights.Dense(prefix + "ffn_up.weight")
	if err != nil {
		return nil, err
	}
	down, err := b.weights.Dense(prefix + "ffn_down.weight")
	if err != nil {
		return nil, err
	}

	kernel := asSlice(convKernel)

	out := make([][]float32, len(hidden))
	for i, h := range hidden {
		normed := rmsnorm(h, asSlice(mixNorm), b.eps)
		proj := matVec(asSlice(inProj), normed, 2*b.hiddenSize, b.hiddenSize)
		gateHalf, valueHalf := proj[:b.hiddenSize], proj[b.hiddenSize:]
		for j := range gateHalf {
			gateHalf[j] = silu(gateHalf[j])
		}

		cc := &b.convCache[l]
		cc.recent = append(cc.recent, valueHalf)
		if len(cc.recent) > lfm2ConvKernel {
			cc.recent = cc.recent[len(cc.recent)-lfm2ConvKernel:]
		}
		convOut := causalDepthwiseConv(cc.recent, kernel, b.hiddenSize, lfm2ConvKernel)

		mixed := make([]float32, b.hiddenSize)
		for j := range mixed {
			mixed[j] = gateHalf[j] * convOut[j]
		}
		projOut := matVec(asSlice(outProj), mixed, b.hiddenSize, b.hiddenSize)

		residual1 := addVec(h, projOut)

		normed2 := rmsnorm(residual1, asSlice(ffnNorm), b.eps)
		gateOut := matVec(asSlice(gate), normed2, len(asSlice(gate))/b.hiddenSize, b.hiddenSize)
		upOut := matVec(asSlice(up), normed2, len(asSlice(up))/b.hiddenSize, b.hiddenSize)
		for j := range gateOut {
			gateOut[j] = silu(gateOut[j]) * upOut[j]
		}
		downOut := matVec(asSlice(down), gateOut, b.hiddenSize, len(gateOut))

		out[i] = addVec(residual1, downOut)
	}
	return out, nil
}

// causalDepthwiseConv convolves history (oldest first, up to kernelSize
// entries, each of length width) against a per-channel kernel flattened
// [width][kernelSize], aligning the most recent entry with the kernel's
// last tap.
func causalDepthwiseConv(history [][]float32, kernel []float32, width, kernelSize int) []float32 {
	out := make([]float32, width)
	n := len(history)
	for k := 0; k < n; k++ {
		tap := kernelSize - n + k
		if tap < 0 {
			continue
		}
		v := history[k]
		for c := 0; c < width; c++ {
			out[c] += v[c] * kernel[c*kernelSize+tap]
		}
	}
	return out
}

func silu(x float32) float32 {
	return x / (1 + float32(math.Exp(float64(-x))))
}

func rmsnorm(x, weight []float32, eps float32) []float32 {
	var sumSq float64
	for _, v := range x {
		sumSq += float64(v) * float64(v)
	}
	scale := float32(1.0 / math.Sqrt(sumSq/float64(len(x))+float64(eps)))
	out := make([]float32, len(x))
	for i, v := range x {
		w := float32(1)
		if i < len(weight) {
			w = weight[i]
		}
		out[i] = v * scale * w
	}
	return out
}

// matVec computes W·x for a row-major weight matrix flattened to rows*cols
// and an input vector x of length cols, returning a vector of length rows.
func matVec(w, x []float32, rows, cols int) []float32 {
	out := make([]float32, rows)
	for r := 0; r < rows && (r+1)*cols <= len(w); r++ {
		var sum float64
		row := w[r*cols : (r+1)*cols]
		for c, xv := range x {
			if c >= cols {
				break
			}
			sum += float64(row[c]) * float64(xv)
		}
		out[r] = float32(sum)
	}
	return out
}

func addVec(a, b []float32) []float32 {
	out := make([]float32, len(a))
	for i := range a {
		out[i] = a[i] + b[i]
	}
	return out
}

func applyRoPE(v []float32, headDim int, pos int, base float32) {
	numHeads := len(v) / headDim
	half := headDim / 2
	for h := 0; h < numHeads; h++ {
		off := h * headDim
		for i := 0; i < half; i++ {
			freq := 1.0 / math.Pow(float64(base), float64(2*i)/float64(headDim))
			angle := float64(pos) * freq
			sin, cos := math.Sincos(angle)
			x0, x1 := v[off+i], v[off+i+half]
			v[off+i] = x0*float32(cos) - x1*float32(sin)
			v[off+i+half] = x0*float32(sin) + x1*float32(cos)
		}
	}
}

func causalAttention(q []float32, keys, values [][]float32, numHeads, headDim int) []float32 {
	out := make([]float32, len(q))
	scale := float32(1.0 / math.Sqrt(float64(headDim)))
	for h := 0; h < numHeads; h++ {
		off := h * headDim
		qh := q[off : off+headDim]

		scores := make([]float32, len(keys))
		maxScore := float32(math.Inf(-1))
		for t, kt := range keys {
			kh := kt[off : off+headDim]
			var dot float32
			for i := range qh {
				dot += qh[i] * kh[i]
			}
			scores[t] = dot * scale
			if scores[t] > maxScore {
				maxScore = scores[t]
			}
		}

		var denom float32
		for t := range scores {
			scores[t] = float32(math.Exp(float64(scores[t] - maxScore)))
			denom += scores[t]
		}

		acc := make([]float32, headDim)
		for t, vt := range values {
			w := scores[t] / denom
			vh := vt[off : off+headDim]
			for i := range acc {
				acc[i] += w * vh[i]
			}
		}
		copy(out[off:off+headDim], acc)
	}
	return out
}
