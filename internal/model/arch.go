package model

import (
	"sort"

	"github.com/agnivade/levenshtein"

	"github.com/noxlabs/noxrun/internal/nerr"
)

// variantKind selects which weight layout and forward loop a loaded model
// uses. Every recognised architecture tag maps to one of these; per
// spec.md §4.1 an unrecognised-but-plausible tag still falls back to
// llama-family rather than failing.
type variantKind int

const (
	variantLlamaFamily variantKind = iota
	variantLFM2
)

// llamaFamilyTags are architecture tags known to share the llama-style
// decoder-only layout (attention + gated MLP, pre-norm, RoPE). Anything not
// in this set and not "lfm2" still resolves to variantLlamaFamily — the
// registry only exists to drive the "did you mean" suggestion, not to gate
// dispatch.
var llamaFamilyTags = []string{
	"llama", "mistral", "qwen2", "phi3", "gemma", "gemma2", "falcon", "starcoder2",
}

// nonTransformerTags are tags for model components this engine's Forward
// contract cannot serve at all: vision/projector towers bundled in
// multimodal GGUF files, not the transformer-family decoder spec.md's
// Non-goals restrict support to. These are the only tags that produce
// ArchitectureUnsupported; every other tag, known or not, falls back to
// llama-family per spec.md §4.1.
var nonTransformerTags = []string{"clip", "mmproj", "vision"}

func resolveVariant(tag string) (variantKind, error) {
	if tag == "lfm2" {
		return variantLFM2, nil
	}
	for _, bad := range nonTransformerTags {
		if tag == bad {
			return 0, &nerr.ArchitectureUnsupported{Tag: tag, DidYouMean: suggest(tag)}
		}
	}
	return variantLlamaFamily, nil
}

// suggest returns the closest known architecture tag by edit distance, or
// empty when none is reasonably close (distance > half the tag's length).
func suggest(tag string) string {
	known := append([]string{"lfm2"}, llamaFamilyTags...)
	sort.Strings(known)

	best, bestDist := "", -1
	for _, k := range known {
		d := levenshtein.ComputeDistance(tag, k)
		if bestDist == -1 || d < bestDist {
			best, bestDist = k, d
		}
	}
	if bestDist < 0 || bestDist > (len(tag)+1)/2 {
		return ""
	}
	return best
}
