// Package tokenizer implements byte-pair-encoding tokenization driven by
// the vocabulary and merge tables embedded in a GGUF file (or loaded from
// a standalone tokenizer descriptor), plus the suffix-delta streaming
// decode the generator needs to emit well-formed text per token.
package tokenizer

import (
	"github.com/noxlabs/noxrun/internal/gguf"
)

// defaultPretokenizer is the GPT-2-style Unicode-property splitting
// pattern used when a GGUF file doesn't carry tokenizer.ggml.pretokenizer
// — the same default ollama's own mistral model falls back to.
const defaultPretokenizer = `[^\r\n\p{L}\p{N}]?[\p{Lu}\p{Lt}\p{Lm}\p{Lo}\p{M}]*[\p{Ll}\p{Lm}\p{Lo}\p{M}]+|[^\r\n\p{L}\p{N}]?[\p{Lu}\p{Lt}\p{Lm}\p{Lo}\p{M}]+[\p{Ll}\p{Lm}\p{Lo}\p{M}]*|\p{N}| ?[^\s\p{L}\p{N}]+[\r\n/]*|\s*[\r\n]+|\s+(?!\S)|\s+`

// tokenKind mirrors GGUF's tokenizer.ggml.token_type values: 1 normal, 2
// unknown, 3 control/special, 4 user-defined, 5 unused, 6 byte.
type tokenKind = uint32

const (
	kindNormal  tokenKind = 1
	kindUnknown tokenKind = 2
	kindControl tokenKind = 3
	kindByte    tokenKind = 6
)

// vocabulary is the immutable token table a Tokenizer is built from.
type vocabulary struct {
	tokens       []string
	types        []uint32
	merges       []string
	mergeRank    map[string]int
	tokenToID    map[string]int32
	pretokenizer string

	bos    int32
	eos    int32
	unk    int32
	addBOS bool
	addEOS bool
}

func buildVocabulary(tokens []string, types []uint32, merges []string, bos, eos, unk int32, addBOS, addEOS bool, pretok string) *vocabulary {
	if pretok == "" {
		pretok = defaultPretokenizer
	}

	v := &vocabulary{
		tokens:       tokens,
		types:        types,
		merges:       merges,
		mergeRank:    make(map[string]int, len(merges)),
		tokenToID:    make(map[string]int32, len(tokens)),
		pretokenizer: pretok,
		bos:          bos,
		eos:          eos,
		unk:          unk,
		addBOS:       addBOS,
		addEOS:       addEOS,
	}
	for i, m := range merges {
		v.mergeRank[m] = i
	}
	for i, t := range tokens {
		v.tokenToID[t] = int32(i)
	}
	return v
}

// vocabFromGGUF resolves the embedded tokenizer.ggml.* tables under the
// flat "tokenizer" prefix (the architecture argument is not used),
// falling back through gguf.Content's own wildcard/prefix lookup rules
// (so a tokenizer embedded under a different namespace is still found).
func vocabFromGGUF(c *gguf.Content, _ string) *vocabulary {
	tokens := c.Strings("tokenizer", "ggml.tokens")
	types := c.Uints("tokenizer", "ggml.token_type")
	merges := c.Strings("tokenizer", "ggml.merges")
	pretok := c.String("tokenizer", "ggml.pretokenizer")

	bos, _ := c.Uint("tokenizer", "ggml.bos_token_id", 1)
	eos, _ := c.Uint("tokenizer", "ggml.eos_token_id", 2)
	unk, _ := c.Uint("tokenizer", "ggml.unknown_token_id", 0)

	return buildVocabulary(
		tokens, types, merges,
		int32(bos), int32(eos), int32(unk),
		c.Bool("tokenizer", "ggml.add_bos_token", true),
		c.Bool("tokenizer", "ggml.add_eos_token", false),
		pretok,
	)
}

func (v *vocabulary) idOf(tok string) (int32, bool) {
	id, ok := v.tokenToID[tok]
	return id, ok
}

func (v *vocabulary) textOf(id int32) string {
	if id < 0 || int(id) >= len(v.tokens) {
		return ""
	}
	return v.tokens[id]
}

func (v *vocabulary) isSpecial(id int32) bool {
	if id < 0 || int(id) >= len(v.types) {
		return false
	}
	return v.types[id] == kindControl
}

func (v *vocabulary) size() int { return len(v.tokens) }
