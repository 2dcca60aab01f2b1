package tokenizer

import (
	"strings"

	"github.com/dlclark/regexp2"
)

// bytePairEncoder turns pretokenized word fragments into vocabulary IDs by
// repeatedly merging the adjacent symbol pair with the lowest merge rank,
// the standard BPE greedy-merge algorithm GPT-2-family tokenizers use.
type bytePairEncoder struct {
	vocab *vocabulary
	split *regexp2.Regexp
}

func newBytePairEncoder(v *vocabulary) *bytePairEncoder {
	return &bytePairEncoder{
		vocab: v,
		split: regexp2.MustCompile(v.pretokenizer, regexp2.RE2),
	}
}

// encode returns vocabulary IDs for text, without BOS/EOS — Tokenizer.Encode
// adds those.
func (e *bytePairEncoder) encode(text string) []int32 {
	var ids []int32
	for _, word := range e.splitWords(text) {
		ids = append(ids, e.encodeWord(word)...)
	}
	return ids
}

func (e *bytePairEncoder) splitWords(text string) []string {
	var words []string
	m, _ := e.split.FindStringMatch(text)
	for m != nil {
		words = append(words, m.String())
		m, _ = e.split.FindNextMatch(m)
	}
	return words
}

// encodeWord runs the merge loop over a single pretokenized fragment,
// represented as its sequence of byte-level symbols (UTF-8 runes kept
// whole — the byte-fallback path used by real BPE tokenizers for raw
// bytes is approximated by falling back to the unknown token ID).
func (e *bytePairEncoder) encodeWord(word string) []int32 {
	symbols := make([]string, 0, len(word))
	for _, r := range word {
		symbols = append(symbols, string(r))
	}
	if len(symbols) == 0 {
		return nil
	}

	for {
		bestRank, bestIdx := -1, -1
		for i := 0; i+1 < len(symbols); i++ {
			pair := symbols[i] + " " + symbols[i+1]
			if rank, ok := e.vocab.mergeRank[pair]; ok {
				if bestRank == -1 || rank < bestRank {
					bestRank, bestIdx = rank, i
				}
			}
		}
		if bestIdx == -1 {
			break
		}
		merged := symbols[bestIdx] + symbols[bestIdx+1]
		symbols = append(symbols[:bestIdx], append([]string{merged}, symbols[bestIdx+2:]...)...)
	}

	ids := make([]int32, 0, len(symbols))
	for _, s := range symbols {
		if id, ok := e.vocab.idOf(s); ok {
			ids = append(ids, id)
		} else {
			ids = append(ids, e.vocab.unk)
		}
	}
	return ids
}

// decode concatenates each token's vocabulary text unchanged; a "▁"
// word-initial space marker in the vocabulary is not translated or
// stripped.
func (e *bytePairEncoder) decode(ids []int32) string {
	var sb strings.Builder
	for _, id := range ids {
		sb.WriteString(e.vocab.textOf(id))
	}
	return sb.String()
}
