package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// toyVocab builds a tiny byte-level vocabulary (every token is a single
// ASCII rune plus BOS/EOS) so the merge loop is a no-op and encode/decode
// is exactly reversible — enough to exercise the streaming-decode and
// round-trip properties without a real GGUF fixture.
func toyVocab(t *testing.T) *Tokenizer {
	t.Helper()
	tokens := []string{"<bos>", "<eos>", "<unk>"}
	for c := 'a'; c <= 'z'; c++ {
		tokens = append(tokens, string(c))
	}
	tokens = append(tokens, " ")
	types := make([]uint32, len(tokens))
	v := buildVocabulary(tokens, types, nil, 0, 1, 2, true, false, `.`)
	return newTokenizer(v)
}

func TestEncodeAddsBOS(t *testing.T) {
	tok := toyVocab(t)
	ids := tok.Encode("ab")
	require.Equal(t, int32(0), ids[0])
}

func TestDecodeNextConcatenationMatchesFullDecode(t *testing.T) {
	tok := toyVocab(t)
	ids := tok.Encode("hello world")

	var streamed string
	for _, id := range ids {
		if frag, ok := tok.DecodeNext(id); ok {
			streamed += frag
		}
	}
	if tail, ok := tok.DecodeRest(); ok {
		streamed += tail
	}

	require.Equal(t, tok.Decode(ids), streamed)
}

func TestClearPendingIsIdempotent(t *testing.T) {
	tok := toyVocab(t)
	tok.DecodeNext(tok.vocab.bos)
	tok.ClearPending()
	tok.ClearPending()
	require.Empty(t, tok.pending)
	require.Empty(t, tok.decoded)
}

func TestEncodeDecodeEncodeFixedPoint(t *testing.T) {
	tok := toyVocab(t)
	s := "the quick fox"
	ids1 := tok.bpe.encode(s)
	roundTripped := tok.bpe.decode(ids1)
	ids2 := tok.bpe.encode(roundTripped)
	require.Equal(t, ids1, ids2)
}
