package tokenizer

import (
	"fmt"
	"log/slog"
	"sync"
	"unicode/utf8"

	"github.com/noxlabs/noxrun/internal/gguf"
	"github.com/noxlabs/noxrun/internal/nerr"
)

// Tokenizer encodes prompt text to token IDs and decodes IDs back to text,
// including the suffix-delta incremental decode the generator streams
// tokens through.
type Tokenizer struct {
	vocab   *vocabulary
	bpe     *bytePairEncoder
	pending []int32
	decoded string
}

// FromGGUF builds a Tokenizer from the tokenizer.ggml.* tables embedded in
// a parsed GGUF file, consulting (and populating) the on-disk cache keyed
// by the source model's content fingerprint.
func FromGGUF(modelPath string, content *gguf.Content, arch string) (*Tokenizer, error) {
	if fp, err := fingerprint(modelPath); err == nil {
		if v, ok := loadCached(fp); ok {
			return newTokenizer(v), nil
		}
	}

	v := vocabFromGGUF(content, arch)
	if v.size() == 0 {
		return nil, fmt.Errorf("no tokenizer.ggml.tokens table in model: %w", nerr.ErrTokenizerLoad)
	}

	if fp, err := fingerprint(modelPath); err == nil {
		// best-effort; failures are logged and swallowed per spec.md §4.2
		if err := storeCached(fp, v); err != nil {
			slog.Default().Warn("tokenizer cache write failed", "error", err)
		}
	}

	return newTokenizer(v), nil
}

// FromDescriptorFile builds a Tokenizer from a standalone GGUF-shaped
// tokenizer descriptor (a file carrying only the tokenizer.ggml.* keys,
// no weight tensors) — the path spec.md §4.2 names as the second
// constructor.
func FromDescriptorFile(path string, arch string) (*Tokenizer, error) {
	f, err := gguf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer descriptor: %w", err)
	}
	defer f.Close()

	v := vocabFromGGUF(f.Content, arch)
	if v.size() == 0 {
		return nil, fmt.Errorf("tokenizer descriptor %q has no tokenizer.ggml.tokens table: %w", path, nerr.ErrTokenizerLoad)
	}
	return newTokenizer(v), nil
}

func newTokenizer(v *vocabulary) *Tokenizer {
	return &Tokenizer{vocab: v, bpe: newBytePairEncoder(v)}
}

// Encode tokenizes text into vocabulary IDs with a leading BOS (when the
// vocabulary's add_bos_token flag is set).
func (t *Tokenizer) Encode(text string) []int32 {
	ids := t.bpe.encode(text)
	if t.vocab.addBOS {
		ids = append([]int32{t.vocab.bos}, ids...)
	}
	if t.vocab.addEOS {
		ids = append(ids, t.vocab.eos)
	}
	return ids
}

// EncodeBatch tokenizes each prompt independently, one goroutine per
// prompt — the parallel-tokenize step of Generator.GenerateBatch.
func (t *Tokenizer) EncodeBatch(texts []string) [][]int32 {
	out := make([][]int32, len(texts))
	var wg sync.WaitGroup
	for i, s := range texts {
		wg.Add(1)
		go func(i int, s string) {
			defer wg.Done()
			out[i] = t.Encode(s)
		}(i, s)
	}
	wg.Wait()
	return out
}

// Decode renders a full token ID sequence to text in one pass.
func (t *Tokenizer) Decode(ids []int32) string {
	return t.bpe.decode(ids)
}

// DecodeBatch decodes each sequence independently.
func (t *Tokenizer) DecodeBatch(batches [][]int32) []string {
	out := make([]string, len(batches))
	for i, ids := range batches {
		out[i] = t.Decode(ids)
	}
	return out
}

// EOS returns the end-of-sequence token ID.
func (t *Tokenizer) EOS() int32 { return t.vocab.eos }

// VocabSize returns the number of entries in the vocabulary table.
func (t *Tokenizer) VocabSize() int { return t.vocab.size() }

// IsSpecialToken reports whether id is a control/special token (BOS, EOS,
// and similar non-content entries).
func (t *Tokenizer) IsSpecialToken(id int32) bool { return t.vocab.isSpecial(id) }

// DecodeNext pushes id onto the pending buffer, decodes the whole buffer,
// and returns the suffix not present in the previously returned decode —
// withholding output until that suffix is valid UTF-8, so a token that
// only completes part of a multi-byte sequence never surfaces replacement
// characters.
func (t *Tokenizer) DecodeNext(id int32) (string, bool) {
	t.pending = append(t.pending, id)
	full := t.bpe.decode(t.pending)

	if len(full) <= len(t.decoded) || !utf8.ValidString(full) {
		return "", false
	}

	suffix := full[len(t.decoded):]
	if !utf8.ValidString(suffix) {
		return "", false
	}
	t.decoded = full
	return suffix, true
}

// DecodeRest flushes any tail DecodeNext withheld. Returns ok=false when
// there is nothing pending or nothing was withheld.
func (t *Tokenizer) DecodeRest() (string, bool) {
	if len(t.pending) == 0 {
		return "", false
	}
	full := t.bpe.decode(t.pending)
	if len(full) <= len(t.decoded) {
		return "", false
	}
	tail := full[len(t.decoded):]
	t.decoded = full
	return tail, true
}

// ClearPending empties the pending buffer and cached decode prefix.
// Idempotent.
func (t *Tokenizer) ClearPending() {
	t.pending = t.pending[:0]
	t.decoded = ""
}
