// Package model interprets a parsed GGUF file as a transformer model: it
// resolves the architecture-independent metadata fields, dispatches to an
// architecture-specific weight layout, and exposes a Forward contract
// backed by an external tensor library collaborator.
package model

import (
	"fmt"
	"path/filepath"

	"github.com/noxlabs/noxrun/internal/gguf"
	"github.com/noxlabs/noxrun/internal/nerr"
)

// DefaultContextLength is used when a GGUF file omits <arch>.context_length.
const DefaultContextLength = 4096

// Metadata is the architecture-independent summary of a loaded model,
// immutable once built.
type Metadata struct {
	Name          string
	Architecture  string
	NLayer        uint64
	NEmbd         uint64
	VocabSize     uint64
	ContextLength uint64
	FileSize      int64
	ChatTemplate  string // empty when the file carries none
	Quantization  string // empty when absent
}

// buildMetadata extracts the fields Load needs from a parsed GGUF file,
// enforcing the required-key and invariant rules spec.md §3/§4.1 names.
func buildMetadata(path string, c *gguf.Content, fileSize int64) (Metadata, error) {
	arch := c.String("", "architecture")
	if arch == "" {
		arch = "llama"
	}

	name := c.String("general", "name")
	if name == "" {
		name = filepath.Base(path)
	}

	nLayer, ok := c.Uint(arch, "block_count")
	if !ok {
		return Metadata{}, &nerr.MetadataMissing{Key: arch + ".block_count"}
	}
	nEmbd, ok := c.Uint(arch, "embedding_length")
	if !ok {
		return Metadata{}, &nerr.MetadataMissing{Key: arch + ".embedding_length"}
	}
	vocabSize, ok := c.Uint(arch, "vocab_size")
	if !ok {
		// Many real GGUF exports only carry vocab size implicitly, as the
		// length of the token list; fall back to that before giving up.
		if toks := c.Strings("tokenizer.ggml", "tokens"); len(toks) > 0 {
			vocabSize = uint64(len(toks))
			ok = true
		}
	}
	if !ok {
		return Metadata{}, &nerr.MetadataMissing{Key: arch + ".vocab_size"}
	}

	contextLength, _ := c.Uint(arch, "context_length", DefaultContextLength)
	if contextLength == 0 {
		contextLength = DefaultContextLength
	}

	md := Metadata{
		Name:          name,
		Architecture:  arch,
		NLayer:        nLayer,
		NEmbd:         nEmbd,
		VocabSize:     vocabSize,
		ContextLength: contextLength,
		FileSize:      fileSize,
		ChatTemplate:  c.String("tokenizer", "chat_template"),
		Quantization:  c.String("general", "quantization"),
	}

	if err := md.validate(); err != nil {
		return Metadata{}, err
	}
	return md, nil
}

func (m Metadata) validate() error {
	switch {
	case m.NLayer == 0:
		return fmt.Errorf("metadata invariant violated: n_layer must be > 0: %w", nerr.ErrMetadataType)
	case m.NEmbd == 0:
		return fmt.Errorf("metadata invariant violated: n_embd must be > 0: %w", nerr.ErrMetadataType)
	case m.VocabSize == 0:
		return fmt.Errorf("metadata invariant violated: vocab_size must be > 0: %w", nerr.ErrMetadataType)
	case m.ContextLength == 0:
		return fmt.Errorf("metadata invariant violated: context_length must be > 0: %w", nerr.ErrMetadataType)
	}
	return nil
}
