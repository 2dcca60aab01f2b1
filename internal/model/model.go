package model

import (
	"fmt"

	"github.com/noxlabs/noxrun/internal/gguf"
)

// Model owns the architecture-tagged weight state plus the memory map
// keeping its pages live. It is created once on load and closed once by
// its owning generator.
type Model struct {
	Metadata Metadata
	Path     string
	file     *gguf.File
	backend  Backend
}

// LoadOptions customises Load beyond the bare file path. OnProgress, when
// set, is invoked once with 1.0 after all tensor weights are materialised;
// no intermediate fractions are reported. It mirrors the progress hook
// real GGUF loaders expose on slow disks, even though spec.md doesn't
// require it.
type LoadOptions struct {
	OnProgress func(float32)
}

// Load memory-maps path, parses its GGUF header and metadata, dispatches
// to an architecture-specific weight layout, and returns the assembled
// Model plus its metadata summary.
func Load(path string, opts *LoadOptions) (*Model, error) {
	f, err := gguf.Open(path)
	if err != nil {
		return nil, err
	}

	md, err := buildMetadata(path, f.Content, f.Size())
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	variant, err := resolveVariant(md.Architecture)
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	ts, err := loadTensorSet(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if opts != nil && opts.OnProgress != nil {
		opts.OnProgress(1.0)
	}

	backend, err := newReferenceBackend(md, ts, variant)
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	return &Model{Metadata: md, Path: path, file: f, backend: backend}, nil
}

// RawContent exposes the parsed GGUF metadata/tensor table for callers
// that need to read tokenizer tables directly (internal/tokenizer).
func (m *Model) RawContent() *gguf.Content {
	return m.file.Content
}

// Forward runs tokens (length >= 1) through the model starting at the
// given absolute position, returning logits for the last position.
func (m *Model) Forward(tokens []int32, position int) ([]float32, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("forward requires at least one token")
	}
	return m.backend.Forward(tokens, position)
}

// Reset clears any internal KV state the backend keeps between calls. The
// generator calls it before every Generate/GenerateBatch prefill, before
// Warmup, and from ClearHistory.
func (m *Model) Reset() {
	m.backend.Reset()
}

// Close releases the memory map.
func (m *Model) Close() error {
	return m.file.Close()
}
