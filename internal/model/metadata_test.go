package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noxlabs/noxrun/internal/gguf"
	"github.com/noxlabs/noxrun/internal/nerr"
)

func contentWith(kv map[string]gguf.Value) *gguf.Content {
	return &gguf.Content{Metadata: kv}
}

func uintVal(u uint64) gguf.Value { return gguf.Value{Type: gguf.TypeUint32, Scalar: uint32(u)} }
func strVal(s string) gguf.Value  { return gguf.Value{Type: gguf.TypeString, Scalar: s} }

func TestBuildMetadataRequiredKeys(t *testing.T) {
	c := contentWith(map[string]gguf.Value{
		"general.architecture":  strVal("llama"),
		"llama.block_count":     uintVal(32),
		"llama.embedding_length": uintVal(4096),
		"llama.vocab_size":      uintVal(32000),
	})

	md, err := buildMetadata("model.gguf", c, 1024)
	require.NoError(t, err)
	require.Equal(t, "llama", md.Architecture)
	require.Equal(t, uint64(32), md.NLayer)
	require.Equal(t, uint64(DefaultContextLength), md.ContextLength)
}

func TestBuildMetadataMissingRequiredKeyFails(t *testing.T) {
	c := contentWith(map[string]gguf.Value{
		"general.architecture": strVal("llama"),
	})
	_, err := buildMetadata("model.gguf", c, 1024)
	require.Error(t, err)
}

func TestBuildMetadataDefaultsArchitectureToLlama(t *testing.T) {
	c := contentWith(map[string]gguf.Value{
		"llama.block_count":      uintVal(1),
		"llama.embedding_length": uintVal(8),
		"llama.vocab_size":       uintVal(10),
	})
	md, err := buildMetadata("model.gguf", c, 0)
	require.NoError(t, err)
	require.Equal(t, "llama", md.Architecture)
}

func TestResolveVariantLFM2(t *testing.T) {
	v, err := resolveVariant("lfm2")
	require.NoError(t, err)
	require.Equal(t, variantLFM2, v)
}

func TestResolveVariantUnknownFallsBackToLlamaFamily(t *testing.T) {
	v, err := resolveVariant("some-new-arch-nobody-heard-of")
	require.NoError(t, err)
	require.Equal(t, variantLlamaFamily, v)
}

func TestResolveVariantRejectsNonTransformerTags(t *testing.T) {
	_, err := resolveVariant("clip")
	require.Error(t, err)
	require.True(t, errors.Is(err, nerr.ErrArchitectureUnsupported))
}
