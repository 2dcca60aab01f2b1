package gguf

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildMinimal writes a tiny well-formed GGUF byte stream with one string
// metadata key and no tensors, for header/metadata parsing tests.
func buildMinimal(t *testing.T, kv map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer

	require.NoError(t, binary.Write(&buf, binary.LittleEndian, magic))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(3)))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint64(0))) // tensor count
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint64(len(kv))))

	for k, v := range kv {
		writeString(t, &buf, k)
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(TypeString)))
		writeString(t, &buf, v)
	}
	return buf.Bytes()
}

func writeString(t *testing.T, buf *bytes.Buffer, s string) {
	t.Helper()
	require.NoError(t, binary.Write(buf, binary.LittleEndian, uint64(len(s))))
	buf.WriteString(s)
}

func TestReadRejectsBadMagic(t *testing.T) {
	bad := []byte{0, 0, 0, 0, 1, 0, 0, 0}
	_, err := Read(bytes.NewReader(bad))
	require.Error(t, err)
}

func TestReadParsesMetadata(t *testing.T) {
	raw := buildMinimal(t, map[string]string{"general.architecture": "llama"})
	c, err := Read(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, uint32(3), c.Version)

	v, ok := c.Metadata["general.architecture"]
	require.True(t, ok)
	require.Equal(t, "llama", v.Scalar)
}

func TestLookupFallsBackThroughWildcardThenPrefix(t *testing.T) {
	c := &Content{Metadata: map[string]Value{
		"qwen.block_count": {Type: TypeUint32, Scalar: uint32(12)},
	}}

	v, ok := c.Lookup("llama", "block_count")
	require.True(t, ok, "expected wildcard match on *.block_count")
	n, ok := asUint(v)
	require.True(t, ok)
	require.Equal(t, uint64(12), n)
}

func TestLookupUsesFallbackPrefixList(t *testing.T) {
	c := &Content{Metadata: map[string]Value{
		"llama.rope.freq_base": {Type: TypeFloat32, Scalar: float32(10000)},
	}}

	got := c.Float("totallyunknown", "rope.freq_base")
	require.Equal(t, float32(10000), got)
}

func TestDataOffsetIsAlignmentPadded(t *testing.T) {
	raw := buildMinimal(t, map[string]string{"general.alignment": "not-used"})
	c, err := Read(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, uint64(0), c.DataOffset%uint64(c.Alignment))
}
