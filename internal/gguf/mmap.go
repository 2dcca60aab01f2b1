package gguf

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/exp/mmap"

	"github.com/noxlabs/noxrun/internal/nerr"
)

// maxPrefetch bounds the sequential warm-up read to spec.md §4.1's
// "min(128 MiB, file_size)".
const maxPrefetch = 128 << 20

// File is a memory-mapped GGUF file: the parsed Content plus a handle on
// the underlying mapping so tensor weight bytes can be read out lazily
// without copying the whole file into the Go heap.
type File struct {
	path    string
	size    int64
	mapping *mmap.ReaderAt
	Content *Content
}

// Open memory-maps path read-only, advises the kernel that access will be
// sequential (approximated here as an eager sequential warm-up read, since
// neither the stdlib nor golang.org/x/exp/mmap expose madvise), and parses
// the GGUF header/metadata/tensor-table.
func Open(path string) (*File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat model file: %w: %w", err, nerr.ErrIO)
	}

	m, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mmap model file: %w: %w", err, nerr.ErrIO)
	}

	if err := prefetch(path, info.Size()); err != nil {
		// Prefetch is an optimisation, not a correctness requirement; a
		// failure here does not block loading.
		_ = err
	}

	content, err := Read(io.NewSectionReader(m, 0, m.Len()))
	if err != nil {
		_ = m.Close()
		return nil, err
	}

	return &File{
		path:    path,
		size:    info.Size(),
		mapping: m,
		Content: content,
	}, nil
}

// Close unmaps the file.
func (f *File) Close() error {
	return f.mapping.Close()
}

// Size returns the mapped file's total byte size.
func (f *File) Size() int64 { return f.size }

// TensorBytes returns the raw weight bytes for the named tensor, copied
// out of the memory map into a newly allocated heap buffer of the
// tensor's byte size.
func (f *File) TensorBytes(t TensorInfo) ([]byte, error) {
	elemCount := uint64(1)
	for _, d := range t.Shape {
		elemCount *= d
	}
	size, err := tensorByteSize(t.Type, elemCount)
	if err != nil {
		return nil, err
	}

	start := int64(f.Content.DataOffset + t.Offset)
	buf := make([]byte, size)
	if _, err := f.mapping.ReadAt(buf, start); err != nil {
		return nil, fmt.Errorf("read tensor %q bytes: %w: %w", t.Name, err, nerr.ErrIO)
	}
	return buf, nil
}

func tensorByteSize(t TensorType, elemCount uint64) (int64, error) {
	switch t {
	case TensorF32:
		return int64(elemCount) * 4, nil
	case TensorF16, TensorBF16:
		return int64(elemCount) * 2, nil
	case TensorQ4_0:
		const blockSize, perBlock = 18, 32 // 2-byte scale + 16 packed nibble bytes
		return int64(elemCount/perBlock) * blockSize, nil
	case TensorQ4_1:
		const blockSize, perBlock = 20, 32
		return int64(elemCount/perBlock) * blockSize, nil
	case TensorQ5_0:
		const blockSize, perBlock = 22, 32
		return int64(elemCount/perBlock) * blockSize, nil
	case TensorQ5_1:
		const blockSize, perBlock = 24, 32
		return int64(elemCount/perBlock) * blockSize, nil
	case TensorQ8_0:
		const blockSize, perBlock = 34, 32
		return int64(elemCount/perBlock) * blockSize, nil
	default:
		return 0, fmt.Errorf("unsupported tensor element type %d", t)
	}
}

func prefetch(path string, size int64) error {
	want := size
	if want > maxPrefetch {
		want = maxPrefetch
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.CopyN(io.Discard, f, want)
	if err == io.EOF {
		return nil
	}
	return err
}
