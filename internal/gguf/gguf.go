// Package gguf parses the GGUF container format: a magic-prefixed header,
// a self-describing key/value metadata section, a tensor descriptor
// table, and a weight data region. It does not interpret model
// semantics — that is internal/model's job — it only gives structured
// access to the bytes on disk.
package gguf

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/noxlabs/noxrun/internal/nerr"
)

const (
	magic        uint32 = 0x46554747 // "GGUF" little-endian
	defaultAlign uint32 = 32
)

// ValueType is the GGUF metadata value type tag.
type ValueType uint32

const (
	TypeUint8 ValueType = iota
	TypeInt8
	TypeUint16
	TypeInt16
	TypeUint32
	TypeInt32
	TypeFloat32
	TypeBool
	TypeString
	TypeArray
	TypeUint64
	TypeInt64
	TypeFloat64
)

// TensorType is the GGML tensor element type tag stored per tensor
// descriptor. Only a subset is named; anything else is kept as an opaque
// quantized block handed untouched to the external tensor backend.
type TensorType uint32

const (
	TensorF32  TensorType = 0
	TensorF16  TensorType = 1
	TensorQ4_0 TensorType = 2
	TensorQ4_1 TensorType = 3
	TensorQ5_0 TensorType = 6
	TensorQ5_1 TensorType = 7
	TensorQ8_0 TensorType = 8
	TensorBF16 TensorType = 30
)

// Value is a single decoded metadata entry.
type Value struct {
	Type  ValueType
	Scalar any   // bool, uint8..uint64, int8..int64, float32, float64, or string
	Array  []Value // populated when Type == TypeArray
}

// TensorInfo describes one weight tensor's name, shape, element type, and
// byte offset (relative to the start of the data section).
type TensorInfo struct {
	Name   string
	Shape  []uint64
	Type   TensorType
	Offset uint64
}

// Content is the fully parsed metadata+tensor-table view of a GGUF file.
// Weight bytes themselves stay in the memory map; Content only records
// where to find them.
type Content struct {
	Version     uint32
	TensorCount uint64
	Metadata    map[string]Value
	Tensors     []TensorInfo
	Alignment   uint32
	// DataOffset is the absolute byte offset, from the start of the file,
	// where the (alignment-padded) tensor data region begins.
	DataOffset uint64
}

// Read parses a GGUF header, metadata section, and tensor descriptor
// table from r. r must be positioned at the start of the file.
func Read(r io.Reader) (*Content, error) {
	var hdr struct {
		Magic       uint32
		Version     uint32
		TensorCount uint64
		KVCount     uint64
	}

	// v1 GGUF used 32-bit tensor/kv counts; v2+ uses 64-bit. We only
	// support v2+, which is what every modern GGUF export (llama.cpp,
	// ollama's converter) produces.
	if err := binary.Read(r, binary.LittleEndian, &hdr.Magic); err != nil {
		return nil, fmt.Errorf("read magic: %w", joinIO(err))
	}
	if hdr.Magic != magic {
		return nil, fmt.Errorf("not a GGUF file (bad magic 0x%x): %w", hdr.Magic, nerr.ErrIO)
	}
	if err := binary.Read(r, binary.LittleEndian, &hdr.Version); err != nil {
		return nil, fmt.Errorf("read version: %w", joinIO(err))
	}
	if err := binary.Read(r, binary.LittleEndian, &hdr.TensorCount); err != nil {
		return nil, fmt.Errorf("read tensor count: %w", joinIO(err))
	}
	if err := binary.Read(r, binary.LittleEndian, &hdr.KVCount); err != nil {
		return nil, fmt.Errorf("read kv count: %w", joinIO(err))
	}

	c := &Content{
		Version:     hdr.Version,
		TensorCount: hdr.TensorCount,
		Metadata:    make(map[string]Value, hdr.KVCount),
		Alignment:   defaultAlign,
	}

	var bytesRead uint64 = 4 + 4 + 8 + 8

	for i := uint64(0); i < hdr.KVCount; i++ {
		key, n, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("read metadata key %d: %w", i, joinIO(err))
		}
		bytesRead += n
		val, n, err := readValue(r)
		if err != nil {
			return nil, fmt.Errorf("read metadata value for %q: %w", key, joinIO(err))
		}
		bytesRead += n
		c.Metadata[key] = val
	}

	if v, ok := c.Metadata["general.alignment"]; ok {
		if u, ok := asUint(v); ok && u > 0 {
			c.Alignment = uint32(u)
		}
	}

	c.Tensors = make([]TensorInfo, 0, hdr.TensorCount)
	for i := uint64(0); i < hdr.TensorCount; i++ {
		name, n, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("read tensor name %d: %w", i, joinIO(err))
		}
		bytesRead += n

		var nDims uint32
		if err := binary.Read(r, binary.LittleEndian, &nDims); err != nil {
			return nil, fmt.Errorf("read tensor ndims for %q: %w", name, joinIO(err))
		}
		bytesRead += 4

		shape := make([]uint64, nDims)
		for d := range shape {
			if err := binary.Read(r, binary.LittleEndian, &shape[d]); err != nil {
				return nil, fmt.Errorf("read tensor dim for %q: %w", name, joinIO(err))
			}
			bytesRead += 8
		}

		var ttype uint32
		if err := binary.Read(r, binary.LittleEndian, &ttype); err != nil {
			return nil, fmt.Errorf("read tensor type for %q: %w", name, joinIO(err))
		}
		bytesRead += 4

		var offset uint64
		if err := binary.Read(r, binary.LittleEndian, &offset); err != nil {
			return nil, fmt.Errorf("read tensor offset for %q: %w", name, joinIO(err))
		}
		bytesRead += 8

		c.Tensors = append(c.Tensors, TensorInfo{
			Name:   name,
			Shape:  shape,
			Type:   TensorType(ttype),
			Offset: offset,
		})
	}

	align := uint64(c.Alignment)
	if align == 0 {
		align = uint64(defaultAlign)
	}
	c.DataOffset = (bytesRead + align - 1) / align * align

	return c, nil
}

func joinIO(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return fmt.Errorf("%v: %w", err, nerr.ErrIO)
	}
	return err
}

func readString(r io.Reader) (string, uint64, error) {
	var n uint64
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", 0, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", 0, err
	}
	return string(buf), 8 + n, nil
}

func readValue(r io.Reader) (Value, uint64, error) {
	var vt uint32
	if err := binary.Read(r, binary.LittleEndian, &vt); err != nil {
		return Value{}, 0, err
	}
	v, n, err := readValueOfType(r, ValueType(vt))
	return v, 4 + n, err
}

func readValueOfType(r io.Reader, vt ValueType) (Value, uint64, error) {
	switch vt {
	case TypeUint8:
		var x uint8
		err := binary.Read(r, binary.LittleEndian, &x)
		return Value{Type: vt, Scalar: x}, 1, err
	case TypeInt8:
		var x int8
		err := binary.Read(r, binary.LittleEndian, &x)
		return Value{Type: vt, Scalar: x}, 1, err
	case TypeUint16:
		var x uint16
		err := binary.Read(r, binary.LittleEndian, &x)
		return Value{Type: vt, Scalar: x}, 2, err
	case TypeInt16:
		var x int16
		err := binary.Read(r, binary.LittleEndian, &x)
		return Value{Type: vt, Scalar: x}, 2, err
	case TypeUint32:
		var x uint32
		err := binary.Read(r, binary.LittleEndian, &x)
		return Value{Type: vt, Scalar: x}, 4, err
	case TypeInt32:
		var x int32
		err := binary.Read(r, binary.LittleEndian, &x)
		return Value{Type: vt, Scalar: x}, 4, err
	case TypeFloat32:
		var x float32
		err := binary.Read(r, binary.LittleEndian, &x)
		return Value{Type: vt, Scalar: x}, 4, err
	case TypeBool:
		var x uint8
		err := binary.Read(r, binary.LittleEndian, &x)
		return Value{Type: vt, Scalar: x != 0}, 1, err
	case TypeUint64:
		var x uint64
		err := binary.Read(r, binary.LittleEndian, &x)
		return Value{Type: vt, Scalar: x}, 8, err
	case TypeInt64:
		var x int64
		err := binary.Read(r, binary.LittleEndian, &x)
		return Value{Type: vt, Scalar: x}, 8, err
	case TypeFloat64:
		var x float64
		err := binary.Read(r, binary.LittleEndian, &x)
		return Value{Type: vt, Scalar: x}, 8, err
	case TypeString:
		s, n, err := readString(r)
		return Value{Type: vt, Scalar: s}, n, err
	case TypeArray:
		var elemType uint32
		if err := binary.Read(r, binary.LittleEndian, &elemType); err != nil {
			return Value{}, 0, err
		}
		var count uint64
		if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
			return Value{}, 4, err
		}
		var total uint64 = 12
		arr := make([]Value, 0, count)
		for i := uint64(0); i < count; i++ {
			ev, n, err := readValueOfType(r, ValueType(elemType))
			if err != nil {
				return Value{}, total, err
			}
			total += n
			arr = append(arr, ev)
		}
		return Value{Type: vt, Array: arr}, total, nil
	default:
		return Value{}, 0, fmt.Errorf("unknown gguf value type %d", vt)
	}
}

func asUint(v Value) (uint64, bool) {
	switch x := v.Scalar.(type) {
	case uint8:
		return uint64(x), true
	case uint16:
		return uint64(x), true
	case uint32:
		return uint64(x), true
	case uint64:
		return x, true
	case int8:
		return uint64(x), true
	case int16:
		return uint64(x), true
	case int32:
		return uint64(x), true
	case int64:
		return uint64(x), true
	}
	return 0, false
}
