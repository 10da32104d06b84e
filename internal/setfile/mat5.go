package setfile

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"unicode/utf16"
)

/*
MAT-file v5 reader

EEGLAB .set files are MATLAB level-5 MAT-files holding a single struct
variable named EEG. This file implements the subset of the container needed
to read them:

FILE LAYOUT (all elements 8-byte aligned):
├── Header (128 bytes)
│   ├── Descriptive text (116 bytes)
│   ├── Subsystem data offset (8 bytes, unused here)
│   ├── Version (2 bytes, 0x0100)
│   └── Endian indicator (2 bytes: "IM" = little-endian file, "MI" = big)
└── Data elements, each:
    ├── Tag: uint32 data type + uint32 byte count
    │   (small element format packs type and count into the first word
    │    when the payload fits in 4 bytes)
    └── Payload, padded to the next 8-byte boundary

An miMATRIX payload is itself a sequence of sub-elements: array flags,
dimensions, name, then class-specific content. miCOMPRESSED elements wrap a
single zlib-deflated element; MATLAB writes them without trailing padding,
so the cursor must not re-align after one.

Supported classes: numeric (double/single/int/uint), char, struct, cell.
Sparse and object arrays are out of scope for EEGLAB sets.
*/

// MAT-file data element types.
const (
	miINT8       = 1
	miUINT8      = 2
	miINT16      = 3
	miUINT16     = 4
	miINT32      = 5
	miUINT32     = 6
	miSINGLE     = 7
	miDOUBLE     = 9
	miINT64      = 12
	miUINT64     = 13
	miMATRIX     = 14
	miCOMPRESSED = 15
	miUTF8       = 16
	miUTF16      = 17
)

// MATLAB array classes.
const (
	mxCELL   = 1
	mxSTRUCT = 2
	mxOBJECT = 3
	mxCHAR   = 4
	mxSPARSE = 5
	mxDOUBLE = 6
	mxSINGLE = 7
	mxINT8   = 8
	mxUINT8  = 9
	mxINT16  = 10
	mxUINT16 = 11
	mxINT32  = 12
	mxUINT32 = 13
	mxINT64  = 14
	mxUINT64 = 15
)

const (
	matHeaderSize   = 128 // fixed header before the first element
	matEndianOffset = 126 // 2-byte endian indicator within the header
	matAlignment    = 8   // element payloads pad to this boundary
	maxDecompressed = 1 << 31
)

// matValue is one decoded MATLAB array.
type matValue struct {
	class int
	dims  []int

	num     []float64            // numeric classes, column-major
	str     string               // mxCHAR
	structs []map[string]*matValue // mxSTRUCT: one field map per array element
	cells   []*matValue          // mxCELL, column-major
}

// numElems returns the product of the dimensions.
func (v *matValue) numElems() int {
	if len(v.dims) == 0 {
		return 0
	}
	n := 1
	for _, d := range v.dims {
		n *= d
	}
	return n
}

// scalar returns the single numeric value of a 1x1 array.
func (v *matValue) scalar() (float64, error) {
	if v == nil || len(v.num) == 0 {
		return 0, fmt.Errorf("not a numeric scalar")
	}
	return v.num[0], nil
}

// parseMAT decodes all top-level variables of a MAT-file v5 byte stream.
func parseMAT(data []byte) (map[string]*matValue, error) {
	if len(data) < matHeaderSize {
		return nil, fmt.Errorf("file too short for MAT header: %d bytes", len(data))
	}

	var order binary.ByteOrder
	switch string(data[matEndianOffset : matEndianOffset+2]) {
	case "IM":
		order = binary.LittleEndian
	case "MI":
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("bad endian indicator %q, not a MAT-file v5", data[matEndianOffset:matEndianOffset+2])
	}

	vars := make(map[string]*matValue)
	offset := matHeaderSize
	for offset < len(data) {
		typ, payload, next, err := readElement(data, offset, order)
		if err != nil {
			return nil, fmt.Errorf("element at offset %d: %w", offset, err)
		}

		if typ == miCOMPRESSED {
			inner, err := inflate(payload)
			if err != nil {
				return nil, fmt.Errorf("element at offset %d: %w", offset, err)
			}
			var innerNext int
			typ, payload, innerNext, err = readElement(inner, 0, order)
			if err != nil {
				return nil, fmt.Errorf("compressed element at offset %d: %w", offset, err)
			}
			_ = innerNext
		}

		if typ == miMATRIX {
			name, v, err := parseMatrix(payload, order)
			if err != nil {
				return nil, fmt.Errorf("matrix at offset %d: %w", offset, err)
			}
			vars[name] = v
		}
		// Non-matrix top-level elements are legal but carry nothing we
		// need; skip them.

		offset = next
	}
	return vars, nil
}

// readElement decodes one tagged element starting at off. It returns the
// element type, its payload, and the offset of the next element.
func readElement(data []byte, off int, order binary.ByteOrder) (typ int, payload []byte, next int, err error) {
	if off+8 > len(data) {
		return 0, nil, 0, fmt.Errorf("truncated element tag: %d bytes left", len(data)-off)
	}

	first := order.Uint32(data[off : off+4])
	if first>>16 != 0 {
		// Small element: type and byte count share the first word, the
		// payload lives in the second.
		size := int(first >> 16)
		typ = int(first & 0xFFFF)
		if size > 4 {
			return 0, nil, 0, fmt.Errorf("small element with %d bytes", size)
		}
		return typ, data[off+4 : off+4+size], off + 8, nil
	}

	typ = int(first)
	size := int(order.Uint32(data[off+4 : off+8]))
	if off+8+size > len(data) {
		return 0, nil, 0, fmt.Errorf("element payload overruns file: need %d bytes, have %d", size, len(data)-off-8)
	}
	payload = data[off+8 : off+8+size]

	next = off + 8 + size
	// MATLAB omits the trailing pad on compressed elements.
	if typ != miCOMPRESSED {
		if rem := next % matAlignment; rem != 0 {
			next += matAlignment - rem
		}
	}
	if next > len(data) {
		next = len(data)
	}
	return typ, payload, next, nil
}

func inflate(payload []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("zlib: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(io.LimitReader(zr, maxDecompressed))
	if err != nil {
		return nil, fmt.Errorf("zlib: %w", err)
	}
	return out, nil
}

// parseMatrix decodes an miMATRIX payload into a matValue.
func parseMatrix(payload []byte, order binary.ByteOrder) (string, *matValue, error) {
	cur := 0

	// Array flags: two uint32 words; class lives in the low byte of the
	// first word.
	typ, flagBytes, next, err := readElement(payload, cur, order)
	if err != nil {
		return "", nil, fmt.Errorf("array flags: %w", err)
	}
	if typ != miUINT32 || len(flagBytes) < 8 {
		return "", nil, fmt.Errorf("array flags have type %d size %d", typ, len(flagBytes))
	}
	flags := order.Uint32(flagBytes[0:4])
	class := int(flags & 0xFF)
	cur = next

	// Dimensions.
	typ, dimBytes, next, err := readElement(payload, cur, order)
	if err != nil {
		return "", nil, fmt.Errorf("dimensions: %w", err)
	}
	if typ != miINT32 {
		return "", nil, fmt.Errorf("dimensions have type %d", typ)
	}
	dims := make([]int, len(dimBytes)/4)
	for i := range dims {
		dims[i] = int(int32(order.Uint32(dimBytes[i*4 : i*4+4])))
	}
	cur = next

	// Array name.
	_, nameBytes, next, err := readElement(payload, cur, order)
	if err != nil {
		return "", nil, fmt.Errorf("name: %w", err)
	}
	name := string(nameBytes)
	cur = next

	v := &matValue{class: class, dims: dims}

	switch class {
	case mxDOUBLE, mxSINGLE, mxINT8, mxUINT8, mxINT16, mxUINT16, mxINT32, mxUINT32, mxINT64, mxUINT64:
		if cur >= len(payload) {
			break // empty numeric array: no data sub-element
		}
		typ, dataBytes, _, err := readElement(payload, cur, order)
		if err != nil {
			return "", nil, fmt.Errorf("numeric data: %w", err)
		}
		v.num, err = decodeNumeric(typ, dataBytes, order)
		if err != nil {
			return "", nil, err
		}
		if want := v.numElems(); len(v.num) < want {
			return "", nil, fmt.Errorf("numeric array %q has %d values for dims %v", name, len(v.num), dims)
		}

	case mxCHAR:
		if cur >= len(payload) {
			break
		}
		typ, dataBytes, _, err := readElement(payload, cur, order)
		if err != nil {
			return "", nil, fmt.Errorf("char data: %w", err)
		}
		v.str, err = decodeChars(typ, dataBytes, order)
		if err != nil {
			return "", nil, fmt.Errorf("char array %q: %w", name, err)
		}

	case mxSTRUCT:
		if err := parseStruct(v, payload[cur:], order); err != nil {
			return "", nil, fmt.Errorf("struct %q: %w", name, err)
		}

	case mxCELL:
		n := v.numElems()
		for i := 0; i < n; i++ {
			typ, sub, next, err := readElement(payload, cur, order)
			if err != nil {
				return "", nil, fmt.Errorf("cell %d: %w", i, err)
			}
			if typ != miMATRIX {
				return "", nil, fmt.Errorf("cell %d has element type %d", i, typ)
			}
			_, cv, err := parseMatrix(sub, order)
			if err != nil {
				return "", nil, fmt.Errorf("cell %d: %w", i, err)
			}
			v.cells = append(v.cells, cv)
			cur = next
		}

	case mxSPARSE, mxOBJECT:
		return "", nil, fmt.Errorf("array %q has unsupported class %d", name, class)

	default:
		return "", nil, fmt.Errorf("array %q has unknown class %d", name, class)
	}

	return name, v, nil
}

// parseStruct decodes the struct-specific sub-elements: field name length,
// packed field names, then one miMATRIX per field per array element,
// element-major.
func parseStruct(v *matValue, payload []byte, order binary.ByteOrder) error {
	cur := 0

	typ, lenBytes, next, err := readElement(payload, cur, order)
	if err != nil {
		return fmt.Errorf("field name length: %w", err)
	}
	if typ != miINT32 || len(lenBytes) < 4 {
		return fmt.Errorf("field name length has type %d size %d", typ, len(lenBytes))
	}
	nameLen := int(int32(order.Uint32(lenBytes[0:4])))
	if nameLen <= 0 {
		return fmt.Errorf("bad field name length %d", nameLen)
	}
	cur = next

	typ, namesBytes, next, err := readElement(payload, cur, order)
	if err != nil {
		return fmt.Errorf("field names: %w", err)
	}
	if typ != miINT8 {
		return fmt.Errorf("field names have type %d", typ)
	}
	if len(namesBytes)%nameLen != 0 {
		return fmt.Errorf("field names size %d not a multiple of %d", len(namesBytes), nameLen)
	}
	nFields := len(namesBytes) / nameLen
	fields := make([]string, nFields)
	for i := 0; i < nFields; i++ {
		raw := namesBytes[i*nameLen : (i+1)*nameLen]
		fields[i] = string(bytes.TrimRight(raw, "\x00"))
	}
	cur = next

	n := v.numElems()
	v.structs = make([]map[string]*matValue, 0, n)
	for e := 0; e < n; e++ {
		elem := make(map[string]*matValue, nFields)
		for _, f := range fields {
			typ, sub, next, err := readElement(payload, cur, order)
			if err != nil {
				return fmt.Errorf("element %d field %q: %w", e, f, err)
			}
			if typ != miMATRIX {
				return fmt.Errorf("element %d field %q has type %d", e, f, typ)
			}
			_, fv, err := parseMatrix(sub, order)
			if err != nil {
				return fmt.Errorf("element %d field %q: %w", e, f, err)
			}
			elem[f] = fv
			cur = next
		}
		v.structs = append(v.structs, elem)
	}
	return nil
}

// decodeNumeric converts a raw data sub-element of any integer or float
// storage type into float64 values. MATLAB freely narrows storage (doubles
// written as uint8 when the values fit), so the storage type is independent
// of the array class.
func decodeNumeric(typ int, data []byte, order binary.ByteOrder) ([]float64, error) {
	switch typ {
	case miINT8:
		out := make([]float64, len(data))
		for i, b := range data {
			out[i] = float64(int8(b))
		}
		return out, nil
	case miUINT8:
		out := make([]float64, len(data))
		for i, b := range data {
			out[i] = float64(b)
		}
		return out, nil
	case miINT16:
		out := make([]float64, len(data)/2)
		for i := range out {
			out[i] = float64(int16(order.Uint16(data[i*2:])))
		}
		return out, nil
	case miUINT16:
		out := make([]float64, len(data)/2)
		for i := range out {
			out[i] = float64(order.Uint16(data[i*2:]))
		}
		return out, nil
	case miINT32:
		out := make([]float64, len(data)/4)
		for i := range out {
			out[i] = float64(int32(order.Uint32(data[i*4:])))
		}
		return out, nil
	case miUINT32:
		out := make([]float64, len(data)/4)
		for i := range out {
			out[i] = float64(order.Uint32(data[i*4:]))
		}
		return out, nil
	case miINT64:
		out := make([]float64, len(data)/8)
		for i := range out {
			out[i] = float64(int64(order.Uint64(data[i*8:])))
		}
		return out, nil
	case miUINT64:
		out := make([]float64, len(data)/8)
		for i := range out {
			out[i] = float64(order.Uint64(data[i*8:]))
		}
		return out, nil
	case miSINGLE:
		out := make([]float64, len(data)/4)
		for i := range out {
			out[i] = float64(math.Float32frombits(order.Uint32(data[i*4:])))
		}
		return out, nil
	case miDOUBLE:
		out := make([]float64, len(data)/8)
		for i := range out {
			out[i] = math.Float64frombits(order.Uint64(data[i*8:]))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported numeric storage type %d", typ)
	}
}

// decodeChars converts char array storage into a Go string. MATLAB writes
// chars as UTF-16 code units (miUINT16) by default; compressed writers may
// narrow to bytes.
func decodeChars(typ int, data []byte, order binary.ByteOrder) (string, error) {
	switch typ {
	case miUINT16, miUTF16:
		units := make([]uint16, len(data)/2)
		for i := range units {
			units[i] = order.Uint16(data[i*2:])
		}
		return string(utf16.Decode(units)), nil
	case miINT8, miUINT8, miUTF8:
		return string(data), nil
	default:
		return "", fmt.Errorf("unsupported char storage type %d", typ)
	}
}
