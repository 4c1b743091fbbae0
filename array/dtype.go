package array

import (
	"strings"

	"github.com/jameshyojaelee/omnispatial/errors"
)

// DType is the element type of an array. All multi-byte types are stored
// little-endian.
type DType int

const (
	Bool DType = iota + 1
	Uint8
	Int8
	Uint16
	Int16
	Uint32
	Int32
	Uint64
	Int64
	Float32
	Float64
)

// ErrUnsupportedDType is returned for element types outside the DType set.
var ErrUnsupportedDType = errors.New("unsupported dtype")

type dtypeInfo struct {
	name string
	kind byte // numpy kind character
	size int
}

var dtypes = map[DType]dtypeInfo{
	Bool:    {"bool", 'b', 1},
	Uint8:   {"uint8", 'u', 1},
	Int8:    {"int8", 'i', 1},
	Uint16:  {"uint16", 'u', 2},
	Int16:   {"int16", 'i', 2},
	Uint32:  {"uint32", 'u', 4},
	Int32:   {"int32", 'i', 4},
	Uint64:  {"uint64", 'u', 8},
	Int64:   {"int64", 'i', 8},
	Float32: {"float32", 'f', 4},
	Float64: {"float64", 'f', 8},
}

// Size returns the element width in bytes, or 0 for an unknown DType.
func (d DType) Size() int {
	return dtypes[d].size
}

func (d DType) String() string {
	if info, ok := dtypes[d]; ok {
		return info.name
	}
	return "invalid"
}

// Descr returns the NumPy type descriptor, e.g. "<u2" or "|u1".
func (d DType) Descr() string {
	info, ok := dtypes[d]
	if !ok {
		return ""
	}
	order := "<"
	if info.size == 1 {
		order = "|"
	}
	return order + string(info.kind) + string(rune('0'+info.size))
}

// Valid reports whether d is a member of the DType set.
func (d DType) Valid() bool {
	_, ok := dtypes[d]
	return ok
}

// ParseDescr parses a NumPy type descriptor such as "<f4", "|u1" or "u2".
// Big-endian descriptors of multi-byte types are rejected.
func ParseDescr(descr string) (DType, error) {
	s := strings.TrimSpace(descr)
	if s == "" {
		return 0, errors.Wrap(ErrUnsupportedDType, "empty descriptor")
	}
	order := byte('<')
	if strings.ContainsRune("<>|=", rune(s[0])) {
		order = s[0]
		s = s[1:]
	}
	if len(s) != 2 {
		return 0, errors.Wrapf(ErrUnsupportedDType, "descriptor %q", descr)
	}
	kind, size := s[0], int(s[1]-'0')
	if order == '>' && size > 1 {
		return 0, errors.Wrapf(ErrUnsupportedDType, "big-endian descriptor %q", descr)
	}
	for d, info := range dtypes {
		if info.kind == kind && info.size == size {
			return d, nil
		}
	}
	return 0, errors.Wrapf(ErrUnsupportedDType, "descriptor %q", descr)
}

// ParseName parses a dtype name such as "uint16".
func ParseName(name string) (DType, error) {
	for d, info := range dtypes {
		if info.name == name {
			return d, nil
		}
	}
	return 0, errors.Wrapf(ErrUnsupportedDType, "dtype name %q", name)
}
