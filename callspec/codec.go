package callspec

import (
	"errors"
	"fmt"

	ssz "github.com/ferranbt/fastssz"
)

// The binary form follows SSZ container rules: a fixed header whose tail is
// a table of 4-byte offsets, then the variable-size parts in order. Lists of
// variable-size items are an offset table followed by the items.

var (
	ErrUnknownKind   = errors.New("callspec: unknown value kind")
	ErrUnknownScalar = errors.New("callspec: unknown scalar type")
	ErrInvalidBool   = errors.New("callspec: invalid bool byte")
	ErrTooDeep       = errors.New("callspec: value nesting too deep")
	ErrStrayChildren = errors.New("callspec: children on a non-aggregate value")
)

// MaxDepth bounds struct/vector nesting accepted by the decoder.
const MaxDepth = 64

const (
	valueFixed    = 1 + 1 + 8 + 8 + 5*4
	funcSpecFixed = 3 * 4
	funcCallFixed = 2 * 4
	execSpecFixed = 1 + 4
)

var kindCodes = [...]Kind{"", KindScalar, KindStruct, KindEnum, KindInterface, KindVector}

var scalarCodes = [...]ScalarType{"", Bool, Int8, Uint8, Int16, Uint16, Int32, Uint32, Int64, Uint64, Float32, Float64, String}

func kindCode(k Kind) (uint8, error) {
	for i := 1; i < len(kindCodes); i++ {
		if kindCodes[i] == k {
			return uint8(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, k)
}

func scalarCode(s ScalarType) (uint8, error) {
	for i := range scalarCodes {
		if scalarCodes[i] == s {
			return uint8(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownScalar, s)
}

type sszItem interface {
	SizeSSZ() int
	MarshalSSZTo(dst []byte) ([]byte, error)
}

func listSize[T any, PT interface {
	*T
	sszItem
}](xs []T) int {
	n := 4 * len(xs)
	for i := range xs {
		n += PT(&xs[i]).SizeSSZ()
	}
	return n
}

func marshalList[T any, PT interface {
	*T
	sszItem
}](dst []byte, xs []T) ([]byte, error) {
	offset := 4 * len(xs)
	for i := range xs {
		dst = ssz.WriteOffset(dst, offset)
		offset += PT(&xs[i]).SizeSSZ()
	}
	var err error
	for i := range xs {
		if dst, err = PT(&xs[i]).MarshalSSZTo(dst); err != nil {
			return nil, err
		}
	}
	return dst, nil
}

// writeOffsets emits the offset table of a container whose fixed part is
// fixed bytes long and whose variable parts have the given sizes.
func writeOffsets(dst []byte, fixed int, sizes ...int) []byte {
	offset := fixed
	for _, s := range sizes {
		dst = ssz.WriteOffset(dst, offset)
		offset += s
	}
	return dst
}

// splitFixed returns the n variable parts of a container. The offset table
// occupies the last 4*n bytes of the fixed part.
func splitFixed(buf []byte, fixed, n int) ([][]byte, error) {
	if len(buf) < fixed {
		return nil, ssz.ErrSize
	}
	table := buf[fixed-4*n : fixed]
	offsets := make([]uint64, n+1)
	for i := 0; i < n; i++ {
		offsets[i] = uint64(ssz.UnmarshallUint32(table[4*i : 4*i+4]))
	}
	offsets[n] = uint64(len(buf))
	if offsets[0] != uint64(fixed) {
		return nil, ssz.ErrOffset
	}
	return slice(buf, offsets)
}

// slice cuts buf at offsets, which end with len(buf). Every offset is checked
// before any slicing.
func slice(buf []byte, offsets []uint64) ([][]byte, error) {
	for i := 0; i+1 < len(offsets); i++ {
		if offsets[i] > offsets[i+1] || offsets[i] > uint64(len(buf)) {
			return nil, ssz.ErrOffset
		}
	}
	parts := make([][]byte, len(offsets)-1)
	for i := range parts {
		parts[i] = buf[offsets[i]:offsets[i+1]]
	}
	return parts, nil
}

// splitList returns the encoded items of a list of variable-size elements.
func splitList(buf []byte) ([][]byte, error) {
	if len(buf) == 0 {
		return nil, nil
	}
	if len(buf) < 4 {
		return nil, ssz.ErrSize
	}
	first := uint64(ssz.UnmarshallUint32(buf[:4]))
	if first == 0 || first%4 != 0 || first > uint64(len(buf)) {
		return nil, ssz.ErrOffset
	}
	n := int(first / 4)
	offsets := make([]uint64, n+1)
	for i := 0; i < n; i++ {
		offsets[i] = uint64(ssz.UnmarshallUint32(buf[4*i : 4*i+4]))
	}
	offsets[n] = uint64(len(buf))
	return slice(buf, offsets)
}

func (v *Value) children() []Value {
	switch v.Kind {
	case KindStruct:
		return v.Fields
	case KindVector:
		return v.Elems
	}
	return nil
}

// SizeSSZ returns the encoded size of v.
func (v *Value) SizeSSZ() int {
	return valueFixed + len(v.Name) + len(v.Type) + len(v.Enum) + len(v.Str) + listSize(v.children())
}

// MarshalSSZ encodes v.
func (v *Value) MarshalSSZ() ([]byte, error) {
	return ssz.MarshalSSZ(v)
}

// MarshalSSZTo appends the encoding of v to dst.
func (v *Value) MarshalSSZTo(dst []byte) ([]byte, error) {
	kc, err := kindCode(v.Kind)
	if err != nil {
		return nil, err
	}
	sc, err := scalarCode(v.Scalar)
	if err != nil {
		return nil, err
	}
	kids := v.children()
	dst = ssz.MarshalUint8(dst, kc)
	dst = ssz.MarshalUint8(dst, sc)
	dst = ssz.MarshalUint64(dst, v.Bits)
	dst = ssz.MarshalUint64(dst, v.Handle)
	dst = writeOffsets(dst, valueFixed, len(v.Name), len(v.Type), len(v.Enum), len(v.Str), listSize(kids))
	dst = append(dst, v.Name...)
	dst = append(dst, v.Type...)
	dst = append(dst, v.Enum...)
	dst = append(dst, v.Str...)
	return marshalList(dst, kids)
}

// UnmarshalSSZ decodes v from buf.
func (v *Value) UnmarshalSSZ(buf []byte) error {
	return v.unmarshal(buf, 0)
}

func (v *Value) unmarshal(buf []byte, depth int) error {
	if depth > MaxDepth {
		return ErrTooDeep
	}
	parts, err := splitFixed(buf, valueFixed, 5)
	if err != nil {
		return err
	}
	if buf[0] == 0 || int(buf[0]) >= len(kindCodes) {
		return fmt.Errorf("%w: code %d", ErrUnknownKind, buf[0])
	}
	if int(buf[1]) >= len(scalarCodes) {
		return fmt.Errorf("%w: code %d", ErrUnknownScalar, buf[1])
	}
	*v = Value{
		Kind:   kindCodes[buf[0]],
		Scalar: scalarCodes[buf[1]],
		Bits:   ssz.UnmarshallUint64(buf[2:10]),
		Handle: ssz.UnmarshallUint64(buf[10:18]),
		Name:   string(parts[0]),
		Type:   string(parts[1]),
		Enum:   string(parts[2]),
		Str:    string(parts[3]),
	}
	items, err := splitList(parts[4])
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	kids := make([]Value, len(items))
	for i := range items {
		if err := kids[i].unmarshal(items[i], depth+1); err != nil {
			return err
		}
	}
	switch v.Kind {
	case KindStruct:
		v.Fields = kids
	case KindVector:
		v.Elems = kids
	default:
		return ErrStrayChildren
	}
	return nil
}

func unmarshalValues(buf []byte) ([]Value, error) {
	items, err := splitList(buf)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	out := make([]Value, len(items))
	for i := range items {
		if err := out[i].unmarshal(items[i], 0); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// SizeSSZ returns the encoded size of f.
func (f *FuncSpec) SizeSSZ() int {
	return funcSpecFixed + len(f.Name) + listSize(f.Args) + listSize(f.Returns)
}

// MarshalSSZ encodes f.
func (f *FuncSpec) MarshalSSZ() ([]byte, error) {
	return ssz.MarshalSSZ(f)
}

// MarshalSSZTo appends the encoding of f to dst.
func (f *FuncSpec) MarshalSSZTo(dst []byte) ([]byte, error) {
	dst = writeOffsets(dst, funcSpecFixed, len(f.Name), listSize(f.Args), listSize(f.Returns))
	dst = append(dst, f.Name...)
	dst, err := marshalList(dst, f.Args)
	if err != nil {
		return nil, err
	}
	return marshalList(dst, f.Returns)
}

// UnmarshalSSZ decodes f from buf.
func (f *FuncSpec) UnmarshalSSZ(buf []byte) error {
	parts, err := splitFixed(buf, funcSpecFixed, 3)
	if err != nil {
		return err
	}
	args, err := unmarshalValues(parts[1])
	if err != nil {
		return fmt.Errorf("args: %w", err)
	}
	rets, err := unmarshalValues(parts[2])
	if err != nil {
		return fmt.Errorf("returns: %w", err)
	}
	*f = FuncSpec{Name: string(parts[0]), Args: args, Returns: rets}
	return nil
}

// SizeSSZ returns the encoded size of c.
func (c *FuncCall) SizeSSZ() int {
	return funcCallFixed + len(c.Interface) + c.Func.SizeSSZ()
}

// MarshalSSZ encodes c.
func (c *FuncCall) MarshalSSZ() ([]byte, error) {
	return ssz.MarshalSSZ(c)
}

// MarshalSSZTo appends the encoding of c to dst.
func (c *FuncCall) MarshalSSZTo(dst []byte) ([]byte, error) {
	dst = writeOffsets(dst, funcCallFixed, len(c.Interface), c.Func.SizeSSZ())
	dst = append(dst, c.Interface...)
	return c.Func.MarshalSSZTo(dst)
}

// UnmarshalSSZ decodes c from buf.
func (c *FuncCall) UnmarshalSSZ(buf []byte) error {
	parts, err := splitFixed(buf, funcCallFixed, 2)
	if err != nil {
		return err
	}
	var fn FuncSpec
	if err := fn.UnmarshalSSZ(parts[1]); err != nil {
		return err
	}
	*c = FuncCall{Interface: string(parts[0]), Func: fn}
	return nil
}

// SizeSSZ returns the encoded size of e.
func (e *ExecSpec) SizeSSZ() int {
	return execSpecFixed + listSize(e.Calls)
}

// MarshalSSZ encodes e as is, without touching the validity marker.
func (e *ExecSpec) MarshalSSZ() ([]byte, error) {
	return ssz.MarshalSSZ(e)
}

// MarshalSSZTo appends the encoding of e to dst.
func (e *ExecSpec) MarshalSSZTo(dst []byte) ([]byte, error) {
	dst = ssz.MarshalBool(dst, e.Valid)
	dst = writeOffsets(dst, execSpecFixed, listSize(e.Calls))
	return marshalList(dst, e.Calls)
}

// UnmarshalSSZ decodes e from buf.
func (e *ExecSpec) UnmarshalSSZ(buf []byte) error {
	parts, err := splitFixed(buf, execSpecFixed, 1)
	if err != nil {
		return err
	}
	if buf[0] > 1 {
		return ErrInvalidBool
	}
	items, err := splitList(parts[0])
	if err != nil {
		return err
	}
	var calls []FuncCall
	if len(items) > 0 {
		calls = make([]FuncCall, len(items))
		for i := range items {
			if err := calls[i].UnmarshalSSZ(items[i]); err != nil {
				return fmt.Errorf("call %d: %w", i, err)
			}
		}
	}
	*e = ExecSpec{Valid: buf[0] == 1, Calls: calls}
	return nil
}
