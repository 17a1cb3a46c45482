// Package trace defines trace records, their length-delimited file format,
// a YAML text form, and the per-prefix recorder.
package trace

import (
	"fmt"

	ssz "github.com/ferranbt/fastssz"

	"alma.local/ifuzz/callspec"
)

// Record is one captured call event.
type Record struct {
	Event     EventKind         `yaml:"event"`
	Timestamp int64             `yaml:"timestamp"`
	Package   string            `yaml:"package"`
	Version   string            `yaml:"version"`
	Interface string            `yaml:"interface"`
	Func      callspec.FuncSpec `yaml:"func"`
}

const recordFixed = 1 + 8 + 4*4

// SizeSSZ returns the encoded size of r.
func (r *Record) SizeSSZ() int {
	return recordFixed + len(r.Package) + len(r.Version) + len(r.Interface) + r.Func.SizeSSZ()
}

// MarshalSSZ encodes r.
func (r *Record) MarshalSSZ() ([]byte, error) {
	return ssz.MarshalSSZ(r)
}

// MarshalSSZTo appends the encoding of r to dst.
func (r *Record) MarshalSSZTo(dst []byte) ([]byte, error) {
	dst = ssz.MarshalUint8(dst, uint8(r.Event))
	dst = ssz.MarshalUint64(dst, uint64(r.Timestamp))
	offset := recordFixed
	for _, n := range []int{len(r.Package), len(r.Version), len(r.Interface), r.Func.SizeSSZ()} {
		dst = ssz.WriteOffset(dst, offset)
		offset += n
	}
	dst = append(dst, r.Package...)
	dst = append(dst, r.Version...)
	dst = append(dst, r.Interface...)
	return r.Func.MarshalSSZTo(dst)
}

// UnmarshalSSZ decodes r from buf.
func (r *Record) UnmarshalSSZ(buf []byte) error {
	if len(buf) < recordFixed {
		return ssz.ErrSize
	}
	ev := EventKind(buf[0])
	if !ev.Valid() {
		return fmt.Errorf("unknown event code %d", buf[0])
	}
	var offs [5]uint64
	for i := 0; i < 4; i++ {
		offs[i] = uint64(ssz.UnmarshallUint32(buf[9+4*i : 13+4*i]))
	}
	offs[4] = uint64(len(buf))
	if offs[0] != recordFixed {
		return ssz.ErrOffset
	}
	for i := 0; i < 4; i++ {
		if offs[i] > offs[i+1] {
			return ssz.ErrOffset
		}
	}
	var fn callspec.FuncSpec
	if err := fn.UnmarshalSSZ(buf[offs[3]:offs[4]]); err != nil {
		return fmt.Errorf("func: %w", err)
	}
	*r = Record{
		Event:     ev,
		Timestamp: int64(ssz.UnmarshallUint64(buf[1:9])),
		Package:   string(buf[offs[0]:offs[1]]),
		Version:   string(buf[offs[1]:offs[2]]),
		Interface: string(buf[offs[2]:offs[3]]),
		Func:      fn,
	}
	return nil
}

// SameCall reports whether a and b describe the same method on the same
// interface version.
func SameCall(a, b *Record) bool {
	return a.Package == b.Package && a.Version == b.Version &&
		a.Interface == b.Interface && a.Func.Name == b.Func.Name
}
