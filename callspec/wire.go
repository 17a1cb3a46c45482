package callspec

import (
	ssz "github.com/ferranbt/fastssz"
)

// ToBytes marks spec valid and returns its wire form: a 4-byte little-endian
// length followed by the encoded ExecSpec.
func ToBytes(spec *ExecSpec) ([]byte, error) {
	spec.Valid = true
	size := spec.SizeSSZ()
	buf := make([]byte, 0, 4+size)
	buf = ssz.MarshalUint32(buf, uint32(size))
	return spec.MarshalSSZTo(buf)
}

// FromBytes decodes the wire form. It reports false when the frame or the
// body does not decode, or when the validity marker is unset.
func FromBytes(data []byte) (*ExecSpec, bool) {
	if len(data) < 4 {
		return nil, false
	}
	size := uint64(ssz.UnmarshallUint32(data[:4]))
	if size != uint64(len(data)-4) {
		return nil, false
	}
	spec := new(ExecSpec)
	if err := spec.UnmarshalSSZ(data[4:]); err != nil {
		return nil, false
	}
	if !spec.Valid {
		return nil, false
	}
	return spec, true
}

// HashTreeRoot returns a content fingerprint of the spec.
func (e *ExecSpec) HashTreeRoot() ([32]byte, error) {
	return ssz.HashWithDefaultHasher(e)
}

// HashTreeRootWith merkleizes the validity marker and the encoding of every
// call, in order.
func (e *ExecSpec) HashTreeRootWith(hh ssz.HashWalker) error {
	indx := hh.Index()
	if e.Valid {
		hh.PutUint8(1)
	} else {
		hh.PutUint8(0)
	}
	for i := range e.Calls {
		enc, err := e.Calls[i].MarshalSSZ()
		if err != nil {
			return err
		}
		hh.PutBytes(enc)
	}
	hh.Merkleize(indx)
	return nil
}

// GetTree builds the proof tree of the spec.
func (e *ExecSpec) GetTree() (*ssz.Node, error) {
	return ssz.ProofTree(e)
}
