// Package oracle checks that codecs are canonical: decoding an input and
// encoding the result gives back the input byte for byte.
package oracle

import (
	"bytes"
	"errors"
	"fmt"

	ssz "github.com/ferranbt/fastssz"

	"alma.local/ifuzz/callspec"
)

var (
	// ErrInvalidInput signals that the payload failed to decode.
	ErrInvalidInput = errors.New("oracle: invalid input")
	// ErrNonCanonical signals that re-encoding changed a decoded payload.
	ErrNonCanonical = errors.New("oracle: non-canonical encoding")
)

// Decodable is a fastssz type the oracle can decode into and re-encode.
type Decodable[T any] interface {
	*T
	ssz.Marshaler
	UnmarshalSSZ([]byte) error
}

// RoundTrip checks the fastssz encoding of T on data.
func RoundTrip[T any, PT Decodable[T]](data []byte) error {
	return check(data, func(in []byte) ([]byte, error) {
		obj := PT(new(T))
		if err := obj.UnmarshalSSZ(in); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		return obj.MarshalSSZ()
	})
}

// WireRoundTrip checks the length-prefixed execution spec form.
func WireRoundTrip(data []byte) error {
	return check(data, func(in []byte) ([]byte, error) {
		spec, ok := callspec.FromBytes(in)
		if !ok {
			return nil, ErrInvalidInput
		}
		return callspec.ToBytes(spec)
	})
}

// check re-encodes data and compares. The error names the first differing
// byte.
func check(data []byte, reencode func([]byte) ([]byte, error)) error {
	out, err := reencode(data)
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			return err
		}
		return fmt.Errorf("oracle: encode: %w", err)
	}
	if bytes.Equal(out, data) {
		return nil
	}
	at := 0
	for at < min(len(out), len(data)) && out[at] == data[at] {
		at++
	}
	return fmt.Errorf("%w: input %d bytes, output %d bytes, first difference at %d", ErrNonCanonical, len(data), len(out), at)
}
