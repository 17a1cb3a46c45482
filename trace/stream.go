package trace

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	ssz "github.com/ferranbt/fastssz"
	"gopkg.in/yaml.v3"
)

// MaxRecordSize bounds a single frame; larger lengths mean the stream is
// not a trace.
const MaxRecordSize = 64 << 20

// ErrFrameTooLarge is returned for frames above MaxRecordSize.
var ErrFrameTooLarge = errors.New("trace: frame exceeds size limit")

// DecodeError reports a well-framed record whose body does not decode.
// The reader stays positioned on the next frame.
type DecodeError struct {
	Index int
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("trace: record %d: %v", e.Index, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Frame returns the length-delimited encoding of r.
func Frame(r *Record) ([]byte, error) {
	size := r.SizeSSZ()
	buf := make([]byte, 0, 4+size)
	buf = ssz.MarshalUint32(buf, uint32(size))
	return r.MarshalSSZTo(buf)
}

// Writer appends framed records.
type Writer struct {
	w io.Writer
}

// NewWriter returns a Writer on w.
func NewWriter(w io.Writer) *Writer { return &Writer{w: w} }

// Write appends one record with a single Write call.
func (w *Writer) Write(r *Record) error {
	buf, err := Frame(r)
	if err != nil {
		return err
	}
	_, err = w.w.Write(buf)
	return err
}

// Reader reads framed records.
type Reader struct {
	r *bufio.Reader
	n int
}

// NewReader returns a Reader on r.
func NewReader(r io.Reader) *Reader { return &Reader{r: bufio.NewReader(r)} }

// Next returns the next record. It returns io.EOF at a clean end,
// io.ErrUnexpectedEOF for a truncated frame and *DecodeError for a frame
// that does not decode.
func (r *Reader) Next() (*Record, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r.r, hdr[:]); err != nil {
		return nil, err
	}
	size := ssz.UnmarshallUint32(hdr[:])
	if size > MaxRecordSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r.r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	idx := r.n
	r.n++
	rec := new(Record)
	if err := rec.UnmarshalSSZ(body); err != nil {
		return nil, &DecodeError{Index: idx, Err: err}
	}
	return rec, nil
}

// ReadAll reads every record. Undecodable records are passed to skip (when
// non-nil) and dropped. A truncated or oversized frame ends the stream and
// is returned with the records read so far.
func ReadAll(r io.Reader, skip func(error)) ([]*Record, error) {
	rd := NewReader(r)
	var out []*Record
	for {
		rec, err := rd.Next()
		if err == nil {
			out = append(out, rec)
			continue
		}
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		var de *DecodeError
		if errors.As(err, &de) {
			if skip != nil {
				skip(err)
			}
			continue
		}
		return out, err
	}
}

// ReadFile reads every record of a binary trace file.
func ReadFile(path string, skip func(error)) ([]*Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadAll(f, skip)
}

// WriteFile writes recs to a new file at path. The file must not exist.
func WriteFile(path string, recs []*Record) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	w := NewWriter(bw)
	for _, r := range recs {
		if err := w.Write(r); err != nil {
			f.Close()
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteText writes recs as a stream of YAML documents.
func WriteText(w io.Writer, recs []*Record) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	for _, r := range recs {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return enc.Close()
}

// ReadText reads a stream of YAML record documents.
func ReadText(r io.Reader) ([]*Record, error) {
	dec := yaml.NewDecoder(r)
	var out []*Record
	for {
		rec := new(Record)
		err := dec.Decode(rec)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("text record %d: %w", len(out), err)
		}
		out = append(out, rec)
	}
}
