package oat

import (
	"encoding/binary"
	"fmt"
	"io"
)

// fileWriter wraps the output file with helpers for emitting records. It
// latches the first error: after a failure every later call is a no-op, so
// emission code can run straight-line and check err once per phase.
//
// pos mirrors the file position and is advanced by writes and forward seeks;
// it is the authoritative value the emit pass compares against layout offsets.
type fileWriter struct {
	f   io.WriteSeeker
	pos uint32
	err error

	// diagnostic context for method-level records
	loc       string
	method    uint32
	hasMethod bool
}

// newFileWriter wraps f, which must be positioned at the start of the file:
// all layout offsets are absolute.
func newFileWriter(f io.WriteSeeker) (*fileWriter, error) {
	pos, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, &WriteError{Record: "file position", Err: err}
	}
	if pos != 0 {
		return nil, &WriteError{Record: "file position",
			Err: fmt.Errorf("file not at start (position %d)", pos)}
	}
	return &fileWriter{f: f}, nil
}

// setMethod records which input and method subsequent writes belong to.
func (w *fileWriter) setMethod(loc string, methodIndex uint32) {
	w.loc = loc
	w.method = methodIndex
	w.hasMethod = true
}

// setInput records which input subsequent writes belong to, with no method.
func (w *fileWriter) setInput(loc string) {
	w.loc = loc
	w.hasMethod = false
}

func (w *fileWriter) clearContext() {
	w.loc = ""
	w.hasMethod = false
}

func (w *fileWriter) fail(record string, err error) {
	w.err = &WriteError{
		Record:      record,
		Location:    w.loc,
		MethodIndex: w.method,
		HasMethod:   w.hasMethod,
		Err:         err,
	}
}

// write emits p verbatim. A short write counts as a failure.
func (w *fileWriter) write(record string, p []byte) {
	if w.err != nil || len(p) == 0 {
		return
	}
	n, err := w.f.Write(p)
	if err == nil && n != len(p) {
		err = io.ErrShortWrite
	}
	if err != nil {
		w.fail(record, err)
		return
	}
	w.pos += uint32(n)
}

// writeUint32 emits one little-endian 32-bit word.
func (w *fileWriter) writeUint32(record string, v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	w.write(record, buf[:])
}

// seekForward skips n bytes without writing them, for alignment gaps. The
// post-seek position must agree with the tracked position.
func (w *fileWriter) seekForward(record string, n uint32) {
	if w.err != nil || n == 0 {
		return
	}
	pos, err := w.f.Seek(int64(n), io.SeekCurrent)
	if err != nil {
		w.fail(record, err)
		return
	}
	want := w.pos + n
	if pos != int64(want) {
		w.err = &MismatchError{Kind: AlignmentMismatch, Record: record,
			Pos: uint32(pos), Want: want}
		return
	}
	w.pos = want
}

// finish extends the file to the tracked position when the emission ended on
// a seek (an all-tables output whose executable section holds no bytes, or a
// trailing alignment gap). Seeks alone do not grow a file.
func (w *fileWriter) finish() {
	if w.err != nil {
		return
	}
	type truncater interface {
		Truncate(size int64) error
	}
	t, ok := w.f.(truncater)
	if !ok {
		return
	}
	if err := t.Truncate(int64(w.pos)); err != nil {
		w.clearContext()
		w.fail("file size", err)
	}
}
