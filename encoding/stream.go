package encoding

import (
	"bytes"
)

type Stream interface {
	Offset() uint64
	Skip(int) error
	Read([]byte) (int, error)
	Write([]byte) (int, error)
}

// BufferStream reads and writes a fixed byte slice. Every access is checked
// against the slice length and either completes fully or fails untouched.
type BufferStream struct {
	buf []byte
	off uint64
}

func NewBufferStream(buf []byte, off uint64) *BufferStream {
	return &BufferStream{buf, off}
}

func (s *BufferStream) Offset() uint64 {
	return s.off
}

func (s *BufferStream) Remaining() uint64 {
	if n := uint64(len(s.buf)); s.off < n {
		return n - s.off
	}
	return 0
}

func (s *BufferStream) Skip(n int) error {
	if err := s.check(n); err != nil {
		return err
	}
	s.off += uint64(n)
	return nil
}

func (s *BufferStream) Read(b []byte) (int, error) {
	if err := s.check(len(b)); err != nil {
		return 0, err
	}
	n := copy(b, s.buf[s.off:])
	s.off += uint64(n)
	return n, nil
}

func (s *BufferStream) Write(b []byte) (int, error) {
	if err := s.check(len(b)); err != nil {
		return 0, err
	}
	n := copy(s.buf[s.off:], b)
	s.off += uint64(n)
	return n, nil
}

// ReadString reads a NUL terminated string. A string running past the end
// of the buffer is an error.
func (s *BufferStream) ReadString() (string, error) {
	if s.Remaining() == 0 {
		return "", ErrShortStream
	}
	rest := s.buf[s.off:]
	i := bytes.IndexByte(rest, 0)
	if i == -1 {
		return "", ErrUnterminated
	}
	s.off += uint64(i) + 1
	return string(rest[:i]), nil
}

func (s *BufferStream) check(n int) error {
	if n < 0 || uint64(n) > s.Remaining() {
		return ErrShortStream
	}
	return nil
}
