package memory

import "github.com/pkg/errors"

// Buffer is a Memory backed by a fixed byte slice. It never grows: the
// caller sizes it up front, usually from elf.Image.Span.
type Buffer struct {
	base uint64
	data []byte
}

func NewBuffer(data []byte, base uint64) *Buffer {
	return &Buffer{base, data}
}

func (buf *Buffer) Base() uint64 {
	return buf.base
}

func (buf *Buffer) Size() uint64 {
	return uint64(len(buf.data))
}

func (buf *Buffer) Bytes() []byte {
	return buf.data
}

func (buf *Buffer) MemRead(off, size uint64) ([]byte, error) {
	if err := buf.check(off, size); err != nil {
		return nil, err
	}
	data := make([]byte, size)
	copy(data, buf.data[off:])
	return data, nil
}

func (buf *Buffer) MemWrite(off uint64, data []byte) error {
	if err := buf.check(off, uint64(len(data))); err != nil {
		return err
	}
	copy(buf.data[off:], data)
	return nil
}

func (buf *Buffer) check(off, size uint64) error {
	n := uint64(len(buf.data))
	if off > n || size > n-off {
		return errors.Wrapf(ErrAddressInvalid, "[%#x, %#x) outside %#x bytes", off, off+size, n)
	}
	return nil
}
