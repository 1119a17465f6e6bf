package memory

import "encoding/binary"

// Pointer is an offset into a Memory.
type Pointer struct {
	mem Memory
	off uint64
}

func ToPointer(mem Memory, off uint64) Pointer {
	return Pointer{mem, off}
}

func (p Pointer) Add(offset uint64) Pointer {
	return Pointer{p.mem, p.off + offset}
}

func (p Pointer) MemRead(size uint64) ([]byte, error) {
	return p.mem.MemRead(p.off, size)
}

func (p Pointer) MemWrite(data []byte) error {
	return p.mem.MemWrite(p.off, data)
}

func (p Pointer) ReadUint64() (uint64, error) {
	data, err := p.MemRead(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(data), nil
}

func (p Pointer) WriteUint64(value uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], value)
	return p.MemWrite(buf[:])
}
