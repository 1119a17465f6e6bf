package memory

type MemProt int

const (
	MEM_PROT_NONE MemProt = 0
	MEM_PROT_READ MemProt = 1 << (iota - 1)
	MEM_PROT_WRITE
	MEM_PROT_EXEC

	MEM_PROT_ALL = MEM_PROT_READ | MEM_PROT_WRITE | MEM_PROT_EXEC
)

const PageSize = 0x1000

func (p MemProt) String() string {
	b := []byte("---")
	if p&MEM_PROT_READ != 0 {
		b[0] = 'r'
	}
	if p&MEM_PROT_WRITE != 0 {
		b[1] = 'w'
	}
	if p&MEM_PROT_EXEC != 0 {
		b[2] = 'x'
	}
	return string(b)
}

type Region struct {
	Addr, Size uint64
	Prot       MemProt
}

func (r Region) End() uint64 {
	return r.Addr + r.Size
}

func (r Region) Contains(addr uint64) bool {
	return addr >= r.Addr && addr < r.End()
}

// Memory is a caller-owned region a module image is copied into. Offsets
// are relative to the start of the region; Base is the virtual address the
// region will be executed at.
type Memory interface {
	Base() uint64
	Size() uint64
	MemRead(off, size uint64) ([]byte, error)
	MemWrite(off uint64, data []byte) error
}
