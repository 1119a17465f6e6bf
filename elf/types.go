// Package elf parses and validates x86-64 ELF shared objects and resolves
// their dynamic symbols.
package elf

import (
	"debug/elf"

	"github.com/wnxd/hvloader/memory"
)

type Header struct {
	Class   elf.Class
	Data    elf.Data
	OSABI   elf.OSABI
	Type    elf.Type
	Machine elf.Machine
	Entry   uint64
}

type Segment struct {
	Type   elf.ProgType
	Flags  elf.ProgFlag
	Off    uint64
	Vaddr  uint64
	Paddr  uint64
	Filesz uint64
	Memsz  uint64
	Align  uint64
}

func (s Segment) Prot() memory.MemProt {
	var prot memory.MemProt
	if s.Flags&elf.PF_R != 0 {
		prot |= memory.MEM_PROT_READ
	}
	if s.Flags&elf.PF_W != 0 {
		prot |= memory.MEM_PROT_WRITE
	}
	if s.Flags&elf.PF_X != 0 {
		prot |= memory.MEM_PROT_EXEC
	}
	return prot
}

func (s Segment) Region() memory.Region {
	return memory.Region{Addr: s.Vaddr, Size: s.Memsz, Prot: s.Prot()}
}

type Section struct {
	Name      string
	Type      elf.SectionType
	Flags     elf.SectionFlag
	Addr      uint64
	Off       uint64
	Size      uint64
	Link      uint32
	Info      uint32
	Addralign uint64
	Entsize   uint64
}

type Symbol struct {
	Name    string
	Info    uint8
	Other   uint8
	Section elf.SectionIndex
	Value   uint64
	Size    uint64
}

func (s *Symbol) Bind() elf.SymBind {
	return elf.ST_BIND(s.Info)
}

func (s *Symbol) Type() elf.SymType {
	return elf.ST_TYPE(s.Info)
}

// IsUndefined reports whether the symbol is an import another image has to
// provide.
func (s *Symbol) IsUndefined() bool {
	return s.Section == elf.SHN_UNDEF
}

func (s *Symbol) isDefined() bool {
	return !s.IsUndefined()
}

// IsExported reports whether other images may bind to the symbol.
func (s *Symbol) IsExported() bool {
	if s.IsUndefined() {
		return false
	}
	bind := s.Bind()
	return bind == elf.STB_GLOBAL || bind == elf.STB_WEAK
}

type Relocation struct {
	Off    uint64
	Sym    uint32
	Type   elf.R_X86_64
	Addend int64
}

// SectionInfo locates what the bring-up code needs after relocation:
// constructors, destructors and the unwind tables.
type SectionInfo struct {
	Entry     uint64
	InitArray memory.Region
	FiniArray memory.Region
	EhFrame   memory.Region
}

// Rebase shifts every present address by base.
func (si SectionInfo) Rebase(base uint64) SectionInfo {
	if si.Entry != 0 {
		si.Entry += base
	}
	for _, r := range []*memory.Region{&si.InitArray, &si.FiniArray, &si.EhFrame} {
		if r.Size != 0 {
			r.Addr += base
		}
	}
	return si
}
