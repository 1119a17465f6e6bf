// Package elftest builds small x86-64 shared objects in memory for tests.
//
// The layout mirrors what the hypervisor toolchain emits: a read-only
// PT_LOAD holding the headers, dynamic symbol/string/hash/relocation
// tables, .eh_frame and .text, followed by a page aligned read-write
// PT_LOAD holding .init_array, .fini_array, .dynamic and .data. File
// offsets equal virtual addresses.
package elftest

import (
	"debug/elf"

	"github.com/wnxd/hvloader/encoding"
	"github.com/wnxd/hvloader/memory"
)

type Symbol struct {
	Name string
	// Value is relative to the start of .text. Ignored for undefined symbols.
	Value     uint64
	Size      uint64
	Bind      elf.SymBind
	Type      elf.SymType
	Undefined bool
}

type Reloc struct {
	// Off is relative to the start of .data.
	Off    uint64
	Symbol string
	Type   elf.R_X86_64
	Addend int64
	// SymIndex overrides the symbol index derived from Symbol when non-zero.
	SymIndex uint32
}

type Builder struct {
	Symbols    []Symbol
	Relocs     []Reloc
	PltRelocs  []Reloc
	Needed     []string
	SoName     string
	Entry      uint64
	InitArray  []uint64
	FiniArray  []uint64
	EhFrame    []byte
	TextSize   uint64
	DataSize   uint64
	BssSize    uint64
	NoHash     bool
	NoSections bool
}

type Object struct {
	Bytes     []byte
	Segments  []elf.Prog64
	TextAddr  uint64
	DataAddr  uint64
	InitArray memory.Region
	FiniArray memory.Region
	EhFrame   memory.Region
	Dynamic   memory.Region
	Span      uint64
}

// SymbolAddr returns the address a defined symbol ends up at.
func (o *Object) SymbolAddr(sym Symbol) uint64 {
	return o.TextAddr + sym.Value
}

const (
	ehdrSize = 64
	phdrSize = 56
	shdrSize = 64
	symSize  = 24
	relaSize = 24
	dynSize  = 16
)

type section struct {
	name    string
	typ     elf.SectionType
	flags   elf.SectionFlag
	addr    uint64
	size    uint64
	link    uint32
	align   uint64
	entsize uint64
}

func (b *Builder) Build() *Object {
	textSize := b.TextSize
	if textSize == 0 {
		textSize = 0x100
	}
	dataSize := b.DataSize
	if dataSize == 0 {
		dataSize = 0x100
	}

	dynstr := newStrtab()
	for _, name := range b.Needed {
		dynstr.add(name)
	}
	if b.SoName != "" {
		dynstr.add(b.SoName)
	}
	symIndex := make(map[string]uint32, len(b.Symbols))
	for i, sym := range b.Symbols {
		dynstr.add(sym.Name)
		if _, ok := symIndex[sym.Name]; !ok {
			symIndex[sym.Name] = uint32(i + 1)
		}
	}

	const phnum = 4
	off := uint64(ehdrSize + phnum*phdrSize)

	var hashAddr, hashSize uint64
	var hash []uint32
	if !b.NoHash {
		hash = b.hashTable()
		off = memory.Align(off, 8)
		hashAddr, hashSize = off, uint64(len(hash))*4
		off += hashSize
	}
	off = memory.Align(off, 8)
	symtabAddr, symtabSize := off, uint64(len(b.Symbols)+1)*symSize
	off += symtabSize
	strtabAddr, strtabSize := off, uint64(len(dynstr.data))
	off += strtabSize
	off = memory.Align(off, 8)
	relaAddr, relaTotal := off, uint64(len(b.Relocs))*relaSize
	off += relaTotal
	pltAddr, pltSize := off, uint64(len(b.PltRelocs))*relaSize
	off += pltSize
	ehAddr, ehSize := off, uint64(len(b.EhFrame))
	off += ehSize
	off = memory.Align(off, 16)
	textAddr := off
	off += textSize
	roEnd := off

	off = memory.Align(off, memory.PageSize)
	rwStart := off
	initAddr, initSize := off, uint64(len(b.InitArray))*8
	off += initSize
	finiAddr, finiSize := off, uint64(len(b.FiniArray))*8
	off += finiSize
	dyn := b.dynamic(dynstr, hashAddr, symtabAddr, strtabAddr, relaAddr, pltAddr, initAddr, finiAddr)
	off = memory.Align(off, 8)
	dynAddr, dynSizeTotal := off, uint64(len(dyn))*dynSize
	off += dynSizeTotal
	off = memory.Align(off, 16)
	dataAddr := off
	off += dataSize
	rwEnd := off

	sections := []section{{}}
	if !b.NoHash {
		sections = append(sections, section{name: ".hash", typ: elf.SHT_HASH, flags: elf.SHF_ALLOC, addr: hashAddr, size: hashSize, link: 2, align: 8, entsize: 4})
	}
	dynsymIndex := uint32(len(sections))
	sections = append(sections,
		section{name: ".dynsym", typ: elf.SHT_DYNSYM, flags: elf.SHF_ALLOC, addr: symtabAddr, size: symtabSize, link: dynsymIndex + 1, align: 8, entsize: symSize},
		section{name: ".dynstr", typ: elf.SHT_STRTAB, flags: elf.SHF_ALLOC, addr: strtabAddr, size: strtabSize, align: 1},
	)
	if !b.NoHash {
		sections[1].link = dynsymIndex
	}
	sections = append(sections,
		section{name: ".rela.dyn", typ: elf.SHT_RELA, flags: elf.SHF_ALLOC, addr: relaAddr, size: relaTotal, link: dynsymIndex, align: 8, entsize: relaSize},
		section{name: ".rela.plt", typ: elf.SHT_RELA, flags: elf.SHF_ALLOC, addr: pltAddr, size: pltSize, link: dynsymIndex, align: 8, entsize: relaSize},
		section{name: ".eh_frame", typ: elf.SHT_PROGBITS, flags: elf.SHF_ALLOC, addr: ehAddr, size: ehSize, align: 8},
	)
	textIndex := uint32(len(sections))
	sections = append(sections,
		section{name: ".text", typ: elf.SHT_PROGBITS, flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR, addr: textAddr, size: textSize, align: 16},
		section{name: ".init_array", typ: elf.SHT_INIT_ARRAY, flags: elf.SHF_ALLOC | elf.SHF_WRITE, addr: initAddr, size: initSize, align: 8, entsize: 8},
		section{name: ".fini_array", typ: elf.SHT_FINI_ARRAY, flags: elf.SHF_ALLOC | elf.SHF_WRITE, addr: finiAddr, size: finiSize, align: 8, entsize: 8},
		section{name: ".dynamic", typ: elf.SHT_DYNAMIC, flags: elf.SHF_ALLOC | elf.SHF_WRITE, addr: dynAddr, size: dynSizeTotal, link: dynsymIndex + 1, align: 8, entsize: dynSize},
		section{name: ".data", typ: elf.SHT_PROGBITS, flags: elf.SHF_ALLOC | elf.SHF_WRITE, addr: dataAddr, size: dataSize, align: 16},
	)
	if b.BssSize > 0 {
		sections = append(sections, section{name: ".bss", typ: elf.SHT_NOBITS, flags: elf.SHF_ALLOC | elf.SHF_WRITE, addr: rwEnd, size: b.BssSize, align: 16})
	}
	shstr := newStrtab()
	for _, sec := range sections[1:] {
		shstr.add(sec.name)
	}
	shstr.add(".shstrtab")
	shstrIndex := len(sections)
	shstrAddr := rwEnd
	sections = append(sections, section{name: ".shstrtab", typ: elf.SHT_STRTAB, addr: 0, size: uint64(len(shstr.data)), align: 1})

	off = shstrAddr + uint64(len(shstr.data))
	off = memory.Align(off, 8)
	shoff := off
	total := shoff + uint64(len(sections))*shdrSize
	if b.NoSections {
		total = shstrAddr
	}

	buf := make([]byte, total)
	obj := &Object{
		Bytes:     buf,
		TextAddr:  textAddr,
		DataAddr:  dataAddr,
		InitArray: memory.Region{Addr: initAddr, Size: initSize},
		FiniArray: memory.Region{Addr: finiAddr, Size: finiSize},
		EhFrame:   memory.Region{Addr: ehAddr, Size: ehSize},
		Dynamic:   memory.Region{Addr: dynAddr, Size: dynSizeTotal},
		Span:      rwEnd + b.BssSize,
	}

	hdr := elf.Header64{
		Type:      uint16(elf.ET_DYN),
		Machine:   uint16(elf.EM_X86_64),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     b.Entry,
		Phoff:     ehdrSize,
		Ehsize:    ehdrSize,
		Phentsize: phdrSize,
		Phnum:     phnum,
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	hdr.Ident[elf.EI_OSABI] = byte(elf.ELFOSABI_NONE)
	if !b.NoSections {
		hdr.Shoff = shoff
		hdr.Shentsize = shdrSize
		hdr.Shnum = uint16(len(sections))
		hdr.Shstrndx = uint16(shstrIndex)
	}
	must(encoding.EncodeAt(buf, 0, &hdr))

	obj.Segments = []elf.Prog64{
		{Type: uint32(elf.PT_LOAD), Flags: uint32(elf.PF_R | elf.PF_X), Off: 0, Vaddr: 0, Paddr: 0, Filesz: roEnd, Memsz: roEnd, Align: memory.PageSize},
		{Type: uint32(elf.PT_LOAD), Flags: uint32(elf.PF_R | elf.PF_W), Off: rwStart, Vaddr: rwStart, Paddr: rwStart, Filesz: rwEnd - rwStart, Memsz: rwEnd - rwStart + b.BssSize, Align: memory.PageSize},
		{Type: uint32(elf.PT_DYNAMIC), Flags: uint32(elf.PF_R | elf.PF_W), Off: dynAddr, Vaddr: dynAddr, Paddr: dynAddr, Filesz: dynSizeTotal, Memsz: dynSizeTotal, Align: 8},
		{Type: uint32(elf.PT_GNU_STACK), Flags: uint32(elf.PF_R | elf.PF_W)},
	}
	stream := encoding.NewBufferStream(buf, ehdrSize)
	for i := range obj.Segments {
		must(encoding.Encode(stream, &obj.Segments[i]))
	}

	if !b.NoHash {
		stream = encoding.NewBufferStream(buf, hashAddr)
		for i := range hash {
			must(encoding.Encode(stream, &hash[i]))
		}
	}

	stream = encoding.NewBufferStream(buf, symtabAddr+symSize)
	for _, sym := range b.Symbols {
		raw := elf.Sym64{
			Name: dynstr.offset(sym.Name),
			Info: elf.ST_INFO(sym.Bind, sym.Type),
			Size: sym.Size,
		}
		if !sym.Undefined {
			raw.Shndx = uint16(textIndex)
			raw.Value = textAddr + sym.Value
		}
		must(encoding.Encode(stream, &raw))
	}
	copy(buf[strtabAddr:], dynstr.data)

	writeRelocs := func(addr uint64, relocs []Reloc) {
		stream := encoding.NewBufferStream(buf, addr)
		for _, rel := range relocs {
			sym := rel.SymIndex
			if sym == 0 && rel.Symbol != "" {
				sym = symIndex[rel.Symbol]
			}
			raw := elf.Rela64{
				Off:    dataAddr + rel.Off,
				Info:   elf.R_INFO(sym, uint32(rel.Type)),
				Addend: rel.Addend,
			}
			must(encoding.Encode(stream, &raw))
		}
	}
	writeRelocs(relaAddr, b.Relocs)
	writeRelocs(pltAddr, b.PltRelocs)
	copy(buf[ehAddr:], b.EhFrame)

	stream = encoding.NewBufferStream(buf, initAddr)
	for i := range b.InitArray {
		must(encoding.Encode(stream, &b.InitArray[i]))
	}
	for i := range b.FiniArray {
		must(encoding.Encode(stream, &b.FiniArray[i]))
	}
	stream = encoding.NewBufferStream(buf, dynAddr)
	for i := range dyn {
		must(encoding.Encode(stream, &dyn[i]))
	}

	if b.NoSections {
		return obj
	}
	copy(buf[shstrAddr:], shstr.data)
	stream = encoding.NewBufferStream(buf, shoff)
	for _, sec := range sections {
		raw := elf.Section64{
			Type:      uint32(sec.typ),
			Flags:     uint64(sec.flags),
			Addr:      sec.addr,
			Off:       sec.addr,
			Size:      sec.size,
			Link:      sec.link,
			Addralign: sec.align,
			Entsize:   sec.entsize,
		}
		if sec.name != "" {
			raw.Name = shstr.offset(sec.name)
		}
		if sec.name == ".shstrtab" {
			raw.Off = shstrAddr
		}
		if sec.typ == elf.SHT_NOBITS {
			raw.Off = rwEnd
		}
		must(encoding.Encode(stream, &raw))
	}
	return obj
}

func (b *Builder) dynamic(dynstr *strtab, hashAddr, symtabAddr, strtabAddr, relaAddr, pltAddr, initAddr, finiAddr uint64) []elf.Dyn64 {
	var dyn []elf.Dyn64
	add := func(tag elf.DynTag, val uint64) {
		dyn = append(dyn, elf.Dyn64{Tag: int64(tag), Val: val})
	}
	for _, name := range b.Needed {
		add(elf.DT_NEEDED, uint64(dynstr.offset(name)))
	}
	if b.SoName != "" {
		add(elf.DT_SONAME, uint64(dynstr.offset(b.SoName)))
	}
	if !b.NoHash {
		add(elf.DT_HASH, hashAddr)
	}
	add(elf.DT_STRTAB, strtabAddr)
	add(elf.DT_SYMTAB, symtabAddr)
	add(elf.DT_STRSZ, uint64(len(dynstr.data)))
	add(elf.DT_SYMENT, symSize)
	if len(b.Relocs) > 0 {
		var relative uint64
		for _, rel := range b.Relocs {
			if rel.Type == elf.R_X86_64_RELATIVE {
				relative++
			}
		}
		add(elf.DT_RELA, relaAddr)
		add(elf.DT_RELASZ, uint64(len(b.Relocs))*relaSize)
		add(elf.DT_RELAENT, relaSize)
		add(elf.DT_RELACOUNT, relative)
	}
	if len(b.PltRelocs) > 0 {
		add(elf.DT_JMPREL, pltAddr)
		add(elf.DT_PLTRELSZ, uint64(len(b.PltRelocs))*relaSize)
		add(elf.DT_PLTREL, uint64(elf.DT_RELA))
	}
	if len(b.InitArray) > 0 {
		add(elf.DT_INIT_ARRAY, initAddr)
		add(elf.DT_INIT_ARRAYSZ, uint64(len(b.InitArray))*8)
	}
	if len(b.FiniArray) > 0 {
		add(elf.DT_FINI_ARRAY, finiAddr)
		add(elf.DT_FINI_ARRAYSZ, uint64(len(b.FiniArray))*8)
	}
	add(elf.DT_FLAGS, uint64(elf.DF_BIND_NOW))
	add(elf.DT_FLAGS_1, uint64(elf.DF_1_NOW))
	add(elf.DT_NULL, 0)
	return dyn
}

// hashTable lays out nbucket, nchain, buckets and chains as one word slice.
func (b *Builder) hashTable() []uint32 {
	nchain := uint32(len(b.Symbols) + 1)
	nbucket := nchain/2 + 1
	buckets := make([]uint32, nbucket)
	chains := make([]uint32, nchain)
	for i, sym := range b.Symbols {
		index := uint32(i + 1)
		h := Hash(sym.Name) % nbucket
		chains[index] = buckets[h]
		buckets[h] = index
	}
	table := []uint32{nbucket, nchain}
	table = append(table, buckets...)
	return append(table, chains...)
}

// Hash is the SysV ELF symbol hash.
func Hash(name string) uint32 {
	var h uint32
	for i := 0; i < len(name); i++ {
		h = h<<4 + uint32(name[i])
		g := h & 0xf0000000
		if g != 0 {
			h ^= g >> 24
		}
		h &^= g
	}
	return h
}

type strtab struct {
	data []byte
	offs map[string]uint32
}

func newStrtab() *strtab {
	return &strtab{data: []byte{0}, offs: map[string]uint32{"": 0}}
}

func (s *strtab) add(str string) {
	if _, ok := s.offs[str]; ok {
		return
	}
	s.offs[str] = uint32(len(s.data))
	s.data = append(s.data, str...)
	s.data = append(s.data, 0)
}

func (s *strtab) offset(str string) uint32 {
	return s.offs[str]
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
