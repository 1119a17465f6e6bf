package elf

import (
	"debug/elf"
	"slices"

	"github.com/pkg/errors"
	"github.com/wnxd/hvloader"
	"github.com/wnxd/hvloader/encoding"
)

// Image is one parsed and validated module. The bytes it was initialised
// from are never written to; relocation happens in the memory the image is
// loaded into.
//
// An Image is not safe for concurrent initialisation, but once Init has
// returned every query is read-only.
type Image struct {
	data        []byte
	header      elf.Header64
	progs       []Segment
	sections    []Section
	dynamic     map[elf.DynTag][]uint64
	strtab      []byte
	symbols     []Symbol
	hash        hashTable
	relocs      []Relocation
	needed      []string
	name        string
	initialized bool
}

// New parses data into a fresh Image.
func New(data []byte) (*Image, error) {
	img := new(Image)
	if err := img.Init(data); err != nil {
		return nil, err
	}
	return img, nil
}

// Init validates the header field by field, stopping at the first invalid
// one, then decodes the program headers, section headers, dynamic table,
// symbols, hash table and relocations. Every offset is checked against
// len(data). On failure the image stays uninitialised.
func (img *Image) Init(data []byte) error {
	if img == nil {
		return hvloader.ErrArgumentNil
	}
	if img.initialized {
		return hvloader.ErrAlreadyInitialized
	}
	if len(data) == 0 {
		return hvloader.ErrBufferEmpty
	}
	hdr, err := parseHeader(data)
	if err != nil {
		return err
	}
	m := &Image{
		data:    data,
		header:  hdr,
		dynamic: make(map[elf.DynTag][]uint64),
	}
	for _, parse := range []func() error{
		m.parseProgs,
		m.parseSections,
		m.parseDynamic,
		m.parseStrtab,
		m.parseHash,
		m.parseSymbols,
		m.parseRelocations,
		m.parseNames,
	} {
		if err = parse(); err != nil {
			return err
		}
	}
	m.initialized = true
	*img = *m
	return nil
}

func (img *Image) Initialized() bool {
	return img != nil && img.initialized
}

func (img *Image) check() error {
	if img == nil {
		return hvloader.ErrArgumentNil
	}
	if !img.initialized {
		return hvloader.ErrUninitialized
	}
	return nil
}

func (img *Image) Header() (Header, error) {
	if err := img.check(); err != nil {
		return Header{}, err
	}
	return Header{
		Class:   elf.Class(img.header.Ident[elf.EI_CLASS]),
		Data:    elf.Data(img.header.Ident[elf.EI_DATA]),
		OSABI:   elf.OSABI(img.header.Ident[elf.EI_OSABI]),
		Type:    elf.Type(img.header.Type),
		Machine: elf.Machine(img.header.Machine),
		Entry:   img.header.Entry,
	}, nil
}

// Name is the DT_SONAME of the image, empty when it has none.
func (img *Image) Name() string {
	if img.check() != nil {
		return ""
	}
	return img.name
}

func (img *Image) Needed() []string {
	if img.check() != nil {
		return nil
	}
	return slices.Clone(img.needed)
}

func (img *Image) DynValue(tag elf.DynTag) []uint64 {
	if img.check() != nil {
		return nil
	}
	return slices.Clone(img.dynamic[tag])
}

func (img *Image) DynTags() []elf.DynTag {
	if img.check() != nil {
		return nil
	}
	tags := make([]elf.DynTag, 0, len(img.dynamic))
	for tag := range img.dynamic {
		tags = append(tags, tag)
	}
	slices.Sort(tags)
	return tags
}

func (img *Image) NumSegments() (int, error) {
	if err := img.check(); err != nil {
		return 0, err
	}
	return len(img.progs), nil
}

func (img *Image) Segment(index int) (Segment, error) {
	if err := img.check(); err != nil {
		return Segment{}, err
	}
	if index < 0 || index >= len(img.progs) {
		return Segment{}, errors.Wrapf(hvloader.ErrIndexInvalid, "segment %d of %d", index, len(img.progs))
	}
	return img.progs[index], nil
}

func (img *Image) Segments() []Segment {
	if img.check() != nil {
		return nil
	}
	return slices.Clone(img.progs)
}

func (img *Image) Symbols() []Symbol {
	if img.check() != nil {
		return nil
	}
	return slices.Clone(img.symbols)
}

// Symbol returns the dynamic symbol at index. Index 0 is the reserved null
// symbol.
func (img *Image) Symbol(index uint32) (Symbol, error) {
	if err := img.check(); err != nil {
		return Symbol{}, err
	}
	if uint64(index) >= uint64(len(img.symbols)) {
		return Symbol{}, errors.Wrapf(hvloader.ErrSymbolIndex, "symbol %d of %d", index, len(img.symbols))
	}
	return img.symbols[index], nil
}

func (img *Image) Relocations() []Relocation {
	if img.check() != nil {
		return nil
	}
	return slices.Clone(img.relocs)
}

func (img *Image) HasHash() bool {
	return img.check() == nil && len(img.hash.buckets) != 0
}

func (img *Image) progByType(typ elf.ProgType) *Segment {
	for i := range img.progs {
		prog := &img.progs[i]
		if prog.Type == typ {
			return prog
		}
	}
	return nil
}

func (img *Image) parseProgs() error {
	hdr := &img.header
	if hdr.Phnum == 0 {
		return nil
	}
	if hdr.Phentsize != progSize {
		return errors.Wrapf(hvloader.ErrTableInvalid, "program header size %d", hdr.Phentsize)
	}
	stream := encoding.NewBufferStream(img.data, hdr.Phoff)
	img.progs = make([]Segment, 0, hdr.Phnum)
	for i := 0; i < int(hdr.Phnum); i++ {
		var prog elf.Prog64
		if err := encoding.Decode(stream, &prog); err != nil {
			return errors.Wrapf(hvloader.ErrOutOfBounds, "program header %d: %v", i, err)
		}
		seg := Segment{
			Type:   elf.ProgType(prog.Type),
			Flags:  elf.ProgFlag(prog.Flags),
			Off:    prog.Off,
			Vaddr:  prog.Vaddr,
			Paddr:  prog.Paddr,
			Filesz: prog.Filesz,
			Memsz:  prog.Memsz,
			Align:  prog.Align,
		}
		if seg.Type == elf.PT_LOAD || seg.Type == elf.PT_DYNAMIC {
			if !img.inFile(seg.Off, seg.Filesz) {
				return errors.Wrapf(hvloader.ErrOutOfBounds, "segment %d file range [%#x, +%#x)", i, seg.Off, seg.Filesz)
			}
		}
		if seg.Type == elf.PT_LOAD {
			if seg.Filesz > seg.Memsz {
				return errors.Wrapf(hvloader.ErrTableInvalid, "segment %d file size %#x exceeds memory size %#x", i, seg.Filesz, seg.Memsz)
			}
			if seg.Vaddr+seg.Memsz < seg.Vaddr {
				return errors.Wrapf(hvloader.ErrOutOfBounds, "segment %d wraps the address space", i)
			}
		}
		img.progs = append(img.progs, seg)
	}
	return nil
}

func (img *Image) inFile(off, size uint64) bool {
	n := uint64(len(img.data))
	return off <= n && size <= n-off
}

// bytesAt translates a virtual address range to the file bytes backing it.
// Only PT_LOAD segments map addresses; ranges reaching into a segment's
// zero filled tail are rejected.
func (img *Image) bytesAt(vaddr, size uint64) ([]byte, error) {
	for i := range img.progs {
		prog := &img.progs[i]
		if prog.Type != elf.PT_LOAD || vaddr < prog.Vaddr {
			continue
		}
		rel := vaddr - prog.Vaddr
		if rel > prog.Filesz || size > prog.Filesz-rel {
			continue
		}
		off := prog.Off + rel
		return img.data[off : off+size : off+size], nil
	}
	return nil, errors.Wrapf(hvloader.ErrOutOfBounds, "address range [%#x, +%#x) not file backed", vaddr, size)
}

func (img *Image) parseDynamic() error {
	ds := img.progByType(elf.PT_DYNAMIC)
	if ds == nil {
		return nil
	}
	stream := encoding.NewBufferStream(img.data[:ds.Off+ds.Filesz], ds.Off)
	for {
		var dyn elf.Dyn64
		if err := encoding.Decode(stream, &dyn); err != nil {
			return errors.Wrapf(hvloader.ErrTableInvalid, "dynamic table unterminated: %v", err)
		}
		tag := elf.DynTag(dyn.Tag)
		if tag == elf.DT_NULL {
			break
		}
		img.dynamic[tag] = append(img.dynamic[tag], dyn.Val)
	}
	return nil
}

func (img *Image) dynOne(tag elf.DynTag) (uint64, bool) {
	vals := img.dynamic[tag]
	if len(vals) == 0 {
		return 0, false
	}
	return vals[0], true
}

func (img *Image) parseStrtab() error {
	addr, ok := img.dynOne(elf.DT_STRTAB)
	if !ok {
		return nil
	}
	size, ok := img.dynOne(elf.DT_STRSZ)
	if !ok {
		return errors.Wrap(hvloader.ErrTableInvalid, "DT_STRTAB without DT_STRSZ")
	}
	strtab, err := img.bytesAt(addr, size)
	if err != nil {
		return errors.WithMessage(err, "string table")
	}
	img.strtab = strtab
	return nil
}

func (img *Image) getString(off uint64) (string, error) {
	if off >= uint64(len(img.strtab)) {
		return "", errors.Wrapf(hvloader.ErrOutOfBounds, "string %#x outside table of %#x bytes", off, len(img.strtab))
	}
	str, err := encoding.NewBufferStream(img.strtab, off).ReadString()
	if err != nil {
		return "", errors.Wrapf(hvloader.ErrTableInvalid, "string %#x: %v", off, err)
	}
	return str, nil
}

func (img *Image) parseNames() error {
	for _, v := range img.dynamic[elf.DT_NEEDED] {
		name, err := img.getString(v)
		if err != nil {
			return errors.WithMessage(err, "DT_NEEDED")
		}
		img.needed = append(img.needed, name)
	}
	if v, ok := img.dynOne(elf.DT_SONAME); ok {
		name, err := img.getString(v)
		if err != nil {
			return errors.WithMessage(err, "DT_SONAME")
		}
		img.name = name
	}
	return nil
}
