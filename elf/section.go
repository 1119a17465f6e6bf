package elf

import (
	"bytes"
	"debug/elf"

	"github.com/pkg/errors"
	"github.com/wnxd/hvloader"
	"github.com/wnxd/hvloader/encoding"
	"github.com/wnxd/hvloader/memory"
)

func (img *Image) parseSections() error {
	hdr := &img.header
	if hdr.Shnum == 0 {
		return nil
	}
	if hdr.Shentsize != sectionSize {
		return errors.Wrapf(hvloader.ErrTableInvalid, "section header size %d", hdr.Shentsize)
	}
	if hdr.Shstrndx >= hdr.Shnum {
		return errors.Wrapf(hvloader.ErrTableInvalid, "section name table %d of %d", hdr.Shstrndx, hdr.Shnum)
	}
	stream := encoding.NewBufferStream(img.data, hdr.Shoff)
	raws := make([]elf.Section64, hdr.Shnum)
	for i := range raws {
		if err := encoding.Decode(stream, &raws[i]); err != nil {
			return errors.Wrapf(hvloader.ErrOutOfBounds, "section header %d: %v", i, err)
		}
	}
	shstr := &raws[hdr.Shstrndx]
	if !img.inFile(shstr.Off, shstr.Size) {
		return errors.Wrapf(hvloader.ErrOutOfBounds, "section name table [%#x, +%#x)", shstr.Off, shstr.Size)
	}
	names := img.data[shstr.Off : shstr.Off+shstr.Size]
	img.sections = make([]Section, len(raws))
	for i, raw := range raws {
		var name string
		if i != 0 {
			str, err := encoding.NewBufferStream(names, uint64(raw.Name)).ReadString()
			if err != nil {
				return errors.Wrapf(hvloader.ErrTableInvalid, "section %d name: %v", i, err)
			}
			name = str
		}
		img.sections[i] = Section{
			Name:      name,
			Type:      elf.SectionType(raw.Type),
			Flags:     elf.SectionFlag(raw.Flags),
			Addr:      raw.Addr,
			Off:       raw.Off,
			Size:      raw.Size,
			Link:      raw.Link,
			Info:      raw.Info,
			Addralign: raw.Addralign,
			Entsize:   raw.Entsize,
		}
	}
	return nil
}

func (img *Image) Sections() []Section {
	if img.check() != nil {
		return nil
	}
	return append([]Section(nil), img.sections...)
}

func (img *Image) Section(name string) (Section, error) {
	if err := img.check(); err != nil {
		return Section{}, err
	}
	if name == "" {
		return Section{}, hvloader.ErrNameEmpty
	}
	for _, sec := range img.sections {
		if sec.Name == name {
			return sec, nil
		}
	}
	return Section{}, errors.Wrapf(hvloader.ErrSectionNotFound, "%q", name)
}

func (img *Image) SectionByType(typ elf.SectionType) (Section, error) {
	if err := img.check(); err != nil {
		return Section{}, err
	}
	for _, sec := range img.sections {
		if sec.Type == typ && typ != elf.SHT_NULL {
			return sec, nil
		}
	}
	return Section{}, errors.Wrapf(hvloader.ErrSectionNotFound, "%v", typ)
}

// SectionData returns a copy of the section's file bytes.
func (img *Image) SectionData(sec Section) ([]byte, error) {
	if err := img.check(); err != nil {
		return nil, err
	}
	if sec.Type == elf.SHT_NOBITS {
		return nil, nil
	}
	if !img.inFile(sec.Off, sec.Size) {
		return nil, errors.Wrapf(hvloader.ErrOutOfBounds, "section %q [%#x, +%#x)", sec.Name, sec.Off, sec.Size)
	}
	return bytes.Clone(img.data[sec.Off : sec.Off+sec.Size]), nil
}

// SectionInfo reports the entry point, the constructor and destructor
// arrays named by the dynamic table and the .eh_frame section, relative to
// the image's own addresses. Absent regions are zero.
func (img *Image) SectionInfo() (SectionInfo, error) {
	if err := img.check(); err != nil {
		return SectionInfo{}, err
	}
	info := SectionInfo{Entry: img.header.Entry}
	var err error
	if info.InitArray, err = img.dynRegion(elf.DT_INIT_ARRAY, elf.DT_INIT_ARRAYSZ); err != nil {
		return SectionInfo{}, err
	}
	if info.FiniArray, err = img.dynRegion(elf.DT_FINI_ARRAY, elf.DT_FINI_ARRAYSZ); err != nil {
		return SectionInfo{}, err
	}
	if sec, err := img.Section(".eh_frame"); err == nil {
		info.EhFrame = memory.Region{Addr: sec.Addr, Size: sec.Size, Prot: memory.MEM_PROT_READ}
	}
	return info, nil
}

func (img *Image) dynRegion(addrTag, sizeTag elf.DynTag) (memory.Region, error) {
	addr, ok := img.dynOne(addrTag)
	if !ok {
		return memory.Region{}, nil
	}
	size, ok := img.dynOne(sizeTag)
	if !ok {
		return memory.Region{}, errors.Wrapf(hvloader.ErrTableInvalid, "%v without %v", addrTag, sizeTag)
	}
	return memory.Region{Addr: addr, Size: size, Prot: memory.MEM_PROT_READ | memory.MEM_PROT_WRITE}, nil
}
