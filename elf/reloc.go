package elf

import (
	"debug/elf"

	"github.com/pkg/errors"
	"github.com/wnxd/hvloader"
	"github.com/wnxd/hvloader/encoding"
)

func (img *Image) parseRelocations() error {
	if _, ok := img.dynOne(elf.DT_REL); ok {
		return errors.Wrap(hvloader.ErrTableInvalid, "DT_REL relocations are not used on x86-64")
	}
	if addr, ok := img.dynOne(elf.DT_RELA); ok {
		size, ok := img.dynOne(elf.DT_RELASZ)
		if !ok {
			return errors.Wrap(hvloader.ErrTableInvalid, "DT_RELA without DT_RELASZ")
		}
		if ent, ok := img.dynOne(elf.DT_RELAENT); ok && ent != relaSize {
			return errors.Wrapf(hvloader.ErrTableInvalid, "relocation entry size %d", ent)
		}
		if err := img.readRela(addr, size); err != nil {
			return errors.WithMessage(err, "DT_RELA")
		}
	}
	if addr, ok := img.dynOne(elf.DT_JMPREL); ok {
		if kind, ok := img.dynOne(elf.DT_PLTREL); ok && elf.DynTag(kind) != elf.DT_RELA {
			return errors.Wrapf(hvloader.ErrTableInvalid, "DT_PLTREL %d", kind)
		}
		size, ok := img.dynOne(elf.DT_PLTRELSZ)
		if !ok {
			return errors.Wrap(hvloader.ErrTableInvalid, "DT_JMPREL without DT_PLTRELSZ")
		}
		if err := img.readRela(addr, size); err != nil {
			return errors.WithMessage(err, "DT_JMPREL")
		}
	}
	return nil
}

func (img *Image) readRela(addr, size uint64) error {
	if size%relaSize != 0 {
		return errors.Wrapf(hvloader.ErrTableInvalid, "table size %#x", size)
	}
	raw, err := img.bytesAt(addr, size)
	if err != nil {
		return err
	}
	stream := encoding.NewBufferStream(raw, 0)
	for stream.Remaining() != 0 {
		var rela elf.Rela64
		if err = encoding.Decode(stream, &rela); err != nil {
			return errors.Wrapf(hvloader.ErrOutOfBounds, "%v", err)
		}
		img.relocs = append(img.relocs, Relocation{
			Off:    rela.Off,
			Sym:    elf.R_SYM64(rela.Info),
			Type:   elf.R_X86_64(elf.R_TYPE64(rela.Info)),
			Addend: rela.Addend,
		})
	}
	return nil
}
