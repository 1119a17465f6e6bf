package elf

import (
	"debug/elf"

	"github.com/pkg/errors"
	"github.com/wnxd/hvloader"
	"github.com/wnxd/hvloader/memory"
)

// Span is the number of bytes of memory the image needs, from address zero
// to the end of its highest PT_LOAD segment, rounded up to a page.
func (img *Image) Span() (uint64, error) {
	if err := img.check(); err != nil {
		return 0, err
	}
	return memory.Align(img.end(), memory.PageSize), nil
}

func (img *Image) end() uint64 {
	var end uint64
	for i := range img.progs {
		prog := &img.progs[i]
		if prog.Type == elf.PT_LOAD {
			end = max(end, prog.Vaddr+prog.Memsz)
		}
	}
	return end
}

// Load copies every PT_LOAD segment to its virtual address in mem and zero
// fills the part of each segment beyond its file contents.
func (img *Image) Load(mem memory.Memory) error {
	if err := img.check(); err != nil {
		return err
	}
	if mem == nil {
		return hvloader.ErrArgumentNil
	}
	if end := img.end(); end > mem.Size() {
		return errors.Wrapf(hvloader.ErrOutOfBounds, "image needs %#x bytes, memory has %#x", end, mem.Size())
	}
	for i := range img.progs {
		prog := &img.progs[i]
		if prog.Type != elf.PT_LOAD {
			continue
		}
		if err := mem.MemWrite(prog.Vaddr, img.data[prog.Off:prog.Off+prog.Filesz]); err != nil {
			return errors.WithMessagef(err, "segment %d", i)
		}
		if tail := prog.Memsz - prog.Filesz; tail != 0 {
			if err := mem.MemWrite(prog.Vaddr+prog.Filesz, make([]byte, tail)); err != nil {
				return errors.WithMessagef(err, "segment %d", i)
			}
		}
	}
	return nil
}
