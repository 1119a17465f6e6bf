package elf

import (
	"debug/elf"

	"github.com/wnxd/hvloader"
	"github.com/wnxd/hvloader/encoding"
)

const (
	progSize    = 56
	sectionSize = 64
	symSize     = 24
	relaSize    = 24
	dynSize     = 16
)

type headerCheck struct {
	field hvloader.Field
	value func(*elf.Header64) uint64
	want  uint64
}

func identByte(i int) func(*elf.Header64) uint64 {
	return func(h *elf.Header64) uint64 {
		return uint64(h.Ident[i])
	}
}

// headerChecks run in order; the first mismatch is reported.
var headerChecks = []headerCheck{
	{hvloader.FieldMag0, identByte(0), uint64(elf.ELFMAG[0])},
	{hvloader.FieldMag1, identByte(1), uint64(elf.ELFMAG[1])},
	{hvloader.FieldMag2, identByte(2), uint64(elf.ELFMAG[2])},
	{hvloader.FieldMag3, identByte(3), uint64(elf.ELFMAG[3])},
	{hvloader.FieldClass, identByte(elf.EI_CLASS), uint64(elf.ELFCLASS64)},
	{hvloader.FieldData, identByte(elf.EI_DATA), uint64(elf.ELFDATA2LSB)},
	{hvloader.FieldIdentVersion, identByte(elf.EI_VERSION), uint64(elf.EV_CURRENT)},
	{hvloader.FieldOSABI, identByte(elf.EI_OSABI), uint64(elf.ELFOSABI_NONE)},
	{hvloader.FieldABIVersion, identByte(elf.EI_ABIVERSION), 0},
	{hvloader.FieldType, func(h *elf.Header64) uint64 { return uint64(h.Type) }, uint64(elf.ET_DYN)},
	{hvloader.FieldMachine, func(h *elf.Header64) uint64 { return uint64(h.Machine) }, uint64(elf.EM_X86_64)},
	{hvloader.FieldVersion, func(h *elf.Header64) uint64 { return uint64(h.Version) }, uint64(elf.EV_CURRENT)},
	{hvloader.FieldFlags, func(h *elf.Header64) uint64 { return uint64(h.Flags) }, 0},
}

func parseHeader(data []byte) (elf.Header64, error) {
	var hdr elf.Header64
	if len(data) < encoding.DecodeSize(&hdr) {
		return hdr, &hvloader.FormatError{Field: hvloader.FieldSize, Value: uint64(len(data))}
	}
	if err := encoding.DecodeAt(data, 0, &hdr); err != nil {
		return hdr, &hvloader.FormatError{Field: hvloader.FieldSize, Value: uint64(len(data))}
	}
	for _, check := range headerChecks {
		if v := check.value(&hdr); v != check.want {
			return hdr, &hvloader.FormatError{Field: check.field, Value: v}
		}
	}
	return hdr, nil
}
