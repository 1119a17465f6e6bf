package loader

import (
	"debug/elf"

	"github.com/pkg/errors"
	"github.com/wnxd/hvloader"
	"github.com/wnxd/hvloader/memory"
)

type relKind uint8

const (
	relSkip relKind = iota
	relAddend
	relValue
	relImport
)

type relInfo struct {
	kind relKind
	size uint64
}

var relInfoMap = map[elf.R_X86_64]relInfo{
	elf.R_X86_64_NONE:      {relSkip, 0},
	elf.R_X86_64_RELATIVE:  {relAddend, 8},
	elf.R_X86_64_64:        {relValue, 8},
	elf.R_X86_64_GLOB_DAT:  {relImport, 8},
	elf.R_X86_64_JMP_SLOT: {relImport, 8},
}

// Relocation is one patch planned for an image's memory.
type Relocation interface {
	rel()
}

// RelocationValue writes Value little-endian at offset Addr of the module's
// memory.
type RelocationValue struct {
	Addr, Size, Value uint64
}

// RelocationImport is a patch whose value is still the address of a symbol
// another module has to provide.
type RelocationImport struct {
	Addr, Size uint64
	Symbol     uint32
	Addend     int64
}

func (*RelocationValue) rel()  {}
func (*RelocationImport) rel() {}

// plan turns the image's relocation table into patches. Nothing is
// resolved across modules yet.
func (l *Loader) plan(m *module) ([]Relocation, error) {
	relocs := m.img.Relocations()
	nsyms := uint64(len(m.img.Symbols()))
	plan := make([]Relocation, 0, len(relocs))
	for i, rel := range relocs {
		info, ok := relInfoMap[rel.Type]
		if !ok {
			return nil, errors.Wrapf(hvloader.ErrRelocationType, "%s relocation %d: %v", m.name(), i, rel.Type)
		}
		if rel.Sym != 0 && uint64(rel.Sym) >= nsyms {
			return nil, errors.Wrapf(hvloader.ErrSymbolIndex, "%s relocation %d: symbol %d of %d", m.name(), i, rel.Sym, nsyms)
		}
		if info.kind == relSkip {
			continue
		}
		if rel.Off > m.mem.Size() || info.size > m.mem.Size()-rel.Off {
			return nil, errors.Wrapf(hvloader.ErrOutOfBounds, "%s relocation %d: target %#x", m.name(), i, rel.Off)
		}
		switch info.kind {
		case relAddend:
			plan = append(plan, &RelocationValue{Addr: rel.Off, Size: info.size, Value: m.mem.Base() + uint64(rel.Addend)})
		case relValue:
			plan = append(plan, &RelocationImport{Addr: rel.Off, Size: info.size, Symbol: rel.Sym, Addend: rel.Addend})
		case relImport:
			plan = append(plan, &RelocationImport{Addr: rel.Off, Size: info.size, Symbol: rel.Sym})
		}
	}
	return plan, nil
}

// resolve replaces every import of the plan with its value.
func (l *Loader) resolve(m *module, plan []Relocation) error {
	for i, rel := range plan {
		imp, ok := rel.(*RelocationImport)
		if !ok {
			continue
		}
		value, err := l.symbolValue(m, imp.Symbol)
		if err != nil {
			return errors.WithMessagef(err, "%s", m.name())
		}
		plan[i] = &RelocationValue{Addr: imp.Addr, Size: imp.Size, Value: value + uint64(imp.Addend)}
	}
	return nil
}

func (l *Loader) apply(m *module, plan []Relocation) error {
	for _, rel := range plan {
		val := rel.(*RelocationValue)
		if err := memory.ToPointer(m.mem, val.Addr).WriteUint64(val.Value); err != nil {
			return errors.WithMessagef(err, "%s at %#x", m.name(), val.Addr)
		}
	}
	return nil
}
