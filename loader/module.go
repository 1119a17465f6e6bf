package loader

import (
	"strconv"

	"github.com/pkg/errors"
	"github.com/wnxd/hvloader"
	"github.com/wnxd/hvloader/elf"
	"github.com/wnxd/hvloader/memory"
)

// module is one added image and the memory its segments were loaded into.
type module struct {
	index int
	img   *elf.Image
	mem   memory.Memory
}

func (m *module) name() string {
	if name := m.img.Name(); name != "" {
		return name
	}
	return "#" + strconv.Itoa(m.index)
}

// findSymbol resolves name among the exports of m.
func (m *module) findSymbol(name string) (uint64, error) {
	value, err := m.img.FindExport(name)
	if err != nil {
		return 0, err
	}
	return m.mem.Base() + value, nil
}

// symbolValue resolves the symbol a relocation of m refers to: defined
// symbols of m directly, imports by name among the exports of m and then of
// every other module in insertion order.
func (l *Loader) symbolValue(m *module, index uint32) (uint64, error) {
	if index == 0 {
		return 0, nil
	}
	sym, err := m.img.Symbol(index)
	if err != nil {
		return 0, err
	}
	if !sym.IsUndefined() {
		return m.mem.Base() + sym.Value, nil
	}
	if sym.Name == "" {
		return 0, errors.Wrapf(hvloader.ErrSymbolIndex, "import %d has no name", index)
	}
	if addr, err := m.findSymbol(sym.Name); err == nil {
		return addr, nil
	}
	for _, other := range l.modules {
		if other == m {
			continue
		}
		if addr, err := other.findSymbol(sym.Name); err == nil {
			return addr, nil
		}
	}
	return 0, errors.Wrapf(hvloader.ErrSymbolNotFound, "%q imported by %s", sym.Name, m.name())
}

func (l *Loader) lookup(img *elf.Image) *module {
	for _, m := range l.modules {
		if m.img == img {
			return m
		}
	}
	return nil
}
