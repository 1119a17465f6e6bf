package loader

import (
	"debug/elf"

	"github.com/pkg/errors"
	"github.com/wnxd/hvloader"
	hvelf "github.com/wnxd/hvloader/elf"
	"github.com/wnxd/hvloader/memory"
)

// Regions lists the memory an added image occupies, one region per PT_LOAD
// segment, at the addresses of the memory it was added with.
func (l *Loader) Regions(img *hvelf.Image) ([]memory.Region, error) {
	m := l.lookup(img)
	if m == nil {
		return nil, errors.Wrap(hvloader.ErrArgument, "image not added")
	}
	var regions []memory.Region
	for _, seg := range img.Segments() {
		if seg.Type != elf.PT_LOAD {
			continue
		}
		region := seg.Region()
		region.Addr += m.mem.Base()
		regions = append(regions, region)
	}
	return regions, nil
}

// ModuleAt returns the added image whose memory contains addr.
func (l *Loader) ModuleAt(addr uint64) (*hvelf.Image, error) {
	for _, m := range l.modules {
		if (memory.Region{Addr: m.mem.Base(), Size: m.mem.Size()}).Contains(addr) {
			return m.img, nil
		}
	}
	return nil, errors.Wrapf(hvloader.ErrLookup, "no image at %#x", addr)
}

// Constructors reads the relocated DT_INIT_ARRAY of an added image: the
// runtime addresses of its constructors in call order.
func (l *Loader) Constructors(img *hvelf.Image) ([]uint64, error) {
	return l.funcArray(img, func(info hvelf.SectionInfo) memory.Region { return info.InitArray })
}

// Destructors reads the relocated DT_FINI_ARRAY in array order; they run
// last to first.
func (l *Loader) Destructors(img *hvelf.Image) ([]uint64, error) {
	return l.funcArray(img, func(info hvelf.SectionInfo) memory.Region { return info.FiniArray })
}

func (l *Loader) funcArray(img *hvelf.Image, pick func(hvelf.SectionInfo) memory.Region) ([]uint64, error) {
	m := l.lookup(img)
	if m == nil {
		return nil, errors.Wrap(hvloader.ErrArgument, "image not added")
	}
	if !l.relocated {
		return nil, errors.Wrap(hvloader.ErrState, "not relocated")
	}
	info, err := img.SectionInfo()
	if err != nil {
		return nil, err
	}
	region := pick(info)
	p := memory.ToPointer(m.mem, region.Addr)
	funcs := make([]uint64, 0, region.Size/8)
	for off := uint64(0); off+8 <= region.Size; off += 8 {
		fn, err := p.Add(off).ReadUint64()
		if err != nil {
			return nil, errors.WithMessagef(err, "%s", m.name())
		}
		funcs = append(funcs, fn)
	}
	return funcs, nil
}
