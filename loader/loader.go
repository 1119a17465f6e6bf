// Package loader links a fixed set of parsed images against each other.
//
// Images are added together with the memory their segments were copied
// into. Relocate patches that memory once, resolving imports first in the
// importing image and then in every other image in the order they were
// added. A Loader is not safe for concurrent use.
package loader

import (
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/wnxd/hvloader"
	"github.com/wnxd/hvloader/elf"
	"github.com/wnxd/hvloader/memory"
)

type Loader struct {
	capacity  int
	logger    log.Logger
	modules   []*module
	relocated bool
}

func New(opts ...Option) *Loader {
	l := &Loader{
		capacity: DefaultCapacity,
		logger:   log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.modules = make([]*module, 0, l.capacity)
	return l
}

func (l *Loader) Len() int {
	return len(l.modules)
}

func (l *Loader) Cap() int {
	return l.capacity
}

func (l *Loader) Relocated() bool {
	return l.relocated
}

// Images returns the added images in insertion order.
func (l *Loader) Images() []*elf.Image {
	imgs := make([]*elf.Image, len(l.modules))
	for i, m := range l.modules {
		imgs[i] = m.img
	}
	return imgs
}

// Add registers img, whose segments live in mem. The image does not have
// to be initialised yet; Relocate checks that.
func (l *Loader) Add(img *elf.Image, mem memory.Memory) error {
	if img == nil || mem == nil {
		return hvloader.ErrArgumentNil
	}
	if l.relocated {
		return hvloader.ErrAlreadyRelocated
	}
	if len(l.modules) >= l.capacity {
		return errors.Wrapf(hvloader.ErrTooManyImages, "capacity %d", l.capacity)
	}
	l.modules = append(l.modules, &module{index: len(l.modules), img: img, mem: mem})
	return nil
}

// Relocate applies the relocations of every added image. All patches of
// all images are planned and resolved before the first one is written, but
// a failure still leaves the module set unusable: it must not run.
func (l *Loader) Relocate() error {
	if l.relocated {
		return hvloader.ErrAlreadyRelocated
	}
	if len(l.modules) == 0 {
		return hvloader.ErrNoImages
	}
	if err := l.checkInitialized(); err != nil {
		return err
	}
	plans := make([][]Relocation, len(l.modules))
	for i, m := range l.modules {
		plan, err := l.plan(m)
		if err != nil {
			return err
		}
		if err = l.resolve(m, plan); err != nil {
			return err
		}
		plans[i] = plan
	}
	for i, m := range l.modules {
		if err := l.apply(m, plans[i]); err != nil {
			return err
		}
		level.Debug(l.logger).Log("msg", "image relocated", "image", m.name(), "base", m.mem.Base(), "relocations", len(plans[i]))
	}
	l.relocated = true
	level.Debug(l.logger).Log("msg", "relocation finished", "images", len(l.modules))
	return nil
}

func (l *Loader) checkInitialized() error {
	for _, m := range l.modules {
		if !m.img.Initialized() {
			return errors.WithMessagef(hvloader.ErrUninitialized, "image %d", m.index)
		}
	}
	return nil
}

// ResolveSymbol returns the runtime address of name in the first image
// that exports it.
func (l *Loader) ResolveSymbol(name string) (uint64, error) {
	if name == "" {
		return 0, hvloader.ErrNameEmpty
	}
	if len(l.modules) == 0 {
		return 0, hvloader.ErrNoImages
	}
	if err := l.checkInitialized(); err != nil {
		return 0, err
	}
	for _, m := range l.modules {
		if addr, err := m.findSymbol(name); err == nil {
			return addr, nil
		}
	}
	return 0, errors.Wrapf(hvloader.ErrSymbolNotFound, "%q", name)
}

// SectionInfo returns the entry point, constructor and destructor arrays
// and unwind tables of img. For an added image the addresses are those of
// its memory, otherwise they are relative to the image.
func (l *Loader) SectionInfo(img *elf.Image) (elf.SectionInfo, error) {
	if !img.Initialized() {
		return elf.SectionInfo{}, errors.Wrap(hvloader.ErrArgument, "image not initialized")
	}
	info, err := img.SectionInfo()
	if err != nil {
		return elf.SectionInfo{}, err
	}
	if m := l.lookup(img); m != nil {
		info = info.Rebase(m.mem.Base())
	}
	return info, nil
}
