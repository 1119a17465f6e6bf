package loader

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"
	"github.com/wnxd/hvloader"
	hvelf "github.com/wnxd/hvloader/elf"
	"github.com/wnxd/hvloader/internal/elftest"
	"github.com/wnxd/hvloader/memory"
)

type loaded struct {
	img *hvelf.Image
	obj *elftest.Object
	mem *memory.Buffer
}

func (ld *loaded) word(off uint64) uint64 {
	return binary.LittleEndian.Uint64(ld.mem.Bytes()[off:])
}

func load(t *testing.T, b *elftest.Builder, base uint64) *loaded {
	t.Helper()
	obj := b.Build()
	img, err := hvelf.New(obj.Bytes)
	require.NoError(t, err)
	span, err := img.Span()
	require.NoError(t, err)
	mem := memory.NewBuffer(make([]byte, span), base)
	require.NoError(t, img.Load(mem))
	return &loaded{img, obj, mem}
}

var sharedFn = elftest.Symbol{Name: "shared_fn", Value: 0x20, Size: 0x10, Bind: elf.STB_GLOBAL, Type: elf.STT_FUNC}

func provider() *elftest.Builder {
	return &elftest.Builder{
		SoName:    "libprovider.so",
		Symbols:   []elftest.Symbol{sharedFn, {Name: "dup", Value: 0x40, Bind: elf.STB_GLOBAL, Type: elf.STT_OBJECT}},
		InitArray: []uint64{0x10},
		EhFrame:   make([]byte, 0x18),
	}
}

func consumer() *elftest.Builder {
	return &elftest.Builder{
		SoName:  "libconsumer.so",
		Needed:  []string{"libprovider.so"},
		Entry:   0x150,
		Symbols: []elftest.Symbol{{Name: "shared_fn", Bind: elf.STB_GLOBAL, Type: elf.STT_FUNC, Undefined: true}},
		Relocs: []elftest.Reloc{
			{Off: 0x00, Type: elf.R_X86_64_RELATIVE, Addend: 0x150},
			{Off: 0x08, Symbol: "shared_fn", Type: elf.R_X86_64_GLOB_DAT},
			{Off: 0x18, Symbol: "shared_fn", Type: elf.R_X86_64_64, Addend: 0x30},
			{Off: 0x28, Type: elf.R_X86_64_NONE},
		},
		PltRelocs: []elftest.Reloc{
			{Off: 0x10, Symbol: "shared_fn", Type: elf.R_X86_64_JMP_SLOT},
		},
		FiniArray: []uint64{0x20, 0x30},
	}
}

const (
	providerBase = 0x100000
	consumerBase = 0x200000
)

func TestCapacity(t *testing.T) {
	require.Equal(t, DefaultCapacity, New().Cap())

	l := New(WithCapacity(3))
	require.Equal(t, 3, l.Cap())
	for i := 0; i < 3; i++ {
		ld := load(t, provider(), uint64(i+1)*providerBase)
		require.NoError(t, l.Add(ld.img, ld.mem))
	}
	ld := load(t, provider(), 0)
	err := l.Add(ld.img, ld.mem)
	require.ErrorIs(t, err, hvloader.ErrTooManyImages)
	require.ErrorIs(t, err, hvloader.ErrCapacity)
	require.Equal(t, 3, l.Len())
}

func TestAddArguments(t *testing.T) {
	l := New()
	ld := load(t, provider(), providerBase)
	require.ErrorIs(t, l.Add(nil, ld.mem), hvloader.ErrArgument)
	require.ErrorIs(t, l.Add(ld.img, nil), hvloader.ErrArgumentNil)
	require.Zero(t, l.Len())
}

func TestRelocateState(t *testing.T) {
	l := New()
	err := l.Relocate()
	require.ErrorIs(t, err, hvloader.ErrNoImages)
	require.ErrorIs(t, err, hvloader.ErrState)

	ld := load(t, provider(), providerBase)
	require.NoError(t, l.Add(ld.img, ld.mem))
	require.NoError(t, l.Add(new(hvelf.Image), memory.NewBuffer(make([]byte, 0x1000), 0)))
	err = l.Relocate()
	require.ErrorIs(t, err, hvloader.ErrUninitialized)
	require.ErrorIs(t, err, hvloader.ErrState)
	require.False(t, l.Relocated())
}

func TestRelocateTwice(t *testing.T) {
	a := load(t, provider(), providerBase)
	b := load(t, consumer(), consumerBase)
	l := New()
	require.NoError(t, l.Add(a.img, a.mem))
	require.NoError(t, l.Add(b.img, b.mem))
	require.NoError(t, l.Relocate())
	require.True(t, l.Relocated())

	before := bytes.Clone(b.mem.Bytes())
	require.ErrorIs(t, l.Relocate(), hvloader.ErrAlreadyRelocated)
	require.Equal(t, before, b.mem.Bytes())

	c := load(t, provider(), 0x300000)
	require.ErrorIs(t, l.Add(c.img, c.mem), hvloader.ErrAlreadyRelocated)
}

func TestRelocateAcrossImages(t *testing.T) {
	a := load(t, provider(), providerBase)
	b := load(t, consumer(), consumerBase)
	var logs bytes.Buffer
	l := New(WithLogger(log.NewLogfmtLogger(&logs)))
	require.NoError(t, l.Add(a.img, a.mem))
	require.NoError(t, l.Add(b.img, b.mem))
	require.NoError(t, l.Relocate())

	x := providerBase + a.obj.SymbolAddr(sharedFn)
	data := b.obj.DataAddr
	require.Equal(t, uint64(consumerBase+0x150), b.word(data+0x00))
	require.Equal(t, x, b.word(data+0x08))
	require.Equal(t, x, b.word(data+0x10))
	require.Equal(t, x+0x30, b.word(data+0x18), spew.Sdump(b.img.Relocations()))
	require.Zero(t, b.word(data+0x28))

	addr, err := l.ResolveSymbol("shared_fn")
	require.NoError(t, err)
	require.Equal(t, x, addr)
	require.Equal(t, []*hvelf.Image{a.img, b.img}, l.Images())
	require.Contains(t, logs.String(), "image relocated")
	require.Contains(t, logs.String(), "libconsumer.so")
}

func TestRelocateSearchOrder(t *testing.T) {
	user := &elftest.Builder{
		Symbols: []elftest.Symbol{
			{Name: "dup", Bind: elf.STB_GLOBAL, Type: elf.STT_OBJECT, Undefined: true},
			{Name: "own", Value: 0x8, Bind: elf.STB_GLOBAL, Type: elf.STT_OBJECT},
		},
		Relocs: []elftest.Reloc{
			{Off: 0x00, Symbol: "dup", Type: elf.R_X86_64_GLOB_DAT},
			{Off: 0x08, Symbol: "own", Type: elf.R_X86_64_64, Addend: 4},
		},
	}
	first := load(t, provider(), providerBase)
	u := load(t, user, consumerBase)
	second := load(t, provider(), 0x300000)
	l := New()
	require.NoError(t, l.Add(second.img, second.mem))
	require.NoError(t, l.Add(u.img, u.mem))
	require.NoError(t, l.Add(first.img, first.mem))
	require.NoError(t, l.Relocate())

	dup := elftest.Symbol{Value: 0x40}
	require.Equal(t, 0x300000+second.obj.SymbolAddr(dup), u.word(u.obj.DataAddr))
	require.Equal(t, consumerBase+u.obj.TextAddr+0x8+4, u.word(u.obj.DataAddr+0x08))

	addr, err := l.ResolveSymbol("dup")
	require.NoError(t, err)
	require.Equal(t, 0x300000+second.obj.SymbolAddr(dup), addr)
}

func TestRelocateUnresolved(t *testing.T) {
	b := load(t, consumer(), consumerBase)
	before := bytes.Clone(b.mem.Bytes())
	l := New()
	require.NoError(t, l.Add(b.img, b.mem))
	err := l.Relocate()
	require.ErrorIs(t, err, hvloader.ErrSymbolNotFound)
	require.ErrorIs(t, err, hvloader.ErrLookup)
	require.Contains(t, err.Error(), "shared_fn")
	require.False(t, l.Relocated())
	require.Equal(t, before, b.mem.Bytes())
}

func TestRelocateCorruption(t *testing.T) {
	for name, tc := range map[string]struct {
		reloc elftest.Reloc
		err   error
	}{
		"unsupported type": {elftest.Reloc{Off: 0, Symbol: "shared_fn", Type: elf.R_X86_64_PC32}, hvloader.ErrRelocationType},
		"symbol index":     {elftest.Reloc{Off: 0, SymIndex: 99, Type: elf.R_X86_64_64}, hvloader.ErrSymbolIndex},
		"relative index":   {elftest.Reloc{Off: 0, SymIndex: 99, Type: elf.R_X86_64_RELATIVE, Addend: 8}, hvloader.ErrSymbolIndex},
		"none index":       {elftest.Reloc{Off: 0, SymIndex: 99, Type: elf.R_X86_64_NONE}, hvloader.ErrSymbolIndex},
		"target":           {elftest.Reloc{Off: 0x100000, Type: elf.R_X86_64_RELATIVE}, hvloader.ErrOutOfBounds},
	} {
		t.Run(name, func(t *testing.T) {
			a := load(t, provider(), providerBase)
			bld := consumer()
			bld.Relocs = append(bld.Relocs, tc.reloc)
			b := load(t, bld, consumerBase)
			before := bytes.Clone(b.mem.Bytes())
			l := New()
			require.NoError(t, l.Add(a.img, a.mem))
			require.NoError(t, l.Add(b.img, b.mem))
			err := l.Relocate()
			require.ErrorIs(t, err, tc.err)
			require.ErrorIs(t, err, hvloader.ErrCorruption)
			require.Equal(t, before, b.mem.Bytes())
		})
	}
}

func TestResolveSymbol(t *testing.T) {
	l := New()
	_, err := l.ResolveSymbol("shared_fn")
	require.ErrorIs(t, err, hvloader.ErrNoImages)

	a := load(t, provider(), providerBase)
	require.NoError(t, l.Add(a.img, a.mem))
	_, err = l.ResolveSymbol("")
	require.ErrorIs(t, err, hvloader.ErrNameEmpty)
	_, err = l.ResolveSymbol("absent")
	require.ErrorIs(t, err, hvloader.ErrSymbolNotFound)

	require.NoError(t, l.Add(new(hvelf.Image), memory.NewBuffer(make([]byte, 0x1000), 0)))
	_, err = l.ResolveSymbol("shared_fn")
	require.ErrorIs(t, err, hvloader.ErrUninitialized)
	require.ErrorIs(t, err, hvloader.ErrState)
}

func TestLocalSymbolsNotExported(t *testing.T) {
	hidden := &elftest.Builder{
		SoName:  "libhidden.so",
		Symbols: []elftest.Symbol{{Name: "hidden_fn", Value: 0x20, Bind: elf.STB_LOCAL, Type: elf.STT_FUNC}},
	}
	user := &elftest.Builder{
		Needed:  []string{"libhidden.so"},
		Symbols: []elftest.Symbol{{Name: "hidden_fn", Bind: elf.STB_GLOBAL, Type: elf.STT_FUNC, Undefined: true}},
		Relocs:  []elftest.Reloc{{Off: 0, Symbol: "hidden_fn", Type: elf.R_X86_64_GLOB_DAT}},
	}
	a := load(t, hidden, providerBase)
	b := load(t, user, consumerBase)
	l := New()
	require.NoError(t, l.Add(a.img, a.mem))
	require.NoError(t, l.Add(b.img, b.mem))

	err := l.Relocate()
	require.ErrorIs(t, err, hvloader.ErrSymbolNotFound)
	require.Contains(t, err.Error(), "hidden_fn")
	require.False(t, l.Relocated())

	_, err = l.ResolveSymbol("hidden_fn")
	require.ErrorIs(t, err, hvloader.ErrSymbolNotFound)
}

func TestConstructors(t *testing.T) {
	a := load(t, provider(), providerBase)
	b := load(t, consumer(), consumerBase)
	l := New()
	require.NoError(t, l.Add(a.img, a.mem))
	require.NoError(t, l.Add(b.img, b.mem))
	_, err := l.Constructors(a.img)
	require.ErrorIs(t, err, hvloader.ErrState)
	require.NoError(t, l.Relocate())

	funcs, err := l.Constructors(a.img)
	require.NoError(t, err)
	require.Equal(t, []uint64{0x10}, funcs)
	funcs, err = l.Constructors(b.img)
	require.NoError(t, err)
	require.Empty(t, funcs)
	funcs, err = l.Destructors(b.img)
	require.NoError(t, err)
	require.Equal(t, []uint64{0x20, 0x30}, funcs)

	other := load(t, provider(), 0)
	_, err = l.Destructors(other.img)
	require.ErrorIs(t, err, hvloader.ErrArgument)
}

func TestSectionInfo(t *testing.T) {
	a := load(t, provider(), providerBase)
	b := load(t, consumer(), consumerBase)
	l := New()
	require.NoError(t, l.Add(a.img, a.mem))
	require.NoError(t, l.Add(b.img, b.mem))
	require.NoError(t, l.Relocate())

	info, err := l.SectionInfo(a.img)
	require.NoError(t, err)
	require.Equal(t, providerBase+a.obj.InitArray.Addr, info.InitArray.Addr)
	require.Equal(t, uint64(8), info.InitArray.Size)
	require.Equal(t, providerBase+a.obj.EhFrame.Addr, info.EhFrame.Addr)
	require.Equal(t, uint64(0x18), info.EhFrame.Size)
	require.Zero(t, info.FiniArray)

	info, err = l.SectionInfo(b.img)
	require.NoError(t, err)
	require.Equal(t, uint64(consumerBase+0x150), info.Entry)
	require.Equal(t, consumerBase+b.obj.FiniArray.Addr, info.FiniArray.Addr)
	require.Equal(t, uint64(16), info.FiniArray.Size)

	other := load(t, provider(), 0)
	info, err = l.SectionInfo(other.img)
	require.NoError(t, err)
	require.Equal(t, other.obj.InitArray.Addr, info.InitArray.Addr)

	_, err = l.SectionInfo(new(hvelf.Image))
	require.ErrorIs(t, err, hvloader.ErrArgument)
	_, err = l.SectionInfo(nil)
	require.ErrorIs(t, err, hvloader.ErrArgument)
}

func TestRegions(t *testing.T) {
	a := load(t, provider(), providerBase)
	l := New()
	require.NoError(t, l.Add(a.img, a.mem))
	regions, err := l.Regions(a.img)
	require.NoError(t, err)
	require.Len(t, regions, 2)
	require.Equal(t, uint64(providerBase), regions[0].Addr)
	require.Equal(t, memory.MEM_PROT_READ|memory.MEM_PROT_EXEC, regions[0].Prot)
	require.True(t, regions[1].Contains(providerBase+a.obj.DataAddr))

	img, err := l.ModuleAt(providerBase + a.obj.TextAddr)
	require.NoError(t, err)
	require.Same(t, a.img, img)
	_, err = l.ModuleAt(0x10)
	require.ErrorIs(t, err, hvloader.ErrLookup)

	_, err = l.Regions(new(hvelf.Image))
	require.ErrorIs(t, err, hvloader.ErrArgument)
}
