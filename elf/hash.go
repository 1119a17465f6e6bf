package elf

import (
	"debug/elf"

	"github.com/pkg/errors"
	"github.com/wnxd/hvloader"
	"github.com/wnxd/hvloader/encoding"
)

type hashTable struct {
	buckets []uint32
	chains  []uint32
}

// elfHash is the SysV ABI symbol hash.
func elfHash(name string) uint32 {
	var h uint32
	for i := 0; i < len(name); i++ {
		h = h<<4 + uint32(name[i])
		g := h & 0xf0000000
		if g != 0 {
			h ^= g >> 24
		}
		h &^= g
	}
	return h
}

func (img *Image) parseHash() error {
	addr, ok := img.dynOne(elf.DT_HASH)
	if !ok {
		return nil
	}
	head, err := img.bytesAt(addr, 8)
	if err != nil {
		return errors.WithMessage(err, "hash table")
	}
	var nbucket, nchain uint32
	stream := encoding.NewBufferStream(head, 0)
	if err = encoding.Decode(stream, &nbucket); err == nil {
		err = encoding.Decode(stream, &nchain)
	}
	if err != nil {
		return errors.Wrapf(hvloader.ErrTableInvalid, "hash table: %v", err)
	}
	if nbucket == 0 {
		return errors.Wrap(hvloader.ErrTableInvalid, "hash table without buckets")
	}
	words, err := img.bytesAt(addr, 8+4*(uint64(nbucket)+uint64(nchain)))
	if err != nil {
		return errors.WithMessage(err, "hash table")
	}
	img.hash.buckets = make([]uint32, nbucket)
	img.hash.chains = make([]uint32, nchain)
	stream = encoding.NewBufferStream(words, 8)
	for _, table := range [][]uint32{img.hash.buckets, img.hash.chains} {
		for i := range table {
			if err = encoding.Decode(stream, &table[i]); err != nil {
				return errors.Wrapf(hvloader.ErrTableInvalid, "hash table: %v", err)
			}
			if table[i] >= nchain {
				return errors.Wrapf(hvloader.ErrSymbolIndex, "hash table entry %d of %d", table[i], nchain)
			}
		}
	}
	return nil
}

// FindSymbol resolves name to its address in the image. The image's load
// bias is zero: addresses are the values encoded in the symbol table. The
// hash table is used when present, otherwise the whole symbol table is
// scanned; both give the same answer for any defined symbol.
func (img *Image) FindSymbol(name string) (uint64, error) {
	sym, err := img.LookupSymbol(name)
	if err != nil {
		return 0, err
	}
	return sym.Value, nil
}

// LookupSymbol is FindSymbol returning the whole symbol record. When a name
// is defined more than once the lowest symbol index wins, on both paths.
func (img *Image) LookupSymbol(name string) (Symbol, error) {
	return img.lookup(name, (*Symbol).isDefined)
}

// FindExport resolves name among the symbols the image exports to other
// images: defined with global or weak binding.
func (img *Image) FindExport(name string) (uint64, error) {
	sym, err := img.lookup(name, (*Symbol).IsExported)
	if err != nil {
		return 0, err
	}
	return sym.Value, nil
}

func (img *Image) lookup(name string, accept func(*Symbol) bool) (Symbol, error) {
	if err := img.check(); err != nil {
		return Symbol{}, err
	}
	if name == "" {
		return Symbol{}, hvloader.ErrNameEmpty
	}
	var sym *Symbol
	var err error
	if len(img.hash.buckets) != 0 {
		sym, err = img.findHashSymbol(name, accept)
	} else {
		sym, err = img.findLinearSymbol(name, accept)
	}
	if err != nil {
		return Symbol{}, err
	}
	return *sym, nil
}

// findHashSymbol walks the whole chain and keeps the lowest matching index,
// which is what the linear scan returns.
func (img *Image) findHashSymbol(name string, accept func(*Symbol) bool) (*Symbol, error) {
	h := elfHash(name)
	index := img.hash.buckets[h%uint32(len(img.hash.buckets))]
	var found *Symbol
	var best uint32
	// a well formed chain visits each symbol at most once
	for steps := 0; index != 0; steps++ {
		if steps >= len(img.hash.chains) {
			return nil, errors.Wrapf(hvloader.ErrTableInvalid, "hash chain for %q loops", name)
		}
		if int(index) >= len(img.symbols) {
			return nil, errors.Wrapf(hvloader.ErrSymbolIndex, "hash chain entry %d of %d", index, len(img.symbols))
		}
		sym := &img.symbols[index]
		if sym.Name == name && accept(sym) && (found == nil || index < best) {
			found, best = sym, index
		}
		index = img.hash.chains[index]
	}
	if found == nil {
		return nil, errors.Wrapf(hvloader.ErrSymbolNotFound, "%q", name)
	}
	return found, nil
}

func (img *Image) findLinearSymbol(name string, accept func(*Symbol) bool) (*Symbol, error) {
	for i := 1; i < len(img.symbols); i++ {
		sym := &img.symbols[i]
		if sym.Name == name && accept(sym) {
			return sym, nil
		}
	}
	return nil, errors.Wrapf(hvloader.ErrSymbolNotFound, "%q", name)
}

// SymbolName returns the name of the first defined symbol whose value is
// addr. When several symbols share a value the lowest index wins.
func (img *Image) SymbolName(addr uint64) (string, error) {
	if err := img.check(); err != nil {
		return "", err
	}
	for i := 1; i < len(img.symbols); i++ {
		sym := &img.symbols[i]
		if sym.Value == addr && !sym.IsUndefined() {
			return sym.Name, nil
		}
	}
	return "", errors.Wrapf(hvloader.ErrSymbolNotFound, "address %#x", addr)
}

func (img *Image) parseSymbols() error {
	addr, ok := img.dynOne(elf.DT_SYMTAB)
	if !ok {
		return nil
	}
	if ent, ok := img.dynOne(elf.DT_SYMENT); ok && ent != symSize {
		return errors.Wrapf(hvloader.ErrTableInvalid, "symbol entry size %d", ent)
	}
	count, err := img.symbolCount(addr)
	if err != nil {
		return err
	}
	if count == 0 {
		return nil
	}
	raw, err := img.bytesAt(addr, count*symSize)
	if err != nil {
		return errors.WithMessage(err, "symbol table")
	}
	stream := encoding.NewBufferStream(raw, 0)
	img.symbols = make([]Symbol, count)
	for i := range img.symbols {
		var sym elf.Sym64
		if err = encoding.Decode(stream, &sym); err != nil {
			return errors.Wrapf(hvloader.ErrOutOfBounds, "symbol %d: %v", i, err)
		}
		name, err := img.getString(uint64(sym.Name))
		if err != nil {
			return errors.WithMessagef(err, "symbol %d", i)
		}
		img.symbols[i] = Symbol{
			Name:    name,
			Info:    sym.Info,
			Other:   sym.Other,
			Section: elf.SectionIndex(sym.Shndx),
			Value:   sym.Value,
			Size:    sym.Size,
		}
	}
	return nil
}

// symbolCount sizes the dynamic symbol table, which the dynamic section
// does not record: nchain of the hash table, else the SHT_DYNSYM section
// header, else the gap up to the string table that follows it.
func (img *Image) symbolCount(addr uint64) (uint64, error) {
	if img.hash.chains != nil {
		return uint64(len(img.hash.chains)), nil
	}
	for _, sec := range img.sections {
		if sec.Type != elf.SHT_DYNSYM {
			continue
		}
		if sec.Entsize != symSize || sec.Size%symSize != 0 {
			return 0, errors.Wrapf(hvloader.ErrTableInvalid, "dynsym section size %#x entry %d", sec.Size, sec.Entsize)
		}
		return sec.Size / symSize, nil
	}
	if strtab, ok := img.dynOne(elf.DT_STRTAB); ok && strtab > addr {
		return (strtab - addr) / symSize, nil
	}
	return 0, nil
}
