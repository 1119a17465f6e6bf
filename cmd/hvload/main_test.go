package main

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	hvelf "github.com/wnxd/hvloader/elf"
	"github.com/wnxd/hvloader/internal/elftest"
)

func writeModules(t *testing.T) (string, *elftest.Object, *elftest.Object) {
	t.Helper()
	dir := t.TempDir()
	fn := elftest.Symbol{Name: "shared_fn", Value: 0x20, Bind: elf.STB_GLOBAL, Type: elf.STT_FUNC}
	provider := (&elftest.Builder{
		SoName:    "libprovider.so",
		Symbols:   []elftest.Symbol{fn},
		EhFrame:   make([]byte, 0x10),
		InitArray: []uint64{0x1234},
	}).Build()
	consumer := (&elftest.Builder{
		SoName:  "libconsumer.so",
		Needed:  []string{"libprovider.so"},
		Symbols: []elftest.Symbol{{Name: "shared_fn", Bind: elf.STB_GLOBAL, Type: elf.STT_FUNC, Undefined: true}},
		Relocs:  []elftest.Reloc{{Off: 0, Symbol: "shared_fn", Type: elf.R_X86_64_64, Addend: 8}},
	}).Build()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "libprovider.so"), provider.Bytes, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "libconsumer.so"), consumer.Bytes, 0o644))
	return dir, provider, consumer
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	app := newApp()
	app.Writer = &stdout
	app.ErrWriter = &stderr
	err := app.Run(append([]string{"hvload"}, args...))
	return stdout.String(), err
}

func TestLinkCommand(t *testing.T) {
	dir, provider, consumer := writeModules(t)
	img, err := hvelf.New(consumer.Bytes)
	require.NoError(t, err)
	span, err := img.Span()
	require.NoError(t, err)

	out, err := run(t, "link", "--dir", dir, "--base", "0x400000", "--resolve", "shared_fn", "libconsumer.so")
	require.NoError(t, err)
	require.Contains(t, out, "libconsumer.so base 0x400000")
	require.Contains(t, out, fmt.Sprintf("libprovider.so base %#x", 0x400000+span))
	want := 0x400000 + span + provider.SymbolAddr(elftest.Symbol{Value: 0x20})
	require.Contains(t, out, fmt.Sprintf("%016x shared_fn", want))
	require.Contains(t, out, "  ctor 0x1234\n")
}

func TestLinkMissingModule(t *testing.T) {
	dir, _, _ := writeModules(t)
	require.NoError(t, os.Remove(filepath.Join(dir, "libprovider.so")))
	_, err := run(t, "link", "--dir", dir, "libconsumer.so", "libother.so")
	require.Error(t, err)
	require.Contains(t, err.Error(), "libprovider.so")
	require.Contains(t, err.Error(), "libother.so")
}

func TestInspectAndSymbols(t *testing.T) {
	dir, _, _ := writeModules(t)
	out, err := run(t, "inspect", "--dump", filepath.Join(dir, "libconsumer.so"))
	require.NoError(t, err)
	require.Contains(t, out, `name "libconsumer.so"`)
	require.Contains(t, out, "needs libprovider.so")
	require.Contains(t, out, "R_X86_64_64")

	out, err = run(t, "symbols", "--undefined", filepath.Join(dir, "libconsumer.so"))
	require.NoError(t, err)
	require.Contains(t, out, "UND shared_fn")

	out, err = run(t, "symbols", "--find", "shared_fn", filepath.Join(dir, "libprovider.so"))
	require.NoError(t, err)
	require.Contains(t, out, " shared_fn")

	_, err = run(t, "symbols", "--find", "absent", filepath.Join(dir, "libprovider.so"))
	require.Error(t, err)
}

func TestInspectBrokenSectionInfo(t *testing.T) {
	dir := t.TempDir()
	obj := (&elftest.Builder{SoName: "libbroken.so", InitArray: []uint64{0x10}}).Build()
	// turn DT_INIT_ARRAYSZ into DT_DEBUG so the array has no size
	found := false
	for off := obj.Dynamic.Addr; off < obj.Dynamic.Addr+obj.Dynamic.Size; off += 16 {
		if elf.DynTag(binary.LittleEndian.Uint64(obj.Bytes[off:])) == elf.DT_INIT_ARRAYSZ {
			binary.LittleEndian.PutUint64(obj.Bytes[off:], uint64(elf.DT_DEBUG))
			found = true
		}
	}
	require.True(t, found)
	broken := filepath.Join(dir, "libbroken.so")
	require.NoError(t, os.WriteFile(broken, obj.Bytes, 0o644))
	good, _, _ := writeModules(t)

	out, err := run(t, "inspect", broken, filepath.Join(good, "libprovider.so"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "libbroken.so")
	require.Contains(t, err.Error(), "DT_INIT_ARRAY without DT_INIT_ARRAYSZ")
	require.NotContains(t, out, "libbroken.so:")
	require.Contains(t, out, `name "libprovider.so"`)
}
