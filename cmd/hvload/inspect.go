package main

import (
	"fmt"
	"os"
	"slices"

	"github.com/ZenLiuCN/fn"
	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"github.com/wnxd/hvloader/elf"
	"go.uber.org/multierr"
)

func readImage(path string) (*elf.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, err := elf.New(data)
	if err != nil {
		return nil, errors.WithMessage(err, path)
	}
	return img, nil
}

func inspect(ctx *cli.Context) (err error) {
	if ctx.NArg() == 0 {
		return errors.New("missing module list")
	}
	w := writer(ctx)
	for _, path := range ctx.Args().Slice() {
		img, e := readImage(path)
		if e != nil {
			err = multierr.Append(err, e)
			continue
		}
		hdr, e := img.Header()
		if e != nil {
			err = multierr.Append(err, errors.WithMessage(e, path))
			continue
		}
		info, e := img.SectionInfo()
		if e != nil {
			err = multierr.Append(err, errors.WithMessage(e, path))
			continue
		}
		fmt.Fprintf(w, "%s:\n", path)
		fmt.Fprintf(w, "  name %q type %v machine %v entry %#x\n", img.Name(), hdr.Type, hdr.Machine, hdr.Entry)
		for i, seg := range img.Segments() {
			fmt.Fprintf(w, "  segment %d %-12v %s vaddr %#08x file %#x mem %#x\n", i, seg.Type, seg.Prot(), seg.Vaddr, seg.Filesz, seg.Memsz)
		}
		for _, tag := range img.DynTags() {
			fmt.Fprintf(w, "  %-18v %#x\n", tag, img.DynValue(tag))
		}
		for _, name := range img.Needed() {
			fmt.Fprintf(w, "  needs %s\n", name)
		}
		fmt.Fprintf(w, "  init_array %#x+%#x fini_array %#x+%#x eh_frame %#x+%#x\n",
			info.InitArray.Addr, info.InitArray.Size, info.FiniArray.Addr, info.FiniArray.Size, info.EhFrame.Addr, info.EhFrame.Size)
		if ctx.Bool("dump") {
			relocs := make(map[string]int)
			for _, rel := range img.Relocations() {
				relocs[rel.Type.String()]++
			}
			kinds := fn.MapKeys(relocs)
			slices.Sort(kinds)
			for _, kind := range kinds {
				fmt.Fprintf(w, "  %-22s %d\n", kind, relocs[kind])
			}
			spew.Fdump(w, hdr, img.Sections())
		}
	}
	return
}
