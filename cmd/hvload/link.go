package main

import (
	"fmt"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"github.com/wnxd/hvloader/elf"
	"github.com/wnxd/hvloader/filesystem"
	"github.com/wnxd/hvloader/loader"
	"github.com/wnxd/hvloader/memory"
	"go.uber.org/multierr"
)

// collect reads the named modules and, breadth first, every module they
// need. Modules that cannot be read or parsed are reported together.
func collect(sp filesystem.SearchPath, roots []string, logger log.Logger) ([]string, map[string]*elf.Image, error) {
	var (
		err    error
		order  []string
		images = make(map[string]*elf.Image)
		seen   = make(map[string]bool)
	)
	names := make([]string, 0, len(roots))
	for _, name := range roots {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for len(names) != 0 {
		modules, e := sp.ReadAll(names)
		err = multierr.Append(err, e)
		var next []string
		for _, name := range names {
			data, ok := modules[name]
			if !ok {
				continue
			}
			img, e := elf.New(data)
			if e != nil {
				err = multierr.Append(err, errors.WithMessage(e, name))
				continue
			}
			level.Debug(logger).Log("msg", "module parsed", "module", name, "needed", len(img.Needed()))
			order = append(order, name)
			images[name] = img
			for _, dep := range img.Needed() {
				if !seen[dep] {
					seen[dep] = true
					next = append(next, dep)
				}
			}
		}
		names = next
	}
	return order, images, err
}

func link(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return errors.New("missing module list")
	}
	logger := newLogger(ctx)
	sp := filesystem.SysPath(ctx.StringSlice("dir")...)
	order, images, err := collect(sp, ctx.Args().Slice(), logger)
	if err != nil {
		return err
	}

	l := loader.New(loader.WithCapacity(ctx.Int("capacity")), loader.WithLogger(logger))
	base := memory.Align(ctx.Uint64("base"), memory.PageSize)
	for _, name := range order {
		img := images[name]
		span, err := img.Span()
		if err != nil {
			return err
		}
		mem := memory.NewBuffer(make([]byte, span), base)
		if err = img.Load(mem); err != nil {
			return errors.WithMessage(err, name)
		}
		if err = l.Add(img, mem); err != nil {
			return errors.WithMessage(err, name)
		}
		level.Info(logger).Log("msg", "module placed", "module", name, "base", fmt.Sprintf("%#x", base), "size", span)
		base += span
	}
	if err = l.Relocate(); err != nil {
		return err
	}

	w := writer(ctx)
	for i, img := range l.Images() {
		info, err := l.SectionInfo(img)
		if err != nil {
			return err
		}
		regions, err := l.Regions(img)
		if err != nil {
			return err
		}
		var start uint64
		if len(regions) != 0 {
			start = regions[0].Addr
		}
		fmt.Fprintf(w, "%s base %#x entry %#x\n", order[i], start, info.Entry)
		for _, region := range regions {
			fmt.Fprintf(w, "  %s %#x-%#x\n", region.Prot, region.Addr, region.End())
		}
		fmt.Fprintf(w, "  init_array %#x+%#x fini_array %#x+%#x eh_frame %#x+%#x\n",
			info.InitArray.Addr, info.InitArray.Size, info.FiniArray.Addr, info.FiniArray.Size, info.EhFrame.Addr, info.EhFrame.Size)
		ctors, err := l.Constructors(img)
		if err != nil {
			return err
		}
		for _, fn := range ctors {
			fmt.Fprintf(w, "  ctor %#x\n", fn)
		}
	}
	for _, name := range ctx.StringSlice("resolve") {
		addr, err := l.ResolveSymbol(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%016x %s\n", addr, name)
	}
	return nil
}
