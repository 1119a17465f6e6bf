package main

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
	"github.com/wnxd/hvloader/elf"
)

func symbols(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return errors.New("expected one module")
	}
	img, err := readImage(ctx.Args().First())
	if err != nil {
		return err
	}
	w := writer(ctx)
	if name := ctx.String("find"); name != "" {
		addr, err := img.FindSymbol(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%016x %s\n", addr, name)
		return nil
	}
	all := img.Symbols()
	if len(all) == 0 {
		return nil
	}
	syms := lo.Filter(all[1:], func(sym elf.Symbol, _ int) bool {
		switch {
		case ctx.Bool("defined"):
			return !sym.IsUndefined()
		case ctx.Bool("undefined"):
			return sym.IsUndefined()
		}
		return true
	})
	lines := lo.Map(syms, func(sym elf.Symbol, _ int) string {
		section := "UND"
		if !sym.IsUndefined() {
			section = fmt.Sprint(uint16(sym.Section))
		}
		return fmt.Sprintf("%016x %6d %-7s %-6s %3s %s",
			sym.Value, sym.Size, strings.TrimPrefix(sym.Type().String(), "STT_"), strings.TrimPrefix(sym.Bind().String(), "STB_"), section, sym.Name)
	})
	for _, line := range lines {
		fmt.Fprintln(w, line)
	}
	return nil
}
