package main

import (
	"io"
	stdlog "log"
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		stdlog.Fatalf("failure %s", err)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "hvload"
	app.Usage = "inspect and link hypervisor runtime modules"
	app.Description = "hvload parses x86-64 ELF shared objects the way the hypervisor loader does and links a module set into memory"
	app.Flags = []cli.Flag{
		&cli.StringFlag{Name: "log-level", Value: "info", Usage: "debug, info, warn or error", EnvVars: []string{"HVLOAD_LOG_LEVEL"}},
	}
	// errors go back to main, which reports them once
	app.ExitErrHandler = func(*cli.Context, error) {}
	app.Commands = []*cli.Command{
		{
			Name:      "inspect",
			Usage:     "show header, segments, dynamic table and section info of a module",
			ArgsUsage: "<module>...",
			Action:    inspect,
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "dump", Aliases: []string{"d"}, Usage: "dump the decoded structures"},
			},
		},
		{
			Name:      "symbols",
			Usage:     "list the dynamic symbols of a module",
			ArgsUsage: "<module>",
			Action:    symbols,
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "defined", Usage: "only symbols the module exports"},
				&cli.BoolFlag{Name: "undefined", Usage: "only symbols the module imports"},
				&cli.StringFlag{Name: "find", Usage: "resolve one name through the hash table"},
			},
		},
		{
			Name:      "link",
			Usage:     "load and relocate a module together with everything it needs",
			ArgsUsage: "<module>...",
			Action:    link,
			Flags: []cli.Flag{
				&cli.StringSliceFlag{Name: "dir", Aliases: []string{"L"}, Value: cli.NewStringSlice("."), Usage: "module search directories", EnvVars: []string{"HVLOAD_DIR"}},
				&cli.IntFlag{Name: "capacity", Value: 25, Usage: "maximum number of modules", EnvVars: []string{"HVLOAD_CAPACITY"}},
				&cli.Uint64Flag{Name: "base", Value: 0x10000000, Usage: "address the first module is placed at"},
				&cli.StringSliceFlag{Name: "resolve", Aliases: []string{"r"}, Usage: "symbols to resolve after linking"},
			},
		},
	}
	return app
}

func newLogger(ctx *cli.Context) log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(ctx.App.ErrWriter))
	logger = level.NewFilter(logger, levelFilter(ctx.String("log-level")))
	return log.With(logger, "ts", log.DefaultTimestampUTC)
}

func levelFilter(l string) level.Option {
	switch l {
	case "debug":
		return level.AllowDebug()
	case "info":
		return level.AllowInfo()
	case "warn":
		return level.AllowWarn()
	case "error":
		return level.AllowError()
	default:
		return level.AllowAll()
	}
}

func writer(ctx *cli.Context) io.Writer {
	if ctx.App.Writer != nil {
		return ctx.App.Writer
	}
	return os.Stdout
}
