// Command arenactl exercises arenas from the command line: it runs the
// reference scenario, drives synthetic workloads, serves arena metrics and
// feeds viewer commands through the command service.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/urfave/cli/v2"
)

var verbosityFlag = &cli.IntFlag{
	Name:  "verbosity",
	Usage: "Logging verbosity: 0=errors and summaries, 1=arena lifecycle, 2=every big allocation",
	Value: 0,
}

const loggerKey = "logger"

func newApp() *cli.App {
	return &cli.App{
		Name:  "arenactl",
		Usage: "region arena allocator toolbox",
		Flags: []cli.Flag{
			configFileFlag,
			verbosityFlag,
			firstPageFlag,
			maxPageFlag,
			heapLimitFlag,
		},
		Before: func(ctx *cli.Context) error {
			stdr.SetVerbosity(ctx.Int(verbosityFlag.Name))
			ctx.App.Metadata = map[string]interface{}{
				loggerKey: stdr.New(log.New(ctx.App.ErrWriter, "", log.LstdFlags)),
			}
			return nil
		},
		Commands: []*cli.Command{
			scenarioCommand,
			statsCommand,
			rpcCommand,
			serveCommand,
			dumpConfigCommand,
		},
	}
}

func logger(ctx *cli.Context) logr.Logger {
	if l, ok := ctx.App.Metadata[loggerKey].(logr.Logger); ok {
		return l
	}
	return logr.Discard()
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
