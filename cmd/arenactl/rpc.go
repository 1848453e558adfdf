package main

import (
	"bufio"
	"bytes"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/fbxview/arena/internal/gfx"
	"github.com/fbxview/arena/internal/viewer"
)

const maxRequestSize = 64 << 20

var rpcStatsFlag = &cli.BoolFlag{
	Name:  "stats",
	Usage: "Print the service arenas to stderr after the last command",
}

var rpcCommand = &cli.Command{
	Name:      "rpc",
	Usage:     "Execute newline-delimited JSON viewer commands from stdin",
	ArgsUsage: "< commands.jsonl",
	Flags:     []cli.Flag{rpcStatsFlag},
	Action: func(ctx *cli.Context) error {
		cfg, err := makeConfig(ctx)
		if err != nil {
			return err
		}
		log := logger(ctx)
		opts, _ := arenaOptions(ctx, cfg)

		dev := gfx.NewDevice(log.WithName("gfx"))
		svc, err := viewer.New(dev, log.WithName("viewer"), opts...)
		if err != nil {
			return err
		}
		defer svc.Close()

		scanner := bufio.NewScanner(ctx.App.Reader)
		scanner.Buffer(make([]byte, 64<<10), maxRequestSize)
		out := bufio.NewWriter(ctx.App.Writer)
		defer out.Flush()
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			if _, err := out.Write(svc.Call(line)); err != nil {
				return err
			}
			if err := out.WriteByte('\n'); err != nil {
				return err
			}
		}
		if err := scanner.Err(); err != nil {
			return errors.Wrap(err, "read commands")
		}

		if ctx.Bool(rpcStatsFlag.Name) {
			if err := out.Flush(); err != nil {
				return err
			}
			renderStats(ctx.App.ErrWriter, "Arena", sortedStats(svc.Stats()))
		}
		log.V(1).Info("rpc session done", "liveResources", dev.Live(0))
		return nil
	},
}
