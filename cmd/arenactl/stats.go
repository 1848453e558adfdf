package main

import (
	"fmt"
	"math/rand"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/fbxview/arena"
)

var (
	allocsFlag = &cli.IntFlag{
		Name:  "allocs",
		Usage: "Number of allocations in the workload",
	}
	minSizeFlag = &cli.IntFlag{
		Name:  "min",
		Usage: "Smallest allocation in bytes",
	}
	maxSizeFlag = &cli.IntFlag{
		Name:  "max",
		Usage: "Largest allocation in bytes",
	}
	releaseFlag = &cli.Float64Flag{
		Name:  "release",
		Usage: "Probability of releasing a random live block after each allocation",
	}
	seedFlag = &cli.Int64Flag{
		Name:  "seed",
		Usage: "Random seed of the workload",
	}
)

var statsCommand = &cli.Command{
	Name:  "stats",
	Usage: "Run a synthetic allocation workload and print arena statistics",
	Flags: []cli.Flag{allocsFlag, minSizeFlag, maxSizeFlag, releaseFlag, seedFlag},
	Action: func(ctx *cli.Context) error {
		cfg, err := makeConfig(ctx)
		if err != nil {
			return err
		}
		w := workloadFromFlags(ctx, cfg.Workload)
		opts, heap := arenaOptions(ctx, cfg)

		a, err := arena.New(nil, opts...)
		if err != nil {
			return err
		}
		rows, err := runWorkload(a, w)
		if err != nil {
			a.Free()
			return err
		}
		a.Free()
		rows = append(rows, namedStats{"freed", a.Stats()})

		renderStats(ctx.App.Writer, "Phase", rows)
		if heap != nil {
			fmt.Fprintf(ctx.App.Writer, "heap: %d bytes in use, peak %d of %d\n", heap.InUse(), heap.Peak(), heap.Limit())
		}
		return nil
	},
}

func workloadFromFlags(ctx *cli.Context, w workloadConfig) workloadConfig {
	if ctx.IsSet(allocsFlag.Name) {
		w.Allocs = ctx.Int(allocsFlag.Name)
	}
	if ctx.IsSet(minSizeFlag.Name) {
		w.MinSize = ctx.Int(minSizeFlag.Name)
	}
	if ctx.IsSet(maxSizeFlag.Name) {
		w.MaxSize = ctx.Int(maxSizeFlag.Name)
	}
	if ctx.IsSet(releaseFlag.Name) {
		w.ReleaseRatio = ctx.Float64(releaseFlag.Name)
	}
	if ctx.IsSet(seedFlag.Name) {
		w.Seed = ctx.Int64(seedFlag.Name)
	}
	return w
}

// runWorkload performs w against a and returns a snapshot at the halfway
// point and at the end.
func runWorkload(a *arena.Arena, w workloadConfig) ([]namedStats, error) {
	if err := w.validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(w.Seed))
	var (
		live [][]byte
		rows []namedStats
	)
	for i := 0; i < w.Allocs; i++ {
		size := w.MinSize + rng.Intn(w.MaxSize-w.MinSize+1)
		b, err := a.AllocUninit(1, size)
		if err != nil {
			return rows, errors.Wrapf(err, "allocation %d", i)
		}
		live = append(live, b)
		if rng.Float64() < w.ReleaseRatio {
			j := rng.Intn(len(live))
			a.Release(live[j])
			live[j] = live[len(live)-1]
			live = live[:len(live)-1]
		}
		if i == w.Allocs/2 {
			rows = append(rows, namedStats{"halfway", a.Stats()})
		}
	}
	rows = append(rows, namedStats{"done", a.Stats()})
	return rows, nil
}
