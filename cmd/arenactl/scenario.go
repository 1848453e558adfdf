package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/fbxview/arena"
)

const sentinel = 0xC0FFEE

var scenarioCommand = &cli.Command{
	Name:  "scenario",
	Usage: "Run the reference root/child arena scenario and report each step",
	Description: `
The scenario creates a root arena and a child, allocates a small and a big
block in the child, registers a deferred sentinel in the child and a plain
callback in the root, then frees the root. The child's callbacks must run
before the root's and the sentinel must arrive intact.`,
	Action: runScenario,
}

func runScenario(ctx *cli.Context) error {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	opts, heap := arenaOptions(ctx, cfg)
	out := ctx.App.Writer

	var events []string
	var steps []namedStats
	snapshot := func(step string, a *arena.Arena) {
		steps = append(steps, namedStats{step, a.Stats()})
	}

	root, err := arena.New(nil, opts...)
	if err != nil {
		return errors.Wrap(err, "create root")
	}
	snapshot("root created", root)

	child, err := arena.New(root)
	if err != nil {
		root.Free()
		return errors.Wrap(err, "create child")
	}
	snapshot("child created", root)

	small, err := child.AllocUninit(1, 40)
	if err != nil {
		root.Free()
		return err
	}
	big, err := child.AllocUninit(1, 10000)
	if err != nil {
		root.Free()
		return err
	}
	snapshot("child allocations", child)

	value := uint64(sentinel)
	if _, err := arena.DeferValue(child, func(v *uint64) {
		events = append(events, fmt.Sprintf("child defer: sentinel %#x", *v))
	}, &value); err != nil {
		root.Free()
		return err
	}
	if _, err := root.Defer(func(any) { events = append(events, "root defer") }, nil); err != nil {
		root.Free()
		return err
	}
	snapshot("defers registered", child)

	child.Release(big)
	if small, err = child.Realloc(1, 200, small); err != nil {
		root.Free()
		return err
	}
	events = append(events, fmt.Sprintf("small block grown to capacity %d", arena.Capacity(small)))
	snapshot("big released", child)

	root.Free()
	snapshot("root freed", root)

	renderStats(out, "Step", steps)
	for _, e := range events {
		fmt.Fprintln(out, e)
	}
	if heap != nil {
		fmt.Fprintf(out, "heap: %d bytes in use, peak %d of %d\n", heap.InUse(), heap.Peak(), heap.Limit())
	}
	return nil
}
