package main

import (
	"bufio"
	"os"
	"reflect"

	"github.com/naoina/toml"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/fbxview/arena"
)

var configFileFlag = &cli.StringFlag{
	Name:  "config",
	Usage: "TOML configuration file",
}

var (
	firstPageFlag = &cli.IntFlag{
		Name:  "arena.firstpage",
		Usage: "Size of the first heap page in bytes",
	}
	maxPageFlag = &cli.IntFlag{
		Name:  "arena.maxpage",
		Usage: "Cap on page growth in bytes",
	}
	heapLimitFlag = &cli.Int64Flag{
		Name:  "arena.heaplimit",
		Usage: "Byte budget of the heap behind the arenas (0 = unlimited)",
	}
)

// These settings ensure that TOML keys use the same names as Go struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		return errors.Errorf("field '%s' is not defined in %s", field, rt.String())
	},
}

type serveConfig struct {
	Addr    string
	Workers int
	Period  string
}

type workloadConfig struct {
	Allocs       int
	MinSize      int
	MaxSize      int
	ReleaseRatio float64
	Seed         int64
}

func (w workloadConfig) validate() error {
	if w.MinSize < 1 || w.MaxSize < w.MinSize {
		return errors.Errorf("bad workload size range [%d, %d]", w.MinSize, w.MaxSize)
	}
	if w.ReleaseRatio < 0 || w.ReleaseRatio > 1 {
		return errors.Errorf("release ratio %v outside [0, 1]", w.ReleaseRatio)
	}
	return nil
}

type arenactlConfig struct {
	Arena    arena.Config
	Workload workloadConfig
	Serve    serveConfig
}

func defaultConfig() arenactlConfig {
	return arenactlConfig{
		Arena: arena.DefaultConfig,
		Workload: workloadConfig{
			Allocs:       10000,
			MinSize:      8,
			MaxSize:      2048,
			ReleaseRatio: 0.5,
			Seed:         1,
		},
		Serve: serveConfig{
			Addr:    "127.0.0.1:9464",
			Workers: 4,
			Period:  "100ms",
		},
	}
}

func loadConfig(file string, cfg *arenactlConfig) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	// Add file name to errors that have a line number.
	if _, ok := err.(*toml.LineError); ok {
		err = errors.Wrap(err, file)
	}
	return err
}

// makeConfig builds the configuration from defaults, the config file and
// flags, in that order of precedence.
func makeConfig(ctx *cli.Context) (arenactlConfig, error) {
	cfg := defaultConfig()
	if file := ctx.String(configFileFlag.Name); file != "" {
		if err := loadConfig(file, &cfg); err != nil {
			return cfg, err
		}
	}
	if ctx.IsSet(firstPageFlag.Name) {
		cfg.Arena.FirstPageSize = ctx.Int(firstPageFlag.Name)
	}
	if ctx.IsSet(maxPageFlag.Name) {
		cfg.Arena.MaxPageSize = ctx.Int(maxPageFlag.Name)
	}
	if ctx.IsSet(heapLimitFlag.Name) {
		cfg.Arena.HeapLimit = ctx.Int64(heapLimitFlag.Name)
	}
	return cfg, cfg.Arena.Validate()
}

// arenaOptions turns the configuration into options for root arenas. A heap
// limit becomes one LimitedHeap shared by every arena the command creates.
func arenaOptions(ctx *cli.Context, cfg arenactlConfig) ([]arena.Option, *arena.LimitedHeap) {
	opts := []arena.Option{
		arena.WithConfig(arena.Config{
			FirstPageSize: cfg.Arena.FirstPageSize,
			MaxPageSize:   cfg.Arena.MaxPageSize,
		}),
		arena.WithLogger(logger(ctx).WithName("arena")),
	}
	var heap *arena.LimitedHeap
	if cfg.Arena.HeapLimit > 0 {
		heap = arena.NewLimitedHeap(cfg.Arena.HeapLimit)
		opts = append(opts, arena.WithHeap(heap))
	}
	return opts, heap
}

var dumpConfigCommand = &cli.Command{
	Name:        "dumpconfig",
	Usage:       "Show configuration values",
	ArgsUsage:   "",
	Description: `The dumpconfig command shows configuration values.`,
	Action: func(ctx *cli.Context) error {
		cfg, err := makeConfig(ctx)
		if err != nil {
			return err
		}
		out, err := tomlSettings.Marshal(&cfg)
		if err != nil {
			return err
		}
		_, err = ctx.App.Writer.Write(out)
		return err
	},
}
