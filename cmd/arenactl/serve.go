package main

import (
	"context"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/fbxview/arena"
)

var (
	addrFlag = &cli.StringFlag{
		Name:  "addr",
		Usage: "Listen address of the metrics endpoint",
	}
	workersFlag = &cli.IntFlag{
		Name:  "workers",
		Usage: "Goroutines allocating from the shared arena",
	}
	durationFlag = &cli.DurationFlag{
		Name:  "duration",
		Usage: "Stop after this long (0 = until interrupted)",
	}
)

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "Run a concurrent workload on a shared arena and export its stats to Prometheus",
	Flags: []cli.Flag{addrFlag, workersFlag, durationFlag, minSizeFlag, maxSizeFlag},
	Action: func(ctx *cli.Context) error {
		cfg, err := makeConfig(ctx)
		if err != nil {
			return err
		}
		if ctx.IsSet(addrFlag.Name) {
			cfg.Serve.Addr = ctx.String(addrFlag.Name)
		}
		if ctx.IsSet(workersFlag.Name) {
			cfg.Serve.Workers = ctx.Int(workersFlag.Name)
		}
		period, err := time.ParseDuration(cfg.Serve.Period)
		if err != nil {
			return errors.Wrap(err, "serve period")
		}
		w := workloadFromFlags(ctx, cfg.Workload)
		if err := w.validate(); err != nil {
			return err
		}
		log := logger(ctx)

		opts, heap := arenaOptions(ctx, cfg)
		shared, err := arena.NewSafeArena(opts...)
		if err != nil {
			return err
		}
		defer shared.Free()

		reg := prometheus.NewRegistry()
		reg.MustRegister(
			arena.NewCollector("shared", shared),
			collectors.NewGoCollector(),
		)
		if heap != nil {
			reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "arena_heap_in_use_bytes",
				Help: "Bytes charged against the arena heap budget.",
			}, func() float64 { return float64(heap.InUse()) }))
		}

		runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()
		if d := ctx.Duration(durationFlag.Name); d > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(runCtx, d)
			defer cancel()
		}

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.Serve.Addr, Handler: mux}
		srvErr := make(chan error, 1)
		go func() {
			log.Info("serving metrics", "addr", cfg.Serve.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				srvErr <- err
			}
			close(srvErr)
		}()

		var wg sync.WaitGroup
		for i := 0; i < cfg.Serve.Workers; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				runWorker(runCtx, log.WithValues("worker", id), shared, w, int64(id)+w.Seed, period)
			}(i)
		}

		select {
		case <-runCtx.Done():
		case err = <-srvErr:
			stop()
		}
		wg.Wait()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := srv.Shutdown(shutdownCtx); serr != nil && err == nil {
			err = serr
		}
		return err
	},
}

// runWorker allocates a burst of blocks every period and releases each held
// block with probability w.ReleaseRatio, until ctx is done.
func runWorker(ctx context.Context, log logr.Logger, a *arena.SafeArena, w workloadConfig, seed int64, period time.Duration) {
	rng := rand.New(rand.NewSource(seed))
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	var live [][]byte
	defer func() {
		for _, b := range live {
			a.Release(b)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		live = workerTick(log, a, w, rng, live)
	}
}

const burstSize = 64

func workerTick(log logr.Logger, a *arena.SafeArena, w workloadConfig, rng *rand.Rand, live [][]byte) [][]byte {
	for i := 0; i < burstSize; i++ {
		b, err := a.AllocUninit(1, w.MinSize+rng.Intn(w.MaxSize-w.MinSize+1))
		if err != nil {
			log.Error(err, "allocation failed")
			break
		}
		live = append(live, b)
	}
	for i := len(live) - 1; i >= 0; i-- {
		if rng.Float64() < w.ReleaseRatio {
			a.Release(live[i])
			live[i] = live[len(live)-1]
			live = live[:len(live)-1]
		}
	}
	return live
}
