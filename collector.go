package arena

import "github.com/prometheus/client_golang/prometheus"

// StatsSource is anything that can report arena Stats. *SafeArena is the
// usual choice for a Collector, since scrapes happen on other goroutines; a
// plain *Arena may only be used if every scrape is serialized with its owner.
type StatsSource interface {
	Stats() Stats
}

type statMetric struct {
	desc  *prometheus.Desc
	value func(Stats) float64
}

// Collector exports an arena's Stats as Prometheus gauges labelled with
// the arena name.
type Collector struct {
	src     StatsSource
	metrics []statMetric
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a Collector for src reporting under the given name.
func NewCollector(name string, src StatsSource) *Collector {
	labels := prometheus.Labels{"arena": name}
	gauge := func(metric, help string, value func(Stats) float64) statMetric {
		return statMetric{
			desc:  prometheus.NewDesc(prometheus.BuildFQName("arena", "", metric), help, nil, labels),
			value: value,
		}
	}
	return &Collector{
		src: src,
		metrics: []statMetric{
			gauge("pages", "Pages served from, including the initial page.", func(s Stats) float64 { return float64(s.Pages) }),
			gauge("page_bytes", "Capacity of all pages in bytes.", func(s Stats) float64 { return float64(s.PageBytes) }),
			gauge("page_used_bytes", "Bytes bump-allocated from pages.", func(s Stats) float64 { return float64(s.PageUsed) }),
			gauge("small_live", "Outstanding size-classed allocations.", func(s Stats) float64 { return float64(s.SmallLive) }),
			gauge("small_free", "Chunks on size class free lists.", func(s Stats) float64 { return float64(s.SmallFree) }),
			gauge("big_live", "Outstanding big allocations.", func(s Stats) float64 { return float64(s.BigLive) }),
			gauge("big_bytes", "Bytes held by big allocations.", func(s Stats) float64 { return float64(s.BigBytes) }),
			gauge("defers_active", "Registered deferred callbacks.", func(s Stats) float64 { return float64(s.Defers) }),
			gauge("utilization_ratio", "Bump-allocated bytes over page capacity.", Stats.Utilization),
		},
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.metrics {
		ch <- m.desc
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Stats()
	for _, m := range c.metrics {
		ch <- prometheus.MustNewConstMetric(m.desc, prometheus.GaugeValue, m.value(s))
	}
}
