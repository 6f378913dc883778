package client

import (
	"context"
	"sort"
	"time"

	"github.com/ValentinKolb/shmrt/rpc/common"
	"github.com/ValentinKolb/shmrt/rpc/transport"
	"github.com/rcrowley/go-metrics"
)

// MetricsReporter posts the content of a metrics registry to the host as
// MetricReport messages.
type MetricsReporter struct {
	channel  transport.IChannel
	registry metrics.Registry
	source   common.Source
	peer     uint16
	interval time.Duration
}

func NewMetricsReporter(channel transport.IChannel, registry metrics.Registry, peer uint16, interval time.Duration) *MetricsReporter {
	return &MetricsReporter{
		channel:  channel,
		registry: registry,
		source:   common.SourceWorker,
		peer:     peer,
		interval: interval,
	}
}

// Collect converts the registry into metrics, sorted by name.
//
// Counters and meters are sent as running totals. Gauges are sent as they
// are. Timers and histograms contribute a total of samples plus the mean of
// the current window as one histogram observation, timers in seconds.
func (r *MetricsReporter) Collect() []common.Metric {
	var out []common.Metric
	add := func(name string, kind common.MetricKind, v float64) {
		out = append(out, common.Metric{Name: name, Kind: kind, Value: v})
	}

	r.registry.Each(func(name string, i interface{}) {
		switch m := i.(type) {
		case metrics.Counter:
			add(name, common.MetricCounter, float64(m.Count()))
		case metrics.Gauge:
			add(name, common.MetricGauge, float64(m.Value()))
		case metrics.GaugeFloat64:
			add(name, common.MetricGauge, m.Value())
		case metrics.Meter:
			add(name, common.MetricCounter, float64(m.Count()))
		case metrics.Timer:
			s := m.Snapshot()
			add(name+"_count", common.MetricCounter, float64(s.Count()))
			if s.Count() > 0 {
				add(name+"_seconds", common.MetricHistogram, s.Mean()/float64(time.Second))
			}
		case metrics.Histogram:
			s := m.Snapshot()
			add(name+"_count", common.MetricCounter, float64(s.Count()))
			if s.Count() > 0 {
				add(name, common.MetricHistogram, s.Mean())
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Report posts one MetricReport. An empty registry posts nothing.
func (r *MetricsReporter) Report() error {
	collected := r.Collect()
	if len(collected) == 0 {
		return nil
	}
	return r.channel.Post(&common.MetricReport{Source: r.source, PeerID: r.peer, Metrics: collected})
}

// Run reports every interval until ctx is done. Failed reports are logged.
func (r *MetricsReporter) Run(ctx context.Context) error {
	if r.interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.Report(); err != nil {
				Logger.Warningf("failed to report metrics: %v", err)
			}
		}
	}
}
