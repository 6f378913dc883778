package server

import (
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/shmrt/rpc/common"
	"github.com/ValentinKolb/shmrt/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Metrics sink
// --------------------------------------------------------------------------

// metricsSink collects host request metrics and the metric reports of workers
// in one set, exposed in the Prometheus text format.
type metricsSink struct {
	set    *metrics.Set
	gauges *xsync.MapOf[string, *atomic.Uint64]
	totals *xsync.MapOf[string, float64]
}

func newMetricsSink() *metricsSink {
	return &metricsSink{
		set:    metrics.NewSet(),
		gauges: xsync.NewMapOf[string, *atomic.Uint64](),
		totals: xsync.NewMapOf[string, float64](),
	}
}

// requestDone records one handled request.
func (s *metricsSink) requestDone(kind common.MessageKind, start time.Time, failed bool) {
	s.set.GetOrCreateCounter(fmt.Sprintf(`shmrt_host_requests_total{kind=%q}`, kind.String())).Inc()
	s.set.GetOrCreateHistogram(fmt.Sprintf(`shmrt_host_request_duration_seconds{kind=%q}`, kind.String())).
		Update(time.Since(start).Seconds())
	if failed {
		s.set.GetOrCreateCounter(fmt.Sprintf(`shmrt_host_request_errors_total{kind=%q}`, kind.String())).Inc()
	}
}

// record stores a worker report. Counters carry the running total of the
// worker, gauges the current value, histograms one sample.
func (s *metricsSink) record(report *common.MetricReport) {
	for _, m := range report.Metrics {
		name := reportedName(report.Source, report.PeerID, m.Name)
		switch m.Kind {
		case common.MetricCounter:
			if delta := s.counterDelta(name, m.Value); delta > 0 {
				s.set.GetOrCreateFloatCounter(name).Add(delta)
			}
		case common.MetricGauge:
			s.gauge(name).Store(math.Float64bits(m.Value))
		case common.MetricHistogram:
			s.set.GetOrCreateHistogram(name).Update(m.Value)
		default:
			Logger.Warningf("metric %q from peer %d has unknown kind %s", m.Name, report.PeerID, m.Kind)
		}
	}
}

// counterDelta returns the increase of a reported total. A total below the
// previous one means the worker restarted and counts from zero.
func (s *metricsSink) counterDelta(name string, total float64) float64 {
	var delta float64
	s.totals.Compute(name, func(last float64, loaded bool) (float64, bool) {
		if !loaded || total < last {
			delta = total
		} else {
			delta = total - last
		}
		return total, false
	})
	return delta
}

func (s *metricsSink) gauge(name string) *atomic.Uint64 {
	v, _ := s.gauges.LoadOrCompute(name, func() *atomic.Uint64 {
		v := &atomic.Uint64{}
		s.set.GetOrCreateGauge(name, func() float64 { return math.Float64frombits(v.Load()) })
		return v
	})
	return v
}

// watchChannel exposes the channel counters.
func (s *metricsSink) watchChannel(ch transport.IChannel) {
	s.set.GetOrCreateGauge("shmrt_channel_pending_calls", func() float64 { return float64(ch.Stats().Pending) })
	s.set.GetOrCreateGauge("shmrt_channel_outbox", func() float64 { return float64(ch.Stats().Outbox) })
	s.set.GetOrCreateGauge("shmrt_channel_messages_sent", func() float64 { return float64(ch.Stats().Sent) })
	s.set.GetOrCreateGauge("shmrt_channel_messages_received", func() float64 { return float64(ch.Stats().Received) })
	s.set.GetOrCreateGauge("shmrt_channel_unknown_tokens", func() float64 { return float64(ch.Stats().UnknownTokens) })
	s.set.GetOrCreateGauge("shmrt_channel_protocol_errors", func() float64 { return float64(ch.Stats().ProtocolErrors) })
}

// watchTxns exposes the number of open transactions.
func (s *metricsSink) watchTxns(txns *txnTable) {
	s.set.GetOrCreateGauge("shmrt_host_open_transactions", func() float64 { return float64(txns.size()) })
}

func (s *metricsSink) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	s.set.WritePrometheus(w)
	metrics.WriteProcessMetrics(w)
}

// reportedName builds a valid metric name for a reported metric.
func reportedName(source common.Source, peer uint16, name string) string {
	return fmt.Sprintf(`shmrt_%s_%s{peer="%d"}`, source, sanitizeMetricName(name), peer)
}

func sanitizeMetricName(name string) string {
	if name == "" {
		return "unnamed"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
