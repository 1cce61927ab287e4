package syncer

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report sync activity.
type Metrics struct {
	reg *prometheus.Registry

	pulls          *prometheus.CounterVec
	pullDuration   prometheus.Histogram
	pushes         *prometheus.CounterVec
	mergeConflicts prometheus.Counter
	pendingActions prometheus.Gauge
}

// NewMetrics registers the sync collectors on a private registry. A client
// process has no scrape endpoint; the registry is read back by Write.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		pulls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gtodo",
				Subsystem: "sync",
				Name:      "pulls_total",
				Help:      "Remote fetches by result.",
			},
			[]string{"result"},
		),
		pullDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "gtodo",
				Subsystem: "sync",
				Name:      "pull_duration_seconds",
				Help:      "Time spent fetching the remote task list.",
				Buckets:   prometheus.DefBuckets,
			},
		),
		pushes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gtodo",
				Subsystem: "sync",
				Name:      "push_attempts_total",
				Help:      "Push attempts by outcome.",
			},
			[]string{"outcome"},
		),
		mergeConflicts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "gtodo",
				Subsystem: "sync",
				Name:      "merge_conflicts_total",
				Help:      "Fetched completion states overridden by unresolved local intent.",
			},
		),
		pendingActions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "gtodo",
				Subsystem: "sync",
				Name:      "pending_actions",
				Help:      "Unresolved actions in the pending log.",
			},
		),
	}
	reg.MustRegister(m.pulls, m.pullDuration, m.pushes, m.mergeConflicts, m.pendingActions)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

func (m *Metrics) observePull(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.pulls.WithLabelValues(result).Inc()
	m.pullDuration.Observe(d.Seconds())
}

func (m *Metrics) incPush(outcome string) {
	if m == nil {
		return
	}
	m.pushes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) addConflicts(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.mergeConflicts.Add(float64(n))
}

func (m *Metrics) setPending(n int) {
	if m == nil {
		return
	}
	m.pendingActions.Set(float64(n))
}

// Write prints counter and gauge values as "name{labels} value" lines.
func (m *Metrics) Write(w io.Writer) error {
	families, err := m.reg.Gather()
	if err != nil {
		return err
	}
	var lines []string
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			name := mf.GetName()
			for _, lp := range metric.GetLabel() {
				name += fmt.Sprintf("{%s=%q}", lp.GetName(), lp.GetValue())
			}
			switch {
			case metric.GetCounter() != nil:
				lines = append(lines, fmt.Sprintf("%s %g", name, metric.GetCounter().GetValue()))
			case metric.GetGauge() != nil:
				lines = append(lines, fmt.Sprintf("%s %g", name, metric.GetGauge().GetValue()))
			case metric.GetHistogram() != nil:
				h := metric.GetHistogram()
				lines = append(lines, fmt.Sprintf("%s_count %d", name, h.GetSampleCount()))
			}
		}
	}
	sort.Strings(lines)
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
